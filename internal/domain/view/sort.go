// Пакет view — производное представление реестра: сортировка записей
// и явное состояние UI (раскрытые строки, сортировка, фильтры).
package view

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// Direction — направление сортировки.
type Direction string

// Направления сортировки.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Ключи сортировки — JSON-имена полей записи.
const (
	KeyID              = "id"
	KeyVessel          = "vessel_name"
	KeyStatus          = "Status (Vessel)"
	KeyCriticality     = "Criticality"
	KeyEquipment       = "Equipments"
	KeyDescription     = "Description"
	KeyActionPlanned   = "Action Planned"
	KeyComments        = "Comments"
	KeyClosureComments = "closure_comments"
	KeyDateReported    = "Date Reported"
	KeyDateCompleted   = "Date Completed"
)

// Column — колонка таблицы реестра.
type Column struct {
	Key   string
	Label string
}

// Columns — сортируемые колонки таблицы в порядке отображения.
var Columns = []Column{
	{KeyVessel, "Vessel"},
	{KeyStatus, "Status"},
	{KeyCriticality, "Criticality"},
	{KeyEquipment, "Equipment"},
	{KeyDescription, "Description"},
	{KeyActionPlanned, "Action Planned"},
	{KeyDateReported, "Reported"},
	{KeyDateCompleted, "Completed"},
}

// Ошибки разбора сортировки.
var (
	ErrUnknownSortKey   = errors.New("неизвестный ключ сортировки")
	ErrInvalidDirection = errors.New("недопустимое направление сортировки")
)

// SortSpec — ключ и направление сортировки.
type SortSpec struct {
	Key       string
	Direction Direction
}

// DefaultSort — сортировка по умолчанию: дата регистрации, по убыванию.
func DefaultSort() SortSpec {
	return SortSpec{Key: KeyDateReported, Direction: Desc}
}

// Toggle возвращает новую спецификацию: тот же ключ — смена направления,
// новый ключ — по возрастанию.
func (s SortSpec) Toggle(key string) SortSpec {
	if s.Key == key {
		if s.Direction == Asc {
			return SortSpec{Key: key, Direction: Desc}
		}
		return SortSpec{Key: key, Direction: Asc}
	}
	return SortSpec{Key: key, Direction: Asc}
}

// ParseSortSpec разбирает ключ и направление из внешнего ввода.
// Пустой ключ — сортировка по умолчанию, пустое направление — asc.
func ParseSortSpec(key, dir string) (SortSpec, error) {
	if key == "" {
		if dir != "" {
			return SortSpec{}, fmt.Errorf("%w: направление без ключа", ErrInvalidDirection)
		}
		return DefaultSort(), nil
	}
	if !IsSortable(key) {
		return SortSpec{}, fmt.Errorf("%w: %q", ErrUnknownSortKey, key)
	}
	switch Direction(dir) {
	case "", Asc:
		return SortSpec{Key: key, Direction: Asc}, nil
	case Desc:
		return SortSpec{Key: key, Direction: Desc}, nil
	default:
		return SortSpec{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
}

// IsSortable проверяет, поддерживается ли ключ сортировки.
func IsSortable(key string) bool {
	switch key {
	case KeyID, KeyVessel, KeyStatus, KeyCriticality, KeyEquipment, KeyDescription,
		KeyActionPlanned, KeyComments, KeyClosureComments, KeyDateReported, KeyDateCompleted:
		return true
	}
	return false
}

// valueKind — способ сравнения значений поля.
type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindDate
)

// sortValue — извлечённое значение поля записи.
type sortValue struct {
	present bool
	kind    valueKind
	s       string
	n       float64
	t       time.Time
	// validDate — false для непарсируемой даты.
	validDate bool
}

// dateLayouts — форматы, в которых принимаются даты записей.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Sorted возвращает отсортированную копию записей. Исходный срез не изменяется.
//
// Правила:
//   - отсутствующие значения (пустая строка, нулевой id) всегда после
//     присутствующих, независимо от направления;
//   - ключи, содержащие "Date", сравниваются как даты; непарсируемая дата
//     больше любой корректной;
//   - строки сравниваются с учётом локали, числа — по значению;
//   - сортировка стабильная.
func Sorted(records []model.Defect, spec SortSpec) []model.Defect {
	type item struct {
		rec model.Defect
		val sortValue
	}

	items := make([]item, len(records))
	for i := range records {
		items[i] = item{rec: records[i], val: extract(&records[i], spec.Key)}
	}

	// collate.Collator не потокобезопасен — создаётся на каждый вызов.
	col := collate.New(language.English)
	slices.SortStableFunc(items, func(a, b item) int {
		return compareValues(col, a.val, b.val, spec.Direction)
	})

	out := make([]model.Defect, len(items))
	for i := range items {
		out[i] = items[i].rec
	}
	return out
}

// compareValues сравнивает два значения поля с учётом направления.
// Отсутствующие значения обрабатываются до применения направления.
func compareValues(col *collate.Collator, a, b sortValue, dir Direction) int {
	if !a.present && !b.present {
		return 0
	}
	if !a.present {
		return 1
	}
	if !b.present {
		return -1
	}

	var c int
	switch a.kind {
	case kindDate:
		c = compareDates(a, b)
	case kindNumber:
		c = cmp.Compare(a.n, b.n)
	default:
		c = col.CompareString(a.s, b.s)
	}

	if dir == Desc {
		return -c
	}
	return c
}

// compareDates сравнивает даты; непарсируемая дата больше любой корректной.
func compareDates(a, b sortValue) int {
	switch {
	case !a.validDate && !b.validDate:
		return 0
	case !a.validDate:
		return 1
	case !b.validDate:
		return -1
	}
	return a.t.Compare(b.t)
}

// extract возвращает значение поля key записи d.
func extract(d *model.Defect, key string) sortValue {
	if key == KeyID {
		return sortValue{present: d.ID != 0, kind: kindNumber, n: float64(d.ID)}
	}

	raw := fieldString(d, key)
	if raw == "" {
		return sortValue{}
	}

	if strings.Contains(key, "Date") {
		v := sortValue{present: true, kind: kindDate}
		v.t, v.validDate = parseDate(raw)
		return v
	}
	return sortValue{present: true, kind: kindString, s: raw}
}

// fieldString возвращает строковое значение поля по JSON-ключу.
func fieldString(d *model.Defect, key string) string {
	switch key {
	case KeyVessel:
		return d.VesselName
	case KeyStatus:
		return string(d.Status)
	case KeyCriticality:
		return string(d.Criticality)
	case KeyEquipment:
		return d.Equipments
	case KeyDescription:
		return d.Description
	case KeyActionPlanned:
		return d.ActionPlanned
	case KeyComments:
		return d.Comments
	case KeyClosureComments:
		return d.ClosureComments
	case KeyDateReported:
		return d.DateReported
	case KeyDateCompleted:
		return d.DateCompleted
	case KeyID:
		return strconv.FormatInt(d.ID, 10)
	}
	return ""
}

// parseDate разбирает дату записи в одном из поддерживаемых форматов.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
