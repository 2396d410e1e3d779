// Пакет pages — templ-компоненты страниц UI реестра дефектов.
// helpers.go — данные страниц и вспомогательные функции шаблонов.
package pages

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/model"
	"github.com/bigkaa/defects-register/internal/domain/view"
	"github.com/bigkaa/defects-register/internal/notify"
)

// Значения пустых ячеек таблицы.
const (
	EmptyValue       = "-"
	EmptyCriticality = "N/A"
	NoDefectsMessage = "No defects found"
)

// RegisterData — данные главной страницы.
type RegisterData struct {
	State     view.State
	Vessels   []model.Vessel
	Defects   []model.Defect
	UserEmail string
	Toasts    []notify.Notification
	// Now — опорное время пресетов диапазона дат.
	Now time.Time
}

// ViewerData — данные страницы просмотра файла.
type ViewerData struct {
	DefectID  int64
	File      model.AttachedFile
	SignedURL string
	BackHref  string
	Toasts    []notify.Notification
}

var (
	statusValues = []string{
		string(model.StatusOpen), string(model.StatusInProgress), string(model.StatusClosed),
	}
	criticalityValues = []string{
		string(model.CriticalityHigh), string(model.CriticalityMedium), string(model.CriticalityLow),
	}
)

// columnCount — число колонок: раскрытие, индекс, поля, действия.
func columnCount() int {
	return len(view.Columns) + 3
}

// sortIcon — иконка направления для активной колонки, нейтральная для остальных.
func sortIcon(spec view.SortSpec, key string) string {
	if spec.Key != key {
		return `&#8597;`
	}
	if spec.Direction == view.Asc {
		return `&#9650;`
	}
	return `&#9660;`
}

// cellText — текст ячейки колонки key; статус выводится бейджем отдельно.
func cellText(d *model.Defect, key string) string {
	switch key {
	case view.KeyVessel:
		return orEmpty(d.VesselName)
	case view.KeyStatus:
		return string(d.Status)
	case view.KeyCriticality:
		return criticalityLabel(d.Criticality)
	case view.KeyEquipment:
		return orEmpty(d.Equipments)
	case view.KeyDescription:
		return orEmpty(d.Description)
	case view.KeyActionPlanned:
		return orEmpty(d.ActionPlanned)
	case view.KeyDateReported:
		return orEmpty(d.DateReported)
	case view.KeyDateCompleted:
		return orEmpty(d.DateCompleted)
	}
	return ""
}

func criticalityLabel(c model.Criticality) string {
	if c == "" {
		return EmptyCriticality
	}
	return string(c)
}

func badgeClass(s model.Status) string {
	return "badge-" + strings.ToLower(strings.ReplaceAll(string(s), " ", "-"))
}

func toastClass(s notify.Severity) string {
	return "toast-" + string(s)
}

func userLabel(email string) string {
	if email == "" {
		return "Guest"
	}
	return email
}

func rowID(d *model.Defect) string {
	return fmt.Sprintf("defect-%d", d.ID)
}

func toggleIcon(expanded bool) string {
	if expanded {
		return `&#9662;`
	}
	return `&#9656;`
}

// defectPath — путь UI-действия над записью: /ui/defects/{id}{suffix}.
func defectPath(d *model.Defect, suffix string) string {
	return fmt.Sprintf("/ui/defects/%d%s", d.ID, suffix)
}

// fileViewHref — ссылка на просмотр вложения с сохранением состояния.
func fileViewHref(s view.State, d *model.Defect, f model.AttachedFile) string {
	return withState(defectPath(d, "/files/view"), s, url.Values{"path": {f.Path}})
}

// withState добавляет к path query-параметры состояния и extra.
func withState(path string, s view.State, extra url.Values) string {
	q := s.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func orEmpty(s string) string {
	if s == "" {
		return EmptyValue
	}
	return s
}

// hiddenField — скрытое поле формы.
type hiddenField struct {
	Name  string
	Value string
}

// stateFields — скрытые поля для параметров q, кроме skip, в порядке имён.
func stateFields(q url.Values, skip ...string) []hiddenField {
	var fields []hiddenField
	for _, name := range slices.Sorted(maps.Keys(q)) {
		if slices.Contains(skip, name) {
			continue
		}
		for _, v := range q[name] {
			fields = append(fields, hiddenField{Name: name, Value: v})
		}
	}
	return fields
}

// presetLink — пункт списка пресетов диапазона дат.
type presetLink struct {
	Label    string
	Href     string
	Selected bool
}

// presetLinks — пресеты относительно now; выбранным отмечается совпадающий
// с текущим диапазон.
func presetLinks(s view.State, now time.Time) []presetLink {
	links := make([]presetLink, 0, len(filter.Presets))
	for _, preset := range filter.Presets {
		r, err := filter.ApplyPreset(preset.Preset, now)
		if err != nil {
			continue
		}
		links = append(links, presetLink{
			Label:    preset.Label,
			Href:     s.WithDateRange(r).Href("/"),
			Selected: r == s.Criteria.Range,
		})
	}
	return links
}
