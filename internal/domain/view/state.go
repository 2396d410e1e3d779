package view

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/model"
)

// Имена query-параметров состояния страницы.
const (
	ParamSort        = "sort"
	ParamDir         = "dir"
	ParamOpen        = "open"
	ParamVessel      = "vessel"
	ParamFrom        = "from"
	ParamTo          = "to"
	ParamSearch      = "q"
	ParamStatus      = "status"
	ParamCriticality = "criticality"
)

// State — явное состояние UI реестра: сортировка, раскрытые строки и фильтры.
// Передаётся через query string, каждое действие пользователя порождает
// новое состояние.
type State struct {
	Sort     SortSpec
	Expanded map[int64]bool
	Criteria filter.Criteria
}

// NewState возвращает состояние по умолчанию.
func NewState() State {
	return State{Sort: DefaultSort(), Expanded: map[int64]bool{}}
}

// ParseState разбирает состояние из query string. Некорректные значения
// заменяются значениями по умолчанию: UI не должен падать на старой ссылке.
func ParseState(q url.Values) State {
	s := NewState()

	if spec, err := ParseSortSpec(q.Get(ParamSort), q.Get(ParamDir)); err == nil {
		s.Sort = spec
	}

	for _, raw := range q[ParamOpen] {
		for _, part := range strings.Split(raw, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil && id > 0 {
				s.Expanded[id] = true
			}
		}
	}

	var vessels filter.VesselSelection
	for _, v := range q[ParamVessel] {
		if v != "" && !vessels.Contains(v) {
			vessels = append(vessels, v)
		}
	}
	s.Criteria.Vessels = vessels
	s.Criteria.Range = filter.DateRange{From: q.Get(ParamFrom), To: q.Get(ParamTo)}.Clamp()
	s.Criteria.Search = strings.TrimSpace(q.Get(ParamSearch))

	if status := q.Get(ParamStatus); model.Status(status).Valid() {
		s.Criteria.Status = status
	}
	if crit := q.Get(ParamCriticality); model.Criticality(crit).Valid() {
		s.Criteria.Criticality = crit
	}

	return s
}

// Query кодирует состояние в query-параметры. Значения по умолчанию опускаются.
func (s State) Query() url.Values {
	q := url.Values{}
	if s.Sort != DefaultSort() {
		q.Set(ParamSort, s.Sort.Key)
		q.Set(ParamDir, string(s.Sort.Direction))
	}
	if open := s.ExpandedIDs(); len(open) > 0 {
		parts := make([]string, len(open))
		for i, id := range open {
			parts[i] = strconv.FormatInt(id, 10)
		}
		q.Set(ParamOpen, strings.Join(parts, ","))
	}
	for _, v := range s.Criteria.Vessels {
		q.Add(ParamVessel, v)
	}
	if s.Criteria.Range.From != "" {
		q.Set(ParamFrom, s.Criteria.Range.From)
	}
	if s.Criteria.Range.To != "" {
		q.Set(ParamTo, s.Criteria.Range.To)
	}
	if s.Criteria.Search != "" {
		q.Set(ParamSearch, s.Criteria.Search)
	}
	if s.Criteria.Status != "" {
		q.Set(ParamStatus, s.Criteria.Status)
	}
	if s.Criteria.Criticality != "" {
		q.Set(ParamCriticality, s.Criteria.Criticality)
	}
	return q
}

// Href возвращает относительную ссылку path?query для состояния.
func (s State) Href(path string) string {
	q := s.Query().Encode()
	if q == "" {
		return path
	}
	return path + "?" + q
}

// ExpandedIDs возвращает раскрытые строки в порядке возрастания id.
func (s State) ExpandedIDs() []int64 {
	out := make([]int64, 0, len(s.Expanded))
	for id, open := range s.Expanded {
		if open {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// IsExpanded сообщает, раскрыта ли строка.
func (s State) IsExpanded(id int64) bool {
	return s.Expanded[id]
}

// ToggleExpanded возвращает состояние с переключённой строкой.
func (s State) ToggleExpanded(id int64) State {
	next := s.clone()
	if next.Expanded[id] {
		delete(next.Expanded, id)
	} else {
		next.Expanded[id] = true
	}
	return next
}

// ToggleSort возвращает состояние с переключённой сортировкой.
func (s State) ToggleSort(key string) State {
	next := s.clone()
	next.Sort = s.Sort.Toggle(key)
	return next
}

// ToggleVessel возвращает состояние с переключённым судном ("" — все суда).
func (s State) ToggleVessel(id string) State {
	next := s.clone()
	next.Criteria.Vessels = s.Criteria.Vessels.Toggle(id)
	return next
}

// WithDateRange возвращает состояние с новым диапазоном дат.
func (s State) WithDateRange(r filter.DateRange) State {
	next := s.clone()
	next.Criteria.Range = r.Clamp()
	return next
}

// clone возвращает копию состояния с независимыми коллекциями.
func (s State) clone() State {
	next := s
	next.Expanded = make(map[int64]bool, len(s.Expanded))
	for id, open := range s.Expanded {
		if open {
			next.Expanded[id] = true
		}
	}
	next.Criteria.Vessels = slices.Clone(s.Criteria.Vessels)
	return next
}

// ShowsClosurePanel — раскрытая строка показывает комментарии и файлы
// закрытия тогда и только тогда, когда статус в точности "CLOSED".
func ShowsClosurePanel(d *model.Defect) bool {
	return d.IsClosed()
}
