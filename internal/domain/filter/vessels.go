// Пакет filter — фильтры заголовка страницы: выбор судов, диапазон дат,
// поиск, статус и критичность.
package filter

import (
	"fmt"
	"slices"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// AllVesselsLabel — подпись селектора, когда выбраны все суда.
const AllVesselsLabel = "All Vessels"

// VesselSelection — множество выбранных идентификаторов судов.
// Пустое множество означает «все суда».
type VesselSelection []string

// Toggle возвращает новое множество: пустой id («All Vessels») очищает выбор,
// иначе id добавляется или удаляется.
func (s VesselSelection) Toggle(id string) VesselSelection {
	if id == "" {
		return VesselSelection{}
	}
	if s.Contains(id) {
		result := make(VesselSelection, 0, len(s)-1)
		for _, v := range s {
			if v != id {
				result = append(result, v)
			}
		}
		return result
	}
	result := make(VesselSelection, 0, len(s)+1)
	result = append(result, s...)
	return append(result, id)
}

// Contains проверяет, выбран ли id.
func (s VesselSelection) Contains(id string) bool {
	return slices.Contains(s, id)
}

// IsAll — true, если фильтр по судам не задан.
func (s VesselSelection) IsAll() bool {
	return len(s) == 0
}

// Label возвращает текст селектора судов.
func (s VesselSelection) Label(vessels []model.Vessel) string {
	switch len(s) {
	case 0:
		return AllVesselsLabel
	case 1:
		for _, v := range vessels {
			if v.ID == s[0] {
				return v.Name
			}
		}
		return AllVesselsLabel
	default:
		return fmt.Sprintf("%d Vessels Selected", len(s))
	}
}

// Names возвращает имена выбранных судов (неизвестные id — как есть).
func (s VesselSelection) Names(vessels []model.Vessel) []string {
	byID := make(map[string]string, len(vessels))
	for _, v := range vessels {
		byID[v.ID] = v.Name
	}
	names := make([]string, 0, len(s))
	for _, id := range s {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		} else {
			names = append(names, id)
		}
	}
	return names
}
