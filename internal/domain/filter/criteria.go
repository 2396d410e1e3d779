package filter

import (
	"fmt"
	"strings"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// Criteria — полный набор фильтров списка дефектов.
type Criteria struct {
	Vessels     VesselSelection
	Range       DateRange
	Search      string
	Status      string
	Criticality string
}

// Validate проверяет значения фильтров.
func (c Criteria) Validate() error {
	if err := c.Range.Validate(); err != nil {
		return err
	}
	if c.Status != "" && !model.Status(c.Status).Valid() {
		return fmt.Errorf("недопустимый статус %q", c.Status)
	}
	if !model.Criticality(c.Criticality).Valid() {
		return fmt.Errorf("недопустимая критичность %q", c.Criticality)
	}
	return nil
}

// Metadata — метаданные фильтров, сопровождающие CSV-экспорт.
type Metadata struct {
	Search      string
	Status      string
	Criticality string
	Vessels     []string
	DateRange   string
}

// Metadata формирует метаданные экспорта. vessels используется для
// преобразования id выбранных судов в имена.
func (c Criteria) Metadata(vessels []model.Vessel) Metadata {
	return Metadata{
		Search:      strings.TrimSpace(c.Search),
		Status:      c.Status,
		Criticality: c.Criticality,
		Vessels:     c.Vessels.Names(vessels),
		DateRange:   c.Range.Label(),
	}
}
