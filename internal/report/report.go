// Пакет report — печатный HTML-отчёт по дефекту.
// Документ собирается templ-компонентами (report.templ): поля записи, списки файлов
// обеих коллекций и превью изображений по подписанным URL.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/bigkaa/defects-register/internal/domain/model"
)

// Placeholder — значение незаполненного поля.
const Placeholder = "-"

// HTMLGenerator формирует HTML-отчёт.
type HTMLGenerator struct{}

// NewHTMLGenerator создаёт генератор HTML-отчётов.
func NewHTMLGenerator() *HTMLGenerator {
	return &HTMLGenerator{}
}

// ContentType возвращает MIME-тип отчёта.
func (g *HTMLGenerator) ContentType() string {
	return "text/html; charset=utf-8"
}

// Extension возвращает расширение файла отчёта.
func (g *HTMLGenerator) Extension() string {
	return ".html"
}

// Generate записывает отчёт по записи d в w.
// imageURLs — подписанные ссылки на изображения (путь объекта → URL).
func (g *HTMLGenerator) Generate(ctx context.Context, w io.Writer, d *model.Defect, imageURLs map[string]string) error {
	if err := Document(d, imageURLs).Render(ctx, w); err != nil {
		return fmt.Errorf("рендеринг отчёта: %w", err)
	}
	return nil
}

// field — строка таблицы полей отчёта.
type field struct {
	Label string
	Value string
}

// fieldRows — поля записи в порядке вывода; пустая критичность выводится как N/A.
func fieldRows(d *model.Defect) []field {
	criticality := string(d.Criticality)
	if criticality == "" {
		criticality = "N/A"
	}
	return []field{
		{"Vessel", d.VesselName},
		{"Status", string(d.Status)},
		{"Criticality", criticality},
		{"Equipment", d.Equipments},
		{"Description", d.Description},
		{"Action Planned", d.ActionPlanned},
		{"Comments", d.Comments},
		{"Date Reported", d.DateReported},
		{"Date Completed", d.DateCompleted},
	}
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}
