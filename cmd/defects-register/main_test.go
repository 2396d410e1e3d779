package main

import (
	"errors"
	"testing"

	"github.com/bigkaa/defects-register/internal/domain/filter"
	"github.com/bigkaa/defects-register/internal/domain/view"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "migrate", "reconcile", "export"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("команда %q не найдена: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("env-file") == nil {
		t.Error("нет флага --env-file")
	}
	if root.RunE == nil {
		t.Error("корневая команда должна выполнять serve")
	}
}

func TestExportFlags_Criteria(t *testing.T) {
	f := &exportFlags{
		vessels: []string{"v1", "v2"},
		from:    "2024-01-01",
		to:      "2024-01-31",
		search:  "pump",
		status:  "OPEN",
		sort:    view.KeyVessel,
		dir:     "asc",
	}
	c, spec, err := f.criteria()
	if err != nil {
		t.Fatalf("criteria: %v", err)
	}
	if len(c.Vessels) != 2 || c.Search != "pump" || c.Range.From != "2024-01-01" {
		t.Errorf("criteria = %+v", c)
	}
	if spec.Key != view.KeyVessel || spec.Direction != view.Asc {
		t.Errorf("sort = %+v", spec)
	}

	defaults, spec, err := (&exportFlags{}).criteria()
	if err != nil || spec != view.DefaultSort() || len(defaults.Vessels) != 0 {
		t.Errorf("значения по умолчанию: %+v %+v %v", defaults, spec, err)
	}
}

func TestExportFlags_Invalid(t *testing.T) {
	_, _, err := (&exportFlags{from: "2024-02-01", to: "2024-01-01"}).criteria()
	if !errors.Is(err, filter.ErrInvalidDateRange) {
		t.Errorf("ожидалась ErrInvalidDateRange, получено %v", err)
	}
	if _, _, err := (&exportFlags{status: "DONE"}).criteria(); err == nil {
		t.Error("ожидалась ошибка для неизвестного статуса")
	}
	if _, _, err := (&exportFlags{sort: "bogus"}).criteria(); err == nil {
		t.Error("ожидалась ошибка для неизвестного ключа сортировки")
	}
}
