package openapi

import (
	"context"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Version() != "1.0.0" {
		t.Errorf("Version = %q", doc.Version())
	}
	if len(doc.Raw()) == 0 {
		t.Error("пустой контракт")
	}
}

func TestValidateBody_DefectInput(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"минимальный", `{"vessel_id":"v1"}`, ""},
		{"полный", `{"vessel_id":"v1","Status (Vessel)":"IN PROGRESS","Criticality":"High","Date Reported":"2024-03-01","Date Completed":""}`, ""},
		{"без судна", `{"Description":"течь"}`, "vessel_id"},
		{"неизвестный статус", `{"vessel_id":"v1","Status (Vessel)":"DONE"}`, "Status (Vessel)"},
		{"неверная дата", `{"vessel_id":"v1","Date Reported":"01.03.2024"}`, "Date Reported"},
		{"лишнее поле", `{"vessel_id":"v1","owner":"x"}`, "owner"},
		{"не JSON", `{`, "некорректный JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := doc.ValidateBody(SchemaDefectInput, []byte(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ошибка %q не содержит %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateBody_UnknownSchema(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.ValidateBody("Nope", []byte(`{}`)); err == nil {
		t.Error("ожидалась ошибка для неизвестной схемы")
	}
}
