// Пакет openapi — встроенный OpenAPI контракт Defects Register API.
// Контракт загружается и валидируется при старте; схемы компонентов
// используются для проверки тел запросов.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.json
var rawSpec []byte

// Имена схем тел запросов.
const (
	SchemaDefectInput      = "DefectInput"
	SchemaSignedURLRequest = "SignedURLRequest"
)

// Document — загруженный и проверенный контракт.
type Document struct {
	doc *openapi3.T
}

// Load разбирает встроенный контракт и проверяет его корректность.
func Load(ctx context.Context) (*Document, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI контракта: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Raw возвращает исходный JSON контракта.
func (d *Document) Raw() []byte {
	return rawSpec
}

// Version возвращает версию API из info.version.
func (d *Document) Version() string {
	if d.doc.Info == nil {
		return ""
	}
	return d.doc.Info.Version
}

// ValidateBody проверяет JSON-тело по схеме компонента name.
// Ошибки разбора и несоответствия схеме возвращаются одним сообщением.
func (d *Document) ValidateBody(name string, body []byte) error {
	ref, ok := d.doc.Components.Schemas[name]
	if !ok || ref.Value == nil {
		return fmt.Errorf("схема %q не найдена в контракте", name)
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("некорректный JSON: %w", err)
	}

	if err := ref.Value.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return errors.New(describe(err))
	}
	return nil
}

// describe сворачивает ошибки валидации схемы в краткое сообщение.
func describe(err error) string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		msgs := make([]string, 0, len(multi))
		for _, e := range multi {
			msgs = append(msgs, describe(e))
		}
		return strings.Join(msgs, "; ")
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if path := schemaErr.JSONPointer(); len(path) > 0 {
			return fmt.Sprintf("%s: %s", strings.Join(path, "."), schemaErr.Reason)
		}
		return schemaErr.Reason
	}
	return err.Error()
}
