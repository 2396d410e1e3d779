package storage

import (
	"errors"
	"regexp"
	"testing"
)

func TestValidatePath(t *testing.T) {
	valid := []string{"1/initial/a.jpg", "report.pdf", "a/b/c/d.txt"}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v", p, err)
		}
	}

	invalid := []string{"", "/etc/passwd", "../secret", "a/../../b", "a//b", "a/./b", `a\b`, "a/"}
	for _, p := range invalid {
		if err := ValidatePath(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidatePath(%q) = %v, ожидалась ErrInvalidPath", p, err)
		}
	}
}

func TestObjectKey(t *testing.T) {
	re := regexp.MustCompile(`^42/initial/[0-9a-f-]{36}_([A-Za-z0-9_-]+)(\.[a-z0-9]+)?$`)

	tests := []struct {
		filename string
		name     string
		ext      string
	}{
		{"Engine Room.JPG", "EngineRoom", ".jpg"},
		{"../../etc/passwd", "passwd", ""},
		{"отчёт.pdf", "file", ".pdf"},
	}
	for _, tt := range tests {
		key := ObjectKey(42, "initial", tt.filename)
		m := re.FindStringSubmatch(key)
		if m == nil {
			t.Errorf("ObjectKey(%q) = %q: неожиданный формат", tt.filename, key)
			continue
		}
		if m[1] != tt.name || m[2] != tt.ext {
			t.Errorf("ObjectKey(%q) = %q, ожидались имя %q и расширение %q", tt.filename, key, tt.name, tt.ext)
		}
		if err := ValidatePath(key); err != nil {
			t.Errorf("ObjectKey(%q) дал недопустимый путь: %v", tt.filename, err)
		}
	}

	if ObjectKey(1, "initial", "a.jpg") == ObjectKey(1, "initial", "a.jpg") {
		t.Error("ObjectKey() вернул одинаковые ключи для двух загрузок")
	}
}
