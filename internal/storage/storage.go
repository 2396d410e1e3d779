// Пакет storage — объектное хранилище вложений дефектов.
// Определяет интерфейс Bucket, общие ошибки и метрики; реализации
// находятся в подпакетах remote (Storage REST API) и local (диск).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ошибки хранилища.
var (
	// ErrObjectNotFound — объект отсутствует в бакете.
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	// ErrObjectExists — объект с таким путём уже существует.
	ErrObjectExists = errors.New("объект уже существует в хранилище")
	// ErrInvalidPath — недопустимый путь объекта.
	ErrInvalidPath = errors.New("недопустимый путь объекта")
)

// Bucket — бакет объектного хранилища.
type Bucket interface {
	// Name возвращает имя бакета.
	Name() string
	// CreateSignedURL возвращает URL для чтения объекта, действующий ttl.
	CreateSignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
	// Remove удаляет объекты. Отсутствующие объекты ошибкой не считаются.
	Remove(ctx context.Context, paths []string) error
	// Upload записывает объект. Существующий объект не перезаписывается.
	Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) error
	// Ping проверяет доступность бакета.
	Ping(ctx context.Context) error
}

// Метрики операций с хранилищем.
var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dr_storage_operations_total",
			Help: "Количество операций с объектным хранилищем",
		},
		[]string{"backend", "operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dr_storage_operation_duration_seconds",
			Help:    "Длительность операций с объектным хранилищем в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Observe регистрирует результат операции хранилища в метриках.
func Observe(backend, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(backend, operation, result).Inc()
	operationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// ValidatePath проверяет, что путь объекта относительный, непустой
// и не выходит за пределы бакета.
func ValidatePath(objectPath string) error {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	if path.Clean(objectPath) != objectPath || !filepath.IsLocal(filepath.FromSlash(objectPath)) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return nil
}

// ObjectKey формирует путь нового объекта: {defectID}/{collection}/{uuid}_{name}.
func ObjectKey(defectID int64, collection, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	name := sanitize(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("%d/%s/%s_%s%s", defectID, collection, uuid.New().String(), name, sanitizeExt(ext))
}

// sanitize оставляет в имени только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	clean := sanitize(ext[1:])
	if clean == "file" && ext != ".file" {
		return ""
	}
	return "." + clean
}

// ReadinessChecker — проверка готовности хранилища для health endpoint.
type ReadinessChecker struct {
	bucket Bucket
}

// NewReadinessChecker создаёт проверку готовности бакета.
func NewReadinessChecker(bucket Bucket) *ReadinessChecker {
	return &ReadinessChecker{bucket: bucket}
}

// CheckReady проверяет доступность бакета.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.bucket.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	return "ok", fmt.Sprintf("бакет %s доступен", c.bucket.Name())
}
