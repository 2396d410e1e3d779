// Пакет local — дисковое хранилище вложений с подписанными URL.
// Запись: temp файл → запись + SHA-256 → fsync → hard link на итоговый путь.
// Подписанный URL содержит HS256 JWT (sub — путь, aud — бакет, exp).
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/defects-register/internal/storage"
)

const backendName = "local"

// SignPathPrefix — префикс маршрута выдачи подписанных объектов.
const SignPathPrefix = "/storage/v1/object/sign/"

// Store — бакет на локальном диске.
type Store struct {
	dataDir    string
	bucket     string
	publicURL  string
	signingKey []byte
	now        func() time.Time
	logger     *slog.Logger
}

// SaveResult — результат сохранения объекта.
type SaveResult struct {
	FullPath string
	Size     int64
	Checksum string
}

// New создаёт дисковый бакет. Директория {dataDir}/{bucket} создаётся при необходимости.
func New(dataDir, bucket, publicURL, signingKey string, logger *slog.Logger) (*Store, error) {
	root := filepath.Join(dataDir, bucket)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию бакета %s: %w", root, err)
	}
	return &Store{
		dataDir:    root,
		bucket:     bucket,
		publicURL:  strings.TrimRight(publicURL, "/"),
		signingKey: []byte(signingKey),
		now:        time.Now,
		logger:     logger.With(slog.String("component", "storage_local")),
	}, nil
}

// Name возвращает имя бакета.
func (s *Store) Name() string {
	return s.bucket
}

// fullPath возвращает путь объекта на диске после проверки пути.
func (s *Store) fullPath(objectPath string) (string, error) {
	if err := storage.ValidatePath(objectPath); err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, filepath.FromSlash(objectPath)), nil
}

// Upload записывает объект. Существующий объект не перезаписывается.
func (s *Store) Upload(_ context.Context, objectPath string, r io.Reader, _ string) (err error) {
	start := time.Now()
	defer func() { storage.Observe(backendName, "upload", start, err) }()

	res, err := s.Save(objectPath, r)
	if err != nil {
		return err
	}
	s.logger.Debug("Объект сохранён",
		slog.String("path", objectPath),
		slog.Int64("size", res.Size),
		slog.String("checksum", res.Checksum),
	)
	return nil
}

// Save записывает данные из reader на диск с подсчётом SHA-256 на лету.
// Существующий объект — ErrObjectExists, в том числе при гонке двух записей.
// temp файл удаляется в любом случае.
func (s *Store) Save(objectPath string, reader io.Reader) (*SaveResult, error) {
	full, err := s.fullPath(objectPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории объекта: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(full), ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// link, в отличие от rename, не заменяет существующий объект.
	err = os.Link(tmpPath, full)
	os.Remove(tmpPath)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectExists, objectPath)
		}
		return nil, fmt.Errorf("ошибка публикации объекта: %w", err)
	}

	return &SaveResult{
		FullPath: full,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения. Вызывающий код обязан закрыть файл.
func (s *Store) Open(objectPath string) (*os.File, error) {
	full, err := s.fullPath(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectPath)
		}
		return nil, fmt.Errorf("ошибка открытия объекта %s: %w", objectPath, err)
	}
	return f, nil
}

// Remove удаляет объекты с диска. Отсутствующие объекты пропускаются.
func (s *Store) Remove(_ context.Context, paths []string) (err error) {
	start := time.Now()
	defer func() { storage.Observe(backendName, "remove", start, err) }()

	var errs []error
	for _, p := range paths {
		full, err := s.fullPath(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("ошибка удаления объекта %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// objectClaims — claims токена подписанного URL.
type objectClaims struct {
	jwt.RegisteredClaims
}

// CreateSignedURL возвращает URL объекта с HS256-токеном, действующим ttl.
// Для отсутствующего объекта возвращается ErrObjectNotFound.
func (s *Store) CreateSignedURL(_ context.Context, objectPath string, ttl time.Duration) (result string, err error) {
	start := time.Now()
	defer func() { storage.Observe(backendName, "sign", start, err) }()

	full, err := s.fullPath(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectPath)
		}
		return "", fmt.Errorf("ошибка проверки объекта %s: %w", objectPath, err)
	}

	now := s.now()
	claims := objectClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   objectPath,
		Audience:  jwt.ClaimStrings{s.bucket},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return fmt.Sprintf("%s%s%s/%s?token=%s",
		s.publicURL, SignPathPrefix, url.PathEscape(s.bucket),
		escapePath(objectPath), url.QueryEscape(token)), nil
}

// VerifyToken проверяет токен подписанного URL для объекта objectPath.
func (s *Store) VerifyToken(tokenString, objectPath string) error {
	claims := &objectClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.bucket),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("недействительный токен: %w", err)
	}
	if claims.Subject != objectPath {
		return fmt.Errorf("недействительный токен: выдан для другого объекта")
	}
	return nil
}

// Ping проверяет доступность директории бакета.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return fmt.Errorf("директория бакета недоступна: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", s.dataDir)
	}
	return nil
}

// escapePath экранирует каждый сегмент пути объекта.
func escapePath(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
