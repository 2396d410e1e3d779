// Пакет config — загрузка и валидация конфигурации Defects Register
// из переменных окружения (опционально — из .env файла).
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды объектного хранилища.
const (
	// StorageBackendLocal — файлы на локальном диске, подписанные URL через HS256 JWT.
	StorageBackendLocal = "local"
	// StorageBackendRemote — внешний Storage REST API (Supabase-совместимый).
	StorageBackendRemote = "remote"
)

// Config содержит все параметры конфигурации Defects Register.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к файлу логов (пусто — только stdout)
	LogFile string
	// Максимальный размер файла логов до ротации, МБ
	LogMaxSizeMB int
	// Количество сохраняемых ротированных файлов
	LogMaxBackups int
	// Максимальный возраст ротированных файлов, дни
	LogMaxAgeDays int
	// Публичный базовый URL сервиса (для подписанных ссылок local-хранилища)
	PublicURL string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимум соединений пула (DR_DB_MAX_CONNS)
	DBMaxConns int

	// --- Объектное хранилище ---

	// Бэкенд хранилища (local, remote)
	StorageBackend string
	// Имя bucket с вложениями дефектов
	StorageBucket string
	// Базовый URL Storage API (remote)
	StorageURL string
	// Service key для Storage API (remote)
	StorageServiceKey string
	// Путь к CA-сертификату Storage API (remote, опционально)
	StorageCACertPath string
	// Таймаут HTTP-запросов к Storage API
	StorageTimeout time.Duration
	// Корневая директория файлов (local)
	StorageDir string
	// Ключ подписи URL (local)
	StorageSigningKey string
	// Максимальный размер загружаемого файла, байт
	UploadMaxSize int64

	// --- Подписанные URL ---

	// Время жизни подписанного URL
	SignedURLTTL time.Duration
	// Максимальное количество закэшированных URL
	SignedURLCacheSize int

	// --- Reconcile (очистка хранилища) ---

	ReconcileInterval    time.Duration
	ReconcileBatchSize   int
	ReconcileMaxAttempts int

	// --- JWT ---

	// URL JWKS endpoint провайдера (пусто — аутентификация отключена)
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Имя cookie с access token (для браузерных запросов UI)
	AuthCookieName string
	// URL перенаправления после выхода
	LogoutRedirectURL string

	// --- UI ---

	UIEnabled bool

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// LoadEnvFile загружает переменные из .env файла, не перезаписывая уже
// заданные в окружении. Отсутствие файла по умолчанию не является ошибкой.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DR_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DR_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DR_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = os.Getenv("DR_LOG_FILE")
	if cfg.LogMaxSizeMB, err = getEnvInt("DR_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("DR_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("DR_LOG_MAX_BACKUPS", 5); err != nil {
		return nil, fmt.Errorf("DR_LOG_MAX_BACKUPS: %w", err)
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("DR_LOG_MAX_AGE_DAYS", 30); err != nil {
		return nil, fmt.Errorf("DR_LOG_MAX_AGE_DAYS: %w", err)
	}

	cfg.PublicURL = strings.TrimRight(getEnvDefault("DR_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("DR_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("DR_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("DR_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("DR_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("DR_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("DR_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("DR_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DR_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DR_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("DR_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("DR_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("DR_DB_NAME", "defects")
	if cfg.DBUser, err = getEnvRequired("DR_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DR_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.DBMaxConns, err = getEnvInt("DR_DB_MAX_CONNS", 10); err != nil {
		return nil, fmt.Errorf("DR_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("DR_DB_MAX_CONNS: значение должно быть положительным, получено %d", cfg.DBMaxConns)
	}

	// --- Объектное хранилище ---

	cfg.StorageBackend = getEnvDefault("DR_STORAGE_BACKEND", StorageBackendLocal)
	cfg.StorageBucket = getEnvDefault("DR_STORAGE_BUCKET", "defect-files")
	if cfg.StorageTimeout, err = getEnvDuration("DR_STORAGE_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("DR_STORAGE_TIMEOUT: %w", err)
	}

	switch cfg.StorageBackend {
	case StorageBackendRemote:
		if cfg.StorageURL, err = getEnvRequired("DR_STORAGE_URL"); err != nil {
			return nil, err
		}
		cfg.StorageURL = strings.TrimRight(cfg.StorageURL, "/")
		if cfg.StorageServiceKey, err = getEnvRequired("DR_STORAGE_SERVICE_KEY"); err != nil {
			return nil, err
		}
		cfg.StorageCACertPath = os.Getenv("DR_STORAGE_CA_CERT_PATH")
	case StorageBackendLocal:
		cfg.StorageDir = getEnvDefault("DR_STORAGE_DIR", "./data")
		if cfg.StorageSigningKey, err = getEnvRequired("DR_STORAGE_SIGNING_KEY"); err != nil {
			return nil, err
		}
		if len(cfg.StorageSigningKey) < 32 {
			return nil, fmt.Errorf("DR_STORAGE_SIGNING_KEY: ключ должен быть не короче 32 символов")
		}
	default:
		return nil, fmt.Errorf("DR_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, remote", cfg.StorageBackend)
	}

	uploadMaxSize, err := getEnvInt("DR_UPLOAD_MAX_SIZE", 50<<20)
	if err != nil {
		return nil, fmt.Errorf("DR_UPLOAD_MAX_SIZE: %w", err)
	}
	cfg.UploadMaxSize = int64(uploadMaxSize)

	// --- Подписанные URL ---

	if cfg.SignedURLTTL, err = getEnvDuration("DR_SIGNED_URL_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("DR_SIGNED_URL_TTL: %w", err)
	}
	if cfg.SignedURLTTL < time.Minute {
		return nil, fmt.Errorf("DR_SIGNED_URL_TTL: значение %s меньше минимального 1m", cfg.SignedURLTTL)
	}
	if cfg.SignedURLCacheSize, err = getEnvInt("DR_SIGNED_URL_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("DR_SIGNED_URL_CACHE_SIZE: %w", err)
	}

	// --- Reconcile ---

	if cfg.ReconcileInterval, err = getEnvDuration("DR_RECONCILE_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("DR_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileBatchSize, err = getEnvInt("DR_RECONCILE_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("DR_RECONCILE_BATCH_SIZE: %w", err)
	}
	if cfg.ReconcileMaxAttempts, err = getEnvInt("DR_RECONCILE_MAX_ATTEMPTS", 10); err != nil {
		return nil, fmt.Errorf("DR_RECONCILE_MAX_ATTEMPTS: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = os.Getenv("DR_JWT_JWKS_URL")
	cfg.JWTIssuer = os.Getenv("DR_JWT_ISSUER")
	if cfg.JWTLeeway, err = getEnvDuration("DR_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DR_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("DR_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("DR_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("DR_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("DR_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.AuthCookieName = getEnvDefault("DR_AUTH_COOKIE", "sb-access-token")
	cfg.LogoutRedirectURL = getEnvDefault("DR_LOGOUT_URL", "/")

	// --- UI ---

	if cfg.UIEnabled, err = getEnvBool("DR_UI_ENABLED", true); err != nil {
		return nil, fmt.Errorf("DR_UI_ENABLED: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DR_DEPHEALTH_GROUP", "defects-register")
	if cfg.DephealthCheckInterval, err = getEnvDuration("DR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("DR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// AuthEnabled сообщает, включена ли проверка JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Если задан DR_LOG_FILE, логи дублируются в файл с ротацией (lumberjack).
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
