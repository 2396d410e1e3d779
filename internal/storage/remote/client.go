// Пакет remote — клиент Storage REST API (Supabase-совместимый).
// Поддерживает TLS с кастомным CA (DR_STORAGE_CA_CERT_PATH) и авторизацию
// service key (заголовки Authorization и apikey).
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/defects-register/internal/storage"
)

const backendName = "remote"

// Client — клиент одного бакета Storage API.
type Client struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// APIError — ответ Storage API с кодом, отличным от 2xx.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Storage API вернул HTTP %d: %s", e.StatusCode, e.Message)
}

// New создаёт клиент Storage API.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, bucket, serviceKey, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Storage API: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат Storage API добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    normalizeURL(baseURL),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		logger:     logger.With(slog.String("component", "storage_remote")),
	}, nil
}

// Name возвращает имя бакета.
func (c *Client) Name() string {
	return c.bucket
}

// signRequest — тело запроса подписи.
type signRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

// signResponse — ответ подписи; signedURL относителен /storage/v1.
type signResponse struct {
	SignedURL string `json:"signedURL"`
}

// CreateSignedURL запрашивает подписанный URL объекта.
// Формат запроса: POST {url}/storage/v1/object/sign/{bucket}/{path}.
func (c *Client) CreateSignedURL(ctx context.Context, objectPath string, ttl time.Duration) (result string, err error) {
	start := time.Now()
	defer func() { storage.Observe(backendName, "sign", start, err) }()

	if err := storage.ValidatePath(objectPath); err != nil {
		return "", err
	}

	var resp signResponse
	err = c.doJSON(ctx, http.MethodPost,
		c.objectURL("object/sign", objectPath),
		signRequest{ExpiresIn: int(ttl.Seconds())}, &resp)
	if err != nil {
		return "", fmt.Errorf("подпись %q: %w", objectPath, err)
	}
	if resp.SignedURL == "" {
		return "", fmt.Errorf("подпись %q: пустой signedURL в ответе", objectPath)
	}

	return c.baseURL + "/storage/v1" + resp.SignedURL, nil
}

// removeRequest — тело запроса удаления.
type removeRequest struct {
	Prefixes []string `json:"prefixes"`
}

// Remove удаляет объекты одним запросом.
// Формат запроса: DELETE {url}/storage/v1/object/{bucket} {"prefixes": [...]}.
// Отсутствующие объекты API просто не включает в ответ.
func (c *Client) Remove(ctx context.Context, paths []string) (err error) {
	if len(paths) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { storage.Observe(backendName, "remove", start, err) }()

	for _, p := range paths {
		if err := storage.ValidatePath(p); err != nil {
			return err
		}
	}

	reqURL := fmt.Sprintf("%s/storage/v1/object/%s", c.baseURL, url.PathEscape(c.bucket))
	err = c.doJSON(ctx, http.MethodDelete, reqURL, removeRequest{Prefixes: paths}, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("удаление %d объектов: %w", len(paths), err)
	}

	c.logger.Debug("Объекты удалены из хранилища", slog.Int("count", len(paths)))
	return nil
}

// Upload загружает объект без перезаписи существующего.
// Формат запроса: POST {url}/storage/v1/object/{bucket}/{path}.
func (c *Client) Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) (err error) {
	start := time.Now()
	defer func() { storage.Observe(backendName, "upload", start, err) }()

	if err := storage.ValidatePath(objectPath); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL("object", objectPath), r)
	if err != nil {
		return fmt.Errorf("создание запроса Upload: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации хранилища
	if err != nil {
		return fmt.Errorf("запрос Upload к Storage API: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", storage.ErrObjectExists, objectPath)
		}
		return fmt.Errorf("загрузка %q: %w", objectPath, err)
	}
	return nil
}

// Ping проверяет доступность бакета: GET {url}/storage/v1/bucket/{bucket}.
func (c *Client) Ping(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/storage/v1/bucket/%s", c.baseURL, url.PathEscape(c.bucket))
	return c.doJSON(ctx, http.MethodGet, reqURL, nil, nil)
}

// HealthURL возвращает URL, по которому dephealth проверяет Storage API.
func (c *Client) HealthURL() string {
	return c.baseURL
}

// objectURL формирует URL {url}/storage/v1/{prefix}/{bucket}/{path}
// с экранированием каждого сегмента пути.
func (c *Client) objectURL(prefix, objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/storage/v1/%s/%s/%s",
		c.baseURL, prefix, url.PathEscape(c.bucket), strings.Join(segments, "/"))
}

// authorize добавляет заголовки авторизации service key.
func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
}

// doJSON выполняет запрос с JSON-телом и декодирует JSON-ответ в out (если не nil).
func (c *Client) doJSON(ctx context.Context, method, reqURL string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("кодирование запроса: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	c.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации хранилища
	if err != nil {
		return fmt.Errorf("запрос к Storage API: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа Storage API: %w", err)
	}
	return nil
}

// errorBody — формат ошибки Storage API.
type errorBody struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// checkResponse возвращает *APIError для ответа с кодом не 2xx.
// Ответ "not_found" с кодом 400 приводится к 404, как это делает Storage API.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}

	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		}
		switch body.StatusCode {
		case "404":
			apiErr.StatusCode = http.StatusNotFound
		case "409":
			apiErr.StatusCode = http.StatusConflict
		}
	}

	if apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", storage.ErrObjectNotFound, apiErr)
	}
	return apiErr
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// normalizeURL убирает trailing slash из URL.
func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}
