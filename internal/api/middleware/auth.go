// auth.go — JWT middleware: проверка access token внешнего провайдера
// (Supabase Auth, Keycloak и др.) по JWKS.
// Токен берётся из заголовка Authorization: Bearer или из cookie браузера.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/defects-register/internal/api/errors"
)

// contextKey — тип ключей контекста.
type contextKey string

// ContextKeyClaims — claims аутентифицированного пользователя в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// publicPrefixes — пути, не требующие аутентификации. Подписанные ссылки
// хранилища защищены собственным токеном.
var publicPrefixes = []string{"/health/", "/metrics", "/static/", "/storage/"}

// AuthClaims — claims пользователя, доступные обработчикам.
type AuthClaims struct {
	Subject string
	Email   string
	Role    string
}

// tokenClaims — claims access token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	jwks       keyfunc.Keyfunc
	issuer     string
	leeway     time.Duration
	cookieName string
	logger     *slog.Logger
}

// NewJWTAuth создаёт middleware с фоновым обновлением JWKS.
// issuer может быть пустым — тогда issuer не проверяется.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	cookieName string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — стартуем, даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, issuer, cookieName, leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовым keyfunc (статический JWKS в тестах).
func NewJWTAuthWithKeyfunc(k keyfunc.Keyfunc, issuer, cookieName string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:       k,
		issuer:     issuer,
		leeway:     leeway,
		cookieName: cookieName,
		logger:     logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware проверяет токен и помещает AuthClaims в контекст.
// Публичные пути пропускаются без проверки.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, err := j.extractToken(r)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}

			raw := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256", "ES256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := raw.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			claims := &AuthClaims{Subject: subject, Email: raw.Email, Role: raw.Role}
			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken возвращает токен из Authorization или cookie.
// Заголовок имеет приоритет.
func (j *JWTAuth) extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", fmt.Errorf("неверный формат Authorization: ожидается Bearer <token>")
		}
		if parts[1] == "" {
			return "", fmt.Errorf("пустой Bearer token")
		}
		return parts[1], nil
	}

	if j.cookieName != "" {
		if c, err := r.Cookie(j.cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("отсутствует токен доступа")
}

func isPublicPath(path string) bool {
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если аутентификация отключена или claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}
