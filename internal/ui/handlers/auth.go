// auth.go — выход из UI: удаление cookie с access token.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/defects-register/internal/api/middleware"
)

// AuthHandler — обработчик выхода пользователя.
type AuthHandler struct {
	cookieName  string
	redirectURL string
	secure      bool
	logger      *slog.Logger
}

// NewAuthHandler создаёт AuthHandler. cookieName — cookie с токеном,
// redirectURL — адрес после выхода (страница входа провайдера).
func NewAuthHandler(cookieName, redirectURL string, secure bool, logger *slog.Logger) *AuthHandler {
	if redirectURL == "" {
		redirectURL = "/"
	}
	return &AuthHandler{
		cookieName:  cookieName,
		redirectURL: redirectURL,
		secure:      secure,
		logger:      logger.With(slog.String("component", "ui.auth")),
	}
}

// HandleLogout обрабатывает POST /ui/logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		h.logger.Info("Выход пользователя",
			slog.String("subject", claims.Subject),
			slog.String("email", claims.Email),
		)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.redirectURL, http.StatusSeeOther)
}
