package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// FlashCookieName — cookie с уведомлениями для следующего рендера страницы.
const FlashCookieName = "dr_flash"

// maxFlash — ограничение числа уведомлений в cookie.
const maxFlash = 5

// FlashSink накапливает уведомления запроса и записывает их в cookie.
// Создаётся на каждый запрос; страница после redirect показывает их как toast.
type FlashSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	secure  bool
	pending []Notification
}

// NewFlashSink создаёт FlashSink для ответа w.
func NewFlashSink(w http.ResponseWriter, secure bool) *FlashSink {
	return &FlashSink{w: w, secure: secure}
}

// Notify добавляет уведомление и заменяет cookie: в ответе остаётся
// один заголовок Set-Cookie с полным списком.
// Должен вызываться до записи заголовков ответа.
func (s *FlashSink) Notify(_ context.Context, n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, n)
	if len(s.pending) > maxFlash {
		s.pending = s.pending[len(s.pending)-maxFlash:]
	}

	data, err := json.Marshal(s.pending)
	if err != nil {
		return
	}
	dropFlashCookie(s.w.Header())
	http.SetCookie(s.w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// dropFlashCookie убирает из заголовков ранее выставленную flash-cookie.
func dropFlashCookie(h http.Header) {
	prefix := FlashCookieName + "="
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
}

// ReadFlash читает уведомления из cookie запроса и удаляет cookie.
// Повреждённая cookie игнорируется.
func ReadFlash(w http.ResponseWriter, r *http.Request) []Notification {
	c, err := r.Cookie(FlashCookieName)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var list []Notification
	if err := json.Unmarshal(data, &list); err != nil {
		return nil
	}
	if len(list) > maxFlash {
		list = list[:maxFlash]
	}
	return list
}
