// Package middleware содержит HTTP middleware веб-клиента бронирования.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/session"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	sessionCookieName = "sid"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// SessionMiddleware связывает браузер с серверной сессией по подписанному cookie.
type SessionMiddleware struct {
	secretKey []byte
	manager   *session.Manager
	logger    *zap.Logger
}

// NewSessionMiddleware создаёт middleware сессий с указанным секретным ключом.
// Пустой ключ заменяется случайным: cookie перестанут проходить проверку после перезапуска.
func NewSessionMiddleware(secret string, manager *session.Manager, logger *zap.Logger) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SessionMiddleware{
		secretKey: key,
		manager:   manager,
		logger:    logger,
	}
}

// Middleware открывает сессию браузера и добавляет её в контекст запроса.
// Браузер без корректного cookie получает новый идентификатор сессии.
func (a *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, ok := "", false
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			sid, ok = a.parseCookie(cookie.Value)
		}
		if !ok {
			sid = uuid.NewString()
			a.SetSessionCookie(w, sid)
		}

		sess, err := a.manager.Open(r.Context(), sid)
		if err != nil {
			a.logger.Error("open session error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// Rotate выдаёт браузеру новый идентификатор сессии и открывает с ним пустую сессию.
// Прежний идентификатор и привязанные к нему попытки оформления браузеру больше недоступны.
// Вызывается при входе, регистрации и выходе.
func (a *SessionMiddleware) Rotate(w http.ResponseWriter, r *http.Request) (*session.Session, *http.Request, error) {
	sid := uuid.NewString()
	sess, err := a.manager.Open(r.Context(), sid)
	if err != nil {
		return nil, r, err
	}
	a.SetSessionCookie(w, sid)
	return sess, r.WithContext(WithSession(r.Context(), sess)), nil
}

// RequireAuth перенаправляет неаутентифицированного пользователя на страницу входа.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok || !sess.IsAuthenticated(r.Context()) {
			RedirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PublicOnly перенаправляет аутентифицированного пользователя на главную страницу.
func PublicOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess, ok := SessionFromContext(r.Context()); ok && sess.IsAuthenticated(r.Context()) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin пропускает только пользователей с ролью администратора.
// Это ограничение интерфейса: права на операции проверяет удалённый API.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok || !sess.IsAuthenticated(r.Context()) {
			RedirectToLogin(w, r)
			return
		}
		if !sess.IsAdmin(r.Context()) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectToLogin отправляет браузер на страницу входа с возвратом на текущий адрес.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := "/login"
	if r.Method == http.MethodGet && r.URL.Path != "/" && r.URL.Path != "/login" {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// SetSessionCookie устанавливает подписанный cookie с идентификатором сессии.
func (a *SessionMiddleware) SetSessionCookie(w http.ResponseWriter, sid string) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.sign(sid),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *SessionMiddleware) sign(sid string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sid))
	return sid + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *SessionMiddleware) parseCookie(cookieValue string) (string, bool) {
	sid, signature, found := strings.Cut(cookieValue, ".")
	if !found {
		return "", false
	}
	if _, err := uuid.Parse(sid); err != nil {
		return "", false
	}

	_, expected, _ := strings.Cut(a.sign(sid), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}
	return sid, true
}

// WithSession добавляет сессию в контекст.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext извлекает сессию из контекста запроса.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok && sess != nil
}
