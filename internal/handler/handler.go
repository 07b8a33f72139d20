// Package handler содержит HTTP-обработчики страниц веб-клиента бронирования авиабилетов.
package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/flights"
	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/history"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/session"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

// Dependencies перечисляет компоненты, которые использует Handler.
type Dependencies struct {
	Client         *gateway.Client
	Lookup         *flights.Lookup
	Orchestrator   *checkout.Orchestrator
	Viewer         *history.Viewer
	View           *view.Renderer
	Sessions       *middleware.SessionMiddleware
	Metrics        http.Handler
	PublishableKey string
	Logger         *zap.Logger
	Now            func() time.Time
}

// Handler реализует страницы и действия форм веб-клиента.
type Handler struct {
	client         *gateway.Client
	lookup         *flights.Lookup
	orchestrator   *checkout.Orchestrator
	viewer         *history.Viewer
	view           *view.Renderer
	sessions       *middleware.SessionMiddleware
	metrics        http.Handler
	publishableKey string
	logger         *zap.Logger
	now            func() time.Time
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(d Dependencies) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{
		client:         d.Client,
		lookup:         d.Lookup,
		orchestrator:   d.Orchestrator,
		viewer:         d.Viewer,
		view:           d.View,
		sessions:       d.Sessions,
		metrics:        d.Metrics,
		publishableKey: d.PublishableKey,
		logger:         d.Logger,
		now:            d.Now,
	}
}

// notices содержит фиксированные сообщения, которые передаются через параметр notice после перенаправления.
var notices = map[string]string{
	"paid":              "Payment complete. Your booking is confirmed.",
	"cancelled":         "Booking cancelled.",
	"already-cancelled": "This booking is already cancelled.",
	"refund-requested":  "Refund requested.",
	"not-refundable":    "This booking is not eligible for a refund.",
	"not-payable":       "This booking can no longer be paid.",
	"profile-saved":     "Profile updated.",
	"logged-out":        "You have been logged out.",
	"registered":        "Welcome! Your account has been created.",
}

func withNotice(path, notice string) string {
	return path + "?notice=" + url.QueryEscape(notice)
}

func (h *Handler) session(r *http.Request) *session.Session {
	sess, _ := middleware.SessionFromContext(r.Context())
	return sess
}

// api возвращает клиент API, действующий от имени сессии запроса.
func (h *Handler) api(r *http.Request) *gateway.API {
	if sess := h.session(r); sess != nil {
		return h.client.As(sess)
	}
	return h.client.As(nil)
}

func (h *Handler) caller(r *http.Request) checkout.Caller {
	return checkout.Caller{Session: h.session(r), API: h.api(r)}
}

// page заполняет общие данные страницы: пользователя для навигации и сообщение после перенаправления.
func (h *Handler) page(r *http.Request, title string, content any) view.Page {
	p := view.Page{Title: title, Content: content}
	if sess := h.session(r); sess != nil && sess.IsAuthenticated(r.Context()) {
		p.User = sess.User()
		p.IsAdmin = sess.IsAdmin(r.Context())
	}
	p.Flash = notices[r.URL.Query().Get("notice")]
	return p
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, p view.Page) {
	if err := h.view.Render(w, status, name, p); err != nil {
		h.logger.Error("render page error", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// renderNotFound отрисовывает отдельную страницу «не найдено».
func (h *Handler) renderNotFound(w http.ResponseWriter, r *http.Request, message string) {
	h.render(w, http.StatusNotFound, "notfound", h.page(r, "Not found", view.ErrorData{
		Status:  http.StatusNotFound,
		Message: message,
	}))
}

// fail переводит ошибку удалённой операции в ответ: вход, «не найдено» или страницу ошибки.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		middleware.RedirectToLogin(w, r)
		return
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, checkout.ErrAttemptNotFound):
		h.renderNotFound(w, r, "The page you are looking for does not exist.")
		return
	}

	status := http.StatusBadGateway
	if gateway.IsClientError(err) {
		status = http.StatusBadRequest
	}
	h.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	h.render(w, status, "error", h.page(r, "Error", view.ErrorData{
		Status:  status,
		Message: gateway.UserMessage(err, fallback),
	}))
}

// refreshUser обновляет кешированный профиль, если в сессии есть токен, но нет пользователя.
// Отказ API в аутентификации уже сбросил сессию, поэтому запрос продолжается как анонимный.
func (h *Handler) refreshUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := h.session(r)
		if sess != nil && sess.IsAuthenticated(r.Context()) && sess.User() == nil {
			user, err := h.client.As(sess).Me(r.Context())
			switch {
			case err == nil:
				if err := sess.UpdateUser(r.Context(), user); err != nil && !errors.Is(err, session.ErrNotAuthenticated) {
					h.logger.Error("update session user error", zap.Error(err))
				}
			case errors.Is(err, gateway.ErrUnauthorized):
			default:
				h.logger.Warn("refresh profile error", zap.Error(err))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// safeNext оставляет только локальный путь для перенаправления после входа.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

// absoluteURL строит абсолютный адрес для внешнего виджета оплаты.
func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

// Health сообщает, что сервер запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// NotFound отрисовывает страницу для неизвестного адреса.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderNotFound(w, r, "The page you are looking for does not exist.")
}

// Admin отрисовывает заглушку раздела администратора.
func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "admin", h.page(r, "Admin", nil))
}
