package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/validation"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

const minPasswordLength = 6

// LoginForm отрисовывает форму входа.
func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login", h.page(r, "Log in", view.AuthData{
		Next: safeNext(r.URL.Query().Get("next")),
	}))
}

// Login выполняет вход и сохраняет токен с профилем в сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	data := view.AuthData{
		Email:  strings.TrimSpace(r.PostForm.Get("email")),
		Next:   safeNext(r.PostForm.Get("next")),
		Errors: map[string]string{},
	}
	password := r.PostForm.Get("password")

	if !validation.IsValidEmail(data.Email) {
		data.Errors["email"] = "Enter a valid email address."
	}
	if password == "" {
		data.Errors["password"] = "Enter your password."
	}
	if len(data.Errors) > 0 {
		h.render(w, http.StatusUnprocessableEntity, "login", h.page(r, "Log in", data))
		return
	}

	res, err := h.api(r).Login(r.Context(), data.Email, password)
	if err != nil {
		p := h.page(r, "Log in", data)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, gateway.ErrUnauthorized), gateway.IsClientError(err):
			status = http.StatusUnauthorized
			p.Error = gateway.UserMessage(err, "Invalid email or password.")
		default:
			h.logger.Warn("login error", zap.Error(err))
			p.Error = gateway.UserMessage(err, "Login failed. Please try again.")
		}
		h.render(w, status, "login", p)
		return
	}

	if err := h.startSession(w, r, res.Token, res.User); err != nil {
		h.logger.Error("save session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, data.Next, http.StatusSeeOther)
}

// startSession сохраняет токен и профиль в сессии с новым идентификатором.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, token string, user *model.UserProfile) error {
	sess, r, err := h.sessions.Rotate(w, r)
	if err != nil {
		return err
	}
	return sess.SetSession(r.Context(), token, user)
}

// RegisterForm отрисовывает форму регистрации.
func (h *Handler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "register", h.page(r, "Register", view.AuthData{}))
}

// Register регистрирует пользователя и сразу открывает для него сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	data := view.AuthData{
		Name:   strings.TrimSpace(r.PostForm.Get("name")),
		Email:  strings.TrimSpace(r.PostForm.Get("email")),
		Phone:  strings.TrimSpace(r.PostForm.Get("phone")),
		Errors: map[string]string{},
	}
	password := r.PostForm.Get("password")

	if data.Name == "" {
		data.Errors["name"] = "Enter your name."
	}
	if !validation.IsValidEmail(data.Email) {
		data.Errors["email"] = "Enter a valid email address."
	}
	if data.Phone != "" && !validation.IsValidPhone(data.Phone) {
		data.Errors["phone"] = "Enter a valid phone number."
	}
	if len(password) < minPasswordLength {
		data.Errors["password"] = "Password must be at least 6 characters."
	}
	if len(data.Errors) > 0 {
		h.render(w, http.StatusUnprocessableEntity, "register", h.page(r, "Register", data))
		return
	}

	res, err := h.api(r).Register(r.Context(), gateway.RegisterRequest{
		Name:     data.Name,
		Email:    data.Email,
		Phone:    data.Phone,
		Password: password,
	})
	if err != nil {
		p := h.page(r, "Register", data)
		status := http.StatusBadGateway
		if gateway.IsClientError(err) {
			status = http.StatusUnprocessableEntity
		} else {
			h.logger.Warn("register error", zap.Error(err))
		}
		p.Error = gateway.UserMessage(err, "Registration failed. Please try again.")
		h.render(w, status, "register", p)
		return
	}

	if err := h.startSession(w, r, res.Token, res.User); err != nil {
		h.logger.Error("save session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, withNotice("/", "registered"), http.StatusSeeOther)
}

// Logout завершает сессию на стороне API и всегда очищает локальную сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	if sess.IsAuthenticated(r.Context()) {
		if err := h.api(r).Logout(r.Context()); err != nil && !errors.Is(err, gateway.ErrUnauthorized) {
			h.logger.Info("api logout error", zap.Error(err))
		}
	}
	if err := sess.ClearSession(r.Context()); err != nil {
		h.logger.Error("clear session error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if _, _, err := h.sessions.Rotate(w, r); err != nil {
		h.logger.Error("rotate session error", zap.Error(err))
	}
	http.Redirect(w, r, withNotice("/", "logged-out"), http.StatusSeeOther)
}

// currentUser возвращает кешированный профиль или запрашивает его у API.
func (h *Handler) currentUser(r *http.Request) (*model.UserProfile, error) {
	if u := h.session(r).User(); u != nil {
		return u, nil
	}
	return h.api(r).Me(r.Context())
}

// Profile отрисовывает профиль и историю бронирований пользователя.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		h.fail(w, r, err, "Could not load your profile.")
		return
	}
	h.renderProfile(w, r, http.StatusOK, user, nil, "")
}

func (h *Handler) renderProfile(w http.ResponseWriter, r *http.Request, status int, user *model.UserProfile, errs map[string]string, errMsg string) {
	data := view.ProfileData{User: user, Errors: errs}

	bookings, err := h.viewer.ListForUser(r.Context(), h.api(r), user.ID)
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		middleware.RedirectToLogin(w, r)
		return
	case err != nil:
		h.logger.Warn("list user bookings error", zap.Error(err))
		data.BookingsError = gateway.UserMessage(err, "Could not load your bookings.")
	default:
		data.Bookings = bookings
	}

	p := h.page(r, "Profile", data)
	p.Error = errMsg
	h.render(w, status, "profile", p)
}

// UpdateProfile отправляет изменённый профиль целиком и обновляет кеш сессии.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	current, err := h.currentUser(r)
	if err != nil {
		h.fail(w, r, err, "Could not load your profile.")
		return
	}

	edited := *current
	edited.Name = strings.TrimSpace(r.PostForm.Get("name"))
	edited.Email = strings.TrimSpace(r.PostForm.Get("email"))
	edited.Phone = strings.TrimSpace(r.PostForm.Get("phone"))
	edited.Preferences = model.Preferences{
		Language:       strings.TrimSpace(r.PostForm.Get("language")),
		Currency:       strings.TrimSpace(r.PostForm.Get("currency")),
		SeatPreference: r.PostForm.Get("seatPreference"),
		Notifications: model.Notifications{
			Email: r.PostForm.Get("notifyEmail") != "",
			SMS:   r.PostForm.Get("notifySms") != "",
		},
	}

	errs := map[string]string{}
	if edited.Name == "" {
		errs["name"] = "Enter your name."
	}
	if !validation.IsValidEmail(edited.Email) {
		errs["email"] = "Enter a valid email address."
	}
	if edited.Phone != "" && !validation.IsValidPhone(edited.Phone) {
		errs["phone"] = "Enter a valid phone number."
	}
	if len(errs) > 0 {
		h.renderProfile(w, r, http.StatusUnprocessableEntity, &edited, errs, "")
		return
	}

	updated, err := h.api(r).UpdateProfile(r.Context(), gateway.ProfileUpdate{
		Name:        edited.Name,
		Email:       edited.Email,
		Phone:       edited.Phone,
		Preferences: edited.Preferences,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			middleware.RedirectToLogin(w, r)
			return
		}
		h.logger.Warn("update profile error", zap.Error(err))
		h.renderProfile(w, r, http.StatusBadGateway, &edited, nil, gateway.UserMessage(err, "Could not save your profile."))
		return
	}

	if err := h.session(r).UpdateUser(r.Context(), updated); err != nil {
		h.logger.Error("update session user error", zap.Error(err))
	}
	http.Redirect(w, r, withNotice("/profile", "profile-saved"), http.StatusSeeOther)
}
