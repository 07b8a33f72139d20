package gateway

import (
	"context"
	"net/http"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

// AuthResult содержит токен и профиль, выданные при входе или регистрации.
type AuthResult struct {
	Token string             `json:"token"`
	User  *model.UserProfile `json:"user"`
}

// RegisterRequest содержит данные регистрации.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userEnvelope struct {
	User *model.UserProfile `json:"user"`
}

// ProfileUpdate содержит полный изменяемый профиль: клиент отправляет объект целиком.
type ProfileUpdate struct {
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	Preferences model.Preferences `json:"preferences"`
}

// Login выполняет вход по email и паролю.
func (a *API) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	err := a.doJSON(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   loginRequest{Email: email, Password: password},
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Register регистрирует нового пользователя.
func (a *API) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	var res AuthResult
	err := a.doJSON(ctx, call{
		op:     "register",
		method: http.MethodPost,
		path:   "/api/auth/register",
		body:   req,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Me возвращает профиль текущего пользователя.
func (a *API) Me(ctx context.Context) (*model.UserProfile, error) {
	var env userEnvelope
	err := a.doJSON(ctx, call{
		op:     "get profile",
		method: http.MethodGet,
		path:   "/api/auth/me",
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, &RemoteError{Op: "get profile", StatusCode: http.StatusOK, Message: "empty profile"}
	}
	return env.User, nil
}

// UpdateProfile отправляет профиль целиком и возвращает сохранённую версию.
func (a *API) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*model.UserProfile, error) {
	var env userEnvelope
	err := a.doJSON(ctx, call{
		op:     "update profile",
		method: http.MethodPut,
		path:   "/api/auth/update-profile",
		body:   upd,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.User == nil {
		return nil, &RemoteError{Op: "update profile", StatusCode: http.StatusOK, Message: "empty profile"}
	}
	return env.User, nil
}

// Logout завершает сессию на стороне API.
func (a *API) Logout(ctx context.Context) error {
	return a.doJSON(ctx, call{
		op:     "logout",
		method: http.MethodPost,
		path:   "/api/auth/logout",
	}, nil)
}
