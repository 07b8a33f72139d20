package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized возвращается, если удалённый API отклонил аутентификацию.
	// К моменту возврата сессия уже сброшена.
	ErrUnauthorized = errors.New("authentication rejected")
	// ErrNotFound возвращается, если запрошенный рейс или бронирование не существует.
	ErrNotFound = errors.New("not found")
)

// RemoteError описывает неуспешный вызов удалённого API.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// UserMessage возвращает сообщение для пользователя: текст ответа API, если он есть, иначе fallback.
func UserMessage(err error, fallback string) string {
	var re *RemoteError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return fallback
}

// IsClientError сообщает, что API отклонил запрос как некорректный.
func IsClientError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode >= http.StatusBadRequest && re.StatusCode < http.StatusInternalServerError
}
