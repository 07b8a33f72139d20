package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

// Phase определяет состояние попытки оформления. Других флагов состояния у попытки нет.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseCreating        Phase = "creating"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseConfirming      Phase = "confirming"
	PhasePaid            Phase = "paid"
	PhaseFailed          Phase = "failed"
)

var (
	// ErrAttemptExists возвращается хранилищем при повторном создании попытки с тем же идентификатором.
	ErrAttemptExists = errors.New("checkout attempt already exists")
	// ErrAttemptNotFound возвращается, если попытка не найдена.
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	// ErrPhaseConflict возвращается, если попытка уже не находится в ожидаемом состоянии:
	// шаг выполняется в другом запросе или уже завершён.
	ErrPhaseConflict = errors.New("checkout step already in progress")
)

// Attempt описывает одну попытку оформления: от создания бронирования до подтверждения оплаты.
type Attempt struct {
	ID              string
	SessionID       string
	FlightID        string
	Method          model.PaymentMethod
	Phase           Phase
	FailedAt        Phase
	BookingID       string
	ClientSecret    string
	PaymentIntentID string
	TotalPrice      float64
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasBooking сообщает, создано ли уже бронирование в рамках попытки.
func (a Attempt) HasBooking() bool {
	return a.BookingID != ""
}

// InFlight сообщает, выполняется ли сейчас сетевой шаг. Кнопки отправки в этом состоянии недоступны.
func (a Attempt) InFlight() bool {
	return a.Phase == PhaseCreating || a.Phase == PhaseConfirming
}

// AcceptsPayment сообщает, можно ли отправить результат оплаты.
// После неудачи оплата повторяется с тем же бронированием.
func (a Attempt) AcceptsPayment() bool {
	switch a.Phase {
	case PhaseAwaitingPayment:
		return true
	case PhaseFailed:
		return a.HasBooking()
	}
	return false
}

// NeedsClientSecret сообщает, нужно ли запросить у API клиентский секрет платёжного виджета.
func (a Attempt) NeedsClientSecret() bool {
	return a.Method == model.PaymentCard && a.HasBooking() && a.ClientSecret == "" && a.Phase != PhasePaid
}

// DetailPath возвращает адрес страницы бронирования, куда ведёт успешная оплата.
func (a Attempt) DetailPath() string {
	return "/bookings/" + a.BookingID
}

// Store описывает хранилище попыток оформления.
// TransitionAttempt выполняет сравнение с обменом по фазе.
type Store interface {
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	TransitionAttempt(ctx context.Context, id string, from []Phase, next Attempt) error
}
