// Package checkout ведёт попытку оформления от создания бронирования до подтверждения оплаты.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/validation"
)

var (
	// ErrInvalidUPI возвращается, если UPI ID пуст или некорректен. Сеть при этом не используется.
	ErrInvalidUPI = errors.New("invalid UPI ID")
	// ErrNotPayable возвращается при попытке оплатить отменённое или уже оплаченное бронирование.
	ErrNotPayable = errors.New("booking cannot be paid")

	errEmptyClientSecret = errors.New("empty client secret")
)

const succeeded = "succeeded"

// persistTimeout ограничивает запись результата удалённого вызова, отвязанную от запроса.
const persistTimeout = 5 * time.Second

// detached возвращает контекст для записи состояния после удалённого вызова.
// Отмена запроса браузером не прерывает эту запись: побочный эффект в API уже произошёл.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// PaymentRejectedError описывает отказ платёжной системы или ошибку платёжной формы.
type PaymentRejectedError struct {
	Message string
}

func (e *PaymentRejectedError) Error() string {
	return "payment rejected: " + e.Message
}

// API описывает операции удалённого API, которые использует оформление.
type API interface {
	CreateBooking(ctx context.Context, req model.BookingRequest) (*model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	CreatePaymentIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, req gateway.ConfirmRequest) error
}

// Session описывает сессию, от имени которой выполняется оформление.
// GetToken должен отражать актуальное состояние хранилища сессий.
type Session interface {
	ID() string
	GetToken(ctx context.Context) (string, bool)
}

// Caller связывает сессию пользователя с привязанным к ней API.
type Caller struct {
	Session Session
	API     API
}

// Observer получает сведения о переходах между фазами.
type Observer interface {
	ObserveTransition(from, to string)
}

// CardResult содержит результат платёжного виджета: идентификатор намерения и статус либо текст ошибки.
type CardResult struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
	Error           string `json:"error"`
}

// Orchestrator выполняет переходы попыток оформления.
// Каждый переход выполняется сравнением с обменом фазы в хранилище.
type Orchestrator struct {
	store    Store
	logger   *zap.Logger
	observer Observer
}

// NewOrchestrator создаёт оркестратор поверх хранилища попыток. observer может быть nil.
func NewOrchestrator(store Store, logger *zap.Logger, observer Observer) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		logger:   logger,
		observer: observer,
	}
}

// NewAttemptID выдаёт ключ идемпотентности для формы бронирования.
func NewAttemptID() string {
	return uuid.NewString()
}

func (o *Orchestrator) guard(ctx context.Context, c Caller) error {
	if c.Session == nil {
		return gateway.ErrUnauthorized
	}
	if _, ok := c.Session.GetToken(ctx); !ok {
		return gateway.ErrUnauthorized
	}
	return nil
}

// Get возвращает попытку, принадлежащую сессии.
func (o *Orchestrator) Get(ctx context.Context, c Caller, id string) (Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Attempt{}, ErrAttemptNotFound
	}
	a, err := o.store.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if c.Session == nil || a.SessionID != c.Session.ID() {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

// Start создаёт бронирование по готовому черновику. Повторная отправка с тем же
// идентификатором попытки возвращает уже существующую попытку и не создаёт второе бронирование.
func (o *Orchestrator) Start(ctx context.Context, c Caller, attemptID string, req model.BookingRequest, method model.PaymentMethod) (Attempt, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return Attempt{}, fmt.Errorf("attempt id: %w", ErrAttemptNotFound)
	}
	if err := o.guard(ctx, c); err != nil {
		return Attempt{}, err
	}

	a := Attempt{
		ID:         attemptID,
		SessionID:  c.Session.ID(),
		FlightID:   req.FlightID,
		Method:     method,
		Phase:      PhaseCreating,
		TotalPrice: req.TotalPrice,
	}
	if err := o.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrAttemptExists) {
			existing, getErr := o.Get(ctx, c, attemptID)
			if getErr != nil {
				return Attempt{}, getErr
			}
			o.logger.Info("duplicate checkout submit", zap.String("attempt", attemptID), zap.String("phase", string(existing.Phase)))
			return existing, nil
		}
		return Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	o.observe(PhaseIdle, PhaseCreating)

	booking, err := c.API.CreateBooking(ctx, req)
	pctx, cancel := detached(ctx)
	defer cancel()
	if err != nil {
		failed, ferr := o.fail(pctx, a, PhaseCreating, gateway.UserMessage(err, "Booking failed. Please try again."))
		if ferr != nil {
			return a, ferr
		}
		return failed, err
	}

	next := a
	next.Phase = PhaseAwaitingPayment
	next.BookingID = booking.ID
	if booking.TotalPrice > 0 {
		next.TotalPrice = booking.TotalPrice
	}
	if err := o.move(pctx, a, next); err != nil {
		return a, err
	}
	o.logger.Info("booking created", zap.String("attempt", a.ID), zap.String("booking", booking.ID))

	if next.NeedsClientSecret() {
		return o.requestClientSecret(ctx, c, next)
	}
	return next, nil
}

// Resume начинает новую попытку оплаты для существующего неоплаченного бронирования.
func (o *Orchestrator) Resume(ctx context.Context, c Caller, attemptID, bookingID string, method model.PaymentMethod) (Attempt, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return Attempt{}, fmt.Errorf("attempt id: %w", ErrAttemptNotFound)
	}
	if err := o.guard(ctx, c); err != nil {
		return Attempt{}, err
	}

	booking, err := c.API.GetBooking(ctx, bookingID)
	if err != nil {
		return Attempt{}, err
	}
	if !booking.Payable() {
		return Attempt{}, ErrNotPayable
	}

	a := Attempt{
		ID:         attemptID,
		SessionID:  c.Session.ID(),
		FlightID:   booking.Flight.ID,
		Method:     method,
		Phase:      PhaseAwaitingPayment,
		BookingID:  booking.ID,
		TotalPrice: booking.TotalPrice,
	}
	if err := o.store.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, ErrAttemptExists) {
			return o.Get(ctx, c, attemptID)
		}
		return Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	o.observe(PhaseIdle, PhaseAwaitingPayment)

	if a.NeedsClientSecret() {
		return o.requestClientSecret(ctx, c, a)
	}
	return a, nil
}

// PrepareCard запрашивает клиентский секрет, если его ещё нет: например, после неудачного запроса.
func (o *Orchestrator) PrepareCard(ctx context.Context, c Caller, id string) (Attempt, error) {
	if err := o.guard(ctx, c); err != nil {
		return Attempt{}, err
	}
	a, err := o.Get(ctx, c, id)
	if err != nil {
		return Attempt{}, err
	}
	if !a.NeedsClientSecret() || !a.AcceptsPayment() {
		return a, nil
	}
	return o.requestClientSecret(ctx, c, a)
}

// SwitchMethod меняет способ оплаты попытки, ожидающей оплаты.
func (o *Orchestrator) SwitchMethod(ctx context.Context, c Caller, id string, method model.PaymentMethod) (Attempt, error) {
	if err := o.guard(ctx, c); err != nil {
		return Attempt{}, err
	}
	a, err := o.Get(ctx, c, id)
	if err != nil {
		return Attempt{}, err
	}
	if !a.AcceptsPayment() {
		return a, ErrPhaseConflict
	}
	if a.Method == method {
		return o.PrepareCard(ctx, c, id)
	}

	next := a
	next.Method = method
	if err := o.move(ctx, a, next); err != nil {
		return a, err
	}
	if next.NeedsClientSecret() {
		return o.requestClientSecret(ctx, c, next)
	}
	return next, nil
}

func (o *Orchestrator) requestClientSecret(ctx context.Context, c Caller, a Attempt) (Attempt, error) {
	if err := o.guard(ctx, c); err != nil {
		return a, err
	}

	intent, err := c.API.CreatePaymentIntent(ctx, gateway.IntentRequest{
		BookingID:     a.BookingID,
		PaymentMethod: model.PaymentCard,
	})
	pctx, cancel := detached(ctx)
	defer cancel()
	if err == nil && intent.ClientSecret == "" {
		err = &gateway.RemoteError{Op: "create payment intent", StatusCode: http.StatusOK, Err: errEmptyClientSecret}
	}
	if err != nil {
		failed, ferr := o.fail(pctx, a, PhaseAwaitingPayment, gateway.UserMessage(err, "Could not start the payment. Please try again."))
		if ferr != nil {
			return a, ferr
		}
		return failed, err
	}

	next := a
	next.Phase = PhaseAwaitingPayment
	next.FailedAt = ""
	next.Error = ""
	next.ClientSecret = intent.ClientSecret
	next.PaymentIntentID = intent.PaymentIntentID
	if err := o.move(pctx, a, next, PhaseAwaitingPayment, PhaseFailed); err != nil {
		return a, err
	}
	return next, nil
}

// CompleteCard принимает результат платёжного виджета. Содержимое платёжной формы сервер не видит.
// Поздний успешный результат для уже оплаченной попытки не является ошибкой.
func (o *Orchestrator) CompleteCard(ctx context.Context, c Caller, id string, res CardResult) (Attempt, error) {
	if err := o.guard(ctx, c); err != nil {
		return Attempt{}, err
	}
	a, err := o.Get(ctx, c, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.Phase == PhasePaid {
		return a, nil
	}
	if !a.AcceptsPayment() {
		return a, ErrPhaseConflict
	}

	if res.Error != "" || res.Status != succeeded || res.PaymentIntentID == "" {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = "Payment was not completed."
		}
		failed, ferr := o.fail(ctx, a, PhaseAwaitingPayment, msg)
		if ferr != nil {
			return a, ferr
		}
		o.logger.Info("payment rejected", zap.String("attempt", a.ID), zap.String("booking", a.BookingID), zap.String("status", res.Status))
		return failed, &PaymentRejectedError{Message: msg}
	}

	return o.confirm(ctx, c, a, res.PaymentIntentID)
}

// Return обрабатывает возврат браузера после внешнего подтверждения платежа (3-D Secure).
func (o *Orchestrator) Return(ctx context.Context, c Caller, id, paymentIntentID, redirectStatus string) (Attempt, error) {
	res := CardResult{PaymentIntentID: paymentIntentID, Status: redirectStatus}
	if redirectStatus != succeeded {
		res.Error = "Payment authentication failed."
	}
	return o.CompleteCard(ctx, c, id, res)
}

// PayUPI оплачивает бронирование по UPI ID. Некорректный UPI ID отклоняется до обращения к сети.
func (o *Orchestrator) PayUPI(ctx context.Context, c Caller, id, upiID string) (Attempt, error) {
	upiID = strings.TrimSpace(upiID)
	if !validation.IsValidUPIID(upiID) {
		return Attempt{}, ErrInvalidUPI
	}
	if err := o.guard(ctx, c); err != nil {
		return Attempt{}, err
	}
	a, err := o.Get(ctx, c, id)
	if err != nil {
		return Attempt{}, err
	}
	if a.Phase == PhasePaid {
		return a, nil
	}
	if !a.AcceptsPayment() {
		return a, ErrPhaseConflict
	}

	locked := a
	locked.Method = model.PaymentUPI
	locked.Phase = PhaseConfirming
	locked.FailedAt = ""
	locked.Error = ""
	if err := o.move(ctx, a, locked, PhaseAwaitingPayment, PhaseFailed); err != nil {
		return a, err
	}

	intent, err := c.API.CreatePaymentIntent(ctx, gateway.IntentRequest{
		BookingID:     a.BookingID,
		PaymentMethod: model.PaymentUPI,
		UPIID:         upiID,
	})
	if err != nil {
		pctx, cancel := detached(ctx)
		defer cancel()
		failed, ferr := o.fail(pctx, locked, PhaseAwaitingPayment, gateway.UserMessage(err, "UPI payment failed. Please try again."))
		if ferr != nil {
			return locked, ferr
		}
		return failed, err
	}

	locked.PaymentIntentID = intent.PaymentIntentID
	return o.finish(ctx, c, locked)
}

// confirm переводит попытку в Confirming и подтверждает оплату.
func (o *Orchestrator) confirm(ctx context.Context, c Caller, a Attempt, paymentIntentID string) (Attempt, error) {
	next := a
	next.Phase = PhaseConfirming
	next.FailedAt = ""
	next.Error = ""
	next.PaymentIntentID = paymentIntentID
	if err := o.move(ctx, a, next, PhaseAwaitingPayment, PhaseFailed); err != nil {
		return a, err
	}
	return o.finish(ctx, c, next)
}

// finish вызывает подтверждение оплаты для попытки в фазе Confirming.
func (o *Orchestrator) finish(ctx context.Context, c Caller, a Attempt) (Attempt, error) {
	pctx, cancel := detached(ctx)
	defer cancel()

	if err := o.guard(ctx, c); err != nil {
		failed, ferr := o.fail(pctx, a, PhaseConfirming, "Your session has expired. Please log in again.")
		if ferr != nil {
			return a, ferr
		}
		return failed, err
	}

	err := c.API.ConfirmPayment(ctx, gateway.ConfirmRequest{
		PaymentIntentID: a.PaymentIntentID,
		BookingID:       a.BookingID,
	})
	if err != nil {
		failed, ferr := o.fail(pctx, a, PhaseConfirming, gateway.UserMessage(err, "Payment confirmation failed. Please try again."))
		if ferr != nil {
			return a, ferr
		}
		return failed, err
	}

	next := a
	next.Phase = PhasePaid
	if err := o.move(pctx, a, next); err != nil {
		return a, err
	}
	o.logger.Info("payment confirmed", zap.String("attempt", a.ID), zap.String("booking", a.BookingID))
	return next, nil
}

// fail переводит попытку в Failed, запоминая фазу и сообщение для пользователя.
func (o *Orchestrator) fail(ctx context.Context, a Attempt, at Phase, msg string) (Attempt, error) {
	next := a
	next.Phase = PhaseFailed
	next.FailedAt = at
	next.Error = msg
	if err := o.move(ctx, a, next); err != nil {
		return a, err
	}
	o.logger.Info("checkout step failed",
		zap.String("attempt", a.ID),
		zap.String("phase", string(at)),
		zap.String("booking", a.BookingID),
	)
	return next, nil
}

// move сохраняет next, если текущая фаза попытки входит в from (по умолчанию фаза cur).
func (o *Orchestrator) move(ctx context.Context, cur, next Attempt, from ...Phase) error {
	if len(from) == 0 {
		from = []Phase{cur.Phase}
	}
	if err := o.store.TransitionAttempt(ctx, next.ID, from, next); err != nil {
		if errors.Is(err, ErrPhaseConflict) || errors.Is(err, ErrAttemptNotFound) {
			return err
		}
		return fmt.Errorf("transition attempt %s to %s: %w", next.ID, next.Phase, err)
	}
	if cur.Phase != next.Phase {
		o.observe(cur.Phase, next.Phase)
	}
	return nil
}

func (o *Orchestrator) observe(from, to Phase) {
	if o.observer != nil {
		o.observer.ObserveTransition(string(from), string(to))
	}
}
