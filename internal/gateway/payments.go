package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

// IntentRequest запрашивает платёжный дескриптор для бронирования.
type IntentRequest struct {
	BookingID     string              `json:"bookingId"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	UPIID         string              `json:"upiId,omitempty"`
}

// PaymentIntent содержит клиентский секрет для платёжного виджета и идентификатор намерения.
type PaymentIntent struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// ConfirmRequest задаёт единственную форму подтверждения оплаты.
type ConfirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	BookingID       string `json:"bookingId"`
}

// RefundRequest запрашивает возврат по бронированию.
type RefundRequest struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason,omitempty"`
}

// CreatePaymentIntent запрашивает у API платёжный дескриптор.
func (a *API) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error) {
	var res PaymentIntent
	err := a.doJSON(ctx, call{
		op:     "create payment intent",
		method: http.MethodPost,
		path:   "/api/payments/create-intent",
		body:   req,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.PaymentIntentID == "" {
		return nil, &RemoteError{Op: "create payment intent", StatusCode: http.StatusOK, Err: errors.New("empty payment intent")}
	}
	return &res, nil
}

// ConfirmPayment подтверждает оплату на стороне API.
// Повторное подтверждение уже подтверждённого намерения API обрабатывает как no-op.
func (a *API) ConfirmPayment(ctx context.Context, req ConfirmRequest) error {
	return a.doJSON(ctx, call{
		op:     "confirm payment",
		method: http.MethodPost,
		path:   "/api/payments/confirm",
		body:   req,
	}, nil)
}

// RefundPayment запрашивает возврат средств.
func (a *API) RefundPayment(ctx context.Context, req RefundRequest) error {
	return a.doJSON(ctx, call{
		op:     "refund payment",
		method: http.MethodPost,
		path:   "/api/payments/refund",
		body:   req,
	}, nil)
}
