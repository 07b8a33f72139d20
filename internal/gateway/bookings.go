package gateway

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

type bookingEnvelope struct {
	Booking *model.Booking `json:"booking"`
}

type bookingsEnvelope struct {
	Bookings []model.Booking `json:"bookings"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Ticket описывает выгружаемый билет. Body читается потоком и должен быть закрыт.
type Ticket struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

// CreateBooking создаёт бронирование в статусе pending/unpaid.
func (a *API) CreateBooking(ctx context.Context, req model.BookingRequest) (*model.Booking, error) {
	var env bookingEnvelope
	err := a.doJSON(ctx, call{
		op:     "create booking",
		method: http.MethodPost,
		path:   "/api/bookings",
		body:   req,
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Booking == nil {
		return nil, &RemoteError{Op: "create booking", StatusCode: http.StatusOK, Message: "empty booking"}
	}
	return env.Booking, nil
}

// GetBooking возвращает бронирование по идентификатору.
func (a *API) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var env bookingEnvelope
	err := a.doJSON(ctx, call{
		op:     "get booking",
		method: http.MethodGet,
		path:   "/api/bookings/" + url.PathEscape(id),
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Booking == nil {
		return nil, ErrNotFound
	}
	return env.Booking, nil
}

// ListMyBookings возвращает бронирования текущего пользователя.
func (a *API) ListMyBookings(ctx context.Context) ([]model.Booking, error) {
	var env bookingsEnvelope
	err := a.doJSON(ctx, call{
		op:     "list bookings",
		method: http.MethodGet,
		path:   "/api/bookings/user",
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Bookings, nil
}

// ListUserBookings возвращает бронирования указанного пользователя.
func (a *API) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	var env bookingsEnvelope
	err := a.doJSON(ctx, call{
		op:     "list user bookings",
		method: http.MethodGet,
		path:   "/api/bookings/user/" + url.PathEscape(userID),
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Bookings, nil
}

// CancelBooking отменяет бронирование и возвращает его обновлённую версию.
func (a *API) CancelBooking(ctx context.Context, id string) (*model.Booking, error) {
	var env bookingEnvelope
	err := a.doJSON(ctx, call{
		op:     "cancel booking",
		method: http.MethodPut,
		path:   "/api/bookings/" + url.PathEscape(id) + "/cancel",
		body:   cancelRequest{},
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Booking == nil {
		return nil, &RemoteError{Op: "cancel booking", StatusCode: http.StatusOK, Message: "empty booking"}
	}
	return env.Booking, nil
}

// DownloadTicket открывает поток с билетом бронирования.
func (a *API) DownloadTicket(ctx context.Context, id string) (*Ticket, error) {
	resp, err := a.do(ctx, call{
		op:     "download ticket",
		method: http.MethodGet,
		path:   "/api/bookings/" + url.PathEscape(id) + "/ticket",
		accept: "application/pdf, application/octet-stream",
	})
	if err != nil {
		return nil, err
	}

	t := &Ticket{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Filename:      "ticket-" + id + ".pdf",
	}
	if t.ContentType == "" {
		t.ContentType = "application/octet-stream"
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			t.Filename = params["filename"]
		}
	}
	return t, nil
}
