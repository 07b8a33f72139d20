package history

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/model"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ListMyBookings(ctx context.Context) ([]model.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Booking), args.Error(1)
}

func (m *MockAPI) ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]model.Booking), args.Error(1)
}

func (m *MockAPI) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *MockAPI) CancelBooking(ctx context.Context, id string) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *MockAPI) DownloadTicket(ctx context.Context, id string) (*gateway.Ticket, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Ticket), args.Error(1)
}

func (m *MockAPI) RefundPayment(ctx context.Context, req gateway.RefundRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func booking(id string, status model.BookingStatus, payment model.PaymentStatus, created time.Time) model.Booking {
	return model.Booking{
		ID:            id,
		Flight:        model.FlightRef{ID: "F1"},
		CabinClass:    model.CabinEconomy,
		TotalPrice:    200,
		Status:        status,
		PaymentStatus: payment,
		CreatedAt:     created,
	}
}

var base = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func TestViewer_ListMineMostRecentFirst(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	api.On("ListMyBookings", ctx).Return([]model.Booking{
		booking("B1", model.BookingPending, model.PaymentUnpaid, base),
		booking("B3", model.BookingConfirmed, model.PaymentPaid, base.Add(48*time.Hour)),
		booking("B2", model.BookingCancelled, model.PaymentUnpaid, base.Add(24*time.Hour)),
	}, nil).Once()

	got, err := NewViewer(nil).ListMine(ctx, api)
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"B3", "B2", "B1"}, ids)
}

func TestViewer_GetNotFound(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	api.On("GetBooking", ctx, "B404").Return(nil, gateway.ErrNotFound).Once()

	_, err := NewViewer(nil).Get(ctx, api, "B404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestViewer_CancelAlreadyCancelledIsRejectedLocally(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	cancelled := booking("B1", model.BookingCancelled, model.PaymentUnpaid, base)
	api.On("GetBooking", ctx, "B1").Return(&cancelled, nil).Once()

	list := []model.Booking{cancelled, booking("B2", model.BookingPending, model.PaymentUnpaid, base)}
	before := append([]model.Booking(nil), list...)

	got, err := NewViewer(nil).Cancel(ctx, api, "B1")
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.False(t, got.Cancellable())
	api.AssertNotCalled(t, "CancelBooking", mock.Anything, mock.Anything)

	assert.Equal(t, before, list)
}

func TestViewer_CancelUpdatesList(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	pending := booking("B1", model.BookingPending, model.PaymentUnpaid, base)
	cancelled := booking("B1", model.BookingCancelled, model.PaymentUnpaid, base)
	api.On("GetBooking", ctx, "B1").Return(&pending, nil).Once()
	api.On("CancelBooking", ctx, "B1").Return(&cancelled, nil).Once()

	updated, err := NewViewer(nil).Cancel(ctx, api, "B1")
	require.NoError(t, err)

	list := []model.Booking{pending, booking("B2", model.BookingPending, model.PaymentUnpaid, base)}
	next := ApplyCancel(list, updated)

	assert.Equal(t, model.BookingCancelled, next[0].Status)
	assert.Equal(t, model.BookingPending, list[0].Status, "original list is untouched")
	assert.Equal(t, "B2", next[1].ID)
}

func TestViewer_CancelRemoteFailureKeepsCurrent(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	pending := booking("B1", model.BookingPending, model.PaymentUnpaid, base)
	api.On("GetBooking", ctx, "B1").Return(&pending, nil).Once()
	api.On("CancelBooking", ctx, "B1").
		Return(nil, &gateway.RemoteError{Op: "cancel booking", StatusCode: http.StatusBadRequest, Message: "Cannot cancel within 2 hours of departure"}).Once()

	got, err := NewViewer(nil).Cancel(ctx, api, "B1")
	require.Error(t, err)
	assert.Equal(t, model.BookingPending, got.Status)
	assert.Equal(t, "Cannot cancel within 2 hours of departure", gateway.UserMessage(err, "Cancellation failed."))
}

func TestViewer_ExportTicketStreams(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	paid := booking("B1", model.BookingConfirmed, model.PaymentPaid, base)
	api.On("GetBooking", ctx, "B1").Return(&paid, nil).Once()
	api.On("DownloadTicket", ctx, "B1").Return(&gateway.Ticket{
		Body:        io.NopCloser(strings.NewReader("%PDF ticket")),
		ContentType: "application/pdf",
		Filename:    "B1.pdf",
	}, nil).Once()

	var (
		buf      bytes.Buffer
		filename string
	)
	err := NewViewer(nil).ExportTicket(ctx, api, "B1", &buf, func(t *gateway.Ticket) {
		filename = t.Filename
	})
	require.NoError(t, err)
	assert.Equal(t, "%PDF ticket", buf.String())
	assert.Equal(t, "B1.pdf", filename)
}

func TestViewer_ExportTicketRequiresPayment(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	unpaid := booking("B1", model.BookingPending, model.PaymentUnpaid, base)
	api.On("GetBooking", ctx, "B1").Return(&unpaid, nil).Once()

	var buf bytes.Buffer
	err := NewViewer(nil).ExportTicket(ctx, api, "B1", &buf, nil)
	require.ErrorIs(t, err, ErrTicketUnavailable)
	assert.Zero(t, buf.Len())
	api.AssertNotCalled(t, "DownloadTicket", mock.Anything, mock.Anything)
}

func TestViewer_Refund(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	paidCancelled := booking("B1", model.BookingCancelled, model.PaymentPaid, base)
	api.On("GetBooking", ctx, "B1").Return(&paidCancelled, nil).Twice()
	api.On("RefundPayment", ctx, gateway.RefundRequest{BookingID: "B1", Reason: "plans changed"}).Return(nil).Once()

	_, err := NewViewer(nil).Refund(ctx, api, "B1", " plans changed ")
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestViewer_RefundRejectsUnpaid(t *testing.T) {
	api := &MockAPI{}
	ctx := context.Background()

	pending := booking("B1", model.BookingPending, model.PaymentUnpaid, base)
	api.On("GetBooking", ctx, "B1").Return(&pending, nil).Once()

	_, err := NewViewer(nil).Refund(ctx, api, "B1", "")
	require.ErrorIs(t, err, ErrNotRefundable)
	api.AssertNotCalled(t, "RefundPayment", mock.Anything, mock.Anything)
}
