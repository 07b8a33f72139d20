// Package history показывает историю бронирований пользователя и выполняет действия над ними.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/model"
)

var (
	// ErrNotFound возвращается, если бронирование не существует.
	ErrNotFound = gateway.ErrNotFound
	// ErrAlreadyCancelled возвращается при попытке отменить уже отменённое бронирование.
	ErrAlreadyCancelled = errors.New("booking is already cancelled")
	// ErrTicketUnavailable возвращается, если билет ещё не оплачен.
	ErrTicketUnavailable = errors.New("ticket is available only for paid bookings")
	// ErrNotRefundable возвращается, если возврат по бронированию невозможен.
	ErrNotRefundable = errors.New("booking is not refundable")
)

// API описывает операции удалённого API для истории бронирований.
type API interface {
	ListMyBookings(ctx context.Context) ([]model.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]model.Booking, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	CancelBooking(ctx context.Context, id string) (*model.Booking, error)
	DownloadTicket(ctx context.Context, id string) (*gateway.Ticket, error)
	RefundPayment(ctx context.Context, req gateway.RefundRequest) error
}

// Viewer выполняет операции над бронированиями пользователя.
type Viewer struct {
	logger *zap.Logger
}

// NewViewer создаёт Viewer.
func NewViewer(logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Viewer{logger: logger}
}

// ListMine возвращает бронирования текущего пользователя, начиная с самых новых.
func (v *Viewer) ListMine(ctx context.Context, api API) ([]model.Booking, error) {
	bookings, err := api.ListMyBookings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	SortRecentFirst(bookings)
	return bookings, nil
}

// ListForUser возвращает бронирования указанного пользователя для страницы профиля.
func (v *Viewer) ListForUser(ctx context.Context, api API, userID string) ([]model.Booking, error) {
	bookings, err := api.ListUserBookings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user bookings: %w", err)
	}
	SortRecentFirst(bookings)
	return bookings, nil
}

// Get возвращает бронирование или ErrNotFound.
func (v *Viewer) Get(ctx context.Context, api API, id string) (*model.Booking, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	b, err := api.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// Cancel отменяет бронирование. Уже отменённое бронирование не отправляется в API.
// Окончательное решение о возможности отмены принимает API.
func (v *Viewer) Cancel(ctx context.Context, api API, id string) (*model.Booking, error) {
	current, err := v.Get(ctx, api, id)
	if err != nil {
		return nil, err
	}
	if !current.Cancellable() {
		return current, ErrAlreadyCancelled
	}

	updated, err := api.CancelBooking(ctx, id)
	if err != nil {
		return current, fmt.Errorf("cancel booking %s: %w", id, err)
	}
	v.logger.Info("booking cancelled", zap.String("booking", id))
	return updated, nil
}

// ApplyCancel возвращает список, в котором бронирование заменено обновлённой версией.
// Исходный срез не изменяется.
func ApplyCancel(list []model.Booking, updated *model.Booking) []model.Booking {
	out := make([]model.Booking, len(list))
	copy(out, list)
	if updated == nil {
		return out
	}
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = *updated
		}
	}
	return out
}

// ExportTicket передаёт билет в w потоком, не загружая его целиком.
// prepare вызывается до первой записи тела, чтобы вызывающий мог выставить заголовки.
func (v *Viewer) ExportTicket(ctx context.Context, api API, id string, w io.Writer, prepare func(*gateway.Ticket)) error {
	b, err := v.Get(ctx, api, id)
	if err != nil {
		return err
	}
	if !b.TicketAvailable() {
		return ErrTicketUnavailable
	}

	t, err := api.DownloadTicket(ctx, id)
	if err != nil {
		return fmt.Errorf("download ticket %s: %w", id, err)
	}
	defer t.Body.Close()

	if prepare != nil {
		prepare(t)
	}
	if _, err := io.Copy(w, t.Body); err != nil {
		return fmt.Errorf("stream ticket %s: %w", id, err)
	}
	return nil
}

// Refund запрашивает возврат средств по отменённому оплаченному бронированию.
func (v *Viewer) Refund(ctx context.Context, api API, id, reason string) (*model.Booking, error) {
	b, err := v.Get(ctx, api, id)
	if err != nil {
		return nil, err
	}
	if !b.Refundable() {
		return b, ErrNotRefundable
	}

	if err := api.RefundPayment(ctx, gateway.RefundRequest{BookingID: id, Reason: strings.TrimSpace(reason)}); err != nil {
		return b, fmt.Errorf("refund booking %s: %w", id, err)
	}
	v.logger.Info("refund requested", zap.String("booking", id))
	return v.Get(ctx, api, id)
}

// SortRecentFirst упорядочивает бронирования по времени создания, самые новые первыми.
func SortRecentFirst(bookings []model.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
}
