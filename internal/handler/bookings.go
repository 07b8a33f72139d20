package handler

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/history"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

// Bookings отрисовывает список бронирований пользователя.
func (h *Handler) Bookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.viewer.ListMine(r.Context(), h.api(r))
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			middleware.RedirectToLogin(w, r)
			return
		}
		h.logger.Warn("list bookings error", zap.Error(err))
		p := h.page(r, "My bookings", view.BookingsData{})
		p.Error = gateway.UserMessage(err, "Could not load your bookings.")
		h.render(w, http.StatusBadGateway, "bookings", p)
		return
	}
	h.render(w, http.StatusOK, "bookings", h.page(r, "My bookings", view.BookingsData{Bookings: list}))
}

// BookingDetail отрисовывает бронирование с доступными действиями.
func (h *Handler) BookingDetail(w http.ResponseWriter, r *http.Request) {
	b, err := h.viewer.Get(r.Context(), h.api(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			h.renderNotFound(w, r, "This booking does not exist.")
			return
		}
		h.fail(w, r, err, "Could not load the booking.")
		return
	}
	h.render(w, http.StatusOK, "booking_detail", h.page(r, "Booking "+b.ID, view.BookingDetailData{
		Booking:   b,
		AttemptID: checkout.NewAttemptID(),
	}))
}

// cancelTarget возвращает страницу, на которую нужно вернуться после отмены.
func cancelTarget(r *http.Request) string {
	next := r.PostForm.Get("next")
	if next == "" {
		return "/bookings"
	}
	return safeNext(next)
}

// CancelBooking отменяет бронирование. Уже отменённое бронирование в API не отправляется.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	_, err := h.viewer.Cancel(r.Context(), h.api(r), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		http.Redirect(w, r, withNotice(cancelTarget(r), "cancelled"), http.StatusSeeOther)
	case errors.Is(err, history.ErrAlreadyCancelled):
		http.Redirect(w, r, withNotice(cancelTarget(r), "already-cancelled"), http.StatusSeeOther)
	case errors.Is(err, history.ErrNotFound):
		h.renderNotFound(w, r, "This booking does not exist.")
	default:
		h.fail(w, r, err, "Could not cancel the booking.")
	}
}

// Ticket передаёт билет оплаченного бронирования потоком, не загружая его в память.
func (h *Handler) Ticket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	started := false
	err := h.viewer.ExportTicket(r.Context(), h.api(r), id, w, func(t *gateway.Ticket) {
		started = true
		w.Header().Set("Content-Type", t.ContentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": t.Filename}))
		if t.ContentLength > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(t.ContentLength, 10))
		}
		w.WriteHeader(http.StatusOK)
	})
	if err == nil {
		return
	}
	if started {
		h.logger.Warn("ticket stream interrupted", zap.String("booking", id), zap.Error(err))
		return
	}

	switch {
	case errors.Is(err, history.ErrTicketUnavailable):
		h.render(w, http.StatusConflict, "error", h.page(r, "Ticket", view.ErrorData{
			Status:  http.StatusConflict,
			Message: "The ticket is available once the booking is paid.",
		}))
	case errors.Is(err, history.ErrNotFound):
		h.renderNotFound(w, r, "This booking does not exist.")
	default:
		h.fail(w, r, err, "Could not download the ticket.")
	}
}

// PayBooking начинает новую попытку оплаты существующего неоплаченного бронирования.
func (h *Handler) PayBooking(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	method, ok := model.ParsePaymentMethod(r.PostForm.Get("method"))
	if !ok {
		method = model.PaymentCard
	}
	attemptID := r.PostForm.Get("attemptId")
	if attemptID == "" {
		attemptID = checkout.NewAttemptID()
	}

	a, err := h.orchestrator.Resume(r.Context(), h.caller(r), attemptID, id, method)
	switch {
	case err == nil, a.HasBooking():
		http.Redirect(w, r, "/checkout/"+a.ID, http.StatusSeeOther)
	case errors.Is(err, checkout.ErrNotPayable):
		http.Redirect(w, r, withNotice("/bookings/"+id, "not-payable"), http.StatusSeeOther)
	default:
		h.fail(w, r, err, "Could not start the payment.")
	}
}

// RefundBooking запрашивает возврат по отменённому оплаченному бронированию.
func (h *Handler) RefundBooking(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	_, err := h.viewer.Refund(r.Context(), h.api(r), id, r.PostForm.Get("reason"))
	switch {
	case err == nil:
		http.Redirect(w, r, withNotice("/bookings/"+id, "refund-requested"), http.StatusSeeOther)
	case errors.Is(err, history.ErrNotRefundable):
		http.Redirect(w, r, withNotice("/bookings/"+id, "not-refundable"), http.StatusSeeOther)
	default:
		h.fail(w, r, err, "Could not request a refund.")
	}
}
