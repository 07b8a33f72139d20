package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/booking"
	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/flights"
	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

const maxCardResultSize = 4 << 10

type bookingForm struct {
	flight    *model.Flight
	draft     *booking.Draft
	attemptID string
	method    model.PaymentMethod
	errors    map[string]string
	message   string
}

// loadFlight загружает рейс формы бронирования; при ошибке ответ уже отправлен.
func (h *Handler) loadFlight(w http.ResponseWriter, r *http.Request) (*model.Flight, bool) {
	f, err := h.lookup.GetByID(r.Context(), h.api(r), chi.URLParam(r, "flightID"))
	if err != nil {
		if errors.Is(err, flights.ErrNotFound) {
			h.renderNotFound(w, r, "This flight does not exist.")
			return nil, false
		}
		h.fail(w, r, err, "Could not load the flight.")
		return nil, false
	}
	return f, true
}

func (h *Handler) renderBookingForm(w http.ResponseWriter, r *http.Request, status int, form bookingForm) {
	data := view.BookingData{
		Flight:        form.flight,
		Draft:         form.draft,
		AttemptID:     form.attemptID,
		Method:        form.method,
		Classes:       model.CabinClasses,
		Genders:       model.Genders,
		MaxPassengers: booking.MaxPassengers,
		Errors:        form.errors,
	}
	if total, err := form.draft.Total(form.flight); err == nil {
		data.Total = total
		data.Priced = true
	}

	p := h.page(r, "Book "+form.flight.FlightNumber, data)
	p.Error = form.message
	h.render(w, status, "booking", p)
}

// BookingForm отрисовывает новый черновик бронирования рейса.
func (h *Handler) BookingForm(w http.ResponseWriter, r *http.Request) {
	f, ok := h.loadFlight(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	draft := booking.NewDraft(parseClass(q.Get("cabinClass")), h.session(r).User())
	for n := parsePassengers(q.Get("passengers")); len(draft.Passengers) < n; {
		if err := draft.AddPassenger(); err != nil {
			break
		}
	}

	h.renderBookingForm(w, r, http.StatusOK, bookingForm{
		flight:    f,
		draft:     draft,
		attemptID: checkout.NewAttemptID(),
		method:    model.PaymentCard,
	})
}

// draftFromForm восстанавливает черновик из отправленной формы.
// Пассажиры передаются параллельными списками полей в порядке следования.
func draftFromForm(r *http.Request, user *model.UserProfile) *booking.Draft {
	form := r.PostForm
	draft := booking.NewDraft(parseClass(form.Get("cabinClass")), user)

	first := form["firstName"]
	n := min(len(first), booking.MaxPassengers)
	for len(draft.Passengers) < n {
		if err := draft.AddPassenger(); err != nil {
			break
		}
	}
	for i := 0; i < n; i++ {
		_ = draft.UpdatePassenger(i, model.Passenger{
			FirstName:   first[i],
			LastName:    formValue(form["lastName"], i),
			DateOfBirth: formValue(form["dateOfBirth"], i),
			Gender:      model.Gender(formValue(form["gender"], i)),
		})
	}

	draft.SetContact(model.ContactInfo{Email: form.Get("email"), Phone: form.Get("phone")})
	return draft
}

func formValue(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func validationErrors(ve *booking.ValidationError) map[string]string {
	errs := make(map[string]string, len(ve.Fields))
	for _, f := range ve.Fields {
		if _, ok := errs[f.Field]; !ok {
			errs[f.Field] = f.Message
		}
	}
	return errs
}

// SubmitBooking обрабатывает действия формы бронирования: изменение списка пассажиров,
// пересчёт стоимости и отправку. Отправка создаёт бронирование и переходит к оплате.
func (h *Handler) SubmitBooking(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	f, ok := h.loadFlight(w, r)
	if !ok {
		return
	}

	method, ok := model.ParsePaymentMethod(r.PostForm.Get("method"))
	if !ok {
		method = model.PaymentCard
	}
	form := bookingForm{
		flight:    f,
		draft:     draftFromForm(r, h.session(r).User()),
		attemptID: r.PostForm.Get("attemptId"),
		method:    method,
		errors:    map[string]string{},
	}
	if form.attemptID == "" {
		form.attemptID = checkout.NewAttemptID()
	}

	action := r.PostForm.Get("action")
	switch {
	case action == "add":
		if err := form.draft.AddPassenger(); err != nil {
			form.errors["passengers"] = "At most 9 passengers per booking."
		}
		h.renderBookingForm(w, r, http.StatusOK, form)
		return
	case strings.HasPrefix(action, "remove:"):
		i, err := strconv.Atoi(strings.TrimPrefix(action, "remove:"))
		if err == nil {
			err = form.draft.RemovePassenger(i)
		}
		if err != nil {
			form.message = "At least one passenger is required."
		}
		h.renderBookingForm(w, r, http.StatusOK, form)
		return
	case action != "submit":
		h.renderBookingForm(w, r, http.StatusOK, form)
		return
	}

	req, err := form.draft.Finalize(f, h.now())
	if err != nil {
		var ve *booking.ValidationError
		switch {
		case errors.As(err, &ve):
			form.errors = validationErrors(ve)
			form.message = "Please complete the highlighted fields."
		case errors.Is(err, booking.ErrClassUnavailable):
			form.errors["cabinClass"] = "This class is not available on this flight."
		default:
			form.message = "Please check the booking details."
		}
		h.renderBookingForm(w, r, http.StatusUnprocessableEntity, form)
		return
	}

	a, err := h.orchestrator.Start(r.Context(), h.caller(r), form.attemptID, req, method)
	switch {
	case err == nil:
		http.Redirect(w, r, "/checkout/"+a.ID, http.StatusSeeOther)
	case errors.Is(err, gateway.ErrUnauthorized):
		middleware.RedirectToLogin(w, r)
	case a.HasBooking():
		// Бронирование создано, ошибка относится к запросу платёжного дескриптора.
		http.Redirect(w, r, "/checkout/"+a.ID, http.StatusSeeOther)
	case errors.Is(err, checkout.ErrAttemptNotFound):
		form.attemptID = checkout.NewAttemptID()
		form.message = "Your booking form has expired. Please submit it again."
		h.renderBookingForm(w, r, http.StatusConflict, form)
	default:
		h.logger.Warn("create booking error", zap.String("attempt", form.attemptID), zap.Error(err))
		form.attemptID = checkout.NewAttemptID()
		form.message = gateway.UserMessage(err, "Booking failed. Please try again.")
		status := http.StatusBadGateway
		if gateway.IsClientError(err) {
			status = http.StatusUnprocessableEntity
		}
		h.renderBookingForm(w, r, status, form)
	}
}

func (h *Handler) renderCheckout(w http.ResponseWriter, r *http.Request, status int, a checkout.Attempt, upiID, errMsg string) {
	p := h.page(r, "Payment", view.CheckoutData{
		Attempt:        a,
		PublishableKey: h.publishableKey,
		CardURL:        "/checkout/" + a.ID + "/card",
		ReturnURL:      absoluteURL(r, "/checkout/"+a.ID+"/return"),
		UPIID:          upiID,
	})
	p.Error = errMsg
	h.render(w, status, "checkout", p)
}

// Checkout отрисовывает шаг оплаты попытки.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	a, err := h.orchestrator.Get(r.Context(), h.caller(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Could not load the payment.")
		return
	}
	h.renderCheckout(w, r, http.StatusOK, a, "", "")
}

type cardResponse struct {
	Redirect string `json:"redirect,omitempty"`
	Error    string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CardResult принимает результат платёжного виджета и подтверждает оплату.
// Ответ сообщает сценарию страницы, куда перейти или какую ошибку показать.
func (h *Handler) CardResult(w http.ResponseWriter, r *http.Request) {
	var res checkout.CardResult
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCardResultSize)).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, cardResponse{Error: "Malformed payment result."})
		return
	}

	a, err := h.orchestrator.CompleteCard(r.Context(), h.caller(r), chi.URLParam(r, "id"), res)
	var rejected *checkout.PaymentRejectedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cardResponse{Redirect: withNotice(a.DetailPath(), "paid")})
	case errors.Is(err, gateway.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, cardResponse{Redirect: "/login"})
	case errors.Is(err, checkout.ErrAttemptNotFound):
		writeJSON(w, http.StatusNotFound, cardResponse{Error: "Payment not found."})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, cardResponse{Error: rejected.Message})
	case errors.Is(err, checkout.ErrPhaseConflict):
		writeJSON(w, http.StatusConflict, cardResponse{Redirect: "/checkout/" + a.ID})
	default:
		h.logger.Warn("complete card payment error", zap.String("attempt", a.ID), zap.Error(err))
		msg := a.Error
		if msg == "" {
			msg = gateway.UserMessage(err, "Payment confirmation failed. Please try again.")
		}
		writeJSON(w, http.StatusBadGateway, cardResponse{Error: msg})
	}
}

// CardReturn обрабатывает возврат браузера после внешнего подтверждения платежа.
func (h *Handler) CardReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := chi.URLParam(r, "id")
	a, err := h.orchestrator.Return(r.Context(), h.caller(r), id, q.Get("payment_intent"), q.Get("redirect_status"))
	h.afterPayment(w, r, id, a, err)
}

// afterPayment перенаправляет после шага оплаты: на бронирование при успехе,
// иначе обратно на страницу оплаты, где показана ошибка попытки.
func (h *Handler) afterPayment(w http.ResponseWriter, r *http.Request, id string, a checkout.Attempt, err error) {
	switch {
	case err == nil && a.Phase == checkout.PhasePaid:
		http.Redirect(w, r, withNotice(a.DetailPath(), "paid"), http.StatusSeeOther)
	case errors.Is(err, gateway.ErrUnauthorized):
		middleware.RedirectToLogin(w, r)
	case errors.Is(err, checkout.ErrAttemptNotFound):
		h.renderNotFound(w, r, "This payment does not exist.")
	default:
		if err != nil {
			h.logger.Info("payment step failed", zap.String("attempt", id), zap.Error(err))
		}
		http.Redirect(w, r, "/checkout/"+id, http.StatusSeeOther)
	}
}

// PayUPI оплачивает попытку по UPI ID.
func (h *Handler) PayUPI(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	upiID := strings.TrimSpace(r.PostForm.Get("upiId"))
	a, err := h.orchestrator.PayUPI(r.Context(), h.caller(r), id, upiID)
	if errors.Is(err, checkout.ErrInvalidUPI) {
		current, getErr := h.orchestrator.Get(r.Context(), h.caller(r), id)
		if getErr != nil {
			h.fail(w, r, getErr, "Could not load the payment.")
			return
		}
		h.renderCheckout(w, r, http.StatusUnprocessableEntity, current, upiID, "Enter a valid UPI ID, for example name@bank.")
		return
	}
	h.afterPayment(w, r, id, a, err)
}

// SwitchMethod меняет способ оплаты попытки.
func (h *Handler) SwitchMethod(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	method, ok := model.ParsePaymentMethod(r.PostForm.Get("method"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	a, err := h.orchestrator.SwitchMethod(r.Context(), h.caller(r), id, method)
	h.afterPayment(w, r, id, a, err)
}

// PrepareCard повторяет запрос платёжного дескриптора.
func (h *Handler) PrepareCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.orchestrator.PrepareCard(r.Context(), h.caller(r), id)
	h.afterPayment(w, r, id, a, err)
}
