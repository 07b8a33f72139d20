package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/flights"
	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/history"
	"github.com/mmeshcher/flightbook-web/internal/metrics"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/repository"
	"github.com/mmeshcher/flightbook-web/internal/session"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

const ticketBody = "%PDF-1.4 test ticket"

// fakeAPI имитирует удалённый API бронирования для тестов обработчиков.
type fakeAPI struct {
	mu           sync.Mutex
	flight       model.Flight
	bookings     map[string]*model.Booking
	calls        recordedCalls
	unauthorized bool
}

// recordedCalls хранит запросы, полученные fakeAPI.
type recordedCalls struct {
	created     []model.BookingRequest
	intents     []gateway.IntentRequest
	confirms    []gateway.ConfirmRequest
	cancelCalls int
	searchCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		flight: model.Flight{
			ID:           "F1",
			Airline:      "FlightBook Air",
			FlightNumber: "FB101",
			Origin:       model.Airport{Code: "DEL", City: "Delhi"},
			Destination:  model.Airport{Code: "BOM", City: "Mumbai"},
			Departure:    model.Schedule{Date: "2026-02-01", Time: "09:30"},
			Arrival:      model.Schedule{Date: "2026-02-01", Time: "11:45"},
			Pricing: map[model.CabinClass]model.ClassPricing{
				model.CabinEconomy:  {BasePrice: 100, AvailableSeats: 20},
				model.CabinBusiness: {BasePrice: 250, AvailableSeats: 4},
			},
		},
		bookings: make(map[string]*model.Booking),
	}
}

func (f *fakeAPI) addBooking(b model.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = &b
}

func (f *fakeAPI) booking(id string) model.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.bookings[id]
}

func (f *fakeAPI) recorded() recordedCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recordedCalls{
		created:     slices.Clone(f.calls.created),
		intents:     slices.Clone(f.calls.intents),
		confirms:    slices.Clone(f.calls.confirms),
		cancelCalls: f.calls.cancelCalls,
		searchCalls: f.calls.searchCalls,
	}
}

func (f *fakeAPI) setUnauthorized(v bool) {
	f.mu.Lock()
	f.unauthorized = v
	f.mu.Unlock()
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// authed оборачивает обработчик проверкой токена: без него или в режиме unauthorized отвечает 401.
func (f *fakeAPI) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		rejected := f.unauthorized
		f.mu.Unlock()
		if rejected || r.Header.Get("Authorization") != "Bearer tok-1" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"message": "Not authorized"})
			return
		}
		next(w, r)
	}
}

func (f *fakeAPI) routes() http.Handler {
	user := model.UserProfile{ID: "u1", Name: "Ann", Email: "ann@example.com", Phone: "+91 98765 43210", Role: model.RoleCustomer}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"token": "tok-1", "user": user})
	})
	mux.HandleFunc("GET /api/auth/me", f.authed(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"user": user})
	}))
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})

	mux.HandleFunc("GET /api/flights", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"flights": []model.Flight{f.flight}})
	})
	mux.HandleFunc("GET /api/flights/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls.searchCalls++
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{"flights": []model.Flight{f.flight}})
	})
	mux.HandleFunc("GET /api/flights/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != f.flight.ID {
			writeTestJSON(w, http.StatusNotFound, map[string]string{"message": "Flight not found"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"flight": f.flight})
	})

	mux.HandleFunc("POST /api/bookings", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var req model.BookingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.calls.created = append(f.calls.created, req)
		b := &model.Booking{
			ID:            "B1",
			Flight:        model.FlightRef{ID: req.FlightID},
			Passengers:    req.Passengers,
			CabinClass:    req.CabinClass,
			TotalPrice:    req.TotalPrice,
			ContactInfo:   req.ContactInfo,
			Status:        model.BookingPending,
			PaymentStatus: model.PaymentUnpaid,
			CreatedAt:     time.Now(),
		}
		f.bookings[b.ID] = b
		f.mu.Unlock()

		writeTestJSON(w, http.StatusCreated, map[string]any{"booking": b})
	}))
	mux.HandleFunc("GET /api/bookings/user", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		list := make([]model.Booking, 0, len(f.bookings))
		for _, b := range f.bookings {
			list = append(list, *b)
		}
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{"bookings": list})
	}))
	mux.HandleFunc("GET /api/bookings/{id}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		b, ok := f.bookings[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			writeTestJSON(w, http.StatusNotFound, map[string]string{"message": "Booking not found"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"booking": b})
	}))
	mux.HandleFunc("GET /api/bookings/{id}/{sub}", f.authed(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("sub") != "ticket" {
			writeTestJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="ticket-`+r.PathValue("id")+`.pdf"`)
		_, _ = io.WriteString(w, ticketBody)
	}))
	mux.HandleFunc("PUT /api/bookings/{id}/cancel", f.authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls.cancelCalls++
		b, ok := f.bookings[r.PathValue("id")]
		if ok {
			b.Status = model.BookingCancelled
		}
		f.mu.Unlock()
		if !ok {
			writeTestJSON(w, http.StatusNotFound, map[string]string{"message": "Booking not found"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"booking": b})
	}))

	mux.HandleFunc("POST /api/payments/create-intent", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var req gateway.IntentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.calls.intents = append(f.calls.intents, req)
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, gateway.PaymentIntent{ClientSecret: "cs_test_1", PaymentIntentID: "pi_123"})
	}))
	mux.HandleFunc("POST /api/payments/confirm", f.authed(func(w http.ResponseWriter, r *http.Request) {
		var req gateway.ConfirmRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.calls.confirms = append(f.calls.confirms, req)
		if b, ok := f.bookings[req.BookingID]; ok {
			b.PaymentStatus = model.PaymentPaid
			b.Status = model.BookingConfirmed
		}
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]string{"message": "Payment confirmed"})
	}))
	return mux
}

type testEnv struct {
	api    *fakeAPI
	router http.Handler
	cookie *http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fake := newFakeAPI()
	srv := httptest.NewServer(fake.routes())
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()
	manager := session.NewManager(repo, logger)
	m := metrics.New()
	manager.Subscribe(m.SessionListener)

	renderer, err := view.New()
	require.NoError(t, err)

	h := NewHandler(Dependencies{
		Client:         gateway.NewClient(srv.URL, gateway.WithLogger(logger), gateway.WithObserver(m)),
		Lookup:         flights.NewLookup(nil, logger),
		Orchestrator:   checkout.NewOrchestrator(repo, logger, m),
		Viewer:         history.NewViewer(logger),
		View:           renderer,
		Sessions:       middleware.NewSessionMiddleware("test-secret", manager, logger),
		Metrics:        m.Handler(),
		PublishableKey: "pk_test_123",
		Logger:         logger,
		Now: func() time.Time {
			return time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
		},
	})

	return &testEnv{api: fake, router: h.SetupRouter()}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			e.cookie = c
		}
	}
	return rec
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (e *testEnv) postForm(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func (e *testEnv) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	rec := e.postForm(t, "/login", url.Values{"email": {"ann@example.com"}, "password": {"secret"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
}

func bookingFormValues(attemptID string, method model.PaymentMethod) url.Values {
	return url.Values{
		"attemptId":   {attemptID},
		"cabinClass":  {"economy"},
		"method":      {string(method)},
		"action":      {"submit"},
		"firstName":   {"Ann", "Bob"},
		"lastName":    {"Lee", "Lee"},
		"dateOfBirth": {"1990-01-01", "1992-02-02"},
		"gender":      {"female", "male"},
		"email":       {"ann@example.com"},
		"phone":       {"+91 98765 43210"},
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetrics_ExposesCounters(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	rec := e.get(t, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `flightbook_session_events_total{kind="set"} 1`)
	assert.Contains(t, body, `flightbook_api_calls_total{code="200",op="login"} 1`)
}

func TestHome_RendersSearchWithOptions(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Find a flight")
	assert.Contains(t, rec.Body.String(), `<option value="DEL">`)
	assert.NotEmpty(t, rec.Result().Cookies(), "session cookie must be issued")
}

func TestSearch_IncompleteCriteriaSkipsAPI(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/search?origin=DEL")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please fill in")
	assert.Zero(t, e.api.recorded().searchCalls)
}

func TestSearch_ShowsResults(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/search?origin=DEL&destination=BOM&departureDate=2026-02-01&passengers=2&cabinClass=economy")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "FB101")
	assert.Contains(t, body, "100.00")
	assert.Contains(t, body, "/flights/F1?cabinClass=economy")
	assert.Equal(t, 1, e.api.recorded().searchCalls)
}

func TestFlight_NotFound(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/flights/missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "This flight does not exist.")
}

func TestProtectedPage_RedirectsToLogin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/bookings")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fbookings", rec.Header().Get("Location"))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	e := newTestEnv(t)

	rec := e.postForm(t, "/login", url.Values{"email": {"ann@example.com"}, "password": {"wrong"}})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password.")
}

func TestLogin_RedirectsToNext(t *testing.T) {
	e := newTestEnv(t)

	rec := e.postForm(t, "/login", url.Values{
		"email":    {"ann@example.com"},
		"password": {"secret"},
		"next":     {"/bookings"},
	})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bookings", rec.Header().Get("Location"))

	rec = e.get(t, "/bookings")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginPage_RedirectsAuthenticatedUser(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	rec := e.get(t, "/login")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLogout_ClearsSession(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	rec := e.postForm(t, "/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = e.get(t, "/bookings")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestLogin_IssuesNewSessionCookie(t *testing.T) {
	e := newTestEnv(t)

	e.get(t, "/")
	require.NotNil(t, e.cookie)
	anonymous := e.cookie.Value

	e.login(t)
	assert.NotEqual(t, anonymous, e.cookie.Value)

	// Идентификатор, выданный до входа, остаётся анонимным.
	e.cookie = &http.Cookie{Name: "sid", Value: anonymous}
	rec := e.get(t, "/bookings")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestLogout_NextUserCannotSeePreviousAttempt(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentCard))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loggedIn := e.cookie.Value

	rec = e.postForm(t, "/logout", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.NotEqual(t, loggedIn, e.cookie.Value)

	e.login(t)
	rec = e.get(t, "/checkout/"+attemptID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "cs_test_1")
}

func TestUnauthorizedAPI_ClearsSessionAndRedirects(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	e.api.setUnauthorized(true)
	rec := e.get(t, "/bookings")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?next=%2Fbookings", rec.Header().Get("Location"))

	e.api.setUnauthorized(false)
	rec = e.get(t, "/bookings")
	assert.Equal(t, http.StatusSeeOther, rec.Code, "session must stay cleared")
}

func TestBookingForm_AddPassenger(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	rec := e.get(t, "/booking/F1?cabinClass=business&passengers=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "250.00")
	assert.Contains(t, rec.Body.String(), `value="ann@example.com"`, "contact must be prefilled")

	form := url.Values{
		"attemptId":  {uuid.NewString()},
		"cabinClass": {"business"},
		"action":     {"add"},
		"firstName":  {"Ann"},
		"lastName":   {"Lee"},
		"email":      {"ann@example.com"},
	}
	rec = e.postForm(t, "/booking/F1", form)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), `name="firstName"`))
	assert.Contains(t, rec.Body.String(), "500.00")
	assert.Empty(t, e.api.recorded().created)
}

func TestBookingForm_RemoveLastPassengerRejected(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	form := url.Values{
		"attemptId":  {uuid.NewString()},
		"cabinClass": {"economy"},
		"action":     {"remove:0"},
		"firstName":  {"Ann"},
	}
	rec := e.postForm(t, "/booking/F1", form)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), `name="firstName"`))
	assert.Contains(t, rec.Body.String(), "At least one passenger is required.")
}

func TestBookingSubmit_ValidationSkipsAPI(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	form := bookingFormValues(uuid.NewString(), model.PaymentCard)
	form.Set("email", "")
	rec := e.postForm(t, "/booking/F1", form)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please complete the highlighted fields.")
	assert.Empty(t, e.api.recorded().created)
}

func TestCheckout_CardFlow(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentCard))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/checkout/"+attemptID, rec.Header().Get("Location"))

	require.Len(t, e.api.recorded().created, 1)
	assert.Equal(t, 200.0, e.api.recorded().created[0].TotalPrice)
	assert.Len(t, e.api.recorded().created[0].Passengers, 2)

	// Повторная отправка той же формы не создаёт второе бронирование.
	rec = e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentCard))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Len(t, e.api.recorded().created, 1)

	rec = e.get(t, "/checkout/"+attemptID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cs_test_1")
	assert.Contains(t, rec.Body.String(), "pk_test_123")

	rec = e.postJSON(t, "/checkout/"+attemptID+"/card", checkout.CardResult{
		PaymentIntentID: "pi_123",
		Status:          "succeeded",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp cardResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "/bookings/B1?notice=paid", resp.Redirect)

	require.Len(t, e.api.recorded().confirms, 1)
	assert.Equal(t, gateway.ConfirmRequest{PaymentIntentID: "pi_123", BookingID: "B1"}, e.api.recorded().confirms[0])
	assert.Equal(t, model.PaymentPaid, e.api.booking("B1").PaymentStatus)
}

func TestCheckout_DeclineThenRetryReusesBooking(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentCard))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = e.postJSON(t, "/checkout/"+attemptID+"/card", checkout.CardResult{Error: "Your card was declined."})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your card was declined.")
	assert.Equal(t, model.PaymentUnpaid, e.api.booking("B1").PaymentStatus)
	assert.Empty(t, e.api.recorded().confirms)

	rec = e.get(t, "/checkout/"+attemptID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your card was declined.")

	rec = e.postJSON(t, "/checkout/"+attemptID+"/card", checkout.CardResult{PaymentIntentID: "pi_123", Status: "succeeded"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, e.api.recorded().created, 1)
	require.Len(t, e.api.recorded().confirms, 1)
	assert.Equal(t, "B1", e.api.recorded().confirms[0].BookingID)
}

func TestCheckout_RedirectReturn(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentCard))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = e.get(t, "/checkout/"+attemptID+"/return?payment_intent=pi_123&redirect_status=succeeded")

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bookings/B1?notice=paid", rec.Header().Get("Location"))
	assert.Len(t, e.api.recorded().confirms, 1)
}

func TestCheckout_UPI(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentUPI))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Empty(t, e.api.recorded().intents, "UPI does not request a client secret up front")

	rec = e.postForm(t, "/checkout/"+attemptID+"/upi", url.Values{"upiId": {"not-an-id"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Enter a valid UPI ID")
	assert.Empty(t, e.api.recorded().intents)

	rec = e.postForm(t, "/checkout/"+attemptID+"/upi", url.Values{"upiId": {"ann@okbank"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bookings/B1?notice=paid", rec.Header().Get("Location"))

	require.Len(t, e.api.recorded().intents, 1)
	assert.Equal(t, model.PaymentUPI, e.api.recorded().intents[0].PaymentMethod)
	assert.Equal(t, "ann@okbank", e.api.recorded().intents[0].UPIID)
	require.Len(t, e.api.recorded().confirms, 1)
	assert.Equal(t, gateway.ConfirmRequest{PaymentIntentID: "pi_123", BookingID: "B1"}, e.api.recorded().confirms[0])
}

func TestCheckout_OtherSessionCannotSeeAttempt(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/booking/F1", bookingFormValues(attemptID, model.PaymentCard))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	e.cookie = nil
	e.login(t)

	rec = e.get(t, "/checkout/"+attemptID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayBooking_StartsNewAttemptForUnpaidBooking(t *testing.T) {
	e := newTestEnv(t)
	e.api.addBooking(model.Booking{ID: "B5", Flight: model.FlightRef{ID: "F1"}, TotalPrice: 100, Status: model.BookingPending, PaymentStatus: model.PaymentUnpaid})
	e.login(t)

	attemptID := uuid.NewString()
	rec := e.postForm(t, "/bookings/B5/pay", url.Values{"attemptId": {attemptID}, "method": {"credit_card"}})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/checkout/"+attemptID, rec.Header().Get("Location"))
	assert.Empty(t, e.api.recorded().created)
	require.Len(t, e.api.recorded().intents, 1)
	assert.Equal(t, "B5", e.api.recorded().intents[0].BookingID)
}

func TestCancelBooking(t *testing.T) {
	e := newTestEnv(t)
	e.api.addBooking(model.Booking{ID: "B2", Status: model.BookingPending, PaymentStatus: model.PaymentUnpaid})
	e.api.addBooking(model.Booking{ID: "B3", Status: model.BookingCancelled, PaymentStatus: model.PaymentUnpaid})
	e.login(t)

	rec := e.postForm(t, "/bookings/B2/cancel", url.Values{})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bookings?notice=cancelled", rec.Header().Get("Location"))
	assert.Equal(t, model.BookingCancelled, e.api.booking("B2").Status)
	assert.Equal(t, 1, e.api.recorded().cancelCalls)

	rec = e.postForm(t, "/bookings/B3/cancel", url.Values{"next": {"/bookings/B3"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/bookings/B3?notice=already-cancelled", rec.Header().Get("Location"))
	assert.Equal(t, 1, e.api.recorded().cancelCalls, "cancelled booking must not be sent to the API")
}

func TestBookings_HidesCancelForCancelledBooking(t *testing.T) {
	e := newTestEnv(t)
	e.api.addBooking(model.Booking{ID: "B3", Status: model.BookingCancelled, PaymentStatus: model.PaymentUnpaid})
	e.login(t)

	rec := e.get(t, "/bookings")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/bookings/B3")
	assert.NotContains(t, rec.Body.String(), "/bookings/B3/cancel")
}

func TestTicket_StreamsPaidBooking(t *testing.T) {
	e := newTestEnv(t)
	e.api.addBooking(model.Booking{ID: "B7", Status: model.BookingConfirmed, PaymentStatus: model.PaymentPaid})
	e.login(t)

	rec := e.get(t, "/bookings/B7/ticket")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ticket-B7.pdf")
	assert.Equal(t, ticketBody, rec.Body.String())
}

func TestTicket_UnpaidBooking(t *testing.T) {
	e := newTestEnv(t)
	e.api.addBooking(model.Booking{ID: "B8", Status: model.BookingPending, PaymentStatus: model.PaymentUnpaid})
	e.login(t)

	rec := e.get(t, "/bookings/B8/ticket")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookingDetail_NotFound(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	rec := e.get(t, "/bookings/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_CustomerRedirected(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	rec := e.get(t, "/admin")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/bookings", want: "/bookings"},
		{in: "", want: "/"},
		{in: "https://evil.example", want: "/"},
		{in: "//evil.example", want: "/"},
		{in: "/\\evil.example", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, safeNext(tt.in))
		})
	}
}
