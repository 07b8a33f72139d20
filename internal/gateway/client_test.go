package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

type stubCreds struct {
	mu      sync.Mutex
	token   string
	rejects atomic.Int32
}

func (s *stubCreds) Token(context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *stubCreds) Reject(context.Context) {
	s.rejects.Add(1)
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	codes []int
}

func (o *recordingObserver) ObserveCall(op string, code int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op)
	o.codes = append(o.codes, code)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestAPI_AttachesBearerToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user": map[string]any{"_id": "u1", "email": "a@b.c", "role": "customer"},
		})
	}))
	defer ts.Close()

	obs := &recordingObserver{}
	api := NewClient(ts.URL, WithObserver(obs)).As(&stubCreds{token: "tok-1"})

	u, err := api.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, []string{"get profile"}, obs.calls)
	assert.Equal(t, []int{http.StatusOK}, obs.codes)
}

func TestAPI_AnonymousRequestHasNoAuthorization(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, map[string]any{"flights": []any{}})
	}))
	defer ts.Close()

	flights, err := NewClient(ts.URL).As(nil).ListFlights(context.Background())
	require.NoError(t, err)
	assert.Empty(t, flights)
}

func TestAPI_UnauthorizedRejectsSessionOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"message": "jwt expired"})
	}))
	defer ts.Close()

	creds := &stubCreds{token: "stale"}
	api := NewClient(ts.URL).As(creds)

	_, err := api.ListMyBookings(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), creds.rejects.Load())

	_, ok := creds.Token(context.Background())
	assert.False(t, ok)
}

func TestAPI_ConcurrentUnauthorizedCalls(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	creds := &stubCreds{token: "stale"}
	api := NewClient(ts.URL).As(creds)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = api.GetBooking(context.Background(), "B1")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, int32(2), creds.rejects.Load(), "one rejection per failing call")
	_, ok := creds.Token(context.Background())
	assert.False(t, ok)
}

func TestAPI_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{"message": "Flight not found"})
	}))
	defer ts.Close()

	creds := &stubCreds{token: "tok"}
	_, err := NewClient(ts.URL).As(creds).GetFlight(context.Background(), "F404")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(0), creds.rejects.Load())
}

func TestAPI_RemoteErrorCarriesBackendMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]string{"message": "Not enough seats"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).As(&stubCreds{token: "tok"}).CreateBooking(context.Background(), model.BookingRequest{FlightID: "F1"})
	require.Error(t, err)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.StatusCode)
	assert.Equal(t, "Not enough seats", UserMessage(err, "Booking failed."))
	assert.True(t, IsClientError(err))
}

func TestAPI_RemoteErrorFallbackMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer ts.Close()

	err := NewClient(ts.URL).As(nil).ConfirmPayment(context.Background(), ConfirmRequest{PaymentIntentID: "pi_1", BookingID: "B1"})
	require.Error(t, err)
	assert.Equal(t, "Payment failed.", UserMessage(err, "Payment failed."))
	assert.False(t, IsClientError(err))
}

func TestAPI_SearchFlightsQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/flights/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "DEL", q.Get("origin"))
		assert.Equal(t, "BOM", q.Get("destination"))
		assert.Equal(t, "2026-11-01", q.Get("departureDate"))
		assert.Equal(t, "2", q.Get("passengers"))
		assert.Equal(t, "business", q.Get("cabinClass"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"flights": []map[string]any{
				{"_id": "F1", "airline": "Air", "origin": "DEL", "destination": "BOM"},
			},
		})
	}))
	defer ts.Close()

	flights, err := NewClient(ts.URL).As(nil).SearchFlights(context.Background(), model.SearchCriteria{
		Origin:        "DEL",
		Destination:   "BOM",
		DepartureDate: "2026-11-01",
		Passengers:    2,
		CabinClass:    model.CabinBusiness,
	})
	require.NoError(t, err)
	require.Len(t, flights, 1)
	assert.Equal(t, "DEL", flights[0].Origin.Key())
}

func TestAPI_ConfirmPaymentPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments/confirm", r.URL.Path)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"paymentIntentId": "pi_123", "bookingId": "B1"}, body)
		writeJSON(t, w, http.StatusOK, map[string]bool{"success": true})
	}))
	defer ts.Close()

	err := NewClient(ts.URL).As(&stubCreds{token: "tok"}).ConfirmPayment(context.Background(), ConfirmRequest{
		PaymentIntentID: "pi_123",
		BookingID:       "B1",
	})
	require.NoError(t, err)
}

func TestAPI_CreatePaymentIntentRejectsEmptyHandle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]string{"clientSecret": "secret"})
	}))
	defer ts.Close()

	intent, err := NewClient(ts.URL).As(&stubCreds{token: "tok"}).CreatePaymentIntent(context.Background(), IntentRequest{
		BookingID:     "B1",
		PaymentMethod: model.PaymentUPI,
		UPIID:         "jane@okaxis",
	})
	require.Error(t, err)
	assert.Nil(t, intent)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusOK, re.StatusCode)
	assert.False(t, IsClientError(err))
	assert.Equal(t, "fallback", UserMessage(err, "fallback"))
}

func TestAPI_DownloadTicketStreamsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bookings/B1/ticket", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="B1.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4 ticket"))
	}))
	defer ts.Close()

	ticket, err := NewClient(ts.URL).As(&stubCreds{token: "tok"}).DownloadTicket(context.Background(), "B1")
	require.NoError(t, err)
	defer ticket.Body.Close()

	data, err := io.ReadAll(ticket.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 ticket", string(data))
	assert.Equal(t, "application/pdf", ticket.ContentType)
	assert.Equal(t, "B1.pdf", ticket.Filename)
}

func TestAPI_NotConfigured(t *testing.T) {
	_, err := NewClient("").As(nil).ListFlights(context.Background())
	require.Error(t, err)

	var re *RemoteError
	assert.True(t, errors.As(err, &re))
}
