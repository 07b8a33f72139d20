package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/booking"
	"github.com/mmeshcher/flightbook-web/internal/flights"
	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/middleware"
	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/view"
)

func passengerCounts() []int {
	counts := make([]int, booking.MaxPassengers)
	for i := range counts {
		counts[i] = i + 1
	}
	return counts
}

// parsePassengers возвращает число пассажиров из запроса в пределах 1..MaxPassengers.
func parsePassengers(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 1
	}
	if n > booking.MaxPassengers {
		return booking.MaxPassengers
	}
	return n
}

func parseClass(s string) model.CabinClass {
	if c, ok := model.ParseCabinClass(s); ok {
		return c
	}
	return model.CabinEconomy
}

func (h *Handler) searchData(r *http.Request, c model.SearchCriteria) view.SearchData {
	return view.SearchData{
		Criteria:        c,
		Options:         h.lookup.Options(r.Context(), h.api(r)),
		Classes:         model.CabinClasses,
		PassengerCounts: passengerCounts(),
		Today:           h.now().Format("2006-01-02"),
	}
}

// Home отрисовывает главную страницу с пустой формой поиска.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	data := h.searchData(r, model.SearchCriteria{Passengers: 1, CabinClass: model.CabinEconomy})
	h.render(w, http.StatusOK, "search", h.page(r, "", data))
}

// Search ищет рейсы. Неполная форма не приводит к обращению к API.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := model.SearchCriteria{
		Origin:        strings.TrimSpace(q.Get("origin")),
		Destination:   strings.TrimSpace(q.Get("destination")),
		DepartureDate: strings.TrimSpace(q.Get("departureDate")),
		Passengers:    parsePassengers(q.Get("passengers")),
		CabinClass:    parseClass(q.Get("cabinClass")),
	}

	data := h.searchData(r, c)
	p := h.page(r, "Search", nil)

	if !c.Complete() {
		if len(q) > 0 {
			p.Error = "Please fill in origin, destination and departure date."
		}
		p.Content = data
		h.render(w, http.StatusOK, "search", p)
		return
	}

	found, err := h.lookup.Search(r.Context(), h.api(r), c)
	if err != nil {
		if errors.Is(err, gateway.ErrUnauthorized) {
			middleware.RedirectToLogin(w, r)
			return
		}
		h.logger.Warn("search flights error", zap.Error(err))
		p.Error = gateway.UserMessage(err, "Flight search failed. Please try again.")
		p.Content = data
		h.render(w, http.StatusBadGateway, "search", p)
		return
	}

	data.Searched = true
	data.Flights = found
	p.Content = data
	h.render(w, http.StatusOK, "search", p)
}

// Flight отрисовывает карточку рейса.
func (h *Handler) Flight(w http.ResponseWriter, r *http.Request) {
	f, err := h.lookup.GetByID(r.Context(), h.api(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, flights.ErrNotFound) {
			h.renderNotFound(w, r, "This flight does not exist.")
			return
		}
		h.fail(w, r, err, "Could not load the flight.")
		return
	}

	q := r.URL.Query()
	h.render(w, http.StatusOK, "flight", h.page(r, f.Airline+" "+f.FlightNumber, view.FlightData{
		Flight:     f,
		Classes:    model.CabinClasses,
		CabinClass: parseClass(q.Get("cabinClass")),
		Passengers: parsePassengers(q.Get("passengers")),
	}))
}
