package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

type flightEnvelope struct {
	Flight *model.Flight `json:"flight"`
}

type flightsEnvelope struct {
	Flights []model.Flight `json:"flights"`
}

// SearchFlights ищет рейсы по критериям.
func (a *API) SearchFlights(ctx context.Context, c model.SearchCriteria) ([]model.Flight, error) {
	q := url.Values{}
	q.Set("origin", c.Origin)
	q.Set("destination", c.Destination)
	q.Set("departureDate", c.DepartureDate)
	q.Set("passengers", strconv.Itoa(c.Passengers))
	q.Set("cabinClass", string(c.CabinClass))

	var env flightsEnvelope
	err := a.doJSON(ctx, call{
		op:     "search flights",
		method: http.MethodGet,
		path:   "/api/flights/search",
		query:  q,
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Flights, nil
}

// GetFlight возвращает рейс по идентификатору.
func (a *API) GetFlight(ctx context.Context, id string) (*model.Flight, error) {
	var env flightEnvelope
	err := a.doJSON(ctx, call{
		op:     "get flight",
		method: http.MethodGet,
		path:   "/api/flights/" + url.PathEscape(id),
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Flight == nil {
		return nil, ErrNotFound
	}
	return env.Flight, nil
}

// ListFlights возвращает все рейсы.
func (a *API) ListFlights(ctx context.Context) ([]model.Flight, error) {
	var env flightsEnvelope
	err := a.doJSON(ctx, call{
		op:     "list flights",
		method: http.MethodGet,
		path:   "/api/flights",
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Flights, nil
}
