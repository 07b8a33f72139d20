// Package flights реализует поиск рейсов и получение рейса по идентификатору.
package flights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/gateway"
	"github.com/mmeshcher/flightbook-web/internal/model"
)

// ErrNotFound возвращается, если рейс не существует.
var ErrNotFound = gateway.ErrNotFound

// API описывает операции удалённого API, нужные для поиска рейсов.
type API interface {
	SearchFlights(ctx context.Context, c model.SearchCriteria) ([]model.Flight, error)
	GetFlight(ctx context.Context, id string) (*model.Flight, error)
	ListFlights(ctx context.Context) ([]model.Flight, error)
}

// OptionsCache кеширует списки значений фильтров.
type OptionsCache interface {
	GetOptions(ctx context.Context) (*model.FilterOptions, error)
	SetOptions(ctx context.Context, opts model.FilterOptions) error
}

// Lookup выполняет поиск рейсов.
type Lookup struct {
	cache  OptionsCache
	logger *zap.Logger
}

// NewLookup создаёт сервис поиска. cache может быть nil.
func NewLookup(cache OptionsCache, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{cache: cache, logger: logger}
}

// Search ищет рейсы. При неполных критериях удалённый API не вызывается и возвращается пустой результат.
func (l *Lookup) Search(ctx context.Context, api API, c model.SearchCriteria) ([]model.Flight, error) {
	c.Origin = strings.TrimSpace(c.Origin)
	c.Destination = strings.TrimSpace(c.Destination)
	c.DepartureDate = strings.TrimSpace(c.DepartureDate)
	if !c.Complete() {
		return nil, nil
	}

	flights, err := api.SearchFlights(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("search flights: %w", err)
	}
	return flights, nil
}

// GetByID возвращает рейс или ErrNotFound.
func (l *Lookup) GetByID(ctx context.Context, api API, id string) (*model.Flight, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	f, err := api.GetFlight(ctx, id)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get flight %s: %w", id, err)
	}
	return f, nil
}

// Options возвращает списки пунктов отправления и назначения.
// Ошибки не возвращаются: при недоступности API списки остаются пустыми.
func (l *Lookup) Options(ctx context.Context, api API) model.FilterOptions {
	if l.cache != nil {
		cached, err := l.cache.GetOptions(ctx)
		if err != nil {
			l.logger.Debug("options cache read failed", zap.Error(err))
		}
		if cached != nil {
			return *cached
		}
	}

	flights, err := api.ListFlights(ctx)
	if err != nil {
		l.logger.Info("load filter options failed", zap.Error(err))
		return model.FilterOptions{}
	}

	opts := BuildOptions(flights)
	if l.cache != nil {
		if err := l.cache.SetOptions(ctx, opts); err != nil {
			l.logger.Debug("options cache write failed", zap.Error(err))
		}
	}
	return opts
}

// BuildOptions собирает отсортированные списки уникальных пунктов из набора рейсов.
func BuildOptions(flights []model.Flight) model.FilterOptions {
	origins := make(map[string]struct{})
	destinations := make(map[string]struct{})
	for _, f := range flights {
		if k := f.Origin.Key(); k != "" {
			origins[k] = struct{}{}
		}
		if k := f.Destination.Key(); k != "" {
			destinations[k] = struct{}{}
		}
	}
	return model.FilterOptions{
		Origins:      sortedKeys(origins),
		Destinations: sortedKeys(destinations),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
