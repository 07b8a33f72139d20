// Package view отрисовывает HTML-страницы веб-клиента из встроенных шаблонов.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/mmeshcher/flightbook-web/internal/booking"
	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Page содержит общие данные страницы: пользователь для навигации, сообщения и содержимое.
type Page struct {
	Title   string
	User    *model.UserProfile
	IsAdmin bool
	Flash   string
	Error   string
	Content any
}

// SearchData содержит форму поиска и её результаты.
type SearchData struct {
	Criteria        model.SearchCriteria
	Options         model.FilterOptions
	Classes         []model.CabinClass
	PassengerCounts []int
	Today           string
	Searched        bool
	Flights         []model.Flight
}

// FlightData содержит данные карточки рейса.
type FlightData struct {
	Flight     *model.Flight
	Classes    []model.CabinClass
	CabinClass model.CabinClass
	Passengers int
}

// AuthData содержит поля форм входа и регистрации.
type AuthData struct {
	Name   string
	Email  string
	Phone  string
	Next   string
	Errors map[string]string
}

// BookingData содержит форму черновика бронирования.
type BookingData struct {
	Flight        *model.Flight
	Draft         *booking.Draft
	Total         float64
	Priced        bool
	AttemptID     string
	Method        model.PaymentMethod
	Classes       []model.CabinClass
	Genders       []model.Gender
	MaxPassengers int
	Errors        map[string]string
}

// CanAddPassenger сообщает, можно ли добавить ещё одного пассажира.
func (d BookingData) CanAddPassenger() bool {
	return d.Draft != nil && len(d.Draft.Passengers) < d.MaxPassengers
}

// CanRemovePassenger сообщает, можно ли удалить пассажира: последний остаётся всегда.
func (d BookingData) CanRemovePassenger() bool {
	return d.Draft != nil && len(d.Draft.Passengers) > 1
}

// CheckoutData содержит данные страницы оплаты.
type CheckoutData struct {
	Attempt        checkout.Attempt
	PublishableKey string
	CardURL        string
	ReturnURL      string
	UPIID          string
}

// BookingsData содержит список бронирований.
type BookingsData struct {
	Bookings []model.Booking
}

// BookingDetailData содержит данные страницы бронирования.
type BookingDetailData struct {
	Booking   *model.Booking
	AttemptID string
}

// ProfileData содержит профиль и историю бронирований пользователя.
type ProfileData struct {
	User          *model.UserProfile
	Bookings      []model.Booking
	BookingsError string
	Errors        map[string]string
}

// ErrorData содержит данные страницы ошибки.
type ErrorData struct {
	Status  int
	Message string
}

// Renderer отрисовывает страницы. Безопасен для параллельного использования.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"money": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("02 Jan 2006")
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		r := []rune(strings.ReplaceAll(s, "_", " "))
		r[0] = unicode.ToUpper(r[0])
		return string(r)
	},
	"add": func(a, b int) int {
		return a + b
	},
	"price": func(v any, c model.CabinClass) string {
		p, ok := asFlight(v).UnitPrice(c)
		if !ok {
			return "-"
		}
		return fmt.Sprintf("%.2f", p)
	},
	"seats": func(v any, c model.CabinClass) int {
		return asFlight(v).AvailableSeats(c)
	},
	"seatPreferences": func() []string {
		return seatPreferences
	},
	"fieldError": func(errs map[string]string, field string) string {
		return errs[field]
	},
}

var seatPreferences = []string{"any", "window", "aisle", "middle"}

// asFlight принимает рейс по значению или по указателю: в шаблонах встречаются оба варианта.
func asFlight(v any) *model.Flight {
	switch f := v.(type) {
	case *model.Flight:
		return f
	case model.Flight:
		return &f
	}
	return nil
}

// New разбирает встроенные шаблоны. Каждая страница собирается вместе с общим макетом.
func New() (*Renderer, error) {
	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	pages := make(map[string]*template.Template, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".html")
		if name == "layout" {
			continue
		}
		t, err := template.Must(layout.Clone()).ParseFS(templatesFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render отрисовывает страницу name с указанным статусом.
// Страница собирается в буфер целиком, чтобы ошибка шаблона не оставляла половину ответа.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, p Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
