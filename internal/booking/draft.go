// Package booking собирает черновик бронирования: класс обслуживания, пассажиров и контакты.
package booking

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mmeshcher/flightbook-web/internal/model"
	"github.com/mmeshcher/flightbook-web/internal/validation"
)

// MaxPassengers ограничивает число пассажиров в одном бронировании.
const MaxPassengers = 9

var (
	// ErrLastPassenger возвращается при попытке удалить единственного пассажира.
	ErrLastPassenger = errors.New("at least one passenger is required")
	// ErrTooManyPassengers возвращается при превышении MaxPassengers.
	ErrTooManyPassengers = errors.New("too many passengers")
	// ErrPassengerIndex возвращается при обращении к несуществующей позиции.
	ErrPassengerIndex = errors.New("passenger index out of range")
	// ErrClassUnavailable возвращается, если у рейса нет цены для выбранного класса.
	ErrClassUnavailable = errors.New("cabin class is not available on this flight")
)

// FieldError описывает ошибку одного поля.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError перечисляет незаполненные или некорректные поля черновика.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has сообщает, есть ли ошибка для указанного поля.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Draft описывает черновик бронирования. Живёт только на стороне клиента и сам не обращается к сети.
type Draft struct {
	CabinClass model.CabinClass
	Passengers []model.Passenger
	Contact    model.ContactInfo
}

// NewDraft создаёт черновик с одним пустым пассажиром.
// Контакты по умолчанию берутся из профиля пользователя.
func NewDraft(class model.CabinClass, user *model.UserProfile) *Draft {
	if class == "" {
		class = model.CabinEconomy
	}
	d := &Draft{
		CabinClass: class,
		Passengers: []model.Passenger{blankPassenger()},
	}
	if user != nil {
		d.Contact = model.ContactInfo{Email: user.Email, Phone: user.Phone}
	}
	return d
}

func blankPassenger() model.Passenger {
	return model.Passenger{Gender: model.GenderMale}
}

// SetCabinClass меняет класс обслуживания.
func (d *Draft) SetCabinClass(class model.CabinClass) {
	d.CabinClass = class
}

// AddPassenger добавляет пустого пассажира в конец списка.
func (d *Draft) AddPassenger() error {
	if len(d.Passengers) >= MaxPassengers {
		return ErrTooManyPassengers
	}
	d.Passengers = append(d.Passengers, blankPassenger())
	return nil
}

// UpdatePassenger заменяет данные пассажира на позиции i.
func (d *Draft) UpdatePassenger(i int, p model.Passenger) error {
	if i < 0 || i >= len(d.Passengers) {
		return ErrPassengerIndex
	}
	if p.Gender == "" {
		p.Gender = model.GenderMale
	}
	d.Passengers[i] = p
	return nil
}

// RemovePassenger удаляет пассажира на позиции i. Единственного пассажира удалить нельзя.
func (d *Draft) RemovePassenger(i int) error {
	if i < 0 || i >= len(d.Passengers) {
		return ErrPassengerIndex
	}
	if len(d.Passengers) <= 1 {
		return ErrLastPassenger
	}
	d.Passengers = append(d.Passengers[:i:i], d.Passengers[i+1:]...)
	return nil
}

// SetContact задаёт контактные данные.
func (d *Draft) SetContact(c model.ContactInfo) {
	d.Contact = model.ContactInfo{
		Email: strings.TrimSpace(c.Email),
		Phone: strings.TrimSpace(c.Phone),
	}
}

// Total рассчитывает стоимость для отображения: цена места в классе × число пассажиров.
func (d *Draft) Total(f *model.Flight) (float64, error) {
	unit, ok := f.UnitPrice(d.CabinClass)
	if !ok {
		return 0, ErrClassUnavailable
	}
	return roundCents(unit * float64(len(d.Passengers))), nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Validate проверяет обязательные поля пассажиров и контактов без обращения к сети.
func (d *Draft) Validate(now time.Time) error {
	var fields []FieldError

	if _, ok := model.ParseCabinClass(string(d.CabinClass)); !ok {
		fields = append(fields, FieldError{Field: "cabinClass", Message: "unknown cabin class"})
	}
	if len(d.Passengers) == 0 {
		fields = append(fields, FieldError{Field: "passengers", Message: "at least one passenger is required"})
	}
	if len(d.Passengers) > MaxPassengers {
		fields = append(fields, FieldError{Field: "passengers", Message: fmt.Sprintf("at most %d passengers", MaxPassengers)})
	}

	for i, p := range d.Passengers {
		prefix := fmt.Sprintf("passengers[%d].", i)
		if strings.TrimSpace(p.FirstName) == "" {
			fields = append(fields, FieldError{Field: prefix + "firstName", Message: "required"})
		}
		if strings.TrimSpace(p.LastName) == "" {
			fields = append(fields, FieldError{Field: prefix + "lastName", Message: "required"})
		}
		switch {
		case strings.TrimSpace(p.DateOfBirth) == "":
			fields = append(fields, FieldError{Field: prefix + "dateOfBirth", Message: "required"})
		case !validation.IsValidBirthDate(p.DateOfBirth, now):
			fields = append(fields, FieldError{Field: prefix + "dateOfBirth", Message: "must be a past date (YYYY-MM-DD)"})
		}
		switch p.Gender {
		case model.GenderMale, model.GenderFemale, model.GenderOther:
		default:
			fields = append(fields, FieldError{Field: prefix + "gender", Message: "unknown gender"})
		}
	}

	switch {
	case d.Contact.Email == "":
		fields = append(fields, FieldError{Field: "contact.email", Message: "required"})
	case !validation.IsValidEmail(d.Contact.Email):
		fields = append(fields, FieldError{Field: "contact.email", Message: "invalid email"})
	}
	switch {
	case d.Contact.Phone == "":
		fields = append(fields, FieldError{Field: "contact.phone", Message: "required"})
	case !validation.IsValidPhone(d.Contact.Phone):
		fields = append(fields, FieldError{Field: "contact.phone", Message: "invalid phone"})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Finalize проверяет черновик и формирует запрос на создание бронирования.
// Окончательную цену определяет API при создании.
func (d *Draft) Finalize(f *model.Flight, now time.Time) (model.BookingRequest, error) {
	if f == nil || f.ID == "" {
		return model.BookingRequest{}, &ValidationError{Fields: []FieldError{{Field: "flight", Message: "flight is not loaded"}}}
	}
	if err := d.Validate(now); err != nil {
		return model.BookingRequest{}, err
	}

	total, err := d.Total(f)
	if err != nil {
		return model.BookingRequest{}, err
	}

	passengers := make([]model.Passenger, len(d.Passengers))
	for i, p := range d.Passengers {
		passengers[i] = model.Passenger{
			FirstName:   strings.TrimSpace(p.FirstName),
			LastName:    strings.TrimSpace(p.LastName),
			DateOfBirth: strings.TrimSpace(p.DateOfBirth),
			Gender:      p.Gender,
		}
	}

	return model.BookingRequest{
		FlightID:    f.ID,
		Passengers:  passengers,
		CabinClass:  d.CabinClass,
		TotalPrice:  total,
		ContactInfo: d.Contact,
	}, nil
}
