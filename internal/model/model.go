// Package model содержит доменные сущности клиента бронирования авиабилетов.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role описывает роль пользователя.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Notifications содержит настройки оповещений пользователя.
type Notifications struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// Preferences содержит пользовательские предпочтения.
type Preferences struct {
	Language       string        `json:"language"`
	Currency       string        `json:"currency"`
	SeatPreference string        `json:"seatPreference"`
	Notifications  Notifications `json:"notifications"`
}

// UserProfile представляет профиль пользователя, кешируемый в сессии.
type UserProfile struct {
	ID          string      `json:"_id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
	Role        Role        `json:"role"`
	Preferences Preferences `json:"preferences"`
}

// IsAdmin сообщает, имеет ли пользователь роль администратора.
// Результат используется только для отображения элементов интерфейса.
func (u *UserProfile) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CabinClass описывает класс обслуживания.
type CabinClass string

const (
	CabinEconomy  CabinClass = "economy"
	CabinBusiness CabinClass = "business"
	CabinFirst    CabinClass = "first"
)

// CabinClasses перечисляет классы в порядке отображения.
var CabinClasses = []CabinClass{CabinEconomy, CabinBusiness, CabinFirst}

// ParseCabinClass разбирает строковое значение класса обслуживания.
func ParseCabinClass(s string) (CabinClass, bool) {
	c := CabinClass(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CabinEconomy, CabinBusiness, CabinFirst:
		return c, true
	}
	return "", false
}

// Airport описывает пункт отправления или назначения.
type Airport struct {
	Code string `json:"code"`
	City string `json:"city"`
}

// UnmarshalJSON принимает как объект {city, code}, так и простую строку.
func (a *Airport) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Code = s
		a.City = s
		return nil
	}

	type plain Airport
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode airport: %w", err)
	}
	*a = Airport(p)
	return nil
}

// String возвращает название для отображения.
func (a Airport) String() string {
	switch {
	case a.City != "" && a.Code != "" && a.City != a.Code:
		return a.City + " (" + a.Code + ")"
	case a.City != "":
		return a.City
	default:
		return a.Code
	}
}

// Key возвращает значение, по которому аэропорт участвует в поиске.
func (a Airport) Key() string {
	if a.Code != "" {
		return a.Code
	}
	return a.City
}

// Schedule описывает дату и время отправления или прибытия.
type Schedule struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// At возвращает момент времени, если дата и время заданы.
func (s Schedule) At() (time.Time, bool) {
	if s.Date == "" {
		return time.Time{}, false
	}
	date := s.Date
	if len(date) > 10 {
		date = date[:10]
	}
	clock := s.Time
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.Parse("2006-01-02T15:04", date+"T"+clock)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ClassPricing содержит базовую цену и число свободных мест класса.
type ClassPricing struct {
	BasePrice      float64 `json:"basePrice"`
	AvailableSeats int     `json:"availableSeats"`
}

// Flight описывает рейс. Для клиента это неизменяемые справочные данные.
type Flight struct {
	ID           string                      `json:"_id"`
	Airline      string                      `json:"airline"`
	FlightNumber string                      `json:"flightNumber"`
	Origin       Airport                     `json:"origin"`
	Destination  Airport                     `json:"destination"`
	Departure    Schedule                    `json:"departure"`
	Arrival      Schedule                    `json:"arrival"`
	Duration     string                      `json:"duration,omitempty"`
	Gate         string                      `json:"gate,omitempty"`
	Pricing      map[CabinClass]ClassPricing `json:"pricing"`
	Amenities    []string                    `json:"amenities,omitempty"`
}

// UnitPrice возвращает цену одного места в указанном классе.
func (f *Flight) UnitPrice(class CabinClass) (float64, bool) {
	if f == nil {
		return 0, false
	}
	p, ok := f.Pricing[class]
	if !ok {
		return 0, false
	}
	return p.BasePrice, true
}

// AvailableSeats возвращает число свободных мест в классе.
func (f *Flight) AvailableSeats(class CabinClass) int {
	if f == nil {
		return 0
	}
	return f.Pricing[class].AvailableSeats
}

// Gender пассажира.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Genders перечисляет допустимые значения пола в порядке отображения.
var Genders = []Gender{GenderMale, GenderFemale, GenderOther}

// Passenger описывает пассажира. Идентичность определяется позицией в бронировании.
type Passenger struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
	Gender      Gender `json:"gender"`
}

// ContactInfo содержит контактные данные бронирования.
type ContactInfo struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// BookingStatus описывает статус бронирования.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// PaymentStatus описывает статус оплаты бронирования.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

// FlightRef ссылается на рейс бронирования: сервер возвращает либо идентификатор, либо объект рейса.
type FlightRef struct {
	ID     string
	Flight *Flight
}

// UnmarshalJSON принимает идентификатор или вложенный объект рейса.
func (r *FlightRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		r.Flight = nil
		return nil
	}

	var f Flight
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode flight reference: %w", err)
	}
	r.ID = f.ID
	r.Flight = &f
	return nil
}

// MarshalJSON сериализует ссылку в виде идентификатора.
func (r FlightRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// Booking описывает бронирование пользователя.
type Booking struct {
	ID            string        `json:"_id"`
	Flight        FlightRef     `json:"flight"`
	Passengers    []Passenger   `json:"passengers"`
	CabinClass    CabinClass    `json:"cabinClass"`
	TotalPrice    float64       `json:"totalPrice"`
	ContactInfo   ContactInfo   `json:"contactInfo"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Cancellable сообщает, можно ли предложить отмену бронирования.
func (b Booking) Cancellable() bool {
	return b.Status != BookingCancelled
}

// Payable сообщает, можно ли начать новую попытку оплаты.
func (b Booking) Payable() bool {
	return b.Status != BookingCancelled && b.PaymentStatus != PaymentPaid
}

// TicketAvailable сообщает, можно ли выгрузить билет.
func (b Booking) TicketAvailable() bool {
	return b.PaymentStatus == PaymentPaid
}

// Refundable сообщает, можно ли запросить возврат по отменённому оплаченному бронированию.
func (b Booking) Refundable() bool {
	return b.Status == BookingCancelled && b.PaymentStatus == PaymentPaid
}

// BookingRequest содержит данные для создания бронирования.
type BookingRequest struct {
	FlightID    string      `json:"flightId"`
	Passengers  []Passenger `json:"passengers"`
	CabinClass  CabinClass  `json:"cabinClass"`
	TotalPrice  float64     `json:"totalPrice"`
	ContactInfo ContactInfo `json:"contactInfo"`
}

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentCard PaymentMethod = "credit_card"
	PaymentUPI  PaymentMethod = "upi"
)

// ParsePaymentMethod разбирает строковое значение способа оплаты.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.TrimSpace(s)) {
	case PaymentCard, "card", "":
		return PaymentCard, true
	case PaymentUPI:
		return PaymentUPI, true
	}
	return "", false
}

// SearchCriteria описывает параметры поиска рейсов.
type SearchCriteria struct {
	Origin        string
	Destination   string
	DepartureDate string
	Passengers    int
	CabinClass    CabinClass
}

// Complete сообщает, заданы ли все обязательные параметры поиска.
func (c SearchCriteria) Complete() bool {
	return c.Origin != "" && c.Destination != "" && c.DepartureDate != "" &&
		c.Passengers >= 1 && c.CabinClass != ""
}

// FilterOptions содержит списки значений для полей поиска.
type FilterOptions struct {
	Origins      []string `json:"origins"`
	Destinations []string `json:"destinations"`
}
