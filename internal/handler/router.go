package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/flightbook-web/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware веб-клиента.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.Middleware)
		r.Use(h.refreshUser)

		r.Get("/", h.Home)
		r.Get("/search", h.Search)
		r.Get("/flights/{id}", h.Flight)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.PublicOnly)

			r.Get("/login", h.LoginForm)
			r.Post("/login", h.Login)
			r.Get("/register", h.RegisterForm)
			r.Post("/register", h.Register)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RequireAuth)

			r.Get("/booking/{flightID}", h.BookingForm)
			r.Post("/booking/{flightID}", h.SubmitBooking)

			r.Route("/checkout/{id}", func(r chi.Router) {
				r.Get("/", h.Checkout)
				r.Post("/card", h.CardResult)
				r.Get("/return", h.CardReturn)
				r.Post("/upi", h.PayUPI)
				r.Post("/method", h.SwitchMethod)
				r.Post("/prepare", h.PrepareCard)
			})

			r.Get("/bookings", h.Bookings)
			r.Route("/bookings/{id}", func(r chi.Router) {
				r.Get("/", h.BookingDetail)
				r.Post("/cancel", h.CancelBooking)
				r.Get("/ticket", h.Ticket)
				r.Post("/pay", h.PayBooking)
				r.Post("/refund", h.RefundBooking)
			})

			r.Get("/profile", h.Profile)
			r.Post("/profile", h.UpdateProfile)
		})

		r.With(custommiddleware.RequireAdmin).Get("/admin", h.Admin)
	})

	r.NotFound(h.sessions.Middleware(http.HandlerFunc(h.NotFound)).ServeHTTP)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
