package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type Middleware = func(http.Handler) http.Handler

// RouterConfig carries the handlers and guards of the public HTTP surface.
type RouterConfig struct {
	Checkout *CheckoutHandler
	Operator *OperatorHandler
	Events   http.Handler
	Health   http.HandlerFunc

	// Global runs on every route after request id and real ip resolution.
	Global []Middleware

	OperatorAuth     Middleware
	OperatorLimit    Middleware
	WebhookSignature Middleware

	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middlewares(cfg.Global...)...)

	if cfg.Health != nil {
		r.Get("/health", cfg.Health)
	}

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}

		r.Mount("/v1/checkout", cfg.Checkout.Routes())

		r.With(middlewares(cfg.WebhookSignature, cfg.OperatorLimit)...).Post("/operator/webhook", cfg.Operator.Webhook)

		r.Route("/operator", func(r chi.Router) {
			r.Use(middlewares(cfg.OperatorAuth, cfg.OperatorLimit)...)
			r.Mount("/", cfg.Operator.Routes())
		})
	})

	// The event stream is long lived and stays outside the request timeout.
	if cfg.Events != nil {
		r.With(middlewares(cfg.OperatorAuth)...).Get("/operator/events", cfg.Events.ServeHTTP)
	}

	return r
}
