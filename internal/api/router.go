/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and applies
 * the necessary middleware for authentication, CORS, logging, and recovery.
 *
 * The webhook endpoints deliberately sit outside the JWT group: the banking
 * provider authenticates with an HMAC signature, not a bearer token. The SSE
 * stream endpoint skips the timeout middleware so long-lived subscriptions are
 * not cut off.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: Cross-origin configuration for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the settlement service.
func Routes(payments *PaymentHandlers, webhooks *WebhookHandlers, stream *StreamHandlers, jwtSecret string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider-facing webhook endpoints, authenticated by HMAC signature.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/webhooks/collection", webhooks.CollectionWebhookHandler)
		r.Post("/webhooks/payout", webhooks.PayoutWebhookHandler)
	})

	// Client-facing endpoints, authenticated by bearer token.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))
		r.Get("/payments/stream", stream.SubscribeHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/payments", payments.CreatePaymentHandler)
			r.Get("/payments/history", payments.PaymentHistoryHandler)
			r.Get("/payments/{paymentID}/status", payments.PaymentStatusHandler)
		})
	})

	return r
}
