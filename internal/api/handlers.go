/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's payment
 * endpoints. Handlers parse incoming requests, call the appropriate methods on
 * the application service, and write the HTTP response. They act as the bridge
 * between the web layer and the ledger logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/boopathydreams/capnpay-settlement/internal/app"
	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
)

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// paymentCreatedResponse mirrors the structure the mobile client expects after
// a payment has been accepted: the identifier to poll on plus the collection
// link to hand off to the payer's banking app.
type paymentCreatedResponse struct {
	PaymentID      string  `json:"payment_id"`
	OverallStatus  string  `json:"overall_status"`
	CollectionLink *string `json:"collection_link,omitempty"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	Message        string  `json:"message"`
}

// CreatePaymentHandler handles requests to start a new payment.
func (h *PaymentHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	senderID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	var req domain.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_payment outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	payment, err := h.service.CreatePayment(r.Context(), senderID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_payment outcome=failed sender_id=%s err=%v", senderID, err)
		switch {
		case errors.Is(err, app.ErrInvalidAmount), errors.Is(err, app.ErrInvalidAddress):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, app.ErrSenderNotFound):
			http.Error(w, "Sender account not found", http.StatusNotFound)
		case errors.Is(err, app.ErrProviderUnavailable):
			http.Error(w, "Banking provider unavailable, please retry", http.StatusBadGateway)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, paymentCreatedResponse{
		PaymentID:      payment.ID.String(),
		OverallStatus:  string(payment.OverallStatus),
		CollectionLink: payment.CollectionLink,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Message:        "Payment initiated",
	})
}

// PaymentStatusHandler returns the two-leg status projection for one payment.
func (h *PaymentHandlers) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		http.Error(w, "Invalid payment ID format", http.StatusBadRequest)
		return
	}

	view, err := h.service.GetCompleteStatus(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			http.Error(w, "Payment not found", http.StatusNotFound)
			return
		}
		log.Printf("level=error component=api endpoint=payment_status msg=\"status lookup failed\" payment_id=%s err=%v", paymentID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// PaymentHistoryHandler returns the authenticated account's payments, paginated
// and optionally bounded by a from/to date range (RFC 3339).
func (h *PaymentHandlers) PaymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		http.Error(w, "Could not get account ID from context", http.StatusInternalServerError)
		return
	}

	opts, err := parseHistoryOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payments, err := h.service.GetUserPaymentHistory(r.Context(), accountID, opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=payment_history msg=\"history query failed\" account_id=%s err=%v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
		"count":    len(payments),
	})
}

func parseHistoryOptions(r *http.Request) (domain.HistoryOptions, error) {
	opts := domain.HistoryOptions{Limit: 20, Offset: 0}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return opts, fmt.Errorf("invalid limit parameter")
		}
		opts.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return opts, fmt.Errorf("invalid offset parameter")
		}
		opts.Offset = offset
	}
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, fmt.Errorf("invalid from parameter, expected RFC 3339 timestamp")
		}
		opts.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, fmt.Errorf("invalid to parameter, expected RFC 3339 timestamp")
		}
		opts.To = &to
	}
	return opts, nil
}

// writeJSON is a helper to write a JSON response with a given status code.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode json response\" err=%v", err)
	}
}
