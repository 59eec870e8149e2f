/**
 * @description
 * This file contains the HTTP handlers for processing incoming status webhooks
 * from the banking provider. These endpoints are the entry point for all
 * real-time leg-status notifications.
 *
 * Key features:
 * - Security: Validates the HMAC-SHA256 signature of incoming webhooks, with a
 *   static bearer token fallback for provider environments without signing.
 * - Rate limiting: A Redis fixed-window counter per source address shields the
 *   ingest path from a misbehaving integration.
 * - Acknowledgement: Business-level non-matches (unknown payment, duplicate
 *   delivery) and internal ingestion failures are acknowledged with 202 so the
 *   provider does not retry; only authentication failures are rejected.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, crypto/subtle, encoding/base64, encoding/hex: Signature validation.
 * - internal/app, internal/domain: Ingestion logic and payload model.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boopathydreams/capnpay-settlement/internal/app"
	"github.com/boopathydreams/capnpay-settlement/internal/domain"
)

const signatureHeader = "X-Webhook-Signature"

// maxWebhookBodyBytes caps callback bodies; the provider's payloads are a few
// hundred bytes, so anything near the cap is not a legitimate callback.
const maxWebhookBodyBytes = 1 << 20

// WebhookAuthConfig carries the webhook endpoints' security settings.
type WebhookAuthConfig struct {
	Secret      string
	BearerToken string
	Enforce     bool
}

// WebhookHandlers processes provider status callbacks.
type WebhookHandlers struct {
	ingestor   *app.Ingestor
	auth       WebhookAuthConfig
	limiter    *app.RedisWebhookRateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// NewWebhookHandlers creates the webhook handler set. The limiter may be nil
// when Redis is not configured; rate limiting is then disabled.
func NewWebhookHandlers(ingestor *app.Ingestor, auth WebhookAuthConfig, limiter *app.RedisWebhookRateLimiter, rateLimit int, rateWindow time.Duration) *WebhookHandlers {
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	return &WebhookHandlers{
		ingestor:   ingestor,
		auth:       auth,
		limiter:    limiter,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
	}
}

// CollectionWebhookHandler handles collection-leg callbacks.
func (h *WebhookHandlers) CollectionWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.LegCollection)
}

// PayoutWebhookHandler handles payout-leg callbacks.
func (h *WebhookHandlers) PayoutWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.LegPayout)
}

func (h *WebhookHandlers) handle(w http.ResponseWriter, r *http.Request, leg domain.Leg) {
	if retryAfter, limited := h.overLimit(r, leg); limited {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=warn component=webhook leg=%s outcome=acked_failure reason=body_read_failed remote=%s err=%v", leg, r.RemoteAddr, err)
		h.writeAck(w, leg, &domain.WebhookAck{OK: false})
		return
	}

	// Only authentication failures are rejected; everything past this point is
	// acknowledged so the provider's uncontrollable retry loop stops, and the
	// reconciliation poll converges whatever this delivery failed to apply.
	if !h.authenticated(r, body) {
		log.Printf("level=warn component=webhook leg=%s outcome=reject reason=invalid_signature remote=%s", leg, r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("level=warn component=webhook leg=%s outcome=acked_failure reason=invalid_json err=%v", leg, err)
		h.writeAck(w, leg, &domain.WebhookAck{OK: false})
		return
	}

	var ack *domain.WebhookAck
	switch leg {
	case domain.LegPayout:
		ack, err = h.ingestor.IngestPayout(r.Context(), payload)
	default:
		ack, err = h.ingestor.IngestCollection(r.Context(), payload)
	}
	if err != nil {
		log.Printf("level=error component=webhook leg=%s outcome=acked_failure msg=\"ingestion failed\" reference_id=%q provider_txn_id=%q callback_txn_id=%q err=%v",
			leg, payload.ReferenceID, payload.TransactionID, payload.CallbackTransactionID, err)
		h.writeAck(w, leg, &domain.WebhookAck{OK: false})
		return
	}

	h.writeAck(w, leg, ack)
}

func (h *WebhookHandlers) writeAck(w http.ResponseWriter, leg domain.Leg, ack *domain.WebhookAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(ack); err != nil {
		log.Printf("level=error component=webhook leg=%s msg=\"failed to encode ack\" err=%v", leg, err)
	}
}

func (h *WebhookHandlers) overLimit(r *http.Request, leg domain.Leg) (retryAfter int, limited bool) {
	if h.limiter == nil || h.rateLimit <= 0 {
		return 0, false
	}
	subject := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		subject = host
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "webhook:"+string(leg), subject, h.rateLimit, h.rateWindow)
	if err != nil {
		// Redis being down must not block provider callbacks.
		log.Printf("level=warn component=webhook leg=%s msg=\"rate limiter unavailable\" err=%v", leg, err)
		return 0, false
	}
	return retryAfter, count > h.rateLimit
}

// authenticated validates the request against the configured HMAC secret. The
// signature header may carry the digest base64 or hex encoded. When no secret
// is configured, a static bearer token is accepted instead; with enforcement
// disabled, a failed check is logged and the request admitted anyway.
func (h *WebhookHandlers) authenticated(r *http.Request, body []byte) bool {
	ok := h.checkCredentials(r, body)
	if !ok && !h.auth.Enforce {
		log.Printf("level=warn component=webhook msg=\"signature check failed but enforcement is disabled; accepting\" remote=%s", r.RemoteAddr)
		return true
	}
	return ok
}

func (h *WebhookHandlers) checkCredentials(r *http.Request, body []byte) bool {
	if h.auth.Secret != "" {
		header := strings.TrimSpace(r.Header.Get(signatureHeader))
		if header == "" {
			return false
		}
		mac := hmac.New(sha256.New, []byte(h.auth.Secret))
		mac.Write(body)
		expected := mac.Sum(nil)
		if subtle.ConstantTimeCompare([]byte(header), []byte(base64.StdEncoding.EncodeToString(expected))) == 1 {
			return true
		}
		if subtle.ConstantTimeCompare([]byte(strings.ToLower(header)), []byte(hex.EncodeToString(expected))) == 1 {
			return true
		}
		return false
	}

	if h.auth.BearerToken != "" {
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(token), []byte(h.auth.BearerToken)) == 1
	}

	log.Printf("level=warn component=webhook msg=\"no webhook secret or bearer token configured; skipping validation\"")
	return true
}
