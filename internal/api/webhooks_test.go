package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boopathydreams/capnpay-settlement/internal/app"
	"github.com/boopathydreams/capnpay-settlement/internal/domain"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
)

// stubRepo embeds the interface so only the methods a test path reaches need
// definitions; the webhook auth tests use payloads that never touch the store.
type stubRepo struct {
	store.Repository
}

func newAuthTestHandlers(auth WebhookAuthConfig) *WebhookHandlers {
	ingestor := app.NewIngestor(stubRepo{}, nil)
	return NewWebhookHandlers(ingestor, auth, nil, 0, 0)
}

// unmatchable carries no identifiers, so ingestion acks it without a store hit.
var unmatchable = []byte(`{"status":"success"}`)

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func postWebhook(h *WebhookHandlers, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/collection", bytes.NewReader(body))
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.CollectionWebhookHandler(rec, req)
	return rec
}

func TestWebhookSignatureValidation(t *testing.T) {
	const secret = "topsecret"
	digest := sign(secret, unmatchable)

	cases := []struct {
		name       string
		auth       WebhookAuthConfig
		mutate     func(*http.Request)
		wantStatus int
	}{
		{
			name: "valid base64 signature",
			auth: WebhookAuthConfig{Secret: secret, Enforce: true},
			mutate: func(r *http.Request) {
				r.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString(digest))
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "valid hex signature",
			auth: WebhookAuthConfig{Secret: secret, Enforce: true},
			mutate: func(r *http.Request) {
				r.Header.Set(signatureHeader, hex.EncodeToString(digest))
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "wrong signature rejected",
			auth: WebhookAuthConfig{Secret: secret, Enforce: true},
			mutate: func(r *http.Request) {
				r.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString(sign("othersecret", unmatchable)))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing signature rejected",
			auth:       WebhookAuthConfig{Secret: secret, Enforce: true},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong signature admitted when enforcement disabled",
			auth: WebhookAuthConfig{Secret: secret, Enforce: false},
			mutate: func(r *http.Request) {
				r.Header.Set(signatureHeader, "garbage")
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "bearer token fallback accepted",
			auth: WebhookAuthConfig{BearerToken: "static-token", Enforce: true},
			mutate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer static-token")
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "wrong bearer token rejected",
			auth: WebhookAuthConfig{BearerToken: "static-token", Enforce: true},
			mutate: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer wrong")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no credentials configured admits everything",
			auth:       WebhookAuthConfig{Enforce: true},
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAuthTestHandlers(tc.auth)
			rec := postWebhook(h, unmatchable, tc.mutate)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestWebhookUnmatchedPayloadAcked(t *testing.T) {
	h := newAuthTestHandlers(WebhookAuthConfig{})

	rec := postWebhook(h, unmatchable, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var ack domain.WebhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("ack decode failed: %v", err)
	}
	if !ack.OK || ack.Matched {
		t.Errorf("ack = %+v, want ok unmatched", ack)
	}
}

func TestWebhookMalformedPayloadAckedAsFailure(t *testing.T) {
	h := newAuthTestHandlers(WebhookAuthConfig{})

	rec := postWebhook(h, []byte("{not json"), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var ack domain.WebhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("ack decode failed: %v", err)
	}
	if ack.OK || ack.Matched {
		t.Errorf("ack = %+v, want not-ok unmatched", ack)
	}
}

// erroringRepo fails the redelivery-guard insert, forcing the ingest path to
// surface a store error for a well-formed, authenticated payload.
type erroringRepo struct {
	store.Repository
}

func (erroringRepo) AppendStatusHistory(ctx context.Context, entry *domain.StatusHistoryEntry) error {
	return errors.New("connection reset by peer")
}

func TestWebhookIngestFailureAckedNotErrored(t *testing.T) {
	ingestor := app.NewIngestor(erroringRepo{}, nil)
	h := NewWebhookHandlers(ingestor, WebhookAuthConfig{}, nil, 0, 0)

	body := []byte(`{"status":"success","callbackTransactionId":"cb-err-1"}`)
	rec := postWebhook(h, body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; internal failures must not reach the provider", rec.Code)
	}

	var ack domain.WebhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("ack decode failed: %v", err)
	}
	if ack.OK || ack.Matched {
		t.Errorf("ack = %+v, want not-ok unmatched", ack)
	}
}

func TestWebhookOversizedBodyAckedAsFailure(t *testing.T) {
	h := newAuthTestHandlers(WebhookAuthConfig{})

	body := bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1)
	rec := postWebhook(h, body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var ack domain.WebhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("ack decode failed: %v", err)
	}
	if ack.OK {
		t.Errorf("ack = %+v, want not-ok", ack)
	}
}
