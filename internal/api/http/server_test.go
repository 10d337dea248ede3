package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/license-hub/license-hub/internal/application/device"
	"github.com/license-hub/license-hub/internal/application/ledger"
	"github.com/license-hub/license-hub/internal/application/processor"
	"github.com/license-hub/license-hub/internal/application/validation"
	"github.com/license-hub/license-hub/internal/domain/billing"
	"github.com/license-hub/license-hub/internal/domain/license"
	"github.com/license-hub/license-hub/internal/infrastructure/cache"
	"github.com/license-hub/license-hub/internal/infrastructure/mailer"
	"github.com/license-hub/license-hub/internal/infrastructure/memory"
)

var testSecret = []byte("whsec_test")

func newTestServer(t *testing.T) (*Server, *memory.CustomerRepository) {
	t.Helper()
	logger := zerolog.Nop()
	customers := memory.NewCustomerRepository()
	sessions := memory.NewSessionRepository()
	auditRepo := memory.NewAuditRepository()

	clk := license.Clock{
		TrialPeriod: 30 * 24 * time.Hour,
		TrialGrace:  24 * time.Hour,
		OfflineCap:  7 * 24 * time.Hour,
	}
	ledgerSvc := ledger.NewService(memory.NewLedgerRepository(), 30*time.Second, 5, logger)
	processorSvc := processor.NewService(customers, sessions, auditRepo, mailer.NewLogMailer(logger), processor.Config{
		PaymentGrace: 7 * 24 * time.Hour,
		TrialPeriod:  clk.TrialPeriod,
		TrialGrace:   clk.TrialGrace,
	}, logger)
	deviceSvc := device.NewService(sessions, time.Minute, logger)
	validationSvc := validation.NewService(customers, cache.NewMemoryCache(), clk, logger)

	return NewServer(ledgerSvc, processorSvc, deviceSvc, validationSvc, testSecret, 5*time.Minute, logger), customers
}

func postWebhook(t *testing.T, srv *Server, body []byte, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(body))
	if sign {
		req.Header.Set("X-Webhook-Signature", billing.SignatureHeader(testSecret, time.Now().UTC(), body))
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func postJSON(t *testing.T, srv *Server, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func checkoutBody(eventID, email string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"checkout_completed","data":{"object":{"email":%q,"subscription_id":"sub_1"}}}`, eventID, email))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	body := checkoutBody("evt_1", "a@b.com")

	rec := postWebhook(t, srv, body, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decode(t, rec)["error"])

	// A valid header over a different body must also fail.
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", billing.SignatureHeader(testSecret, time.Now().UTC(), []byte("{}")))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRejectsMalformedEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)
	body := []byte(`{"type":"checkout_completed","data":{"object":{}}}`)

	rec := postWebhook(t, srv, body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_EVENT", decode(t, rec)["error"])
}

func TestWebhookProcessesCheckout(t *testing.T) {
	srv, customers := newTestServer(t)
	body := checkoutBody("evt_1", "a@b.com")

	rec := postWebhook(t, srv, body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["received"])

	c, err := customers.GetByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, license.StatusActive, c.Status)
}

func TestWebhookDuplicateIsIdempotent(t *testing.T) {
	srv, customers := newTestServer(t)
	body := checkoutBody("evt_1", "a@b.com")

	rec := postWebhook(t, srv, body, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(t, srv, body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["idempotent"], "replay must short-circuit at the ledger")

	c, _ := customers.GetByEmail(context.Background(), "a@b.com")
	require.NotNil(t, c)
}

func TestTrialValidateSessionFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	// Start a trial and capture the one-time token.
	rec := postJSON(t, srv, "/api/trial/start", map[string]string{
		"email":      "t@b.com",
		"hardwareId": "hw-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	trial := decode(t, rec)
	token, _ := trial["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "trial", trial["status"])

	// Second trial for the same email conflicts.
	rec = postJSON(t, srv, "/api/trial/start", map[string]string{"email": "t@b.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_TAKEN", decode(t, rec)["error"])

	// Validation succeeds on the bound machine.
	rec = postJSON(t, srv, "/api/validate-license", map[string]string{
		"email":      "t@b.com",
		"token":      token,
		"hardwareId": "hw-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	verdict := decode(t, rec)
	assert.Equal(t, true, verdict["valid"])
	assert.Equal(t, "online", verdict["mode"])

	// A second machine is refused a session.
	rec = postJSON(t, srv, "/api/sessions/", map[string]string{
		"email":      "t@b.com",
		"token":      token,
		"hardwareId": "hw-2",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "LICENSE_INVALID", decode(t, rec)["error"])

	// The bound machine opens a session and keeps it alive.
	rec = postJSON(t, srv, "/api/sessions/", map[string]string{
		"email":      "t@b.com",
		"token":      token,
		"hardwareId": "hw-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID, _ := decode(t, rec)["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	rec = postJSON(t, srv, "/api/sessions/"+sessionID+"/heartbeat", struct{}{})
	assert.Equal(t, http.StatusOK, rec.Code)

	// A restarting client still holds the slot.
	rec = postJSON(t, srv, "/api/sessions/current", map[string]string{
		"email":      "t@b.com",
		"token":      token,
		"hardwareId": "hw-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, decode(t, rec)["sessionId"])

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sessionID, nil)
	recDel := httptest.NewRecorder()
	srv.Router().ServeHTTP(recDel, req)
	assert.Equal(t, http.StatusOK, recDel.Code)

	// Heartbeat after revocation is gone, and so is the current-session slot.
	rec = postJSON(t, srv, "/api/sessions/"+sessionID+"/heartbeat", struct{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postJSON(t, srv, "/api/sessions/current", map[string]string{
		"email":      "t@b.com",
		"token":      token,
		"hardwareId": "hw-1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode(t, rec)["error"])
}

func TestValidateLicenseRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postJSON(t, srv, "/api/validate-license", map[string]string{
		"email": "not-an-email", "token": "x", "hardwareId": "hw",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, srv, "/api/validate-license", map[string]string{"email": "a@b.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateLicenseUnknownCustomer(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/api/validate-license", map[string]string{
		"email": "ghost@b.com", "token": "x", "hardwareId": "hw",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	verdict := decode(t, rec)
	assert.Equal(t, false, verdict["valid"])
	assert.Equal(t, "not_found", verdict["reason"])
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
