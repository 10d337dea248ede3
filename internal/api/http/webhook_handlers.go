package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/license-hub/license-hub/internal/domain/billing"
)

const maxWebhookBody = 1 << 20

const signatureHeader = "X-Webhook-Signature"

// handleWebhook is the provider's concurrent entry point. Anything past
// signature and envelope checks answers 200 so the provider stops
// redelivering; the ledger decides whether business logic runs.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read body")
		return
	}
	if err := billing.VerifySignature(s.webhookSecret, r.Header.Get(signatureHeader), body, time.Now().UTC(), s.sigTolerance); err != nil {
		s.logger.Warn().Err(err).Str("provider", provider).Msg("webhook signature rejected")
		respondError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed")
		return
	}

	env, err := billing.ParseEnvelope(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_EVENT", err.Error())
		return
	}

	// Processing must outlive the inbound connection: a dropped client does
	// not abort a claimed transition.
	ctx := context.WithoutCancel(r.Context())

	result, lockToken, err := s.ledgerSvc.Claim(ctx, env.ID, env.Type, billing.HashPayload(body))
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", env.ID).Msg("ledger claim failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "ledger unavailable")
		return
	}

	switch result {
	case billing.ClaimAlreadyCompleted, billing.ClaimAlreadyProcessing, billing.ClaimExhausted:
		respondJSON(w, http.StatusOK, map[string]interface{}{"received": true, "idempotent": true})
		return
	case billing.ClaimWon, billing.ClaimReclaimed:
	}

	if perr := s.processorSvc.Process(ctx, env); perr != nil {
		s.logger.Error().Err(perr).Str("event_id", env.ID).Str("type", string(env.Type)).Msg("event processing failed")
		if cerr := s.ledgerSvc.Commit(ctx, env.ID, lockToken, false); cerr != nil {
			s.logger.Error().Err(cerr).Str("event_id", env.ID).Msg("failed commit after processing error")
		}
		if dead, _ := s.ledgerSvc.Exhausted(ctx, env.ID); dead {
			s.processorSvc.RecordDeadEvent(ctx, env.ID, s.ledgerSvc.MaxAttempts())
		}
		// Acknowledge anyway: redelivery storms are worse than a row parked
		// in FAILED awaiting reclaim or operator attention.
		respondJSON(w, http.StatusOK, map[string]interface{}{"received": true})
		return
	}

	if err := s.ledgerSvc.Commit(ctx, env.ID, lockToken, true); err != nil {
		// Stale lock: another worker reclaimed after our lease ran out and
		// owns the outcome now. Nothing to roll back, handlers are idempotent.
		s.logger.Warn().Err(err).Str("event_id", env.ID).Msg("commit skipped")
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}
