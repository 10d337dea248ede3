package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/license-hub/license-hub/internal/domain/devicesession"
	"github.com/license-hub/license-hub/internal/domain/license"
)

type validateRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Token      string `json:"token" validate:"required"`
	HardwareID string `json:"hardwareId" validate:"required"`
}

type trialStartRequest struct {
	Email      string `json:"email" validate:"required,email"`
	HardwareID string `json:"hardwareId,omitempty"`
}

type openSessionRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Token      string `json:"token" validate:"required"`
	HardwareID string `json:"hardwareId" validate:"required"`
}

func (s *Server) validateLicense(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.validationSvc.Validate(r.Context(), req.Email, req.Token, req.HardwareID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) startTrial(w http.ResponseWriter, r *http.Request) {
	var req trialStartRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	c, token, err := s.processorSvc.StartTrial(r.Context(), req.Email, req.HardwareID)
	if err != nil {
		if errors.Is(err, license.ErrEmailTaken) {
			respondError(w, http.StatusConflict, "EMAIL_TAKEN", "email already holds a license")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	// The plaintext token is returned exactly once and never stored.
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"customerId":     c.CustomerID,
		"status":         c.Status,
		"trialStartedAt": c.TrialStartedAt,
		"token":          token,
	})
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.validationSvc.Validate(r.Context(), req.Email, req.Token, req.HardwareID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if !res.Valid {
		respondError(w, http.StatusForbidden, "LICENSE_INVALID", res.Reason)
		return
	}
	sess, err := s.deviceSvc.OpenSession(r.Context(), res.CustomerID, req.HardwareID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// currentSession lets a restarting client ask whether it still holds the
// device slot. A session that went stale since the last heartbeat is revoked
// here, on access.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	res, err := s.validationSvc.Validate(r.Context(), req.Email, req.Token, req.HardwareID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if !res.Valid {
		respondError(w, http.StatusForbidden, "LICENSE_INVALID", res.Reason)
		return
	}
	sess, err := s.deviceSvc.Active(r.Context(), res.CustomerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sess == nil {
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "no active session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) heartbeatSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	if err := s.deviceSvc.Heartbeat(r.Context(), id); err != nil {
		if errors.Is(err, devicesession.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not active")
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessionId": id, "status": devicesession.StatusActive})
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	if err := s.deviceSvc.Revoke(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessionId": id, "status": devicesession.StatusRevoked})
}
