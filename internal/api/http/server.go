package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appDevice "github.com/license-hub/license-hub/internal/application/device"
	appLedger "github.com/license-hub/license-hub/internal/application/ledger"
	appProcessor "github.com/license-hub/license-hub/internal/application/processor"
	appValidation "github.com/license-hub/license-hub/internal/application/validation"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	ledgerSvc     *appLedger.Service
	processorSvc  *appProcessor.Service
	deviceSvc     *appDevice.Service
	validationSvc *appValidation.Service
	webhookSecret []byte
	sigTolerance  time.Duration
	validate      *validator.Validate
	logger        zerolog.Logger
}

func NewServer(
	ledgerSvc *appLedger.Service,
	processorSvc *appProcessor.Service,
	deviceSvc *appDevice.Service,
	validationSvc *appValidation.Service,
	webhookSecret []byte,
	sigTolerance time.Duration,
	logger zerolog.Logger,
) *Server {
	return &Server{
		ledgerSvc:     ledgerSvc,
		processorSvc:  processorSvc,
		deviceSvc:     deviceSvc,
		validationSvc: validationSvc,
		webhookSecret: webhookSecret,
		sigTolerance:  sigTolerance,
		validate:      validator.New(),
		logger:        logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/webhook/{provider}", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/validate-license", s.validateLicense)
		r.Post("/trial/start", s.startTrial)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.openSession)
			r.Post("/current", s.currentSession)
			r.Post("/{sessionId}/heartbeat", s.heartbeatSession)
			r.Delete("/{sessionId}", s.revokeSession)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
