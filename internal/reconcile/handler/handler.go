// Package handler exposes the reconciliation core over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"railgate/internal/audit"
	"railgate/internal/intent/models"
	"railgate/internal/reconcile"
	"railgate/pkg/domain"
	dErrors "railgate/pkg/domain-errors"
	"railgate/pkg/platform/httputil"
	"railgate/pkg/requestcontext"
)

// Service defines the reconciliation operations the handler needs.
type Service interface {
	CreateIntent(ctx context.Context, req reconcile.CreateIntentRequest) (*models.PaymentIntent, error)
	GetStatus(ctx context.Context, id domain.IntentID) (*models.PaymentIntent, error)
	Cancel(ctx context.Context, id domain.IntentID, reason string) (*models.PaymentIntent, error)
	IngestCallback(ctx context.Context, rail models.Rail, payload []byte) (reconcile.IngestOutcome, error)
	PollOnce(ctx context.Context, rail models.Rail) (reconcile.PollReport, error)
}

// AuditReader exposes the audit trail for operator inspection.
type AuditReader interface {
	ListByIntent(ctx context.Context, intentID domain.IntentID) ([]audit.Event, error)
}

// Config holds handler-level settings.
type Config struct {
	// LedgerReceivingAddress is the default destination for ledger-rail
	// intents when the caller does not supply one.
	LedgerReceivingAddress string
}

// Handler wires payment intent endpoints to the reconciliation service.
type Handler struct {
	service  Service
	auditLog AuditReader
	logger   *slog.Logger
	cfg      Config
}

// New constructs the handler with its dependencies. auditLog may be nil when
// no audit sink is wired.
func New(service Service, auditLog AuditReader, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{service: service, auditLog: auditLog, logger: logger, cfg: cfg}
}

// Register mounts the public endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/intents", h.HandleCreateIntent)
	r.Get("/intents/{intentID}", h.HandleGetIntent)
	r.Post("/intents/{intentID}/cancel", h.HandleCancelIntent)
	r.Post("/callbacks/mpesa", h.HandleMpesaCallback)
}

// RegisterAdmin mounts operator endpoints. The caller is expected to guard
// the group with admin auth middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/poll/{rail}", h.HandlePollRail)
	r.Get("/intents/{intentID}/audit", h.HandleIntentAudit)
}

// HandleCreateIntent handles POST /intents.
func (h *Handler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeJSON[CreateIntentRequest](w, r)
	if !ok {
		return
	}
	domainReq, err := req.Validate(h.cfg.LedgerReceivingAddress)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	intent, err := h.service.CreateIntent(ctx, domainReq)
	if err != nil {
		h.logger.ErrorContext(ctx, "intent creation failed",
			"request_id", requestID,
			"rail", domainReq.Rail,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "intent created",
		"request_id", requestID,
		"intent_id", intent.ID.String(),
		"rail", intent.Rail.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromIntent(intent))
}

// HandleGetIntent handles GET /intents/{intentID}.
func (h *Handler) HandleGetIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseIntentID(chi.URLParam(r, "intentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	intent, err := h.service.GetStatus(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromIntent(intent))
}

// HandleCancelIntent handles POST /intents/{intentID}/cancel.
func (h *Handler) HandleCancelIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseIntentID(chi.URLParam(r, "intentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeJSON[CancelIntentRequest](w, r)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by caller"
	}

	intent, err := h.service.Cancel(ctx, id, reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "intent cancelled",
		"request_id", requestcontext.RequestID(ctx),
		"intent_id", intent.ID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromIntent(intent))
}

// HandleMpesaCallback handles POST /callbacks/mpesa.
//
// The rail redelivers callbacks it considers failed, so every well-received
// request is acked with ResultCode 0 regardless of processing outcome.
// Malformed payloads are logged and dropped.
func (h *Handler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	payload, ok := httputil.ReadBody(w, r)
	if !ok {
		return
	}

	outcome, err := h.service.IngestCallback(ctx, models.RailMpesa, payload)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeBadRequest) {
		h.logger.ErrorContext(ctx, "callback processing failed",
			"request_id", requestID,
			"error", err,
		)
	}
	if err == nil {
		h.logger.InfoContext(ctx, "callback processed",
			"request_id", requestID,
			"outcome", string(outcome.Kind),
			"intent_id", outcome.IntentID.String(),
		)
	}

	httputil.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// HandlePollRail handles POST /admin/poll/{rail}: one manual reconciliation
// pass, useful in operations and tests.
func (h *Handler) HandlePollRail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rail, err := models.ParseRail(chi.URLParam(r, "rail"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.service.PollOnce(ctx, rail)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleIntentAudit handles GET /admin/intents/{intentID}/audit: the ordered
// audit trail for one intent.
func (h *Handler) HandleIntentAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseIntentID(chi.URLParam(r, "intentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.auditLog == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "audit trail not configured"))
		return
	}

	events, err := h.auditLog.ListByIntent(ctx, id)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
