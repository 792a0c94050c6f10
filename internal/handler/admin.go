package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"trustgate/internal/admin"
	"trustgate/internal/domain"
	"trustgate/internal/kyc"
	"trustgate/internal/middleware"
	"trustgate/pkg/logger"
	"trustgate/pkg/validator"
)

// AdminHandler serves the compliance-team endpoints. Role enforcement
// happens twice: the router's gate requires the admin role, and the
// admin service re-validates the actor on every call.
type AdminHandler struct {
	service   *admin.Service
	kyc       *kyc.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewAdminHandler(service *admin.Service, kycService *kyc.Service, val *validator.Validator, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		service:   service,
		kyc:       kycService,
		validator: val,
		logger:    log,
	}
}

func (h *AdminHandler) actor(r *http.Request) (admin.Actor, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return admin.Actor{}, false
	}
	return admin.Actor{ID: principal.UserID, Role: principal.Role}, true
}

func (h *AdminHandler) pathID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	return id, err == nil
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		if err == io.EOF {
			respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "request body is required")
			return false
		}
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return false
	}
	if fields := h.validator.ValidateStructured(req); fields != nil {
		respondValidation(w, h.logger, fields)
		return false
	}
	return true
}

type reviewRequest struct {
	Action  string `json:"action" validate:"required,oneof=APPROVE REJECT REQUEST_RESUBMIT"`
	Remarks string `json:"remarks" validate:"max=1000"`
}

// Review applies an admin decision to a submission.
// POST /api/v1/admin/kyc/submissions/{id}/review
func (h *AdminHandler) Review(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	submissionID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}

	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	submission, err := h.service.ReviewSubmission(r.Context(), actor, submissionID, domain.ReviewAction(req.Action), validator.Sanitize(req.Remarks))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"submission_id": submission.ID,
		"status":        submission.Status,
	})
}

type adjustScoreRequest struct {
	Delta  int    `json:"delta" validate:"required,ne=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// AdjustScore applies a manual risk delta.
// POST /api/v1/admin/users/{id}/risk-adjust
func (h *AdminHandler) AdjustScore(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	userID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
		return
	}

	var req adjustScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	adj, err := h.service.AdjustScore(r.Context(), actor, userID, req.Delta, validator.Sanitize(req.Reason))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, adj)
}

type lockRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Lock freezes a user's account.
// POST /api/v1/admin/users/{id}/lock
func (h *AdminHandler) Lock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	userID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
		return
	}

	var req lockRequest
	if !h.decode(w, r, &req) {
		return
	}

	state, err := h.service.Lock(r.Context(), actor, userID, validator.Sanitize(req.Reason))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":      state.Status,
		"manual_lock": state.ManualLock,
		"risk_score":  state.RiskScore,
		"risk_level":  state.RiskLevel,
	})
}

// Unlock releases a manual lock.
// POST /api/v1/admin/users/{id}/unlock
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	userID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
		return
	}

	state, err := h.service.Unlock(r.Context(), actor, userID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":      state.Status,
		"manual_lock": state.ManualLock,
		"risk_score":  state.RiskScore,
		"risk_level":  state.RiskLevel,
	})
}

// UserState returns a user's verification row for an admin view.
// GET /api/v1/admin/users/{id}
func (h *AdminHandler) UserState(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	userID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
		return
	}

	state, err := h.service.UserState(r.Context(), actor, userID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, state)
}

// UserEvents returns the full transition and risk history for a user.
// GET /api/v1/admin/users/{id}/events
func (h *AdminHandler) UserEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	userID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
		return
	}

	transitions, riskEvents, err := h.service.UserHistory(r.Context(), actor, userID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"transitions": transitions,
		"risk_events": riskEvents,
	})
}

// SubmissionAudit returns the append-only audit log for a submission.
// GET /api/v1/admin/kyc/submissions/{id}/audit
func (h *AdminHandler) SubmissionAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(r); !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}
	submissionID, ok := h.pathID(r, "id")
	if !ok {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}

	entries, err := h.kyc.AuditTrail(r.Context(), submissionID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{"audit": entries})
}
