package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"trustgate/internal/domain"
	"trustgate/internal/middleware"
	"trustgate/internal/verification"
	"trustgate/pkg/logger"
	"trustgate/pkg/validator"
)

// ProfileStore is the user-profile persistence the handler needs.
type ProfileStore interface {
	FindProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, profile *domain.Profile) error
}

// VerificationHandler serves the user-facing verification endpoints.
type VerificationHandler struct {
	machine   *verification.Machine
	users     ProfileStore
	validator *validator.Validator
	logger    logger.Logger
}

func NewVerificationHandler(machine *verification.Machine, users ProfileStore, val *validator.Validator, log logger.Logger) *VerificationHandler {
	return &VerificationHandler{
		machine:   machine,
		users:     users,
		validator: val,
		logger:    log,
	}
}

type statusResponse struct {
	Status          domain.VerificationStatus `json:"status"`
	Tier            int                       `json:"tier"`
	RiskScore       int                       `json:"risk_score"`
	RiskLevel       domain.RiskLevel          `json:"risk_level"`
	BasicVerifiedAt *time.Time                `json:"basic_verified_at,omitempty"`
	KYCVerifiedAt   *time.Time                `json:"kyc_verified_at,omitempty"`
	ManualLock      bool                      `json:"manual_lock"`
}

// Status returns the caller's current verification state.
// GET /api/v1/verification/status
func (h *VerificationHandler) Status(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}

	state, err := h.machine.Current(r.Context(), principal.UserID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, statusResponse{
		Status:          state.Status,
		Tier:            state.Status.Tier(),
		RiskScore:       state.RiskScore,
		RiskLevel:       state.RiskLevel,
		BasicVerifiedAt: state.BasicVerifiedAt,
		KYCVerifiedAt:   state.KYCVerifiedAt,
		ManualLock:      state.ManualLock,
	})
}

type updateProfileRequest struct {
	Phone       string     `json:"phone" validate:"omitempty,min=7,max=20"`
	Address     string     `json:"address" validate:"omitempty,max=500"`
	DateOfBirth *time.Time `json:"date_of_birth"`
}

// UpdateProfile writes the contact fields and immediately re-evaluates
// automatic promotion, so completing a profile can carry the user to
// BASIC_VERIFIED in one request.
// PUT /api/v1/profile
func (h *VerificationHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req updateProfileRequest
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "request body is required")
			return
		}
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if fields := h.validator.ValidateStructured(req); fields != nil {
		respondValidation(w, h.logger, fields)
		return
	}

	profile, err := h.users.FindProfile(r.Context(), principal.UserID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	if req.Phone != "" {
		profile.Phone = validator.Sanitize(req.Phone)
	}
	if req.Address != "" {
		profile.Address = validator.Sanitize(req.Address)
	}
	if req.DateOfBirth != nil {
		profile.DateOfBirth = req.DateOfBirth
	}

	if err := h.users.UpdateProfile(r.Context(), profile); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	result, err := h.machine.EvaluateProfile(r.Context(), principal.UserID, profile)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":       result.State.Status,
		"tier":         result.State.Status.Tier(),
		"transitioned": result.Transitioned,
	})
}
