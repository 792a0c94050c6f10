// Package handler contains the thin HTTP adapters over the verification
// core. Handlers decode, call one service method, and encode; every
// business rule lives below them.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"trustgate/internal/authz"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

func respondJSON(w http.ResponseWriter, log logger.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Failed to encode JSON response", logger.Fields{
			"error":  err.Error(),
			"status": status,
		})
	}
}

func respondError(w http.ResponseWriter, log logger.Logger, status int, code, message string) {
	respondJSON(w, log, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// respondValidation renders per-field validation errors so clients can
// attach them to the offending inputs.
func respondValidation(w http.ResponseWriter, log logger.Logger, fields map[string]string) {
	respondJSON(w, log, http.StatusBadRequest, map[string]interface{}{
		"error":  "VALIDATION_ERROR",
		"fields": fields,
	})
}

// respondServiceError maps core sentinel errors onto the wire codes the
// API documents. Unknown errors become an opaque 500.
func respondServiceError(w http.ResponseWriter, log logger.Logger, err error) {
	switch {
	case stderrors.Is(err, errors.ErrConsentRequired):
		respondError(w, log, http.StatusBadRequest, "CONSENT_REQUIRED", "consent is required to process identity documents")
	case stderrors.Is(err, errors.ErrDuplicateSubmission):
		respondError(w, log, http.StatusConflict, "DUPLICATE_SUBMISSION", "an open submission already exists")
	case stderrors.Is(err, errors.ErrFileTooLarge), stderrors.Is(err, errors.ErrFileTypeNotAllowed):
		respondError(w, log, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case stderrors.Is(err, errors.ErrSubmissionNotFound),
		stderrors.Is(err, errors.ErrVerificationStateNotFound),
		stderrors.Is(err, errors.ErrUserNotFound),
		stderrors.Is(err, errors.ErrBlobNotFound):
		respondError(w, log, http.StatusNotFound, "NOT_FOUND", err.Error())
	case stderrors.Is(err, errors.ErrInvalidReviewAction):
		respondError(w, log, http.StatusBadRequest, "INVALID_ACTION", err.Error())
	case stderrors.Is(err, errors.ErrSubmissionTerminal):
		respondError(w, log, http.StatusConflict, "ALREADY_DECIDED", err.Error())
	case stderrors.Is(err, errors.ErrAccountLocked),
		stderrors.Is(err, errors.ErrAccountNotLocked),
		stderrors.Is(err, errors.ErrStateConflict):
		respondError(w, log, http.StatusConflict, "CONFLICT", err.Error())
	case stderrors.Is(err, errors.ErrAdminRoleRequired):
		respondError(w, log, http.StatusForbidden, "FORBIDDEN", err.Error())
	case stderrors.Is(err, errors.ErrNotAuthenticated):
		respondError(w, log, http.StatusUnauthorized, "NOT_AUTHENTICATED", err.Error())
	default:
		log.Error("Unhandled service error", logger.Fields{"error": err.Error()})
		respondError(w, log, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

// respondDenied renders an authorization denial with the context the
// gate attached, never a bare status code.
func respondDenied(w http.ResponseWriter, log logger.Logger, d authz.Decision) {
	status := http.StatusForbidden
	switch d.Reason {
	case authz.DenyNotAuthenticated:
		status = http.StatusUnauthorized
	case authz.DenyAccountLocked:
		status = http.StatusLocked
	}

	body := map[string]interface{}{
		"error":          string(d.Reason),
		"current_status": d.CurrentStatus,
		"current_tier":   d.CurrentTier,
	}
	if d.RequiredTier > 0 {
		body["required_tier"] = d.RequiredTier
	}
	if d.KYCStatus != "" {
		body["kyc_status"] = d.KYCStatus
	}
	if d.AdminRemarks != nil {
		body["remarks"] = *d.AdminRemarks
	}
	respondJSON(w, log, status, body)
}
