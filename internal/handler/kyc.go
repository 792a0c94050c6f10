package handler

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"

	"trustgate/internal/fileupload"
	"trustgate/internal/kyc"
	"trustgate/internal/middleware"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// multipart fields for a KYC submission.
const (
	fieldIDDocument   = "id_document"
	fieldLivePhoto    = "live_photo"
	fieldAddressProof = "address_proof"
	fieldConsent      = "consent"
)

// KYCHandler serves document submission and submission status.
type KYCHandler struct {
	service *kyc.Service
	blobs   *fileupload.Store
	logger  logger.Logger
}

func NewKYCHandler(service *kyc.Service, blobs *fileupload.Store, log logger.Logger) *KYCHandler {
	return &KYCHandler{
		service: service,
		blobs:   blobs,
		logger:  log,
	}
}

// Submit accepts the three KYC documents as multipart form files plus a
// consent flag, stores the blobs, and opens a submission.
// POST /api/v1/kyc/submissions
func (h *KYCHandler) Submit(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}

	// Three documents at 10MB each plus form overhead.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", "expected multipart form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	// Nothing is persisted before consent: identity documents must not
	// touch the blob store for a request that is rejected outright.
	if r.FormValue(fieldConsent) != "true" {
		respondServiceError(w, h.logger, errors.ErrConsentRequired)
		return
	}

	handles := make(map[string]string, 3)
	for _, field := range []string{fieldIDDocument, fieldLivePhoto, fieldAddressProof} {
		handle, err := h.storeDocument(r, field)
		if err != nil {
			h.discard(r.Context(), handles)
			respondServiceError(w, h.logger, err)
			return
		}
		if handle == "" {
			h.discard(r.Context(), handles)
			respondError(w, h.logger, http.StatusBadRequest, "VALIDATION_ERROR", field+" file is required")
			return
		}
		handles[field] = handle
	}

	submission, err := h.service.Submit(r.Context(), principal.UserID, kyc.SubmitRequest{
		IDDocument:   handles[fieldIDDocument],
		LivePhoto:    handles[fieldLivePhoto],
		AddressProof: handles[fieldAddressProof],
		Consent:      true,
	})
	if err != nil {
		// A refused submission (duplicate, locked) must not leave
		// orphaned documents behind.
		h.discard(r.Context(), handles)
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusAccepted, map[string]interface{}{
		"submission_id": submission.ID,
		"status":        submission.Status,
	})
}

// discard removes blobs stored for a request that did not produce a
// submission. Delete is idempotent, so partial failures are safe.
func (h *KYCHandler) discard(ctx context.Context, handles map[string]string) {
	for field, handle := range handles {
		if err := h.blobs.Delete(ctx, handle); err != nil {
			h.logger.Warn("Failed to discard stored document", logger.Fields{
				"field":  field,
				"handle": handle,
				"error":  err.Error(),
			})
		}
	}
}

// storeDocument saves one multipart file and returns its blob handle, or
// "" when the field is absent.
func (h *KYCHandler) storeDocument(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return "", nil
		}
		return "", err
	}
	defer closeFile(file)

	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return h.blobs.Save(r.Context(), header.Filename, data)
}

func closeFile(f multipart.File) {
	_ = f.Close()
}

// Latest returns the caller's most recent submission.
// GET /api/v1/kyc/submissions/latest
func (h *KYCHandler) Latest(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, h.logger, http.StatusUnauthorized, "NOT_AUTHENTICATED", "missing user context")
		return
	}

	submission, err := h.service.Latest(r.Context(), principal.UserID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, submission)
}
