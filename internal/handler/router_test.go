package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"trustgate/internal/authz"
	"trustgate/internal/domain"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// stubStateReader reports no verification row, which the gate treats as a
// fresh UNVERIFIED account.
type stubStateReader struct{}

func (stubStateReader) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error) {
	return nil, errors.ErrVerificationStateNotFound
}

type stubSubmissionReader struct{}

func (stubSubmissionReader) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error) {
	return nil, errors.ErrSubmissionNotFound
}

func TestSubmitRouteOpenToUnverifiedUsers(t *testing.T) {
	// An UNVERIFIED user may open a KYC submission directly; the route
	// must not demand a tier the submission itself would grant. The
	// request fails on the missing consent flag, not at the gate.
	blobs, dir := testBlobStore(t)
	gate := authz.NewGate(stubStateReader{}, stubSubmissionReader{}, logger.NewNop())

	router := NewRouter(RouterDeps{
		Verification: nil,
		KYC:          NewKYCHandler(nil, blobs, logger.NewNop()),
		Admin:        nil,
		Gate:         gate,
		JWTSecret:    testJWTSecret,
		Redis:        nil,
		Logger:       logger.NewNop(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, submitRequest(t, uuid.New(), "false"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CONSENT_REQUIRED")
	assert.Zero(t, storedBlobCount(t, dir))
}

func TestSubmitRouteStillRequiresAuthentication(t *testing.T) {
	blobs, _ := testBlobStore(t)
	gate := authz.NewGate(stubStateReader{}, stubSubmissionReader{}, logger.NewNop())

	router := NewRouter(RouterDeps{
		KYC:       NewKYCHandler(nil, blobs, logger.NewNop()),
		Gate:      gate,
		JWTSecret: testJWTSecret,
		Logger:    logger.NewNop(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/kyc/submissions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
