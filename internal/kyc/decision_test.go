package kyc

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"trustgate/internal/domain"
	"trustgate/internal/notification"
	"trustgate/pkg/config"
	"trustgate/pkg/logger"
)

func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		MinAutoApproveSimilarity:    80,
		MinAutoApproveOCRConfidence: 85,
		MinLivenessScore:            60,
	}
}

func boolPtr(b bool) *bool { return &b }

func decPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

// settledSubmission builds a submission that clears every auto-approval
// bar; tests degrade individual signals from there.
func settledSubmission() *domain.KYCSubmission {
	ocrDone := domain.OCRStatusCompleted
	faceMatched := domain.FaceMatchStatusMatched
	return &domain.KYCSubmission{
		Status:              domain.SubmissionStatusPending,
		OCRStatus:           &ocrDone,
		OCRConfidence:       decPtr(92.5),
		DocumentExpired:     boolPtr(false),
		FaceMatchStatus:     &faceMatched,
		FaceMatchScore:      decPtr(91.0),
		LivenessCheckPassed: boolPtr(true),
		LivenessScore:       decPtr(75.0),
	}
}

func TestAutoDecideApprovesWhenAllSignalsClear(t *testing.T) {
	assert.Equal(t, DecisionApprove, autoDecide(settledSubmission(), testPolicy()))
}

func TestAutoDecideExpiredDocumentRejects(t *testing.T) {
	s := settledSubmission()
	s.DocumentExpired = boolPtr(true)
	assert.Equal(t, DecisionReject, autoDecide(s, testPolicy()))

	// Expiry dominates even when other signals are degraded too.
	failed := domain.OCRStatusFailed
	s.OCRStatus = &failed
	assert.Equal(t, DecisionReject, autoDecide(s, testPolicy()))
}

func TestAutoDecideRoutesToReview(t *testing.T) {
	ocrFailed := domain.OCRStatusFailed
	faceMismatch := domain.FaceMatchStatusMismatch
	faceFailed := domain.FaceMatchStatusFailed

	tests := []struct {
		name   string
		mutate func(*domain.KYCSubmission)
	}{
		{"ocr failed", func(s *domain.KYCSubmission) { s.OCRStatus = &ocrFailed }},
		{"ocr status missing", func(s *domain.KYCSubmission) { s.OCRStatus = nil }},
		{"face mismatch", func(s *domain.KYCSubmission) { s.FaceMatchStatus = &faceMismatch }},
		{"face match failed", func(s *domain.KYCSubmission) { s.FaceMatchStatus = &faceFailed }},
		{"liveness failed", func(s *domain.KYCSubmission) { s.LivenessCheckPassed = boolPtr(false) }},
		{"liveness missing", func(s *domain.KYCSubmission) { s.LivenessCheckPassed = nil }},
		{"ocr confidence below threshold", func(s *domain.KYCSubmission) { s.OCRConfidence = decPtr(84.99) }},
		{"ocr confidence missing", func(s *domain.KYCSubmission) { s.OCRConfidence = nil }},
		{"similarity below threshold", func(s *domain.KYCSubmission) { s.FaceMatchScore = decPtr(79.5) }},
		{"similarity missing", func(s *domain.KYCSubmission) { s.FaceMatchScore = nil }},
		{"liveness score below threshold", func(s *domain.KYCSubmission) { s.LivenessScore = decPtr(59.0) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := settledSubmission()
			tc.mutate(s)
			assert.Equal(t, DecisionReview, autoDecide(s, testPolicy()))
		})
	}
}

func TestAutoDecideThresholdsAreInclusive(t *testing.T) {
	s := settledSubmission()
	s.OCRConfidence = decPtr(85)
	s.FaceMatchScore = decPtr(80)
	s.LivenessScore = decPtr(60)
	assert.Equal(t, DecisionApprove, autoDecide(s, testPolicy()))
}

func TestAutoDecideMissingLivenessScoreStillApproves(t *testing.T) {
	// Some face-match providers report only pass/fail; a missing score
	// does not block approval as long as the check itself passed.
	s := settledSubmission()
	s.LivenessScore = nil
	assert.Equal(t, DecisionApprove, autoDecide(s, testPolicy()))
}

func TestAutoDecideUnexpiredSignalUnknownStillApproves(t *testing.T) {
	s := settledSubmission()
	s.DocumentExpired = nil
	assert.Equal(t, DecisionApprove, autoDecide(s, testPolicy()))
}

func TestNotificationEventCoversEveryStatus(t *testing.T) {
	// Each outcome maps onto a templated notification event; a bare
	// string here would be dropped by the notification service.
	tests := []struct {
		status domain.KYCSubmissionStatus
		event  string
	}{
		{domain.SubmissionStatusPending, notification.EventKYCSubmitted},
		{domain.SubmissionStatusUnderReview, notification.EventKYCUnderReview},
		{domain.SubmissionStatusApproved, notification.EventKYCApproved},
		{domain.SubmissionStatusRejected, notification.EventKYCRejected},
		{domain.SubmissionStatusResubmitNeeded, notification.EventResubmitNeeded},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.event, notificationEvent(tc.status), "status %s", tc.status)
	}
}

func TestNotificationEventsAreDeliverable(t *testing.T) {
	sender := notification.NewLogSender(logger.NewNop())
	notifier := notification.NewService(sender, logger.NewNop())

	for _, status := range []domain.KYCSubmissionStatus{
		domain.SubmissionStatusApproved,
		domain.SubmissionStatusRejected,
		domain.SubmissionStatusUnderReview,
		domain.SubmissionStatusResubmitNeeded,
	} {
		notifier.Notify(context.Background(), uuid.New(), notificationEvent(status), nil)
	}

	assert.Len(t, sender.Sent(), 4)
}
