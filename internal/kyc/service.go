// Package kyc orchestrates the submission pipeline: document intake,
// asynchronous enrichment, the auto-decision, and admin review. Every
// status change it causes goes through the verification state machine.
package kyc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"trustgate/internal/domain"
	"trustgate/internal/enrichment"
	"trustgate/internal/notification"
	"trustgate/internal/verification"
	"trustgate/pkg/config"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// Repository is the persistence surface for submissions and their audit log.
type Repository interface {
	Create(ctx context.Context, submission *domain.KYCSubmission) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, submission *domain.KYCSubmission) error
	Update(ctx context.Context, submission *domain.KYCSubmission) error
	UpdateTx(ctx context.Context, tx *sqlx.Tx, submission *domain.KYCSubmission) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.KYCSubmission, error)
	FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.KYCSubmission, error)
	FindOpenByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error)
	RecordOCRResult(ctx context.Context, id uuid.UUID, status domain.OCRStatus, confidence *decimal.Decimal, expired *bool) error
	RecordFaceMatchResult(ctx context.Context, id uuid.UUID, status domain.FaceMatchStatus, score *decimal.Decimal, livenessPassed *bool, livenessScore *decimal.Decimal) error
	FindStaleOpen(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.KYCSubmission, error)
	AppendAuditEntry(ctx context.Context, entry *domain.KYCAuditLogEntry) error
	AppendAuditEntryTx(ctx context.Context, tx *sqlx.Tx, entry *domain.KYCAuditLogEntry) error
	ListAuditBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*domain.KYCAuditLogEntry, error)
}

// StateMachine is the slice of the verification machine the pipeline drives.
type StateMachine interface {
	Apply(ctx context.Context, userID uuid.UUID, trigger verification.Trigger) (*verification.Result, error)
	ApplyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, trigger verification.Trigger) (*verification.Result, error)
}

// Notifier delivers fire-and-forget user notifications. Failures must never
// block or roll back pipeline state.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]interface{})
}

// SubmitRequest carries the stored document handles for a new submission.
type SubmitRequest struct {
	IDDocument   string `json:"id_document" validate:"required"`
	LivePhoto    string `json:"live_photo" validate:"required"`
	AddressProof string `json:"address_proof" validate:"required"`
	Consent      bool   `json:"consent"`
}

// Service is the KYC submission pipeline.
type Service struct {
	db       *sqlx.DB
	repo     Repository
	machine  StateMachine
	ocr      enrichment.OCRProvider
	faces    enrichment.FaceMatchProvider
	notifier Notifier
	policy   config.PolicyConfig
	worker   config.WorkerConfig
	logger   logger.Logger

	queue chan uuid.UUID
	stop  chan struct{}
	done  chan struct{}
}

// NewService creates the pipeline. Call Start to launch the enrichment
// workers and Stop to drain them.
func NewService(
	db *sqlx.DB,
	repo Repository,
	machine StateMachine,
	ocr enrichment.OCRProvider,
	faces enrichment.FaceMatchProvider,
	notifier Notifier,
	policy config.PolicyConfig,
	worker config.WorkerConfig,
	log logger.Logger,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		machine:  machine,
		ocr:      ocr,
		faces:    faces,
		notifier: notifier,
		policy:   policy,
		worker:   worker,
		logger:   log,
		queue:    make(chan uuid.UUID, worker.QueueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Submit validates and persists a new submission, transitions the user to
// KYC_PENDING, and schedules enrichment. The enrichment itself runs out of
// band; the caller returns as soon as PENDING is committed.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (*domain.KYCSubmission, error) {
	if !req.Consent {
		return nil, errors.ErrConsentRequired
	}

	if _, err := s.repo.FindOpenByUser(ctx, userID); err == nil {
		return nil, errors.ErrDuplicateSubmission
	} else if !errors.Is(err, errors.ErrSubmissionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	ocrPending := domain.OCRStatusPending
	facePending := domain.FaceMatchStatusPending
	submission := &domain.KYCSubmission{
		UserID:          userID,
		IDDocument:      req.IDDocument,
		LivePhoto:       req.LivePhoto,
		AddressProof:    req.AddressProof,
		Status:          domain.SubmissionStatusPending,
		ConsentGiven:    true,
		ConsentGivenAt:  &now,
		OCRStatus:       &ocrPending,
		FaceMatchStatus: &facePending,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin submission")
	}
	defer tx.Rollback()

	// The unique index on open submissions backstops the check above if
	// two submits race.
	if err := s.repo.CreateTx(ctx, tx, submission); err != nil {
		return nil, err
	}

	if err := s.repo.AppendAuditEntryTx(ctx, tx, &domain.KYCAuditLogEntry{
		SubmissionID: submission.ID,
		UserID:       userID,
		Action:       domain.AuditActionSubmitted,
		StatusBefore: domain.SubmissionStatusPending,
		StatusAfter:  domain.SubmissionStatusPending,
	}); err != nil {
		return nil, err
	}

	if _, err := s.machine.ApplyTx(ctx, tx, userID, verification.Trigger{
		Type: verification.TriggerKYCSubmitted,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit submission")
	}

	s.logger.Info("KYC submission created", logger.Fields{
		"submission_id": submission.ID,
		"user_id":       userID,
	})

	s.notifyAsync(userID, notification.EventKYCSubmitted, map[string]interface{}{
		"submission_id": submission.ID.String(),
	})
	s.enqueue(submission.ID)
	return submission, nil
}

// AdminReview applies an admin decision to an open submission. Admin
// decisions take precedence over whatever the auto-decision concluded, but
// a submission already decided stays decided; re-review means a new
// submission.
func (s *Service) AdminReview(ctx context.Context, submissionID uuid.UUID, action domain.ReviewAction, remarks string, adminID uuid.UUID) (*domain.KYCSubmission, error) {
	if !action.Valid() {
		return nil, errors.ErrInvalidReviewAction
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin admin review")
	}
	defer tx.Rollback()

	submission, err := s.repo.FindByIDForUpdate(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.Status.Terminal() {
		return nil, errors.ErrSubmissionTerminal
	}

	before := submission.Status
	var trigger verification.TriggerType
	switch action {
	case domain.ReviewApprove:
		submission.Status = domain.SubmissionStatusApproved
		trigger = verification.TriggerKYCApproved
	case domain.ReviewReject:
		submission.Status = domain.SubmissionStatusRejected
		trigger = verification.TriggerKYCRejected
	case domain.ReviewRequestResubmit:
		submission.Status = domain.SubmissionStatusResubmitNeeded
		trigger = verification.TriggerResubmitRequested
	}

	now := time.Now().UTC()
	submission.AdminRemarks = &remarks
	submission.ReviewedBy = &adminID
	submission.ReviewedAt = &now

	res, err := s.machine.ApplyTx(ctx, tx, submission.UserID, verification.Trigger{
		Type:    trigger,
		ActorID: &adminID,
		Reason:  remarks,
	})
	if err != nil {
		return nil, err
	}
	if !res.Transitioned {
		// The verification state refused the transition, most often a
		// manual lock placed after the submission. Recording a terminal
		// decision now would strand the user's status, so refuse.
		if res.State.Status == domain.StatusLocked {
			return nil, errors.ErrAccountLocked
		}
		return nil, errors.ErrStateConflict
	}

	if err := s.repo.UpdateTx(ctx, tx, submission); err != nil {
		return nil, err
	}

	if err := s.repo.AppendAuditEntryTx(ctx, tx, &domain.KYCAuditLogEntry{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		AdminID:      &adminID,
		Action:       domain.AuditActionAdminReview,
		StatusBefore: before,
		StatusAfter:  submission.Status,
		Remarks:      remarks,
		Metadata:     domain.Metadata{"review_action": string(action)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit admin review")
	}

	s.logger.Info("KYC submission reviewed", logger.Fields{
		"submission_id": submission.ID,
		"user_id":       submission.UserID,
		"admin_id":      adminID,
		"action":        action,
		"status":        submission.Status,
	})

	s.notifyAsync(submission.UserID, notificationEvent(submission.Status), map[string]interface{}{
		"submission_id": submission.ID.String(),
		"status":        string(submission.Status),
		"remarks":       remarks,
	})
	return submission, nil
}

// Latest returns the user's most recent submission.
func (s *Service) Latest(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error) {
	return s.repo.FindLatestByUser(ctx, userID)
}

// FindByID returns one submission.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*domain.KYCSubmission, error) {
	return s.repo.FindByID(ctx, id)
}

// AuditTrail returns the audit log for a submission, oldest first.
func (s *Service) AuditTrail(ctx context.Context, submissionID uuid.UUID) ([]*domain.KYCAuditLogEntry, error) {
	return s.repo.ListAuditBySubmission(ctx, submissionID)
}

func (s *Service) enqueue(submissionID uuid.UUID) {
	select {
	case s.queue <- submissionID:
	default:
		// Queue full. The stale-submission sweep picks it up later.
		s.logger.Warn("Enrichment queue full, deferred to sweep", logger.Fields{
			"submission_id": submissionID,
		})
	}
}

func (s *Service) notifyAsync(userID uuid.UUID, event string, payload map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.notifier.Notify(ctx, userID, event, payload)
	}()
}

// notificationEvent maps a submission status onto the notification event
// a user should receive about it.
func notificationEvent(status domain.KYCSubmissionStatus) string {
	switch status {
	case domain.SubmissionStatusApproved:
		return notification.EventKYCApproved
	case domain.SubmissionStatusRejected:
		return notification.EventKYCRejected
	case domain.SubmissionStatusResubmitNeeded:
		return notification.EventResubmitNeeded
	case domain.SubmissionStatusUnderReview:
		return notification.EventKYCUnderReview
	case domain.SubmissionStatusPending:
		return notification.EventKYCSubmitted
	}
	return ""
}
