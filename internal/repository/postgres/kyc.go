package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"
)

// uniqueViolation is the postgres error code raised by the partial unique
// index on open submissions.
const uniqueViolation = "23505"

// KYCRepository persists KYC submissions and their append-only audit log.
type KYCRepository struct {
	db *sqlx.DB
}

// NewKYCRepository creates a new KYCRepository.
func NewKYCRepository(db *sqlx.DB) *KYCRepository {
	return &KYCRepository{db: db}
}

// Create inserts a new submission. The partial unique index on
// (user_id) WHERE status IN ('PENDING','UNDER_REVIEW') enforces the
// one-open-submission rule; a violation surfaces as ErrDuplicateSubmission
// so the race between check and insert cannot create two open rows.
func (r *KYCRepository) Create(ctx context.Context, submission *domain.KYCSubmission) error {
	return r.create(ctx, r.db, submission)
}

// CreateTx inserts a new submission within a transaction.
func (r *KYCRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, submission *domain.KYCSubmission) error {
	return r.create(ctx, tx, submission)
}

func (r *KYCRepository) create(ctx context.Context, ext sqlx.ExtContext, submission *domain.KYCSubmission) error {
	if submission.ID == uuid.Nil {
		submission.ID = uuid.New()
	}
	now := time.Now().UTC()
	submission.CreatedAt = now
	submission.UpdatedAt = now

	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO kyc_submissions (
			id, user_id, id_document, live_photo, address_proof, status,
			consent_given, consent_given_at,
			ocr_status, ocr_confidence, document_expired,
			face_match_status, face_match_score, liveness_check_passed, liveness_score,
			admin_remarks, reviewed_by, reviewed_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :id_document, :live_photo, :address_proof, :status,
			:consent_given, :consent_given_at,
			:ocr_status, :ocr_confidence, :document_expired,
			:face_match_status, :face_match_score, :liveness_check_passed, :liveness_score,
			:admin_remarks, :reviewed_by, :reviewed_at, :created_at, :updated_at
		)
	`, submission)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return errors.ErrDuplicateSubmission
		}
		return errors.Wrap(err, "failed to create kyc submission")
	}
	return nil
}

// Update writes the mutable fields of a submission.
func (r *KYCRepository) Update(ctx context.Context, submission *domain.KYCSubmission) error {
	submission.UpdatedAt = time.Now().UTC()
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE kyc_submissions SET
			status = :status,
			ocr_status = :ocr_status,
			ocr_confidence = :ocr_confidence,
			document_expired = :document_expired,
			face_match_status = :face_match_status,
			face_match_score = :face_match_score,
			liveness_check_passed = :liveness_check_passed,
			liveness_score = :liveness_score,
			admin_remarks = :admin_remarks,
			reviewed_by = :reviewed_by,
			reviewed_at = :reviewed_at,
			updated_at = :updated_at
		WHERE id = :id
	`, submission)
	if err != nil {
		return errors.Wrap(err, "failed to update kyc submission")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrSubmissionNotFound
	}
	return nil
}

// RecordOCRResult writes only the OCR fields so a concurrently running
// face-match step cannot clobber them.
func (r *KYCRepository) RecordOCRResult(ctx context.Context, id uuid.UUID, status domain.OCRStatus, confidence *decimal.Decimal, expired *bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE kyc_submissions SET
			ocr_status = $2,
			ocr_confidence = $3,
			document_expired = $4,
			updated_at = $5
		WHERE id = $1
	`, id, status, confidence, expired, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to record ocr result")
	}
	return checkFound(result)
}

// RecordFaceMatchResult writes only the face-match fields.
func (r *KYCRepository) RecordFaceMatchResult(ctx context.Context, id uuid.UUID, status domain.FaceMatchStatus, score *decimal.Decimal, livenessPassed *bool, livenessScore *decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE kyc_submissions SET
			face_match_status = $2,
			face_match_score = $3,
			liveness_check_passed = $4,
			liveness_score = $5,
			updated_at = $6
		WHERE id = $1
	`, id, status, score, livenessPassed, livenessScore, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to record face match result")
	}
	return checkFound(result)
}

// FindStaleOpen returns open submissions that have not been touched since
// the cutoff. The worker re-queues them after a crash or restart.
func (r *KYCRepository) FindStaleOpen(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.KYCSubmission, error) {
	var submissions []*domain.KYCSubmission
	err := r.db.SelectContext(ctx, &submissions, `
		SELECT * FROM kyc_submissions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, domain.SubmissionStatusPending, updatedBefore, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stale submissions")
	}
	return submissions, nil
}

func checkFound(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrSubmissionNotFound
	}
	return nil
}

// FindByID returns a submission by its identifier.
func (r *KYCRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.KYCSubmission, error) {
	var submission domain.KYCSubmission
	err := r.db.GetContext(ctx, &submission,
		`SELECT * FROM kyc_submissions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find kyc submission")
	}
	return &submission, nil
}

// FindByIDForUpdate loads a submission with a row-level lock. The decision
// path uses it so a retried background job cannot decide the same
// submission twice.
func (r *KYCRepository) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.KYCSubmission, error) {
	var submission domain.KYCSubmission
	err := tx.GetContext(ctx, &submission,
		`SELECT * FROM kyc_submissions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock kyc submission")
	}
	return &submission, nil
}

// UpdateTx writes the mutable fields of a submission within a transaction.
func (r *KYCRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, submission *domain.KYCSubmission) error {
	submission.UpdatedAt = time.Now().UTC()
	result, err := tx.NamedExecContext(ctx, `
		UPDATE kyc_submissions SET
			status = :status,
			ocr_status = :ocr_status,
			ocr_confidence = :ocr_confidence,
			document_expired = :document_expired,
			face_match_status = :face_match_status,
			face_match_score = :face_match_score,
			liveness_check_passed = :liveness_check_passed,
			liveness_score = :liveness_score,
			admin_remarks = :admin_remarks,
			reviewed_by = :reviewed_by,
			reviewed_at = :reviewed_at,
			updated_at = :updated_at
		WHERE id = :id
	`, submission)
	if err != nil {
		return errors.Wrap(err, "failed to update kyc submission")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrSubmissionNotFound
	}
	return nil
}

// FindOpenByUser returns the user's open submission (PENDING or
// UNDER_REVIEW) if one exists.
func (r *KYCRepository) FindOpenByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error) {
	var submission domain.KYCSubmission
	err := r.db.GetContext(ctx, &submission, `
		SELECT * FROM kyc_submissions
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, domain.SubmissionStatusPending, domain.SubmissionStatusUnderReview)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find open kyc submission")
	}
	return &submission, nil
}

// FindLatestByUser returns the user's most recent submission of any status.
func (r *KYCRepository) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error) {
	var submission domain.KYCSubmission
	err := r.db.GetContext(ctx, &submission, `
		SELECT * FROM kyc_submissions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find latest kyc submission")
	}
	return &submission, nil
}

// AppendAuditEntry appends one audit log entry.
func (r *KYCRepository) AppendAuditEntry(ctx context.Context, entry *domain.KYCAuditLogEntry) error {
	return r.appendAudit(ctx, r.db, entry)
}

// AppendAuditEntryTx appends one audit log entry within a transaction.
func (r *KYCRepository) AppendAuditEntryTx(ctx context.Context, tx *sqlx.Tx, entry *domain.KYCAuditLogEntry) error {
	return r.appendAudit(ctx, tx, entry)
}

func (r *KYCRepository) appendAudit(ctx context.Context, ext sqlx.ExtContext, entry *domain.KYCAuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO kyc_audit_log (id, submission_id, user_id, admin_id, action, status_before, status_after, remarks, metadata, created_at)
		VALUES (:id, :submission_id, :user_id, :admin_id, :action, :status_before, :status_after, :remarks, :metadata, :created_at)
	`, entry)
	if err != nil {
		return errors.Wrap(err, "failed to append kyc audit entry")
	}
	return nil
}

// ListAuditBySubmission returns the audit trail for one submission,
// oldest first.
func (r *KYCRepository) ListAuditBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*domain.KYCAuditLogEntry, error) {
	var entries []*domain.KYCAuditLogEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM kyc_audit_log
		WHERE submission_id = $1
		ORDER BY created_at ASC, id ASC
	`, submissionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list kyc audit entries")
	}
	return entries, nil
}
