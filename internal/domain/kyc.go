package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KYCSubmissionStatus is the workflow status of a single submission.
// PENDING and UNDER_REVIEW are the open states; the rest are terminal.
type KYCSubmissionStatus string

const (
	SubmissionStatusPending        KYCSubmissionStatus = "PENDING"
	SubmissionStatusUnderReview    KYCSubmissionStatus = "UNDER_REVIEW"
	SubmissionStatusApproved       KYCSubmissionStatus = "APPROVED"
	SubmissionStatusRejected       KYCSubmissionStatus = "REJECTED"
	SubmissionStatusResubmitNeeded KYCSubmissionStatus = "RESUBMIT_REQUIRED"
)

// Open reports whether the submission still admits enrichment or decisions.
func (s KYCSubmissionStatus) Open() bool {
	return s == SubmissionStatusPending || s == SubmissionStatusUnderReview
}

// Terminal reports whether the submission has been decided.
func (s KYCSubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusApproved, SubmissionStatusRejected, SubmissionStatusResubmitNeeded:
		return true
	case SubmissionStatusPending, SubmissionStatusUnderReview:
		return false
	}
	return false
}

// OCRStatus is the state of the OCR enrichment step.
type OCRStatus string

const (
	OCRStatusPending   OCRStatus = "PENDING"
	OCRStatusCompleted OCRStatus = "COMPLETED"
	OCRStatusFailed    OCRStatus = "FAILED"
)

// FaceMatchStatus is the state of the face-match enrichment step.
type FaceMatchStatus string

const (
	FaceMatchStatusPending  FaceMatchStatus = "PENDING"
	FaceMatchStatusMatched  FaceMatchStatus = "MATCHED"
	FaceMatchStatusMismatch FaceMatchStatus = "MISMATCH"
	FaceMatchStatusFailed   FaceMatchStatus = "FAILED"
)

// Settled reports whether the enrichment step reached a terminal outcome,
// success or failure.
func (s OCRStatus) Settled() bool {
	return s == OCRStatusCompleted || s == OCRStatusFailed
}

func (s FaceMatchStatus) Settled() bool {
	return s == FaceMatchStatusMatched || s == FaceMatchStatusMismatch || s == FaceMatchStatusFailed
}

// KYCAuditAction classifies kyc_audit_log entries.
type KYCAuditAction string

const (
	AuditActionSubmitted       KYCAuditAction = "SUBMITTED"
	AuditActionOCRCompleted    KYCAuditAction = "OCR_COMPLETED"
	AuditActionOCRFailed       KYCAuditAction = "OCR_FAILED"
	AuditActionFaceMatchDone   KYCAuditAction = "FACE_MATCH_COMPLETED"
	AuditActionFaceMatchFailed KYCAuditAction = "FACE_MATCH_FAILED"
	AuditActionAutoDecision    KYCAuditAction = "AUTO_DECISION"
	AuditActionAdminReview     KYCAuditAction = "ADMIN_REVIEW"
)

// ReviewAction is an admin decision on a submission.
type ReviewAction string

const (
	ReviewApprove         ReviewAction = "APPROVE"
	ReviewReject          ReviewAction = "REJECT"
	ReviewRequestResubmit ReviewAction = "REQUEST_RESUBMIT"
)

func (a ReviewAction) Valid() bool {
	switch a {
	case ReviewApprove, ReviewReject, ReviewRequestResubmit:
		return true
	}
	return false
}

// KYCSubmission holds the documents and enrichment results for one KYC
// attempt. Document fields are opaque blob-store handles, never raw bytes.
// At most one submission per user may be open at a time.
type KYCSubmission struct {
	ID              uuid.UUID           `json:"id" db:"id"`
	UserID          uuid.UUID           `json:"user_id" db:"user_id"`
	IDDocument      string              `json:"id_document" db:"id_document"`
	LivePhoto       string              `json:"live_photo" db:"live_photo"`
	AddressProof    string              `json:"address_proof" db:"address_proof"`
	Status          KYCSubmissionStatus `json:"status" db:"status"`
	ConsentGiven    bool                `json:"consent_given" db:"consent_given"`
	ConsentGivenAt  *time.Time          `json:"consent_given_at,omitempty" db:"consent_given_at"`

	// Enrichment results, nullable until the async steps settle.
	OCRStatus            *OCRStatus       `json:"ocr_status,omitempty" db:"ocr_status"`
	OCRConfidence        *decimal.Decimal `json:"ocr_confidence,omitempty" db:"ocr_confidence"`
	DocumentExpired      *bool            `json:"document_expired,omitempty" db:"document_expired"`
	FaceMatchStatus      *FaceMatchStatus `json:"face_match_status,omitempty" db:"face_match_status"`
	FaceMatchScore       *decimal.Decimal `json:"face_match_score,omitempty" db:"face_match_score"`
	LivenessCheckPassed  *bool            `json:"liveness_check_passed,omitempty" db:"liveness_check_passed"`
	LivenessScore        *decimal.Decimal `json:"liveness_score,omitempty" db:"liveness_score"`

	AdminRemarks *string    `json:"admin_remarks,omitempty" db:"admin_remarks"`
	ReviewedBy   *uuid.UUID `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EnrichmentSettled reports whether both async steps reached a terminal
// state, meaning the auto-decision may run.
func (s *KYCSubmission) EnrichmentSettled() bool {
	if s.OCRStatus == nil || s.FaceMatchStatus == nil {
		return false
	}
	return s.OCRStatus.Settled() && s.FaceMatchStatus.Settled()
}

// KYCAuditLogEntry records one mutation of a submission. Append-only; every
// status change on a submission produces exactly one entry.
type KYCAuditLogEntry struct {
	ID           uuid.UUID           `json:"id" db:"id"`
	SubmissionID uuid.UUID           `json:"submission_id" db:"submission_id"`
	UserID       uuid.UUID           `json:"user_id" db:"user_id"`
	AdminID      *uuid.UUID          `json:"admin_id,omitempty" db:"admin_id"`
	Action       KYCAuditAction      `json:"action" db:"action"`
	StatusBefore KYCSubmissionStatus `json:"status_before" db:"status_before"`
	StatusAfter  KYCSubmissionStatus `json:"status_after" db:"status_after"`
	Remarks      string              `json:"remarks" db:"remarks"`
	Metadata     Metadata            `json:"metadata" db:"metadata"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
}
