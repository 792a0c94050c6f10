package kyc

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trustgate/internal/domain"
	"trustgate/internal/verification"
	"trustgate/pkg/config"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// Decision is the pipeline's verdict on a settled submission.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
	DecisionReview  Decision = "REVIEW"
)

// autoDecide classifies a submission whose enrichment has settled.
//
// An expired ID document always rejects. Auto-approval requires every
// signal to independently clear its bar: face matched, liveness passed,
// similarity and OCR confidence at or above policy thresholds. Anything
// less routes to manual review, never to approval.
func autoDecide(submission *domain.KYCSubmission, policy config.PolicyConfig) Decision {
	if submission.DocumentExpired != nil && *submission.DocumentExpired {
		return DecisionReject
	}

	if submission.OCRStatus == nil || *submission.OCRStatus != domain.OCRStatusCompleted {
		return DecisionReview
	}
	if submission.FaceMatchStatus == nil || *submission.FaceMatchStatus != domain.FaceMatchStatusMatched {
		return DecisionReview
	}
	if submission.LivenessCheckPassed == nil || !*submission.LivenessCheckPassed {
		return DecisionReview
	}

	if submission.OCRConfidence == nil ||
		submission.OCRConfidence.LessThan(decimal.NewFromInt(policy.MinAutoApproveOCRConfidence)) {
		return DecisionReview
	}
	if submission.FaceMatchScore == nil ||
		submission.FaceMatchScore.LessThan(decimal.NewFromInt(policy.MinAutoApproveSimilarity)) {
		return DecisionReview
	}
	if submission.LivenessScore != nil &&
		submission.LivenessScore.LessThan(decimal.NewFromInt(policy.MinLivenessScore)) {
		return DecisionReview
	}

	return DecisionApprove
}

// decide applies the auto-decision to a submission at most once. The
// submission row lock plus the terminal-status check make retried jobs
// (crash recovery, duplicate queue entries) no-ops.
func (s *Service) decide(ctx context.Context, submissionID uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin decision")
	}
	defer tx.Rollback()

	submission, err := s.repo.FindByIDForUpdate(ctx, tx, submissionID)
	if err != nil {
		return err
	}

	if submission.Status.Terminal() || submission.Status == domain.SubmissionStatusUnderReview {
		return tx.Commit()
	}
	if !submission.EnrichmentSettled() {
		return tx.Commit()
	}

	before := submission.Status
	decision := autoDecide(submission, s.policy)

	switch decision {
	case DecisionApprove, DecisionReject:
		trigger := verification.TriggerKYCApproved
		target := domain.SubmissionStatusApproved
		if decision == DecisionReject {
			trigger = verification.TriggerKYCRejected
			target = domain.SubmissionStatusRejected
		}
		res, err := s.machine.ApplyTx(ctx, tx, submission.UserID, verification.Trigger{
			Type:     trigger,
			Metadata: domain.Metadata{"submission_id": submissionID.String()},
		})
		if err != nil {
			return err
		}
		if res.Transitioned {
			submission.Status = target
		} else {
			// The verification state refused the transition, most often
			// a manual lock placed mid-enrichment. A terminal decision
			// without the matching status change would strand the user,
			// so park the submission for an admin instead.
			submission.Status = domain.SubmissionStatusUnderReview
			s.logger.Warn("Auto-decision deferred to manual review", logger.Fields{
				"submission_id": submissionID,
				"user_id":       submission.UserID,
				"decision":      decision,
				"status":        res.State.Status,
			})
		}
	case DecisionReview:
		// Stays with the verification status at KYC_PENDING; a human
		// picks it up from the review queue.
		submission.Status = domain.SubmissionStatusUnderReview
	}

	if err := s.repo.UpdateTx(ctx, tx, submission); err != nil {
		return err
	}

	if err := s.repo.AppendAuditEntryTx(ctx, tx, &domain.KYCAuditLogEntry{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		Action:       domain.AuditActionAutoDecision,
		StatusBefore: before,
		StatusAfter:  submission.Status,
		Metadata: domain.Metadata{
			"decision": string(decision),
		},
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit decision")
	}

	s.logger.Info("KYC auto-decision applied", logger.Fields{
		"submission_id": submission.ID,
		"user_id":       submission.UserID,
		"decision":      decision,
		"status":        submission.Status,
	})

	s.notifyAsync(submission.UserID, notificationEvent(submission.Status), map[string]interface{}{
		"submission_id": submission.ID.String(),
		"status":        string(submission.Status),
	})
	return nil
}
