package authz

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// DenyReason classifies why the gate refused an operation. Denials are
// ordinary return values, not errors: callers render them directly.
type DenyReason string

const (
	DenyNotAuthenticated DenyReason = "NOT_AUTHENTICATED"
	DenyRoleRequired     DenyReason = "ROLE_REQUIRED"
	DenyAccountLocked    DenyReason = "ACCOUNT_LOCKED"
	DenyInsufficientTier DenyReason = "INSUFFICIENT_TIER"
	DenyVerificationReq  DenyReason = "VERIFICATION_REQUIRED"
	DenyKYCRequired      DenyReason = "KYC_REQUIRED"
)

// KYCGateStatus is the submission sub-state surfaced alongside a
// KYC_REQUIRED denial so the caller can tell the user what to do next.
type KYCGateStatus string

const (
	KYCNotSubmitted  KYCGateStatus = "NOT_SUBMITTED"
	KYCPendingReview KYCGateStatus = "PENDING_REVIEW"
	KYCRejected      KYCGateStatus = "REJECTED"
	KYCApproved      KYCGateStatus = "APPROVED"
)

// Principal is the authenticated caller, as resolved by the auth
// middleware. A zero Principal means no credentials were presented.
type Principal struct {
	UserID        uuid.UUID
	Role          domain.Role
	Authenticated bool
}

// Requirement is what a protected operation demands of the caller.
// Fields compose: a route may require both a role and a minimum tier.
type Requirement struct {
	Role        domain.Role
	MinimumTier int
	KYCApproved bool
}

// Decision is the gate's verdict. On deny it carries the current status
// and the tier the operation wanted, so handlers never answer with a
// bare 401.
type Decision struct {
	Allowed       bool
	Reason        DenyReason
	CurrentStatus domain.VerificationStatus
	CurrentTier   int
	RequiredTier  int
	KYCStatus     KYCGateStatus
	AdminRemarks  *string

	// State is the resolved verification row, attached so the request
	// that triggered the check can reuse it without a second read.
	State *domain.VerificationState
}

func allow(state *domain.VerificationState) Decision {
	d := Decision{Allowed: true, State: state}
	if state != nil {
		d.CurrentStatus = state.Status
		d.CurrentTier = state.Status.Tier()
	}
	return d
}

func deny(reason DenyReason, state *domain.VerificationState) Decision {
	d := Decision{Allowed: false, Reason: reason, State: state}
	if state != nil {
		d.CurrentStatus = state.Status
		d.CurrentTier = state.Status.Tier()
	}
	return d
}

// StateReader resolves the caller's current verification state.
type StateReader interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error)
}

// SubmissionReader resolves the caller's most recent KYC submission.
type SubmissionReader interface {
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error)
}

// Gate answers allow/deny for protected operations. It reads the
// current state on every check and never writes.
type Gate struct {
	states      StateReader
	submissions SubmissionReader
	logger      logger.Logger
}

func NewGate(states StateReader, submissions SubmissionReader, log logger.Logger) *Gate {
	return &Gate{states: states, submissions: submissions, logger: log}
}

// Check evaluates the requirement against the principal's live state.
// Check order is fixed: authentication, role, lock, tier, KYC status.
// A manual lock short-circuits everything past the role check.
func (g *Gate) Check(ctx context.Context, principal Principal, req Requirement) (Decision, error) {
	if !principal.Authenticated {
		return deny(DenyNotAuthenticated, nil), nil
	}
	if req.Role != "" && principal.Role != req.Role {
		return deny(DenyRoleRequired, nil), nil
	}

	state, err := g.states.FindByUser(ctx, principal.UserID)
	if err != nil {
		if stderrors.Is(err, errors.ErrVerificationStateNotFound) || stderrors.Is(err, sql.ErrNoRows) {
			// No row yet means the user never touched verification:
			// treat as a default UNVERIFIED state without creating one.
			state = &domain.VerificationState{
				UserID:    principal.UserID,
				Status:    domain.StatusUnverified,
				RiskLevel: domain.RiskLevelLow,
			}
		} else {
			return Decision{}, errors.Wrap(err, "authz: resolving verification state")
		}
	}

	if state.ManualLock {
		g.logger.Warn("authorization denied for locked account", logger.Fields{
			"user_id": principal.UserID,
		})
		return deny(DenyAccountLocked, state), nil
	}

	if req.MinimumTier > 0 {
		if tier := state.Status.Tier(); tier < req.MinimumTier {
			d := deny(DenyInsufficientTier, state)
			d.RequiredTier = req.MinimumTier
			if tier < domain.StatusBasicVerified.Tier() {
				d.Reason = DenyVerificationReq
			}
			return d, nil
		}
	}

	if req.KYCApproved {
		if state.Status != domain.StatusKYCVerified {
			d := deny(DenyKYCRequired, state)
			d.RequiredTier = domain.StatusKYCVerified.Tier()
			d.KYCStatus, d.AdminRemarks = g.kycStatus(ctx, principal.UserID)
			return d, nil
		}
	}

	return allow(state), nil
}

// kycStatus maps the latest submission onto the sub-state a denial
// surfaces. Lookup failures degrade to NOT_SUBMITTED rather than
// failing the check, since the denial stands either way.
func (g *Gate) kycStatus(ctx context.Context, userID uuid.UUID) (KYCGateStatus, *string) {
	sub, err := g.submissions.FindLatestByUser(ctx, userID)
	if err != nil {
		if !stderrors.Is(err, errors.ErrSubmissionNotFound) {
			g.logger.Warn("could not resolve latest kyc submission", logger.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
		return KYCNotSubmitted, nil
	}
	switch sub.Status {
	case domain.SubmissionStatusPending, domain.SubmissionStatusUnderReview:
		return KYCPendingReview, nil
	case domain.SubmissionStatusApproved:
		return KYCApproved, nil
	case domain.SubmissionStatusRejected, domain.SubmissionStatusResubmitNeeded:
		return KYCRejected, sub.AdminRemarks
	default:
		return KYCNotSubmitted, nil
	}
}
