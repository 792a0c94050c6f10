// Package verification implements the tier state machine that owns every
// status change on a user's verification record.
package verification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trustgate/internal/domain"
	"trustgate/internal/risk"
	"trustgate/pkg/config"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// TriggerType enumerates the events that may move a user between statuses.
// The set is closed; evaluate covers every member.
type TriggerType string

const (
	TriggerProfileUpdated    TriggerType = "PROFILE_UPDATED"
	TriggerKYCSubmitted      TriggerType = "KYC_SUBMITTED"
	TriggerKYCApproved       TriggerType = "KYC_APPROVED"
	TriggerKYCRejected       TriggerType = "KYC_REJECTED"
	TriggerResubmitRequested TriggerType = "RESUBMIT_REQUESTED"
	TriggerAdminLock         TriggerType = "ADMIN_LOCK"
	TriggerAdminUnlock       TriggerType = "ADMIN_UNLOCK"
)

// Trigger is one request to transition. ActorID is nil for automatic
// (system) triggers; Profile is set only for PROFILE_UPDATED.
type Trigger struct {
	Type     TriggerType
	ActorID  *uuid.UUID
	Profile  *domain.Profile
	Reason   string
	Metadata domain.Metadata
}

// Result reports what a trigger did. An illegal trigger is not an error:
// Transitioned is false and State is the unchanged record.
type Result struct {
	State        *domain.VerificationState
	Transitioned bool
	From         domain.VerificationStatus
	To           domain.VerificationStatus
}

// StateStore is the persistence surface the machine drives.
type StateStore interface {
	FindByUser(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error)
	EnsureRow(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error)
	LockForUpdateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*domain.VerificationState, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, state *domain.VerificationState) error
	AppendEventTx(ctx context.Context, tx *sqlx.Tx, event *domain.VerificationStateEvent) error
}

// RiskAdjuster applies risk deltas inside the machine's transaction so a
// lock/unlock transition and its risk event commit together.
type RiskAdjuster interface {
	AdjustScoreTx(ctx context.Context, tx *sqlx.Tx, state *domain.VerificationState, delta int, eventType domain.RiskEventType, metadata domain.Metadata) (*risk.Adjustment, error)
}

// Machine validates triggers against the transition table and applies them.
// All transitions for a user serialize on the state row lock.
type Machine struct {
	db     *sqlx.DB
	store  StateStore
	ledger RiskAdjuster
	policy config.PolicyConfig
	logger logger.Logger
}

// NewMachine creates a Machine.
func NewMachine(db *sqlx.DB, store StateStore, ledger RiskAdjuster, policy config.PolicyConfig, log logger.Logger) *Machine {
	return &Machine{
		db:     db,
		store:  store,
		ledger: ledger,
		policy: policy,
		logger: log,
	}
}

// evaluate decides the next status for one trigger against the current
// state. ok is false when the trigger is illegal for the state, which
// callers surface as a NoTransition result rather than an error.
func evaluate(state *domain.VerificationState, trigger Trigger) (domain.VerificationStatus, bool) {
	current := state.Status

	switch trigger.Type {
	case TriggerProfileUpdated:
		// Automatic path: monotonic forward only, re-evaluated on every
		// profile write. Never regresses a status at or above the target.
		if trigger.Profile == nil {
			return current, false
		}
		switch current {
		case domain.StatusUnverified, domain.StatusRejected:
			if trigger.Profile.BasicComplete() {
				return domain.StatusBasicPending, true
			}
		case domain.StatusBasicPending:
			if trigger.Profile.HasDateOfBirth() {
				return domain.StatusBasicVerified, true
			}
		case domain.StatusBasicVerified, domain.StatusKYCPending, domain.StatusKYCVerified, domain.StatusLocked:
			// Already at or past the automatic tiers, or locked.
		}
		return current, false

	case TriggerKYCSubmitted:
		switch current {
		case domain.StatusUnverified, domain.StatusBasicVerified:
			return domain.StatusKYCPending, true
		case domain.StatusKYCPending:
			// Already pending; the open-submission guard lives in the
			// pipeline, so this is a no-op rather than an error.
			return current, false
		case domain.StatusBasicPending, domain.StatusKYCVerified, domain.StatusRejected, domain.StatusLocked:
		}
		return current, false

	case TriggerKYCApproved:
		if current == domain.StatusKYCPending {
			return domain.StatusKYCVerified, true
		}
		return current, false

	case TriggerKYCRejected:
		if current == domain.StatusKYCPending {
			return domain.StatusRejected, true
		}
		return current, false

	case TriggerResubmitRequested:
		if current == domain.StatusKYCPending {
			return priorTier(state), true
		}
		return current, false

	case TriggerAdminLock:
		if current != domain.StatusLocked {
			return domain.StatusLocked, true
		}
		return current, false

	case TriggerAdminUnlock:
		if current == domain.StatusLocked {
			return priorTier(state), true
		}
		return current, false
	}

	return current, false
}

// priorTier is where a user lands when leaving KYC_PENDING backwards or
// being unlocked: BASIC_VERIFIED if they ever reached it, else UNVERIFIED.
func priorTier(state *domain.VerificationState) domain.VerificationStatus {
	if state.BasicVerifiedAt != nil {
		return domain.StatusBasicVerified
	}
	return domain.StatusUnverified
}

// Apply runs a trigger in its own transaction.
func (m *Machine) Apply(ctx context.Context, userID uuid.UUID, trigger Trigger) (*Result, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transition")
	}
	defer tx.Rollback()

	result, err := m.ApplyTx(ctx, tx, userID, trigger)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transition")
	}
	return result, nil
}

// ApplyTx runs a trigger inside an existing transaction. It takes the
// user's row lock, so concurrent conflicting triggers for the same user
// serialize here. The state write, the transition event, and any risk
// event commit atomically with the caller's other writes.
func (m *Machine) ApplyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, trigger Trigger) (*Result, error) {
	state, err := m.store.LockForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	from := state.Status
	result := &Result{State: state, From: from, To: from}

	// A profile update may satisfy two guards at once (complete profile
	// with a date of birth), so re-evaluate until the status settles.
	// Each hop writes its own transition event.
	for {
		next, ok := evaluate(state, trigger)
		if !ok {
			break
		}
		if err := m.applyHop(ctx, tx, state, next, trigger); err != nil {
			return nil, err
		}
		result.Transitioned = true
		result.To = next
		if trigger.Type != TriggerProfileUpdated {
			break
		}
	}

	if !result.Transitioned {
		m.logger.Debug("Transition no-op", logger.Fields{
			"user_id": userID,
			"trigger": trigger.Type,
			"status":  from,
		})
		return result, nil
	}

	m.logger.Info("Verification status transitioned", logger.Fields{
		"user_id":     userID,
		"trigger":     trigger.Type,
		"from_status": from,
		"to_status":   result.To,
		"actor_id":    trigger.ActorID,
	})
	return result, nil
}

// applyHop mutates the state for one step, appends the transition event,
// and applies lock/unlock risk deltas within the same transaction.
func (m *Machine) applyHop(ctx context.Context, tx *sqlx.Tx, state *domain.VerificationState, next domain.VerificationStatus, trigger Trigger) error {
	from := state.Status
	now := time.Now().UTC()
	state.Status = next

	switch next {
	case domain.StatusBasicVerified:
		if state.BasicVerifiedAt == nil {
			state.BasicVerifiedAt = &now
		}
	case domain.StatusKYCVerified:
		if state.KYCVerifiedAt == nil {
			state.KYCVerifiedAt = &now
		}
	case domain.StatusLocked:
		state.ManualLock = true
		state.LockedAt = &now
		if trigger.Reason != "" {
			reason := trigger.Reason
			state.LockReason = &reason
		}
	case domain.StatusUnverified, domain.StatusBasicPending, domain.StatusKYCPending, domain.StatusRejected:
	}

	// Leaving LOCKED clears the lock flag so the lock invariant holds in
	// both directions.
	if from == domain.StatusLocked && next != domain.StatusLocked {
		state.ManualLock = false
		state.LockReason = nil
		state.LockedAt = nil
	}

	if err := m.store.UpdateTx(ctx, tx, state); err != nil {
		return err
	}

	metadata := trigger.Metadata
	if metadata == nil {
		metadata = domain.Metadata{}
	}
	metadata["trigger"] = string(trigger.Type)
	if trigger.Reason != "" {
		metadata["reason"] = trigger.Reason
	}

	event := &domain.VerificationStateEvent{
		UserID:     state.UserID,
		FromStatus: from,
		ToStatus:   next,
		ActorID:    trigger.ActorID,
		Metadata:   metadata,
	}
	if err := m.store.AppendEventTx(ctx, tx, event); err != nil {
		return err
	}

	switch trigger.Type {
	case TriggerAdminLock:
		_, err := m.ledger.AdjustScoreTx(ctx, tx, state, m.policy.LockRiskDelta, domain.RiskEventAdminLock, domain.Metadata{
			"reason": trigger.Reason,
		})
		if err != nil {
			return err
		}
	case TriggerAdminUnlock:
		_, err := m.ledger.AdjustScoreTx(ctx, tx, state, -m.policy.UnlockRiskCredit, domain.RiskEventAdminUnlock, domain.Metadata{})
		if err != nil {
			return err
		}
	case TriggerProfileUpdated, TriggerKYCSubmitted, TriggerKYCApproved, TriggerKYCRejected, TriggerResubmitRequested:
	}

	return nil
}

// EvaluateProfile re-runs the automatic promotion checks after a profile
// write. Safe to call on every update; promotions are monotonic forward.
func (m *Machine) EvaluateProfile(ctx context.Context, userID uuid.UUID, profile *domain.Profile) (*Result, error) {
	return m.Apply(ctx, userID, Trigger{
		Type:    TriggerProfileUpdated,
		Profile: profile,
	})
}

// Current returns the user's verification state, creating the default
// row on first access.
func (m *Machine) Current(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error) {
	return m.store.EnsureRow(ctx, userID)
}
