// Package risk maintains the append-only risk ledger and the score each
// user carries.
package risk

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trustgate/internal/domain"
	"trustgate/internal/repository/postgres"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// Level thresholds. A score at or above the threshold maps to that level.
const (
	mediumThreshold   = 200
	highThreshold     = 400
	criticalThreshold = 700
)

// LevelFor maps a non-negative risk score to its severity level. Total for
// any score.
func LevelFor(score int) domain.RiskLevel {
	switch {
	case score >= criticalThreshold:
		return domain.RiskLevelCritical
	case score >= highThreshold:
		return domain.RiskLevelHigh
	case score >= mediumThreshold:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

// ClampScore floors a candidate score at zero. Negative deltas reduce the
// score but never take it below zero.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	return score
}

// Adjustment is the outcome of a score change.
type Adjustment struct {
	RiskScore int              `json:"risk_score"`
	RiskLevel domain.RiskLevel `json:"risk_level"`
}

// Ledger applies score deltas atomically: the verification state update and
// the ledger event commit together or not at all.
type Ledger struct {
	db        *sqlx.DB
	verifRepo *postgres.VerificationRepository
	riskRepo  *postgres.RiskRepository
	logger    logger.Logger
}

// NewLedger creates a new Ledger.
func NewLedger(db *sqlx.DB, verifRepo *postgres.VerificationRepository, riskRepo *postgres.RiskRepository, log logger.Logger) *Ledger {
	return &Ledger{
		db:        db,
		verifRepo: verifRepo,
		riskRepo:  riskRepo,
		logger:    log,
	}
}

// AdjustScore applies a delta to the user's risk score in its own
// transaction, creating the state row if needed.
func (l *Ledger) AdjustScore(ctx context.Context, userID uuid.UUID, delta int, eventType domain.RiskEventType, metadata domain.Metadata) (*Adjustment, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin risk adjustment")
	}
	defer tx.Rollback()

	state, err := l.verifRepo.LockForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	adj, err := l.AdjustScoreTx(ctx, tx, state, delta, eventType, metadata)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit risk adjustment")
	}
	return adj, nil
}

// AdjustScoreTx applies a delta inside an existing transaction whose caller
// already holds the user's row lock. The state machine uses this for
// lock/unlock transitions so the transition and the risk event are one
// atomic write.
func (l *Ledger) AdjustScoreTx(ctx context.Context, tx *sqlx.Tx, state *domain.VerificationState, delta int, eventType domain.RiskEventType, metadata domain.Metadata) (*Adjustment, error) {
	newScore := ClampScore(state.RiskScore + delta)
	newLevel := LevelFor(newScore)

	state.RiskScore = newScore
	state.RiskLevel = newLevel
	if err := l.verifRepo.UpdateTx(ctx, tx, state); err != nil {
		return nil, err
	}

	event := &domain.RiskEvent{
		UserID:         state.UserID,
		EventType:      eventType,
		Delta:          delta,
		ResultingScore: newScore,
		ResultingLevel: newLevel,
		Metadata:       metadata,
	}
	if err := l.riskRepo.AppendEventTx(ctx, tx, event); err != nil {
		return nil, err
	}

	l.logger.Info("Risk score adjusted", logger.Fields{
		"user_id":         state.UserID,
		"event_type":      eventType,
		"delta":           delta,
		"resulting_score": newScore,
		"resulting_level": newLevel,
	})

	return &Adjustment{RiskScore: newScore, RiskLevel: newLevel}, nil
}

// Recompute re-derives risk_level from the stored risk_score without
// changing the score. A no-op unless the two have drifted.
func (l *Ledger) Recompute(ctx context.Context, userID uuid.UUID) (*Adjustment, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin recompute")
	}
	defer tx.Rollback()

	state, err := l.verifRepo.LockForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	level := LevelFor(state.RiskScore)
	if level != state.RiskLevel {
		l.logger.Warn("Risk level drift repaired", logger.Fields{
			"user_id":      userID,
			"stored_level": state.RiskLevel,
			"actual_level": level,
			"risk_score":   state.RiskScore,
		})
		state.RiskLevel = level
		if err := l.verifRepo.UpdateTx(ctx, tx, state); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit recompute")
	}
	return &Adjustment{RiskScore: state.RiskScore, RiskLevel: level}, nil
}

// Replay folds a user's risk events in order, clamping at zero after every
// step, and returns the score the ledger implies.
func Replay(events []*domain.RiskEvent) int {
	score := 0
	for _, event := range events {
		score = ClampScore(score + event.Delta)
	}
	return score
}

// VerifyReplay checks that the stored score matches what the ledger
// replays to. Used by audit tooling.
func (l *Ledger) VerifyReplay(ctx context.Context, userID uuid.UUID) (bool, error) {
	state, err := l.verifRepo.EnsureRow(ctx, userID)
	if err != nil {
		return false, err
	}
	events, err := l.riskRepo.ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return Replay(events) == state.RiskScore, nil
}

// Events returns the user's risk ledger, oldest first.
func (l *Ledger) Events(ctx context.Context, userID uuid.UUID) ([]*domain.RiskEvent, error) {
	return l.riskRepo.ListByUser(ctx, userID)
}
