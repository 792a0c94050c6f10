package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"
)

// VerificationRepository persists per-user verification state and its
// append-only transition event log. It holds no business logic; status
// changes must come through the state machine.
type VerificationRepository struct {
	db *sqlx.DB
}

// NewVerificationRepository creates a new VerificationRepository.
func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// DB exposes the underlying handle so services can open transactions that
// span state, events, and risk ledger writes.
func (r *VerificationRepository) DB() *sqlx.DB { return r.db }

// EnsureRow returns the user's verification state, creating the default row
// (UNVERIFIED, score 0, LOW) on first access. Idempotent under concurrency
// via ON CONFLICT DO NOTHING.
func (r *VerificationRepository) EnsureRow(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error) {
	state, err := r.FindByUser(ctx, userID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, errors.ErrVerificationStateNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verification_states (user_id, status, risk_score, risk_level, manual_lock, created_at, updated_at)
		VALUES ($1, $2, 0, $3, FALSE, $4, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, domain.StatusUnverified, domain.RiskLevelLow, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create verification state")
	}

	return r.FindByUser(ctx, userID)
}

// FindByUser returns the current verification state for a user.
func (r *VerificationRepository) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error) {
	var state domain.VerificationState
	err := r.db.GetContext(ctx, &state,
		`SELECT * FROM verification_states WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrVerificationStateNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find verification state")
	}
	return &state, nil
}

// LockForUpdateTx loads the user's state row with a row-level lock, creating
// the default row first if it does not exist. All state-machine transitions
// and risk adjustments for a user serialize on this lock.
func (r *VerificationRepository) LockForUpdateTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*domain.VerificationState, error) {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO verification_states (user_id, status, risk_score, risk_level, manual_lock, created_at, updated_at)
		VALUES ($1, $2, 0, $3, FALSE, $4, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, domain.StatusUnverified, domain.RiskLevelLow, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ensure verification state")
	}

	var state domain.VerificationState
	err = tx.GetContext(ctx, &state,
		`SELECT * FROM verification_states WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock verification state")
	}
	return &state, nil
}

// UpdateTx writes the mutable fields of a verification state within a
// transaction. updated_at is bumped here so callers cannot forget it.
func (r *VerificationRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, state *domain.VerificationState) error {
	state.UpdatedAt = time.Now().UTC()
	result, err := tx.NamedExecContext(ctx, `
		UPDATE verification_states SET
			status = :status,
			risk_score = :risk_score,
			risk_level = :risk_level,
			manual_lock = :manual_lock,
			lock_reason = :lock_reason,
			locked_at = :locked_at,
			basic_verified_at = :basic_verified_at,
			kyc_verified_at = :kyc_verified_at,
			updated_at = :updated_at
		WHERE user_id = :user_id
	`, state)
	if err != nil {
		return errors.Wrap(err, "failed to update verification state")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrVerificationStateNotFound
	}
	return nil
}

// AppendEventTx appends one transition event. Append-only; there is no
// update or delete path for verification_state_events.
func (r *VerificationRepository) AppendEventTx(ctx context.Context, tx *sqlx.Tx, event *domain.VerificationStateEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO verification_state_events (id, user_id, from_status, to_status, actor_id, metadata, created_at)
		VALUES (:id, :user_id, :from_status, :to_status, :actor_id, :metadata, :created_at)
	`, event)
	if err != nil {
		return errors.Wrap(err, "failed to append verification state event")
	}
	return nil
}

// ListEventsByUser returns a user's transition history, oldest first.
func (r *VerificationRepository) ListEventsByUser(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationStateEvent, error) {
	var events []*domain.VerificationStateEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM verification_state_events
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list verification state events")
	}
	return events, nil
}
