package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"
)

// RiskRepository persists the append-only risk event ledger.
type RiskRepository struct {
	db *sqlx.DB
}

// NewRiskRepository creates a new RiskRepository.
func NewRiskRepository(db *sqlx.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// AppendEventTx appends one risk event within a transaction. The caller is
// responsible for having computed resulting_score/resulting_level under the
// per-user row lock.
func (r *RiskRepository) AppendEventTx(ctx context.Context, tx *sqlx.Tx, event *domain.RiskEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO risk_events (id, user_id, event_type, delta, resulting_score, resulting_level, metadata, created_at)
		VALUES (:id, :user_id, :event_type, :delta, :resulting_score, :resulting_level, :metadata, :created_at)
	`, event)
	if err != nil {
		return errors.Wrap(err, "failed to append risk event")
	}
	return nil
}

// ListByUser returns a user's risk events, oldest first, for replay and
// audit review.
func (r *RiskRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.RiskEvent, error) {
	var events []*domain.RiskEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM risk_events
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list risk events")
	}
	return events, nil
}
