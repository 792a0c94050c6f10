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

// UserRepository reads and writes the slice of the user record the
// verification core needs: contact details and date of birth. Account
// creation and credentials live outside this service.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindProfile returns the promotion-relevant profile fields for a user.
func (r *UserRepository) FindProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var profile domain.Profile
	err := r.db.GetContext(ctx, &profile, `
		SELECT id, email, email_verified, phone, address, date_of_birth
		FROM users WHERE id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user profile")
	}
	return &profile, nil
}

// UpdateProfile writes the contact fields. Every call is followed by a
// promotion re-evaluation in the state machine.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile *domain.Profile) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			phone = $2,
			address = $3,
			date_of_birth = $4,
			updated_at = $5
		WHERE id = $1
	`, profile.UserID, profile.Phone, profile.Address, profile.DateOfBirth, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to update user profile")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}
