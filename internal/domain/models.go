// Package domain defines the entities and closed status types shared by the
// verification core.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Metadata is a free-form JSONB payload attached to audit records.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return json.Marshal(Metadata{})
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// VerificationStatus is the user's trust tier. The set is closed; every
// switch over it must be exhaustive.
type VerificationStatus string

const (
	StatusUnverified    VerificationStatus = "UNVERIFIED"
	StatusBasicPending  VerificationStatus = "BASIC_PENDING"
	StatusBasicVerified VerificationStatus = "BASIC_VERIFIED"
	StatusKYCPending    VerificationStatus = "KYC_PENDING"
	StatusKYCVerified   VerificationStatus = "KYC_VERIFIED"
	StatusRejected      VerificationStatus = "REJECTED"
	StatusLocked        VerificationStatus = "LOCKED"
)

// Tier returns the ordinal rank used for access gating. LOCKED ranks below
// everything so any minimum-tier requirement fails while locked.
func (s VerificationStatus) Tier() int {
	switch s {
	case StatusUnverified:
		return 0
	case StatusBasicPending:
		return 1
	case StatusBasicVerified:
		return 2
	case StatusKYCPending:
		return 3
	case StatusKYCVerified:
		return 4
	case StatusRejected:
		return 0
	case StatusLocked:
		return -1
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusUnverified, StatusBasicPending, StatusBasicVerified,
		StatusKYCPending, StatusKYCVerified, StatusRejected, StatusLocked:
		return true
	}
	return false
}

// RiskLevel is the severity bucket derived from the numeric risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskEventType classifies entries in the risk ledger.
type RiskEventType string

const (
	RiskEventAdminManualAdjust RiskEventType = "ADMIN_MANUAL_ADJUST"
	RiskEventAdminLock         RiskEventType = "ADMIN_LOCK"
	RiskEventAdminUnlock       RiskEventType = "ADMIN_UNLOCK"
	RiskEventKYCApproved       RiskEventType = "KYC_APPROVED"
	RiskEventKYCRejected       RiskEventType = "KYC_REJECTED"
	RiskEventLoginFailed       RiskEventType = "LOGIN_FAILED"
)

// VerificationState is the per-user verification record. One row per user,
// created lazily and never deleted.
type VerificationState struct {
	UserID          uuid.UUID          `json:"user_id" db:"user_id"`
	Status          VerificationStatus `json:"status" db:"status"`
	RiskScore       int                `json:"risk_score" db:"risk_score"`
	RiskLevel       RiskLevel          `json:"risk_level" db:"risk_level"`
	ManualLock      bool               `json:"manual_lock" db:"manual_lock"`
	LockReason      *string            `json:"lock_reason,omitempty" db:"lock_reason"`
	LockedAt        *time.Time         `json:"locked_at,omitempty" db:"locked_at"`
	BasicVerifiedAt *time.Time         `json:"basic_verified_at,omitempty" db:"basic_verified_at"`
	KYCVerifiedAt   *time.Time         `json:"kyc_verified_at,omitempty" db:"kyc_verified_at"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// VerificationStateEvent records one status transition. Append-only.
type VerificationStateEvent struct {
	ID         uuid.UUID          `json:"id" db:"id"`
	UserID     uuid.UUID          `json:"user_id" db:"user_id"`
	FromStatus VerificationStatus `json:"from_status" db:"from_status"`
	ToStatus   VerificationStatus `json:"to_status" db:"to_status"`
	ActorID    *uuid.UUID         `json:"actor_id,omitempty" db:"actor_id"`
	Metadata   Metadata           `json:"metadata" db:"metadata"`
	CreatedAt  time.Time          `json:"created_at" db:"created_at"`
}

// RiskEvent records one risk-score delta. Append-only; the sequence of
// deltas for a user replays to the current score.
type RiskEvent struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	UserID         uuid.UUID     `json:"user_id" db:"user_id"`
	EventType      RiskEventType `json:"event_type" db:"event_type"`
	Delta          int           `json:"delta" db:"delta"`
	ResultingScore int           `json:"resulting_score" db:"resulting_score"`
	ResultingLevel RiskLevel     `json:"resulting_level" db:"resulting_level"`
	Metadata       Metadata      `json:"metadata" db:"metadata"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// Role is the caller's role carried in the auth token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Profile is the slice of a user's account the state machine needs to decide
// automatic promotion. Ownership of the full user record sits outside the
// verification core.
type Profile struct {
	UserID        uuid.UUID  `json:"user_id" db:"id"`
	Email         string     `json:"email" db:"email"`
	EmailVerified bool       `json:"email_verified" db:"email_verified"`
	Phone         string     `json:"phone" db:"phone"`
	Address       string     `json:"address" db:"address"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
}

// BasicComplete reports whether the profile satisfies the BASIC_PENDING
// guard: phone, address, and a verified email.
func (p Profile) BasicComplete() bool {
	return p.Phone != "" && p.Address != "" && p.EmailVerified
}

// HasDateOfBirth reports whether the BASIC_VERIFIED guard is satisfied.
func (p Profile) HasDateOfBirth() bool {
	return p.DateOfBirth != nil
}
