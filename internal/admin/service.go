package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"trustgate/internal/domain"
	"trustgate/internal/notification"
	"trustgate/internal/risk"
	"trustgate/internal/verification"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// TransitionApplier is the state-machine surface the admin service
// drives for lock and unlock.
type TransitionApplier interface {
	Apply(ctx context.Context, userID uuid.UUID, trigger verification.Trigger) (*verification.Result, error)
	Current(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error)
}

// ScoreLedger is the risk-ledger surface for manual adjustments.
type ScoreLedger interface {
	AdjustScore(ctx context.Context, userID uuid.UUID, delta int, eventType domain.RiskEventType, metadata domain.Metadata) (*risk.Adjustment, error)
	Events(ctx context.Context, userID uuid.UUID) ([]*domain.RiskEvent, error)
}

// Reviewer is the KYC pipeline's admin-review entry point.
type Reviewer interface {
	AdminReview(ctx context.Context, submissionID uuid.UUID, action domain.ReviewAction, remarks string, adminID uuid.UUID) (*domain.KYCSubmission, error)
}

// EventLister reads the append-only transition log.
type EventLister interface {
	ListEventsByUser(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationStateEvent, error)
}

// Notifier delivers fire-and-forget user notifications about overrides.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]interface{})
}

// Service is the admin override surface. Every mutation goes through the
// state machine and the ledger, never around them, so admin actions
// produce the same event rows as automatic ones.
type Service struct {
	machine  TransitionApplier
	ledger   ScoreLedger
	kyc      Reviewer
	events   EventLister
	notifier Notifier
	logger   logger.Logger
}

func NewService(machine TransitionApplier, ledger ScoreLedger, kyc Reviewer, events EventLister, notifier Notifier, log logger.Logger) *Service {
	return &Service{
		machine:  machine,
		ledger:   ledger,
		kyc:      kyc,
		events:   events,
		notifier: notifier,
		logger:   log,
	}
}

func requireAdmin(actor Actor) error {
	if actor.Role != domain.RoleAdmin {
		return errors.ErrAdminRoleRequired
	}
	return nil
}

func (s *Service) notifyAsync(userID uuid.UUID, event string, payload map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.notifier.Notify(ctx, userID, event, payload)
	}()
}

// Actor identifies the admin performing an override.
type Actor struct {
	ID   uuid.UUID
	Role domain.Role
}

// Lock freezes a user's account. The underlying transition raises the
// risk score and writes both event rows in one transaction.
func (s *Service) Lock(ctx context.Context, actor Actor, userID uuid.UUID, reason string) (*domain.VerificationState, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "manual lock"
	}

	res, err := s.machine.Apply(ctx, userID, verification.Trigger{
		Type:    verification.TriggerAdminLock,
		ActorID: &actor.ID,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}
	if !res.Transitioned {
		return nil, errors.ErrAccountLocked
	}

	s.logger.Warn("account locked by admin", logger.Fields{
		"user_id":  userID,
		"admin_id": actor.ID,
		"reason":   reason,
	})
	s.notifyAsync(userID, notification.EventAccountLocked, map[string]interface{}{
		"reason": reason,
	})
	return res.State, nil
}

// Unlock releases a manual lock, restoring the user's prior tier.
func (s *Service) Unlock(ctx context.Context, actor Actor, userID uuid.UUID) (*domain.VerificationState, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	res, err := s.machine.Apply(ctx, userID, verification.Trigger{
		Type:    verification.TriggerAdminUnlock,
		ActorID: &actor.ID,
	})
	if err != nil {
		return nil, err
	}
	if !res.Transitioned {
		return nil, errors.ErrAccountNotLocked
	}

	s.logger.Info("account unlocked by admin", logger.Fields{
		"user_id":  userID,
		"admin_id": actor.ID,
		"restored": res.To,
	})
	s.notifyAsync(userID, notification.EventAccountUnlocked, map[string]interface{}{
		"restored_status": string(res.To),
	})
	return res.State, nil
}

// AdjustScore applies a manual signed delta to a user's risk score.
func (s *Service) AdjustScore(ctx context.Context, actor Actor, userID uuid.UUID, delta int, reason string) (*risk.Adjustment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	adj, err := s.ledger.AdjustScore(ctx, userID, delta, domain.RiskEventAdminManualAdjust, domain.Metadata{
		"admin_id": actor.ID.String(),
		"reason":   reason,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("risk score adjusted by admin", logger.Fields{
		"user_id":  userID,
		"admin_id": actor.ID,
		"delta":    delta,
		"score":    adj.RiskScore,
		"level":    adj.RiskLevel,
	})
	return adj, nil
}

// ReviewSubmission applies an admin KYC decision through the pipeline.
func (s *Service) ReviewSubmission(ctx context.Context, actor Actor, submissionID uuid.UUID, action domain.ReviewAction, remarks string) (*domain.KYCSubmission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, errors.ErrInvalidReviewAction
	}
	return s.kyc.AdminReview(ctx, submissionID, action, remarks, actor.ID)
}

// UserState returns the current verification row for an admin view.
func (s *Service) UserState(ctx context.Context, actor Actor, userID uuid.UUID) (*domain.VerificationState, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.machine.Current(ctx, userID)
}

// UserHistory returns the transition log and risk ledger side by side,
// the raw material for an audit view.
func (s *Service) UserHistory(ctx context.Context, actor Actor, userID uuid.UUID) ([]*domain.VerificationStateEvent, []*domain.RiskEvent, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, nil, err
	}
	transitions, err := s.events.ListEventsByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	riskEvents, err := s.ledger.Events(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return transitions, riskEvents, nil
}
