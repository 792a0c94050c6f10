package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trustgate/internal/domain"
	"trustgate/internal/notification"
	"trustgate/internal/risk"
	"trustgate/internal/verification"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

type mockMachine struct {
	mock.Mock
}

func (m *mockMachine) Apply(ctx context.Context, userID uuid.UUID, trigger verification.Trigger) (*verification.Result, error) {
	args := m.Called(ctx, userID, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verification.Result), args.Error(1)
}

func (m *mockMachine) Current(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerificationState), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) AdjustScore(ctx context.Context, userID uuid.UUID, delta int, eventType domain.RiskEventType, metadata domain.Metadata) (*risk.Adjustment, error) {
	args := m.Called(ctx, userID, delta, eventType, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*risk.Adjustment), args.Error(1)
}

func (m *mockLedger) Events(ctx context.Context, userID uuid.UUID) ([]*domain.RiskEvent, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RiskEvent), args.Error(1)
}

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) AdminReview(ctx context.Context, submissionID uuid.UUID, action domain.ReviewAction, remarks string, adminID uuid.UUID) (*domain.KYCSubmission, error) {
	args := m.Called(ctx, submissionID, action, remarks, adminID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KYCSubmission), args.Error(1)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) ListEventsByUser(ctx context.Context, userID uuid.UUID) ([]*domain.VerificationStateEvent, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.VerificationStateEvent), args.Error(1)
}

// recordingNotifier captures async notifications so tests can wait on them.
type recordingNotifier struct {
	events chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan string, 8)}
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]interface{}) {
	n.events <- event
}

func (n *recordingNotifier) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-n.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return ""
	}
}

func newTestService() (*Service, *mockMachine, *mockLedger, *mockReviewer, *mockEvents) {
	svc, machine, ledger, reviewer, events, _ := newTestServiceWithNotifier()
	return svc, machine, ledger, reviewer, events
}

func newTestServiceWithNotifier() (*Service, *mockMachine, *mockLedger, *mockReviewer, *mockEvents, *recordingNotifier) {
	machine := new(mockMachine)
	ledger := new(mockLedger)
	reviewer := new(mockReviewer)
	events := new(mockEvents)
	notifier := newRecordingNotifier()
	svc := NewService(machine, ledger, reviewer, events, notifier, logger.NewNop())
	return svc, machine, ledger, reviewer, events, notifier
}

func adminActor() Actor {
	return Actor{ID: uuid.New(), Role: domain.RoleAdmin}
}

func TestNonAdminActorRejectedEverywhere(t *testing.T) {
	svc, machine, ledger, reviewer, _ := newTestService()
	actor := Actor{ID: uuid.New(), Role: domain.RoleUser}
	userID := uuid.New()

	_, err := svc.Lock(context.Background(), actor, userID, "fraud")
	assert.ErrorIs(t, err, errors.ErrAdminRoleRequired)

	_, err = svc.Unlock(context.Background(), actor, userID)
	assert.ErrorIs(t, err, errors.ErrAdminRoleRequired)

	_, err = svc.AdjustScore(context.Background(), actor, userID, 50, "test")
	assert.ErrorIs(t, err, errors.ErrAdminRoleRequired)

	_, err = svc.ReviewSubmission(context.Background(), actor, uuid.New(), domain.ReviewApprove, "")
	assert.ErrorIs(t, err, errors.ErrAdminRoleRequired)

	machine.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "AdjustScore", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	reviewer.AssertNotCalled(t, "AdminReview", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLockGoesThroughMachine(t *testing.T) {
	svc, machine, _, _, _, notifier := newTestServiceWithNotifier()
	actor := adminActor()
	userID := uuid.New()

	machine.On("Apply", mock.Anything, userID, mock.MatchedBy(func(tr verification.Trigger) bool {
		return tr.Type == verification.TriggerAdminLock && tr.ActorID != nil && *tr.ActorID == actor.ID && tr.Reason == "fraud report"
	})).Return(&verification.Result{
		State: &domain.VerificationState{
			UserID:     userID,
			Status:     domain.StatusLocked,
			ManualLock: true,
		},
		Transitioned: true,
		From:         domain.StatusBasicVerified,
		To:           domain.StatusLocked,
	}, nil)

	state, err := svc.Lock(context.Background(), actor, userID, "fraud report")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusLocked, state.Status)
	assert.True(t, state.ManualLock)
	assert.Equal(t, notification.EventAccountLocked, notifier.next(t))
	machine.AssertExpectations(t)
}

func TestUnlockNotifiesUser(t *testing.T) {
	svc, machine, _, _, _, notifier := newTestServiceWithNotifier()
	actor := adminActor()
	userID := uuid.New()

	machine.On("Apply", mock.Anything, userID, mock.Anything).Return(&verification.Result{
		State: &domain.VerificationState{
			UserID: userID,
			Status: domain.StatusBasicVerified,
		},
		Transitioned: true,
		From:         domain.StatusLocked,
		To:           domain.StatusBasicVerified,
	}, nil)

	state, err := svc.Unlock(context.Background(), actor, userID)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusBasicVerified, state.Status)
	assert.Equal(t, notification.EventAccountUnlocked, notifier.next(t))
}

func TestLockAlreadyLockedIsNoTransition(t *testing.T) {
	svc, machine, _, _, _ := newTestService()
	actor := adminActor()
	userID := uuid.New()

	machine.On("Apply", mock.Anything, userID, mock.Anything).Return(&verification.Result{
		State: &domain.VerificationState{
			UserID:     userID,
			Status:     domain.StatusLocked,
			ManualLock: true,
		},
		Transitioned: false,
	}, nil)

	_, err := svc.Lock(context.Background(), actor, userID, "again")
	assert.ErrorIs(t, err, errors.ErrAccountLocked)
}

func TestUnlockNotLocked(t *testing.T) {
	svc, machine, _, _, _ := newTestService()
	actor := adminActor()
	userID := uuid.New()

	machine.On("Apply", mock.Anything, userID, mock.Anything).Return(&verification.Result{
		State: &domain.VerificationState{
			UserID: userID,
			Status: domain.StatusBasicVerified,
		},
		Transitioned: false,
	}, nil)

	_, err := svc.Unlock(context.Background(), actor, userID)
	assert.ErrorIs(t, err, errors.ErrAccountNotLocked)
}

func TestAdjustScoreRecordsAdminMetadata(t *testing.T) {
	svc, _, ledger, _, _ := newTestService()
	actor := adminActor()
	userID := uuid.New()

	ledger.On("AdjustScore", mock.Anything, userID, 75, domain.RiskEventAdminManualAdjust, mock.MatchedBy(func(md domain.Metadata) bool {
		return md["admin_id"] == actor.ID.String() && md["reason"] == "chargeback pattern"
	})).Return(&risk.Adjustment{RiskScore: 275, RiskLevel: domain.RiskLevelMedium}, nil)

	adj, err := svc.AdjustScore(context.Background(), actor, userID, 75, "chargeback pattern")

	require.NoError(t, err)
	assert.Equal(t, 275, adj.RiskScore)
	assert.Equal(t, domain.RiskLevelMedium, adj.RiskLevel)
	ledger.AssertExpectations(t)
}

func TestReviewSubmissionValidatesAction(t *testing.T) {
	svc, _, _, reviewer, _ := newTestService()
	actor := adminActor()

	_, err := svc.ReviewSubmission(context.Background(), actor, uuid.New(), domain.ReviewAction("ESCALATE"), "")
	assert.ErrorIs(t, err, errors.ErrInvalidReviewAction)
	reviewer.AssertNotCalled(t, "AdminReview", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReviewSubmissionDelegates(t *testing.T) {
	svc, _, _, reviewer, _ := newTestService()
	actor := adminActor()
	subID := uuid.New()

	reviewer.On("AdminReview", mock.Anything, subID, domain.ReviewReject, "blurry scan", actor.ID).Return(&domain.KYCSubmission{
		ID:     subID,
		Status: domain.SubmissionStatusRejected,
	}, nil)

	sub, err := svc.ReviewSubmission(context.Background(), actor, subID, domain.ReviewReject, "blurry scan")

	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusRejected, sub.Status)
	reviewer.AssertExpectations(t)
}

func TestUserHistoryReturnsBothLogs(t *testing.T) {
	svc, _, ledger, _, events := newTestService()
	actor := adminActor()
	userID := uuid.New()

	events.On("ListEventsByUser", mock.Anything, userID).Return([]*domain.VerificationStateEvent{
		{UserID: userID, FromStatus: domain.StatusUnverified, ToStatus: domain.StatusBasicPending},
	}, nil)
	ledger.On("Events", mock.Anything, userID).Return([]*domain.RiskEvent{
		{UserID: userID, EventType: domain.RiskEventAdminLock, Delta: 100},
	}, nil)

	transitions, riskEvents, err := svc.UserHistory(context.Background(), actor, userID)

	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.Len(t, riskEvents, 1)
	assert.Equal(t, domain.StatusBasicPending, transitions[0].ToStatus)
	assert.Equal(t, 100, riskEvents[0].Delta)
}
