package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trustgate/internal/domain"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

type mockStateReader struct {
	mock.Mock
}

func (m *mockStateReader) FindByUser(ctx context.Context, userID uuid.UUID) (*domain.VerificationState, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VerificationState), args.Error(1)
}

type mockSubmissionReader struct {
	mock.Mock
}

func (m *mockSubmissionReader) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*domain.KYCSubmission, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KYCSubmission), args.Error(1)
}

func newTestGate() (*Gate, *mockStateReader, *mockSubmissionReader) {
	states := new(mockStateReader)
	subs := new(mockSubmissionReader)
	return NewGate(states, subs, logger.NewNop()), states, subs
}

func principalWith(role domain.Role) Principal {
	return Principal{UserID: uuid.New(), Role: role, Authenticated: true}
}

func stateWith(userID uuid.UUID, status domain.VerificationStatus) *domain.VerificationState {
	return &domain.VerificationState{
		UserID:    userID,
		Status:    status,
		RiskLevel: domain.RiskLevelLow,
	}
}

func TestCheckDeniesUnauthenticated(t *testing.T) {
	gate, _, _ := newTestGate()

	d, err := gate.Check(context.Background(), Principal{}, Requirement{MinimumTier: 1})

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNotAuthenticated, d.Reason)
}

func TestCheckDeniesWrongRoleBeforeTouchingState(t *testing.T) {
	gate, states, _ := newTestGate()
	p := principalWith(domain.RoleUser)

	d, err := gate.Check(context.Background(), p, Requirement{Role: domain.RoleAdmin})

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyRoleRequired, d.Reason)
	states.AssertNotCalled(t, "FindByUser", mock.Anything, mock.Anything)
}

func TestCheckLockShortCircuitsTier(t *testing.T) {
	gate, states, _ := newTestGate()
	p := principalWith(domain.RoleUser)

	locked := stateWith(p.UserID, domain.StatusLocked)
	locked.ManualLock = true
	states.On("FindByUser", mock.Anything, p.UserID).Return(locked, nil)

	// Even a requirement the locked user would otherwise satisfy is
	// refused with ACCOUNT_LOCKED, never INSUFFICIENT_TIER.
	d, err := gate.Check(context.Background(), p, Requirement{MinimumTier: 0})

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyAccountLocked, d.Reason)
	assert.Equal(t, domain.StatusLocked, d.CurrentStatus)
}

func TestCheckMissingRowDefaultsToUnverified(t *testing.T) {
	gate, states, _ := newTestGate()
	p := principalWith(domain.RoleUser)
	states.On("FindByUser", mock.Anything, p.UserID).Return(nil, errors.ErrVerificationStateNotFound)

	d, err := gate.Check(context.Background(), p, Requirement{MinimumTier: domain.StatusBasicVerified.Tier()})

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyVerificationReq, d.Reason)
	assert.Equal(t, domain.StatusUnverified, d.CurrentStatus)
	assert.Equal(t, domain.StatusBasicVerified.Tier(), d.RequiredTier)
}

func TestCheckTierDenials(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.VerificationStatus
		minTier int
		allowed bool
		reason  DenyReason
	}{
		{"basic verified meets tier 2", domain.StatusBasicVerified, 2, true, ""},
		{"kyc pending meets tier 2", domain.StatusKYCPending, 2, true, ""},
		{"basic verified denied tier 3", domain.StatusBasicVerified, 3, false, DenyInsufficientTier},
		{"unverified denied tier 1", domain.StatusUnverified, 1, false, DenyVerificationReq},
		{"rejected denied tier 1", domain.StatusRejected, 1, false, DenyVerificationReq},
		{"kyc verified meets tier 4", domain.StatusKYCVerified, 4, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gate, states, _ := newTestGate()
			p := principalWith(domain.RoleUser)
			states.On("FindByUser", mock.Anything, p.UserID).Return(stateWith(p.UserID, tc.status), nil)

			d, err := gate.Check(context.Background(), p, Requirement{MinimumTier: tc.minTier})

			require.NoError(t, err)
			assert.Equal(t, tc.allowed, d.Allowed)
			if !tc.allowed {
				assert.Equal(t, tc.reason, d.Reason)
				assert.Equal(t, tc.minTier, d.RequiredTier)
			}
		})
	}
}

func TestCheckKYCRequirement(t *testing.T) {
	t.Run("approved user allowed", func(t *testing.T) {
		gate, states, _ := newTestGate()
		p := principalWith(domain.RoleUser)
		states.On("FindByUser", mock.Anything, p.UserID).Return(stateWith(p.UserID, domain.StatusKYCVerified), nil)

		d, err := gate.Check(context.Background(), p, Requirement{KYCApproved: true})

		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("no submission surfaces NOT_SUBMITTED", func(t *testing.T) {
		gate, states, subs := newTestGate()
		p := principalWith(domain.RoleUser)
		states.On("FindByUser", mock.Anything, p.UserID).Return(stateWith(p.UserID, domain.StatusBasicVerified), nil)
		subs.On("FindLatestByUser", mock.Anything, p.UserID).Return(nil, errors.ErrSubmissionNotFound)

		d, err := gate.Check(context.Background(), p, Requirement{KYCApproved: true})

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, DenyKYCRequired, d.Reason)
		assert.Equal(t, KYCNotSubmitted, d.KYCStatus)
	})

	t.Run("open submission surfaces PENDING_REVIEW", func(t *testing.T) {
		gate, states, subs := newTestGate()
		p := principalWith(domain.RoleUser)
		states.On("FindByUser", mock.Anything, p.UserID).Return(stateWith(p.UserID, domain.StatusKYCPending), nil)
		subs.On("FindLatestByUser", mock.Anything, p.UserID).Return(&domain.KYCSubmission{
			UserID: p.UserID,
			Status: domain.SubmissionStatusUnderReview,
		}, nil)

		d, err := gate.Check(context.Background(), p, Requirement{KYCApproved: true})

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, KYCPendingReview, d.KYCStatus)
	})

	t.Run("rejected submission carries remarks", func(t *testing.T) {
		gate, states, subs := newTestGate()
		p := principalWith(domain.RoleUser)
		remarks := "document unreadable"
		states.On("FindByUser", mock.Anything, p.UserID).Return(stateWith(p.UserID, domain.StatusRejected), nil)
		subs.On("FindLatestByUser", mock.Anything, p.UserID).Return(&domain.KYCSubmission{
			UserID:       p.UserID,
			Status:       domain.SubmissionStatusRejected,
			AdminRemarks: &remarks,
		}, nil)

		d, err := gate.Check(context.Background(), p, Requirement{KYCApproved: true})

		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, KYCRejected, d.KYCStatus)
		require.NotNil(t, d.AdminRemarks)
		assert.Equal(t, remarks, *d.AdminRemarks)
	})
}

func TestCheckAttachesResolvedState(t *testing.T) {
	gate, states, _ := newTestGate()
	p := principalWith(domain.RoleUser)
	state := stateWith(p.UserID, domain.StatusBasicVerified)
	states.On("FindByUser", mock.Anything, p.UserID).Return(state, nil)

	d, err := gate.Check(context.Background(), p, Requirement{MinimumTier: 2})

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Same(t, state, d.State)
}
