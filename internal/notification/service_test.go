package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/pkg/logger"
)

type failingSender struct{}

func (failingSender) Send(ctx context.Context, userID uuid.UUID, subject, body string) error {
	return errors.New("smtp down")
}

func TestNotifyRendersKnownEvents(t *testing.T) {
	sender := NewLogSender(logger.NewNop())
	svc := NewService(sender, logger.NewNop())
	userID := uuid.New()

	svc.Notify(context.Background(), userID, EventKYCApproved, nil)

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, userID, sent[0].UserID)
	assert.Equal(t, "Identity verification approved", sent[0].Subject)
}

func TestNotifyRejectionCarriesRemarks(t *testing.T) {
	sender := NewLogSender(logger.NewNop())
	svc := NewService(sender, logger.NewNop())

	svc.Notify(context.Background(), uuid.New(), EventKYCRejected, map[string]interface{}{
		"remarks": "document expired",
	})

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "document expired", sent[0].Body)
}

func TestEveryDeclaredEventHasTemplate(t *testing.T) {
	// Every event constant the pipeline and admin surfaces emit must
	// render; an event without a template is silently dropped and the
	// user never hears about their verification.
	events := []string{
		EventKYCSubmitted,
		EventKYCApproved,
		EventKYCRejected,
		EventResubmitNeeded,
		EventKYCUnderReview,
		EventAccountLocked,
		EventAccountUnlocked,
	}

	sender := NewLogSender(logger.NewNop())
	svc := NewService(sender, logger.NewNop())
	for _, event := range events {
		svc.Notify(context.Background(), uuid.New(), event, nil)
	}

	sent := sender.Sent()
	require.Len(t, sent, len(events))
	for i, msg := range sent {
		assert.NotEmpty(t, msg.Subject, "event %s", events[i])
		assert.NotEmpty(t, msg.Body, "event %s", events[i])
	}
}

func TestNotifyDropsUnknownEvent(t *testing.T) {
	sender := NewLogSender(logger.NewNop())
	svc := NewService(sender, logger.NewNop())

	svc.Notify(context.Background(), uuid.New(), "SOMETHING_ELSE", nil)

	assert.Empty(t, sender.Sent())
}

func TestNotifySwallowsDeliveryFailure(t *testing.T) {
	svc := NewService(failingSender{}, logger.NewNop())

	// Must not panic or propagate; delivery failures are log-and-drop.
	svc.Notify(context.Background(), uuid.New(), EventAccountLocked, nil)
}
