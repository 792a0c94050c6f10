// Package notification delivers fire-and-forget user notifications for
// verification and KYC events. Delivery failures are logged and dropped;
// they never surface to the pipeline.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustgate/pkg/logger"
)

// event types emitted by the pipeline and admin surfaces.
const (
	EventKYCSubmitted    = "KYC_SUBMITTED"
	EventKYCApproved     = "KYC_APPROVED"
	EventKYCRejected     = "KYC_REJECTED"
	EventResubmitNeeded  = "KYC_RESUBMIT_REQUESTED"
	EventKYCUnderReview  = "KYC_UNDER_REVIEW"
	EventAccountLocked   = "ACCOUNT_LOCKED"
	EventAccountUnlocked = "ACCOUNT_UNLOCKED"
)

// Sender delivers one rendered message over a concrete channel.
// Implementations wrap email or SMS providers.
type Sender interface {
	Send(ctx context.Context, userID uuid.UUID, subject, body string) error
}

// Service renders event payloads into messages and hands them to the
// sender. Implements the pipeline's Notifier contract.
type Service struct {
	sender Sender
	logger logger.Logger
}

func NewService(sender Sender, log logger.Logger) *Service {
	return &Service{sender: sender, logger: log}
}

// Notify renders and sends one notification. Errors are swallowed after
// logging: a notification must never block a state transition.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]interface{}) {
	subject, body := render(event, payload)
	if subject == "" {
		s.logger.Debug("no template for notification event, dropping", logger.Fields{
			"user_id": userID,
			"event":   event,
		})
		return
	}

	if err := s.sender.Send(ctx, userID, subject, body); err != nil {
		s.logger.Warn("notification delivery failed", logger.Fields{
			"user_id": userID,
			"event":   event,
			"error":   err.Error(),
		})
		return
	}

	s.logger.Debug("notification sent", logger.Fields{
		"user_id": userID,
		"event":   event,
	})
}

func render(event string, payload map[string]interface{}) (subject, body string) {
	switch event {
	case EventKYCSubmitted:
		return "Identity verification received",
			"We received your documents and started processing them. You will hear from us shortly."
	case EventKYCApproved:
		return "Identity verification approved",
			"Your identity has been verified. Your account now has full access."
	case EventKYCRejected:
		reason := "Your documents could not be verified."
		if r, ok := payload["remarks"].(string); ok && r != "" {
			reason = r
		}
		return "Identity verification rejected", reason
	case EventResubmitNeeded:
		return "Action needed on your verification",
			"We need you to resubmit your documents. Please upload new copies."
	case EventKYCUnderReview:
		return "Identity verification under review",
			"Your documents are being reviewed manually. No action is needed."
	case EventAccountLocked:
		return "Your account has been locked",
			"Your account was locked by our compliance team. Contact support for details."
	case EventAccountUnlocked:
		return "Your account has been unlocked",
			"Your account is active again."
	}
	return "", ""
}

// LogSender is the default Sender: it writes the message to the log
// instead of a real provider. Used in development and tests.
type LogSender struct {
	logger logger.Logger

	mu   sync.Mutex
	sent []SentMessage
}

// SentMessage records one delivery for inspection in tests.
type SentMessage struct {
	UserID  uuid.UUID
	Subject string
	Body    string
	At      time.Time
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) Send(ctx context.Context, userID uuid.UUID, subject, body string) error {
	s.mu.Lock()
	s.sent = append(s.sent, SentMessage{UserID: userID, Subject: subject, Body: body, At: time.Now()})
	s.mu.Unlock()

	s.logger.Info("notification", logger.Fields{
		"user_id": userID,
		"subject": subject,
	})
	return nil
}

// Sent returns a copy of everything delivered so far.
func (s *LogSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
