package kyc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustgate/internal/domain"
	"trustgate/internal/enrichment"
	"trustgate/pkg/logger"
)

// staleAfter is how long a PENDING submission may sit untouched before the
// sweep re-queues it. Covers crashes between commit and enqueue.
const staleAfter = 2 * time.Minute

// Start launches the enrichment workers and the stale-submission sweep.
func (s *Service) Start() {
	var wg sync.WaitGroup
	for i := 0; i < s.worker.EnrichmentWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweepLoop()
	}()

	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.logger.Info("KYC enrichment workers started", logger.Fields{
		"workers":    s.worker.EnrichmentWorkers,
		"queue_size": s.worker.QueueSize,
	})
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
	s.logger.Info("KYC enrichment workers stopped", nil)
}

func (s *Service) workerLoop() {
	for {
		select {
		case submissionID := <-s.queue:
			s.process(submissionID)
		case <-s.stop:
			return
		}
	}
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepStale()
		case <-s.stop:
			return
		}
	}
}

func (s *Service) sweepStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stale, err := s.repo.FindStaleOpen(ctx, time.Now().UTC().Add(-staleAfter), 50)
	if err != nil {
		s.logger.Error("Stale submission sweep failed", logger.Fields{"error": err.Error()})
		return
	}
	for _, submission := range stale {
		s.enqueue(submission.ID)
	}
	if len(stale) > 0 {
		s.logger.Info("Requeued stale submissions", logger.Fields{"count": len(stale)})
	}
}

// process runs both enrichment steps for one submission and then the
// auto-decision. OCR and face-match are independent: they run concurrently,
// and a failure or timeout in one never blocks the other's results from
// being recorded.
func (s *Service) process(submissionID uuid.UUID) {
	ctx := context.Background()

	submission, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		s.logger.Error("Enrichment load failed", logger.Fields{
			"submission_id": submissionID,
			"error":         err.Error(),
		})
		return
	}
	if submission.Status.Terminal() || submission.Status == domain.SubmissionStatusUnderReview {
		return
	}

	var wg sync.WaitGroup
	if submission.OCRStatus == nil || !submission.OCRStatus.Settled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runOCR(ctx, submission)
		}()
	}
	if submission.FaceMatchStatus == nil || !submission.FaceMatchStatus.Settled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runFaceMatch(ctx, submission)
		}()
	}
	wg.Wait()

	if err := s.decide(ctx, submissionID); err != nil {
		s.logger.Error("Auto-decision failed", logger.Fields{
			"submission_id": submissionID,
			"error":         err.Error(),
		})
	}
}

// runOCR extracts the ID document and the address proof. The recorded
// confidence is the weaker of the two reads; expiry comes from the ID
// document. Provider errors and timeouts settle the step as FAILED.
func (s *Service) runOCR(ctx context.Context, submission *domain.KYCSubmission) {
	callCtx, cancel := context.WithTimeout(ctx, s.worker.EnrichmentTimeout)
	defer cancel()

	idResult, err := s.ocr.Extract(callCtx, submission.IDDocument, enrichment.DocumentTypeID)
	var addrResult *enrichment.OCRResult
	if err == nil && idResult.Success {
		addrResult, err = s.ocr.Extract(callCtx, submission.AddressProof, enrichment.DocumentTypeAddressProof)
	}

	if err != nil || idResult == nil || !idResult.Success || addrResult == nil || !addrResult.Success {
		status := domain.OCRStatusFailed
		if recErr := s.repo.RecordOCRResult(ctx, submission.ID, status, nil, nil); recErr != nil {
			s.logger.Error("Failed to record OCR failure", logger.Fields{
				"submission_id": submission.ID,
				"error":         recErr.Error(),
			})
			return
		}
		s.appendEnrichmentAudit(ctx, submission, domain.AuditActionOCRFailed, domain.Metadata{
			"error": errString(err),
		})
		return
	}

	confidence := idResult.Confidence
	if addrResult.Confidence.LessThan(confidence) {
		confidence = addrResult.Confidence
	}
	expired := idResult.Expired

	if recErr := s.repo.RecordOCRResult(ctx, submission.ID, domain.OCRStatusCompleted, &confidence, &expired); recErr != nil {
		s.logger.Error("Failed to record OCR result", logger.Fields{
			"submission_id": submission.ID,
			"error":         recErr.Error(),
		})
		return
	}
	s.appendEnrichmentAudit(ctx, submission, domain.AuditActionOCRCompleted, domain.Metadata{
		"confidence": confidence.String(),
		"expired":    expired,
	})
}

// runFaceMatch compares the ID portrait with the live photo. Errors and
// timeouts settle the step as FAILED rather than leaving it pending.
func (s *Service) runFaceMatch(ctx context.Context, submission *domain.KYCSubmission) {
	callCtx, cancel := context.WithTimeout(ctx, s.worker.EnrichmentTimeout)
	defer cancel()

	result, err := s.faces.Compare(callCtx, submission.IDDocument, submission.LivePhoto)
	if err != nil || result == nil || !result.Success {
		if recErr := s.repo.RecordFaceMatchResult(ctx, submission.ID, domain.FaceMatchStatusFailed, nil, nil, nil); recErr != nil {
			s.logger.Error("Failed to record face match failure", logger.Fields{
				"submission_id": submission.ID,
				"error":         recErr.Error(),
			})
			return
		}
		s.appendEnrichmentAudit(ctx, submission, domain.AuditActionFaceMatchFailed, domain.Metadata{
			"error": errString(err),
		})
		return
	}

	status := domain.FaceMatchStatusMismatch
	if result.Matched {
		status = domain.FaceMatchStatusMatched
	}
	similarity := result.Similarity
	livenessPassed := result.LivenessPassed
	livenessScore := result.LivenessScore

	if recErr := s.repo.RecordFaceMatchResult(ctx, submission.ID, status, &similarity, &livenessPassed, &livenessScore); recErr != nil {
		s.logger.Error("Failed to record face match result", logger.Fields{
			"submission_id": submission.ID,
			"error":         recErr.Error(),
		})
		return
	}
	s.appendEnrichmentAudit(ctx, submission, domain.AuditActionFaceMatchDone, domain.Metadata{
		"matched":         result.Matched,
		"similarity":      similarity.String(),
		"liveness_passed": livenessPassed,
		"liveness_score":  livenessScore.String(),
	})
}

func (s *Service) appendEnrichmentAudit(ctx context.Context, submission *domain.KYCSubmission, action domain.KYCAuditAction, metadata domain.Metadata) {
	err := s.repo.AppendAuditEntry(ctx, &domain.KYCAuditLogEntry{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		Action:       action,
		StatusBefore: submission.Status,
		StatusAfter:  submission.Status,
		Metadata:     metadata,
	})
	if err != nil {
		s.logger.Error("Failed to append enrichment audit entry", logger.Fields{
			"submission_id": submission.ID,
			"action":        action,
			"error":         err.Error(),
		})
	}
}

func errString(err error) string {
	if err == nil {
		return "provider reported failure"
	}
	return err.Error()
}
