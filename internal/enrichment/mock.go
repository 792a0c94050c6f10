package enrichment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trustgate/pkg/logger"
)

// MockOCRProvider returns canned high-confidence results. Wired in
// development environments where no OCR vendor is configured.
type MockOCRProvider struct {
	logger logger.Logger
}

func NewMockOCRProvider(log logger.Logger) *MockOCRProvider {
	return &MockOCRProvider{logger: log}
}

func (p *MockOCRProvider) Extract(ctx context.Context, documentHandle string, documentType DocumentType) (*OCRResult, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result := &OCRResult{
		Success:    true,
		Confidence: decimal.NewFromInt(92),
		ParsedFields: map[string]string{
			"document_handle": documentHandle,
		},
		Expired: false,
	}

	p.logger.Debug("Mock OCR extraction completed", logger.Fields{
		"document_handle": documentHandle,
		"document_type":   documentType,
		"confidence":      result.Confidence.String(),
	})
	return result, nil
}

// MockFaceMatchProvider returns canned match results.
type MockFaceMatchProvider struct {
	logger logger.Logger
}

func NewMockFaceMatchProvider(log logger.Logger) *MockFaceMatchProvider {
	return &MockFaceMatchProvider{logger: log}
}

func (p *MockFaceMatchProvider) Compare(ctx context.Context, idPhotoHandle, livePhotoHandle string) (*FaceMatchResult, error) {
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result := &FaceMatchResult{
		Success:        true,
		Matched:        true,
		Similarity:     decimal.NewFromInt(90),
		LivenessPassed: true,
		LivenessScore:  decimal.NewFromInt(85),
	}

	p.logger.Debug("Mock face match completed", logger.Fields{
		"id_photo":   idPhotoHandle,
		"live_photo": livePhotoHandle,
		"similarity": result.Similarity.String(),
	})
	return result, nil
}
