// Package enrichment defines the external document-analysis collaborators.
// The pipeline only sees these interfaces; it must not know whether a real
// vendor or the mock is wired in.
package enrichment

import (
	"context"

	"github.com/shopspring/decimal"
)

// DocumentType tells the OCR provider what it is reading.
type DocumentType string

const (
	DocumentTypeID           DocumentType = "ID_DOCUMENT"
	DocumentTypeAddressProof DocumentType = "ADDRESS_PROOF"
)

// OCRResult is the provider's verdict on one document. Success=false means
// the provider itself failed, which is distinct from a low Confidence on a
// successful read.
type OCRResult struct {
	Success      bool              `json:"success"`
	Confidence   decimal.Decimal   `json:"confidence"` // 0-100
	ParsedFields map[string]string `json:"parsed_fields,omitempty"`
	Expired      bool              `json:"expired"`
}

// FaceMatchResult compares the ID portrait against the live photo.
type FaceMatchResult struct {
	Success        bool            `json:"success"`
	Matched        bool            `json:"matched"`
	Similarity     decimal.Decimal `json:"similarity"` // 0-100
	LivenessPassed bool            `json:"liveness_passed"`
	LivenessScore  decimal.Decimal `json:"liveness_score"` // 0-100
}

// OCRProvider extracts text and expiry information from a stored document.
type OCRProvider interface {
	Extract(ctx context.Context, documentHandle string, documentType DocumentType) (*OCRResult, error)
}

// FaceMatchProvider compares an ID photo against a live selfie.
type FaceMatchProvider interface {
	Compare(ctx context.Context, idPhotoHandle, livePhotoHandle string) (*FaceMatchResult, error)
}
