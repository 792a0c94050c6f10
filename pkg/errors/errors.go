// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Verification state errors
	ErrVerificationStateNotFound = errors.New("verification state not found")
	ErrUserNotFound              = errors.New("user not found")
	ErrAccountLocked             = errors.New("account locked")
	ErrAccountNotLocked          = errors.New("account is not locked")

	// KYC submission errors
	ErrSubmissionNotFound  = errors.New("kyc submission not found")
	ErrDuplicateSubmission = errors.New("an open kyc submission already exists")
	ErrConsentRequired     = errors.New("kyc consent is required")
	ErrSubmissionTerminal  = errors.New("kyc submission already decided")
	ErrInvalidReviewAction = errors.New("invalid review action")
	ErrStateConflict       = errors.New("verification state does not allow this transition")

	// Document errors
	ErrDocumentNotFound   = errors.New("document not found")
	ErrFileTooLarge       = errors.New("file too large")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrBlobNotFound       = errors.New("stored blob not found")

	// Authorization errors
	ErrAdminRoleRequired = errors.New("admin role required")
	ErrNotAuthenticated  = errors.New("authentication required")

	// Crypto errors
	ErrInvalidMasterKey   = errors.New("invalid master key")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target. Callers
// should use this instead of comparing sentinels directly, so wrapped
// errors still match.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
