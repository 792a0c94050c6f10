package fileupload

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"trustgate/pkg/config"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

// Sealer encrypts blobs at rest. Satisfied by security.Crypto.
type Sealer interface {
	Seal(handle string, plaintext []byte) ([]byte, error)
	Open(handle string, sealed []byte) ([]byte, error)
}

// allowedExtensions are the document formats the KYC pipeline accepts.
var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".pdf":  {},
}

// Store keeps document blobs on local disk under opaque handles. Callers
// only ever hold handles; the bytes never travel through the KYC records.
type Store struct {
	basePath string
	maxSize  int64
	sealer   Sealer
	logger   logger.Logger
}

// NewStore prepares the storage directory. sealer may be nil, which
// stores blobs unencrypted (local development only).
func NewStore(cfg config.StorageConfig, sealer Sealer, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o700); err != nil {
		return nil, errors.Wrap(err, "fileupload: creating storage directory")
	}
	return &Store{
		basePath: cfg.BasePath,
		maxSize:  cfg.MaxFileSizeBytes,
		sealer:   sealer,
		logger:   log,
	}, nil
}

// Validate checks size and extension without storing anything. Returns
// ErrFileTooLarge or ErrFileTypeNotAllowed for the caller to map onto a
// VALIDATION_ERROR response.
func (s *Store) Validate(filename string, size int64) error {
	if size > s.maxSize {
		return errors.ErrFileTooLarge
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return errors.ErrFileTypeNotAllowed
	}
	return nil
}

// Save validates and persists one document, returning its handle. The
// handle embeds no user data; ownership lives on the KYC submission row.
func (s *Store) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := s.Validate(filename, int64(len(data))); err != nil {
		return "", err
	}

	handle := uuid.New().String() + strings.ToLower(filepath.Ext(filename))
	payload := data
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(handle, data)
		if err != nil {
			return "", err
		}
		payload = sealed
	}

	if err := os.WriteFile(s.path(handle), payload, 0o600); err != nil {
		return "", errors.Wrap(err, "fileupload: writing blob")
	}

	s.logger.Debug("document stored", logger.Fields{
		"handle":    handle,
		"size":      len(data),
		"encrypted": s.sealer != nil,
	})
	return handle, nil
}

// Load reads a stored blob back by handle.
func (s *Store) Load(ctx context.Context, handle string) ([]byte, error) {
	if !validHandle(handle) {
		return nil, errors.ErrBlobNotFound
	}
	payload, err := os.ReadFile(s.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrBlobNotFound
		}
		return nil, errors.Wrap(err, "fileupload: reading blob")
	}
	if s.sealer != nil {
		return s.sealer.Open(handle, payload)
	}
	return payload, nil
}

// Delete removes a blob. Missing blobs are not an error; deletion is
// used for retention cleanup, not correctness.
func (s *Store) Delete(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return errors.ErrBlobNotFound
	}
	if err := os.Remove(s.path(handle)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "fileupload: deleting blob")
	}
	return nil
}

func (s *Store) path(handle string) string {
	return filepath.Join(s.basePath, handle)
}

// validHandle rejects anything that could escape the storage directory.
func validHandle(handle string) bool {
	if handle == "" || strings.ContainsAny(handle, "/\\") {
		return false
	}
	return filepath.Base(handle) == handle
}
