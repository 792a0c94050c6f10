package fileupload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/internal/security"
	"trustgate/pkg/config"
	"trustgate/pkg/errors"
	"trustgate/pkg/logger"
)

func newTestStore(t *testing.T, sealer Sealer) *Store {
	t.Helper()
	store, err := NewStore(config.StorageConfig{
		BasePath:         t.TempDir(),
		MaxFileSizeBytes: 1024,
	}, sealer, logger.NewNop())
	require.NoError(t, err)
	return store
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t, nil)
	data := []byte("fake jpeg bytes")

	handle, err := store.Save(context.Background(), "passport.jpg", data)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(handle))

	loaded, err := store.Load(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestSaveRejectsOversizedFile(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.Save(context.Background(), "huge.pdf", make([]byte, 2048))
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)
}

func TestSaveRejectsDisallowedType(t *testing.T) {
	store := newTestStore(t, nil)

	for _, name := range []string{"script.exe", "archive.zip", "noextension"} {
		_, err := store.Save(context.Background(), name, []byte("x"))
		assert.ErrorIs(t, err, errors.ErrFileTypeNotAllowed, name)
	}
}

func TestEncryptedStoreKeepsCiphertextOnDisk(t *testing.T) {
	crypto, err := security.NewRandomCrypto()
	require.NoError(t, err)

	base := t.TempDir()
	store, err := NewStore(config.StorageConfig{
		BasePath:         base,
		MaxFileSizeBytes: 1024,
	}, crypto, logger.NewNop())
	require.NoError(t, err)

	data := []byte("id document content")
	handle, err := store.Save(context.Background(), "id.png", data)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(base, handle))
	require.NoError(t, err)
	assert.NotEqual(t, data, raw)

	loaded, err := store.Load(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)
}

func TestLoadUnknownHandle(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.Load(context.Background(), "no-such-blob.jpg")
	assert.ErrorIs(t, err, errors.ErrBlobNotFound)
}

func TestLoadRejectsPathTraversal(t *testing.T) {
	store := newTestStore(t, nil)

	for _, handle := range []string{"../etc/passwd", "a/b.jpg", ""} {
		_, err := store.Load(context.Background(), handle)
		assert.ErrorIs(t, err, errors.ErrBlobNotFound, handle)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t, nil)

	handle, err := store.Save(context.Background(), "proof.pdf", []byte("bytes"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), handle))
	require.NoError(t, store.Delete(context.Background(), handle))

	_, err = store.Load(context.Background(), handle)
	assert.ErrorIs(t, err, errors.ErrBlobNotFound)
}
