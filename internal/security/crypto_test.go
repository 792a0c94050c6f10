package security

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustgate/pkg/errors"
)

func testCrypto(t *testing.T) *Crypto {
	t.Helper()
	c, err := NewRandomCrypto()
	require.NoError(t, err)
	return c
}

func TestNewCryptoRejectsBadKeys(t *testing.T) {
	_, err := NewCrypto("not-hex")
	assert.Error(t, err)

	_, err = NewCrypto(hex.EncodeToString(make([]byte, 16)))
	assert.ErrorIs(t, err, errors.ErrInvalidMasterKey)

	_, err = NewCrypto(hex.EncodeToString(make([]byte, 32)))
	assert.NoError(t, err)
}

func TestSealOpenRoundtrip(t *testing.T) {
	c := testCrypto(t)
	plaintext := []byte("passport scan bytes")

	sealed, err := c.Seal("blob-1.jpg", plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := c.Open("blob-1.jpg", sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenWithWrongHandleFails(t *testing.T) {
	c := testCrypto(t)

	sealed, err := c.Seal("blob-1.jpg", []byte("secret"))
	require.NoError(t, err)

	// The per-blob key is bound to the handle, so a swapped handle
	// must not decrypt.
	_, err = c.Open("blob-2.jpg", sealed)
	assert.Error(t, err)
}

func TestOpenShortCiphertext(t *testing.T) {
	c := testCrypto(t)

	_, err := c.Open("blob-1.jpg", []byte{0x01, 0x02})
	assert.ErrorIs(t, err, errors.ErrCiphertextTooShort)
}

func TestSealIsNonDeterministic(t *testing.T) {
	c := testCrypto(t)

	a, err := c.Seal("blob-1.jpg", []byte("same bytes"))
	require.NoError(t, err)
	b, err := c.Seal("blob-1.jpg", []byte("same bytes"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
