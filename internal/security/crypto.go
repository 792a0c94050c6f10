package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"trustgate/pkg/errors"
)

const keySize = 32 // AES-256

// Crypto seals and opens document blobs with AES-GCM. Each blob is
// encrypted under a key derived from the master key and the blob's
// handle, so a leaked per-blob key never exposes the rest of the store.
type Crypto struct {
	masterKey []byte
}

// NewCrypto parses a hex-encoded 256-bit master key.
func NewCrypto(masterKeyHex string) (*Crypto, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "security: master key is not valid hex")
	}
	if len(key) != keySize {
		return nil, errors.Wrap(errors.ErrInvalidMasterKey, "security: master key must be 32 bytes")
	}
	return &Crypto{masterKey: key}, nil
}

// NewRandomCrypto generates an ephemeral master key. Blobs sealed with it
// are unreadable after restart; only for tests and local development.
func NewRandomCrypto() (*Crypto, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "security: generating master key")
	}
	return &Crypto{masterKey: key}, nil
}

// deriveKey expands the master key for one blob handle via HKDF-SHA256.
func (c *Crypto) deriveKey(handle string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.masterKey, nil, []byte("blob:"+handle))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, "security: deriving blob key")
	}
	return key, nil
}

// Seal encrypts plaintext under the handle-derived key. The nonce is
// prepended to the ciphertext.
func (c *Crypto) Seal(handle string, plaintext []byte) ([]byte, error) {
	key, err := c.deriveKey(handle)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "security: generating nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob sealed with Seal under the same handle.
func (c *Crypto) Open(handle string, sealed []byte) ([]byte, error) {
	key, err := c.deriveKey(handle)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "security: opening blob")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "security: initializing cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "security: initializing gcm")
	}
	return gcm, nil
}
