package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	apperrors "credpool-go/internal/errors"

	"golang.org/x/crypto/hkdf"
)

// Cipher is the reversible encryption boundary. Ciphertext produced for one
// owner must not decrypt under another owner's identity.
type Cipher interface {
	Encrypt(plaintext, ownerID string) (string, error)
	Decrypt(ciphertext, ownerID string) (string, error)
}

// AESCipher implements Cipher with AES-256-GCM. A per-owner key is derived
// from the service master key via HKDF-SHA256 using the owner id as info, and
// the owner id is additionally bound as GCM additional data. The stored form
// is base64(nonce || ciphertext || tag).
type AESCipher struct {
	master []byte
}

// NewAESCipher creates a cipher from a master key of at least 32 bytes.
func NewAESCipher(master []byte) (*AESCipher, error) {
	if len(master) < 32 {
		return nil, apperrors.E(apperrors.KindEncryptionFailure, "master key must be at least 32 bytes")
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &AESCipher{master: key}, nil
}

func (c *AESCipher) ownerGCM(ownerID string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, c.master, nil, []byte("credpool/owner/"+ownerID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the owner-scoped key.
func (c *AESCipher) Encrypt(plaintext, ownerID string) (string, error) {
	if ownerID == "" {
		return "", apperrors.E(apperrors.KindEncryptionFailure, "empty owner id")
	}
	gcm, err := c.ownerGCM(ownerID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryptionFailure, "init cipher", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryptionFailure, "generate nonce", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(ownerID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext under the owner-scoped key. A ciphertext sealed
// for a different owner fails authentication.
func (c *AESCipher) Decrypt(ciphertext, ownerID string) (string, error) {
	if ownerID == "" {
		return "", apperrors.E(apperrors.KindDecryptionFailure, "empty owner id")
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindDecryptionFailure, "base64 decode", err)
	}
	gcm, err := c.ownerGCM(ownerID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindDecryptionFailure, "init cipher", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", apperrors.E(apperrors.KindDecryptionFailure, "ciphertext shorter than nonce")
	}
	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, []byte(ownerID))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindDecryptionFailure, "open ciphertext", err)
	}
	return string(plain), nil
}
