// Package crypto encrypts sensitive columns at the application level
// with AES-256-GCM. Stored values carry the "enc:v1:" prefix so
// plaintext rows written before encryption was enabled still read back.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const encPrefix = "enc:v1:"

// hkdfSalt isolates derived field keys from other HKDF uses of the
// same master secret
const hkdfSalt = "chandler-field-encryption"

// FieldEncryptor seals and opens string fields. Safe for concurrent use.
type FieldEncryptor struct {
	aead cipher.AEAD
}

// DeriveFieldEncryptor derives an AES-256 key from masterSecret with
// HKDF-SHA256. Different purpose strings yield independent keys, so one
// master secret can back several encrypted column families.
func DeriveFieldEncryptor(masterSecret []byte, purpose string) (*FieldEncryptor, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterSecret, []byte(hkdfSalt), []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &FieldEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext into a prefixed, base64-encoded string
// suitable for a TEXT column. The nonce is prepended to the ciphertext.
func (fe *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, fe.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation failed: %w", err)
	}
	sealed := fe.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the
// encryption prefix are returned unchanged.
func (fe *FieldEncryptor) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: malformed ciphertext: %w", err)
	}
	ns := fe.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("crypto: ciphertext shorter than nonce")
	}

	plaintext, err := fe.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether stored carries the encryption prefix
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, encPrefix)
}
