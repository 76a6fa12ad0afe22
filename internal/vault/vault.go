// Package vault seals provider credentials at rest. Ciphertexts are
// AES-256-GCM with a per-encryption key derived from the master key via
// PBKDF2, so a leaked database row is useless without the master key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/portfolio-tracker/internal/errors"
)

const (
	saltLen    = 64
	nonceLen   = 12
	keyLen     = 32
	iterations = 100000
)

// Vault encrypts and decrypts credential strings with a master key.
type Vault struct {
	masterKey []byte
}

// New creates a Vault. The master key must be non-empty.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, apperrors.NewCredentialError("master key is not configured", nil)
	}
	return &Vault{masterKey: []byte(masterKey)}, nil
}

// Encrypt seals plaintext and returns the canonical
// salt:nonce:tag:ciphertext hex encoding. A fresh salt and nonce are drawn
// for every call, so encrypting the same plaintext twice yields different
// ciphertexts.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", apperrors.NewCredentialError("salt generation failed", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", apperrors.NewCredentialError("nonce generation failed", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the 16-byte auth tag; split it out so the stored format
	// keeps the tag as its own field.
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s:%s",
		hex.EncodeToString(salt),
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed input, tampered
// field, or wrong master key yields a credential error.
func (v *Vault) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 4 {
		return "", apperrors.NewCredentialError("malformed encrypted credential", nil)
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != saltLen {
		return "", apperrors.NewCredentialError("malformed credential salt", err)
	}
	nonce, err := hex.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceLen {
		return "", apperrors.NewCredentialError("malformed credential nonce", err)
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", apperrors.NewCredentialError("malformed credential tag", err)
	}
	ciphertext, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", apperrors.NewCredentialError("malformed credential ciphertext", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return "", err
	}
	if len(tag) != gcm.Overhead() {
		return "", apperrors.NewCredentialError("malformed credential tag", nil)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", apperrors.NewCredentialError("credential decryption failed", err)
	}
	return string(plaintext), nil
}

func (v *Vault) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.masterKey, salt, iterations, keyLen, sha512.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewCredentialError("cipher initialization failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewCredentialError("cipher initialization failed", err)
	}
	return gcm, nil
}
