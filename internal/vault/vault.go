package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize      = 16
	nonceSize     = 12
	keySize       = 32
	kdfIterations = 100_000
)

// ErrDecryptionFailed is returned when a stored credential blob fails
// authentication. Callers treat it like an invalid credential: the blob is
// presumed corrupted or tampered with, never partially decrypted.
var ErrDecryptionFailed = errors.New("credential blob failed authentication")

// Vault provides authenticated symmetric encryption for OAuth secrets at
// rest. Each Encrypt call draws a fresh salt and nonce; the output blob is
// salt || nonce || ciphertext+tag, so Decrypt needs no state beyond the
// configured secret.
type Vault struct {
	secret []byte
}

// New creates a Vault from the operator-configured secret. The secret is run
// through PBKDF2 per call with a random salt; it is never used directly as a
// cipher key.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault secret must not be empty")
	}
	return &Vault{secret: []byte(secret)}, nil
}

// Encrypt seals plaintext with AES-256-GCM under a freshly derived key.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, nil)
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. It fails closed: a truncated blob
// or a failed authentication tag returns ErrDecryptionFailed, never garbage
// plaintext.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, ErrDecryptionFailed
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	aead, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string plaintexts.
func (v *Vault) EncryptString(plaintext string) ([]byte, error) {
	return v.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt returning a string.
func (v *Vault) DecryptString(blob []byte) (string, error) {
	plaintext, err := v.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.secret, salt, kdfIterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return aead, nil
}
