package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"tgtriage/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

const (
	envEnableEncryption = "TGTRIAGE_ENABLE_ENCRYPTION"
	envEncryptionSecret = "TGTRIAGE_ENCRYPTION_SECRET"
	minSecretLength     = 32
)

type encryptor struct {
	gcm       cipher.AEAD
	lookupKey []byte
}

// NewEncryptor builds an AES-GCM encryptor from TGTRIAGE_ENCRYPTION_SECRET.
// With encryption disabled it returns a pass-through encryptor.
func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{}, nil
	}

	key, err := deriveKey(constants.EncryptionSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	lookupKey, err := deriveKey(constants.EncryptionLookupSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive lookup key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm, lookupKey: lookupKey}, nil
}

func (e *encryptor) enabled() bool {
	return e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	result := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(result), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < constants.EncryptionNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:constants.EncryptionNonceSize], data[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// LookupHash returns a stable key for indexing a plaintext value.
// Keyed with HMAC when encryption is enabled so the index does not leak the value.
func (e *encryptor) LookupHash(plaintext string) string {
	if e.lookupKey == nil {
		sum := sha256.Sum256([]byte(plaintext + constants.EncryptionLookupSalt))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, e.lookupKey)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

func deriveKey(salt string) ([]byte, error) {
	secret := os.Getenv(envEncryptionSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", envEncryptionSecret)
	}

	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretLength)
	}

	return pbkdf2.Key([]byte(secret), []byte(salt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New), nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(envEnableEncryption) == "true"
}
