package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"smsrelay/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

const (
	EnvEnableEncryption = "SMSRELAY_ENABLE_ENCRYPTION"
	EnvEncryptionSecret = "SMSRELAY_ENCRYPTION_SECRET"

	// cipherPrefix marks encrypted values so rows written before encryption
	// was enabled still read back as plaintext.
	cipherPrefix = "enc:v1:"
	// plainPrefix escapes plaintext that would otherwise read as tagged.
	plainPrefix = "plain:"
)

type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor builds an AES-GCM encryptor from the environment. When
// encryption is disabled it returns a pass-through encryptor.
func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) Enabled() bool {
	return e != nil && e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || !e.Enabled() {
		return escapePlain(plaintext), nil
	}

	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (e *encryptor) Decrypt(value string) (string, error) {
	if strings.HasPrefix(value, plainPrefix) {
		return strings.TrimPrefix(value, plainPrefix), nil
	}
	if !strings.HasPrefix(value, cipherPrefix) {
		return value, nil
	}
	if !e.Enabled() {
		return "", fmt.Errorf("value is encrypted but %s is not set", EnvEnableEncryption)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, cipherPrefix))
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

// escapePlain tags plaintext only when it collides with a prefix, so
// untagged legacy rows keep reading back unchanged.
func escapePlain(value string) string {
	if strings.HasPrefix(value, cipherPrefix) || strings.HasPrefix(value, plainPrefix) {
		return plainPrefix + value
	}
	return value
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(EnvEncryptionSecret)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EnvEncryptionSecret)
	}
	if len(secret) < constants.MinEncryptionSecret {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecret)
	}

	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New), nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(EnvEnableEncryption) == "true"
}
