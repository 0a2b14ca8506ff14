package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-key-for-encryption-testing"

func enableEncryption(t *testing.T) {
	t.Helper()
	t.Setenv(EnvEnableEncryption, "true")
	t.Setenv(EnvEncryptionSecret, testSecret)
}

func TestEncryptor_EncryptDecrypt(t *testing.T) {
	enableEncryption(t)

	enc, err := NewEncryptor()
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	for _, plaintext := range []string{"Your code: 123456", "", "Unicode ✓ ünïcödé", strings.Repeat("x", 2048)} {
		ciphertext, err := enc.Encrypt(plaintext)
		require.NoError(t, err)

		if plaintext == "" {
			assert.Empty(t, ciphertext)
			continue
		}
		assert.True(t, strings.HasPrefix(ciphertext, cipherPrefix))
		assert.NotContains(t, ciphertext, plaintext)

		decrypted, err := enc.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptor_RandomNonce(t *testing.T) {
	enableEncryption(t)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	a, err := enc.Encrypt("code 4821")
	require.NoError(t, err)
	b, err := enc.Encrypt("code 4821")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptor_Disabled(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Encrypt("plain body")
	require.NoError(t, err)
	assert.Equal(t, "plain body", out)

	out, err = enc.Decrypt("plain body")
	require.NoError(t, err)
	assert.Equal(t, "plain body", out)

	_, err = enc.Decrypt(cipherPrefix + "AAAA")
	assert.Error(t, err)
}

func TestEncryptor_PrefixedPlaintextRoundTrips(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	for _, body := range []string{cipherPrefix + "your code 4821", plainPrefix + "hello", "plain body"} {
		stored, err := enc.Encrypt(body)
		require.NoError(t, err)

		out, err := enc.Decrypt(stored)
		require.NoError(t, err)
		assert.Equal(t, body, out)
	}
}

func TestEncryptor_PlaintextPassesThroughWhenEnabled(t *testing.T) {
	enableEncryption(t)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	out, err := enc.Decrypt("stored before encryption was enabled")
	require.NoError(t, err)
	assert.Equal(t, "stored before encryption was enabled", out)
}

func TestNewEncryptor_SecretValidation(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")

	t.Setenv(EnvEncryptionSecret, "")
	_, err := NewEncryptor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvEncryptionSecret)

	t.Setenv(EnvEncryptionSecret, "short")
	_, err = NewEncryptor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestEncryptor_TamperedCiphertext(t *testing.T) {
	enableEncryption(t)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	_, err = enc.Decrypt(cipherPrefix + "not base64!!")
	assert.Error(t, err)

	_, err = enc.Decrypt(cipherPrefix + "AAAA")
	assert.Error(t, err)

	ciphertext, err := enc.Encrypt("hello")
	require.NoError(t, err)
	tampered := ciphertext[:len(ciphertext)-2] + "AA"
	if tampered != ciphertext {
		_, err = enc.Decrypt(tampered)
		assert.Error(t, err)
	}
}
