package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestSealOpen(t *testing.T) {
	c := newTestCipher(t)

	t.Run("Should seal and open successfully", func(t *testing.T) {
		plaintext := "my-secret-password"

		sealed, err := c.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)
		assert.NotEmpty(t, sealed)

		opened, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	})

	t.Run("Should produce different ciphertexts for same plaintext", func(t *testing.T) {
		sealed1, err := c.Seal("password123")
		require.NoError(t, err)
		sealed2, err := c.Seal("password123")
		require.NoError(t, err)

		// random nonce per seal
		assert.NotEqual(t, sealed1, sealed2)

		opened1, err := c.Open(sealed1)
		require.NoError(t, err)
		opened2, err := c.Open(sealed2)
		require.NoError(t, err)
		assert.Equal(t, opened1, opened2)
	})

	t.Run("Should fail gracefully with invalid ciphertext", func(t *testing.T) {
		_, err := c.Open("invalid-base64-data!!!")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode base64")
	})

	t.Run("Should fail with ciphertext too short", func(t *testing.T) {
		_, err := c.Open(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ciphertext too short")
	})

	t.Run("Should not open with another key", func(t *testing.T) {
		sealed, err := c.Seal("token")
		require.NoError(t, err)

		_, err = newTestCipher(t).Open(sealed)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decrypt")
	})

	t.Run("Should handle empty and special plaintext", func(t *testing.T) {
		for _, plaintext := range []string{"", "p@ssw0rd!#$%^&*(){}[]|\\:;<>,.?/~`"} {
			sealed, err := c.Seal(plaintext)
			require.NoError(t, err)
			opened, err := c.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, opened)
		}
	})
}

func TestNewCipher(t *testing.T) {
	t.Run("Should reject keys that are not 32 bytes", func(t *testing.T) {
		_, err := NewCipher([]byte("short"))
		assert.Error(t, err)
	})
}

func TestDeriveKey(t *testing.T) {
	t.Run("Should use a 32-byte base64 key as is", func(t *testing.T) {
		key := make([]byte, 32)
		_, err := rand.Read(key)
		require.NoError(t, err)

		assert.Equal(t, key, DeriveKey(base64.StdEncoding.EncodeToString(key)))
	})

	t.Run("Should hash a raw string to 32 bytes", func(t *testing.T) {
		derived := DeriveKey("test-encryption-key-raw-string")
		assert.Len(t, derived, 32)
		assert.Equal(t, derived, DeriveKey("test-encryption-key-raw-string"))
	})

	t.Run("Should hash base64 of the wrong length", func(t *testing.T) {
		derived := DeriveKey(base64.StdEncoding.EncodeToString([]byte("sixteen byte key")))
		assert.Len(t, derived, 32)
	})
}
