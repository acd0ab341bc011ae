package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewEncryptor(t *testing.T) {
	t.Run("accepts a 32-byte key", func(t *testing.T) {
		_, err := NewEncryptor(testKey(t))
		assert.NoError(t, err)
	})

	t.Run("rejects invalid base64", func(t *testing.T) {
		_, err := NewEncryptor("not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := NewEncryptor(base64.StdEncoding.EncodeToString([]byte("short")))
		assert.Error(t, err)
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := e.Encrypt("hunter2-refresh-token")
	require.NoError(t, err)

	plaintext, err := e.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2-refresh-token", plaintext)
}

func TestEncryptProducesDifferentCiphertexts(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	first, err := e.Encrypt("same secret")
	require.NoError(t, err)
	second, err := e.Encrypt("same secret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := e.Encrypt("secret")
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xff
	_, err = e.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	_, err = e.Decrypt([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	e1, err := NewEncryptor(testKey(t))
	require.NoError(t, err)
	e2, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ciphertext, err := e1.Encrypt("secret")
	require.NoError(t, err)

	_, err = e2.Decrypt(ciphertext)
	assert.Error(t, err)
}
