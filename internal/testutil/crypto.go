package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/lumicrm/mailsync/internal/crypto"
)

// GetTestEncryptor returns an encryptor with a deterministic key, shared by
// test packages that need to round-trip credentials.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	encryptor, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
