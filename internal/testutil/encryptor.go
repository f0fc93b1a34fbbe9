package testutil

import (
	"camarc/internal/encryption"
)

// NewTestEncryptor creates a deterministic encryptor for tests.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
