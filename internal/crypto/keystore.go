package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

const (
	keystoreService = "taskwatch"
	keystoreUser    = "encryption-key"
)

// LoadKey resolves the sealing key: TASKWATCH_ENCRYPTION_KEY first, then the
// OS keychain. A missing keychain entry is generated and stored.
func LoadKey(log *zap.SugaredLogger) ([]byte, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if keyString := os.Getenv(KeyEnv); keyString != "" {
		return DeriveKey(keyString), nil
	}

	stored, err := keyring.Get(keystoreService, keystoreUser)
	if err == nil && stored != "" {
		key, decodeErr := base64.StdEncoding.DecodeString(stored)
		if decodeErr == nil && len(key) == 32 {
			return key, nil
		}
		return nil, fmt.Errorf("keychain entry %s/%s is not a 32-byte base64 key", keystoreService, keystoreUser)
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read keychain: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	if err := keyring.Set(keystoreService, keystoreUser, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store key in keychain (set %s instead): %w", KeyEnv, err)
	}

	log.Infow("generated encryption key", "keychain_service", keystoreService)
	return key, nil
}

// DeleteKey removes the keychain sealing key. The next LoadKey generates a new one.
func DeleteKey() error {
	return keyring.Delete(keystoreService, keystoreUser)
}

// IsKeyStored reports whether the keychain holds a sealing key
func IsKeyStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
