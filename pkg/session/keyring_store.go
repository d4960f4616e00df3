package session

import (
	"encoding/base64"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "stooqfetch"
	keyringKey     = "session"
)

// KeyringStore keeps the session blob in the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keychain-backed store, verifying the
// keyring is usable on this system first.
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)
	return &KeyringStore{}, nil
}

// Load reads the blob from the keychain, (nil, nil) when absent
func (k *KeyringStore) Load() ([]byte, error) {
	encoded, err := keyring.Get(keyringService, keyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from keyring: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keyring entry is not valid base64: %w", err)
	}
	return data, nil
}

// Save stores the blob in the keychain
func (k *KeyringStore) Save(data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := keyring.Set(keyringService, keyringKey, encoded); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

// Clear removes the keychain entry; a missing entry is not an error
func (k *KeyringStore) Clear() error {
	if err := keyring.Delete(keyringService, keyringKey); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
