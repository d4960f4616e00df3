package session

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
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore persists the session blob encrypted at rest with
// AES-GCM, the key derived from a passphrase via PBKDF2. The file
// layout is salt || nonce || ciphertext.
type EncryptedFileStore struct {
	inner      *FileStore
	passphrase string
}

// NewEncryptedFileStore creates an encrypted store at path. The
// passphrase must not be empty.
func NewEncryptedFileStore(path, passphrase string) (*EncryptedFileStore, error) {
	if passphrase == "" {
		return nil, errors.New("encrypted session store requires a passphrase")
	}
	return &EncryptedFileStore{
		inner:      NewFileStore(path),
		passphrase: passphrase,
	}, nil
}

// Load reads and decrypts the blob, (nil, nil) when absent
func (e *EncryptedFileStore) Load() ([]byte, error) {
	raw, err := e.inner.Load()
	if err != nil || raw == nil {
		return nil, err
	}

	if len(raw) < saltSize {
		return nil, errors.New("encrypted session blob is truncated")
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	gcm, err := e.cipher(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, errors.New("encrypted session blob is truncated")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session blob: %w", err)
	}
	return plaintext, nil
}

// Save encrypts and atomically replaces the blob
func (e *EncryptedFileStore) Save(data []byte) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.cipher(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, data, nil)

	blob := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return e.inner.Save(blob)
}

// Clear removes the blob
func (e *EncryptedFileStore) Clear() error {
	return e.inner.Clear()
}

func (e *EncryptedFileStore) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
