package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreLoadAbsent(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	data, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileStoreSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save([]byte("blob-v1")))
	data, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-v1"), data)

	// Overwrite is atomic: no temp file left behind
	require.NoError(t, store.Save([]byte("blob-v2")))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	data, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-v2"), data)

	require.NoError(t, store.Clear())
	data, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, data)

	// Clearing an already absent blob is fine
	require.NoError(t, store.Clear())
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	store, err := NewEncryptedFileStore(path, "correct horse battery staple")
	require.NoError(t, err)

	plaintext := []byte(`{"cookies":[{"name":"PHPSESSID","value":"s3cret"}]}`)
	require.NoError(t, store.Save(plaintext))

	// On-disk bytes must not contain the plaintext
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, plaintext, loaded)
}

func TestEncryptedStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	store, err := NewEncryptedFileStore(path, "right")
	require.NoError(t, err)
	require.NoError(t, store.Save([]byte("data")))

	wrong, err := NewEncryptedFileStore(path, "wrong")
	require.NoError(t, err)
	_, err = wrong.Load()
	assert.Error(t, err)
}

func TestEncryptedStoreRequiresPassphrase(t *testing.T) {
	_, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "x.enc"), "")
	assert.Error(t, err)
}

func TestEncryptedStoreLoadAbsent(t *testing.T) {
	store, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "absent.enc"), "pass")
	require.NoError(t, err)

	data, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestEncryptedStoreTruncatedBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	store, err := NewEncryptedFileStore(path, "pass")
	require.NoError(t, err)
	_, err = store.Load()
	assert.Error(t, err)
}
