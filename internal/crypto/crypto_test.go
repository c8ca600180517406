package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coveerr "github.com/mailcove/mailcove/internal/errors"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c := newTestCipher(t)

	plaintext := []byte("the quick brown fox")
	blob, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, blob)

	got, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncryptIsNondeterministic(t *testing.T) {
	c := newTestCipher(t)

	plaintext := []byte("same plaintext")
	first, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	second, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptTruncatedBlob(t *testing.T) {
	c := newTestCipher(t)

	blob, err := c.Encrypt([]byte("short lived"))
	require.NoError(t, err)

	_, err = c.Decrypt(blob[:5])
	assert.ErrorIs(t, err, coveerr.ErrDecryption)

	_, err = c.Decrypt(nil)
	assert.ErrorIs(t, err, coveerr.ErrDecryption)
}

func TestDecryptTamperedBlob(t *testing.T) {
	c := newTestCipher(t)

	blob, err := c.Encrypt([]byte("do not touch"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff

	_, err = c.Decrypt(blob)
	assert.ErrorIs(t, err, coveerr.ErrDecryption)
}

func TestDecryptForeignKey(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt([]byte("sealed under key A"))
	require.NoError(t, err)

	other, err := NewCipher(bytes.Repeat([]byte{0x99}, KeySize))
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, coveerr.ErrDecryption)
}

func TestNewCipherRejectsBadKeySize(t *testing.T) {
	_, err := NewCipher([]byte("too short"))
	assert.Error(t, err)
}

func TestLoadKeyCreatesFileWithRestrictedPerms(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "secret.key")

	c, err := LoadKey(keyPath)
	require.NoError(t, err)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second load reads the same key back, so blobs stay decryptable.
	blob, err := c.Encrypt([]byte("persisted"))
	require.NoError(t, err)

	reloaded, err := LoadKey(keyPath)
	require.NoError(t, err)
	got, err := reloaded.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

func TestEncryptStringRoundtrip(t *testing.T) {
	c := newTestCipher(t)

	blob, err := c.EncryptString("hello")
	require.NoError(t, err)
	got, err := c.DecryptString(blob)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}
