package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	coveerr "github.com/mailcove/mailcove/internal/errors"
)

const KeySize = 32

// Cipher encrypts and decrypts cache blobs with AES-256-GCM. Every call to
// Encrypt draws a fresh nonce, so two encryptions of the same plaintext never
// produce the same blob. The nonce is prepended to the ciphertext.
type Cipher struct {
	key  []byte
	aead cipher.AEAD
}

// LoadKey reads the 32-byte key from keyPath, generating and persisting a new
// one with 0600 permissions when the file does not exist. The key lives in a
// file separate from the cache database so that leaking one artifact alone
// reveals nothing.
func LoadKey(keyPath string) (*Cipher, error) {
	key, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		key = make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, errors.Wrap(err, "generate key")
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			return nil, errors.Wrap(err, "create key directory")
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, errors.Wrap(err, "persist key")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	return NewCipher(key)
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}
	return &Cipher{key: key, aead: aead}, nil
}

// Encrypt returns nonce||ciphertext||tag.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Truncated blobs, tampered ciphertext and blobs
// sealed under a different key all return ErrDecryption, never garbage.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < c.aead.NonceSize() {
		return nil, coveerr.ErrDecryption
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, coveerr.ErrDecryption
	}
	return plaintext, nil
}

func (c *Cipher) EncryptString(plaintext string) ([]byte, error) {
	return c.Encrypt([]byte(plaintext))
}

func (c *Cipher) DecryptString(blob []byte) (string, error) {
	plaintext, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Zero wipes the key material. The cipher is unusable afterwards.
func (c *Cipher) Zero() {
	for i := range c.key {
		c.key[i] = 0
	}
	c.aead = nil
}
