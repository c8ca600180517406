package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/crypto"
	"github.com/mailcove/mailcove/internal/tracing"
)

// LocalStorage keeps attachment blobs on the local filesystem. Every blob is
// encrypted before it touches disk; the plaintext only exists in memory.
type LocalStorage struct {
	baseDir string
	cipher  *crypto.Cipher
}

func NewLocalStorage(baseDir string, cipher *crypto.Cipher) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "failed to create attachment directory")
	}
	return &LocalStorage{
		baseDir: baseDir,
		cipher:  cipher,
	}, nil
}

// Upload encrypts and stores a blob under the given key.
func (s *LocalStorage) Upload(ctx context.Context, key string, data []byte) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "LocalStorage.Upload")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.LogKV("key", key)

	sealed, err := s.cipher.Encrypt(data)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	path, err := s.pathFor(key)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		err = errors.Wrap(err, "failed to write attachment blob")
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Download reads and decrypts a blob.
func (s *LocalStorage) Download(ctx context.Context, key string) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "LocalStorage.Download")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.LogKV("key", key)

	path, err := s.pathFor(key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		err = errors.Wrap(err, "failed to read attachment blob")
		tracing.TraceErr(span, err)
		return nil, err
	}

	data, err := s.cipher.Decrypt(sealed)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return data, nil
}

// Delete removes a blob. A missing file is not an error.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "LocalStorage.Delete")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.LogKV("key", key)

	path, err := s.pathFor(key)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		err = errors.Wrap(err, "failed to delete attachment blob")
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// pathFor maps a storage key to a file path, rejecting anything that would
// escape the base directory.
func (s *LocalStorage) pathFor(key string) (string, error) {
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, string(os.PathSeparator)) || strings.Contains(key, "..") {
		return "", errors.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.baseDir, key+".bin"), nil
}

var _ interfaces.BlobStorage = (*LocalStorage)(nil)
