// Package keystore provides encrypted at-rest storage of private keys,
// one file per owner, protected by a user password.
package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

const fileExt = ".enc"

// Store loads and saves PEM-free, password-encrypted P-256 private keys
// under a directory, one file per owner. It holds no global state; callers
// construct one Store per keystore directory.
type Store struct {
	dir    string
	config *crypto.EncryptionConfig
	logger *log.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithEncryptionConfig overrides the default encryption configuration.
func WithEncryptionConfig(cfg *crypto.EncryptionConfig) Option {
	return func(s *Store) { s.config = cfg }
}

// WithLogger sets a custom logger for the store.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, ledgererr.New(ledgererr.InvalidInput, "keystore directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "create keystore directory", err)
	}

	s := &Store{
		dir:    dir,
		config: crypto.DefaultEncryptionConfig(),
		logger: log.New(log.Writer(), "[keystore] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) pathFor(owner string) (string, error) {
	if owner == "" || strings.ContainsAny(owner, "/\\") {
		return "", ledgererr.New(ledgererr.InvalidInput, "owner name is empty or contains path separators")
	}
	return filepath.Join(s.dir, owner+fileExt), nil
}

// Save encrypts priv under password and writes it to <owner>.enc as
// salt(16) ‖ iv(12) ‖ ciphertext(private_key) ‖ tag(16).
func (s *Store) Save(owner string, priv *ecdsa.PrivateKey, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	path, err := s.pathFor(owner)
	if err != nil {
		return err
	}

	der, err := crypto.MarshalPrivateKeyPKCS8(priv)
	if err != nil {
		return err
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "generate salt", err)
	}

	key := crypto.DeriveKey(password, salt, s.config)
	sealed, err := crypto.Seal(key, der, []byte(owner))
	if err != nil {
		return err
	}

	out := make([]byte, 0, len(salt)+len(sealed))
	out = append(out, salt...)
	out = append(out, sealed...)

	if err := writeFileAtomic(path, out, 0600); err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "write key file", err)
	}
	s.logger.Printf("saved key for owner %q", owner)
	return nil
}

// Load decrypts and parses the private key stored for owner.
func (s *Store) Load(owner, password string) (*ecdsa.PrivateKey, error) {
	path, err := s.pathFor(owner)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledgererr.New(ledgererr.NotFound, fmt.Sprintf("no key file for owner %q", owner))
		}
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read key file", err)
	}
	if len(raw) < 16+crypto.NonceSize+crypto.TagSize {
		return nil, ledgererr.New(ledgererr.IntegrityFailed, "key file is truncated")
	}

	salt, sealed := raw[:16], raw[16:]
	key := crypto.DeriveKey(password, salt, s.config)

	der, err := crypto.Open(key, sealed, []byte(owner))
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unauthorized, "incorrect password", err)
	}

	priv, err := crypto.ParsePrivateKeyPKCS8(der)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// List enumerates the owner names with a stored key.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "list keystore directory", err)
	}

	var owners []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		owners = append(owners, strings.TrimSuffix(e.Name(), fileExt))
	}
	return owners, nil
}

// Delete removes the key file for owner. It is not an error to delete a
// key that was never saved.
func (s *Store) Delete(owner string) error {
	path, err := s.pathFor(owner)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ledgererr.Wrap(ledgererr.StoreFailed, "delete key file", err)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 || len(password) > 256 {
		return ledgererr.New(ledgererr.InvalidInput, "password must be between 8 and 256 characters")
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
