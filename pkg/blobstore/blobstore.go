// Package blobstore implements content-addressed off-chain large-object
// storage on the filesystem, with optional per-file AES-256-GCM encryption
// and a detached signature over the stored bytes.
package blobstore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// MaxBlobSize is the default maximum accepted blob size (50 MiB).
const MaxBlobSize = 50 * 1024 * 1024

// Ref is the on-chain reference to a stored blob.
type Ref struct {
	FileID      string `json:"file_id"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	Signature   string `json:"signature"`
	IV          string `json:"iv,omitempty"`
	Encrypted   bool   `json:"encrypted"`
	ContentType string `json:"content_type,omitempty"`
}

// VerifyResult reports the outcome of a standalone integrity check,
// independent of the owning block's on-chain hash.
type VerifyResult struct {
	OK               bool
	FileMissing      bool
	HashMismatch     bool
	SignatureInvalid bool
	SizeMismatch     bool
}

// Store manages the blob tree rooted at a configured directory. Writes to
// the same sha256-prefix subdirectory are serialized; writes to distinct
// prefixes proceed independently.
type Store struct {
	root      string
	maxSize   int64
	config    *crypto.EncryptionConfig
	logger    *log.Logger
	dirLocks  sync.Map // prefix -> *sync.Mutex
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxSize overrides the default maximum blob size.
func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithEncryptionConfig overrides the default encryption configuration.
func WithEncryptionConfig(cfg *crypto.EncryptionConfig) Option {
	return func(s *Store) { s.config = cfg }
}

// WithLogger sets a custom logger for the store.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, ledgererr.New(ledgererr.InvalidInput, "blob store root directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "create blob root", err)
	}
	s := &Store{
		root:    dir,
		maxSize: MaxBlobSize,
		config:  crypto.DefaultEncryptionConfig(),
		logger:  log.New(log.Writer(), "[blobstore] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) lockFor(prefix string) *sync.Mutex {
	v, _ := s.dirLocks.LoadOrStore(prefix, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) paths(sha256hex string) (dir, blobPath, sigPath string) {
	prefix := sha256hex[:2]
	dir = filepath.Join(s.root, prefix)
	blobPath = filepath.Join(dir, sha256hex+".blob")
	sigPath = filepath.Join(dir, sha256hex+".sig")
	return
}

// Store writes plaintext (optionally encrypted under password) to the
// content-addressed tree and returns the resulting reference. The detached
// signature covers the exact bytes written to disk (ciphertext, if
// encrypted). The signer's public key is not recorded alongside the blob:
// callers verify against the owning block's signer_public_key, so storing
// a second copy here would just be a value that can drift from it.
func (s *Store) Store(plaintext []byte, password string, signer *ecdsa.PrivateKey, contentType string) (*Ref, error) {
	if int64(len(plaintext)) > s.maxSize {
		return nil, ledgererr.New(ledgererr.InvalidInput, fmt.Sprintf("blob exceeds maximum size of %d bytes", s.maxSize))
	}
	if signer == nil {
		return nil, ledgererr.New(ledgererr.InvalidInput, "signer private key is required")
	}

	digest := crypto.SHA256(plaintext)
	sha256hex := fmt.Sprintf("%x", digest)

	stored := plaintext
	var ivHex string
	encrypted := password != ""
	if encrypted {
		salt := make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, ledgererr.Wrap(ledgererr.StoreFailed, "generate salt", err)
		}
		key := crypto.DeriveKey(password, salt, s.config)
		sealed, err := crypto.Seal(key, plaintext, nil)
		if err != nil {
			return nil, err
		}
		// Prepend salt so Load can re-derive the same key.
		stored = append(append([]byte{}, salt...), sealed...)
		ivHex = fmt.Sprintf("%x", sealed[:crypto.NonceSize])
	}

	// The signature covers exactly what is written to disk.
	storedHash := crypto.SHA256(stored)
	sigB64, err := crypto.Sign(signer, storedHash[:])
	if err != nil {
		return nil, err
	}

	dir, blobPath, sigPath := s.paths(sha256hex)
	lock := s.lockFor(sha256hex[:2])
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "create blob directory", err)
	}
	if err := writeFileAtomic(blobPath, stored, 0600); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "write blob", err)
	}
	if err := writeFileAtomic(sigPath, []byte(sigB64), 0600); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "write blob signature", err)
	}

	s.logger.Printf("stored blob %s (%d bytes, encrypted=%v)", sha256hex, len(plaintext), encrypted)

	return &Ref{
		FileID:      sha256hex,
		Size:        int64(len(plaintext)),
		SHA256:      sha256hex,
		Signature:   sigB64,
		IV:          ivHex,
		Encrypted:   encrypted,
		ContentType: contentType,
	}, nil
}

// Load reads and, if encrypted, decrypts the blob referenced by ref.
func (s *Store) Load(ref *Ref, password string) ([]byte, error) {
	_, blobPath, _ := s.paths(ref.SHA256)
	stored, err := os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledgererr.New(ledgererr.NotFound, "blob file missing")
		}
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read blob", err)
	}

	if !ref.Encrypted {
		return stored, nil
	}
	if password == "" {
		return nil, ledgererr.New(ledgererr.Unauthorized, "password required to decrypt blob")
	}
	if len(stored) < 16 {
		return nil, ledgererr.New(ledgererr.IntegrityFailed, "encrypted blob is truncated")
	}

	salt, sealed := stored[:16], stored[16:]
	key := crypto.DeriveKey(password, salt, s.config)
	plaintext, err := crypto.Open(key, sealed, nil)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unauthorized, "incorrect password or corrupted blob", err)
	}
	return plaintext, nil
}

// Verify performs a standalone integrity check of the stored blob,
// independent of the owning block's on-chain hash.
func (s *Store) Verify(ref *Ref, signerPublicKey *ecdsa.PublicKey) VerifyResult {
	_, blobPath, sigPath := s.paths(ref.SHA256)

	stored, err := os.ReadFile(blobPath)
	if err != nil {
		return VerifyResult{FileMissing: true}
	}

	sigBytes, err := os.ReadFile(sigPath)
	if err != nil {
		return VerifyResult{SignatureInvalid: true}
	}

	storedHash := crypto.SHA256(stored)
	if !crypto.Verify(signerPublicKey, storedHash[:], string(sigBytes)) {
		return VerifyResult{SignatureInvalid: true}
	}

	if !ref.Encrypted {
		actual := fmt.Sprintf("%x", crypto.SHA256(stored))
		if actual != ref.SHA256 {
			return VerifyResult{HashMismatch: true}
		}
		if int64(len(stored)) != ref.Size {
			return VerifyResult{SizeMismatch: true}
		}
	}

	return VerifyResult{OK: true}
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
