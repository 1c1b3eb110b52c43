package crypto

import (
	"crypto/sha256"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// EncryptionConfig controls the symmetric crypto parameters used across the
// key-file store, block encryption layer, and off-chain blob store. Two
// configurations are interoperable iff KeyLength, PBKDF2Iterations, and
// MetadataEncryptionEnabled all match.
type EncryptionConfig struct {
	KeyLength                  int // bits; one of 128, 192, 256
	PBKDF2Iterations           int
	EnableCompression          bool
	CorruptionDetectionEnabled bool
	MetadataEncryptionEnabled  bool
	ValidateEncryptionFormat   bool
}

// DefaultEncryptionConfig returns the production-recommended configuration.
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		KeyLength:                  256,
		PBKDF2Iterations:           100000,
		EnableCompression:          false,
		CorruptionDetectionEnabled: true,
		MetadataEncryptionEnabled:  true,
		ValidateEncryptionFormat:   true,
	}
}

// Validate checks the configuration's values are within allowed ranges.
func (c *EncryptionConfig) Validate() error {
	switch c.KeyLength {
	case 128, 192, 256:
	default:
		return ledgererr.New(ledgererr.InvalidInput, "key_length must be 128, 192, or 256")
	}
	if c.PBKDF2Iterations < 10000 {
		return ledgererr.New(ledgererr.InvalidInput, "pbkdf2_iterations must be >= 10000")
	}
	return nil
}

// KeyBytes returns the derived key length in bytes.
func (c *EncryptionConfig) KeyBytes() int {
	return c.KeyLength / 8
}

// Interoperable reports whether two configurations produce compatible
// ciphertexts: same key length, same iteration count, same metadata mode.
func (c *EncryptionConfig) Interoperable(other *EncryptionConfig) bool {
	return c.KeyLength == other.KeyLength &&
		c.PBKDF2Iterations == other.PBKDF2Iterations &&
		c.MetadataEncryptionEnabled == other.MetadataEncryptionEnabled
}

// DeriveKey derives a symmetric key from password and salt using
// PBKDF2-HMAC-SHA256 per the given configuration.
func DeriveKey(password string, salt []byte, cfg *EncryptionConfig) []byte {
	return pbkdf2.Key([]byte(password), salt, cfg.PBKDF2Iterations, cfg.KeyBytes(), sha256.New)
}

// KeyDerivationCache memoizes PBKDF2 derivations keyed by
// (password, salt, iterations, key length) so repeated unlocks of the same
// key-file or private index layer don't re-run the KDF. Bounded LRU;
// entries are cleared only by an explicit Invalidate call, which no
// ledger operation (checkpoint restore included) makes.
type KeyDerivationCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []byte]
}

// NewKeyDerivationCache creates a cache holding at most capacity entries.
func NewKeyDerivationCache(capacity int) (*KeyDerivationCache, error) {
	c, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "construct key derivation cache", err)
	}
	return &KeyDerivationCache{cache: c}, nil
}

// Derive returns a cached key if present, otherwise derives, caches, and
// returns it.
func (c *KeyDerivationCache) Derive(password string, salt []byte, cfg *EncryptionConfig) []byte {
	key := cacheKey(password, salt, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cache.Get(key); ok {
		return v
	}
	derived := DeriveKey(password, salt, cfg)
	c.cache.Add(key, derived)
	return derived
}

// Invalidate clears every cached derivation.
func (c *KeyDerivationCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

func cacheKey(password string, salt []byte, cfg *EncryptionConfig) string {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write(salt)
	fmt.Fprintf(h, "%d:%d", cfg.PBKDF2Iterations, cfg.KeyLength)
	return fmt.Sprintf("%x", h.Sum(nil))
}
