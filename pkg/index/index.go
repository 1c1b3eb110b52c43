// Package index implements the two-layer searchable metadata index: a
// public plaintext inverted index over keywords, category, and bucketed
// timestamps, and a password-protected private index whose posting lists
// are AES-GCM encrypted and keyed by an HMAC fingerprint of each term.
package index

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/kvdb"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

const (
	publicPrefix      = "pub:"
	privatePrefix     = "priv:"
	privateSaltKey    = "priv:salt"
)

// Index is the two-layer inverted index, backed by a cometbft-db key-value
// store. A single Index instance owns both layers; layers are rebuilt and
// queried independently.
type Index struct {
	mu  sync.RWMutex
	kv  *kvdb.KVAdapter
	enc *crypto.EncryptionConfig
}

// New constructs an Index over the given key-value adapter.
func New(kv *kvdb.KVAdapter, enc *crypto.EncryptionConfig) *Index {
	return &Index{kv: kv, enc: enc}
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize splits free text into normalized lowercase tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// PublicTermsFor derives the public-layer tokens for a block: category,
// manual keywords, and a day-granularity timestamp bucket.
func PublicTermsFor(category, manualKeywords string, dayBucket string) []string {
	var terms []string
	terms = append(terms, Tokenize(category)...)
	terms = append(terms, Tokenize(manualKeywords)...)
	if dayBucket != "" {
		terms = append(terms, "date:"+dayBucket)
	}
	return dedupe(terms)
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ============================================================================
// PUBLIC LAYER
// ============================================================================

// AddPublicTerm appends blockNumber to term's posting list.
func (idx *Index) AddPublicTerm(term string, blockNumber uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := []byte(publicPrefix + term)
	postings, err := idx.loadPostings(key)
	if err != nil {
		return err
	}
	postings = addSorted(postings, blockNumber)
	return idx.savePostings(key, postings)
}

// PublicLookup returns the posting list for term, or an empty set if absent.
func (idx *Index) PublicLookup(term string) ([]uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.loadPostings([]byte(publicPrefix + term))
}

func (idx *Index) loadPostings(key []byte) ([]uint64, error) {
	raw, err := idx.kv.Get(key)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read index postings", err)
	}
	if raw == nil {
		return nil, nil
	}
	var postings []uint64
	if err := json.Unmarshal(raw, &postings); err != nil {
		return nil, ledgererr.Wrap(ledgererr.IntegrityFailed, "decode index postings", err)
	}
	return postings, nil
}

func (idx *Index) savePostings(key []byte, postings []uint64) error {
	raw, err := json.Marshal(postings)
	if err != nil {
		return ledgererr.Wrap(ledgererr.InvalidInput, "encode index postings", err)
	}
	if err := idx.kv.Set(key, raw); err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "write index postings", err)
	}
	return nil
}

func addSorted(postings []uint64, n uint64) []uint64 {
	i := sort.Search(len(postings), func(i int) bool { return postings[i] >= n })
	if i < len(postings) && postings[i] == n {
		return postings
	}
	postings = append(postings, 0)
	copy(postings[i+1:], postings[i:])
	postings[i] = n
	return postings
}

// ============================================================================
// PRIVATE LAYER
// ============================================================================

func (idx *Index) privateSalt() ([]byte, error) {
	raw, err := idx.kv.Get([]byte(privateSaltKey))
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read private index salt", err)
	}
	if raw != nil {
		return raw, nil
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "generate private index salt", err)
	}
	if err := idx.kv.Set([]byte(privateSaltKey), salt); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "persist private index salt", err)
	}
	return salt, nil
}

// passwordKey derives the per-password symmetric key used for both
// fingerprinting terms (HMAC) and encrypting posting lists (AES-GCM).
func (idx *Index) passwordKey(password string) ([]byte, error) {
	salt, err := idx.privateSalt()
	if err != nil {
		return nil, err
	}
	return crypto.DeriveKey(password, salt, idx.enc), nil
}

func fingerprint(passwordKey []byte, term string) string {
	mac := hmac.New(sha256.New, passwordKey)
	mac.Write([]byte(term))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// AddPrivateTerm appends blockNumber to term's encrypted posting list,
// fingerprinted and keyed under password.
func (idx *Index) AddPrivateTerm(password, term string, blockNumber uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key, err := idx.passwordKey(password)
	if err != nil {
		return err
	}
	fp := fingerprint(key, term)
	storeKey := []byte(privatePrefix + fp)

	postings, err := idx.loadEncryptedPostings(storeKey, key)
	if err != nil {
		return err
	}
	postings = addSorted(postings, blockNumber)
	return idx.saveEncryptedPostings(storeKey, key, postings)
}

// PrivateLookup decrypts and returns the posting list for term under
// password. A wrong password silently yields an empty result rather than
// an error, since a lookup and an unlock are the same operation here.
func (idx *Index) PrivateLookup(password, term string) ([]uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	key, err := idx.passwordKey(password)
	if err != nil {
		return nil, err
	}
	fp := fingerprint(key, term)
	return idx.loadEncryptedPostings([]byte(privatePrefix+fp), key)
}

func (idx *Index) loadEncryptedPostings(key, passwordKey []byte) ([]uint64, error) {
	sealed, err := idx.kv.Get(key)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read encrypted index postings", err)
	}
	if sealed == nil {
		return nil, nil
	}
	raw, err := crypto.Open(passwordKey, sealed, nil)
	if err != nil {
		// Wrong password or different fingerprint namespace collision; treat
		// as "no postings" rather than surfacing a cryptographic error from
		// a read path.
		return nil, nil
	}
	var postings []uint64
	if err := json.Unmarshal(raw, &postings); err != nil {
		return nil, ledgererr.Wrap(ledgererr.IntegrityFailed, "decode encrypted index postings", err)
	}
	return postings, nil
}

func (idx *Index) saveEncryptedPostings(key, passwordKey []byte, postings []uint64) error {
	raw, err := json.Marshal(postings)
	if err != nil {
		return ledgererr.Wrap(ledgererr.InvalidInput, "encode index postings", err)
	}
	sealed, err := crypto.Seal(passwordKey, raw, nil)
	if err != nil {
		return err
	}
	if err := idx.kv.Set(key, sealed); err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "write encrypted index postings", err)
	}
	return nil
}

// ctxDone is a small helper so rebuild loops can observe cancellation
// between pages without importing context in every call site.
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
