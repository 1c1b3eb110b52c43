// Package search implements the strategy-routed search engine: a pure
// router selects among three strategies based on whether a password is
// present and an explicit mode (result-size hints are accepted but do not
// affect the choice), and each strategy
// composes results from the metadata index and, for deep searches, a
// linear on-chain/off-chain content scan.
package search

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/arcledger/arcledger/pkg/blobstore"
	"github.com/arcledger/arcledger/pkg/blockcrypto"
	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/index"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// Strategy is the tagged sum of search strategies.
type Strategy string

const (
	FastPublic           Strategy = "fast_public"
	AuthenticatedPrivate Strategy = "authenticated_private"
	DeepContent          Strategy = "deep_content"
)

// Layer identifies where a result's match was found.
type Layer string

const (
	LayerPublic   Layer = "public"
	LayerPrivate  Layer = "private"
	LayerContent  Layer = "content"
	LayerOffChain Layer = "off_chain"
)

// Hints travel with a Query into SelectStrategy, which ignores them.
type Hints struct {
	ResultSizeHint int
}

// SelectStrategy is a pure function of inputs: whether a password is
// present and an explicit mode override. The hints argument is accepted
// and ignored; result-size hints never change the selected strategy. An
// explicit mode always wins; otherwise presence of a password selects the
// authenticated strategy over fast-public.
func SelectStrategy(hasPassword bool, mode Strategy, _ Hints) Strategy {
	if mode != "" {
		return mode
	}
	if hasPassword {
		return AuthenticatedPrivate
	}
	return FastPublic
}

// Query describes a single search request.
type Query struct {
	Term               string
	Password           string
	Mode               Strategy
	Hints              Hints
	OffChainSizeLimit  int64 // blobs larger than this are skipped during deep-content scan
}

// Result is a single matched block.
type Result struct {
	BlockNumber  uint64
	MatchedTerms []string
	Layer        Layer
	Score        float64
}

// Response is the outcome of a Search call.
type Response struct {
	Strategy  Strategy
	Results   []Result
	Truncated bool
}

// BlockSource is the narrow read surface the search engine needs from the
// chain engine.
type BlockSource interface {
	GetBlocksPaginated(ctx context.Context, offset, limit int) ([]*database.Block, error)
	GetBlockCount(ctx context.Context) (uint64, error)
	BatchRetrieveBlocks(ctx context.Context, blockNumbers []uint64) ([]*database.Block, error)
}

// Engine composes the index, chain, and blob store into ranked search
// results. It takes every dependency at construction; there is no
// zero-argument constructor that produces a non-functional instance.
type Engine struct {
	idx    *index.Index
	chain  BlockSource
	blobs  *blobstore.Store
	enc    *crypto.EncryptionConfig
}

// New constructs a search Engine. All four dependencies are required.
func New(idx *index.Index, chainSource BlockSource, blobs *blobstore.Store, enc *crypto.EncryptionConfig) *Engine {
	return &Engine{idx: idx, chain: chainSource, blobs: blobs, enc: enc}
}

// Search routes q to the strategy selected by SelectStrategy and returns
// ranked results. Deep-content searches observe ctx for cancellation
// between batches; a cancelled search returns its partial results with
// Truncated set.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	if strings.TrimSpace(q.Term) == "" {
		return nil, ledgererr.New(ledgererr.InvalidInput, "search term is required")
	}

	strategy := SelectStrategy(q.Password != "", q.Mode, q.Hints)
	term := strings.ToLower(strings.TrimSpace(q.Term))

	public, err := e.publicResults(term)
	if err != nil {
		return nil, err
	}
	results := public

	if strategy == AuthenticatedPrivate || strategy == DeepContent {
		if q.Password == "" {
			return nil, ledgererr.New(ledgererr.Unauthorized, "password required for this search strategy")
		}
		private, err := e.privateResults(q.Password, term)
		if err != nil {
			return nil, err
		}
		results = mergeResults(results, private)
	}

	truncated := false
	if strategy == DeepContent {
		content, offChain, tr, err := e.deepContentScan(ctx, q.Password, term, q.OffChainSizeLimit)
		if err != nil {
			return nil, err
		}
		results = mergeResults(results, content)
		results = mergeResults(results, offChain)
		truncated = tr
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	return &Response{Strategy: strategy, Results: results, Truncated: truncated}, nil
}

func (e *Engine) publicResults(term string) ([]Result, error) {
	postings, err := e.idx.PublicLookup(term)
	if err != nil {
		return nil, err
	}
	return postingsToResults(postings, term, LayerPublic, rarityScore(len(postings))), nil
}

func (e *Engine) privateResults(password, term string) ([]Result, error) {
	postings, err := e.idx.PrivateLookup(password, term)
	if err != nil {
		return nil, err
	}
	return postingsToResults(postings, term, LayerPrivate, rarityScore(len(postings))), nil
}

// rarityScore implements the deterministic TF-style weighting: rarer layers
// (fewer postings) score higher per match.
func rarityScore(postingCount int) float64 {
	if postingCount <= 0 {
		return 1.0
	}
	return 1.0 / float64(postingCount)
}

func postingsToResults(postings []uint64, term string, layer Layer, score float64) []Result {
	results := make([]Result, 0, len(postings))
	for _, n := range postings {
		results = append(results, Result{
			BlockNumber:  n,
			MatchedTerms: []string{term},
			Layer:        layer,
			Score:        score,
		})
	}
	return results
}

func mergeResults(a, b []Result) []Result {
	byBlock := make(map[uint64]*Result, len(a)+len(b))
	var order []uint64
	for _, r := range append(append([]Result{}, a...), b...) {
		r := r
		if existing, ok := byBlock[r.BlockNumber]; ok {
			existing.Score += r.Score
			existing.MatchedTerms = dedupeTerms(append(existing.MatchedTerms, r.MatchedTerms...))
			continue
		}
		byBlock[r.BlockNumber] = &r
		order = append(order, r.BlockNumber)
	}
	out := make([]Result, 0, len(order))
	for _, n := range order {
		out = append(out, *byBlock[n])
	}
	return out
}

func dedupeTerms(terms []string) []string {
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

// deepContentScan linearly scans on-chain content (decrypting where
// possible with password) and off-chain blobs smaller than sizeLimit,
// observing ctx between pages.
func (e *Engine) deepContentScan(ctx context.Context, password, term string, sizeLimit int64) (content, offChain []Result, truncated bool, err error) {
	count, err := e.chain.GetBlockCount(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	const pageSize = 200
	for offset := uint64(0); offset < count; offset += pageSize {
		select {
		case <-ctx.Done():
			return content, offChain, true, nil
		default:
		}

		blocks, err := e.chain.GetBlocksPaginated(ctx, int(offset), pageSize)
		if err != nil {
			return nil, nil, false, err
		}

		for _, b := range blocks {
			plaintext, ok := e.plaintextFor(b, password)
			if ok && strings.Contains(strings.ToLower(plaintext), term) {
				content = append(content, Result{
					BlockNumber:  b.BlockNumber,
					MatchedTerms: []string{term},
					Layer:        LayerContent,
					Score:        0.5,
				})
			}

			if len(b.OffChainRef) > 0 {
				matched, err := e.scanOffChainBlob(b, password, term, sizeLimit)
				if err == nil && matched {
					offChain = append(offChain, Result{
						BlockNumber:  b.BlockNumber,
						MatchedTerms: []string{term},
						Layer:        LayerOffChain,
						Score:        0.5,
					})
				}
			}
		}
	}
	return content, offChain, false, nil
}

func (e *Engine) plaintextFor(b *database.Block, password string) (string, bool) {
	if !b.IsEncrypted {
		return b.Data, true
	}
	associatedData := blockcrypto.AssociatedData(b.BlockNumber, b.SignerPublicKey)
	plaintext, err := blockcrypto.Unwrap(b.Data, password, e.enc, associatedData)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}

func (e *Engine) scanOffChainBlob(b *database.Block, password, term string, sizeLimit int64) (bool, error) {
	ref, err := decodeRef(b.OffChainRef)
	if err != nil {
		return false, err
	}
	if sizeLimit > 0 && ref.Size > sizeLimit {
		return false, nil
	}
	data, err := e.blobs.Load(ref, password)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(string(data)), term), nil
}

func decodeRef(raw []byte) (*blobstore.Ref, error) {
	var ref blobstore.Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "decode off-chain reference", err)
	}
	return &ref, nil
}
