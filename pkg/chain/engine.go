// Package chain implements the single-writer append-only chain engine: hash
// continuity, signature verification, authorization-at-timestamp
// enforcement, and the authorized-key lifecycle.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcledger/arcledger/pkg/blobstore"
	"github.com/arcledger/arcledger/pkg/blockcrypto"
	"github.com/arcledger/arcledger/pkg/config"
	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// GenesisPreviousHash is the fixed sentinel used as previous_hash for the
// genesis block.
const GenesisPreviousHash = "0"

// IndexEnqueuer is the narrow surface the chain engine uses to notify the
// indexing coordinator of newly appended blocks. Implemented by the
// indexing package; passed in at construction so the engine never reaches
// for a process-wide singleton.
type IndexEnqueuer interface {
	EnqueueUpdate(ctx context.Context, blockNumbers []uint64)
}

// Engine is the single-writer chain engine. All mutating operations hold
// the write side of mu; validation, lookups, and batch retrieval hold the
// read side.
type Engine struct {
	mu sync.RWMutex

	db     *database.Client
	repos  *database.Repositories
	blobs  *blobstore.Store
	index  IndexEnqueuer
	cfg    *config.Config
	enc    *crypto.EncryptionConfig
	logger *log.Logger

	metrics *metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithIndexEnqueuer wires the indexing coordinator into the engine so every
// successful append schedules an incremental index update.
func WithIndexEnqueuer(enq IndexEnqueuer) Option {
	return func(e *Engine) { e.index = enq }
}

// WithEncryptionConfig overrides the default encryption configuration.
func WithEncryptionConfig(cfg *crypto.EncryptionConfig) Option {
	return func(e *Engine) { e.enc = cfg }
}

// WithLogger sets a custom logger for the engine.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetricsRegisterer registers the engine's Prometheus collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics.register(reg) }
}

// NewEngine constructs a chain Engine over db and blobs.
func NewEngine(db *database.Client, blobs *blobstore.Store, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		db:      db,
		repos:   database.NewRepositories(db),
		blobs:   blobs,
		cfg:     cfg,
		enc:     crypto.DefaultEncryptionConfig(),
		logger:  log.New(log.Writer(), "[chain] ", log.LstdFlags),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AppendOptions controls how Append encrypts and stores a new block's data.
type AppendOptions struct {
	Encrypt           bool
	Password          string
	ForceOffChain     bool
	Category          string
	ManualKeywords    string
	ContentCategory   string
	RecipientUsername string
}

// Append writes a new block to the chain, computing its hash, signing it,
// and enforcing authorization-at-timestamp for signerPublicKey.
func (e *Engine) Append(ctx context.Context, data []byte, signerPriv *ecdsa.PrivateKey, signerPub *ecdsa.PublicKey, opts AppendOptions) (*database.Block, error) {
	start := time.Now()
	defer func() { e.metrics.appendLatency.Observe(time.Since(start).Seconds()) }()

	if signerPriv == nil || signerPub == nil {
		return nil, ledgererr.New(ledgererr.InvalidInput, "signer key pair is required")
	}

	signerPubPEM, err := crypto.MarshalPublicKeyPEM(signerPub)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "begin append transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	blockNumber, err := e.repos.Blocks.NextBlockNumber(ctx, tx)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "reserve block number", err)
	}

	previousHash := GenesisPreviousHash
	if blockNumber > 0 {
		prev, err := e.repos.Blocks.GetBlock(ctx, blockNumber-1)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.StoreFailed, "fetch previous block", err)
		}
		previousHash = prev.Hash
	}

	timestamp := time.Now().UTC()

	if err := e.checkAuthorization(ctx, signerPubPEM, blockNumber, timestamp); err != nil {
		return nil, err
	}

	finalData := string(data)
	isEncrypted := false
	var offChainRefJSON []byte
	var orphanedBlob *blobstore.Ref

	if opts.Encrypt {
		associatedData := blockcrypto.AssociatedData(blockNumber, signerPubPEM)
		wrapped, _, err := blockcrypto.Wrap(data, opts.Password, e.enc, associatedData)
		if err != nil {
			return nil, err
		}
		finalData = wrapped
		isEncrypted = true
	}

	inlineCap := e.cfg.InlineContentCap
	if opts.ForceOffChain || len(finalData) > inlineCap {
		ref, err := e.blobs.Store(data, opts.Password, signerPriv, "application/octet-stream")
		if err != nil {
			return nil, err
		}
		orphanedBlob = ref
		refJSON, err := json.Marshal(ref)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.InvalidInput, "marshal off-chain reference", err)
		}
		offChainRefJSON = refJSON
		finalData = fmt.Sprintf("[OFFCHAIN:%s]", ref.FileID)
		isEncrypted = false // data field no longer carries the encrypted-marker envelope
	}

	block := &database.Block{
		BlockNumber:       blockNumber,
		PreviousHash:      previousHash,
		Timestamp:         timestamp,
		Data:              finalData,
		SignerPublicKey:   signerPubPEM,
		IsEncrypted:       isEncrypted,
		Category:          opts.Category,
		ManualKeywords:    opts.ManualKeywords,
		ContentCategory:   opts.ContentCategory,
		RecipientUsername: opts.RecipientUsername,
		OffChainRef:       offChainRefJSON,
	}

	content := canonicalContent(block)
	hash := crypto.SHA256(content)
	block.Hash = fmt.Sprintf("%x", hash)

	sig, err := crypto.Sign(signerPriv, hash[:])
	if err != nil {
		return nil, err
	}
	block.Signature = sig

	if err := e.repos.Blocks.Insert(ctx, tx, block); err != nil {
		e.orphanBlob(orphanedBlob)
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "insert block", err)
	}

	if err := tx.Commit(); err != nil {
		e.orphanBlob(orphanedBlob)
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "commit append transaction", err)
	}
	committed = true

	if e.index != nil {
		e.index.EnqueueUpdate(ctx, []uint64{blockNumber})
	}

	e.metrics.blocksAppended.Inc()
	return block, nil
}

// orphanBlob logs an off-chain blob that was written but whose owning block
// failed to persist. The blob is left in place rather than deleted
// synchronously, since another in-flight append could theoretically
// reference the same content address. Nothing removes it later: no
// background collection of orphaned blobs runs.
func (e *Engine) orphanBlob(ref *blobstore.Ref) {
	if ref == nil {
		return
	}
	e.logger.Printf("orphaned off-chain blob %s after failed append; left in place", ref.FileID)
}

func (e *Engine) checkAuthorization(ctx context.Context, signerPubPEM string, blockNumber uint64, at time.Time) error {
	if blockNumber == 0 {
		// The genesis signer is a fixed, hardcoded bootstrap key, always
		// considered authorized for block_number == 0.
		return nil
	}

	key, err := e.repos.AuthorizedKeys.Get(ctx, signerPubPEM)
	if err != nil {
		return ledgererr.New(ledgererr.Unauthorized, "signer is not an authorized key")
	}
	if !key.IsActiveAt(at) {
		return ledgererr.New(ledgererr.Unauthorized, "signer was not authorized at this timestamp")
	}
	return nil
}

// GetBlock returns a single block by number.
func (e *Engine) GetBlock(ctx context.Context, blockNumber uint64) (*database.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repos.Blocks.GetBlock(ctx, blockNumber)
}

// GetBlockByHash returns a single block by hash.
func (e *Engine) GetBlockByHash(ctx context.Context, hash string) (*database.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repos.Blocks.GetBlockByHash(ctx, hash)
}

// GetBlocksPaginated returns blocks ordered ascending by block_number.
func (e *Engine) GetBlocksPaginated(ctx context.Context, offset, limit int) ([]*database.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repos.Blocks.GetBlocksPaginated(ctx, offset, limit)
}

// GetBlockCount returns the total number of blocks.
func (e *Engine) GetBlockCount(ctx context.Context) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repos.Blocks.GetBlockCount(ctx)
}

// BatchRetrieveBlocks fetches every block in blockNumbers with a single query.
func (e *Engine) BatchRetrieveBlocks(ctx context.Context, blockNumbers []uint64) ([]*database.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repos.Blocks.BatchRetrieveBlocks(ctx, blockNumbers)
}

// Repositories exposes the underlying repositories for components (search,
// recovery) that need direct read access without duplicating queries.
func (e *Engine) Repositories() *database.Repositories {
	return e.repos
}

// BlobStore exposes the underlying off-chain blob store.
func (e *Engine) BlobStore() *blobstore.Store {
	return e.blobs
}

// EncryptionConfig exposes the engine's encryption configuration.
func (e *Engine) EncryptionConfig() *crypto.EncryptionConfig {
	return e.enc
}
