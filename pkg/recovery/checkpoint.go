// Package recovery implements recovery checkpoints and off-chain blob
// integrity reporting: periodic markers of known-good chain state, and a
// capacity-guarded sweep that verifies every off-chain blob a block
// references is present, correctly signed, and hash-matched.
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/firestore"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// defaultCheckpointTTL is the lifetime CreateCheckpoint gives every new
// checkpoint through ExpiresAt; IsExpired treats a checkpoint with no
// ExpiresAt as never expiring.
const defaultCheckpointTTL = 30 * 24 * time.Hour

// ChainSource is the narrow read surface the recovery package needs from
// the chain engine.
type ChainSource interface {
	GetBlockCount(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, blockNumber uint64) (*database.Block, error)
	GetBlocksPaginated(ctx context.Context, offset, limit int) ([]*database.Block, error)
}

// CheckpointStore is the persistence surface recovery needs for
// checkpoints, satisfied by *database.CheckpointRepository.
type CheckpointStore interface {
	Insert(ctx context.Context, c *database.Checkpoint) error
	Get(ctx context.Context, checkpointID string) (*database.Checkpoint, error)
	UpdateStatus(ctx context.Context, checkpointID, status string) error
	List(ctx context.Context) ([]*database.Checkpoint, error)
}

// Mirror is the optional, best-effort external mirror for checkpoint and
// integrity report summaries. A nil Mirror disables mirroring entirely.
// *firestore.Client satisfies this interface.
type Mirror interface {
	MirrorCheckpoint(ctx context.Context, snap firestore.CheckpointSnapshot) error
	MirrorIntegrityReport(ctx context.Context, snap firestore.IntegritySummarySnapshot) error
}

const (
	CheckpointStatusActive    = "active"
	CheckpointStatusExpired   = "expired"
	CheckpointStatusCorrupted = "corrupted"
	CheckpointStatusConsumed  = "consumed"
)

// Manager coordinates checkpoint creation and lookup against the chain and
// its persisted checkpoint store.
type Manager struct {
	chain      ChainSource
	checkpoints CheckpointStore
	mirror     Mirror
}

// NewManager constructs a checkpoint Manager. mirror may be nil.
func NewManager(chain ChainSource, checkpoints CheckpointStore, mirror Mirror) *Manager {
	return &Manager{chain: chain, checkpoints: checkpoints, mirror: mirror}
}

// CreateCheckpoint snapshots the current chain tip as a new checkpoint.
func (m *Manager) CreateCheckpoint(ctx context.Context, checkpointType, description string) (*database.Checkpoint, error) {
	if checkpointType == "" {
		return nil, ledgererr.New(ledgererr.InvalidInput, "checkpoint type is required")
	}

	count, err := m.chain.GetBlockCount(ctx)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read block count for checkpoint", err)
	}

	var lastHash string
	var lastNumber uint64
	var dataSize int64
	if count > 0 {
		last, err := m.chain.GetBlock(ctx, count-1)
		if err != nil {
			return nil, ledgererr.Wrap(ledgererr.StoreFailed, "read last block for checkpoint", err)
		}
		lastNumber = last.BlockNumber
		lastHash = last.Hash
		dataSize = int64(len(last.Data))
	}

	now := time.Now().UTC()
	expires := now.Add(defaultCheckpointTTL)

	cp := &database.Checkpoint{
		CheckpointID:    uuid.NewString(),
		Type:            checkpointType,
		Description:     description,
		LastBlockNumber: lastNumber,
		LastBlockHash:   lastHash,
		TotalBlocks:     count,
		DataSize:        dataSize,
		CreatedAt:       now,
		ExpiresAt:       &expires,
		Status:          CheckpointStatusActive,
	}

	if err := m.checkpoints.Insert(ctx, cp); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "persist checkpoint", err)
	}

	if m.mirror != nil {
		_ = m.mirror.MirrorCheckpoint(ctx, firestore.CheckpointSnapshot{
			CheckpointID:    cp.CheckpointID,
			Type:            cp.Type,
			Description:     cp.Description,
			LastBlockNumber: cp.LastBlockNumber,
			LastBlockHash:   cp.LastBlockHash,
			TotalBlocks:     cp.TotalBlocks,
			DataSize:        cp.DataSize,
			Status:          cp.Status,
			CreatedAt:       cp.CreatedAt,
		})
	}

	return cp, nil
}

// GetCheckpoint fetches a checkpoint by ID.
func (m *Manager) GetCheckpoint(ctx context.Context, checkpointID string) (*database.Checkpoint, error) {
	return m.checkpoints.Get(ctx, checkpointID)
}

// ListCheckpoints returns every checkpoint ordered by creation time
// descending.
func (m *Manager) ListCheckpoints(ctx context.Context) ([]*database.Checkpoint, error) {
	return m.checkpoints.List(ctx)
}

// SetExpiration marks a checkpoint expired if its TTL has elapsed. Callers
// periodically sweep ListCheckpoints through this to keep Status current.
func (m *Manager) SetExpiration(ctx context.Context, cp *database.Checkpoint) error {
	if !IsExpired(cp) || cp.Status == CheckpointStatusExpired {
		return nil
	}
	return m.checkpoints.UpdateStatus(ctx, cp.CheckpointID, CheckpointStatusExpired)
}

// Consume marks an older checkpoint consumed once a newer checkpoint of
// the same type has taken over as the recovery target.
func (m *Manager) Consume(ctx context.Context, checkpointID string) error {
	return m.checkpoints.UpdateStatus(ctx, checkpointID, CheckpointStatusConsumed)
}

// MarkCorrupted flags a checkpoint whose snapshot no longer matches the
// chain it claims to describe (e.g. a failed restore-from-checkpoint
// verification), so it is never selected as a recovery target again.
func (m *Manager) MarkCorrupted(ctx context.Context, checkpointID string) error {
	return m.checkpoints.UpdateStatus(ctx, checkpointID, CheckpointStatusCorrupted)
}

// IsExpired reports whether cp is past its expiration instant.
func IsExpired(cp *database.Checkpoint) bool {
	if cp.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*cp.ExpiresAt)
}

// IsValid reports whether cp is both active and not expired.
func IsValid(cp *database.Checkpoint) bool {
	return cp.Status == CheckpointStatusActive && !IsExpired(cp)
}

// AgeHours returns how many hours have elapsed since cp was created.
func AgeHours(cp *database.Checkpoint) float64 {
	return time.Since(cp.CreatedAt).Hours()
}
