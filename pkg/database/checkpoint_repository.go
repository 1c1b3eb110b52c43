package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Checkpoint is the persisted row shape for a RecoveryCheckpoint.
type Checkpoint struct {
	CheckpointID    string
	Type            string
	Description     string
	LastBlockNumber uint64
	LastBlockHash   string
	TotalBlocks     uint64
	DataSize        int64
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	Status          string
}

// CheckpointRepository provides typed persistence for Checkpoint rows.
type CheckpointRepository struct {
	client *Client
}

// NewCheckpointRepository constructs a CheckpointRepository over client.
func NewCheckpointRepository(client *Client) *CheckpointRepository {
	return &CheckpointRepository{client: client}
}

const checkpointSelectSQL = `
	SELECT checkpoint_id, checkpoint_type, description, last_block_number, last_block_hash,
	       total_blocks, data_size, created_at, expires_at, status
	FROM recovery_checkpoints`

// Insert persists a new checkpoint row.
func (r *CheckpointRepository) Insert(ctx context.Context, c *Checkpoint) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO recovery_checkpoints (
			checkpoint_id, checkpoint_type, description, last_block_number, last_block_hash,
			total_blocks, data_size, created_at, expires_at, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.CheckpointID, c.Type, nullString(c.Description), c.LastBlockNumber, c.LastBlockHash,
		c.TotalBlocks, c.DataSize, c.CreatedAt, c.ExpiresAt, c.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// Get fetches a single checkpoint by id.
func (r *CheckpointRepository) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	row := r.client.QueryRowContext(ctx, checkpointSelectSQL+" WHERE checkpoint_id = $1", checkpointID)
	return scanCheckpoint(row)
}

// UpdateStatus updates a checkpoint's status.
func (r *CheckpointRepository) UpdateStatus(ctx context.Context, checkpointID, status string) error {
	result, err := r.client.ExecContext(ctx,
		"UPDATE recovery_checkpoints SET status = $2 WHERE checkpoint_id = $1", checkpointID, status)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

// List returns every checkpoint ordered by created_at descending.
func (r *CheckpointRepository) List(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := r.client.QueryContext(ctx, checkpointSelectSQL+" ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	c := &Checkpoint{}
	var description sql.NullString
	if err := row.Scan(
		&c.CheckpointID, &c.Type, &description, &c.LastBlockNumber, &c.LastBlockHash,
		&c.TotalBlocks, &c.DataSize, &c.CreatedAt, &c.ExpiresAt, &c.Status,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	c.Description = description.String
	return c, nil
}
