package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// BlockRepository provides typed persistence for Block rows, including
// batch retrieval that issues exactly one query regardless of batch size.
type BlockRepository struct {
	client *Client
}

// NewBlockRepository constructs a BlockRepository over client.
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// NextBlockNumber atomically reserves and returns the next block number.
// It relies on the current row count rather than a separate sequence so a
// fresh chain starts at zero without pre-seeding.
func (r *BlockRepository) NextBlockNumber(ctx context.Context, tx *Tx) (uint64, error) {
	var count uint64
	row := r.queryRow(ctx, tx, "SELECT COUNT(*) FROM blocks")
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to compute next block number: %w", err)
	}
	return count, nil
}

// Insert persists a new block row within tx.
func (r *BlockRepository) Insert(ctx context.Context, tx *Tx, b *Block) error {
	_, err := tx.Tx().ExecContext(ctx, `
		INSERT INTO blocks (
			block_number, previous_hash, "timestamp", data, signer_public_key,
			signature, hash, is_encrypted, encryption_metadata, category,
			manual_keywords, content_category, recipient_username, off_chain_ref
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.BlockNumber, b.PreviousHash, b.Timestamp, b.Data, b.SignerPublicKey,
		b.Signature, b.Hash, b.IsEncrypted, b.EncryptionMetadata, nullString(b.Category),
		nullString(b.ManualKeywords), nullString(b.ContentCategory), nullString(b.RecipientUsername), b.OffChainRef,
	)
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}
	return nil
}

// GetBlock fetches a single block by number.
func (r *BlockRepository) GetBlock(ctx context.Context, blockNumber uint64) (*Block, error) {
	row := r.client.QueryRowContext(ctx, blockSelectSQL+" WHERE block_number = $1", blockNumber)
	return scanBlock(row)
}

// GetBlockByHash fetches a single block by its hash.
func (r *BlockRepository) GetBlockByHash(ctx context.Context, hash string) (*Block, error) {
	row := r.client.QueryRowContext(ctx, blockSelectSQL+" WHERE hash = $1", hash)
	return scanBlock(row)
}

// GetBlocksPaginated returns blocks ordered by block_number ascending.
func (r *BlockRepository) GetBlocksPaginated(ctx context.Context, offset, limit int) ([]*Block, error) {
	rows, err := r.client.QueryContext(ctx,
		blockSelectSQL+" ORDER BY block_number ASC OFFSET $1 LIMIT $2", offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// GetBlockCount returns the total number of blocks.
func (r *BlockRepository) GetBlockCount(ctx context.Context) (uint64, error) {
	var count uint64
	if err := r.client.QueryRowContext(ctx, "SELECT COUNT(*) FROM blocks").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// BatchRetrieveBlocks fetches every block in blockNumbers with a single
// IN-clause query, never one lookup per element. Results are ordered
// ascending by block_number.
func (r *BlockRepository) BatchRetrieveBlocks(ctx context.Context, blockNumbers []uint64) ([]*Block, error) {
	if len(blockNumbers) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(blockNumbers))
	args := make([]interface{}, len(blockNumbers))
	for i, n := range blockNumbers {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = n
	}

	query := blockSelectSQL + " WHERE block_number IN (" + strings.Join(placeholders, ", ") + ") ORDER BY block_number ASC"
	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch retrieve blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// BatchRetrieveBlocksByHash fetches every block in hashes with a single
// IN-clause query.
func (r *BlockRepository) BatchRetrieveBlocksByHash(ctx context.Context, hashes []string) ([]*Block, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(hashes))
	args := make([]interface{}, len(hashes))
	for i, h := range hashes {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = h
	}

	query := blockSelectSQL + " WHERE hash IN (" + strings.Join(placeholders, ", ") + ") ORDER BY block_number ASC"
	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch retrieve blocks by hash: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// GetEncryptedBlocksPaginated returns encrypted blocks ordered by block_number.
func (r *BlockRepository) GetEncryptedBlocksPaginated(ctx context.Context, offset, limit int) ([]*Block, error) {
	rows, err := r.client.QueryContext(ctx,
		blockSelectSQL+" WHERE is_encrypted = true ORDER BY block_number ASC OFFSET $1 LIMIT $2", offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query encrypted blocks: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// GetBlocksWithOffChainDataPaginated returns blocks that reference off-chain
// blobs, ordered by block_number.
func (r *BlockRepository) GetBlocksWithOffChainDataPaginated(ctx context.Context, offset, limit int) ([]*Block, error) {
	rows, err := r.client.QueryContext(ctx,
		blockSelectSQL+" WHERE off_chain_ref IS NOT NULL ORDER BY block_number ASC OFFSET $1 LIMIT $2", offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks with off-chain data: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

const blockSelectSQL = `
	SELECT block_number, previous_hash, "timestamp", data, signer_public_key,
	       signature, hash, is_encrypted, encryption_metadata, category,
	       manual_keywords, content_category, recipient_username, off_chain_ref
	FROM blocks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBlock(row rowScanner) (*Block, error) {
	b := &Block{}
	var category, keywords, contentCategory, recipient sql.NullString
	if err := row.Scan(
		&b.BlockNumber, &b.PreviousHash, &b.Timestamp, &b.Data, &b.SignerPublicKey,
		&b.Signature, &b.Hash, &b.IsEncrypted, &b.EncryptionMetadata, &category,
		&keywords, &contentCategory, &recipient, &b.OffChainRef,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("failed to scan block: %w", err)
	}
	b.Category = category.String
	b.ManualKeywords = keywords.String
	b.ContentCategory = contentCategory.String
	b.RecipientUsername = recipient.String
	return b, nil
}

func scanBlocks(rows *sql.Rows) ([]*Block, error) {
	var blocks []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r *BlockRepository) queryRow(ctx context.Context, tx *Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.Tx().QueryRowContext(ctx, query, args...)
	}
	return r.client.QueryRowContext(ctx, query, args...)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
