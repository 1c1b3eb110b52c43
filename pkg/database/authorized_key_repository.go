package database

import (
	"context"
	"database/sql"
	"fmt"
)

// AuthorizedKeyRepository provides typed persistence for AuthorizedKey rows.
type AuthorizedKeyRepository struct {
	client *Client
}

// NewAuthorizedKeyRepository constructs an AuthorizedKeyRepository over client.
func NewAuthorizedKeyRepository(client *Client) *AuthorizedKeyRepository {
	return &AuthorizedKeyRepository{client: client}
}

const authorizedKeySelectSQL = `
	SELECT public_key, owner_name, created_at, revoked_at, deleted_at
	FROM authorized_keys`

// Insert creates a new authorized key row. public_key is unique; inserting
// a duplicate fails with a constraint violation.
func (r *AuthorizedKeyRepository) Insert(ctx context.Context, tx *Tx, k *AuthorizedKey) error {
	exec := r.client.ExecContext
	if tx != nil {
		exec = tx.Tx().ExecContext
	}
	_, err := exec(ctx, `
		INSERT INTO authorized_keys (public_key, owner_name, created_at, revoked_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		k.PublicKey, k.OwnerName, k.CreatedAt, k.RevokedAt, k.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert authorized key: %w", err)
	}
	return nil
}

// Get fetches a single authorized key by its public key.
func (r *AuthorizedKeyRepository) Get(ctx context.Context, publicKey string) (*AuthorizedKey, error) {
	row := r.client.QueryRowContext(ctx, authorizedKeySelectSQL+" WHERE public_key = $1", publicKey)
	return scanAuthorizedKey(row)
}

// GetEverDeleted reports whether a key with the given public key bytes was
// ever hard-deleted, regardless of whether it currently exists. Re-adding a
// previously deleted key is rejected to preserve audit clarity.
func (r *AuthorizedKeyRepository) GetEverDeleted(ctx context.Context, publicKey string) (bool, error) {
	var count int
	err := r.client.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM authorized_keys WHERE public_key = $1 AND deleted_at IS NOT NULL",
		publicKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check deletion history: %w", err)
	}
	return count > 0, nil
}

// ListActive returns every key that has not been hard-deleted.
func (r *AuthorizedKeyRepository) ListActive(ctx context.Context) ([]*AuthorizedKey, error) {
	rows, err := r.client.QueryContext(ctx, authorizedKeySelectSQL+" WHERE deleted_at IS NULL ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized keys: %w", err)
	}
	defer rows.Close()
	return scanAuthorizedKeys(rows)
}

// Revoke soft-revokes a key, setting revoked_at. A no-op if the key was
// already revoked.
func (r *AuthorizedKeyRepository) Revoke(ctx context.Context, publicKey string, revokedAt interface{}) error {
	result, err := r.client.ExecContext(ctx,
		"UPDATE authorized_keys SET revoked_at = $2 WHERE public_key = $1 AND revoked_at IS NULL",
		publicKey, revokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke authorized key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAuthorizedKeyNotFound
	}
	return nil
}

// Delete hard-deletes a key, setting deleted_at.
func (r *AuthorizedKeyRepository) Delete(ctx context.Context, publicKey string, deletedAt interface{}) error {
	result, err := r.client.ExecContext(ctx,
		"UPDATE authorized_keys SET deleted_at = $2 WHERE public_key = $1 AND deleted_at IS NULL",
		publicKey, deletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to delete authorized key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAuthorizedKeyNotFound
	}
	return nil
}

// CountBlocksSignedBy returns how many blocks were signed by publicKey,
// used for key-deletion impact analysis.
func (r *AuthorizedKeyRepository) CountBlocksSignedBy(ctx context.Context, publicKey string) (int, error) {
	var count int
	err := r.client.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM blocks WHERE signer_public_key = $1", publicKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count blocks signed by key: %w", err)
	}
	return count, nil
}

func scanAuthorizedKey(row rowScanner) (*AuthorizedKey, error) {
	k := &AuthorizedKey{}
	if err := row.Scan(&k.PublicKey, &k.OwnerName, &k.CreatedAt, &k.RevokedAt, &k.DeletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAuthorizedKeyNotFound
		}
		return nil, fmt.Errorf("failed to scan authorized key: %w", err)
	}
	return k, nil
}

func scanAuthorizedKeys(rows *sql.Rows) ([]*AuthorizedKey, error) {
	var keys []*AuthorizedKey
	for rows.Next() {
		k, err := scanAuthorizedKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
