package database

import (
	"context"
	"database/sql/driver"
	"io"
	"log"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClientFromDB(db, WithLogger(log.New(io.Discard, "", 0))), mock
}

func blockColumns() []string {
	return []string{
		"block_number", "previous_hash", "timestamp", "data", "signer_public_key",
		"signature", "hash", "is_encrypted", "encryption_metadata", "category",
		"manual_keywords", "content_category", "recipient_username", "off_chain_ref",
	}
}

func blockRow(n uint64, hash string) []driver.Value {
	return []driver.Value{
		n, "prev", time.Now(), "data", "signer-pem",
		"sig", hash, false, nil, nil,
		nil, nil, nil, nil,
	}
}

func TestBatchRetrieveBlocksIssuesSingleQuery(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	rows := sqlmock.NewRows(blockColumns()).
		AddRow(blockRow(1, "hash1")...).
		AddRow(blockRow(2, "hash2")...).
		AddRow(blockRow(3, "hash3")...)

	mock.ExpectQuery(`(?s)SELECT.*FROM blocks.*WHERE block_number IN \(\$1, \$2, \$3\)`).
		WithArgs(uint64(1), uint64(2), uint64(3)).
		WillReturnRows(rows)

	blocks, err := repo.BatchRetrieveBlocks(context.Background(), []uint64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, blocks, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRetrieveBlocksByHashIssuesSingleQuery(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	rows := sqlmock.NewRows(blockColumns()).AddRow(blockRow(7, "abc")...)

	mock.ExpectQuery(`(?s)SELECT.*FROM blocks.*WHERE hash IN \(\$1, \$2\)`).
		WithArgs("abc", "def").
		WillReturnRows(rows)

	blocks, err := repo.BatchRetrieveBlocksByHash(context.Background(), []string{"abc", "def"})
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRetrieveBlocksEmptyInputSkipsQuery(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	blocks, err := repo.BatchRetrieveBlocks(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, blocks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBlockNotFound(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	mock.ExpectQuery(`(?s)SELECT.*FROM blocks.*WHERE block_number = \$1`).
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows(blockColumns()))

	_, err := repo.GetBlock(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestGetBlockByHash(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	rows := sqlmock.NewRows(blockColumns()).AddRow(blockRow(4, "targethash")...)
	mock.ExpectQuery(`(?s)SELECT.*FROM blocks.*WHERE hash = \$1`).
		WithArgs("targethash").
		WillReturnRows(rows)

	b, err := repo.GetBlockByHash(context.Background(), "targethash")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), b.BlockNumber)
}

func TestInsertBlock(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO blocks`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	sqlTx, err := client.db.Begin()
	require.NoError(t, err)
	tx := &Tx{tx: sqlTx}

	b := &Block{BlockNumber: 5, PreviousHash: "p", Timestamp: time.Now(), Data: "d",
		SignerPublicKey: "k", Signature: "s", Hash: "h"}
	require.NoError(t, repo.Insert(context.Background(), tx, b))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextBlockNumberUsesRowCount(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(uint64(42)))

	n, err := repo.NextBlockNumber(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}

func TestGetBlocksPaginated(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewBlockRepository(client)

	rows := sqlmock.NewRows(blockColumns()).
		AddRow(blockRow(0, "h0")...).
		AddRow(blockRow(1, "h1")...)

	mock.ExpectQuery(`(?s)SELECT.*FROM blocks.*ORDER BY block_number ASC OFFSET \$1 LIMIT \$2`).
		WithArgs(0, 10).
		WillReturnRows(rows)

	blocks, err := repo.GetBlocksPaginated(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

func TestAuthorizedKeyGetEverDeleted(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewAuthorizedKeyRepository(client)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM authorized_keys WHERE public_key = \$1 AND deleted_at IS NOT NULL`).
		WithArgs("pub-key").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	deleted, err := repo.GetEverDeleted(context.Background(), "pub-key")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestAuthorizedKeyRevokeNotFound(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewAuthorizedKeyRepository(client)

	mock.ExpectExec(`(?s)UPDATE authorized_keys SET revoked_at`).
		WithArgs("pub-key", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), "pub-key", time.Now())
	assert.ErrorIs(t, err, ErrAuthorizedKeyNotFound)
}

func TestAuthorizedKeyDeleteSucceeds(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewAuthorizedKeyRepository(client)

	mock.ExpectExec(`(?s)UPDATE authorized_keys SET deleted_at`).
		WithArgs("pub-key", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "pub-key", time.Now()))
}

func TestCountBlocksSignedBy(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewAuthorizedKeyRepository(client)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks WHERE signer_public_key = \$1`).
		WithArgs("pub-key").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountBlocksSignedBy(context.Background(), "pub-key")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCheckpointInsertAndGet(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewCheckpointRepository(client)

	mock.ExpectExec(`(?s)INSERT INTO recovery_checkpoints`).WillReturnResult(sqlmock.NewResult(1, 1))

	c := &Checkpoint{CheckpointID: "cp-1", Type: "manual", LastBlockNumber: 10,
		LastBlockHash: "h", TotalBlocks: 11, CreatedAt: time.Now(), Status: "active"}
	require.NoError(t, repo.Insert(context.Background(), c))

	mock.ExpectQuery(`(?s)SELECT.*FROM recovery_checkpoints.*WHERE checkpoint_id = \$1`).
		WithArgs("cp-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"checkpoint_id", "checkpoint_type", "description", "last_block_number", "last_block_hash",
			"total_blocks", "data_size", "created_at", "expires_at", "status",
		}).AddRow("cp-1", "manual", nil, uint64(10), "h", uint64(11), int64(0), time.Now(), nil, "active"))

	got, err := repo.Get(context.Background(), "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", got.CheckpointID)
}

func TestCheckpointUpdateStatusNotFound(t *testing.T) {
	client, mock := newMockClient(t)
	repo := NewCheckpointRepository(client)

	mock.ExpectExec(`(?s)UPDATE recovery_checkpoints SET status`).
		WithArgs("missing", "expired").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", "expired")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}
