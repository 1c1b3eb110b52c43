package chain

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcledger/arcledger/pkg/blobstore"
	"github.com/arcledger/arcledger/pkg/config"
	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		InlineContentCap: 1024,
	}
}

func testBlobStore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.New(t.TempDir(), blobstore.WithEncryptionConfig(&crypto.EncryptionConfig{KeyLength: 256, PBKDF2Iterations: 10000}))
	require.NoError(t, err)
	return s
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := database.NewClientFromDB(db, database.WithLogger(log.New(io.Discard, "", 0)))
	e := NewEngine(client, testBlobStore(t), testConfig(t), WithLogger(log.New(io.Discard, "", 0)))
	return e, mock
}

func blockCols() []string {
	return []string{
		"block_number", "previous_hash", "timestamp", "data", "signer_public_key",
		"signature", "hash", "is_encrypted", "encryption_metadata", "category",
		"manual_keywords", "content_category", "recipient_username", "off_chain_ref",
	}
}

func TestAppendGenesisBlockSkipsAuthorizationCheck(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(uint64(0)))
	mock.ExpectExec(`(?s)INSERT INTO blocks`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	block, err := e.Append(context.Background(), []byte("genesis payload"), signer, &signer.PublicKey, AppendOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block.BlockNumber)
	assert.Equal(t, GenesisPreviousHash, block.PreviousHash)
	assert.NotEmpty(t, block.Hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRejectsUnauthorizedSigner(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(uint64(1)))
	mock.ExpectQuery(`(?s)SELECT.*FROM blocks.*WHERE block_number = \$1`).
		WithArgs(uint64(0)).
		WillReturnRows(sqlmock.NewRows(blockCols()).AddRow(
			uint64(0), GenesisPreviousHash, time.Now(), "d", "signer-pem",
			"sig", "prevhash", false, nil, nil, nil, nil, nil, nil))
	mock.ExpectQuery(`(?s)SELECT.*FROM authorized_keys.*WHERE public_key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"public_key", "owner_name", "created_at", "revoked_at", "deleted_at"}))
	mock.ExpectRollback()

	_, err = e.Append(context.Background(), []byte("payload"), signer, &signer.PublicKey, AppendOptions{})
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.Unauthorized))
}

func TestAppendForcesOffChainAboveInlineCap(t *testing.T) {
	e, mock := newTestEngine(t)
	e.cfg.InlineContentCap = 4
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(uint64(0)))
	mock.ExpectExec(`(?s)INSERT INTO blocks`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	block, err := e.Append(context.Background(), []byte("payload too large for inline storage"), signer, &signer.PublicKey, AppendOptions{})
	require.NoError(t, err)
	assert.False(t, block.IsEncrypted)
	assert.NotEmpty(t, block.OffChainRef)
	assert.Contains(t, block.Data, "[OFFCHAIN:")
}

func TestValidateBlockDetectsHashMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signerPEM, err := crypto.MarshalPublicKeyPEM(&signer.PublicKey)
	require.NoError(t, err)

	b := &database.Block{
		BlockNumber: 0, PreviousHash: GenesisPreviousHash, Timestamp: time.Now(),
		Data: "original", SignerPublicKey: signerPEM,
	}
	content := canonicalContent(b)
	hash := crypto.SHA256(content)
	sig, err := crypto.Sign(signer, hash[:])
	require.NoError(t, err)
	b.Signature = sig
	b.Hash = "0000000000000000000000000000000000000000000000000000000000000"

	result := e.ValidateBlock(context.Background(), b)
	assert.Equal(t, StatusHashMismatch, result.Status)
	assert.True(t, result.StructurallyValid)
	assert.False(t, result.HashValid)
}

func TestValidateBlockAcceptsGenesisWithoutAuthorizationLookup(t *testing.T) {
	e, _ := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signerPEM, err := crypto.MarshalPublicKeyPEM(&signer.PublicKey)
	require.NoError(t, err)

	b := &database.Block{
		BlockNumber: 0, PreviousHash: GenesisPreviousHash, Timestamp: time.Now(),
		Data: "genesis", SignerPublicKey: signerPEM,
	}
	content := canonicalContent(b)
	hash := crypto.SHA256(content)
	b.Hash = fmt.Sprintf("%x", hash)
	sig, err := crypto.Sign(signer, hash[:])
	require.NoError(t, err)
	b.Signature = sig

	result := e.ValidateBlock(context.Background(), b)
	assert.Equal(t, StatusValid, result.Status)
	assert.True(t, result.AuthorizationValid)
}

func TestValidateBlockRejectsForceDeletedSigner(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signerPEM, err := crypto.MarshalPublicKeyPEM(&signer.PublicKey)
	require.NoError(t, err)

	b := &database.Block{
		BlockNumber: 1, PreviousHash: "prevhash", Timestamp: time.Now(),
		Data: "payload", SignerPublicKey: signerPEM,
	}
	content := canonicalContent(b)
	hash := crypto.SHA256(content)
	b.Hash = fmt.Sprintf("%x", hash)
	sig, err := crypto.Sign(signer, hash[:])
	require.NoError(t, err)
	b.Signature = sig

	deletedAt := time.Now()
	mock.ExpectQuery(`(?s)SELECT.*FROM authorized_keys.*WHERE public_key = \$1`).
		WithArgs(signerPEM).
		WillReturnRows(sqlmock.NewRows([]string{"public_key", "owner_name", "created_at", "revoked_at", "deleted_at"}).
			AddRow(signerPEM, "alice", time.Now().Add(-time.Hour), nil, deletedAt))

	result := e.ValidateBlock(context.Background(), b)
	assert.Equal(t, StatusAuthorizationInvalid, result.Status)
	assert.False(t, result.AuthorizationValid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAuthorizedKeyRejectsReAddOfDeletedKey(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM authorized_keys WHERE public_key = \$1 AND deleted_at IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err = e.AddAuthorizedKey(context.Background(), &signer.PublicKey, "alice")
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidInput))
}

func TestAddAuthorizedKeySucceedsForNewKey(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM authorized_keys WHERE public_key = \$1 AND deleted_at IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`(?s)INSERT INTO authorized_keys`).WillReturnResult(sqlmock.NewResult(1, 1))

	err = e.AddAuthorizedKey(context.Background(), &signer.PublicKey, "alice")
	require.NoError(t, err)
}

func TestDeleteAuthorizedKeyRequiresForceWhenBlocksAffected(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks WHERE signer_public_key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	err = e.DeleteAuthorizedKey(context.Background(), &signer.PublicKey, false, "")
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidInput))
}

func TestDeleteAuthorizedKeyRequiresReasonWhenForced(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks WHERE signer_public_key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	err = e.DeleteAuthorizedKey(context.Background(), &signer.PublicKey, true, "")
	require.Error(t, err)
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidInput))
}

func TestDeleteAuthorizedKeySucceedsWhenForcedWithReason(t *testing.T) {
	e, mock := newTestEngine(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\) FROM blocks WHERE signer_public_key = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectExec(`(?s)UPDATE authorized_keys SET deleted_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = e.DeleteAuthorizedKey(context.Background(), &signer.PublicKey, true, "key compromised")
	require.NoError(t, err)
}
