package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcledger/arcledger/pkg/crypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), WithEncryptionConfig(&crypto.EncryptionConfig{KeyLength: 256, PBKDF2Iterations: 10000}))
	require.NoError(t, err)
	return s
}

func TestStoreLoadRoundTripUnencrypted(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ref, err := s.Store([]byte("large content payload"), "", signer, "text/plain")
	require.NoError(t, err)
	assert.False(t, ref.Encrypted)
	assert.NotEmpty(t, ref.SHA256)

	loaded, err := s.Load(ref, "")
	require.NoError(t, err)
	assert.Equal(t, "large content payload", string(loaded))
}

func TestStoreLoadRoundTripEncrypted(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ref, err := s.Store([]byte("secret payload"), "a-password", signer, "application/octet-stream")
	require.NoError(t, err)
	assert.True(t, ref.Encrypted)

	loaded, err := s.Load(ref, "a-password")
	require.NoError(t, err)
	assert.Equal(t, "secret payload", string(loaded))
}

func TestLoadEncryptedWrongPassword(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ref, err := s.Store([]byte("secret payload"), "right-password", signer, "")
	require.NoError(t, err)

	_, err = s.Load(ref, "wrong-password")
	assert.Error(t, err)
}

func TestVerifyDetectsMissingFile(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ref := &Ref{FileID: "deadbeef", SHA256: "deadbeef00000000000000000000000000000000000000000000000000000"}
	v := s.Verify(ref, &signer.PublicKey)
	assert.True(t, v.FileMissing)
	assert.False(t, v.OK)
}

func TestVerifySucceedsAfterStore(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ref, err := s.Store([]byte("content"), "", signer, "")
	require.NoError(t, err)

	v := s.Verify(ref, &signer.PublicKey)
	assert.True(t, v.OK)
}

func TestVerifyDetectsWrongSignerKey(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ref, err := s.Store([]byte("content"), "", signer, "")
	require.NoError(t, err)

	v := s.Verify(ref, &other.PublicKey)
	assert.True(t, v.SignatureInvalid)
}

func TestStoreRejectsOversizeBlob(t *testing.T) {
	s, err := New(t.TempDir(), WithMaxSize(10))
	require.NoError(t, err)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	_, err = s.Store([]byte("this payload is definitely over ten bytes"), "", signer, "")
	assert.Error(t, err)
}

func TestStoreIsContentAddressed(t *testing.T) {
	s := newTestStore(t)
	signer, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	refA, err := s.Store([]byte("identical content"), "", signer, "")
	require.NoError(t, err)
	refB, err := s.Store([]byte("identical content"), "", signer, "")
	require.NoError(t, err)

	assert.Equal(t, refA.SHA256, refB.SHA256)
}
