package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	hash := SHA256([]byte("block content"))
	sig, err := Sign(priv, hash[:])
	require.NoError(t, err)

	assert.True(t, Verify(&priv.PublicKey, hash[:], sig))
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	hash := SHA256([]byte("original"))
	sig, err := Sign(priv, hash[:])
	require.NoError(t, err)

	tampered := SHA256([]byte("tampered"))
	assert.False(t, Verify(&priv.PublicKey, tampered[:], sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	hash := SHA256([]byte("data"))
	sig, err := Sign(priv, hash[:])
	require.NoError(t, err)

	assert.False(t, Verify(&other.PublicKey, hash[:], sig))
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	pemStr, err := MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)
	assert.Contains(t, pemStr, "PUBLIC KEY")

	parsed, err := ParsePublicKeyPEM(pemStr)
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey.X, parsed.X)
	assert.Equal(t, priv.PublicKey.Y, parsed.Y)
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("not pem at all")
	assert.Error(t, err)
}

func TestPrivateKeyPKCS8RoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	der, err := MarshalPrivateKeyPKCS8(priv)
	require.NoError(t, err)

	parsed, err := ParsePrivateKeyPKCS8(der)
	require.NoError(t, err)
	assert.Equal(t, priv.D, parsed.D)
}

func TestSHA256Deterministic(t *testing.T) {
	a := SHA256([]byte("hello"))
	b := SHA256([]byte("hello"))
	c := SHA256([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	plaintext := []byte("encrypted block content")

	sealed, err := Seal(key, plaintext, []byte("associated"))
	require.NoError(t, err)

	opened, err := Open(key, sealed, []byte("associated"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenRejectsWrongAssociatedData(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := Seal(key, []byte("secret"), []byte("context-a"))
	require.NoError(t, err)

	_, err = Open(key, sealed, []byte("context-b"))
	assert.Error(t, err)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := Seal(key, []byte("secret"), nil)
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = Open(key, sealed, nil)
	assert.Error(t, err)
}

func TestSealProducesDistinctNoncesEachCall(t *testing.T) {
	key := make([]byte, 32)
	a, err := Seal(key, []byte("same plaintext"), nil)
	require.NoError(t, err)
	b, err := Seal(key, []byte("same plaintext"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ between calls")
}

func TestDeriveKeyDeterministicAndSaltSensitive(t *testing.T) {
	cfg := &EncryptionConfig{KeyLength: 256, PBKDF2Iterations: 10000}
	salt := []byte("fixed-salt-value")

	a := DeriveKey("password", salt, cfg)
	b := DeriveKey("password", salt, cfg)
	assert.Equal(t, a, b)

	c := DeriveKey("password", []byte("different-salt--"), cfg)
	assert.NotEqual(t, a, c)
}

func TestEncryptionConfigValidate(t *testing.T) {
	cfg := DefaultEncryptionConfig()
	assert.NoError(t, cfg.Validate())

	cfg.KeyLength = 64
	assert.Error(t, cfg.Validate())

	cfg = DefaultEncryptionConfig()
	cfg.PBKDF2Iterations = 10
	assert.Error(t, cfg.Validate())
}

func TestEncryptionConfigInteroperable(t *testing.T) {
	a := DefaultEncryptionConfig()
	b := DefaultEncryptionConfig()
	assert.True(t, a.Interoperable(b))

	b.PBKDF2Iterations = a.PBKDF2Iterations + 1
	assert.False(t, a.Interoperable(b))
}

func TestKeyDerivationCacheMemoizes(t *testing.T) {
	cfg := &EncryptionConfig{KeyLength: 256, PBKDF2Iterations: 10000}
	cache, err := NewKeyDerivationCache(8)
	require.NoError(t, err)

	salt := []byte("some-salt-bytes-")
	first := cache.Derive("password", salt, cfg)
	second := cache.Derive("password", salt, cfg)
	assert.Equal(t, first, second)

	cache.Invalidate()
	third := cache.Derive("password", salt, cfg)
	assert.Equal(t, first, third)
}
