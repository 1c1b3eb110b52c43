// Package crypto provides the cryptographic primitives shared by the
// key-file store, block encryption layer, and off-chain blob store:
// P-256 ECDSA signing, SHA-256 hashing, AES-256-GCM AEAD, and
// PBKDF2-HMAC-SHA256 key derivation.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// GenerateKeyPair creates a new P-256 ECDSA key pair.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "generate key pair", err)
	}
	return priv, nil
}

// MarshalPublicKeyPEM encodes a public key as a PEM block, which the ledger
// stores verbatim as a block's signer_public_key field.
func MarshalPublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", ledgererr.Wrap(ledgererr.InvalidInput, "marshal public key", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ParsePublicKeyPEM decodes a PEM-encoded P-256 public key.
func ParsePublicKeyPEM(s string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ledgererr.New(ledgererr.InvalidInput, "public key is not valid PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "parse public key", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, ledgererr.New(ledgererr.InvalidInput, "public key is not ECDSA")
	}
	return pub, nil
}

// MarshalPrivateKeyPKCS8 encodes a private key as PKCS#8 DER, the plaintext
// form stored (encrypted) in a key-file.
func MarshalPrivateKeyPKCS8(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "marshal private key", err)
	}
	return der, nil
}

// ParsePrivateKeyPKCS8 decodes a PKCS#8 DER-encoded private key.
func ParsePrivateKeyPKCS8(der []byte) (*ecdsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "parse private key", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ledgererr.New(ledgererr.InvalidInput, "private key is not ECDSA")
	}
	return priv, nil
}

// Sign produces a detached ASN.1 ECDSA signature over hash, base64-encoded
// for storage in a block's signature field.
func Sign(priv *ecdsa.PrivateKey, hash []byte) (string, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, priv, hash)
	if err != nil {
		return "", ledgererr.Wrap(ledgererr.SignatureInvalid, "sign hash", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64-encoded detached ECDSA signature over hash.
func Verify(pub *ecdsa.PublicKey, hash []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1(pub, hash, sig)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
