package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// NonceSize is the standard GCM nonce length in bytes.
const NonceSize = 12

// TagSize is the GCM authentication tag length in bytes.
const TagSize = 16

// Seal encrypts plaintext under key with AES-256-GCM, generating a random
// 96-bit nonce, and returns nonce‖ciphertext‖tag. associatedData is bound
// to the ciphertext but not encrypted.
func Seal(key, plaintext, associatedData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "generate nonce", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, associatedData)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open decrypts data previously produced by Seal under the same key and
// associatedData. Returns IntegrityFailed if the tag does not verify.
func Open(key, data, associatedData []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, ledgererr.New(ledgererr.IntegrityFailed, "ciphertext too short")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, sealed := data[:NonceSize], data[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.IntegrityFailed, "decrypt", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "invalid AES key", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "construct GCM", err)
	}
	return gcm, nil
}
