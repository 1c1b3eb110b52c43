// Package blockcrypto encrypts and decrypts a block's data field, wrapping
// plaintext with an "[ENCRYPTED]" marker, the KDF salt and iteration count,
// and an envelope carrying the nonce, ciphertext, and authentication tag.
package blockcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// Marker prefixes every encrypted block's stored data field.
const Marker = "[ENCRYPTED]"

const fieldSep = "|"

// Wrap encrypts plaintext with a key derived from password and returns the
// exact string to store in the block's data field: marker, base64 salt,
// iteration count, and base64-encoded nonce‖ciphertext‖tag envelope, joined
// with "|". associatedData is bound to the
// ciphertext, typically block_number ‖ signer_public.
func Wrap(plaintext []byte, password string, cfg *crypto.EncryptionConfig, associatedData []byte) (data string, salt []byte, err error) {
	salt = make([]byte, 16)
	if _, err = io.ReadFull(rand.Reader, salt); err != nil {
		return "", nil, ledgererr.Wrap(ledgererr.StoreFailed, "generate salt", err)
	}

	key := crypto.DeriveKey(password, salt, cfg)
	sealed, err := crypto.Seal(key, plaintext, associatedData)
	if err != nil {
		return "", nil, err
	}

	envelope := base64.StdEncoding.EncodeToString(sealed)
	saltB64 := base64.StdEncoding.EncodeToString(salt)
	data = Marker + fieldSep + saltB64 + fieldSep + strconv.Itoa(cfg.PBKDF2Iterations) + fieldSep + envelope
	return data, salt, nil
}

// Unwrap decrypts a data field previously produced by Wrap. Returns
// InvalidInput if data does not carry the expected marker and envelope
// shape, and Unauthorized if decryption fails (wrong password or a
// corrupted envelope).
func Unwrap(data string, password string, cfg *crypto.EncryptionConfig, associatedData []byte) ([]byte, error) {
	if !strings.HasPrefix(data, Marker) {
		return nil, ledgererr.New(ledgererr.InvalidInput, "data is not marked as encrypted")
	}

	parts := strings.SplitN(data, fieldSep, 4)
	if len(parts) != 4 {
		return nil, ledgererr.New(ledgererr.InvalidInput, "encrypted envelope is malformed")
	}

	saltB64, iterStr, envelopeB64 := parts[1], parts[2], parts[3]
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "decode salt", err)
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "decode iteration count", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(envelopeB64)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "decode envelope", err)
	}

	effective := *cfg
	effective.PBKDF2Iterations = iterations

	key := crypto.DeriveKey(password, salt, &effective)
	plaintext, err := crypto.Open(key, sealed, associatedData)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.Unauthorized, "incorrect password or corrupted envelope", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether data carries the encrypted marker.
func IsEncrypted(data string) bool {
	return strings.HasPrefix(data, Marker)
}

// AssociatedData builds the canonical AES-GCM associated data:
// block_number ‖ signer_public.
func AssociatedData(blockNumber uint64, signerPublicKey string) []byte {
	return []byte(fmt.Sprintf("%d%s", blockNumber, signerPublicKey))
}
