package chain

import (
	"context"
	"fmt"

	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
)

// BlockStatus classifies a single block's validation outcome.
type BlockStatus string

const (
	StatusValid                BlockStatus = "valid"
	StatusStructurallyInvalid  BlockStatus = "structurally_invalid"
	StatusAuthorizationInvalid BlockStatus = "authorization_invalid"
	StatusOffChainMissing      BlockStatus = "off_chain_missing"
	StatusHashMismatch         BlockStatus = "hash_mismatch"
)

// BlockValidationResult independently flags the structural, cryptographic,
// authorization, and off-chain aspects of a single block.
type BlockValidationResult struct {
	BlockNumber         uint64
	Status              BlockStatus
	StructurallyValid   bool
	HashValid           bool
	SignatureValid      bool
	AuthorizationValid  bool
	OffChainValid       bool
	Detail              string
}

// Report is the outcome of validating the full chain.
type Report struct {
	TotalBlocks int
	ValidBlocks int
	Results     []BlockValidationResult
}

// Valid reports whether every block validated successfully.
func (r *Report) Valid() bool {
	return r.TotalBlocks == r.ValidBlocks
}

// canonicalContent builds the byte sequence hashed to produce a block's
// hash. Plain and encrypted blocks share one builder: b.Data already holds
// whichever form (plaintext, [ENCRYPTED] envelope, or [OFFCHAIN:] marker)
// was chosen at append time, so it is always hashed verbatim regardless of
// is_encrypted. The field is consulted elsewhere (index rebuild, deep
// content search) to decide whether the data must be decrypted.
func canonicalContent(b *database.Block) []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s",
		b.BlockNumber, b.PreviousHash, b.Timestamp.Format("2006-01-02T15:04:05.999999Z07:00"), b.Data, b.SignerPublicKey))
}

// ValidateBlock independently checks structure, hash, signature,
// authorization, and off-chain reference for a single block.
func (e *Engine) ValidateBlock(ctx context.Context, b *database.Block) BlockValidationResult {
	result := BlockValidationResult{BlockNumber: b.BlockNumber}

	if b.SignerPublicKey == "" || b.Hash == "" || b.Signature == "" {
		result.Status = StatusStructurallyInvalid
		result.Detail = "missing required field"
		return result
	}
	result.StructurallyValid = true

	content := canonicalContent(b)
	expectedHash := fmt.Sprintf("%x", crypto.SHA256(content))
	result.HashValid = expectedHash == b.Hash
	if !result.HashValid {
		result.Status = StatusHashMismatch
		result.Detail = "recomputed hash does not match stored hash"
		return result
	}

	signerPub, err := crypto.ParsePublicKeyPEM(b.SignerPublicKey)
	if err != nil {
		result.Status = StatusStructurallyInvalid
		result.Detail = "invalid signer public key"
		return result
	}
	hashBytes := crypto.SHA256(content)
	result.SignatureValid = crypto.Verify(signerPub, hashBytes[:], b.Signature)
	if !result.SignatureValid {
		result.Status = StatusHashMismatch
		result.Detail = "signature does not verify over the recomputed hash"
		return result
	}

	if err := e.checkAuthorization(ctx, b.SignerPublicKey, b.BlockNumber, b.Timestamp); err != nil {
		result.AuthorizationValid = false
		result.Status = StatusAuthorizationInvalid
		result.Detail = "signer was not authorized at this block's timestamp"
		return result
	}
	result.AuthorizationValid = true

	if len(b.OffChainRef) > 0 {
		result.OffChainValid = e.validateOffChainRef(b)
		if !result.OffChainValid {
			result.Status = StatusOffChainMissing
			result.Detail = "off-chain blob failed integrity verification"
			return result
		}
	} else {
		result.OffChainValid = true
	}

	result.Status = StatusValid
	return result
}

func (e *Engine) validateOffChainRef(b *database.Block) bool {
	ref, err := decodeOffChainRef(b.OffChainRef)
	if err != nil {
		return false
	}
	signerPub, err := crypto.ParsePublicKeyPEM(b.SignerPublicKey)
	if err != nil {
		return false
	}
	v := e.blobs.Verify(ref, signerPub)
	return v.OK
}

// ValidateChain validates every block independently; a single bad block is
// reported without aborting validation of the rest.
func (e *Engine) ValidateChain(ctx context.Context) (*Report, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count, err := e.repos.Blocks.GetBlockCount(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{TotalBlocks: int(count)}

	const pageSize = 500
	var previous *database.Block
	for offset := uint64(0); offset < count; offset += pageSize {
		blocks, err := e.repos.Blocks.GetBlocksPaginated(ctx, int(offset), pageSize)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			result := e.ValidateBlock(ctx, b)

			if result.Status == StatusValid && previous != nil && b.PreviousHash != previous.Hash {
				result.Status = StatusStructurallyInvalid
				result.Detail = "previous_hash does not match the prior block's hash"
			}
			if result.Status == StatusValid {
				report.ValidBlocks++
			}
			report.Results = append(report.Results, result)
			previous = b
		}
	}

	return report, nil
}
