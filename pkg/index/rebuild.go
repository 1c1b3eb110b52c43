package index

import (
	"context"

	"github.com/arcledger/arcledger/pkg/blockcrypto"
	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// BlockSource is the narrow read surface the index needs from the chain
// engine to rebuild itself, without importing the chain package directly.
type BlockSource interface {
	GetBlocksPaginated(ctx context.Context, offset, limit int) ([]*database.Block, error)
	GetBlockCount(ctx context.Context) (uint64, error)
}

const defaultPageSize = 500

// RebuildPublic iterates every block in (offset, limit) pages and rebuilds
// the public layer from category, manual keywords, and a day-bucketed
// timestamp. It observes ctx between pages for cancellation.
func (idx *Index) RebuildPublic(ctx context.Context, source BlockSource) error {
	count, err := source.GetBlockCount(ctx)
	if err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "count blocks for public rebuild", err)
	}

	for offset := uint64(0); offset < count; offset += defaultPageSize {
		if ctxDone(ctx) {
			return ledgererr.New(ledgererr.Cancelled, "public index rebuild cancelled")
		}
		blocks, err := source.GetBlocksPaginated(ctx, int(offset), defaultPageSize)
		if err != nil {
			return ledgererr.Wrap(ledgererr.StoreFailed, "page blocks for public rebuild", err)
		}
		for _, b := range blocks {
			dayBucket := b.Timestamp.Format("2006-01-02")
			for _, term := range PublicTermsFor(b.Category, b.ManualKeywords, dayBucket) {
				if err := idx.AddPublicTerm(term, b.BlockNumber); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RebuildPrivate iterates every block and, for those it can decrypt with
// password (or whose recipient_username matches owner), indexes their
// plaintext tokens and the recipient under the private layer. Blocks it
// cannot decrypt are silently skipped: they belong to a different owner.
func (idx *Index) RebuildPrivate(ctx context.Context, source BlockSource, owner, password string, encConfig *crypto.EncryptionConfig) error {
	count, err := source.GetBlockCount(ctx)
	if err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "count blocks for private rebuild", err)
	}

	for offset := uint64(0); offset < count; offset += defaultPageSize {
		if ctxDone(ctx) {
			return ledgererr.New(ledgererr.Cancelled, "private index rebuild cancelled")
		}
		blocks, err := source.GetBlocksPaginated(ctx, int(offset), defaultPageSize)
		if err != nil {
			return ledgererr.Wrap(ledgererr.StoreFailed, "page blocks for private rebuild", err)
		}
		for _, b := range blocks {
			if b.RecipientUsername != "" && b.RecipientUsername == owner {
				if err := idx.AddPrivateTerm(password, "recipient:"+b.RecipientUsername, b.BlockNumber); err != nil {
					return err
				}
			}
			if !b.IsEncrypted {
				continue
			}
			associatedData := blockcrypto.AssociatedData(b.BlockNumber, b.SignerPublicKey)
			plaintext, err := blockcrypto.Unwrap(b.Data, password, encConfig, associatedData)
			if err != nil {
				continue // not this owner's password
			}
			for _, term := range Tokenize(string(plaintext)) {
				if err := idx.AddPrivateTerm(password, term, b.BlockNumber); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
