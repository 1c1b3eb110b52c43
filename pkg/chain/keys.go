package chain

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/arcledger/arcledger/pkg/crypto"
	"github.com/arcledger/arcledger/pkg/database"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

// ImpactReport summarizes, for a candidate key deletion, how many
// historical blocks would become orphaned.
type ImpactReport struct {
	PublicKeyPEM   string
	AffectedBlocks int
	Severe         bool
}

// AddAuthorizedKey registers pub as an authorized signer. Re-adding a
// public key that was previously hard-deleted is rejected to preserve
// audit clarity.
func (e *Engine) AddAuthorizedKey(ctx context.Context, pub *ecdsa.PublicKey, ownerName string) error {
	if ownerName == "" {
		return ledgererr.New(ledgererr.InvalidInput, "owner name is required")
	}
	pubPEM, err := crypto.MarshalPublicKeyPEM(pub)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	everDeleted, err := e.repos.AuthorizedKeys.GetEverDeleted(ctx, pubPEM)
	if err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "check key deletion history", err)
	}
	if everDeleted {
		return ledgererr.New(ledgererr.InvalidInput, "cannot re-add a previously deleted key")
	}

	key := &database.AuthorizedKey{
		PublicKey: pubPEM,
		OwnerName: ownerName,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.repos.AuthorizedKeys.Insert(ctx, nil, key); err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "insert authorized key", err)
	}
	return nil
}

// RevokeAuthorizedKey soft-revokes pub. Revocation never retroactively
// invalidates blocks signed before the revocation instant.
func (e *Engine) RevokeAuthorizedKey(ctx context.Context, pub *ecdsa.PublicKey) error {
	pubPEM, err := crypto.MarshalPublicKeyPEM(pub)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.repos.AuthorizedKeys.Revoke(ctx, pubPEM, time.Now().UTC())
}

// CanDeleteAuthorizedKey computes the impact of hard-deleting pub without
// performing the deletion.
func (e *Engine) CanDeleteAuthorizedKey(ctx context.Context, pub *ecdsa.PublicKey) (*ImpactReport, error) {
	pubPEM, err := crypto.MarshalPublicKeyPEM(pub)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	count, err := e.repos.AuthorizedKeys.CountBlocksSignedBy(ctx, pubPEM)
	if err != nil {
		return nil, ledgererr.Wrap(ledgererr.StoreFailed, "count blocks signed by key", err)
	}
	return &ImpactReport{
		PublicKeyPEM:   pubPEM,
		AffectedBlocks: count,
		Severe:         count > 0,
	}, nil
}

// DeleteAuthorizedKey hard-deletes pub. Safe deletion requires zero
// affected blocks; a forced deletion requires force=true and an audit
// reason, and leaves orphaned blocks that subsequent validate_chain calls
// report as AuthorizationInvalid.
func (e *Engine) DeleteAuthorizedKey(ctx context.Context, pub *ecdsa.PublicKey, force bool, reason string) error {
	impact, err := e.CanDeleteAuthorizedKey(ctx, pub)
	if err != nil {
		return err
	}
	if impact.Severe && !force {
		return ledgererr.New(ledgererr.InvalidInput, "key has signed blocks; pass force=true with a reason to delete anyway")
	}
	if impact.Severe && reason == "" {
		return ledgererr.New(ledgererr.InvalidInput, "forced deletion requires a non-empty audit reason")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.repos.AuthorizedKeys.Delete(ctx, impact.PublicKeyPEM, time.Now().UTC()); err != nil {
		return ledgererr.Wrap(ledgererr.StoreFailed, "delete authorized key", err)
	}
	if impact.Severe {
		e.logger.Printf("force-deleted key with %d affected blocks: %s", impact.AffectedBlocks, reason)
	}
	return nil
}
