package database

import "time"

// Block is the persisted row shape for an appended chain record.
type Block struct {
	BlockNumber         uint64
	PreviousHash        string
	Timestamp           time.Time
	Data                string
	SignerPublicKey     string
	Signature           string
	Hash                string
	IsEncrypted         bool
	EncryptionMetadata  []byte
	Category            string
	ManualKeywords      string
	ContentCategory     string
	RecipientUsername   string
	OffChainRef         []byte // JSON-encoded blobstore.Ref, nil when inline
}

// AuthorizedKey is the persisted row shape for a signing key's lifecycle.
type AuthorizedKey struct {
	PublicKey string
	OwnerName string
	CreatedAt time.Time
	RevokedAt *time.Time
	DeletedAt *time.Time
}

// IsActiveAt reports whether the key was authorized at the given instant. A
// forced hard-delete is retroactive: once deleted, a key never authorizes
// any block at any timestamp, including ones it signed before deletion.
// Revocation, by contrast, is timestamp-gated and only blocks signatures
// from the revocation instant forward.
func (k *AuthorizedKey) IsActiveAt(t time.Time) bool {
	if k.DeletedAt != nil {
		return false
	}
	if k.CreatedAt.After(t) {
		return false
	}
	if k.RevokedAt != nil && !t.Before(*k.RevokedAt) {
		return false
	}
	return true
}
