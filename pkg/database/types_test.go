package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsActiveAtAcceptsKeyWithinItsWindow(t *testing.T) {
	k := &AuthorizedKey{CreatedAt: time.Unix(100, 0)}
	assert.True(t, k.IsActiveAt(time.Unix(200, 0)))
}

func TestIsActiveAtRejectsBeforeCreation(t *testing.T) {
	k := &AuthorizedKey{CreatedAt: time.Unix(100, 0)}
	assert.False(t, k.IsActiveAt(time.Unix(50, 0)))
}

func TestIsActiveAtRejectsAtOrAfterRevocation(t *testing.T) {
	revoked := time.Unix(200, 0)
	k := &AuthorizedKey{CreatedAt: time.Unix(100, 0), RevokedAt: &revoked}
	assert.True(t, k.IsActiveAt(time.Unix(150, 0)))
	assert.False(t, k.IsActiveAt(time.Unix(200, 0)))
	assert.False(t, k.IsActiveAt(time.Unix(250, 0)))
}

// A hard delete is retroactive: once deleted, a key never authorizes any
// block at any timestamp, even one it validly signed before deletion.
func TestIsActiveAtRejectsAtAnyTimestampOnceHardDeleted(t *testing.T) {
	deleted := time.Unix(300, 0)
	k := &AuthorizedKey{CreatedAt: time.Unix(100, 0), DeletedAt: &deleted}
	assert.False(t, k.IsActiveAt(time.Unix(150, 0)))
	assert.False(t, k.IsActiveAt(time.Unix(300, 0)))
	assert.False(t, k.IsActiveAt(time.Unix(400, 0)))
}
