// Package database provides sentinel errors for repository operations.
// Single-row lookups never return (nil, nil); a missing row always
// surfaces as one of these. List and batch queries that match nothing
// return an empty or nil slice with a nil error.

package database

import "errors"

var (
	// ErrBlockNotFound is returned when a block is not found by number or hash.
	ErrBlockNotFound = errors.New("block not found")

	// ErrAuthorizedKeyNotFound is returned when an authorized key is not found.
	ErrAuthorizedKeyNotFound = errors.New("authorized key not found")

	// ErrCheckpointNotFound is returned when a recovery checkpoint is not found.
	ErrCheckpointNotFound = errors.New("recovery checkpoint not found")
)
