// Package storage defines the local durable store contracts for pending
// mutations and offline image assets. Implementations must make acknowledged
// writes survive an abrupt process termination, with the exception of the
// in-memory fallback used when the durable backend is unavailable.
package storage

import (
	"context"
	"errors"

	"github.com/siamtech/fieldsync/mutation"
)

var (
	// ErrNotFound is returned when a mutation or asset does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// MutationStore persists pending mutations. The key is derived from
// kind+targetID so that repeated enqueue of the same logical mutation
// overwrites rather than duplicates.
type MutationStore interface {
	// Put inserts or replaces the pending mutation keyed by kind+targetID.
	Put(ctx context.Context, m *mutation.PendingMutation) error

	// GetAll returns all pending mutations of a kind in creation order
	// (oldest first).
	GetAll(ctx context.Context, kind mutation.Kind) ([]*mutation.PendingMutation, error)

	// Update rewrites attempt bookkeeping for an existing mutation.
	Update(ctx context.Context, m *mutation.PendingMutation) error

	// Remove deletes the pending mutation for kind+targetID. Removing an
	// absent mutation is not an error.
	Remove(ctx context.Context, kind mutation.Kind, targetID string) error

	// Count returns the number of pending mutations of a kind.
	Count(ctx context.Context, kind mutation.Kind) (int, error)

	// CountAll returns the total number of pending mutations.
	CountAll(ctx context.Context) (int, error)
}

// AssetStore persists offline-created image assets keyed by synthetic ID.
type AssetStore interface {
	// PutAsset stores an offline asset.
	PutAsset(ctx context.Context, a *mutation.OfflineAsset) error

	// GetAsset returns the asset for the synthetic ID, or ErrNotFound.
	GetAsset(ctx context.Context, syntheticID string) (*mutation.OfflineAsset, error)

	// DeleteAsset removes the asset. Deleting an absent asset is not an
	// error: the asset may already have been consumed by a prior sync.
	DeleteAsset(ctx context.Context, syntheticID string) error

	// ListAssets returns all assets owned by a survey, in creation order.
	ListAssets(ctx context.Context, ownerSurveyID string) ([]*mutation.OfflineAsset, error)
}

// Store combines the mutation and asset stores with a lifecycle.
type Store interface {
	MutationStore
	AssetStore

	Close() error
}
