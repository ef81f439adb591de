// Package rtdb is the boundary to the path-addressed realtime tree the
// whole system coordinates through. Two implementations exist: the Firebase
// Realtime Database client used in deployments, and an in-memory tree with
// identical replace-vs-merge semantics used by tests and local runs.
package rtdb

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable wraps any transport failure from the backing store. There
// is no retry policy at this layer; callers decide.
var ErrUnavailable = errors.New("store unavailable")

// CancelFunc detaches a subscription. Safe to call more than once.
type CancelFunc func()

// SnapshotFunc receives the JSON value currently at the subscribed path.
// Absent paths deliver JSON null. Rapid intermediate states may be
// coalesced; only the latest committed value is guaranteed to arrive.
type SnapshotFunc func(data json.RawMessage)

// Client is the set of primitives the data model builds on.
//
// Set is a full replace of the subtree at path. Update merges the given
// keys at the path's immediate children: each named child is replaced
// wholesale, unnamed siblings survive. The distinction is load-bearing for
// concurrent writers and is part of the contract, not an implementation
// detail.
type Client interface {
	// Get reads the value at path into dest. An absent path leaves dest
	// at its zero value and returns no error.
	Get(ctx context.Context, path string, dest any) error

	// Set replaces the entire subtree at path with value. A nil value
	// deletes the subtree.
	Set(ctx context.Context, path string, value any) error

	// Update merges values into path: each key is replaced, siblings not
	// named in values are preserved.
	Update(ctx context.Context, path string, values map[string]any) error

	// Push appends value under path with a store-generated key and
	// returns the key. Keys sort in generation order.
	Push(ctx context.Context, path string, value any) (string, error)

	// Delete removes the subtree at path. Equivalent to Set(path, nil).
	Delete(ctx context.Context, path string) error

	// Subscribe invokes fn once with the current value at path and again
	// after every subsequent change, until the returned CancelFunc is
	// called or ctx is done. Delivery is latest-value-wins.
	Subscribe(ctx context.Context, path string, fn SnapshotFunc) (CancelFunc, error)

	// QueryEqual reads the children of path whose child field equals
	// value into dest (a map keyed by child id).
	QueryEqual(ctx context.Context, path, child string, value any, dest any) error
}
