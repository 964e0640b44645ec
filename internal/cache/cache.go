// Package cache persists solver results across pipeline runs. Entries
// are keyed by what produced them: the solver-scope spec fingerprint,
// the sample index, and the environment fingerprint. The store is
// append-only; once a key holds an outcome it never changes, so a
// rebuild of the same spec in the same environment performs no solver
// work at all.
package cache

import (
	"context"
	"fmt"

	"github.com/emuforge/emuforge/internal/fingerprint"
)

// Key identifies one solver invocation outcome.
type Key struct {
	SpecFP fingerprint.Digest
	Index  int
	EnvFP  fingerprint.Digest
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.SpecFP, k.Index, k.EnvFP)
}

// Entry is a recorded outcome: either the encoded solver result or a
// permanent-failure marker. Transient failures are never stored.
type Entry struct {
	// Payload is the encoded solver result. Empty when Failed.
	Payload []byte `json:"payload,omitempty"`

	// Failed marks a permanent solver rejection, with its reason.
	Failed bool   `json:"failed,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Store is an append-only keyed result store.
//
// Get returns (nil, nil) on a miss. Put is first-write-wins: writing a
// key that already holds an entry is a no-op, which keeps concurrent
// builders from clobbering each other.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, error)
	Put(ctx context.Context, key Key, entry Entry) error

	// Count reports the number of stored entries.
	Count(ctx context.Context) (int64, error)

	Close() error
}
