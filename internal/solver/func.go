package solver

import (
	"context"

	"github.com/emuforge/emuforge/internal/fingerprint"
)

// Func adapts a plain Go function into an Adapter. It backs tests and
// in-process solvers where no external environment is involved.
type Func struct {
	// ID names the function for cache scoping. Two Funcs with the same
	// ID are assumed to compute the same thing.
	ID string

	Fn func(ctx context.Context, req Request) (*Result, error)
}

// Fingerprint derives the environment identity from the ID alone.
func (f *Func) Fingerprint() fingerprint.Digest {
	return fingerprint.OfBytes([]byte("func:" + f.ID))
}

func (f *Func) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	return f.Fn(ctx, req)
}
