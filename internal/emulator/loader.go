package emulator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/hub"
)

// Loader resolves emulator names. The local store is consulted first;
// a configured hub client is the fallback. Either field may be nil.
type Loader struct {
	Store  *hub.Store
	Hub    *hub.Client
	Logger *slog.Logger
}

// Load resolves name and decodes its artifact. Returns a NotFoundError
// when neither the store nor the hub knows the name.
func (l *Loader) Load(ctx context.Context, name string) (*Emulator, error) {
	a, err := l.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return FromArtifact(a)
}

func (l *Loader) resolve(ctx context.Context, name string) (*artifact.Artifact, error) {
	if l.Store != nil {
		a, err := l.Store.GetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read local store: %w", err)
		}
		if a != nil {
			return a, nil
		}
	}
	if l.Hub != nil {
		a, err := l.Hub.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch from hub: %w", err)
		}
		if a != nil {
			if l.Logger != nil {
				l.Logger.Debug("emulator fetched from hub",
					"name", name, "digest", a.Digest.Short())
			}
			return a, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}

// Pull fetches name from the hub and persists it in the local store,
// so later loads need no network.
func (l *Loader) Pull(ctx context.Context, name string) (*Emulator, error) {
	if l.Hub == nil {
		return nil, fmt.Errorf("no hub configured")
	}
	a, err := l.Hub.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from hub: %w", err)
	}
	if a == nil {
		return nil, &NotFoundError{Name: name}
	}
	if l.Store != nil {
		if err := l.Store.Put(ctx, name, a); err != nil {
			return nil, fmt.Errorf("failed to store pulled artifact: %w", err)
		}
	}
	return FromArtifact(a)
}
