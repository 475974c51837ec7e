package checkpoint

import (
	"context"

	"github.com/fyrsmithlabs/kazuba/internal/breaker"
)

// Backend is the save/load contract shared by Store and Guarded.
type Backend interface {
	Save(ctx context.Context, path string, payload map[string]any) error
	Load(ctx context.Context, path string) (map[string]any, error)
}

type guarded struct {
	inner   Backend
	breaker *breaker.Breaker
}

// Guarded routes every call through b. While b is open calls fail fast
// with an error wrapping breaker.ErrOpen and inner is not touched.
func Guarded(inner Backend, b *breaker.Breaker) Backend {
	return &guarded{inner: inner, breaker: b}
}

func (g *guarded) Save(ctx context.Context, path string, payload map[string]any) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.inner.Save(ctx, path, payload)
	})
}

func (g *guarded) Load(ctx context.Context, path string) (map[string]any, error) {
	var out map[string]any
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Load(ctx, path)
		return err
	})
	return out, err
}
