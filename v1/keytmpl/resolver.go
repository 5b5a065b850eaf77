package keytmpl

import (
	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// Resolver resolves key templates, caching compiled templates so hot paths
// only pay for evaluation.
type Resolver struct {
	cache *ristretto.Cache
	group singleflight.Group
}

// ResolverOption configures the compiled template cache.
type ResolverOption func(*ristretto.Config)

// WithCacheSize bounds the number of compiled templates kept.
func WithCacheSize(n int64) ResolverOption {
	return func(c *ristretto.Config) {
		if n <= 0 {
			return
		}
		c.MaxCost = n
		c.NumCounters = n * 10
	}
}

// NewResolver returns a Resolver backed by a ristretto cache.
func NewResolver(opts ...ResolverOption) (*Resolver, error) {
	cfg := &ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1e3, // one unit per compiled template
		BufferItems: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	c, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &Resolver{cache: c}, nil
}

// Compile returns the compiled form of template, compiling it at most once
// across concurrent callers.
func (r *Resolver) Compile(template string) (*Template, error) {
	if template == "" {
		return nil, ErrEmptyTemplate
	}
	if v, ok := r.cache.Get(template); ok {
		return v.(*Template), nil
	}
	v, err, _ := r.group.Do(template, func() (any, error) {
		t, err := Compile(template)
		if err != nil {
			return nil, err
		}
		r.cache.Set(template, t, 1)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// Resolve compiles template and evaluates it against ctx.
func (r *Resolver) Resolve(template string, ctx map[string]any) (string, error) {
	t, err := r.Compile(template)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx)
}

// Close releases the cache.
func (r *Resolver) Close() {
	r.cache.Close()
}
