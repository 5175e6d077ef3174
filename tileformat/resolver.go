package tileformat

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Getter fetches the bytes at a URL.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Resolver fetches external glTF payloads referenced by instanced tiles.
// Many tiles share a handful of models, so payloads are cached and
// concurrent requests for one URL share a single fetch.
type Resolver struct {
	get   Getter
	cache *expirable.LRU[string, []byte]
	group singleflight.Group
}

// NewResolver caches up to size payloads for ttl.
func NewResolver(get Getter, size int, ttl time.Duration) *Resolver {
	return &Resolver{
		get:   get,
		cache: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Resolve returns the payload at url, fetching it at most once at a time.
func (r *Resolver) Resolve(ctx context.Context, url string) ([]byte, error) {
	if b, ok := r.cache.Get(url); ok {
		return b, nil
	}
	v, err, _ := r.group.Do(url, func() (any, error) {
		b, err := r.get.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		r.cache.Add(url, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len returns the number of cached payloads.
func (r *Resolver) Len() int { return r.cache.Len() }
