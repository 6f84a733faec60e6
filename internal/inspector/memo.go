package inspector

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultMemoEntries = 1024

// memo caches inspector results for the lifetime of one scan. Concurrent
// callers asking for the same key share a single underlying fetch.
type memo struct {
	cache *lru.Cache[string, any]
	group singleflight.Group
}

func newMemo(size int) *memo {
	if size <= 0 {
		size = defaultMemoEntries
	}
	cache, err := lru.New[string, any](size)
	if err != nil {
		panic(fmt.Sprintf("inspector: lru cache: %v", err))
	}
	return &memo{cache: cache}
}

func (m *memo) purge() {
	m.cache.Purge()
}

func (m *memo) len() int {
	return m.cache.Len()
}

// memoize returns the cached value for key or runs fetch once. Errors are not cached.
func memoize[V any](ctx context.Context, m *memo, key string, fetch func(context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := m.cache.Get(key); ok {
		return v.(V), nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	res, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.cache.Get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.cache.Add(key, v)
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(V), nil
}

func listKey(op, from string, opts ScanOptions) string {
	return fmt.Sprintf("%s|%s|shallow=%t", op, from, opts.Shallow)
}
