// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// Spec configures a read cache from a compact spec string, e.g.
//
//	maximumWeight=134217728,expireAfterAccess=5m
//
// Weights are bytes of cached value. Entries expire a fixed interval
// after they were loaded.
type Spec struct {
	MaximumWeight int64
	Expiry        time.Duration
}

const (
	DefaultMaximumWeight = 128 << 20
	DefaultExpiry        = 5 * time.Minute
)

// ParseSpec parses a cache spec string. Empty selects the defaults.
func ParseSpec(s string) (*Spec, error) {
	spec := &Spec{MaximumWeight: DefaultMaximumWeight, Expiry: DefaultExpiry}
	if s == "" {
		return spec, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("cache spec: malformed component %q", part)
		}
		switch k {
		case "maximumWeight":
			w, err := strconv.ParseInt(v, 10, 64)
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("cache spec: bad maximumWeight %q", v)
			}
			spec.MaximumWeight = w
		case "expireAfterAccess", "expireAfterWrite":
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("cache spec: bad %s %q", k, v)
			}
			spec.Expiry = d
		default:
			return nil, fmt.Errorf("cache spec: unknown component %q", k)
		}
	}
	return spec, nil
}

// Key is the cache identity of one repository read. Only absolute
// revisions may be baked into a key; relative ones resolve differently
// over time and would serve stale data.
type Key string

// NewKey fingerprints the operation and its arguments. Arguments are
// length-prefixed before hashing so no two argument lists collide by
// concatenation.
func NewKey(op string, args ...string) Key {
	h := plumbing.NewHasher()
	_, _ = fmt.Fprintf(h, "%d:%s", len(op), op)
	for _, a := range args {
		_, _ = fmt.Fprintf(h, "%d:%s", len(a), a)
	}
	return Key(h.Sum().String())
}

// Loader produces the value for a missing key along with its weight in
// bytes.
type Loader func(ctx context.Context) (any, int64, error)

// Cache is a process wide weighted read cache. Concurrent loads of the
// same key are collapsed into one: the first caller runs the loader,
// the rest share its result.
type Cache struct {
	c      *ristretto.Cache[string, any]
	group  singleflight.Group
	expiry time.Duration
}

func New(spec *Spec) (*Cache, error) {
	if spec == nil {
		spec = &Spec{MaximumWeight: DefaultMaximumWeight, Expiry: DefaultExpiry}
	}
	counters := spec.MaximumWeight / 1024
	if counters < 1<<16 {
		counters = 1 << 16
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: counters,
		MaxCost:     spec.MaximumWeight,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, expiry: spec.Expiry}, nil
}

// Get returns the cached value for key, loading and caching it on a
// miss. A load error is returned to every collapsed caller and caches
// nothing.
func (c *Cache) Get(ctx context.Context, key Key, load Loader) (any, error) {
	if v, ok := c.c.Get(string(key)); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(string(key), func() (any, error) {
		if v, ok := c.c.Get(string(key)); ok {
			return v, nil
		}
		v, weight, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if weight < 1 {
			weight = 1
		}
		c.c.SetWithTTL(string(key), v, weight, c.expiry)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Stats reports hit and miss counts since the cache was created.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.c.Metrics.Hits(), c.c.Metrics.Misses()
}

// Wait blocks until pending writes are applied. Tests use it before
// asserting on cache contents.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Clear discards every entry, e.g. after purging a repository.
func (c *Cache) Clear() {
	c.c.Clear()
}

func (c *Cache) Close() {
	c.c.Close()
}
