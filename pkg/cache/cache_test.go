// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec("")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaximumWeight), spec.MaximumWeight)
	assert.Equal(t, DefaultExpiry, spec.Expiry)

	spec, err = ParseSpec("maximumWeight=1048576,expireAfterAccess=30s")
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), spec.MaximumWeight)
	assert.Equal(t, 30*time.Second, spec.Expiry)

	for _, s := range []string{"maximumWeight=-1", "maximumWeight=x", "expireAfterAccess=0", "bogus=1", "noequals"} {
		_, err = ParseSpec(s)
		assert.Error(t, err, s)
	}
}

func TestKeyDistinguishesArgumentBoundaries(t *testing.T) {
	assert.NotEqual(t, NewKey("find", "ab", "c"), NewKey("find", "a", "bc"))
	assert.NotEqual(t, NewKey("find", "a"), NewKey("get", "a"))
	assert.Equal(t, NewKey("find", "a", "b"), NewKey("find", "a", "b"))
}

func TestGetLoadsOnce(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	var loads atomic.Int32
	load := func(ctx context.Context) (any, int64, error) {
		loads.Add(1)
		return "value", 5, nil
	}
	key := NewKey("get", "acme", "main", "2", "/a.json")

	v, err := c.Get(context.Background(), key, load)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	c.Wait()

	v, err = c.Get(context.Background(), key, load)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, int32(1), loads.Load())
}

func TestGetCollapsesConcurrentLoads(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (any, int64, error) {
		loads.Add(1)
		<-release
		return 42, 1, nil
	}
	key := NewKey("history", "acme", "main", "1", "4")

	const callers = 16
	results := make([]any, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), key, load)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestGetErrorNotCached(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	boom := errors.New("backend down")
	var loads atomic.Int32
	key := NewKey("find", "acme", "main", "3", "/**")

	_, err = c.Get(context.Background(), key, func(ctx context.Context) (any, int64, error) {
		loads.Add(1)
		return nil, 0, boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := c.Get(context.Background(), key, func(ctx context.Context) (any, int64, error) {
		loads.Add(1)
		return "recovered", 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), loads.Load())
}

func TestClear(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	defer c.Close()

	key := NewKey("get", "acme", "main", "2", "/a.json")
	var loads atomic.Int32
	load := func(ctx context.Context) (any, int64, error) {
		loads.Add(1)
		return "v", 1, nil
	}
	_, err = c.Get(context.Background(), key, load)
	require.NoError(t, err)
	c.Wait()
	c.Clear()

	_, err = c.Get(context.Background(), key, load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loads.Load())
}
