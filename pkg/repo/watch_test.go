// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/antgroup/vega/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchResolvesImmediately(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Add a", model.UpsertText("/a.txt", "a\n"))

	// the change happened before the watch started
	rev, err := r.Watch(ctx, 1, "/a.txt", &WatchOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, model.Revision(2), rev)
}

func TestWatchZeroTimeout(t *testing.T) {
	r := testRepo(t)
	_, err := r.Watch(context.Background(), model.Head, "/**", &WatchOptions{})
	assert.True(t, errors.Is(err, model.ErrNotModified))
}

func TestWatchTimesOut(t *testing.T) {
	r := testRepo(t)
	start := time.Now()
	_, err := r.Watch(context.Background(), model.Head, "/**", &WatchOptions{Timeout: 50 * time.Millisecond})
	assert.True(t, errors.Is(err, model.ErrNotModified))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWatchWakesOnCommit(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	type watchResult struct {
		rev model.Revision
		err error
	}
	done := make(chan watchResult, 1)
	go func() {
		rev, err := r.Watch(ctx, model.Head, "/a.txt", &WatchOptions{Timeout: 5 * time.Second})
		done <- watchResult{rev: rev, err: err}
	}()

	require.Eventually(t, func() bool { return r.Notifier().Waiting() > 0 }, time.Second, time.Millisecond)
	mustPush(t, r, model.Head, "Add a", model.UpsertText("/a.txt", "a\n"))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, model.Revision(2), res.rev)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not resolve")
	}
}

func TestWatchIgnoresUnrelatedPaths(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Watch(ctx, model.Head, "/interesting.json", &WatchOptions{Timeout: 200 * time.Millisecond})
		done <- err
	}()

	require.Eventually(t, func() bool { return r.Notifier().Waiting() > 0 }, time.Second, time.Millisecond)
	mustPush(t, r, model.Head, "Add noise", model.UpsertText("/noise.txt", "n\n"))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, model.ErrNotModified))
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not resolve")
	}
}

func TestWatchPattern(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Add unrelated", model.UpsertText("/other.txt", "o\n"))
	mustPush(t, r, model.Head, "Add target", model.UpsertJSON("/cfg/app.json", []byte(`{"v":1}`)))

	// both commits are newer than lastKnown, only the second matches
	rev, err := r.Watch(ctx, 1, "/cfg/**", &WatchOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, model.Revision(3), rev)
}

func TestWatchFile(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertJSON("/a.json", []byte(`{"v":1}`)))

	done := make(chan *model.Entry, 1)
	errCh := make(chan error, 1)
	go func() {
		entry, err := r.WatchFile(ctx, model.Head, model.JSONPath("/a.json", "$.v"), &WatchOptions{Timeout: 5 * time.Second})
		if err != nil {
			errCh <- err
			return
		}
		done <- entry
	}()

	require.Eventually(t, func() bool { return r.Notifier().Waiting() > 0 }, time.Second, time.Millisecond)
	mustPush(t, r, model.Head, "Bump", model.UpsertJSON("/a.json", []byte(`{"v":2}`)))

	select {
	case entry := <-done:
		assert.Equal(t, "2", entry.Content)
		assert.Equal(t, model.Revision(3), entry.Revision)
	case err := <-errCh:
		t.Fatalf("watch failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not resolve")
	}
}

func TestWatchFileRemoved(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertText("/a.txt", "a\n"))

	errCh := make(chan error, 1)
	go func() {
		_, err := r.WatchFile(ctx, model.Head, model.Identity("/a.txt"), &WatchOptions{Timeout: 5 * time.Second})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return r.Notifier().Waiting() > 0 }, time.Second, time.Millisecond)
	mustPush(t, r, model.Head, "Drop", model.Remove("/a.txt"))

	select {
	case err := <-errCh:
		assert.True(t, model.IsErrNotFound(err))
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not resolve")
	}
}

func TestWatchFileErrorOnEntryNotFound(t *testing.T) {
	r := testRepo(t)
	_, err := r.WatchFile(context.Background(), model.Head, model.Identity("/ghost.json"),
		&WatchOptions{Timeout: time.Second, ErrorOnEntryNotFound: true})
	assert.True(t, model.IsErrNotFound(err))
}

func TestWatchCancellation(t *testing.T) {
	r := testRepo(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Watch(ctx, model.Head, "/**", &WatchOptions{Timeout: 5 * time.Second})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return r.Notifier().Waiting() > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not resolve")
	}
}
