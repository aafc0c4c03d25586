// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package watch is the per-repository revision fan-out. Long-polling
// readers park on a Notifier; every accepted commit publishes its new
// revision together with the touched paths, and waiters whose filters
// match are resumed. Waiters carry no queue, only the latest revision;
// a slow reader misses intermediate revisions by design.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/antgroup/vega/pkg/model"
)

type waiter struct {
	pattern *model.PathPattern
	ch      chan int64
}

type Notifier struct {
	mu      sync.Mutex
	waiters map[*waiter]struct{}
	latest  int64
	closed  bool
	done    chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{
		waiters: make(map[*waiter]struct{}),
		done:    make(chan struct{}),
	}
}

// Latest reports the newest revision ever published.
func (n *Notifier) Latest() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest
}

// Publish posts a newly accepted revision and the paths its commit
// touched. Waiters whose filter matches any touched path resolve with
// rev; the rest stay parked.
func (n *Notifier) Publish(rev int64, paths []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if rev > n.latest {
		n.latest = rev
	}
	for w := range n.waiters {
		if !w.pattern.MatchAny(paths) {
			continue
		}
		delete(n.waiters, w)
		w.ch <- rev
	}
}

// Await parks until a revision newer than lastSeen whose commit touches
// pattern is published, the timeout elapses (model.ErrNotModified), the
// context is canceled, or the notifier shuts down (model.ErrShuttingDown).
// The staleness check and waiter registration share the mutex, so a
// publish can never land between the caller's head read and the park: if
// anything newer than lastSeen was already published, Await resolves with
// it immediately and the caller rescans. A non-positive timeout reports
// ErrNotModified without parking.
func (n *Notifier) Await(ctx context.Context, pattern *model.PathPattern, lastSeen int64, timeout time.Duration) (int64, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return 0, model.ErrShuttingDown
	}
	if n.latest > lastSeen {
		latest := n.latest
		n.mu.Unlock()
		return latest, nil
	}
	if timeout <= 0 {
		n.mu.Unlock()
		return 0, model.ErrNotModified
	}
	w := &waiter{pattern: pattern, ch: make(chan int64, 1)}
	n.waiters[w] = struct{}{}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.waiters, w)
		n.mu.Unlock()
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rev := <-w.ch:
		return rev, nil
	case <-timer.C:
		return 0, model.ErrNotModified
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-n.done:
		return 0, model.ErrShuttingDown
	}
}

// Waiting reports how many waiters are parked.
func (n *Notifier) Waiting() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.waiters)
}

// Close resolves every parked waiter with model.ErrShuttingDown and
// rejects new ones.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.done)
	clear(n.waiters)
}
