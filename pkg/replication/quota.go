// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"sync"
	"time"

	"github.com/antgroup/vega/pkg/model"
	"golang.org/x/time/rate"
)

// WriteQuota is the per-repository token bucket enforced at the leader
// before a command reaches the journal. Capacity tokens refill over one
// window; each push spends one. Zero capacity disables the quota.
type WriteQuota struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	capacity int
	window   time.Duration
}

func NewWriteQuota(capacity int, window time.Duration) *WriteQuota {
	if window <= 0 {
		window = time.Second
	}
	return &WriteQuota{
		limiters: make(map[string]*rate.Limiter),
		capacity: capacity,
		window:   window,
	}
}

// Allow spends one token for project/repo, failing with quota-exceeded
// when the bucket is empty. The client may retry once the window
// refills.
func (q *WriteQuota) Allow(project, repo string) error {
	if q == nil || q.capacity <= 0 {
		return nil
	}
	key := project + "/" + repo
	q.mu.Lock()
	l, ok := q.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(q.capacity)/q.window.Seconds()), q.capacity)
		q.limiters[key] = l
	}
	q.mu.Unlock()
	if !l.Allow() {
		return model.NewErrQuotaExceeded("%s: %d writes per %v exhausted", key, q.capacity, q.window)
	}
	return nil
}

// Forget drops the bucket of a purged repository.
func (q *WriteQuota) Forget(project, repo string) {
	if q == nil {
		return
	}
	q.mu.Lock()
	delete(q.limiters, project+"/"+repo)
	q.mu.Unlock()
}
