// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	leaseName = "leader"

	// DefaultLeaseDuration is how long a leader may go dark before the
	// lease is up for grabs. Renewal runs at a third of it.
	DefaultLeaseDuration = 15 * time.Second
)

// LeaseElector elects a leader through a single-row lease in the
// coordinator database. Acquiring and renewing are both one conditional
// UPDATE: the row flips only when it is expired or already ours, so two
// replicas can never both believe they hold it within one lease term.
type LeaseElector struct {
	db        *sql.DB
	table     string
	replicaID string
	url       string
	lease     time.Duration
	cb        *Callbacks

	mu        sync.Mutex
	leader    bool
	leaderID  string
	leaderURL string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewLeaseElector(ctx context.Context, db *sql.DB, pathPrefix, replicaID, advertiseURL string, lease time.Duration, cb *Callbacks) (*LeaseElector, error) {
	if lease <= 0 {
		lease = DefaultLeaseDuration
	}
	e := &LeaseElector{
		db:        db,
		table:     pathPrefix + "leader_lease",
		replicaID: replicaID,
		url:       advertiseURL,
		lease:     lease,
		cb:        cb,
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  name VARCHAR(32) NOT NULL PRIMARY KEY,
  leader_id VARCHAR(64) NOT NULL,
  url VARCHAR(255) NOT NULL,
  expires_at TIMESTAMP(3) NOT NULL
)`, e.table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("replication: create lease table: %w", err)
	}
	return e, nil
}

func (e *LeaseElector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()
	go e.run(runCtx)
	return nil
}

func (e *LeaseElector) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	// Give the lease up right away instead of letting it expire.
	ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRelease()
	_, err := e.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE name = ? AND leader_id = ?", e.table),
		leaseName, e.replicaID)
	return err
}

func (e *LeaseElector) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.lease / 3)
	defer ticker.Stop()
	for {
		e.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.setLeader(false, "", "")
			return
		}
	}
}

// tick tries to acquire or renew the lease, then refreshes the observed
// leader. Transient database errors are retried briefly; if they keep
// failing the replica assumes it lost the lease.
func (e *LeaseElector) tick(ctx context.Context) {
	op := func() error {
		return e.acquireOrRenew(ctx)
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		if !errors.Is(err, context.Canceled) {
			logrus.Warnf("leader lease renewal failed: %v", err)
		}
		e.setLeader(false, "", "")
		return
	}
	id, url, err := e.observe(ctx)
	if err != nil {
		e.setLeader(false, "", "")
		return
	}
	e.setLeader(id == e.replicaID, id, url)
}

func (e *LeaseElector) acquireOrRenew(ctx context.Context) error {
	expires := time.Now().Add(e.lease)
	res, err := e.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET leader_id = ?, url = ?, expires_at = ? WHERE name = ? AND (leader_id = ? OR expires_at < ?)",
		e.table), e.replicaID, e.url, expires, leaseName, e.replicaID, time.Now())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// No row flipped: either someone else holds a live lease, or the row
	// does not exist yet. Insert is safe; the primary key rejects a
	// second seed.
	_, err = e.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (name, leader_id, url, expires_at) VALUES (?, ?, ?, ?)",
		e.table), leaseName, e.replicaID, e.url, expires)
	if err != nil && !isDupEntry(err) {
		return err
	}
	return nil
}

func (e *LeaseElector) observe(ctx context.Context) (string, string, error) {
	var id, url string
	var expires time.Time
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT leader_id, url, expires_at FROM %s WHERE name = ?", e.table),
		leaseName).Scan(&id, &url, &expires)
	if err != nil {
		return "", "", err
	}
	if time.Now().After(expires) {
		return "", "", nil
	}
	return id, url, nil
}

func (e *LeaseElector) setLeader(leader bool, id, url string) {
	e.mu.Lock()
	was := e.leader
	e.leader = leader
	e.leaderID = id
	e.leaderURL = url
	e.mu.Unlock()
	switch {
	case leader && !was:
		logrus.Infof("replica %s took leadership", e.replicaID)
		e.cb.take()
	case !leader && was:
		logrus.Infof("replica %s released leadership", e.replicaID)
		e.cb.release()
	}
}

func (e *LeaseElector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *LeaseElector) LeaderID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderID
}

func (e *LeaseElector) LeaderURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderURL
}

var _ LeaderElector = &LeaseElector{}
