// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
)

// Callbacks fire when leadership is gained or lost. They run on the
// elector's renewal goroutine, so they must return quickly.
type Callbacks struct {
	OnTakeLeadership    func()
	OnReleaseLeadership func()
}

func (c *Callbacks) take() {
	if c != nil && c.OnTakeLeadership != nil {
		c.OnTakeLeadership()
	}
}

func (c *Callbacks) release() {
	if c != nil && c.OnReleaseLeadership != nil {
		c.OnReleaseLeadership()
	}
}

// LeaderElector arbitrates which replica may append to the journal.
// There is at most one leader at a time; everyone else learns the
// leader's identity and forwarding address from the elector.
type LeaderElector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	// LeaderID returns the current leader's replica ID, or "" while a
	// fail-over is in progress.
	LeaderID() string
	// LeaderURL returns the leader's advertised internal endpoint.
	LeaderURL() string
}

// StaticElector is the elector of a standalone replica: always the
// leader, never fails over.
type StaticElector struct {
	ReplicaID string
	cb        *Callbacks
}

func NewStaticElector(replicaID string, cb *Callbacks) *StaticElector {
	return &StaticElector{ReplicaID: replicaID, cb: cb}
}

func (e *StaticElector) Start(ctx context.Context) error {
	e.cb.take()
	return nil
}

func (e *StaticElector) Stop() error {
	e.cb.release()
	return nil
}

func (e *StaticElector) IsLeader() bool    { return true }
func (e *StaticElector) LeaderID() string  { return e.ReplicaID }
func (e *StaticElector) LeaderURL() string { return "" }

var _ LeaderElector = &StaticElector{}
