// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package replication orders every mutating command across replicas. A
// Journal is the totally ordered append-only log; a LeaderElector decides
// which replica may append; the progress file remembers how far the local
// replica has applied. The coordinator is a shared database: its
// transactions arbitrate both the dense index sequence and the leader
// lease.
package replication

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one committed log record. Index is dense and starts at 0;
// Command holds the serialized command envelope exactly as the issuing
// replica appended it.
type Entry struct {
	Index      int64           `json:"index"`
	ReplicaID  string          `json:"replicaId"`
	Command    json.RawMessage `json:"command"`
	CommitTime time.Time       `json:"commitTimeMillis"`
}

// Journal is the replicated log. Append assigns the next dense index;
// concurrent appenders on different replicas are serialized by the
// coordinator, never by local locks.
type Journal interface {
	// Append stores command bytes and returns the assigned index.
	Append(ctx context.Context, replicaID string, command []byte) (int64, error)
	// Read returns up to max entries with index >= from, in index order.
	Read(ctx context.Context, from int64, max int) ([]Entry, error)
	// Head returns the highest assigned index, or -1 when the log is
	// empty.
	Head(ctx context.Context) (int64, error)
	// Prune removes entries that are both below keepIndex and older than
	// minAge. An entry survives as long as either retention rule wants
	// it.
	Prune(ctx context.Context, keepIndex int64, minAge time.Duration) (int64, error)
	Close() error
}

// Retention decides how much journal history survives pruning. Entries
// newer than MinLogAge or within MaxLogCount of the head are kept.
type Retention struct {
	MaxLogCount int64
	MinLogAge   time.Duration
}

// DefaultRetention mirrors the configuration defaults.
var DefaultRetention = Retention{MaxLogCount: 1024, MinLogAge: time.Hour}
