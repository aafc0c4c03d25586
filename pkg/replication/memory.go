// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"sync"
	"time"
)

// MemoryJournal is an in-process Journal. Tests and executor wiring use
// it where a coordinator would be overkill; semantics match the database
// journal, including dense indexes and the double retention rule.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
	first   int64 // index of entries[0]
	signal  chan struct{}
	closed  bool
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{first: 0, signal: make(chan struct{})}
}

func (j *MemoryJournal) Append(ctx context.Context, replicaID string, command []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	index := j.first + int64(len(j.entries))
	j.entries = append(j.entries, Entry{
		Index:      index,
		ReplicaID:  replicaID,
		Command:    append([]byte(nil), command...),
		CommitTime: time.Now().UTC(),
	})
	close(j.signal)
	j.signal = make(chan struct{})
	return index, nil
}

func (j *MemoryJournal) Read(ctx context.Context, from int64, max int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if from < j.first {
		from = j.first
	}
	start := from - j.first
	if start >= int64(len(j.entries)) {
		return nil, nil
	}
	end := start + int64(max)
	if end > int64(len(j.entries)) {
		end = int64(len(j.entries))
	}
	out := make([]Entry, end-start)
	copy(out, j.entries[start:end])
	return out, nil
}

// Wait blocks until an entry with index >= from exists. The polling
// applier uses it to avoid busy loops.
func (j *MemoryJournal) Wait(ctx context.Context, from int64) error {
	for {
		j.mu.Lock()
		if j.closed {
			j.mu.Unlock()
			return context.Canceled
		}
		head := j.first + int64(len(j.entries)) - 1
		signal := j.signal
		j.mu.Unlock()
		if head >= from {
			return nil
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *MemoryJournal) Head(ctx context.Context) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.first + int64(len(j.entries)) - 1, nil
}

func (j *MemoryJournal) Prune(ctx context.Context, keepIndex int64, minAge time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	cutoff := time.Now().Add(-minAge)
	var pruned int64
	for len(j.entries) > 0 {
		e := &j.entries[0]
		if e.Index >= keepIndex || e.CommitTime.After(cutoff) {
			break
		}
		j.entries = j.entries[1:]
		j.first = e.Index + 1
		pruned++
	}
	return pruned, nil
}

func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.closed {
		j.closed = true
		close(j.signal)
		j.signal = make(chan struct{})
	}
	return nil
}
