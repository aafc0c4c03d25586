// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/project"
	"github.com/antgroup/vega/pkg/replication"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// pollInterval paces the journal tail poll for journals that cannot
// signal new entries.
const pollInterval = 100 * time.Millisecond

type applyResult struct {
	value any
	err   error
}

// journalWaiter is the optional fast path a journal may offer instead of
// polling.
type journalWaiter interface {
	Wait(ctx context.Context, from int64) error
}

// Replicated serializes every mutation through the journal. The issuing
// replica appends; every replica's apply loop reads entries in index
// order and hands them to the shared applier exactly once, tracked by
// the durable progress file. A non-leader replica forwards writes to the
// leader instead of appending itself.
type Replicated struct {
	replicaID string
	journal   replication.Journal
	elector   replication.LeaderElector
	progress  *replication.Progress
	applier   *applier
	quota     *replication.WriteQuota
	forwarder Forwarder

	mu      sync.Mutex
	pending map[string]chan applyResult // idempotency key -> waiter
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

type ReplicatedConfig struct {
	ReplicaID string
	Journal   replication.Journal
	Elector   replication.LeaderElector
	Progress  *replication.Progress
	Manager   *project.Manager
	State     *State
	Quota     *replication.WriteQuota
	Forwarder Forwarder
}

func NewReplicated(cfg *ReplicatedConfig) *Replicated {
	return &Replicated{
		replicaID: cfg.ReplicaID,
		journal:   cfg.Journal,
		elector:   cfg.Elector,
		progress:  cfg.Progress,
		applier:   &applier{manager: cfg.Manager, state: cfg.State},
		quota:     cfg.Quota,
		forwarder: cfg.Forwarder,
		pending:   make(map[string]chan applyResult),
	}
}

// Start replays the journal backlog, then begins consuming the tail.
func (e *Replicated) Start(ctx context.Context) error {
	if err := e.catchUp(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.applyLoop(runCtx)
	return nil
}

// catchUp applies everything between the progress file and the journal
// head with the replay flag up.
func (e *Replicated) catchUp(ctx context.Context) error {
	next := e.progress.LastApplied() + 1
	for {
		entries, err := e.journal.Read(ctx, next, 128)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if next > 0 {
				logrus.Infof("replica %s caught up at index %d", e.replicaID, next-1)
			}
			return nil
		}
		for i := range entries {
			if err := e.applyEntry(ctx, &entries[i], true); err != nil {
				return err
			}
		}
		next = entries[len(entries)-1].Index + 1
	}
}

func (e *Replicated) applyLoop(ctx context.Context) {
	defer close(e.done)
	waiter, canWait := e.journal.(journalWaiter)
	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 5 * time.Second
	retry.MaxElapsedTime = 0
	for {
		next := e.progress.LastApplied() + 1
		entries, err := e.journal.Read(ctx, next, 64)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Warnf("journal read at %d: %v", next, err)
			entries = nil
		}
		if len(entries) == 0 {
			if canWait {
				if waiter.Wait(ctx, next) != nil && ctx.Err() != nil {
					return
				}
			} else {
				select {
				case <-time.After(pollInterval):
				case <-ctx.Done():
					return
				}
			}
			continue
		}
		faulted := false
		for i := range entries {
			if ctx.Err() != nil {
				return
			}
			if err := e.applyEntry(ctx, &entries[i], false); err != nil {
				if ctx.Err() != nil {
					return
				}
				// progress did not advance; back off and retry the
				// same index rather than abandoning the log
				logrus.Errorf("apply journal index %d: %v (retrying)", entries[i].Index, err)
				faulted = true
				break
			}
		}
		if faulted {
			select {
			case <-time.After(retry.NextBackOff()):
			case <-ctx.Done():
				return
			}
			continue
		}
		retry.Reset()
	}
}

// applyEntry hands one committed entry to the applier and records the
// advance. A deterministic failure is part of the command's result, not
// of the log: it resolves the issuer's waiter and the index still counts
// as applied, since every replica computes the same failure from the
// same input. A local fault (disk full, permissions) must NOT advance
// progress — skipping the entry here while other replicas apply it would
// silently fork this replica's state — so it surfaces to the caller for
// a retry of the same index.
func (e *Replicated) applyEntry(ctx context.Context, entry *replication.Entry, isReplay bool) error {
	if expect := e.progress.LastApplied() + 1; entry.Index != expect {
		logrus.Errorf("journal gap: expected index %d, read %d", expect, entry.Index)
		return model.NewErrReplicationUnavailable("journal gap at index %d", expect)
	}
	cmd, err := command.Unmarshal(entry.Command)
	if err != nil {
		// An undecodable entry poisons every replica equally; skip it.
		logrus.Errorf("journal index %d: undecodable command: %v", entry.Index, err)
		return e.progress.Store(entry.Index)
	}
	value, applyErr := e.applier.apply(ctx, cmd, isReplay)
	if applyErr != nil && !commandOutcome(applyErr) {
		return applyErr
	}
	if err := e.progress.Store(entry.Index); err != nil {
		return err
	}
	e.resolve(cmd.IdempotencyKey, applyResult{value: value, err: applyErr})
	if applyErr != nil && entry.ReplicaID != e.replicaID {
		logrus.Debugf("journal index %d (%s): %v", entry.Index, cmd, applyErr)
	}
	return nil
}

// commandOutcome reports whether err is the command's own deterministic
// result, computed from the log and the state every replica shares.
// Anything else is an environmental fault local to this replica.
func commandOutcome(err error) bool {
	return model.IsErrAlreadyExists(err) ||
		model.IsErrNotFound(err) ||
		model.IsErrChangeConflict(err) ||
		model.IsErrRedundantChange(err) ||
		model.IsErrInvalidRequest(err) ||
		model.IsErrQueryFailure(err) ||
		model.IsErrForbidden(err) ||
		model.IsErrQuotaExceeded(err)
}

func (e *Replicated) resolve(key string, res applyResult) {
	e.mu.Lock()
	ch, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (e *Replicated) Execute(ctx context.Context, cmd *command.Command) (any, error) {
	if !cmd.Mutates() {
		return e.applier.apply(ctx, cmd, false)
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, model.ErrShuttingDown
	}
	e.mu.Unlock()
	if !e.elector.IsLeader() {
		return e.forward(ctx, cmd)
	}
	if err := gateWrite(e.applier.state, e.quota, cmd); err != nil {
		return nil, err
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	// Register interest before appending; the apply loop may otherwise
	// finish the entry before the waiter exists.
	ch := make(chan applyResult, 1)
	e.mu.Lock()
	e.pending[cmd.IdempotencyKey] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, cmd.IdempotencyKey)
		e.mu.Unlock()
	}()
	if _, err := e.journal.Append(ctx, e.replicaID, b); err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		// The append is authoritative; the command will still apply. The
		// caller merely abandons its handle.
		return nil, ctx.Err()
	}
}

func (e *Replicated) forward(ctx context.Context, cmd *command.Command) (any, error) {
	url := e.elector.LeaderURL()
	if url == "" || e.forwarder == nil {
		return nil, model.NewErrReplicationUnavailable("no leader available")
	}
	raw, err := e.forwarder.Forward(ctx, url, cmd)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Stop drains: new commands are rejected, parked issuers resolve with
// shutting-down, and the apply loop exits at an entry boundary.
func (e *Replicated) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	waiters := e.pending
	e.pending = make(map[string]chan applyResult)
	e.mu.Unlock()
	for _, ch := range waiters {
		ch <- applyResult{err: model.ErrShuttingDown}
	}
	if e.cancel != nil {
		e.cancel()
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

var _ Executor = &Replicated{}
