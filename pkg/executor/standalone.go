// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"sync"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/project"
	"github.com/antgroup/vega/pkg/replication"
)

// Standalone applies commands directly, with no journal between accept
// and apply. It is the executor of a replica running with replication
// method NONE, and of tests.
type Standalone struct {
	applier *applier
	quota   *replication.WriteQuota

	mu     sync.Mutex
	closed bool
}

func NewStandalone(manager *project.Manager, state *State, quota *replication.WriteQuota) *Standalone {
	return &Standalone{
		applier: &applier{manager: manager, state: state},
		quota:   quota,
	}
}

func (e *Standalone) Start(ctx context.Context) error { return nil }

func (e *Standalone) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Standalone) Execute(ctx context.Context, cmd *command.Command) (any, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, model.ErrShuttingDown
	}
	if err := gateWrite(e.applier.state, e.quota, cmd); err != nil {
		return nil, err
	}
	return e.applier.apply(ctx, cmd, false)
}

// gateWrite is the admission control shared by both executors: the
// read-only switch blocks every mutation except the one that flips it
// back, and pushes spend a quota token.
func gateWrite(state *State, quota *replication.WriteQuota, cmd *command.Command) error {
	if !cmd.Mutates() {
		return nil
	}
	if !state.Status().Writable && cmd.Type != command.TypeUpdateServerStatus {
		return model.NewErrForbidden("server is in read-only mode")
	}
	switch cmd.Type {
	case command.TypePush, command.TypeTransform:
		return quota.Allow(cmd.Project, cmd.Repo)
	}
	return nil
}

var _ Executor = &Standalone{}
