// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package executor applies commands to the local replica. The standalone
// executor applies directly; the replicated executor serializes every
// mutation through the replication journal first, so all replicas hand
// the same sequence of commands to the same apply code.
package executor

import (
	"context"
	"encoding/json"

	"github.com/antgroup/vega/pkg/command"
)

// Executor runs commands. Reads bypass ordering; mutations are ordered
// by the implementation's contract.
type Executor interface {
	// Execute runs one command and returns its typed result. For a
	// command forwarded to another replica the result is the leader's
	// response as raw JSON.
	Execute(ctx context.Context, cmd *command.Command) (any, error)
	// Start brings the executor to serving state, replaying any journal
	// backlog first.
	Start(ctx context.Context) error
	// Stop drains the executor. New commands fail with shutting-down.
	Stop(ctx context.Context) error
}

// Forwarder delivers a command envelope to the leader replica and
// returns its response. The HTTP layer provides the implementation.
type Forwarder interface {
	Forward(ctx context.Context, leaderURL string, cmd *command.Command) (json.RawMessage, error)
}
