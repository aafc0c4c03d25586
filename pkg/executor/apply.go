// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/project"
	"github.com/sirupsen/logrus"
)

// applier translates committed commands into concrete store operations.
// It is shared by both executors; the replicated one is simply an
// ordering layer in front of it.
type applier struct {
	manager *project.Manager
	state   *State
}

// apply runs one command. isReplay marks catch-up at startup: commands
// that were (possibly partially) applied before a restart must converge
// instead of failing, and side effects beyond the stores are suppressed.
func (a *applier) apply(ctx context.Context, cmd *command.Command, isReplay bool) (any, error) {
	result, err := a.dispatch(ctx, cmd)
	if err != nil && isReplay && alreadyApplied(err) {
		logrus.Debugf("replay %s: already applied (%v)", cmd, err)
		return nil, nil
	}
	return result, err
}

// alreadyApplied recognizes the deterministic outcomes of re-running a
// command whose effect is present: the state it wanted to create exists,
// the state it wanted to remove is gone, or its base revision has been
// consumed.
func alreadyApplied(err error) bool {
	return model.IsErrAlreadyExists(err) ||
		model.IsErrNotFound(err) ||
		model.IsErrChangeConflict(err) ||
		model.IsErrRedundantChange(err) ||
		model.IsErrInvalidRequest(err)
}

func (a *applier) dispatch(ctx context.Context, cmd *command.Command) (any, error) {
	switch cmd.Type {
	case command.TypeCreateProject:
		return a.manager.Create(ctx, cmd.Project, cmd.Author, cmd.Timestamp)
	case command.TypeRemoveProject:
		return nil, a.manager.Remove(ctx, cmd.Project, cmd.Author, cmd.Timestamp)
	case command.TypeUnremoveProject:
		return nil, a.manager.Unremove(ctx, cmd.Project, cmd.Author, cmd.Timestamp)
	case command.TypePurgeProject:
		return nil, a.manager.Purge(cmd.Project, cmd.Timestamp)
	case command.TypeCreateRepository:
		return a.manager.CreateRepo(ctx, cmd.Project, cmd.Repo, cmd.Author, cmd.Timestamp)
	case command.TypeRemoveRepository:
		return nil, a.manager.RemoveRepo(ctx, cmd.Project, cmd.Repo, cmd.Author, cmd.Timestamp)
	case command.TypeUnremoveRepository:
		return nil, a.manager.UnremoveRepo(ctx, cmd.Project, cmd.Repo, cmd.Author, cmd.Timestamp)
	case command.TypePurgeRepository:
		return nil, a.manager.PurgeRepo(ctx, cmd.Project, cmd.Repo, cmd.Author, cmd.Timestamp)
	case command.TypeNormalizeRevision:
		return a.normalize(cmd)
	case command.TypePush:
		return a.push(ctx, cmd)
	case command.TypeTransform:
		return a.transform(ctx, cmd)
	case command.TypeCreateSession:
		p := cmd.Payload.(*command.CreateSession)
		session := p.Session
		return &session, a.state.AddSession(&session)
	case command.TypeRemoveSession:
		p := cmd.Payload.(*command.RemoveSession)
		return nil, a.state.RemoveSession(p.SessionID)
	case command.TypeUpdateServerStatus:
		p := cmd.Payload.(*command.UpdateServerStatus)
		return &p.Status, a.state.SetStatus(p.Status)
	}
	return nil, fmt.Errorf("executor: unhandled command type %q", cmd.Type)
}

func (a *applier) normalize(cmd *command.Command) (model.Revision, error) {
	p := cmd.Payload.(*command.NormalizeRevision)
	r, err := a.manager.Repo(cmd.Project, cmd.Repo)
	if err != nil {
		return 0, err
	}
	return r.Normalize(p.Revision)
}

func (a *applier) push(ctx context.Context, cmd *command.Command) (*model.PushResult, error) {
	p := cmd.Payload.(*command.Push)
	if cmd.Repo == model.MetaRepo {
		for i := range p.Changes {
			if !project.MetaWritable(p.Changes[i].Path) {
				return nil, model.NewErrInvalidRequest("meta repository refuses path %s", p.Changes[i].Path)
			}
		}
	}
	r, err := a.manager.Repo(cmd.Project, cmd.Repo)
	if err != nil {
		return nil, err
	}
	return r.Commit(ctx, p.BaseRevision, cmd.Author, cmd.Timestamp, p.Message, p.Changes)
}

// transform evaluates the registered transform against the content
// current at apply time. That the evaluation happens here, inside the
// ordered apply path, is what makes register/deregister workflows safe:
// two racing transforms see each other's output, not a shared stale
// base.
func (a *applier) transform(ctx context.Context, cmd *command.Command) (*model.PushResult, error) {
	p := cmd.Payload.(*command.Transform)
	r, err := a.manager.Repo(cmd.Project, cmd.Repo)
	if err != nil {
		return nil, err
	}
	fn, err := command.LookupTransform(p.Func)
	if err != nil {
		return nil, model.NewErrInvalidRequest("%v", err)
	}
	entry, err := r.Get(ctx, model.Head, model.Identity(p.Path))
	if err != nil {
		return nil, err
	}
	next, err := fn([]byte(entry.Content), p.Argument)
	if err != nil {
		return nil, model.NewErrChangeConflict("transform %s on %s: %v", p.Func, p.Path, err)
	}
	var change model.Change
	if model.EntryTypeFromPath(p.Path) == model.EntryJSON {
		change = model.UpsertJSON(p.Path, json.RawMessage(next))
	} else {
		change = model.UpsertText(p.Path, string(next))
	}
	return r.Commit(ctx, model.Head, cmd.Author, cmd.Timestamp,
		model.CommitMessage{Summary: p.Summary}, []model.Change{change})
}
