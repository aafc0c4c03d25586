// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/project"
	"github.com/antgroup/vega/pkg/replication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuthor = model.Author{Name: "alice", Email: "alice@vega.io"}

func testStandalone(t *testing.T) (*Standalone, *project.Manager) {
	t.Helper()
	dir := t.TempDir()
	manager, err := project.NewManager(dir, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	state, err := OpenState(dir)
	require.NoError(t, err)
	return NewStandalone(manager, state, nil), manager
}

func execute(t *testing.T, e Executor, cmd *command.Command) any {
	t.Helper()
	v, err := e.Execute(context.Background(), cmd)
	require.NoError(t, err)
	return v
}

func TestCreatePushList(t *testing.T) {
	e, manager := testStandalone(t)
	now := time.Now()

	execute(t, e, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, e, command.NewCreateRepository(testAuthor, now, "p", "r"))

	res := execute(t, e, command.NewPush(testAuthor, now, "p", "r", model.Head,
		model.CommitMessage{Summary: "init"},
		[]model.Change{model.UpsertJSON("/a.json", json.RawMessage(`{"k":1}`))}))
	push := res.(*model.PushResult)
	assert.Equal(t, model.Revision(2), push.Revision)

	r, err := manager.Repo("p", "r")
	require.NoError(t, err)
	entries, err := r.Find(context.Background(), model.Head, "/**", nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/a.json", entries[0].Path)
	assert.Equal(t, model.EntryJSON, entries[0].Type)

	entry, err := r.Get(context.Background(), model.Head, model.Identity("/a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":1}`, entry.Content)
}

func TestNormalizeRevisionCommand(t *testing.T) {
	e, _ := testStandalone(t)
	now := time.Now()
	execute(t, e, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, e, command.NewCreateRepository(testAuthor, now, "p", "r"))

	rev := execute(t, e, command.NewNormalizeRevision(testAuthor, now, "p", "r", model.Head))
	assert.Equal(t, model.Revision(1), rev)
	rev = execute(t, e, command.NewNormalizeRevision(testAuthor, now, "p", "r", 0))
	assert.Equal(t, model.Revision(1), rev)
	_, err := e.Execute(context.Background(), command.NewNormalizeRevision(testAuthor, now, "p", "r", 7))
	assert.True(t, model.IsErrNotFound(err))
}

func TestMetaRepoPathPolicy(t *testing.T) {
	e, _ := testStandalone(t)
	now := time.Now()
	execute(t, e, command.NewCreateProject(testAuthor, now, "p"))

	_, err := e.Execute(context.Background(), command.NewPush(testAuthor, now, "p", model.MetaRepo, model.Head,
		model.CommitMessage{Summary: "sneak"},
		[]model.Change{model.UpsertJSON("/evil.json", json.RawMessage(`{}`))}))
	assert.True(t, model.IsErrInvalidRequest(err))

	execute(t, e, command.NewPush(testAuthor, now, "p", model.MetaRepo, model.Head,
		model.CommitMessage{Summary: "credential"},
		[]model.Change{model.UpsertJSON("/credentials/deploy.json", json.RawMessage(`{"id":"x"}`))}))
}

func TestTransformCommand(t *testing.T) {
	command.RegisterTransform("exec-test-bump", func(current []byte, arg json.RawMessage) ([]byte, error) {
		var doc map[string]int
		if err := json.Unmarshal(current, &doc); err != nil {
			return nil, err
		}
		doc["n"]++
		return json.Marshal(doc)
	})
	e, _ := testStandalone(t)
	now := time.Now()
	execute(t, e, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, e, command.NewCreateRepository(testAuthor, now, "p", "r"))

	// target absent: typed not-found
	_, err := e.Execute(context.Background(),
		command.NewTransform(testAuthor, now, "p", "r", "bump", "/c.json", "exec-test-bump", nil))
	assert.True(t, model.IsErrNotFound(err))

	execute(t, e, command.NewPush(testAuthor, now, "p", "r", model.Head,
		model.CommitMessage{Summary: "seed"},
		[]model.Change{model.UpsertJSON("/c.json", json.RawMessage(`{"n":1}`))}))
	res := execute(t, e,
		command.NewTransform(testAuthor, now, "p", "r", "bump", "/c.json", "exec-test-bump", nil))
	assert.Equal(t, model.Revision(3), res.(*model.PushResult).Revision)
}

func TestReadOnlyMode(t *testing.T) {
	e, _ := testStandalone(t)
	now := time.Now()
	execute(t, e, command.NewCreateProject(testAuthor, now, "p"))

	execute(t, e, command.NewUpdateServerStatus(testAuthor, now,
		model.ServerStatus{Writable: false, Replicating: true}))
	_, err := e.Execute(context.Background(), command.NewCreateProject(testAuthor, now, "q"))
	assert.True(t, model.IsErrForbidden(err))

	// the switch itself stays writable, or nobody could flip it back
	execute(t, e, command.NewUpdateServerStatus(testAuthor, now,
		model.ServerStatus{Writable: true, Replicating: true}))
	execute(t, e, command.NewCreateProject(testAuthor, now, "q"))
}

func TestSessionCommands(t *testing.T) {
	e, _ := testStandalone(t)
	now := time.Now()
	session := model.Session{ID: "s-1", Username: "alice", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	execute(t, e, command.NewCreateSession(testAuthor, now, session))

	got, ok := e.applier.state.Session("s-1", now)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)

	execute(t, e, command.NewRemoveSession(testAuthor, now, "s-1"))
	_, ok = e.applier.state.Session("s-1", now)
	assert.False(t, ok)
}

func TestQuotaEnforcement(t *testing.T) {
	dir := t.TempDir()
	manager, err := project.NewManager(dir, time.Minute)
	require.NoError(t, err)
	defer manager.Close() // nolint: errcheck
	state, err := OpenState(dir)
	require.NoError(t, err)
	e := NewStandalone(manager, state, replication.NewWriteQuota(5, time.Second))
	now := time.Now()
	execute(t, e, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, e, command.NewCreateRepository(testAuthor, now, "p", "r"))

	succeeded, throttled := 0, 0
	for i := 0; i < 10; i++ {
		_, err := e.Execute(context.Background(), command.NewPush(testAuthor, now, "p", "r", model.Head,
			model.CommitMessage{Summary: "w"},
			[]model.Change{model.UpsertText("/w.txt", time.Now().String()+"\n")}))
		switch {
		case err == nil:
			succeeded++
		case model.IsErrQuotaExceeded(err):
			throttled++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	// one extra token may refill while the successful pushes hit disk
	assert.GreaterOrEqual(t, succeeded, 5)
	assert.LessOrEqual(t, succeeded, 6)
	assert.Equal(t, 10, succeeded+throttled)
}

func TestShutdownRejectsCommands(t *testing.T) {
	e, _ := testStandalone(t)
	require.NoError(t, e.Stop(context.Background()))
	_, err := e.Execute(context.Background(), command.NewCreateProject(testAuthor, time.Now(), "p"))
	assert.ErrorIs(t, err, model.ErrShuttingDown)
}
