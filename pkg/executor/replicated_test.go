// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/project"
	"github.com/antgroup/vega/pkg/replication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// followerElector makes a replica a permanent follower of leaderID.
type followerElector struct {
	leaderID string
}

func (e *followerElector) Start(ctx context.Context) error { return nil }
func (e *followerElector) Stop() error                     { return nil }
func (e *followerElector) IsLeader() bool                  { return false }
func (e *followerElector) LeaderID() string                { return e.leaderID }
func (e *followerElector) LeaderURL() string               { return "test://" + e.leaderID }

// localForwarder short-circuits the HTTP hop in tests: forwarded
// commands execute directly on the leader executor.
type localForwarder struct {
	leader Executor
}

func (f *localForwarder) Forward(ctx context.Context, leaderURL string, cmd *command.Command) (json.RawMessage, error) {
	v, err := f.leader.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func newReplica(t *testing.T, id string, journal replication.Journal, elector replication.LeaderElector, forwarder Forwarder) (*Replicated, *project.Manager) {
	t.Helper()
	dir := t.TempDir()
	manager, err := project.NewManager(dir, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	state, err := OpenState(dir)
	require.NoError(t, err)
	progress, err := replication.OpenProgress(dir)
	require.NoError(t, err)
	e := NewReplicated(&ReplicatedConfig{
		ReplicaID: id,
		Journal:   journal,
		Elector:   elector,
		Progress:  progress,
		Manager:   manager,
		State:     state,
		Quota:     nil,
		Forwarder: forwarder,
	})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, manager
}

func waitForHead(t *testing.T, manager *project.Manager, project, repo string, head model.Revision) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := manager.Repo(project, repo)
		if err != nil {
			return false
		}
		return r.Head() >= head
	}, 10*time.Second, 5*time.Millisecond)
}

func TestReplicatedSingleReplica(t *testing.T) {
	journal := replication.NewMemoryJournal()
	leader, manager := newReplica(t, "replica-1", journal,
		replication.NewStaticElector("replica-1", nil), nil)
	now := time.Now()

	execute(t, leader, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, leader, command.NewCreateRepository(testAuthor, now, "p", "r"))
	res := execute(t, leader, command.NewPush(testAuthor, now, "p", "r", model.Head,
		model.CommitMessage{Summary: "init"},
		[]model.Change{model.UpsertJSON("/a.json", json.RawMessage(`{"k":1}`))}))
	assert.Equal(t, model.Revision(2), res.(*model.PushResult).Revision)

	r, err := manager.Repo("p", "r")
	require.NoError(t, err)
	assert.Equal(t, model.Revision(2), r.Head())

	head, err := journal.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)
}

func TestReplicatedOrderingUnderConcurrentWriters(t *testing.T) {
	const n = 25
	journal := replication.NewMemoryJournal()
	leader, leaderManager := newReplica(t, "replica-1", journal,
		replication.NewStaticElector("replica-1", nil), nil)
	follower, followerManager := newReplica(t, "replica-2", journal,
		&followerElector{leaderID: "replica-1"}, &localForwarder{leader: leader})
	now := time.Now()

	execute(t, leader, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, leader, command.NewCreateRepository(testAuthor, now, "p", "r"))

	push := func(e Executor, client string, i int) error {
		_, err := e.Execute(context.Background(), command.NewPush(testAuthor, time.Now(), "p", "r", model.Head,
			model.CommitMessage{Summary: fmt.Sprintf("%s-%d", client, i)},
			[]model.Change{model.UpsertText("/counter.txt", fmt.Sprintf("%s %d\n", client, i))}))
		return err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, push(leader, "a", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, push(follower, "b", i))
		}
	}()
	wg.Wait()

	waitForHead(t, leaderManager, "p", "r", model.Revision(1+2*n))
	waitForHead(t, followerManager, "p", "r", model.Revision(1+2*n))

	lr, err := leaderManager.Repo("p", "r")
	require.NoError(t, err)
	fr, err := followerManager.Repo("p", "r")
	require.NoError(t, err)
	assert.Equal(t, model.Revision(1+2*n), lr.Head())
	assert.Equal(t, model.Revision(1+2*n), fr.Head())

	// dense revisions, identical histories including every summary
	ctx := context.Background()
	lh, err := lr.History(ctx, 1, model.Head, "/**", 4*n)
	require.NoError(t, err)
	fh, err := fr.History(ctx, 1, model.Head, "/**", 4*n)
	require.NoError(t, err)
	require.Len(t, lh, 1+2*n)
	seen := map[string]int{}
	for i, c := range lh {
		assert.Equal(t, model.Revision(i+1), c.Revision)
		assert.Equal(t, fh[i].Revision, c.Revision)
		assert.Equal(t, fh[i].CommitMessage.Summary, c.CommitMessage.Summary)
		seen[c.CommitMessage.Summary]++
	}
	for summary, count := range seen {
		assert.Equal(t, 1, count, "summary %s duplicated", summary)
	}

	// replicas converge to bit-identical head commit IDs
	_, ltip, err := lr.Tip()
	require.NoError(t, err)
	_, ftip, err := fr.Tip()
	require.NoError(t, err)
	assert.Equal(t, ltip, ftip)
}

func TestLocalFaultDoesNotAdvanceProgress(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	manager, err := project.NewManager(filepath.Join(dir, "data"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	state, err := OpenState(stateDir)
	require.NoError(t, err)
	progress, err := replication.OpenProgress(dir)
	require.NoError(t, err)
	e := NewReplicated(&ReplicatedConfig{
		ReplicaID: "replica-1",
		Journal:   replication.NewMemoryJournal(),
		Elector:   replication.NewStaticElector("replica-1", nil),
		Progress:  progress,
		Manager:   manager,
		State:     state,
	})

	cmd := command.NewCreateSession(testAuthor, time.Now(), model.Session{
		ID: "s-1", Username: "alice", ExpiresAt: time.Now().Add(time.Hour),
	})
	b, err := json.Marshal(cmd)
	require.NoError(t, err)
	entry := replication.Entry{Index: 0, ReplicaID: "replica-2", Command: b, CommitTime: time.Now()}

	// a disk fault while applying must not count the entry as applied
	require.NoError(t, os.RemoveAll(stateDir))
	err = e.applyEntry(context.Background(), &entry, false)
	require.Error(t, err)
	assert.False(t, commandOutcome(err))
	assert.Equal(t, int64(-1), progress.LastApplied())

	// once the fault clears, retrying the same index succeeds
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	require.NoError(t, e.applyEntry(context.Background(), &entry, false))
	assert.Equal(t, int64(0), progress.LastApplied())

	// a deterministic failure is the command's result and does advance
	dup := command.NewRemoveSession(testAuthor, time.Now(), "no-such-session")
	b, err = json.Marshal(dup)
	require.NoError(t, err)
	next := replication.Entry{Index: 1, ReplicaID: "replica-2", Command: b, CommitTime: time.Now()}
	require.NoError(t, e.applyEntry(context.Background(), &next, false))
	assert.Equal(t, int64(1), progress.LastApplied())
}

func TestReplayIdempotence(t *testing.T) {
	journal := replication.NewMemoryJournal()
	leader, leaderManager := newReplica(t, "replica-1", journal,
		replication.NewStaticElector("replica-1", nil), nil)
	now := time.Now()

	execute(t, leader, command.NewCreateProject(testAuthor, now, "p"))
	execute(t, leader, command.NewCreateRepository(testAuthor, now, "p", "r"))
	for i := 0; i < 5; i++ {
		execute(t, leader, command.NewPush(testAuthor, now.Add(time.Duration(i)*time.Second), "p", "r", model.Head,
			model.CommitMessage{Summary: fmt.Sprintf("change %d", i)},
			[]model.Change{model.UpsertJSON("/doc.json", json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)))}))
	}

	// a fresh replica replays the whole journal and lands on the same
	// head commit ID
	fresh, freshManager := newReplica(t, "replica-3", journal,
		&followerElector{leaderID: "replica-1"}, nil)
	_ = fresh
	// revision 1 is the init commit, the 5 pushes land on 2..6
	waitForHead(t, freshManager, "p", "r", 6)

	lr, err := leaderManager.Repo("p", "r")
	require.NoError(t, err)
	fr, err := freshManager.Repo("p", "r")
	require.NoError(t, err)
	_, ltip, err := lr.Tip()
	require.NoError(t, err)
	_, ftip, err := fr.Tip()
	require.NoError(t, err)
	assert.Equal(t, ltip, ftip)

	// the dogma metadata histories converge as well
	ld, err := leaderManager.Repo("p", model.DogmaRepo)
	require.NoError(t, err)
	fd, err := freshManager.Repo("p", model.DogmaRepo)
	require.NoError(t, err)
	_, ldTip, err := ld.Tip()
	require.NoError(t, err)
	_, fdTip, err := fd.Tip()
	require.NoError(t, err)
	assert.Equal(t, ldTip, fdTip)
}

func TestFollowerWithoutLeaderFails(t *testing.T) {
	journal := replication.NewMemoryJournal()
	follower, _ := newReplica(t, "replica-2", journal, &followerElector{leaderID: ""}, nil)
	_, err := follower.Execute(context.Background(),
		command.NewCreateProject(testAuthor, time.Now(), "p"))
	assert.True(t, model.IsErrReplicationUnavailable(err))
}
