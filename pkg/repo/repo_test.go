// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/antgroup/vega/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAuthor = model.Author{Name: "bot", Email: "bot@vega.io"}
	testWhen   = time.UnixMilli(1700000000000).In(time.UTC)
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Open("acme", "main", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background(), model.SystemAuthor, testWhen))
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r
}

func mustPush(t *testing.T, r *Repository, base model.Revision, summary string, changes ...model.Change) *model.PushResult {
	t.Helper()
	result, err := r.Commit(context.Background(), base, testAuthor, testWhen, model.CommitMessage{Summary: summary}, changes)
	require.NoError(t, err)
	return result
}

func TestInitialize(t *testing.T) {
	r := testRepo(t)
	assert.Equal(t, model.Revision(1), r.Head())

	commits, err := r.History(context.Background(), 1, 1, "", 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, InitSummary, commits[0].CommitMessage.Summary)
	assert.Equal(t, model.SystemAuthor.Name, commits[0].Author.Name)

	entries, err := r.Find(context.Background(), 1, "/**", nil)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// initializing again is a no-op, not an error
	require.NoError(t, r.Initialize(context.Background(), model.SystemAuthor, testWhen))
	assert.Equal(t, model.Revision(1), r.Head())
}

func TestCommitAndGet(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	result := mustPush(t, r, model.Head, "Add a.json", model.UpsertJSON("/a.json", []byte(`{ "a": "apple" }`)))
	assert.Equal(t, model.Revision(2), result.Revision)
	assert.Equal(t, model.Revision(2), r.Head())

	entry, err := r.Get(ctx, model.Head, model.Identity("/a.json"))
	require.NoError(t, err)
	assert.Equal(t, model.EntryJSON, entry.Type)
	assert.Equal(t, `{"a":"apple"}`, entry.Content)
	assert.Equal(t, model.Revision(2), entry.Revision)

	value, err := r.Get(ctx, model.Head, model.JSONPath("/a.json", "$.a"))
	require.NoError(t, err)
	assert.Equal(t, `"apple"`, value.Content)
}

func TestNormalizeBounds(t *testing.T) {
	r := testRepo(t)
	mustPush(t, r, model.Head, "Add a", model.UpsertText("/a.txt", "a\n"))

	for _, tc := range []struct {
		rev  model.Revision
		abs  model.Revision
		fail bool
	}{
		{rev: 0, abs: 2},
		{rev: -1, abs: 2},
		{rev: -2, abs: 1},
		{rev: 1, abs: 1},
		{rev: 2, abs: 2},
		{rev: -3, fail: true},
		{rev: 3, fail: true},
	} {
		abs, err := r.Normalize(tc.rev)
		if tc.fail {
			assert.True(t, model.IsErrNotFound(err), "revision %d", tc.rev)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.abs, abs, "revision %d", tc.rev)
	}
}

func TestCommitRejectsEmptyChanges(t *testing.T) {
	r := testRepo(t)
	_, err := r.Commit(context.Background(), model.Head, testAuthor, testWhen, model.CommitMessage{Summary: "nothing"}, nil)
	assert.True(t, model.IsErrInvalidRequest(err))
}

func TestCommitRequiresSummary(t *testing.T) {
	r := testRepo(t)
	_, err := r.Commit(context.Background(), model.Head, testAuthor, testWhen, model.CommitMessage{}, []model.Change{model.UpsertText("/a.txt", "a")})
	assert.True(t, model.IsErrInvalidRequest(err))
}

func TestCommitBaseMustBeHead(t *testing.T) {
	r := testRepo(t)
	mustPush(t, r, model.Head, "Add a", model.UpsertText("/a.txt", "a\n"))

	_, err := r.Commit(context.Background(), 1, testAuthor, testWhen,
		model.CommitMessage{Summary: "stale"}, []model.Change{model.UpsertText("/b.txt", "b\n")})
	assert.True(t, model.IsErrChangeConflict(err))
	assert.Equal(t, model.Revision(2), r.Head())
}

func TestCommitRedundant(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Add a", model.UpsertJSON("/a.json", []byte(`{"a":1}`)))

	// identical content, different formatting: still no new tree
	_, err := r.Commit(ctx, model.Head, testAuthor, testWhen,
		model.CommitMessage{Summary: "same"}, []model.Change{model.UpsertJSON("/a.json", []byte(`{ "a" : 1 }`))})
	assert.True(t, model.IsErrRedundantChange(err))

	// changes that cancel out are redundant too
	_, err = r.Commit(ctx, model.Head, testAuthor, testWhen,
		model.CommitMessage{Summary: "cancel"}, []model.Change{
			model.UpsertText("/tmp.txt", "x\n"),
			model.Remove("/tmp.txt"),
		})
	assert.True(t, model.IsErrRedundantChange(err))
	assert.Equal(t, model.Revision(2), r.Head())
}

func TestCommitRemoveMissing(t *testing.T) {
	r := testRepo(t)
	_, err := r.Commit(context.Background(), model.Head, testAuthor, testWhen,
		model.CommitMessage{Summary: "remove"}, []model.Change{model.Remove("/ghost.txt")})
	assert.True(t, model.IsErrChangeConflict(err))
}

func TestCommitInvalidPath(t *testing.T) {
	r := testRepo(t)
	for _, path := range []string{"a.txt", "/", "/a//b.txt", "/../a.txt", "/a.txt/"} {
		_, err := r.Commit(context.Background(), model.Head, testAuthor, testWhen,
			model.CommitMessage{Summary: "bad"}, []model.Change{model.UpsertText(path, "x")})
		assert.True(t, model.IsErrInvalidRequest(err), "path %q", path)
	}
}

func TestCommitOrderingWithinPush(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	// the rename sees the file the first change created
	mustPush(t, r, model.Head, "Add and rename",
		model.UpsertText("/old.txt", "payload\n"),
		model.Rename("/old.txt", "/new.txt"),
	)
	_, err := r.Get(ctx, model.Head, model.Identity("/old.txt"))
	assert.True(t, model.IsErrNotFound(err))
	entry, err := r.Get(ctx, model.Head, model.Identity("/new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload\n", entry.Content)
}

func TestCommitJSONCanonicalization(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	mustPush(t, r, model.Head, "Add config",
		model.UpsertJSON("/cfg.json", []byte("{\n  \"b\": 2,\n  \"a\": 1,\n  \"price\": 1.10\n}")))
	entry, err := r.Get(ctx, model.Head, model.Identity("/cfg.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"price":1.10}`, entry.Content)
}

func TestCommitTextNormalization(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	mustPush(t, r, model.Head, "Add notes", model.UpsertText("/notes.txt", "one\r\ntwo\n\n\n"))
	entry, err := r.Get(ctx, model.Head, model.Identity("/notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", entry.Content)
}

func TestCommitInvalidJSONRejected(t *testing.T) {
	r := testRepo(t)
	_, err := r.Commit(context.Background(), model.Head, testAuthor, testWhen,
		model.CommitMessage{Summary: "bad"}, []model.Change{model.UpsertJSON("/a.json", []byte(`{"a":`))})
	assert.True(t, model.IsErrInvalidRequest(err))

	_, err = r.Commit(context.Background(), model.Head, testAuthor, testWhen,
		model.CommitMessage{Summary: "bad"}, []model.Change{model.UpsertText("/a.json", `nope`)})
	assert.True(t, model.IsErrInvalidRequest(err))
}

func TestCommitTimestampsNeverRegress(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	later := testWhen.Add(time.Hour)
	mustPushAt(t, r, later, "Later", model.UpsertText("/a.txt", "a\n"))

	// a wall clock jumping backwards must not produce a regressing history
	result, err := r.Commit(ctx, model.Head, testAuthor, testWhen,
		model.CommitMessage{Summary: "Earlier"}, []model.Change{model.UpsertText("/b.txt", "b\n")})
	require.NoError(t, err)
	assert.True(t, result.PushedAt.Equal(later), "pushed at %s, want %s", result.PushedAt, later)

	commits, err := r.History(ctx, 1, model.Head, "", 0)
	require.NoError(t, err)
	for i := 1; i < len(commits); i++ {
		assert.False(t, commits[i].PushedAt.Before(commits[i-1].PushedAt))
	}
}

func mustPushAt(t *testing.T, r *Repository, when time.Time, summary string, changes ...model.Change) *model.PushResult {
	t.Helper()
	result, err := r.Commit(context.Background(), model.Head, testAuthor, when, model.CommitMessage{Summary: summary}, changes)
	require.NoError(t, err)
	return result
}

func TestConcurrentCommits(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Commit(ctx, model.Head, testAuthor, testWhen,
				model.CommitMessage{Summary: fmt.Sprintf("Writer %d", i)},
				[]model.Change{model.UpsertText(fmt.Sprintf("/w%d.txt", i), "x\n")})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "writer %d", i)
	}
	assert.Equal(t, model.Revision(1+writers), r.Head())

	entries, err := r.Find(ctx, model.Head, "/*.txt", nil)
	require.NoError(t, err)
	assert.Len(t, entries, writers)
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	r, err := Open("acme", "main", dir)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background(), model.SystemAuthor, testWhen))
	mustPush(t, r, model.Head, "Add a", model.UpsertJSON("/a.json", []byte(`{"a":1}`)))
	require.NoError(t, r.Close())

	reopened, err := Open("acme", "main", dir)
	require.NoError(t, err)
	defer reopened.Close() // nolint: errcheck
	assert.Equal(t, model.Revision(2), reopened.Head())
	entry, err := reopened.Get(context.Background(), model.Head, model.Identity("/a.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, entry.Content)
}
