// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"testing"

	"github.com/antgroup/vega/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffKinds(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/keep.json", []byte(`{"k":1}`)),
		model.UpsertJSON("/mod.json", []byte(`{"v":1}`)),
		model.UpsertText("/gone.txt", "bye\n"),
	)
	mustPush(t, r, model.Head, "Mutate",
		model.UpsertJSON("/mod.json", []byte(`{"v":2}`)),
		model.UpsertText("/new.txt", "hi\n"),
		model.Remove("/gone.txt"),
	)

	changes, err := r.Diff(ctx, 2, 3, "")
	require.NoError(t, err)
	byPath := make(map[string]model.Change, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, model.ChangeApplyJSONPatch, byPath["/mod.json"].Type)
	assert.Equal(t, model.ChangeUpsertText, byPath["/new.txt"].Type)
	assert.Equal(t, model.ChangeRemove, byPath["/gone.txt"].Type)

	// an identical pair of revisions yields nothing
	changes, err = r.Diff(ctx, 3, 3, "")
	require.NoError(t, err)
	assert.Empty(t, changes)

	// pattern filters the result
	changes, err = r.Diff(ctx, 2, 3, "/*.txt")
	require.NoError(t, err)
	assert.Len(t, changes, 2)
}

// Applying the diff between two revisions onto the older state must
// reproduce the newer one, whatever mix of files changed.
func TestDiffRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := testRepo(t)
	mustPush(t, a, model.Head, "Seed",
		model.UpsertJSON("/cfg.json", []byte(`{"a":1,"arr":[1,2,3],"nested":{"x":"y"}}`)),
		model.UpsertText("/doc.txt", "line one\nline two\n"),
		model.UpsertText("/app.yaml", "k: v\n"),
	)
	mustPush(t, a, model.Head, "Mutate",
		model.UpsertJSON("/cfg.json", []byte(`{"a":2,"arr":[1,3],"nested":{"x":"z","w":true}}`)),
		model.UpsertText("/doc.txt", "line one\nline 2\nline three\n"),
		model.Remove("/app.yaml"),
		model.UpsertJSON("/extra.json", []byte(`{"fresh":true}`)),
	)

	changes, err := a.Diff(ctx, 2, 3, "")
	require.NoError(t, err)

	b, err := Open("acme", "replica", t.TempDir())
	require.NoError(t, err)
	defer b.Close() // nolint: errcheck
	require.NoError(t, b.Initialize(ctx, model.SystemAuthor, testWhen))
	mustPush(t, b, model.Head, "Seed",
		model.UpsertJSON("/cfg.json", []byte(`{"a":1,"arr":[1,2,3],"nested":{"x":"y"}}`)),
		model.UpsertText("/doc.txt", "line one\nline two\n"),
		model.UpsertText("/app.yaml", "k: v\n"),
	)
	mustPush(t, b, model.Head, "Apply diff", changes...)

	want, err := a.Find(ctx, model.Head, "/**", &FindOptions{FetchContent: true})
	require.NoError(t, err)
	got, err := b.Find(ctx, model.Head, "/**", &FindOptions{FetchContent: true})
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].Path, got[i].Path)
		assert.Equal(t, want[i].Content, got[i].Content, want[i].Path)
	}
}

func TestPreviewDiff(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertJSON("/a.json", []byte(`{"v":1}`)))

	preview, err := r.PreviewDiff(ctx, model.Head, []model.Change{
		model.UpsertJSON("/a.json", []byte(`{"v":2}`)),
		model.UpsertText("/b.txt", "fresh"),
	})
	require.NoError(t, err)
	require.Len(t, preview, 2)
	assert.Equal(t, model.ChangeApplyJSONPatch, preview[0].Type)
	assert.Equal(t, "/a.json", preview[0].Path)
	assert.Equal(t, model.ChangeUpsertText, preview[1].Type)
	assert.Equal(t, "/b.txt", preview[1].Path)

	// previewing writes nothing
	assert.Equal(t, model.Revision(2), r.Head())
}

func TestPreviewDiffRedundant(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertJSON("/a.json", []byte(`{"v":1}`)))

	preview, err := r.PreviewDiff(ctx, model.Head, []model.Change{
		model.UpsertJSON("/a.json", []byte(`{ "v" : 1 }`)),
	})
	require.NoError(t, err)
	assert.Empty(t, preview)
}

func TestPreviewDiffAgainstOldRevision(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertText("/a.txt", "a\n"))
	mustPush(t, r, model.Head, "More", model.UpsertText("/b.txt", "b\n"))

	// previews are not pinned to the head
	preview, err := r.PreviewDiff(ctx, 2, []model.Change{model.UpsertText("/c.txt", "c")})
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, "/c.txt", preview[0].Path)

	_, err = r.PreviewDiff(ctx, 2, []model.Change{model.Remove("/b.txt")})
	assert.True(t, model.IsErrChangeConflict(err), "b.txt does not exist at revision 2")
}

func TestDiffQuery(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertJSON("/cfg.json", []byte(`{"a":{"b":1},"c":2}`)))
	mustPush(t, r, model.Head, "Bump", model.UpsertJSON("/cfg.json", []byte(`{"a":{"b":5},"c":2}`)))

	change, err := r.DiffQuery(ctx, 2, 3, model.JSONPath("/cfg.json", "$.a"))
	require.NoError(t, err)
	assert.Equal(t, model.ChangeApplyJSONPatch, change.Type)
	assert.Equal(t, "/cfg.json", change.Path)

	added, err := r.DiffQuery(ctx, 1, 3, model.Identity("/cfg.json"))
	require.NoError(t, err)
	assert.Equal(t, model.ChangeUpsertJSON, added.Type)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Add a", model.UpsertText("/a.txt", "a\n"))
	mustPush(t, r, model.Head, "Add b", model.UpsertText("/b.txt", "b\n"))
	mustPush(t, r, model.Head, "Touch a", model.UpsertText("/a.txt", "a2\n"))

	asc, err := r.History(ctx, 1, model.Head, "", 0)
	require.NoError(t, err)
	require.Len(t, asc, 4)
	assert.Equal(t, model.Revision(1), asc[0].Revision)
	assert.Equal(t, model.Revision(4), asc[3].Revision)

	desc, err := r.History(ctx, model.Head, 1, "", 0)
	require.NoError(t, err)
	require.Len(t, desc, 4)
	assert.Equal(t, model.Revision(4), desc[0].Revision)
	assert.Equal(t, "Touch a", desc[0].CommitMessage.Summary)

	capped, err := r.History(ctx, model.Head, 1, "", 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, model.Revision(4), capped[0].Revision)
	assert.Equal(t, model.Revision(3), capped[1].Revision)
}

func TestHistoryPathFilter(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Add a", model.UpsertText("/a.txt", "a\n"))
	mustPush(t, r, model.Head, "Add b", model.UpsertText("/b.txt", "b\n"))
	mustPush(t, r, model.Head, "Touch a", model.UpsertText("/a.txt", "a2\n"))

	commits, err := r.History(ctx, model.Head, 1, "/a.txt", 0)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, model.Revision(4), commits[0].Revision)
	assert.Equal(t, model.Revision(2), commits[1].Revision)
}

func TestFind(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/a.json", []byte(`{"a":1}`)),
		model.UpsertText("/sub/deep/c.txt", "c\n"),
		model.UpsertText("/sub/b.txt", "b\n"),
	)

	entries, err := r.Find(ctx, model.Head, "/**", nil)
	require.NoError(t, err)
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/a.json", "/sub", "/sub/b.txt", "/sub/deep", "/sub/deep/c.txt"}, paths)

	for _, e := range entries {
		switch e.Path {
		case "/sub", "/sub/deep":
			assert.Equal(t, model.EntryDirectory, e.Type)
		}
		assert.Empty(t, e.Content)
	}

	entries, err = r.Find(ctx, model.Head, "/**/*.txt", &FindOptions{FetchContent: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/sub/b.txt", entries[0].Path)
	assert.Equal(t, "b\n", entries[0].Content)

	empty, err := r.Find(ctx, model.Head, "/nothing/*", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindLastModified(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Add a", model.UpsertJSON("/a.json", []byte(`{"v":1}`))) // rev 2
	mustPush(t, r, model.Head, "Add b", model.UpsertText("/b.txt", "b\n"))              // rev 3
	mustPush(t, r, model.Head, "Touch a", model.UpsertJSON("/a.json", []byte(`{"v":2}`))) // rev 4

	entries, err := r.Find(ctx, model.Head, "/**", &FindOptions{LastModifiedScan: 10})
	require.NoError(t, err)
	byPath := make(map[string]*model.Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}
	assert.Equal(t, model.Revision(4), byPath["/a.json"].LastModifiedRevision)
	assert.Equal(t, model.Revision(3), byPath["/b.txt"].LastModifiedRevision)
}

func TestExists(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertText("/sub/a.txt", "a\n"))

	ok, err := r.Exists(ctx, model.Head, "/sub/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(ctx, model.Head, "/sub/*.json")
	require.NoError(t, err)
	assert.False(t, ok)
}
