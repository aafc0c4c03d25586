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

func TestGetIdentity(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/cfg.json", []byte(`{"db":{"host":"localhost","port":5432},"debug":false}`)),
		model.UpsertText("/motd.txt", "welcome\n"),
	)

	entry, err := r.Get(ctx, model.Head, model.Identity("/motd.txt"))
	require.NoError(t, err)
	assert.Equal(t, model.EntryText, entry.Type)
	assert.Equal(t, "welcome\n", entry.Content)

	_, err = r.Get(ctx, model.Head, model.Identity("/missing.txt"))
	assert.True(t, model.IsErrNotFound(err))
}

func TestGetJSONPath(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/cfg.json", []byte(`{"db":{"host":"localhost","port":5432},"replicas":[{"name":"r1"},{"name":"r2"}]}`)))

	entry, err := r.Get(ctx, model.Head, model.JSONPath("/cfg.json", "$.db.port"))
	require.NoError(t, err)
	assert.Equal(t, model.EntryJSON, entry.Type)
	assert.Equal(t, "5432", entry.Content)

	// several matches collect into an array
	entry, err = r.Get(ctx, model.Head, model.JSONPath("/cfg.json", "$.replicas[*].name"))
	require.NoError(t, err)
	assert.JSONEq(t, `["r1","r2"]`, entry.Content)

	// expressions chain, each over the previous result
	entry, err = r.Get(ctx, model.Head, model.JSONPath("/cfg.json", "$.db", "$.host"))
	require.NoError(t, err)
	assert.Equal(t, `"localhost"`, entry.Content)

	_, err = r.Get(ctx, model.Head, model.JSONPath("/cfg.json", "$.nope"))
	assert.True(t, model.IsErrQueryFailure(err))

	_, err = r.Get(ctx, model.Head, model.JSONPath("/cfg.json", "$[")) // malformed
	assert.True(t, model.IsErrQueryFailure(err))
}

func TestGetJSONPathOverYAML(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertText("/app.yaml", "server:\n  host: localhost\n  ports:\n    - 80\n    - 443\n"))

	entry, err := r.Get(ctx, model.Head, model.JSONPath("/app.yaml", "$.server.ports[1]"))
	require.NoError(t, err)
	assert.Equal(t, model.EntryJSON, entry.Type)
	assert.Equal(t, "443", entry.Content)
}

func TestGetJSONPathOnTextFails(t *testing.T) {
	r := testRepo(t)
	mustPush(t, r, model.Head, "Seed", model.UpsertText("/plain.txt", "text\n"))
	_, err := r.Get(context.Background(), model.Head, model.JSONPath("/plain.txt", "$.a"))
	assert.True(t, model.IsErrQueryFailure(err))
}

func TestGetDirectory(t *testing.T) {
	r := testRepo(t)
	mustPush(t, r, model.Head, "Seed", model.UpsertText("/dir/file.txt", "x\n"))
	_, err := r.Get(context.Background(), model.Head, model.Identity("/dir"))
	assert.True(t, model.IsErrNotFound(err))
}

func TestMergeFiles(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/foo.json", []byte(`{"a":"bar"}`)),
		model.UpsertJSON("/foo1.json", []byte(`{"b":"baz"}`)),
		model.UpsertJSON("/foo2.json", []byte(`{"a":"new_bar"}`)),
	)

	merged, err := r.MergeFiles(ctx, model.Head, []model.MergeSource{
		{Path: "/foo.json"},
		{Path: "/foo1.json"},
		{Path: "/foo2.json"},
	}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"new_bar","b":"baz"}`, string(merged.Content))
	assert.Equal(t, []string{"/foo.json", "/foo1.json", "/foo2.json"}, merged.Paths)
	assert.Equal(t, model.Revision(2), merged.Revision)
}

func TestMergeFilesOptionalMissing(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed", model.UpsertJSON("/foo.json", []byte(`{"a":"bar"}`)))

	merged, err := r.MergeFiles(ctx, model.Head, []model.MergeSource{
		{Path: "/foo.json"},
		{Path: "/foo3.json", Optional: true},
	}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"bar"}`, string(merged.Content))
	assert.Equal(t, []string{"/foo.json"}, merged.Paths)

	_, err = r.MergeFiles(ctx, model.Head, []model.MergeSource{
		{Path: "/foo.json"},
		{Path: "/foo3.json"},
	}, nil)
	assert.True(t, model.IsErrNotFound(err))
}

func TestMergeFilesTypeClash(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/foo.json", []byte(`{"a":"bar"}`)),
		model.UpsertJSON("/foo10.json", []byte(`{"a":1}`)),
	)

	_, err := r.MergeFiles(ctx, model.Head, []model.MergeSource{
		{Path: "/foo.json"},
		{Path: "/foo10.json"},
	}, nil)
	require.Error(t, err)
	// a type clash is unanswerable, not a commit conflict
	assert.True(t, model.IsErrQueryFailure(err))
	assert.True(t, model.IsErrMergeConflict(err))
	var conflict *model.ErrMergeConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "/a", conflict.Pointer)
	assert.Equal(t, "STRING", conflict.Expected)
	assert.Equal(t, "NUMBER", conflict.Actual)
}

func TestMergeFilesDeepAndNull(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/base.json", []byte(`{"x":{"y":1,"z":2},"keep":true}`)),
		model.UpsertJSON("/over.json", []byte(`{"x":{"y":null,"w":3}}`)),
	)

	merged, err := r.MergeFiles(ctx, model.Head, []model.MergeSource{
		{Path: "/base.json"},
		{Path: "/over.json"},
	}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":{"z":2,"w":3},"keep":true}`, string(merged.Content))
}

func TestMergeFilesWithExpressions(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()
	mustPush(t, r, model.Head, "Seed",
		model.UpsertJSON("/base.json", []byte(`{"db":{"host":"a"}}`)),
		model.UpsertJSON("/over.json", []byte(`{"db":{"host":"b"}}`)),
	)

	merged, err := r.MergeFiles(ctx, model.Head, []model.MergeSource{
		{Path: "/base.json"},
		{Path: "/over.json"},
	}, []string{"$.db.host"})
	require.NoError(t, err)
	assert.Equal(t, `"b"`, string(merged.Content))
}

func TestMergeFilesRejectsNonJSON(t *testing.T) {
	r := testRepo(t)
	mustPush(t, r, model.Head, "Seed", model.UpsertText("/a.txt", "x\n"))
	_, err := r.MergeFiles(context.Background(), model.Head, []model.MergeSource{{Path: "/a.txt"}}, nil)
	assert.True(t, model.IsErrQueryFailure(err))
}

func TestMergeFilesNoSources(t *testing.T) {
	r := testRepo(t)
	_, err := r.MergeFiles(context.Background(), model.Head, nil, nil)
	assert.True(t, model.IsErrInvalidRequest(err))
}
