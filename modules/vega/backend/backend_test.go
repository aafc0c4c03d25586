// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	d, err := NewDatabase(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func writeBlob(t *testing.T, d *Database, content string) plumbing.Hash {
	t.Helper()
	oid, err := d.HashTo(context.Background(), strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	return oid
}

func writeTree(t *testing.T, d *Database, entries []*object.TreeEntry) plumbing.Hash {
	t.Helper()
	oid, err := d.WriteEncoded(object.NewTree(entries))
	require.NoError(t, err)
	return oid
}

func writeCommit(t *testing.T, d *Database, rev int64, parents []plumbing.Hash, tree plumbing.Hash, summary string) plumbing.Hash {
	t.Helper()
	oid, err := d.WriteEncoded(&object.Commit{
		Revision: rev,
		Author:   object.Signature{Name: "bot", Email: "bot@vega.io", When: time.UnixMilli(1700000000000).In(time.UTC)},
		Parents:  parents,
		Tree:     tree,
		Summary:  summary,
		Markup:   object.MarkupPlaintext,
	})
	require.NoError(t, err)
	return oid
}

func TestBlobRoundTrip(t *testing.T) {
	d := testDB(t)
	content := []byte(`{"a":1}`)
	oid, err := d.HashTo(context.Background(), bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	hasher := plumbing.NewHasher()
	_, _ = hasher.Write(content)
	assert.Equal(t, hasher.Sum(), oid, "blob identity is the hash of the raw content")

	b, err := d.Blob(context.Background(), oid)
	require.NoError(t, err)
	defer b.Close() // nolint:errcheck
	assert.Equal(t, int64(len(content)), b.Size)
	got, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestBlobCompressedRoundTrip(t *testing.T) {
	d := testDB(t)
	content := []byte(strings.Repeat("all work and no play makes jack a dull boy\n", 200))
	require.Greater(t, len(content), object.CompressThreshold)
	oid, err := d.HashTo(context.Background(), bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	rc, encodedSize, err := d.objects.Open(oid)
	require.NoError(t, err)
	_ = rc.Close()
	assert.Less(t, encodedSize, int64(len(content)), "repetitive payload crossed the threshold, expected zstd on disk")

	b, err := d.Blob(context.Background(), oid)
	require.NoError(t, err)
	defer b.Close() // nolint:errcheck
	got, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestHashToIdempotent(t *testing.T) {
	d := testDB(t)
	a := writeBlob(t, d, "same bytes")
	b := writeBlob(t, d, "same bytes")
	assert.Equal(t, a, b)
	require.NoError(t, d.Exists(a))
}

func TestHashToSizeMismatch(t *testing.T) {
	d := testDB(t)
	_, err := d.HashTo(context.Background(), strings.NewReader("four"), 40)
	require.Error(t, err)
	_, err = d.HashTo(context.Background(), strings.NewReader("four"), -1)
	require.Error(t, err)
}

func TestBlankBlobNeverHitsDisk(t *testing.T) {
	d := testDB(t)
	b, err := d.Blob(context.Background(), BLANK_BLOB_HASH)
	require.NoError(t, err)
	defer b.Close() // nolint:errcheck
	got, err := b.Bytes()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteEncodedRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	blob := writeBlob(t, d, `{"replicas":3}`)
	tree := writeTree(t, d, []*object.TreeEntry{
		{Name: "cluster.json", Size: 14, Mode: object.ModeRegular, Hash: blob},
	})
	cc := writeCommit(t, d, 1, nil, tree, "Add /cluster.json")

	gotCommit, err := d.Commit(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gotCommit.Revision)
	assert.Equal(t, "Add /cluster.json", gotCommit.Summary)
	assert.Equal(t, tree, gotCommit.Tree)

	root, err := gotCommit.Root(ctx)
	require.NoError(t, err)
	entry, err := root.Entry("cluster.json")
	require.NoError(t, err)
	assert.Equal(t, blob, entry.Hash)

	_, err = d.Commit(ctx, tree)
	require.True(t, IsErrMismatchedObjectType(err))
	_, err = d.Tree(ctx, cc)
	require.True(t, IsErrMismatchedObjectType(err))
}

func TestObjectMissing(t *testing.T) {
	d := testDB(t)
	var oid plumbing.Hash
	oid[0] = 0xfe
	_, err := d.Commit(context.Background(), oid)
	require.True(t, plumbing.IsNoSuchObject(err))
}

func TestObjectCacheSnapshot(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	tree := writeTree(t, d, nil)
	oid := writeCommit(t, d, 1, nil, tree, "original summary")

	first, err := d.Commit(ctx, oid)
	require.NoError(t, err)
	d.metaLRU.Wait()
	first.Summary = "mutated by caller"

	second, err := d.Commit(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, "original summary", second.Summary)
	// cached copies come back with a live backend attached
	_, err = second.Root(ctx)
	require.NoError(t, err)
}

func TestCommitIndexCAS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commits.vidx")
	x, err := OpenCommitIndex(path)
	require.NoError(t, err)

	var c1, c2 plumbing.Hash
	c1[0], c2[0] = 1, 2

	head, tip, err := x.Tip()
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)
	assert.True(t, tip.IsZero())

	require.NoError(t, x.CAS(plumbing.ZeroHash, 1, c1))
	require.NoError(t, x.CAS(c1, 2, c2))
	assert.Equal(t, int64(2), x.Head())

	got, err := x.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, c1, got)

	_, err = x.Lookup(3)
	require.True(t, plumbing.IsErrRevNotFound(err))
	_, err = x.Lookup(0)
	require.True(t, plumbing.IsErrRevNotFound(err))

	// stale expectation loses
	err = x.CAS(c1, 3, c2)
	require.True(t, plumbing.IsErrRefChanged(err))
	// revisions are dense, gaps are a caller bug
	require.Error(t, x.CAS(c2, 4, c1))
	require.NoError(t, x.Close())

	// reopen picks up where we left off
	x, err = OpenCommitIndex(path)
	require.NoError(t, err)
	defer x.Close() // nolint:errcheck
	head, tip, err = x.Tip()
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)
	assert.Equal(t, c2, tip)
}

func TestCommitIndexTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commits.vidx")
	x, err := OpenCommitIndex(path)
	require.NoError(t, err)
	var c1 plumbing.Hash
	c1[0] = 1
	require.NoError(t, x.CAS(plumbing.ZeroHash, 1, c1))
	require.NoError(t, x.Close())

	// simulate a crash mid-append
	fd, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = fd.Write([]byte("torn"))
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	x, err = OpenCommitIndex(path)
	require.NoError(t, err)
	defer x.Close() // nolint:errcheck
	assert.Equal(t, int64(1), x.Head())
	got, err := x.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, c1, got)
}

func TestGC(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	blobA := writeBlob(t, d, `{"a":1}`)
	blobB := writeBlob(t, d, "hello\n")
	tree1 := writeTree(t, d, []*object.TreeEntry{
		{Name: "a.json", Size: 7, Mode: object.ModeRegular, Hash: blobA},
		{Name: "b.txt", Size: 6, Mode: object.ModeRegular, Hash: blobB},
	})
	c1 := writeCommit(t, d, 1, nil, tree1, "init")
	require.NoError(t, d.CAS(plumbing.ZeroHash, 1, c1))

	tree2 := writeTree(t, d, []*object.TreeEntry{
		{Name: "a.json", Size: 7, Mode: object.ModeRegular, Hash: blobA},
	})
	c2 := writeCommit(t, d, 2, []plumbing.Hash{c1}, tree2, "remove /b.txt")
	require.NoError(t, d.CAS(c1, 2, c2))

	orphan := writeBlob(t, d, "never referenced by any tree")

	// an abandoned temp file from a crashed write, two hours stale
	incoming := filepath.Join(d.Root(), "objects", "incoming")
	stale := filepath.Join(incoming, "blob1234")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	report, err := d.GC(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pruned, "only the orphan blob is unreachable")
	assert.Positive(t, report.PrunedBytes)

	require.True(t, plumbing.IsNoSuchObject(d.Exists(orphan)))
	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))

	// blobB stays live through revision 1 even though head dropped it
	require.NoError(t, d.Exists(blobB))
	for _, oid := range []plumbing.Hash{c1, c2} {
		_, err := d.Commit(ctx, oid)
		require.NoError(t, err)
	}
	b, err := d.Blob(ctx, blobA)
	require.NoError(t, err)
	_ = b.Close()
}

func TestDatabaseCloseTwice(t *testing.T) {
	d, err := NewDatabase(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.Error(t, d.Close())
}
