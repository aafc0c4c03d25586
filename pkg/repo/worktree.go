// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
	"github.com/emirpasic/gods/maps/treemap"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// workingFile is one file of a worktree. Clean files carry only the
// blob hash of their committed content; content is loaded on demand.
// Dirty files carry their new content and are hashed in memory, so a
// no-op push is detected before anything touches disk.
type workingFile struct {
	hash    plumbing.Hash
	size    int64
	content []byte
	loaded  bool
	dirty   bool
}

func (f *workingFile) oid() plumbing.Hash {
	if f.hash.IsZero() {
		h := plumbing.NewHasher()
		_, _ = h.Write(f.content)
		f.hash = h.Sum()
	}
	return f.hash
}

// worktree is a mutable snapshot of one revision's file tree, keyed by
// absolute path. Changes apply in order, each seeing the effect of the
// ones before it; nothing is written until flush.
type worktree struct {
	r     *Repository
	files *treemap.Map
}

func newWorktree(r *Repository) *worktree {
	return &worktree{r: r, files: treemap.NewWithStringComparator()}
}

func (w *worktree) loadTree(ctx context.Context, root *object.Tree) error {
	return root.Walk(ctx, func(p string, e *object.TreeEntry) error {
		if e.IsDir() {
			return nil
		}
		w.files.Put(p, &workingFile{hash: e.Hash, size: e.Size})
		return nil
	})
}

func (w *worktree) lookup(path string) (*workingFile, bool) {
	v, ok := w.files.Get(path)
	if !ok {
		return nil, false
	}
	return v.(*workingFile), true
}

func (w *worktree) content(ctx context.Context, path string) ([]byte, error) {
	f, ok := w.lookup(path)
	if !ok {
		return nil, model.NewErrChangeConflict("%s does not exist", path)
	}
	if f.loaded || f.dirty {
		return f.content, nil
	}
	data, err := w.r.blobBytes(ctx, f.hash)
	if err != nil {
		return nil, err
	}
	f.content = data
	f.loaded = true
	return data, nil
}

func (w *worktree) put(path string, content []byte) {
	w.files.Put(path, &workingFile{content: content, size: int64(len(content)), loaded: true, dirty: true})
}

// apply mutates the worktree with a single change. Errors distinguish
// malformed changes (invalid request) from changes that no longer fit
// the tree they are applied to (conflict).
func (w *worktree) apply(ctx context.Context, c *model.Change) error {
	if !plumbing.ValidateFilePath(c.Path) {
		return model.NewErrInvalidRequest("invalid path: %s", c.Path)
	}
	switch c.Type {
	case model.ChangeUpsertJSON:
		if model.EntryTypeFromPath(c.Path) != model.EntryJSON {
			return model.NewErrInvalidRequest("UPSERT_JSON requires a .json path: %s", c.Path)
		}
		content, err := canonicalJSON(c.Content)
		if err != nil {
			return model.NewErrInvalidRequest("%s: not valid JSON: %v", c.Path, err)
		}
		w.put(c.Path, content)
	case model.ChangeUpsertText:
		text, err := c.TextContent()
		if err != nil {
			return err
		}
		stored, err := sanitizeContent(c.Path, text)
		if err != nil {
			return err
		}
		w.put(c.Path, []byte(stored))
	case model.ChangeRemove:
		if _, ok := w.lookup(c.Path); !ok {
			return model.NewErrChangeConflict("cannot remove %s: does not exist", c.Path)
		}
		w.files.Remove(c.Path)
	case model.ChangeRename:
		return w.rename(c)
	case model.ChangeApplyJSONPatch:
		return w.patchJSON(ctx, c)
	case model.ChangeApplyTextPatch:
		return w.patchText(ctx, c)
	default:
		return model.NewErrInvalidRequest("unsupported change type")
	}
	return nil
}

func (w *worktree) rename(c *model.Change) error {
	newPath, err := c.TextContent()
	if err != nil {
		return err
	}
	if !plumbing.ValidateFilePath(newPath) {
		return model.NewErrInvalidRequest("invalid rename target: %s", newPath)
	}
	if model.EntryTypeFromPath(c.Path) != model.EntryTypeFromPath(newPath) {
		return model.NewErrInvalidRequest("cannot rename %s to %s: entry type changes", c.Path, newPath)
	}
	f, ok := w.lookup(c.Path)
	if !ok {
		return model.NewErrChangeConflict("cannot rename %s: does not exist", c.Path)
	}
	if _, ok := w.lookup(newPath); ok {
		return model.NewErrChangeConflict("cannot rename %s to %s: target exists", c.Path, newPath)
	}
	w.files.Remove(c.Path)
	w.files.Put(newPath, f)
	return nil
}

func (w *worktree) patchJSON(ctx context.Context, c *model.Change) error {
	if model.EntryTypeFromPath(c.Path) != model.EntryJSON {
		return model.NewErrInvalidRequest("APPLY_JSON_PATCH requires a .json path: %s", c.Path)
	}
	patch, err := jsonpatch.DecodePatch(c.Content)
	if err != nil {
		return model.NewErrInvalidRequest("%s: malformed JSON patch: %v", c.Path, err)
	}
	old, err := w.content(ctx, c.Path)
	if err != nil {
		return err
	}
	patched, err := patch.Apply(old)
	if err != nil {
		return model.NewErrChangeConflict("JSON patch does not apply to %s: %v", c.Path, err)
	}
	content, err := canonicalJSON(patched)
	if err != nil {
		return model.NewErrChangeConflict("JSON patch on %s produced an invalid document", c.Path)
	}
	w.put(c.Path, content)
	return nil
}

func (w *worktree) patchText(ctx context.Context, c *model.Change) error {
	patchText, err := c.TextContent()
	if err != nil {
		return err
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return model.NewErrInvalidRequest("%s: malformed text patch: %v", c.Path, err)
	}
	old, err := w.content(ctx, c.Path)
	if err != nil {
		return err
	}
	applied, results := dmp.PatchApply(patches, string(old))
	for _, ok := range results {
		if !ok {
			return model.NewErrChangeConflict("text patch does not apply to %s", c.Path)
		}
	}
	stored, err := sanitizeContent(c.Path, applied)
	if err != nil {
		// a text patch may shred a structured document
		return model.NewErrChangeConflict("text patch on %s produced invalid content", c.Path)
	}
	w.put(c.Path, []byte(stored))
	return nil
}

// snapshot captures path -> blob hash for every file, priced entirely
// in memory. Taken before changes apply, it is the baseline redundancy
// and touched-path detection compare against.
func (w *worktree) snapshot() map[string]plumbing.Hash {
	s := make(map[string]plumbing.Hash, w.files.Size())
	it := w.files.Iterator()
	for it.Next() {
		s[it.Key().(string)] = it.Value().(*workingFile).oid()
	}
	return s
}

// treeDelta is the difference between a baseline snapshot and the
// worktree's current state. Path slices are sorted.
type treeDelta struct {
	Added    []string
	Modified []string
	Removed  []string
}

func (d *treeDelta) empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

func (d *treeDelta) touched() []string {
	out := make([]string, 0, len(d.Added)+len(d.Modified)+len(d.Removed))
	out = append(out, d.Added...)
	out = append(out, d.Modified...)
	out = append(out, d.Removed...)
	sort.Strings(out)
	return out
}

func (w *worktree) delta(base map[string]plumbing.Hash) *treeDelta {
	d := &treeDelta{}
	it := w.files.Iterator()
	for it.Next() {
		p := it.Key().(string)
		f := it.Value().(*workingFile)
		old, ok := base[p]
		if !ok {
			d.Added = append(d.Added, p)
			continue
		}
		if old != f.oid() {
			d.Modified = append(d.Modified, p)
		}
	}
	for p := range base {
		if _, ok := w.files.Get(p); !ok {
			d.Removed = append(d.Removed, p)
		}
	}
	sort.Strings(d.Removed)
	return d
}

// flush writes every dirty blob to the object database. Hashes are
// already known, so a crash between flush and the ref update leaves
// only unreferenced objects for gc.
func (w *worktree) flush(ctx context.Context) error {
	it := w.files.Iterator()
	for it.Next() {
		f := it.Value().(*workingFile)
		if !f.dirty {
			continue
		}
		oid, err := w.r.db.HashTo(ctx, bytes.NewReader(f.content), int64(len(f.content)))
		if err != nil {
			return err
		}
		f.hash = oid
		f.dirty = false
	}
	return nil
}

// writeTrees builds the nested tree objects bottom up and returns the
// root tree hash. NewTree sorts entries, so the result is independent
// of map iteration order.
func (w *worktree) writeTrees(ctx context.Context) (plumbing.Hash, error) {
	root := &dirNode{}
	it := w.files.Iterator()
	for it.Next() {
		p := it.Key().(string)
		root.insert(strings.Split(p[1:], "/"), it.Value().(*workingFile))
	}
	return root.write(ctx, w.r.db)
}

type dirNode struct {
	dirs  map[string]*dirNode
	files map[string]*workingFile
}

func (n *dirNode) insert(parts []string, f *workingFile) {
	if len(parts) == 1 {
		if n.files == nil {
			n.files = make(map[string]*workingFile)
		}
		n.files[parts[0]] = f
		return
	}
	if n.dirs == nil {
		n.dirs = make(map[string]*dirNode)
	}
	sub, ok := n.dirs[parts[0]]
	if !ok {
		sub = &dirNode{}
		n.dirs[parts[0]] = sub
	}
	sub.insert(parts[1:], f)
}

func (n *dirNode) write(ctx context.Context, db treeWriter) (plumbing.Hash, error) {
	entries := make([]*object.TreeEntry, 0, len(n.dirs)+len(n.files))
	for name, sub := range n.dirs {
		oid, err := sub.write(ctx, db)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, &object.TreeEntry{Name: name, Mode: object.ModeDir, Hash: oid})
	}
	for name, f := range n.files {
		entries = append(entries, &object.TreeEntry{Name: name, Size: f.size, Mode: object.ModeRegular, Hash: f.oid()})
	}
	return db.WriteEncoded(object.NewTree(entries))
}

type treeWriter interface {
	WriteEncoded(e object.Encoder) (plumbing.Hash, error)
}
