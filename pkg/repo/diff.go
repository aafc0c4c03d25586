// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/wI2L/jsondiff"
)

// Diff returns the changes that transform the tree at from into the
// tree at to, restricted to paths matching pattern. Modified JSON
// files yield an RFC 6902 patch, everything else a text patch.
func (r *Repository) Diff(ctx context.Context, from, to model.Revision, pattern string) ([]model.Change, error) {
	absFrom, absTo, err := r.NormalizeRange(from, to)
	if err != nil {
		return nil, err
	}
	p, err := model.CompilePathPattern(pattern)
	if err != nil {
		return nil, err
	}
	fromTree, err := r.treeAt(ctx, absFrom)
	if err != nil {
		return nil, err
	}
	toTree, err := r.treeAt(ctx, absTo)
	if err != nil {
		return nil, err
	}
	diffs, err := object.DiffTrees(ctx, r.db, fromTree, toTree)
	if err != nil {
		return nil, err
	}
	changes := make([]model.Change, 0, len(diffs))
	for _, d := range diffs {
		if !p.Match(d.Path) {
			continue
		}
		c, err := r.changeForDiff(ctx, d)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// PreviewDiff resolves changes against the tree at base without
// writing anything, returning the canonical changes an equivalent push
// would record. Applying them in order to base reproduces the result.
func (r *Repository) PreviewDiff(ctx context.Context, base model.Revision, changes []model.Change) ([]model.Change, error) {
	abs, err := r.Normalize(base)
	if err != nil {
		return nil, err
	}
	root, err := r.treeAt(ctx, abs)
	if err != nil {
		return nil, err
	}
	baseW := newWorktree(r)
	if err := baseW.loadTree(ctx, root); err != nil {
		return nil, err
	}
	w := newWorktree(r)
	if err := w.loadTree(ctx, root); err != nil {
		return nil, err
	}
	for i := range changes {
		if err := w.apply(ctx, &changes[i]); err != nil {
			return nil, err
		}
	}
	delta := w.delta(baseW.snapshot())
	out := make([]model.Change, 0, len(delta.Added)+len(delta.Modified)+len(delta.Removed))
	for _, p := range delta.Added {
		content, err := w.content(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, upsertChangeFor(p, content))
	}
	for _, p := range delta.Modified {
		from, err := baseW.content(ctx, p)
		if err != nil {
			return nil, err
		}
		to, err := w.content(ctx, p)
		if err != nil {
			return nil, err
		}
		c, err := modifyChangeFor(p, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	for _, p := range delta.Removed {
		out = append(out, model.Remove(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// DiffQuery evaluates the query at both revisions and returns the
// change between the results. An entry missing on one side degrades to
// an upsert or a removal of the query output.
func (r *Repository) DiffQuery(ctx context.Context, from, to model.Revision, q model.Query) (*model.Change, error) {
	absFrom, absTo, err := r.NormalizeRange(from, to)
	if err != nil {
		return nil, err
	}
	fromEntry, err := r.Get(ctx, absFrom, q)
	if err != nil && !model.IsErrNotFound(err) {
		return nil, err
	}
	toEntry, err := r.Get(ctx, absTo, q)
	if err != nil && !model.IsErrNotFound(err) {
		return nil, err
	}
	switch {
	case fromEntry == nil && toEntry == nil:
		return nil, model.NewErrNotFound("entry", "%s between revisions %d and %d", q.Path, absFrom, absTo)
	case fromEntry == nil:
		c := upsertChangeFor(q.Path, []byte(toEntry.Content))
		return &c, nil
	case toEntry == nil:
		c := model.Remove(q.Path)
		return &c, nil
	}
	c, err := modifyEntryChange(q.Path, fromEntry, toEntry)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// changeForDiff converts one tree-level difference into a change,
// loading blob contents as needed.
func (r *Repository) changeForDiff(ctx context.Context, d *object.EntryDiff) (model.Change, error) {
	switch {
	case d.Added():
		content, err := r.blobBytes(ctx, d.To.Hash)
		if err != nil {
			return model.Change{}, err
		}
		return upsertChangeFor(d.Path, content), nil
	case d.Removed():
		return model.Remove(d.Path), nil
	}
	from, err := r.blobBytes(ctx, d.From.Hash)
	if err != nil {
		return model.Change{}, err
	}
	to, err := r.blobBytes(ctx, d.To.Hash)
	if err != nil {
		return model.Change{}, err
	}
	return modifyChangeFor(d.Path, from, to)
}

func upsertChangeFor(path string, content []byte) model.Change {
	if model.EntryTypeFromPath(path) == model.EntryJSON {
		return model.UpsertJSON(path, json.RawMessage(content))
	}
	return model.UpsertText(path, string(content))
}

func modifyChangeFor(path string, from, to []byte) (model.Change, error) {
	if model.EntryTypeFromPath(path) == model.EntryJSON {
		return jsonPatchChange(path, from, to)
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(string(from), string(to))
	return model.ApplyTextPatch(path, dmp.PatchToText(patches)), nil
}

// modifyEntryChange is modifyChangeFor for already evaluated entries,
// where the entry type decides the patch format instead of the path.
func modifyEntryChange(path string, from, to *model.Entry) (model.Change, error) {
	if from.Type == model.EntryJSON && to.Type == model.EntryJSON {
		return jsonPatchChange(path, []byte(from.Content), []byte(to.Content))
	}
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(from.Content, to.Content)
	return model.ApplyTextPatch(path, dmp.PatchToText(patches)), nil
}

func jsonPatchChange(path string, from, to []byte) (model.Change, error) {
	patch, err := jsondiff.CompareJSON(from, to)
	if err != nil {
		return model.Change{}, err
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return model.Change{}, err
	}
	return model.ApplyJSONPatch(path, b), nil
}
