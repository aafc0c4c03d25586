// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"sort"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
)

// FindOptions tunes what Find materializes per matched entry.
type FindOptions struct {
	// FetchContent loads file contents; listings that only need paths
	// and types leave it off.
	FetchContent bool
	// LastModifiedScan bounds how many revisions Find walks back to
	// fill LastModifiedRevision. 0 skips the scan and leaves the field
	// zero.
	LastModifiedScan int
}

var defaultFindOptions = &FindOptions{}

// Find returns every entry at rev whose path matches pattern, sorted
// by path. Directories match like files but never carry content.
func (r *Repository) Find(ctx context.Context, rev model.Revision, pattern string, opts *FindOptions) ([]*model.Entry, error) {
	if opts == nil {
		opts = defaultFindOptions
	}
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	p, err := model.CompilePathPattern(pattern)
	if err != nil {
		return nil, err
	}
	root, err := r.treeAt(ctx, abs)
	if err != nil {
		return nil, err
	}
	entries := make([]*model.Entry, 0, 16)
	err = root.Walk(ctx, func(path string, e *object.TreeEntry) error {
		if !p.Match(path) {
			return nil
		}
		if e.IsDir() {
			entries = append(entries, &model.Entry{Path: path, Type: model.EntryDirectory, Revision: abs})
			return nil
		}
		entry := &model.Entry{Path: path, Type: model.EntryTypeFromPath(path), Revision: abs}
		if opts.FetchContent {
			content, err := r.blobBytes(ctx, e.Hash)
			if err != nil {
				return err
			}
			entry.Content = string(content)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Walk yields subtree order; callers get plain lexicographic order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if opts.LastModifiedScan > 0 {
		if err := r.fillLastModified(ctx, abs, entries, opts.LastModifiedScan); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Exists reports whether any entry at rev matches pattern.
func (r *Repository) Exists(ctx context.Context, rev model.Revision, pattern string) (bool, error) {
	abs, err := r.Normalize(rev)
	if err != nil {
		return false, err
	}
	p, err := model.CompilePathPattern(pattern)
	if err != nil {
		return false, err
	}
	root, err := r.treeAt(ctx, abs)
	if err != nil {
		return false, err
	}
	found := false
	err = root.Walk(ctx, func(path string, e *object.TreeEntry) error {
		if p.Match(path) {
			found = true
			return plumbing.ErrStop
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// fillLastModified walks history backwards from rev, at most budget
// steps, stamping each file entry with the revision that last changed
// it. Entries older than the budget keep a zero LastModifiedRevision.
func (r *Repository) fillLastModified(ctx context.Context, rev model.Revision, entries []*model.Entry, budget int) error {
	pending := make(map[string]*model.Entry, len(entries))
	for _, e := range entries {
		if e.Type != model.EntryDirectory {
			pending[e.Path] = e
		}
	}
	cur := rev
	newer, err := r.treeAt(ctx, cur)
	if err != nil {
		return err
	}
	for len(pending) > 0 && budget > 0 {
		var older *object.Tree
		if cur > 1 {
			if older, err = r.treeAt(ctx, cur-1); err != nil {
				return err
			}
		}
		diffs, err := object.DiffTrees(ctx, r.db, older, newer)
		if err != nil {
			return err
		}
		for _, d := range diffs {
			if e, ok := pending[d.Path]; ok {
				e.LastModifiedRevision = cur
				delete(pending, e.Path)
			}
		}
		if cur == 1 {
			break
		}
		cur--
		newer = older
		budget--
	}
	return nil
}
