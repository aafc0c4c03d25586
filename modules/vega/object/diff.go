// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"

	"github.com/antgroup/vega/modules/plumbing"
)

// EntryDiff records one file-level difference between two trees.
// From is nil for an addition, To is nil for a removal; both are set
// for a modification.
type EntryDiff struct {
	Path string
	From *TreeEntry
	To   *TreeEntry
}

func (d *EntryDiff) Added() bool    { return d.From == nil }
func (d *EntryDiff) Removed() bool  { return d.To == nil }
func (d *EntryDiff) Modified() bool { return d.From != nil && d.To != nil }

func sortKey(e *TreeEntry) string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name + "\x00"
}

// DiffTrees compares two trees and returns every file added, removed
// or modified between them, recursing only into subtrees whose hashes
// differ. Directories never appear in the result, only the files
// beneath them.
func DiffTrees(ctx context.Context, b Backend, from, to *Tree) ([]*EntryDiff, error) {
	if from == nil {
		from = EmptyTree()
	}
	if to == nil {
		to = EmptyTree()
	}
	var diffs []*EntryDiff
	if err := diffTrees(ctx, b, "", from, to, &diffs); err != nil {
		return nil, err
	}
	return diffs, nil
}

func diffTrees(ctx context.Context, b Backend, prefix string, from, to *Tree, diffs *[]*EntryDiff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i, j := 0, 0
	for i < len(from.Entries) || j < len(to.Entries) {
		switch {
		case j >= len(to.Entries) || (i < len(from.Entries) && sortKey(from.Entries[i]) < sortKey(to.Entries[j])):
			if err := expandEntry(ctx, b, prefix, from.Entries[i], diffs, true); err != nil {
				return err
			}
			i++
		case i >= len(from.Entries) || sortKey(to.Entries[j]) < sortKey(from.Entries[i]):
			if err := expandEntry(ctx, b, prefix, to.Entries[j], diffs, false); err != nil {
				return err
			}
			j++
		default:
			fe, te := from.Entries[i], to.Entries[j]
			i++
			j++
			if fe.Hash == te.Hash && fe.Mode == te.Mode {
				continue
			}
			p := prefix + "/" + fe.Name
			if fe.IsDir() {
				ft, err := resolveWithBackend(ctx, b, fe.Hash)
				if err != nil {
					return err
				}
				tt, err := resolveWithBackend(ctx, b, te.Hash)
				if err != nil {
					return err
				}
				if err := diffTrees(ctx, b, p, ft, tt, diffs); err != nil {
					return err
				}
				continue
			}
			*diffs = append(*diffs, &EntryDiff{Path: p, From: fe, To: te})
		}
	}
	return nil
}

// expandEntry records a whole entry as added or removed, flattening
// directories into their files.
func expandEntry(ctx context.Context, b Backend, prefix string, e *TreeEntry, diffs *[]*EntryDiff, removed bool) error {
	p := prefix + "/" + e.Name
	if !e.IsDir() {
		if removed {
			*diffs = append(*diffs, &EntryDiff{Path: p, From: e})
		} else {
			*diffs = append(*diffs, &EntryDiff{Path: p, To: e})
		}
		return nil
	}
	sub, err := resolveWithBackend(ctx, b, e.Hash)
	if err != nil {
		return err
	}
	for _, child := range sub.Entries {
		if err := expandEntry(ctx, b, p, child, diffs, removed); err != nil {
			return err
		}
	}
	return nil
}

func resolveWithBackend(ctx context.Context, b Backend, h plumbing.Hash) (*Tree, error) {
	t, err := resolveTree(ctx, b, h)
	if err != nil {
		return nil, err
	}
	t.b = b
	return t, nil
}
