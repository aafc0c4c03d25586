// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"

	"github.com/antgroup/vega/modules/plumbing"
)

// Walk visits every entry beneath t in subtree order, directories
// before their contents. fn receives the absolute '/'-rooted path of
// each entry. Returning plumbing.ErrStop from fn ends the walk early
// without error.
func (t *Tree) Walk(ctx context.Context, fn func(p string, e *TreeEntry) error) error {
	if err := t.walk(ctx, "", 0, fn); err != nil && err != plumbing.ErrStop {
		return err
	}
	return nil
}

func (t *Tree) walk(ctx context.Context, prefix string, depth int, fn func(string, *TreeEntry) error) error {
	if depth > maxTreeDepth {
		return ErrMaxTreeDepth
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range t.Entries {
		p := prefix + "/" + e.Name
		if err := fn(p, e); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		sub, err := resolveTree(ctx, t.b, e.Hash)
		if err != nil {
			return err
		}
		sub.b = t.b
		if err := sub.walk(ctx, p, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
