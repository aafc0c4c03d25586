// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"

	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
)

// DefaultMaxCommits caps history listings that do not name a limit.
const DefaultMaxCommits = 100

// History lists commits between from and to inclusive, walking the
// revision index rather than parent links. Results run from `from`
// towards `to`, so from > to yields newest first. A pattern restricts
// the listing to commits touching matching paths.
func (r *Repository) History(ctx context.Context, from, to model.Revision, pattern string, maxCommits int) ([]*model.Commit, error) {
	if maxCommits <= 0 {
		maxCommits = DefaultMaxCommits
	}
	absFrom, absTo, err := r.NormalizeRange(from, to)
	if err != nil {
		return nil, err
	}
	p, err := model.CompilePathPattern(pattern)
	if err != nil {
		return nil, err
	}
	step := model.Revision(1)
	if absFrom > absTo {
		step = -1
	}
	out := make([]*model.Commit, 0, maxCommits)
	for rev := absFrom; ; rev += step {
		cc, err := r.commitAt(ctx, rev)
		if err != nil {
			return nil, err
		}
		include := p.All()
		if !include {
			if include, err = r.commitTouches(ctx, cc, p); err != nil {
				return nil, err
			}
		}
		if include {
			out = append(out, commitView(cc))
			if len(out) == maxCommits {
				break
			}
		}
		if rev == absTo {
			break
		}
	}
	return out, nil
}

// commitTouches reports whether the commit changed any path matching p
// relative to its parent. Revision 1 diffs against the empty tree.
func (r *Repository) commitTouches(ctx context.Context, cc *object.Commit, p *model.PathPattern) (bool, error) {
	root, err := cc.Root(ctx)
	if err != nil {
		return false, err
	}
	var parentRoot *object.Tree
	if parent, err := cc.Parent(ctx); err != nil {
		return false, err
	} else if parent != nil {
		if parentRoot, err = parent.Root(ctx); err != nil {
			return false, err
		}
	}
	diffs, err := object.DiffTrees(ctx, r.db, parentRoot, root)
	if err != nil {
		return false, err
	}
	for _, d := range diffs {
		if p.Match(d.Path) {
			return true, nil
		}
	}
	return false, nil
}

func commitView(cc *object.Commit) *model.Commit {
	return &model.Commit{
		Revision: model.Revision(cc.Revision),
		Author:   model.Author{Name: cc.Author.Name, Email: cc.Author.Email},
		PushedAt: cc.Author.When,
		CommitMessage: model.CommitMessage{
			Summary: cc.Summary,
			Detail:  cc.Detail,
			Markup:  cc.Markup,
		},
	}
}
