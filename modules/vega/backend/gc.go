// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
)

type GCOptions struct {
	// KeepRoots pins extra commits that are reachable outside the index,
	// such as a commit built but not yet published.
	KeepRoots []plumbing.Hash
	// Grace spares incoming temp files younger than this. Defaults to
	// one hour.
	Grace time.Duration
}

type GCReport struct {
	Live        int
	Pruned      int
	PrunedBytes int64
	PrunedDirs  int
}

// GC removes loose objects unreachable from any indexed commit, then
// sweeps abandoned temp files and emptied fan-out directories. The caller
// must hold the repository's write lock; a commit racing the sweep could
// otherwise lose objects it has written but not yet published.
func (d *Database) GC(ctx context.Context, opts *GCOptions) (*GCReport, error) {
	if opts == nil {
		opts = &GCOptions{}
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = time.Hour
	}
	live := make(map[plumbing.Hash]struct{})
	seen := make(map[plumbing.Hash]struct{})
	head := d.index.Head()
	for rev := int64(1); rev <= head; rev++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		oid, err := d.index.Lookup(rev)
		if err != nil {
			return nil, err
		}
		if err := d.markCommit(ctx, oid, live, seen); err != nil {
			return nil, err
		}
	}
	for _, oid := range opts.KeepRoots {
		if err := d.markCommit(ctx, oid, live, seen); err != nil {
			return nil, err
		}
	}
	report := &GCReport{Live: len(live)}
	err := d.objects.LooseObjects(func(oid plumbing.Hash, size int64) error {
		if _, ok := live[oid]; ok {
			return nil
		}
		if err := d.objects.PruneObject(ctx, oid); err != nil {
			return err
		}
		report.Pruned++
		report.PrunedBytes += size
		return nil
	})
	if err != nil {
		return report, err
	}
	if err := d.objects.PruneIncoming(grace); err != nil {
		return report, err
	}
	if report.PrunedDirs, err = d.objects.Prune(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func (d *Database) markCommit(ctx context.Context, oid plumbing.Hash, live, seen map[plumbing.Hash]struct{}) error {
	live[oid] = struct{}{}
	cc, err := d.Commit(ctx, oid)
	if err != nil {
		return err
	}
	return d.markTree(ctx, cc.Tree, live, seen)
}

// markTree marks the tree, its subtrees and every referenced blob as live.
// Trees shared across revisions are descended once.
func (d *Database) markTree(ctx context.Context, oid plumbing.Hash, live, seen map[plumbing.Hash]struct{}) error {
	if _, ok := seen[oid]; ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seen[oid] = struct{}{}
	live[oid] = struct{}{}
	t, err := d.Tree(ctx, oid)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		if e.IsDir() {
			if err := d.markTree(ctx, e.Hash, live, seen); err != nil {
				return err
			}
			continue
		}
		live[e.Hash] = struct{}{}
	}
	return nil
}
