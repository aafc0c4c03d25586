// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/backend"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/watch"
	"github.com/sirupsen/logrus"
)

// InitSummary is the message of the revision 1 commit every repository
// starts with.
const InitSummary = "Create a new repository"

// Repository is the engine over one repository's object database: revision
// normalization, find/get/history/diff/merge reads, and the commit write
// path. Reads are safe for any number of goroutines; writes are arbitrated
// by the head CAS, not by locks.
type Repository struct {
	project  string
	name     string
	db       *backend.Database
	notifier *watch.Notifier
}

// Open opens or creates the repository stored at dir. The caller still
// must Initialize a fresh repository before serving reads from it.
func Open(project, name, dir string) (*Repository, error) {
	db, err := backend.NewDatabase(dir)
	if err != nil {
		return nil, err
	}
	return &Repository{
		project:  project,
		name:     name,
		db:       db,
		notifier: watch.NewNotifier(),
	}, nil
}

func (r *Repository) Project() string {
	return r.project
}

func (r *Repository) Name() string {
	return r.name
}

// Notifier exposes the watch fan-out of this repository.
func (r *Repository) Notifier() *watch.Notifier {
	return r.notifier
}

// Head returns the current head revision.
func (r *Repository) Head() model.Revision {
	return model.Revision(r.db.Head())
}

// Tip returns the head revision together with its commit ID.
func (r *Repository) Tip() (model.Revision, plumbing.Hash, error) {
	rev, oid, err := r.db.Tip()
	return model.Revision(rev), oid, err
}

func (r *Repository) Close() error {
	r.notifier.Close()
	return r.db.Close()
}

// Initialize writes the init commit so the repository satisfies head >= 1.
// Racing initializers collapse to one winner; the losers see the commit
// already present and succeed.
func (r *Repository) Initialize(ctx context.Context, author model.Author, when time.Time) error {
	if r.db.Head() > 0 {
		return nil
	}
	treeOID, err := r.db.WriteEncoded(object.EmptyTree())
	if err != nil {
		return err
	}
	oid, err := r.db.WriteEncoded(&object.Commit{
		Revision: 1,
		Author:   author.Signature(when),
		Tree:     treeOID,
		Summary:  InitSummary,
		Markup:   object.MarkupPlaintext,
	})
	if err != nil {
		return err
	}
	if err := r.db.CAS(plumbing.ZeroHash, 1, oid); err != nil {
		if plumbing.IsErrRefChanged(err) {
			return nil
		}
		return err
	}
	logrus.WithFields(logrus.Fields{
		"project": r.project,
		"repo":    r.name,
	}).Debug("repository initialized")
	r.notifier.Publish(1, nil)
	return nil
}

// Normalize resolves a possibly relative revision to an absolute one.
// 0 and -1 both mean head, -2 the commit before head. Results outside
// [1, head] report the revision as not found.
func (r *Repository) Normalize(rev model.Revision) (model.Revision, error) {
	head := model.Revision(r.db.Head())
	abs := rev
	switch {
	case rev == 0:
		abs = head
	case rev < 0:
		abs = head + rev + 1
	}
	if abs < 1 || abs > head {
		return 0, model.NewErrNotFound("revision", "%d (head %d)", rev, head)
	}
	return abs, nil
}

// NormalizeRange resolves both ends of a revision range.
func (r *Repository) NormalizeRange(from, to model.Revision) (model.Revision, model.Revision, error) {
	absFrom, err := r.Normalize(from)
	if err != nil {
		return 0, 0, err
	}
	absTo, err := r.Normalize(to)
	if err != nil {
		return 0, 0, err
	}
	return absFrom, absTo, nil
}

// commitAt loads the commit object at an absolute revision.
func (r *Repository) commitAt(ctx context.Context, rev model.Revision) (*object.Commit, error) {
	oid, err := r.db.Revision(int64(rev))
	if err != nil {
		if plumbing.IsErrRevNotFound(err) {
			return nil, model.NewErrNotFound("revision", "%d", rev)
		}
		return nil, err
	}
	return r.db.Commit(ctx, oid)
}

// treeAt loads the root tree at an absolute revision.
func (r *Repository) treeAt(ctx context.Context, rev model.Revision) (*object.Tree, error) {
	cc, err := r.commitAt(ctx, rev)
	if err != nil {
		return nil, err
	}
	return cc.Root(ctx)
}

func (r *Repository) blobBytes(ctx context.Context, oid plumbing.Hash) ([]byte, error) {
	b, err := r.db.Blob(ctx, oid)
	if err != nil {
		return nil, err
	}
	defer b.Close() // nolint: errcheck
	return b.Bytes()
}

// GC sweeps unreachable objects. Serialize with writes; the executor runs
// it between commands.
func (r *Repository) GC(ctx context.Context) (*backend.GCReport, error) {
	return r.db.GC(ctx, nil)
}
