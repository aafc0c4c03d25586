// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/dgraph-io/ristretto/v2"
)

// Database is one repository's storage: a content addressed loose object
// store plus the commit index ordering its revisions. All blobs, trees and
// commits live in the object store; the index is the only mutable state.
type Database struct {
	root    string
	objects *fileStorer
	index   *CommitIndex
	metaLRU *ristretto.Cache[string, any]
	// closed is a uint32 managed by sync/atomic's <X>Uint32 methods. It
	// yields a value of 0 if the *Database it is stored upon is open,
	// and a value of 1 if it is closed.
	closed    uint32
	backend   object.Backend
	enableLRU bool
}

type Option func(*Database)

func WithEnableLRU(enableLRU bool) Option {
	return func(d *Database) {
		d.enableLRU = enableLRU
	}
}

func WithAbstractBackend(backend object.Backend) Option {
	return func(d *Database) {
		d.backend = backend
	}
}

// NewDatabase opens the repository rooted at root, creating the layout on
// first use:
//
//	<root>/objects/...    loose objects
//	<root>/commits.vidx   revision ledger
func NewDatabase(root string, opts ...Option) (*Database, error) {
	d := &Database{
		root:      root,
		enableLRU: true,
	}
	for _, o := range opts {
		o(d)
	}
	objectsRoot := filepath.Join(root, "objects")
	if err := mkdir(objectsRoot, filepath.Join(objectsRoot, "incoming")); err != nil {
		return nil, err
	}
	d.objects = newFileStorer(objectsRoot)
	index, err := OpenCommitIndex(filepath.Join(root, "commits.vidx"))
	if err != nil {
		return nil, err
	}
	d.index = index
	if d.enableLRU {
		if d.metaLRU, err = ristretto.NewCache(&ristretto.Config[string, any]{
			NumCounters: 100000,
			MaxCost:     100000,
			BufferItems: 64,
		}); err != nil {
			_ = index.Close()
			return nil, err
		}
	}
	if d.backend == nil {
		d.backend = d
	}
	return d, nil
}

func closeSafe(a ...io.Closer) error {
	errs := make([]error, 0, len(a))
	for _, c := range a {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the *Database
//
// If Close() has already been called, this function will return an error.
func (d *Database) Close() error {
	if !atomic.CompareAndSwapUint32(&d.closed, 0, 1) {
		return fmt.Errorf("vega: *Database already closed")
	}
	if d.metaLRU != nil {
		d.metaLRU.Close()
	}
	return closeSafe(d.index)
}

func (d *Database) Root() string {
	return d.root
}

// Head reports the head revision, 0 for an empty repository.
func (d *Database) Head() int64 {
	return d.index.Head()
}

// Tip reports the head revision and its commit hash.
func (d *Database) Tip() (int64, plumbing.Hash, error) {
	return d.index.Tip()
}

// Revision resolves an absolute revision number to its commit hash.
func (d *Database) Revision(rev int64) (plumbing.Hash, error) {
	return d.index.Lookup(rev)
}

// CAS advances the head from old to revision rev at next. See
// CommitIndex.CAS.
func (d *Database) CAS(old plumbing.Hash, rev int64, next plumbing.Hash) error {
	return d.index.CAS(old, rev, next)
}

// HashTo stores blob content read from r. size must be the exact content
// length.
func (d *Database) HashTo(ctx context.Context, r io.Reader, size int64) (plumbing.Hash, error) {
	return d.objects.HashTo(ctx, r, size)
}

// WriteEncoded stores an encoded commit or tree.
func (d *Database) WriteEncoded(e object.Encoder) (plumbing.Hash, error) {
	return d.objects.WriteEncoded(e)
}

func (d *Database) Exists(oid plumbing.Hash) error {
	return d.objects.Exists(oid)
}
