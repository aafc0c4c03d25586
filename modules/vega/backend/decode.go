// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
)

var (
	BLANK_BLOB_HASH = plumbing.NewHash(plumbing.BLANK_BLOB)
)

var (
	ErrUncacheableObject = errors.New("uncacheable object")
)

type ErrMismatchedObjectType struct {
	oid plumbing.Hash
	t   object.ObjectType
}

func NewErrMismatchedObjectType(oid plumbing.Hash, t object.ObjectType) error {
	return &ErrMismatchedObjectType{oid: oid, t: t}
}

func (e *ErrMismatchedObjectType) Error() string {
	return fmt.Sprintf("object %s not %s", e.oid, e.t)
}

func IsErrMismatchedObjectType(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrMismatchedObjectType)
	return ok
}

func (d *Database) store(a any) error {
	if !d.enableLRU {
		return nil
	}
	switch v := a.(type) {
	case *object.Commit:
		// don't save backend
		_ = d.metaLRU.Set(v.Hash.String(), object.NewSnapshotCommit(v, nil), 1)
	case *object.Tree:
		// don't save backend
		_ = d.metaLRU.Set(v.Hash.String(), object.NewSnapshotTree(v, nil), 1)
	default:
		return ErrUncacheableObject
	}
	return nil
}

func (d *Database) fromCache(oid plumbing.Hash) (any, error) {
	a, ok := d.metaLRU.Get(oid.String())
	if !ok {
		return nil, os.ErrNotExist
	}
	switch v := a.(type) {
	case *object.Commit:
		return object.NewSnapshotCommit(v, d.backend), nil
	case *object.Tree:
		return object.NewSnapshotTree(v, d.backend), nil
	default:
	}
	return nil, ErrUncacheableObject
}

// Object: find object and set backend
func (d *Database) Object(_ context.Context, oid plumbing.Hash) (any, error) {
	if d.enableLRU {
		if a, err := d.fromCache(oid); err == nil {
			return a, nil
		}
	}
	rc, _, err := d.objects.Open(oid)
	if err != nil {
		return nil, err
	}
	defer rc.Close() // nolint:errcheck
	a, err := object.Decode(rc, oid, d.backend)
	if err == nil {
		_ = d.store(a)
	}
	return a, err
}

func (d *Database) Commit(ctx context.Context, oid plumbing.Hash) (*object.Commit, error) {
	a, err := d.Object(ctx, oid)
	if err != nil {
		return nil, err
	}
	if c, ok := a.(*object.Commit); ok {
		return c, nil
	}
	return nil, NewErrMismatchedObjectType(oid, object.CommitObject)
}

func (d *Database) Tree(ctx context.Context, oid plumbing.Hash) (*object.Tree, error) {
	a, err := d.Object(ctx, oid)
	if err != nil {
		return nil, err
	}
	if t, ok := a.(*object.Tree); ok {
		return t, nil
	}
	return nil, NewErrMismatchedObjectType(oid, object.TreeObject)
}

func (d *Database) Blob(_ context.Context, oid plumbing.Hash) (blob *object.Blob, err error) {
	if oid == BLANK_BLOB_HASH {
		// the empty blob never hits disk
		return &object.Blob{Contents: strings.NewReader("")}, nil
	}
	rc, _, err := d.objects.Open(oid)
	if err != nil {
		return nil, err
	}
	if blob, err = object.NewBlob(rc); err != nil {
		_ = rc.Close()
	}
	return
}
