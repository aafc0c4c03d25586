// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/streamio"
	"github.com/antgroup/vega/modules/vega/object"
)

// fileStorer keeps loose objects in a two level fan-out below the objects
// directory, so a busy repository never piles millions of entries into one
// directory:
//
//	objects/ab/cd/abcd0123...
//
// Writes land in objects/incoming first and are linked into place once the
// content hash is known.
type fileStorer struct {
	// root is the top level /objects directory's path on disk.
	root string

	// incoming holds in-flight temp files until they are finalized.
	incoming string
}

func newFileStorer(root string) *fileStorer {
	return &fileStorer{root: root, incoming: filepath.Join(root, "incoming")}
}

// path returns an absolute path on disk to the object given by the OID.
func (so *fileStorer) path(oid plumbing.Hash) string {
	encoded := oid.String()
	return filepath.Join(so.root, encoded[:2], encoded[2:4], encoded)
}

// Open returns an io.ReadCloser over the encoded object and its on-disk
// size. If the file does not exist, plumbing.NoSuchObject is returned.
//
// It is the caller's responsibility to close the returned file after its use
// is complete.
func (so *fileStorer) Open(oid plumbing.Hash) (io.ReadCloser, int64, error) {
	fd, err := os.Open(so.path(oid))
	if os.IsNotExist(err) {
		return nil, 0, plumbing.NoSuchObject(oid)
	}
	if err != nil {
		return nil, 0, err
	}
	si, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, 0, err
	}
	return fd, si.Size(), nil
}

func (so *fileStorer) Exists(oid plumbing.Hash) error {
	if _, err := os.Stat(so.path(oid)); err != nil && os.IsNotExist(err) {
		return plumbing.NoSuchObject(oid)
	}
	return nil
}

// Root gives the absolute (fully-qualified) path to the file storer on disk.
func (so *fileStorer) Root() string {
	return so.root
}

func mkdir(paths ...string) error {
	for _, path := range paths {
		// os.MkdirAll check dir exists
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
	}
	return nil
}

// relocateObject moves a finished temp file under its content address.
// Hard link then unlink keeps the already stored object intact when two
// writers race on the same content; rename is the fallback for filesystems
// without link support.
func relocateObject(oldpath, newpath string) error {
	if err := os.Link(oldpath, newpath); err != nil {
		if os.IsExist(err) {
			return os.Remove(oldpath)
		}
		return os.Rename(oldpath, newpath)
	}
	return os.Remove(oldpath)
}

func finalizeObject(oldpath string, newpath string) (err error) {
	if err = relocateObject(oldpath, newpath); err == nil {
		_ = os.Chmod(newpath, 0444)
	}
	return
}

func (so *fileStorer) method(size int64) object.CompressMethod {
	if size >= object.CompressThreshold {
		return object.ZSTD
	}
	return object.STORE
}

func compress(r io.Reader, fd *os.File, method object.CompressMethod) (written int64, err error) {
	switch method {
	case object.STORE:
		return fd.ReadFrom(r)
	case object.ZSTD:
		zw := streamio.GetZstdWriter(fd)
		defer streamio.PutZstdWriter(zw)
		return zw.ReadFrom(r)
	default:
		return 0, fmt.Errorf("unsupported method: %d", method)
	}
}

// HashTo encodes the reader into a loose blob. The object ID is the BLAKE3
// sum of the raw content, never of the encoded form, so the compression
// method does not change object identity. size must be the exact content
// length; it selects the compression method and is recorded in the header.
//
// BLOB format
//
//	4 byte magic
//	2 byte version
//	2 byte method
//	8 byte uncompressed length
//	N bytes raw or compressed data
func (so *fileStorer) HashTo(ctx context.Context, r io.Reader, size int64) (oid plumbing.Hash, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	if size < 0 {
		return oid, fmt.Errorf("blob size must be known, got %d", size)
	}
	if err = mkdir(so.incoming); err != nil {
		return
	}
	var fd *os.File
	if fd, err = os.CreateTemp(so.incoming, "blob"); err != nil {
		return oid, err
	}
	incomingPath := fd.Name()
	hasher := plumbing.NewHasher()
	method := so.method(size)
	hdr := object.EncodeBlobHeader(method, size)
	var written int64
	if _, err = fd.Write(hdr[:]); err == nil {
		written, err = compress(io.TeeReader(r, hasher), fd, method)
	}
	if err == nil && written != size {
		err = fmt.Errorf("blob size not match expected, actual size %d, expected size %d", written, size)
	}
	if err != nil {
		_ = fd.Close()
		_ = os.Remove(incomingPath)
		return
	}
	_ = fd.Sync() // flush
	_ = fd.Close()
	oid = hasher.Sum()
	objectPath := so.path(oid)
	if err = os.MkdirAll(filepath.Dir(objectPath), 0755); err != nil {
		_ = os.Remove(incomingPath)
		return
	}
	if err = finalizeObject(incomingPath, objectPath); err != nil {
		_ = os.Remove(incomingPath)
		return
	}
	return
}

// WriteEncoded stores a commit or tree. Unlike blobs, metadata objects hash
// over their encoded bytes, magic included.
func (so *fileStorer) WriteEncoded(e object.Encoder) (oid plumbing.Hash, err error) {
	if err = mkdir(so.incoming); err != nil {
		return
	}
	var fd *os.File
	if fd, err = os.CreateTemp(so.incoming, "metadata"); err != nil {
		return oid, err
	}
	incomingPath := fd.Name()
	hasher := plumbing.NewHasher()
	if err = e.Encode(io.MultiWriter(hasher, fd)); err != nil {
		_ = fd.Close()
		_ = os.Remove(incomingPath)
		return
	}
	_ = fd.Sync() // flush
	_ = fd.Close()
	oid = hasher.Sum()
	metaObjectPath := so.path(oid)
	if err = os.MkdirAll(filepath.Dir(metaObjectPath), 0755); err != nil {
		_ = os.Remove(incomingPath)
		return
	}
	if err = finalizeObject(incomingPath, metaObjectPath); err != nil {
		_ = os.Remove(incomingPath)
		return
	}
	return
}

var (
	ignoreDir = map[string]bool{
		"incoming": true,
	}
)

// LooseObjects walks every finalized loose object below root, reporting its
// OID and on-disk (encoded) size.
func (so *fileStorer) LooseObjects(fn func(oid plumbing.Hash, size int64) error) error {
	return filepath.WalkDir(so.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if ignoreDir[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !plumbing.ValidateHashHex(name) {
			return nil
		}
		si, err := d.Info()
		if err != nil {
			return err
		}
		return fn(plumbing.NewHash(name), si.Size())
	})
}

func (so *fileStorer) PruneObject(ctx context.Context, oid plumbing.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(so.path(oid)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PruneIncoming removes temp files abandoned by a crash. Files younger than
// grace are spared, they may belong to a write still in flight.
func (so *fileStorer) PruneIncoming(grace time.Duration) error {
	entries, err := os.ReadDir(so.incoming)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	deadline := time.Now().Add(-grace)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		si, err := e.Info()
		if err != nil {
			continue
		}
		if si.ModTime().After(deadline) {
			continue
		}
		_ = os.Remove(filepath.Join(so.incoming, e.Name()))
	}
	return nil
}

func removeDirIfEmpty(ctx context.Context, target string) (total int, deleted bool, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	entries, err := os.ReadDir(target)
	switch {
	case os.IsNotExist(err):
		return 0, true, nil // race condition: someone else deleted it first
	case err != nil:
		return 0, false, err
	}
	var removedEntries int
	for _, e := range entries {
		if !e.IsDir() {
			return
		}
		if ignoreDir[e.Name()] {
			continue
		}
		name := filepath.Join(target, e.Name())
		var sd int
		var ok bool
		if sd, ok, err = removeDirIfEmpty(ctx, name); err != nil {
			return
		}
		if ok {
			removedEntries++
		}
		total += sd
	}
	if removedEntries != len(entries) {
		return total, false, nil
	}
	switch err = os.Remove(target); {
	case os.IsExist(err):
		return total, false, nil
	case err != nil:
		return total, false, err
	}
	return total + 1, true, nil
}

// Prune drops fan-out directories emptied by object pruning.
func (so *fileStorer) Prune(ctx context.Context) (int, error) {
	total, _, err := removeDirIfEmpty(ctx, so.root)
	return total, err
}
