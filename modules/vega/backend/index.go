// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/antgroup/vega/modules/plumbing"
)

// Each record is 8 bytes of big-endian revision followed by the 32 byte
// commit hash. Record N (zero based) always holds revision N+1, so the file
// size divided by the record size is the head revision.
const commitIndexRecordSize = 8 + plumbing.HASH_DIGEST_SIZE

// CommitIndex is the append-only revision ledger of one repository: the
// authoritative mapping from revision number to commit hash, and the single
// point where head advancement is decided. Appends go through CAS so that
// two concurrent writers cannot both extend the same head.
type CommitIndex struct {
	mu   sync.Mutex // serializes appends
	fd   *os.File
	head atomic.Int64
}

// OpenCommitIndex opens or creates the ledger at path. A torn record left
// by a crash mid-append is truncated away; the object store is content
// addressed, so dropping the partial record loses nothing that was ever
// acknowledged.
func OpenCommitIndex(path string) (*CommitIndex, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	si, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	size := si.Size()
	if tail := size % commitIndexRecordSize; tail != 0 {
		size -= tail
		if err := fd.Truncate(size); err != nil {
			_ = fd.Close()
			return nil, err
		}
	}
	x := &CommitIndex{fd: fd}
	x.head.Store(size / commitIndexRecordSize)
	return x, nil
}

// Head returns the current head revision, 0 when the ledger is empty.
func (x *CommitIndex) Head() int64 {
	return x.head.Load()
}

func (x *CommitIndex) readRecord(rev int64) (plumbing.Hash, error) {
	var record [commitIndexRecordSize]byte
	if _, err := x.fd.ReadAt(record[:], (rev-1)*commitIndexRecordSize); err != nil {
		return plumbing.ZeroHash, err
	}
	if got := int64(binary.BigEndian.Uint64(record[:8])); got != rev {
		return plumbing.ZeroHash, fmt.Errorf("commit index corrupt: record %d holds revision %d", rev, got)
	}
	var oid plumbing.Hash
	copy(oid[:], record[8:])
	return oid, nil
}

// Lookup resolves an absolute revision to its commit hash.
func (x *CommitIndex) Lookup(rev int64) (plumbing.Hash, error) {
	head := x.head.Load()
	if rev < 1 || rev > head {
		return plumbing.ZeroHash, plumbing.NewErrRevNotFound("revision %d out of range [1, %d]", rev, head)
	}
	return x.readRecord(rev)
}

// Tip returns the head revision and its commit hash. An empty ledger
// reports revision 0 and the zero hash.
func (x *CommitIndex) Tip() (int64, plumbing.Hash, error) {
	head := x.head.Load()
	if head == 0 {
		return 0, plumbing.ZeroHash, nil
	}
	oid, err := x.readRecord(head)
	return head, oid, err
}

// CAS appends revision rev pointing at next, provided the recorded tip
// still matches old. The first revision expects old to be the zero hash.
// A mismatch reports plumbing.ErrRefChanged; callers rebuild against the
// new tip and retry. The record is synced before the head moves, so a
// crash can only ever lose an unacknowledged append.
func (x *CommitIndex) CAS(old plumbing.Hash, rev int64, next plumbing.Hash) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	head := x.head.Load()
	tip := plumbing.ZeroHash
	if head > 0 {
		var err error
		if tip, err = x.readRecord(head); err != nil {
			return err
		}
	}
	if tip != old {
		return plumbing.NewErrRefChanged(old, tip)
	}
	if rev != head+1 {
		return fmt.Errorf("commit index: revision %d does not follow head %d", rev, head)
	}
	var record [commitIndexRecordSize]byte
	binary.BigEndian.PutUint64(record[:8], uint64(rev))
	copy(record[8:], next[:])
	if _, err := x.fd.WriteAt(record[:], head*commitIndexRecordSize); err != nil {
		return err
	}
	if err := x.fd.Sync(); err != nil {
		return err
	}
	x.head.Store(rev)
	return nil
}

func (x *CommitIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fd.Close()
}
