// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Progress durably records the index of the last journal entry this
// replica has applied. The file holds one decimal number; a missing file
// means nothing was applied yet. Writes go through a temp file and
// rename so a crash can only lose progress, never corrupt it: replaying
// an already applied entry is safe, skipping one is not.
type Progress struct {
	mu   sync.Mutex
	path string
	last int64
}

func OpenProgress(dataDir string) (*Progress, error) {
	dir := filepath.Join(dataDir, "replication")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	p := &Progress{path: filepath.Join(dir, "last_applied"), last: -1}
	b, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("replication: corrupt progress file %s: %w", p.path, err)
	}
	p.last = n
	return p, nil
}

// LastApplied returns the highest applied index, -1 before the first.
func (p *Progress) LastApplied() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Store records index as applied. Indexes must arrive in order; a gap
// is a programmer error and panics rather than silently diverging the
// replica.
func (p *Progress) Store(index int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index != p.last+1 {
		panic(fmt.Sprintf("replication: applied index %d after %d", index, p.last))
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".last_applied-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := fmt.Fprintf(tmp, "%d\n", index); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, p.path); err != nil {
		_ = os.Remove(name)
		return err
	}
	p.last = index
	return nil
}
