// Copyright 2018 Sourced Technologies, S.L.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/streamio"
)

const (
	maxTreeDepth = 1024
)

var (
	TREE_MAGIC      = [4]byte{'V', 'T', 0x00, 0x01}
	ErrMaxTreeDepth = errors.New("maximum tree depth exceeded")
)

type ErrDirectoryNotFound struct {
	dir string
}

func (e *ErrDirectoryNotFound) Error() string {
	return fmt.Sprintf("dir '%s' not found", e.dir)
}

func IsErrDirectoryNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrDirectoryNotFound)
	return ok
}

type ErrEntryNotFound struct {
	entry string
}

func (e *ErrEntryNotFound) Error() string {
	return fmt.Sprintf("entry '%s' not found", e.entry)
}

func IsErrEntryNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrEntryNotFound)
	return ok
}

// EntryMode is the subset of POSIX modes a configuration tree needs:
// regular files and directories.
type EntryMode uint32

const (
	ModeInvalid EntryMode = 0
	ModeRegular EntryMode = 0100644
	ModeDir     EntryMode = 0040000

	modeMask EntryMode = 0170000
)

func NewEntryMode(s string) (EntryMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return ModeInvalid, fmt.Errorf("malformed mode '%s': %v", s, err)
	}
	m := EntryMode(n)
	switch m & modeMask {
	case ModeDir, EntryMode(0100000):
		return m, nil
	}
	return ModeInvalid, fmt.Errorf("malformed mode '%s'", s)
}

func (m EntryMode) IsDir() bool {
	return m&modeMask == ModeDir
}

// TreeEntry represents a file or a subdirectory
type TreeEntry struct {
	Name string        `json:"name"`
	Size int64         `json:"size"`
	Mode EntryMode     `json:"mode"`
	Hash plumbing.Hash `json:"hash"`
}

func (e *TreeEntry) Clone() *TreeEntry {
	return &TreeEntry{
		Name: e.Name,
		Size: e.Size,
		Mode: e.Mode,
		Hash: e.Hash,
	}
}

// Equal returns whether the receiving and given TreeEntry instances are
// identical in name, mode, and OID.
func (e *TreeEntry) Equal(other *TreeEntry) bool {
	if (e == nil) != (other == nil) {
		return false
	}

	if e != nil {
		return e.Name == other.Name &&
			e.Hash == other.Hash &&
			e.Mode == other.Mode
	}
	return true
}

func (e *TreeEntry) Type() ObjectType {
	if e.Mode.IsDir() {
		return TreeObject
	}
	return BlobObject
}

func (e *TreeEntry) IsDir() bool {
	return e.Mode.IsDir()
}

// SubtreeOrder is an implementation of sort.Interface that sorts a set of
// `*TreeEntry`'s according to "subtree" order. Entries sort
// lexicographically in byte-order, with subtrees sorting as if their
// `Name` fields ended in a "/".
type SubtreeOrder []*TreeEntry

func (s SubtreeOrder) Len() int      { return len(s) }
func (s SubtreeOrder) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s SubtreeOrder) Less(i, j int) bool {
	return s.Name(i) < s.Name(j)
}

// Name returns the sort key for the entry indexed at "i": a C-style
// string ('\0' terminated), '/' terminated if it's a subtree.
func (s SubtreeOrder) Name(i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}

	entry := s[i]

	if entry.Type() == TreeObject {
		return entry.Name + "/"
	}
	return entry.Name + "\x00"
}

// Tree is basically like a directory - it references a bunch of other trees
// and/or blobs (i.e. files and sub-directories)
type Tree struct {
	Hash    plumbing.Hash `json:"hash"`
	Entries []*TreeEntry  `json:"entries"`

	m map[string]*TreeEntry
	t map[string]*Tree // tree path cache
	b Backend
}

// NewTree sorts entries into subtree order and returns the tree they
// form. The entry slice is owned by the tree afterwards.
func NewTree(entries []*TreeEntry) *Tree {
	sort.Sort(SubtreeOrder(entries))
	return &Tree{Entries: entries}
}

// EmptyTree is the tree with no entries, the root of revision 1.
func EmptyTree() *Tree {
	return &Tree{Entries: []*TreeEntry{}}
}

// Tree returns the tree identified by the `path` argument.
// The path is interpreted as relative to the tree receiver.
func (t *Tree) Tree(ctx context.Context, path string) (*Tree, error) {
	if len(path) == 0 {
		return t, nil
	}
	e, err := t.FindEntry(ctx, path)
	if err != nil {
		return nil, &ErrDirectoryNotFound{dir: path}
	}
	if !e.IsDir() {
		return nil, &ErrDirectoryNotFound{dir: path}
	}
	return resolveTree(ctx, t.b, e.Hash)
}

func (t *Tree) Entry(name string) (*TreeEntry, error) {
	return t.entry(name)
}

// FindEntry search a TreeEntry in this tree or any subtree.
func (t *Tree) FindEntry(ctx context.Context, relativePath string) (*TreeEntry, error) {
	if t.t == nil {
		t.t = make(map[string]*Tree)
	}

	pathParts := strings.Split(relativePath, "/")
	startingTree := t
	pathCurrent := ""

	// search for the longest path in the tree path cache
	for i := len(pathParts) - 1; i >= 1; i-- {
		path := path.Join(pathParts[:i]...)

		tree, ok := t.t[path]
		if ok {
			startingTree = tree
			pathParts = pathParts[i:]
			pathCurrent = path

			break
		}
	}

	var tree *Tree
	var err error
	for tree = startingTree; len(pathParts) > 1; pathParts = pathParts[1:] {
		if tree, err = tree.dir(ctx, pathParts[0]); err != nil {
			return nil, err
		}

		pathCurrent = path.Join(pathCurrent, pathParts[0])
		t.t[pathCurrent] = tree
	}

	return tree.entry(pathParts[0])
}

func (t *Tree) dir(ctx context.Context, baseName string) (*Tree, error) {
	entry, err := t.entry(baseName)
	if err != nil {
		return nil, &ErrDirectoryNotFound{dir: baseName}
	}
	if t.b == nil || !entry.IsDir() {
		return nil, &ErrDirectoryNotFound{dir: baseName}
	}
	tree, err := t.b.Tree(ctx, entry.Hash)
	if err != nil {
		return nil, err
	}
	tree.b = t.b
	return tree, nil
}

func (t *Tree) entry(baseName string) (*TreeEntry, error) {
	if t.m == nil {
		t.buildMap()
	}

	entry, ok := t.m[baseName]
	if !ok {
		return nil, &ErrEntryNotFound{entry: baseName}
	}

	return entry, nil
}

func (t *Tree) buildMap() {
	t.m = make(map[string]*TreeEntry)
	for i := range t.Entries {
		t.m[t.Entries[i].Name] = t.Entries[i]
	}
}

// Equal returns whether the receiving and given trees are equal, or in
// other words, whether they are represented by the same BLAKE3 when
// saved to the object database.
func (t *Tree) Equal(other *Tree) bool {
	if (t == nil) != (other == nil) {
		return false
	}

	if t != nil {
		if len(t.Entries) != len(other.Entries) {
			return false
		}

		for i := range t.Entries {
			if !t.Entries[i].Equal(other.Entries[i]) {
				return false
			}
		}
	}
	return true
}

func (t *Tree) Encode(w io.Writer) error {
	_, err := w.Write(TREE_MAGIC[:])
	if err != nil {
		return err
	}
	for _, entry := range t.Entries {
		if _, err = fmt.Fprintf(w, "%o %d %s", entry.Mode, entry.Size, entry.Name); err != nil {
			return err
		}

		if _, err = w.Write([]byte{0x00}); err != nil {
			return err
		}

		if _, err = w.Write(entry.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) Decode(reader Reader) error {
	if reader.Type() != TreeObject {
		return ErrUnsupportedObject
	}
	t.Hash = reader.Hash()
	r := streamio.GetBufioReader(reader)
	defer streamio.PutBufioReader(r)

	t.Entries = nil
	for {
		str, err := r.ReadString(' ')
		if err != nil {
			if err == io.EOF {
				break
			}

			return err
		}
		str = str[:len(str)-1] // strip last byte (' ')

		mode, err := NewEntryMode(str)
		if err != nil {
			return err
		}

		if str, err = r.ReadString(' '); err != nil {
			return err
		}
		size, err := strconv.ParseInt(str[:len(str)-1], 10, 64)
		if err != nil {
			return err
		}

		name, err := r.ReadString(0)
		if err != nil && err != io.EOF {
			return err
		}

		var hash plumbing.Hash
		if _, err = io.ReadFull(r, hash[:]); err != nil {
			return err
		}

		baseName := name[:len(name)-1]
		t.Entries = append(t.Entries, &TreeEntry{
			Name: baseName,
			Size: size,
			Mode: mode,
			Hash: hash,
		})

	}
	return nil
}
