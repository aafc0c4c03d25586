// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/repo"
	"github.com/sirupsen/logrus"
)

// DefaultPurgeGracePeriod protects a freshly removed project or
// repository from purge long enough for an operator to notice the
// mistake and unremove it.
const DefaultPurgeGracePeriod = 10 * time.Minute

const mirrorName = "metadata.json"

type managedProject struct {
	meta  *Metadata
	repos map[string]*repo.Repository
}

// Manager owns every project under <dataDir>/projects. Mutations arrive
// one at a time from the command executor; reads are concurrent. All
// cross-references between projects and repositories go through names,
// never object handles.
type Manager struct {
	mu       sync.RWMutex
	root     string
	grace    time.Duration
	projects map[string]*managedProject
}

// NewManager opens the project tree under dataDir, loading every project
// directory found there. grace is the purge grace window; non-positive
// selects DefaultPurgeGracePeriod.
func NewManager(dataDir string, grace time.Duration) (*Manager, error) {
	if grace <= 0 {
		grace = DefaultPurgeGracePeriod
	}
	m := &Manager{
		root:     filepath.Join(dataDir, "projects"),
		grace:    grace,
		projects: make(map[string]*managedProject),
	}
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if !d.IsDir() || !plumbing.ValidateName(d.Name()) {
			continue
		}
		mp, err := m.loadProject(d.Name())
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.projects[d.Name()] = mp
	}
	return m, nil
}

func (m *Manager) loadProject(name string) (*managedProject, error) {
	dir := filepath.Join(m.root, name)
	meta, err := m.loadMetadata(name, dir)
	if err != nil {
		return nil, err
	}
	mp := &managedProject{meta: meta, repos: make(map[string]*repo.Repository)}
	open := func(rn string) error {
		r, err := repo.Open(name, rn, filepath.Join(dir, rn))
		if err != nil {
			return err
		}
		mp.repos[rn] = r
		return nil
	}
	if err := open(model.MetaRepo); err != nil {
		return nil, err
	}
	if err := open(model.DogmaRepo); err != nil {
		return nil, err
	}
	for rn := range meta.Repos {
		if err := open(rn); err != nil {
			return nil, err
		}
	}
	return mp, nil
}

// loadMetadata prefers the mirror file and falls back to the document in
// the dogma repository, rewriting the mirror on the way out.
func (m *Manager) loadMetadata(name, dir string) (*Metadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, mirrorName))
	if err == nil {
		meta := &Metadata{}
		if err := json.Unmarshal(b, meta); err == nil {
			if meta.Repos == nil {
				meta.Repos = make(map[string]*RepoMetadata)
			}
			return meta, nil
		}
		logrus.Warnf("project %s: corrupt metadata mirror, recovering from dogma", name)
	}
	dogma, err := repo.Open(name, model.DogmaRepo, filepath.Join(dir, model.DogmaRepo))
	if err != nil {
		return nil, err
	}
	defer dogma.Close() // nolint: errcheck
	entry, err := dogma.Get(context.Background(), model.Head, model.Identity(model.MetadataPath))
	if err != nil {
		return nil, err
	}
	meta := &Metadata{}
	if err := json.Unmarshal([]byte(entry.Content), meta); err != nil {
		return nil, err
	}
	if meta.Repos == nil {
		meta.Repos = make(map[string]*RepoMetadata)
	}
	if err := writeFileAtomic(filepath.Join(dir, mirrorName), []byte(entry.Content)); err != nil {
		return nil, err
	}
	return meta, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, mp := range m.projects {
		for _, r := range mp.repos {
			if err := r.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	clear(m.projects)
	return firstErr
}

// Create creates the project, its meta repository, its internal dogma
// repository, and seeds the metadata document. The sequence is one
// logical step: a half-created project found on disk is finished, not
// refused, so replaying the command after a crash converges.
func (m *Manager) Create(ctx context.Context, name string, author model.Author, when time.Time) (*model.Project, error) {
	if !plumbing.ValidateName(name) {
		return nil, model.NewErrInvalidRequest("invalid project name: %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[name]; ok {
		return nil, model.NewErrAlreadyExists("project", name)
	}
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	mp := &managedProject{
		meta:  newMetadata(name, author, when),
		repos: make(map[string]*repo.Repository),
	}
	for _, rn := range []string{model.MetaRepo, model.DogmaRepo} {
		r, err := repo.Open(name, rn, filepath.Join(dir, rn))
		if err != nil {
			return nil, err
		}
		if err := r.Initialize(ctx, author, when); err != nil {
			_ = r.Close()
			return nil, err
		}
		mp.repos[rn] = r
	}
	if err := m.commitMetadata(ctx, mp, author, when, "Create project "+name); err != nil {
		for _, r := range mp.repos {
			_ = r.Close()
		}
		return nil, err
	}
	m.projects[name] = mp
	logrus.Infof("project %s created by %s", name, author.Email)
	return projectView(mp.meta), nil
}

// Remove soft-removes an active project. Its repositories stay on disk
// and keep their history; only listings and routing change.
func (m *Manager) Remove(ctx context.Context, name string, author model.Author, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, err := m.activeProject(name)
	if err != nil {
		return err
	}
	meta := mp.meta.clone()
	removedAt := when.In(time.UTC)
	meta.Status = model.StatusRemoved
	meta.RemovedAt = &removedAt
	return m.commitAndSwap(ctx, mp, meta, author, when, "Remove project "+name)
}

// Unremove brings a soft-removed project back into active listings.
func (m *Manager) Unremove(ctx context.Context, name string, author model.Author, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.projects[name]
	if !ok {
		return model.NewErrNotFound("project", "%s", name)
	}
	if mp.meta.Status != model.StatusRemoved {
		return model.NewErrInvalidRequest("project %s is not removed", name)
	}
	meta := mp.meta.clone()
	meta.Status = model.StatusActive
	meta.RemovedAt = nil
	return m.commitAndSwap(ctx, mp, meta, author, when, "Unremove project "+name)
}

// Purge physically deletes a soft-removed project once its grace window
// has elapsed.
func (m *Manager) Purge(name string, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.projects[name]
	if !ok {
		return model.NewErrNotFound("project", "%s", name)
	}
	if err := purgeable(mp.meta.Status, mp.meta.RemovedAt, m.grace, when); err != nil {
		return err
	}
	for _, r := range mp.repos {
		_ = r.Close()
	}
	delete(m.projects, name)
	if err := os.RemoveAll(filepath.Join(m.root, name)); err != nil {
		return err
	}
	logrus.Infof("project %s purged", name)
	return nil
}

func purgeable(status model.Status, removedAt *time.Time, grace time.Duration, when time.Time) error {
	if status != model.StatusRemoved || removedAt == nil {
		return model.NewErrInvalidRequest("not removed, remove it first")
	}
	if elapsed := when.Sub(*removedAt); elapsed < grace {
		return model.NewErrInvalidRequest("removed %v ago, purgeable after %v", elapsed.Round(time.Second), grace)
	}
	return nil
}

// Get returns the project view, active or removed.
func (m *Manager) Get(name string) (*model.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.projects[name]
	if !ok {
		return nil, model.NewErrNotFound("project", "%s", name)
	}
	return projectView(mp.meta), nil
}

// List returns projects with the given status, sorted by name.
func (m *Manager) List(status model.Status) []*model.Project {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Project, 0, len(m.projects))
	for _, mp := range m.projects {
		if mp.meta.Status == status {
			out = append(out, projectView(mp.meta))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func projectView(meta *Metadata) *model.Project {
	return &model.Project{
		Name:      meta.Name,
		Creator:   meta.Creator,
		CreatedAt: meta.CreatedAt,
		Status:    meta.Status,
	}
}

func (m *Manager) activeProject(name string) (*managedProject, error) {
	mp, ok := m.projects[name]
	if !ok || mp.meta.Status != model.StatusActive {
		return nil, model.NewErrNotFound("project", "%s", name)
	}
	return mp, nil
}

// commitAndSwap commits meta to the dogma repository and, only then,
// makes it the in-memory truth.
func (m *Manager) commitAndSwap(ctx context.Context, mp *managedProject, meta *Metadata, author model.Author, when time.Time, summary string) error {
	old := mp.meta
	mp.meta = meta
	if err := m.commitMetadata(ctx, mp, author, when, summary); err != nil {
		mp.meta = old
		return err
	}
	return nil
}

// commitMetadata pushes the current metadata document to the dogma
// repository and refreshes the mirror file. A push that changes nothing
// is fine: the document was already current, as happens when a crashed
// command is replayed.
func (m *Manager) commitMetadata(ctx context.Context, mp *managedProject, author model.Author, when time.Time, summary string) error {
	content, err := json.Marshal(mp.meta)
	if err != nil {
		return err
	}
	dogma := mp.repos[model.DogmaRepo]
	_, err = dogma.Commit(ctx, model.Head, author, when,
		model.CommitMessage{Summary: summary},
		[]model.Change{model.UpsertJSON(model.MetadataPath, content)})
	if err != nil && !model.IsErrRedundantChange(err) {
		return err
	}
	return writeFileAtomic(filepath.Join(m.root, mp.meta.Name, mirrorName), content)
}

func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
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
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
