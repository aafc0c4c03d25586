// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/repo"
	"github.com/sirupsen/logrus"
)

// CreateRepo creates a repository under an active project and records it
// in the project metadata. Reserved names are refused; they exist from
// project creation and never go away.
func (m *Manager) CreateRepo(ctx context.Context, project, name string, author model.Author, when time.Time) (*model.Repository, error) {
	if !plumbing.ValidateName(name) || model.IsReservedRepoName(name) {
		return nil, model.NewErrInvalidRequest("invalid repository name: %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, err := m.activeProject(project)
	if err != nil {
		return nil, err
	}
	if _, ok := mp.meta.Repos[name]; ok {
		return nil, model.NewErrAlreadyExists("repository", project+"/"+name)
	}
	r, err := repo.Open(project, name, filepath.Join(m.root, project, name))
	if err != nil {
		return nil, err
	}
	if err := r.Initialize(ctx, author, when); err != nil {
		_ = r.Close()
		return nil, err
	}
	meta := mp.meta.clone()
	meta.Repos[name] = &RepoMetadata{
		Name:      name,
		Creator:   author,
		CreatedAt: when.In(time.UTC),
		Status:    model.StatusActive,
	}
	mp.repos[name] = r
	if err := m.commitAndSwap(ctx, mp, meta, author, when, "Create repository "+name); err != nil {
		delete(mp.repos, name)
		_ = r.Close()
		return nil, err
	}
	logrus.Infof("repository %s/%s created by %s", project, name, author.Email)
	return repositoryView(meta.Repos[name], r), nil
}

// RemoveRepo soft-removes a repository. History and watchers survive on
// disk; routing stops until the repository is unremoved.
func (m *Manager) RemoveRepo(ctx context.Context, project, name string, author model.Author, when time.Time) error {
	if model.IsReservedRepoName(name) {
		return model.NewErrForbidden("repository %s cannot be removed", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, err := m.activeProject(project)
	if err != nil {
		return err
	}
	rm, ok := mp.meta.Repos[name]
	if !ok || rm.Status != model.StatusActive {
		return model.NewErrNotFound("repository", "%s/%s", project, name)
	}
	meta := mp.meta.clone()
	removedAt := when.In(time.UTC)
	meta.Repos[name].Status = model.StatusRemoved
	meta.Repos[name].RemovedAt = &removedAt
	return m.commitAndSwap(ctx, mp, meta, author, when, "Remove repository "+name)
}

// UnremoveRepo brings a soft-removed repository back.
func (m *Manager) UnremoveRepo(ctx context.Context, project, name string, author model.Author, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, err := m.activeProject(project)
	if err != nil {
		return err
	}
	rm, ok := mp.meta.Repos[name]
	if !ok {
		return model.NewErrNotFound("repository", "%s/%s", project, name)
	}
	if rm.Status != model.StatusRemoved {
		return model.NewErrInvalidRequest("repository %s/%s is not removed", project, name)
	}
	meta := mp.meta.clone()
	meta.Repos[name].Status = model.StatusActive
	meta.Repos[name].RemovedAt = nil
	return m.commitAndSwap(ctx, mp, meta, author, when, "Unremove repository "+name)
}

// PurgeRepo physically deletes a soft-removed repository after its grace
// window.
func (m *Manager) PurgeRepo(ctx context.Context, project, name string, author model.Author, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, err := m.activeProject(project)
	if err != nil {
		return err
	}
	rm, ok := mp.meta.Repos[name]
	if !ok {
		return model.NewErrNotFound("repository", "%s/%s", project, name)
	}
	if err := purgeable(rm.Status, rm.RemovedAt, m.grace, when); err != nil {
		return err
	}
	if r, ok := mp.repos[name]; ok {
		_ = r.Close()
		delete(mp.repos, name)
	}
	meta := mp.meta.clone()
	delete(meta.Repos, name)
	if err := m.commitAndSwap(ctx, mp, meta, author, when, "Purge repository "+name); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(m.root, project, name)); err != nil {
		return err
	}
	logrus.Infof("repository %s/%s purged", project, name)
	return nil
}

// Repo routes to an active repository's engine. The reserved meta and
// dogma repositories resolve whenever the project is active.
func (m *Manager) Repo(project, name string) (*repo.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, err := m.activeProject(project)
	if err != nil {
		return nil, err
	}
	if !model.IsReservedRepoName(name) {
		rm, ok := mp.meta.Repos[name]
		if !ok || rm.Status != model.StatusActive {
			return nil, model.NewErrNotFound("repository", "%s/%s", project, name)
		}
	}
	r, ok := mp.repos[name]
	if !ok {
		return nil, model.NewErrNotFound("repository", "%s/%s", project, name)
	}
	return r, nil
}

// ListRepos returns a project's repositories with the given status,
// sorted by name. The reserved repositories are listed as active.
func (m *Manager) ListRepos(project string, status model.Status) ([]*model.Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, err := m.activeProject(project)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Repository, 0, len(mp.meta.Repos)+2)
	if status == model.StatusActive {
		for _, rn := range []string{model.DogmaRepo, model.MetaRepo} {
			out = append(out, repositoryView(&RepoMetadata{
				Name:      rn,
				Creator:   mp.meta.Creator,
				CreatedAt: mp.meta.CreatedAt,
				Status:    model.StatusActive,
			}, mp.repos[rn]))
		}
	}
	for name, rm := range mp.meta.Repos {
		if rm.Status != status {
			continue
		}
		out = append(out, repositoryView(rm, mp.repos[name]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func repositoryView(rm *RepoMetadata, r *repo.Repository) *model.Repository {
	v := &model.Repository{
		Name:      rm.Name,
		Creator:   rm.Creator,
		CreatedAt: rm.CreatedAt,
		Status:    rm.Status,
	}
	if r != nil {
		v.HeadRevision = r.Head()
	}
	return v
}
