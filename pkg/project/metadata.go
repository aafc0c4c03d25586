// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package project is the ProjectManager: the one place project and
// repository lifecycles are decided. Every mutation lands here after the
// replication log has ordered it, updates the project's metadata document
// in its internal dogma repository, and mirrors the document to a plain
// file so listings never need to open an object store.
package project

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/antgroup/vega/pkg/model"
)

// RepoMetadata is one repository's lifecycle record inside the project
// metadata document.
type RepoMetadata struct {
	Name      string       `json:"name"`
	Creator   model.Author `json:"creator"`
	CreatedAt time.Time    `json:"createdAt"`
	Status    model.Status `json:"status"`
	RemovedAt *time.Time   `json:"removedAt,omitempty"`
}

// Metadata is the project metadata document, the content of
// /metadata.json in the project's dogma repository. The multiset of
// fields is the replicated truth; the on-disk mirror is a cache of the
// same bytes.
type Metadata struct {
	Name      string                   `json:"name"`
	Creator   model.Author             `json:"creator"`
	CreatedAt time.Time                `json:"createdAt"`
	Status    model.Status             `json:"status"`
	RemovedAt *time.Time               `json:"removedAt,omitempty"`
	Repos     map[string]*RepoMetadata `json:"repos"`
}

func newMetadata(name string, creator model.Author, when time.Time) *Metadata {
	return &Metadata{
		Name:      name,
		Creator:   creator,
		CreatedAt: when.In(time.UTC),
		Status:    model.StatusActive,
		Repos:     make(map[string]*RepoMetadata),
	}
}

func (m *Metadata) clone() *Metadata {
	b, _ := json.Marshal(m)
	c := &Metadata{}
	_ = json.Unmarshal(b, c)
	if c.Repos == nil {
		c.Repos = make(map[string]*RepoMetadata)
	}
	return c
}

// MetaWritable reports whether path may be written in a project's meta
// repository. Only the documented configuration files are allowed there;
// everything else is refused before the push reaches the engine.
func MetaWritable(path string) bool {
	if path == model.MetadataPath {
		return true
	}
	for _, prefix := range []string{"/credentials/", "/mirrors/"} {
		if strings.HasPrefix(path, prefix) &&
			strings.HasSuffix(path, ".json") &&
			!strings.Contains(path[len(prefix):], "/") {
			return true
		}
	}
	return false
}
