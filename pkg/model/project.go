// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"time"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed"
)

const (
	// MetaRepo holds a project's own configuration: credentials, mirrors,
	// member roles. Only the documented files below /credentials,
	// /mirrors and the metadata documents may be written there.
	MetaRepo = "meta"
	// DogmaRepo is the reserved internal repository of every project.
	DogmaRepo = "dogma"
	// MetadataPath is the project metadata document inside DogmaRepo.
	MetadataPath = "/metadata.json"
)

// IsReservedRepoName reports whether name is claimed by the service
// itself and cannot be created or removed by clients.
func IsReservedRepoName(name string) bool {
	return name == MetaRepo || name == DogmaRepo
}

// Project is a top-level tenant bucket of repositories.
type Project struct {
	Name      string    `json:"name"`
	Creator   Author    `json:"creator"`
	CreatedAt time.Time `json:"createdAt"`
	Status    Status    `json:"status,omitempty"`
}

// Repository is one ordered commit history under a project.
type Repository struct {
	Name         string    `json:"name"`
	Creator      Author    `json:"creator"`
	CreatedAt    time.Time `json:"createdAt"`
	HeadRevision Revision  `json:"headRevision,omitempty"`
	Status       Status    `json:"status,omitempty"`
}

// ServerStatus is the replicated writable/replicating switch. Turning
// writable off puts every replica into read-only mode; turning
// replicating off additionally stops log consumption.
type ServerStatus struct {
	Writable    bool `json:"writable"`
	Replicating bool `json:"replicating"`
}

// Session is a replicated login session. Sessions ride the command log so
// that a login on one replica is honored on all of them.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
