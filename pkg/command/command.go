// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package command defines the typed mutation commands that ride the
// replication log. A command is a tagged union: one JSON envelope whose
// payload shape is chosen by its type. Every replica decodes the same
// bytes into the same command and applies it through the executor, so
// anything a command carries must be deterministic at append time.
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/antgroup/vega/pkg/model"
	"github.com/google/uuid"
)

type Type string

const (
	TypeCreateProject      Type = "CREATE_PROJECT"
	TypeRemoveProject      Type = "REMOVE_PROJECT"
	TypeUnremoveProject    Type = "UNREMOVE_PROJECT"
	TypePurgeProject       Type = "PURGE_PROJECT"
	TypeCreateRepository   Type = "CREATE_REPOSITORY"
	TypeRemoveRepository   Type = "REMOVE_REPOSITORY"
	TypeUnremoveRepository Type = "UNREMOVE_REPOSITORY"
	TypePurgeRepository    Type = "PURGE_REPOSITORY"
	TypeNormalizeRevision  Type = "NORMALIZE_REVISION"
	TypePush               Type = "PUSH"
	TypeTransform          Type = "TRANSFORM"
	TypeCreateSession      Type = "CREATE_SESSION"
	TypeRemoveSession      Type = "REMOVE_SESSION"
	TypeUpdateServerStatus Type = "UPDATE_SERVER_STATUS"
)

// Command is the envelope shared by the whole taxonomy. Project and Repo
// route the command; the payload carries what the type needs beyond that.
type Command struct {
	Type           Type         `json:"type"`
	Timestamp      time.Time    `json:"timestampMillis"`
	Author         model.Author `json:"author"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Project        string       `json:"project,omitempty"`
	Repo           string       `json:"repository,omitempty"`
	Payload        any          `json:"payload,omitempty"`
}

// Mutates reports whether the command must be serialized through the
// replication log. NormalizeRevision is the one read in the taxonomy; it
// exists so clients can resolve a relative revision through the same
// surface.
func (c *Command) Mutates() bool {
	return c.Type != TypeNormalizeRevision
}

func (c *Command) String() string {
	if c.Repo != "" {
		return fmt.Sprintf("%s %s/%s", c.Type, c.Project, c.Repo)
	}
	if c.Project != "" {
		return fmt.Sprintf("%s %s", c.Type, c.Project)
	}
	return string(c.Type)
}

// Push carries one atomic multi-file commit.
type Push struct {
	BaseRevision model.Revision      `json:"baseRevision"`
	Message      model.CommitMessage `json:"commitMessage"`
	Changes      []model.Change      `json:"changes"`
}

// NormalizeRevision resolves a possibly relative revision against the
// head at execution time.
type NormalizeRevision struct {
	Revision model.Revision `json:"revision"`
}

// Transform rewrites one file through a registered transform function.
// The function runs at apply time against the content current at that
// moment; that is how read-modify-write workflows serialize through the
// log without holding a revision hostage.
type Transform struct {
	Summary  string          `json:"summary"`
	Path     string          `json:"path"`
	Func     string          `json:"transform"`
	Argument json.RawMessage `json:"argument,omitempty"`
}

// CreateSession replicates a freshly minted login session.
type CreateSession struct {
	Session model.Session `json:"session"`
}

// RemoveSession revokes a session on every replica.
type RemoveSession struct {
	SessionID string `json:"sessionId"`
}

// UpdateServerStatus flips the replicated writable/replicating switches.
type UpdateServerStatus struct {
	Status model.ServerStatus `json:"serverStatus"`
}

func newCommand(t Type, author model.Author, when time.Time) *Command {
	return &Command{
		Type:           t,
		Timestamp:      when.In(time.UTC),
		Author:         author,
		IdempotencyKey: uuid.NewString(),
	}
}

func NewCreateProject(author model.Author, when time.Time, project string) *Command {
	c := newCommand(TypeCreateProject, author, when)
	c.Project = project
	return c
}

func NewRemoveProject(author model.Author, when time.Time, project string) *Command {
	c := newCommand(TypeRemoveProject, author, when)
	c.Project = project
	return c
}

func NewUnremoveProject(author model.Author, when time.Time, project string) *Command {
	c := newCommand(TypeUnremoveProject, author, when)
	c.Project = project
	return c
}

func NewPurgeProject(author model.Author, when time.Time, project string) *Command {
	c := newCommand(TypePurgeProject, author, when)
	c.Project = project
	return c
}

func NewCreateRepository(author model.Author, when time.Time, project, repo string) *Command {
	c := newCommand(TypeCreateRepository, author, when)
	c.Project, c.Repo = project, repo
	return c
}

func NewRemoveRepository(author model.Author, when time.Time, project, repo string) *Command {
	c := newCommand(TypeRemoveRepository, author, when)
	c.Project, c.Repo = project, repo
	return c
}

func NewUnremoveRepository(author model.Author, when time.Time, project, repo string) *Command {
	c := newCommand(TypeUnremoveRepository, author, when)
	c.Project, c.Repo = project, repo
	return c
}

func NewPurgeRepository(author model.Author, when time.Time, project, repo string) *Command {
	c := newCommand(TypePurgeRepository, author, when)
	c.Project, c.Repo = project, repo
	return c
}

func NewNormalizeRevision(author model.Author, when time.Time, project, repo string, rev model.Revision) *Command {
	c := newCommand(TypeNormalizeRevision, author, when)
	c.Project, c.Repo = project, repo
	c.Payload = &NormalizeRevision{Revision: rev}
	return c
}

func NewPush(author model.Author, when time.Time, project, repo string, base model.Revision, msg model.CommitMessage, changes []model.Change) *Command {
	c := newCommand(TypePush, author, when)
	c.Project, c.Repo = project, repo
	c.Payload = &Push{BaseRevision: base, Message: msg, Changes: changes}
	return c
}

func NewTransform(author model.Author, when time.Time, project, repo, summary, path, fn string, argument json.RawMessage) *Command {
	c := newCommand(TypeTransform, author, when)
	c.Project, c.Repo = project, repo
	c.Payload = &Transform{Summary: summary, Path: path, Func: fn, Argument: argument}
	return c
}

func NewCreateSession(author model.Author, when time.Time, session model.Session) *Command {
	c := newCommand(TypeCreateSession, author, when)
	c.Payload = &CreateSession{Session: session}
	return c
}

func NewRemoveSession(author model.Author, when time.Time, sessionID string) *Command {
	c := newCommand(TypeRemoveSession, author, when)
	c.Payload = &RemoveSession{SessionID: sessionID}
	return c
}

func NewUpdateServerStatus(author model.Author, when time.Time, status model.ServerStatus) *Command {
	c := newCommand(TypeUpdateServerStatus, author, when)
	c.Payload = &UpdateServerStatus{Status: status}
	return c
}
