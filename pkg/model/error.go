// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"errors"
	"fmt"
)

// The error kinds the service surfaces to clients. Every layer reports
// failures as one of these so the HTTP edge can map them to status codes
// without string matching. Transient infrastructure errors are retried
// below this surface and arrive here only as ErrReplicationUnavailable.

type ErrNotFound struct {
	Kind string // "project", "repository", "revision", "entry"
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func NewErrNotFound(kind, format string, a ...any) error {
	return &ErrNotFound{Kind: kind, Name: fmt.Sprintf(format, a...)}
}

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

type ErrAlreadyExists struct {
	Kind string
	Name string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.Name)
}

func NewErrAlreadyExists(kind, name string) error {
	return &ErrAlreadyExists{Kind: kind, Name: name}
}

func IsErrAlreadyExists(err error) bool {
	var e *ErrAlreadyExists
	return errors.As(err, &e)
}

// ErrChangeConflict rejects a commit that cannot apply: stale base
// revision, patch target missing, rename collision, remove of an absent
// path.
type ErrChangeConflict struct {
	Reason string
}

func (e *ErrChangeConflict) Error() string { return e.Reason }

func NewErrChangeConflict(format string, a ...any) error {
	return &ErrChangeConflict{Reason: fmt.Sprintf(format, a...)}
}

func IsErrChangeConflict(err error) bool {
	var e *ErrChangeConflict
	return errors.As(err, &e)
}

// ErrRedundantChange rejects a commit whose resulting tree is identical
// to its base.
type ErrRedundantChange struct {
	Reason string
}

func (e *ErrRedundantChange) Error() string { return e.Reason }

func NewErrRedundantChange(format string, a ...any) error {
	return &ErrRedundantChange{Reason: fmt.Sprintf(format, a...)}
}

func IsErrRedundantChange(err error) bool {
	var e *ErrRedundantChange
	return errors.As(err, &e)
}

// ErrQueryFailure reports a query that evaluated to nothing or could not
// be evaluated against the entry's content.
type ErrQueryFailure struct {
	Reason string
}

func (e *ErrQueryFailure) Error() string { return e.Reason }

func NewErrQueryFailure(format string, a ...any) error {
	return &ErrQueryFailure{Reason: fmt.Sprintf(format, a...)}
}

// IsErrQueryFailure matches query failures, including merge type
// clashes: a clash means the requested merge cannot be evaluated, so
// it surfaces like any other unanswerable query rather than as a
// commit conflict.
func IsErrQueryFailure(err error) bool {
	var e *ErrQueryFailure
	if errors.As(err, &e) {
		return true
	}
	var mc *ErrMergeConflict
	return errors.As(err, &mc)
}

// ErrMergeConflict reports a type clash while merging JSON documents. It
// names the JSON Pointer where the clash happened and the node kinds that
// disagreed. It is a query failure kind: the merge request could not be
// evaluated.
type ErrMergeConflict struct {
	Pointer  string
	Expected string
	Actual   string
}

func (e *ErrMergeConflict) Error() string {
	return fmt.Sprintf("failed to merge tree at %s: expected %s, found %s", e.Pointer, e.Expected, e.Actual)
}

func NewErrMergeConflict(pointer, expected, actual string) error {
	return &ErrMergeConflict{Pointer: pointer, Expected: expected, Actual: actual}
}

func IsErrMergeConflict(err error) bool {
	var e *ErrMergeConflict
	return errors.As(err, &e)
}

type ErrInvalidRequest struct {
	Reason string
}

func (e *ErrInvalidRequest) Error() string { return e.Reason }

func NewErrInvalidRequest(format string, a ...any) error {
	return &ErrInvalidRequest{Reason: fmt.Sprintf(format, a...)}
}

func IsErrInvalidRequest(err error) bool {
	var e *ErrInvalidRequest
	return errors.As(err, &e)
}

type ErrForbidden struct {
	Reason string
}

func (e *ErrForbidden) Error() string { return e.Reason }

func NewErrForbidden(format string, a ...any) error {
	return &ErrForbidden{Reason: fmt.Sprintf(format, a...)}
}

func IsErrForbidden(err error) bool {
	var e *ErrForbidden
	return errors.As(err, &e)
}

// ErrQuotaExceeded reports an exhausted per-repository write quota. Not
// fatal; the client may retry once the window refills.
type ErrQuotaExceeded struct {
	Reason string
}

func (e *ErrQuotaExceeded) Error() string { return e.Reason }

func NewErrQuotaExceeded(format string, a ...any) error {
	return &ErrQuotaExceeded{Reason: fmt.Sprintf(format, a...)}
}

func IsErrQuotaExceeded(err error) bool {
	var e *ErrQuotaExceeded
	return errors.As(err, &e)
}

// ErrReplicationUnavailable reports that no leader is reachable, a
// fail-over is in progress, or the coordinator kept failing after
// bounded retries.
type ErrReplicationUnavailable struct {
	Reason string
}

func (e *ErrReplicationUnavailable) Error() string { return e.Reason }

func NewErrReplicationUnavailable(format string, a ...any) error {
	return &ErrReplicationUnavailable{Reason: fmt.Sprintf(format, a...)}
}

func IsErrReplicationUnavailable(err error) bool {
	var e *ErrReplicationUnavailable
	return errors.As(err, &e)
}

var (
	// ErrShuttingDown short-circuits everything once the drain begins.
	ErrShuttingDown = errors.New("server is shutting down")
	// ErrNotModified resolves a watch whose timeout elapsed before the
	// head advanced. A sentinel, not a failure.
	ErrNotModified = errors.New("entry not modified")
)
