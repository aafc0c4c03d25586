// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"time"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/vega/object"
	"github.com/antgroup/vega/pkg/model"
	"github.com/sirupsen/logrus"
)

// maxCommitRetries bounds how often a push is replayed against a head
// that moved underneath it before the conflict is surfaced.
const maxCommitRetries = 8

// Commit applies changes on top of base and, if base still is the
// head, appends the resulting revision. The write path is optimistic:
// blobs and trees are flushed first, then a compare-and-swap advances
// the head, retrying from scratch when another writer won the race.
func (r *Repository) Commit(ctx context.Context, base model.Revision, author model.Author, when time.Time, msg model.CommitMessage, changes []model.Change) (*model.PushResult, error) {
	if len(changes) == 0 {
		return nil, model.NewErrInvalidRequest("no changes to commit")
	}
	if msg.Summary == "" {
		return nil, model.NewErrInvalidRequest("commit summary is required")
	}
	if author.Name == "" || author.Email == "" {
		return nil, model.NewErrInvalidRequest("commit author is required")
	}
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		result, err := r.tryCommit(ctx, base, author, when, msg, changes)
		if err == nil {
			return result, nil
		}
		if !plumbing.IsErrRefChanged(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, model.NewErrChangeConflict("head moved %d times while committing: %v", maxCommitRetries, lastErr)
}

func (r *Repository) tryCommit(ctx context.Context, base model.Revision, author model.Author, when time.Time, msg model.CommitMessage, changes []model.Change) (*model.PushResult, error) {
	headRev, tip, err := r.db.Tip()
	if err != nil {
		return nil, err
	}
	head := model.Revision(headRev)
	absBase, err := r.Normalize(base)
	if err != nil {
		return nil, err
	}
	if absBase != head {
		return nil, model.NewErrChangeConflict("base revision %d is not the head %d", absBase, head)
	}
	parent, err := r.db.Commit(ctx, tip)
	if err != nil {
		return nil, err
	}
	root, err := parent.Root(ctx)
	if err != nil {
		return nil, err
	}
	w := newWorktree(r)
	if err := w.loadTree(ctx, root); err != nil {
		return nil, err
	}
	baseline := w.snapshot()
	for i := range changes {
		if err := w.apply(ctx, &changes[i]); err != nil {
			return nil, err
		}
	}
	delta := w.delta(baseline)
	if delta.empty() {
		return nil, model.NewErrRedundantChange("changes produce no new tree at revision %d", head)
	}
	if err := w.flush(ctx); err != nil {
		return nil, err
	}
	treeOID, err := w.writeTrees(ctx)
	if err != nil {
		return nil, err
	}
	// Timestamps never run backwards within one history, whatever the
	// caller's clock says.
	when = when.In(time.UTC)
	if when.Before(parent.Author.When) {
		when = parent.Author.When
	}
	markup := msg.Markup
	if markup == "" {
		markup = model.MarkupPlaintext
	}
	cc := &object.Commit{
		Revision: int64(head) + 1,
		Author:   author.Signature(when),
		Parents:  []plumbing.Hash{tip},
		Tree:     treeOID,
		Summary:  msg.Summary,
		Detail:   msg.Detail,
		Markup:   markup,
	}
	oid, err := r.db.WriteEncoded(cc)
	if err != nil {
		return nil, err
	}
	if err := r.db.CAS(tip, int64(head)+1, oid); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"project":  r.project,
		"repo":     r.name,
		"revision": int64(head) + 1,
		"commit":   oid,
	}).Debug("revision committed")
	r.notifier.Publish(int64(head)+1, delta.touched())
	return &model.PushResult{Revision: head + 1, PushedAt: when}, nil
}
