// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"time"

	"github.com/antgroup/vega/pkg/model"
)

// WatchOptions tunes a long-poll watch.
type WatchOptions struct {
	// Timeout caps how long the watch parks before giving up with
	// ErrNotModified. Zero or negative means answer immediately.
	Timeout time.Duration
	// ErrorOnEntryNotFound makes a file watch fail fast when the
	// watched entry does not exist, instead of waiting for it to
	// appear.
	ErrorOnEntryNotFound bool
}

// Watch blocks until some revision after lastKnown changes a path
// matching pattern, then returns the head at that moment. Changes that
// landed between lastKnown and now resolve the watch immediately; an
// expired timeout reports ErrNotModified.
func (r *Repository) Watch(ctx context.Context, lastKnown model.Revision, pattern string, opts *WatchOptions) (model.Revision, error) {
	if opts == nil {
		opts = &WatchOptions{}
	}
	p, err := model.CompilePathPattern(pattern)
	if err != nil {
		return 0, err
	}
	last, err := r.Normalize(lastKnown)
	if err != nil {
		return 0, err
	}
	deadline := time.Now().Add(opts.Timeout)
	for {
		head := model.Revision(r.db.Head())
		if head > last {
			changed, err := r.rangeTouches(ctx, last, head, p)
			if err != nil {
				return 0, err
			}
			if changed {
				return head, nil
			}
			// nothing relevant in (last, head]; do not rescan it
			last = head
		}
		// Await checks the latest published revision against last under
		// the same lock that registers the waiter, so a commit landing
		// after the head read above cannot be lost.
		if _, err := r.notifier.Await(ctx, p, int64(last), time.Until(deadline)); err != nil {
			return 0, err
		}
		// woken by a publish; recheck against the new head
	}
}

// WatchFile waits for the file a query names to change after lastKnown
// and returns the freshly evaluated query result. A change that
// removes the file resolves the watch with a not found error.
func (r *Repository) WatchFile(ctx context.Context, lastKnown model.Revision, q model.Query, opts *WatchOptions) (*model.Entry, error) {
	if opts == nil {
		opts = &WatchOptions{}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if opts.ErrorOnEntryNotFound {
		if _, err := r.Get(ctx, lastKnown, q); err != nil {
			return nil, err
		}
	}
	rev, err := r.Watch(ctx, lastKnown, q.Path, opts)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, rev, q)
}

// rangeTouches reports whether any commit in (from, to] changed a path
// matching p.
func (r *Repository) rangeTouches(ctx context.Context, from, to model.Revision, p *model.PathPattern) (bool, error) {
	if p.All() {
		// every commit past revision 1 touches at least one path, and
		// from >= 1 keeps revision 1 out of the range
		return true, nil
	}
	for rev := from + 1; rev <= to; rev++ {
		cc, err := r.commitAt(ctx, rev)
		if err != nil {
			return false, err
		}
		touched, err := r.commitTouches(ctx, cc, p)
		if err != nil {
			return false, err
		}
		if touched {
			return true, nil
		}
	}
	return false, nil
}
