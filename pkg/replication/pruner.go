// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RunPruner trims the journal on a ticker until ctx is done. Only the
// leader prunes; followers that fell behind the retention horizon must
// still find the entries they need, which the double retention rule
// (count and age) is sized to guarantee.
func RunPruner(ctx context.Context, journal Journal, elector LeaderElector, retention Retention, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		if !elector.IsLeader() {
			continue
		}
		head, err := journal.Head(ctx)
		if err != nil {
			logrus.Warnf("journal prune: head: %v", err)
			continue
		}
		keep := head - retention.MaxLogCount
		if keep <= 0 {
			continue
		}
		pruned, err := journal.Prune(ctx, keep, retention.MinLogAge)
		if err != nil {
			logrus.Warnf("journal prune: %v", err)
			continue
		}
		if pruned > 0 {
			logrus.Debugf("journal pruned %d entries below index %d", pruned, keep)
		}
	}
}
