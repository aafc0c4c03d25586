// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/antgroup/vega/pkg/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

const (
	maxAllowedPacket = 16777216

	// ER_DUP_ENTRY: another replica won the race for the same index.
	erDupEntry = 1062
)

// OpenDB opens the coordinator database from its DSN. Connection limits
// follow the parent codebase's server defaults.
func OpenDB(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("replication: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.MaxAllowedPacket = maxAllowedPacket
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("replication: new connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxIdleConns(25)
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// DatabaseJournal stores the log in a shared database table. Indexes are
// assigned optimistically: read the current head, insert head+1, and let
// the primary key reject the loser when two leaders of a split second
// both try. Every transient failure is retried with capped exponential
// backoff before it surfaces as replication-unavailable.
type DatabaseJournal struct {
	db    *sql.DB
	table string
}

func NewDatabaseJournal(ctx context.Context, db *sql.DB, pathPrefix string) (*DatabaseJournal, error) {
	j := &DatabaseJournal{db: db, table: pathPrefix + "journal"}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  idx BIGINT NOT NULL PRIMARY KEY,
  replica_id VARCHAR(64) NOT NULL,
  command MEDIUMBLOB NOT NULL,
  created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
)`, j.table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("replication: create journal table: %w", err)
	}
	return j, nil
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(b, ctx)
}

func isDupEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}

func (j *DatabaseJournal) Append(ctx context.Context, replicaID string, command []byte) (int64, error) {
	var index int64
	op := func() error {
		head, err := j.Head(ctx)
		if err != nil {
			return err
		}
		index = head + 1
		_, err = j.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (idx, replica_id, command) VALUES (?, ?, ?)", j.table),
			index, replicaID, command)
		if isDupEntry(err) {
			logrus.Debugf("journal index %d taken, retrying", index)
		}
		return err
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return 0, model.NewErrReplicationUnavailable("journal append failed: %v", err)
	}
	return index, nil
}

func (j *DatabaseJournal) Read(ctx context.Context, from int64, max int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		fmt.Sprintf("SELECT idx, replica_id, command, created_at FROM %s WHERE idx >= ? ORDER BY idx LIMIT ?", j.table),
		from, max)
	if err != nil {
		return nil, model.NewErrReplicationUnavailable("journal read failed: %v", err)
	}
	defer rows.Close() // nolint: errcheck
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Index, &e.ReplicaID, &e.Command, &e.CommitTime); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *DatabaseJournal) Head(ctx context.Context) (int64, error) {
	var head int64
	err := j.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(idx), -1) FROM %s", j.table)).Scan(&head)
	if err != nil {
		return 0, model.NewErrReplicationUnavailable("journal head failed: %v", err)
	}
	return head, nil
}

func (j *DatabaseJournal) Prune(ctx context.Context, keepIndex int64, minAge time.Duration) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE idx < ? AND created_at < ?", j.table),
		keepIndex, time.Now().Add(-minAge))
	if err != nil {
		return 0, model.NewErrReplicationUnavailable("journal prune failed: %v", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (j *DatabaseJournal) Close() error {
	return nil // the caller owns the shared *sql.DB
}

var _ Journal = &DatabaseJournal{}
