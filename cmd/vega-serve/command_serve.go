// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/antgroup/vega/pkg/cache"
	"github.com/antgroup/vega/pkg/executor"
	"github.com/antgroup/vega/pkg/httpserver"
	"github.com/antgroup/vega/pkg/project"
	"github.com/antgroup/vega/pkg/replication"
	"github.com/antgroup/vega/pkg/serve"
	"github.com/antgroup/vega/pkg/version"
	"github.com/sirupsen/logrus"
)

type Serve struct {
	Config string `short:"c" name:"config" help:"Location of server config file" default:"/etc/vega/vega.json" type:"path"`
}

// service bundles everything that must wind down on exit, in order:
// HTTP listeners, executor, election, storage.
type service struct {
	server   *httpserver.Server
	exec     executor.Executor
	elector  replication.LeaderElector
	journal  replication.Journal
	db       *sql.DB
	manager  *project.Manager
	cache    *cache.Cache
	stopLoop context.CancelFunc
}

func (s *service) Shutdown(ctx context.Context) error {
	_ = s.server.Shutdown(ctx)
	if s.stopLoop != nil {
		s.stopLoop()
	}
	if s.elector != nil {
		_ = s.elector.Stop()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	return s.manager.Close()
}

func (c *Serve) Run(globals *Globals) error {
	cfg, err := serve.LoadConfig(c.Config, globals.ExpandEnv)
	if err != nil {
		logrus.Errorf("vega-serve load config error: %v", err)
		return err
	}
	svc, err := buildService(context.Background(), cfg)
	if err != nil {
		logrus.Errorf("vega-serve initialize error: %v", err)
		return err
	}
	closer := newCloser()
	go closer.listenSignal(context.Background(), svc, cfg.ShutdownTimeout())
	if err := svc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("vega-serve listen error: %v", err)
		return err
	}
	<-closer.ch
	logrus.Infof("vega-serve exited")
	return nil
}

func buildService(ctx context.Context, cfg *serve.Config) (*service, error) {
	manager, err := project.NewManager(cfg.DataDir, cfg.PurgeGracePeriod())
	if err != nil {
		return nil, err
	}
	state, err := executor.OpenState(cfg.DataDir)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	spec, err := cache.ParseSpec(cfg.CacheSpec)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	contentCache, err := cache.New(spec)
	if err != nil {
		_ = manager.Close()
		return nil, err
	}
	quota := replication.NewWriteQuota(cfg.WriteQuotaPerRepository, cfg.QuotaWindow())

	svc := &service{manager: manager, cache: contentCache}
	var progress *replication.Progress
	switch cfg.Replication.Method {
	case serve.ReplicationMySQL:
		if progress, err = svc.startReplicated(ctx, cfg, manager, state, quota); err != nil {
			_ = svc.Shutdown(ctx)
			return nil, err
		}
	default:
		svc.exec = executor.NewStandalone(manager, state, quota)
	}

	server, err := httpserver.NewServer(&httpserver.ServerConfig{
		Config:        cfg,
		Executor:      svc.exec,
		Manager:       manager,
		State:         state,
		Cache:         contentCache,
		Progress:      progress,
		BannerVersion: version.GetBannerVersion(),
	})
	if err != nil {
		_ = svc.Shutdown(ctx)
		return nil, err
	}
	svc.server = server
	return svc, nil
}

// startReplicated wires the shared-database coordination: the journal
// that orders commands, the lease that elects the leader, and the
// background loops that apply and prune the log.
func (s *service) startReplicated(ctx context.Context, cfg *serve.Config, manager *project.Manager, state *executor.State, quota *replication.WriteQuota) (*replication.Progress, error) {
	db, err := replication.OpenDB(cfg.Replication.ConnectionString)
	if err != nil {
		return nil, err
	}
	s.db = db
	journal, err := replication.NewDatabaseJournal(ctx, db, cfg.Replication.PathPrefix)
	if err != nil {
		return nil, err
	}
	s.journal = journal
	progress, err := replication.OpenProgress(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	elector, err := replication.NewLeaseElector(ctx, db, cfg.Replication.PathPrefix,
		cfg.Replication.ReplicaID, cfg.Replication.AdvertiseURL, replication.DefaultLeaseDuration,
		&replication.Callbacks{
			OnTakeLeadership:    func() { logrus.Infof("replica %s took leadership", cfg.Replication.ReplicaID) },
			OnReleaseLeadership: func() { logrus.Infof("replica %s released leadership", cfg.Replication.ReplicaID) },
		})
	if err != nil {
		return nil, err
	}
	s.elector = elector
	forwarder := httpserver.NewForwarder(cfg.Replication.ReplicaID, cfg.AuthSecret, cfg.RequestTimeout())
	replicated := executor.NewReplicated(&executor.ReplicatedConfig{
		ReplicaID: cfg.Replication.ReplicaID,
		Journal:   journal,
		Elector:   elector,
		Progress:  progress,
		Manager:   manager,
		State:     state,
		Quota:     quota,
		Forwarder: forwarder,
	})
	s.exec = replicated
	if err := elector.Start(ctx); err != nil {
		return nil, err
	}
	if err := replicated.Start(ctx); err != nil {
		return nil, err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.stopLoop = cancel
	retention := replication.Retention{
		MaxLogCount: cfg.Replication.MaxLogCount,
		MinLogAge:   cfg.MinLogAge(),
	}
	go replication.RunPruner(loopCtx, journal, elector, retention, time.Minute)
	return progress, nil
}
