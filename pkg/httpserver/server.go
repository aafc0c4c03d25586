// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package httpserver is the REST surface: project and repository
// management, content reads with long-poll watch, pushes, and the
// internal command endpoint followers forward writes to.
package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/antgroup/vega/pkg/cache"
	"github.com/antgroup/vega/pkg/executor"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/project"
	"github.com/antgroup/vega/pkg/replication"
	"github.com/antgroup/vega/pkg/serve"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type ServerConfig struct {
	Config *serve.Config
	// Executor orders and applies mutations.
	Executor executor.Executor
	Manager  *project.Manager
	State    *executor.State
	Cache    *cache.Cache
	// Progress reports the last applied journal index, nil when
	// replication is off.
	Progress *replication.Progress
	// BannerVersion is sent back as the Server header.
	BannerVersion string
}

type Server struct {
	*ServerConfig
	r          *mux.Router
	exec       executor.Executor
	manager    *project.Manager
	state      *executor.State
	cache      *cache.Cache
	workers    *semaphore.Weighted
	secret     []byte
	servers    []*http.Server
	serverName string
}

func NewServer(sc *ServerConfig) (*Server, error) {
	if sc.Config == nil || sc.Executor == nil || sc.Manager == nil || sc.State == nil {
		return nil, model.NewErrInvalidRequest("server is missing required components")
	}
	workers := sc.Config.NumRepositoryWorkers
	if workers <= 0 {
		workers = serve.DefaultRepositoryWorker
	}
	s := &Server{
		ServerConfig: sc,
		exec:         sc.Executor,
		manager:      sc.Manager,
		state:        sc.State,
		cache:        sc.Cache,
		workers:      semaphore.NewWeighted(int64(workers)),
		secret:       []byte(sc.Config.AuthSecret),
		serverName:   sc.BannerVersion,
	}
	s.initialize()
	registerCollectors(s)
	return s, nil
}

func (s *Server) initialize() {
	r := mux.NewRouter().UseEncodedPath()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/login", s.Login).Methods("POST")
	api.HandleFunc("/logout", s.Logout).Methods("POST")
	api.HandleFunc("/status", s.GetServerStatus).Methods("GET")
	api.HandleFunc("/status", s.UpdateServerStatus).Methods("PUT")

	api.HandleFunc("/projects", s.ListProjects).Methods("GET")
	api.HandleFunc("/projects", s.CreateProject).Methods("POST")
	api.HandleFunc("/projects/{project}", s.RemoveProject).Methods("DELETE")
	api.HandleFunc("/projects/{project}", s.PatchProject).Methods("PATCH")
	api.HandleFunc("/projects/{project}/removed", s.PurgeProject).Methods("DELETE")

	api.HandleFunc("/projects/{project}/repos", s.ListRepos).Methods("GET")
	api.HandleFunc("/projects/{project}/repos", s.CreateRepo).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}", s.RemoveRepo).Methods("DELETE")
	api.HandleFunc("/projects/{project}/repos/{repo}", s.PatchRepo).Methods("PATCH")
	api.HandleFunc("/projects/{project}/repos/{repo}/removed", s.PurgeRepo).Methods("DELETE")

	api.HandleFunc("/projects/{project}/repos/{repo}/revision/{revision}", s.NormalizeRevision).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/list", s.ListFiles).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/list/{path:.*}", s.ListFiles).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents", s.Push).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents/{path:.*}", s.GetContents).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/preview", s.PreviewDiff).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}/commits", s.History).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/commits/{revision}", s.History).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/compare", s.Compare).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/merge", s.Merge).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/watch/{path:.*}", s.WatchFile).Methods("GET")

	r.HandleFunc("/internal/v1/commands", s.ExecuteCommand).Methods("POST")
	r.HandleFunc("/monitor/alive", s.Alive).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.r = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// remove multiple slash and ./..
	if r.URL != nil {
		r.URL.Path = path.Clean(r.URL.Path)
	}
	if s.serverName != "" {
		w.Header().Set("Server", s.serverName)
	}
	if max := s.Config.MaxFrameLength; max > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, max)
	}
	now := time.Now()
	hw := NewResponseWriter(w, r)
	s.r.ServeHTTP(hw, r)
	logResponse(hw, r, time.Since(now))
}

func logResponse(hw *ResponseWriter, r *http.Request, spent time.Duration) {
	message := r.Header.Get(ErrorMessageKey)
	if statusCode := hw.StatusCode(); statusCode >= http.StatusInternalServerError || len(message) != 0 {
		logrus.Errorf("[%s] %s %s status: %d written: %d spent: %v message: %s", hw.RemoteAddress(), r.Method, r.RequestURI, hw.StatusCode(), hw.Written(), spent, message)
		return
	}
	logrus.Infof("[%s] %s %s status: %d written: %d spent: %v", hw.RemoteAddress(), r.Method, r.RequestURI, hw.StatusCode(), hw.Written(), spent)
}

// ListenAndServe binds every configured port and blocks until the last
// listener stops.
func (s *Server) ListenAndServe() error {
	g := &errgroup.Group{}
	for i := range s.Config.Ports {
		port := &s.Config.Ports[i]
		ln, err := net.Listen("tcp", port.Listen())
		if err != nil {
			return err
		}
		if s.Config.MaxNumConnections > 0 {
			ln = netutil.LimitListener(ln, s.Config.MaxNumConnections)
		}
		srv := &http.Server{
			Handler:     s,
			ReadTimeout: s.Config.RequestTimeout(),
			IdleTimeout: s.Config.IdleTimeout(),
		}
		s.servers = append(s.servers, srv)
		logrus.Infof("listening on %s", port.Listen())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown drains in-flight requests, then stops the executor so every
// parked watch resolves before the listeners close.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if quiet := s.Config.QuietPeriod(); quiet > 0 {
		select {
		case <-time.After(quiet):
		case <-ctx.Done():
		}
	}
	_ = s.exec.Stop(ctx)
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			logrus.Errorf("shutdown http server: %v", err)
		}
	}
	return nil
}

func (s *Server) Alive(w http.ResponseWriter, r *http.Request) {
	JsonEncode(w, s.state.Status())
}

// acquireWorker admits the request into the repository worker pool.
func (s *Server) acquireWorker(w http.ResponseWriter, r *http.Request) bool {
	if err := s.workers.Acquire(r.Context(), 1); err != nil {
		renderFailure(w, r, http.StatusServiceUnavailable, "server is overloaded")
		return false
	}
	return true
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, model.NewErrInvalidRequest("read request body: %v", err)
	}
	return body, nil
}

func (s *Server) decodeBody(r *http.Request, v any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewErrInvalidRequest("malformed request body: %v", err)
	}
	return nil
}

// rolesOf derives a session's roles. With shared-secret authentication
// there is no user directory, so the administrator account is the fixed
// "admin" login.
func (s *Server) rolesOf(username string) []string {
	if username == "admin" {
		return []string{AdministratorRole}
	}
	return nil
}

func (s *Server) openRepo(w http.ResponseWriter, r *http.Request) (*repoRef, bool) {
	vars := mux.Vars(r)
	rr, err := s.manager.Repo(vars["project"], vars["repo"])
	if err != nil {
		renderError(w, r, err)
		return nil, false
	}
	return &repoRef{Repository: rr, project: vars["project"], name: vars["repo"]}, true
}
