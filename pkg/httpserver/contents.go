// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/vega/pkg/cache"
	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	"github.com/antgroup/vega/pkg/repo"
	"github.com/gorilla/mux"
)

// DefaultWatchTimeout applies when a watch request carries If-None-Match
// but no Prefer: wait.
const DefaultWatchTimeout = time.Minute

type repoRef struct {
	*repo.Repository
	project string
	name    string
}

func parseRevisionParam(r *http.Request, key string, fallback model.Revision) (model.Revision, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return model.ParseRevision(raw)
}

// parseIfNoneMatch reads the client's last known revision, with or
// without ETag quoting.
func parseIfNoneMatch(r *http.Request) (model.Revision, bool) {
	raw := strings.Trim(r.Header.Get("If-None-Match"), `"`)
	if raw == "" {
		return 0, false
	}
	rev, err := model.ParseRevision(raw)
	if err != nil {
		return 0, false
	}
	return rev, true
}

// parsePreferWait reads Prefer: wait=<seconds>.
func parsePreferWait(r *http.Request) (time.Duration, bool) {
	for _, field := range strings.Split(r.Header.Get("Prefer"), ",") {
		field = strings.TrimSpace(field)
		if raw, ok := strings.CutPrefix(field, "wait="); ok {
			if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
				return time.Duration(seconds) * time.Second, true
			}
		}
	}
	return 0, false
}

func normalizedPath(r *http.Request) string {
	p := "/" + strings.TrimPrefix(mux.Vars(r)["path"], "/")
	return p
}

func (s *Server) buildQuery(r *http.Request, path string) model.Query {
	if expressions := r.URL.Query()["jsonpath"]; len(expressions) != 0 {
		return model.JSONPath(path, expressions...)
	}
	return model.Identity(path)
}

// NormalizeRevision resolves a relative revision against the current
// head.
func (s *Server) NormalizeRevision(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	rev, err := model.ParseRevision(mux.Vars(r)["revision"])
	if err != nil {
		renderError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	cmd := command.NewNormalizeRevision(md.author(), time.Now(), vars["project"], vars["repo"], rev)
	result, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, map[string]any{"revision": result})
}

func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.acquireWorker(w, r) {
		return
	}
	defer s.workers.Release(1)
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	rev, err := parseRevisionParam(r, "revision", model.Head)
	if err != nil {
		renderError(w, r, err)
		return
	}
	// a plain directory path lists its direct children
	pattern := normalizedPath(r)
	if !strings.ContainsAny(pattern, "*?") {
		pattern = strings.TrimSuffix(pattern, "/") + "/*"
	}
	entries, err := rr.Find(r.Context(), rev, pattern, &repo.FindOptions{})
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, entries)
}

func (s *Server) GetContents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	path := normalizedPath(r)
	q := s.buildQuery(r, path)
	// watches park without holding a repository worker
	if lastKnown, watch := parseIfNoneMatch(r); watch {
		s.watchQuery(w, r, rr, lastKnown, q)
		return
	}
	if !s.acquireWorker(w, r) {
		return
	}
	defer s.workers.Release(1)
	rev, err := parseRevisionParam(r, "revision", model.Head)
	if err != nil {
		renderError(w, r, err)
		return
	}
	entry, err := s.getCached(w, r, rr, rev, q)
	if err != nil {
		renderError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+entry.Revision.String()+`"`)
	JsonEncode(w, entry)
}

// getCached answers identity and query reads through the content cache.
// Cache keys carry the absolute revision, so entries never go stale;
// they only age out.
func (s *Server) getCached(w http.ResponseWriter, r *http.Request, rr *repoRef, rev model.Revision, q model.Query) (*model.Entry, error) {
	abs, err := rr.Normalize(rev)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		return rr.Get(r.Context(), abs, q)
	}
	key := cache.NewKey("get", rr.project, rr.name, abs.String(), q.Path, strings.Join(q.Expressions, "|"))
	v, err := s.cache.Get(r.Context(), key, func(ctx context.Context) (any, int64, error) {
		entry, err := rr.Get(ctx, abs, q)
		if err != nil {
			return nil, 0, err
		}
		return entry, int64(len(entry.Content)) + int64(len(entry.Path)), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Entry), nil
}

func (s *Server) watchQuery(w http.ResponseWriter, r *http.Request, rr *repoRef, lastKnown model.Revision, q model.Query) {
	timeout, ok := parsePreferWait(r)
	if !ok {
		timeout = DefaultWatchTimeout
	}
	watchersLive.Inc()
	defer watchersLive.Dec()
	entry, err := rr.WatchFile(r.Context(), lastKnown, q, &repo.WatchOptions{Timeout: timeout})
	switch {
	case errors.Is(err, model.ErrNotModified):
		w.WriteHeader(http.StatusNotModified)
		return
	case err != nil:
		renderError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+entry.Revision.String()+`"`)
	JsonEncode(w, entry)
}

// WatchFile is the dedicated watch endpoint; `contents/{path}` with
// If-None-Match behaves identically.
func (s *Server) WatchFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	lastKnown, ok := parseIfNoneMatch(r)
	if !ok {
		lastKnown = model.Head
	}
	s.watchQuery(w, r, rr, lastKnown, s.buildQuery(r, normalizedPath(r)))
}

type pushRequest struct {
	BaseRevision  model.Revision      `json:"baseRevision"`
	CommitMessage model.CommitMessage `json:"commitMessage"`
	Changes       []model.Change      `json:"changes"`
}

func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req pushRequest
	if err := s.decodeBody(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	if req.BaseRevision == 0 {
		req.BaseRevision = model.Head
	}
	vars := mux.Vars(r)
	cmd := command.NewPush(md.author(), time.Now(), vars["project"], vars["repo"], req.BaseRevision, req.CommitMessage, req.Changes)
	result, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	commitsTotal.Inc()
	JsonEncode(w, result)
}

type previewRequest struct {
	Changes []model.Change `json:"changes"`
}

func (s *Server) PreviewDiff(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.acquireWorker(w, r) {
		return
	}
	defer s.workers.Release(1)
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	rev, err := parseRevisionParam(r, "revision", model.Head)
	if err != nil {
		renderError(w, r, err)
		return
	}
	var req previewRequest
	if err := s.decodeBody(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	changes, err := rr.PreviewDiff(r.Context(), rev, req.Changes)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, changes)
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.acquireWorker(w, r) {
		return
	}
	defer s.workers.Release(1)
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	from := model.Head
	single := false
	if raw := mux.Vars(r)["revision"]; raw != "" {
		rev, err := model.ParseRevision(raw)
		if err != nil {
			renderError(w, r, err)
			return
		}
		from = rev
		single = r.URL.Query().Get("to") == ""
	}
	to, err := parseRevisionParam(r, "to", model.Init)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if single {
		to = from
	}
	pattern := r.URL.Query().Get("path")
	if pattern == "" {
		pattern = "/**"
	}
	maxCommits := repo.DefaultMaxCommits
	if raw := r.URL.Query().Get("maxCommits"); raw != "" {
		if maxCommits, err = strconv.Atoi(raw); err != nil || maxCommits <= 0 {
			renderFailure(w, r, http.StatusBadRequest, "invalid maxCommits")
			return
		}
	}
	commits, err := rr.History(r.Context(), from, to, pattern, maxCommits)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if single {
		if len(commits) == 0 {
			renderError(w, r, model.NewErrNotFound("commit", "revision %s has no commit", from))
			return
		}
		JsonEncode(w, commits[0])
		return
	}
	JsonEncode(w, commits)
}

func (s *Server) Compare(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.acquireWorker(w, r) {
		return
	}
	defer s.workers.Release(1)
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	from, err := parseRevisionParam(r, "from", model.Init)
	if err != nil {
		renderError(w, r, err)
		return
	}
	to, err := parseRevisionParam(r, "to", model.Head)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if expressions := r.URL.Query()["jsonpath"]; len(expressions) != 0 {
		path := r.URL.Query().Get("path")
		change, err := rr.DiffQuery(r.Context(), from, to, model.JSONPath(path, expressions...))
		if err != nil {
			renderError(w, r, err)
			return
		}
		JsonEncode(w, change)
		return
	}
	pattern := r.URL.Query().Get("pathPattern")
	if pattern == "" {
		pattern = "/**"
	}
	changes, err := rr.Diff(r.Context(), from, to, pattern)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, changes)
}

func (s *Server) Merge(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	if !s.acquireWorker(w, r) {
		return
	}
	defer s.workers.Release(1)
	rr, ok := s.openRepo(w, r)
	if !ok {
		return
	}
	rev, err := parseRevisionParam(r, "revision", model.Head)
	if err != nil {
		renderError(w, r, err)
		return
	}
	var sources []model.MergeSource
	for _, p := range r.URL.Query()["path"] {
		sources = append(sources, model.MergeSource{Path: p})
	}
	for _, p := range r.URL.Query()["optional_path"] {
		sources = append(sources, model.MergeSource{Path: p, Optional: true})
	}
	merged, err := rr.MergeFiles(r.Context(), rev, sources, r.URL.Query()["jsonpath"])
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, merged)
}
