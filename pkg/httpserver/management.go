// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net/http"
	"time"

	"github.com/antgroup/vega/pkg/command"
	"github.com/antgroup/vega/pkg/model"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/gorilla/mux"
)

func parseStatus(r *http.Request) model.Status {
	if r.URL.Query().Get("status") == string(model.StatusRemoved) {
		return model.StatusRemoved
	}
	return model.StatusActive
}

func (s *Server) ListProjects(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	JsonEncode(w, s.manager.List(parseStatus(r)))
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *Server) CreateProject(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := s.decodeBody(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	cmd := command.NewCreateProject(md.author(), time.Now(), req.Name)
	result, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, result)
}

func (s *Server) RemoveProject(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	cmd := command.NewRemoveProject(md.author(), time.Now(), mux.Vars(r)["project"])
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isUnremovePatch recognizes the documented unremove request, a JSON
// Patch replacing /status with "active". Anything else is rejected.
func isUnremovePatch(body []byte) bool {
	patch, err := jsonpatch.DecodePatch(body)
	if err != nil || len(patch) != 1 {
		return false
	}
	op := patch[0]
	p, err := op.Path()
	if err != nil || op.Kind() != "replace" || p != "/status" {
		return false
	}
	v, err := op.ValueInterface()
	if err != nil {
		return false
	}
	status, ok := v.(string)
	return ok && status == string(model.StatusActive)
}

func (s *Server) PatchProject(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if !isUnremovePatch(body) {
		renderFailure(w, r, http.StatusBadRequest, "only {op: replace, path: /status, value: active} is supported")
		return
	}
	name := mux.Vars(r)["project"]
	cmd := command.NewUnremoveProject(md.author(), time.Now(), name)
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	p, err := s.manager.Get(name)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, p)
}

func (s *Server) PurgeProject(w http.ResponseWriter, r *http.Request) {
	md, ok := s.requireAdministrator(w, r)
	if !ok {
		return
	}
	cmd := command.NewPurgeProject(md.author(), time.Now(), mux.Vars(r)["project"])
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListRepos(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	repos, err := s.manager.ListRepos(mux.Vars(r)["project"], parseStatus(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, repos)
}

func (s *Server) CreateRepo(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := s.decodeBody(r, &req); err != nil {
		renderError(w, r, err)
		return
	}
	cmd := command.NewCreateRepository(md.author(), time.Now(), mux.Vars(r)["project"], req.Name)
	result, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncodeStatus(w, http.StatusCreated, result)
}

func (s *Server) RemoveRepo(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cmd := command.NewRemoveRepository(md.author(), time.Now(), vars["project"], vars["repo"])
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PatchRepo(w http.ResponseWriter, r *http.Request) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if !isUnremovePatch(body) {
		renderFailure(w, r, http.StatusBadRequest, "only {op: replace, path: /status, value: active} is supported")
		return
	}
	vars := mux.Vars(r)
	cmd := command.NewUnremoveRepository(md.author(), time.Now(), vars["project"], vars["repo"])
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) PurgeRepo(w http.ResponseWriter, r *http.Request) {
	md, ok := s.requireAdministrator(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	cmd := command.NewPurgeRepository(md.author(), time.Now(), vars["project"], vars["repo"])
	if _, err := s.exec.Execute(r.Context(), cmd); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetServerStatus(w http.ResponseWriter, r *http.Request) {
	JsonEncode(w, s.state.Status())
}

func (s *Server) UpdateServerStatus(w http.ResponseWriter, r *http.Request) {
	md, ok := s.requireAdministrator(w, r)
	if !ok {
		return
	}
	var status model.ServerStatus
	if err := s.decodeBody(r, &status); err != nil {
		renderError(w, r, err)
		return
	}
	cmd := command.NewUpdateServerStatus(md.author(), time.Now(), status)
	result, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	JsonEncode(w, result)
}

func (s *Server) requireAdministrator(w http.ResponseWriter, r *http.Request) (*BearerMD, bool) {
	md, ok := s.authenticate(w, r)
	if !ok {
		return nil, false
	}
	if !md.Administrator() {
		renderFailure(w, r, http.StatusForbidden, "administrator role required")
		return nil, false
	}
	return md, true
}
