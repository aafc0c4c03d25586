// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antgroup/vega/pkg/model"
)

// State is the replicated server-wide state outside any repository:
// login sessions and the writable/replicating switches. It rides the
// command log like everything else and is mirrored to one file so a
// restarting replica does not depend on journal history that may have
// been pruned.
type State struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*model.Session
	status   model.ServerStatus
}

type statePersisted struct {
	Sessions map[string]*model.Session `json:"sessions"`
	Status   model.ServerStatus        `json:"serverStatus"`
}

func OpenState(dataDir string) (*State, error) {
	s := &State{
		path:     filepath.Join(dataDir, "state.json"),
		sessions: make(map[string]*model.Session),
		status:   model.ServerStatus{Writable: true, Replicating: true},
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var p statePersisted
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Sessions != nil {
		s.sessions = p.Sessions
	}
	s.status = p.Status
	return s, nil
}

func (s *State) save() error {
	b, err := json.Marshal(&statePersisted{Sessions: s.sessions, Status: s.status})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err == nil {
		err = tmp.Sync()
	}
	if err2 := tmp.Close(); err == nil {
		err = err2
	}
	if err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, s.path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}

func (s *State) Status() model.ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *State) SetStatus(status model.ServerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return s.save()
}

func (s *State) AddSession(session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return s.save()
}

func (s *State) RemoveSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return model.NewErrNotFound("session", "%s", id)
	}
	delete(s.sessions, id)
	return s.save()
}

// Session returns a live session, dropping it lazily once expired.
func (s *State) Session(id string, now time.Time) (*model.Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(session.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		_ = s.save()
		s.mu.Unlock()
		return nil, false
	}
	return session, true
}
