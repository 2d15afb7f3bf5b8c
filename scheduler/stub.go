// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package scheduler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

// Stub is a minimal in-memory scheduler used only to exercise the
// heartbeat protocol end to end in tests; it is not a placement
// engine. It records the most recent HeartbeatRequest it received
// and lets a test script the HeartbeatResponse it should hand back
// next.
type Stub struct {
	Bookkeeper *Bookkeeper

	mu       sync.Mutex
	lastReq  *HeartbeatRequest
	nextResp HeartbeatResponse
}

// NewStub constructs a Stub and the *httptest.Server fronting it.
// The caller must call server.Close() when done.
func NewStub() (*Stub, *httptest.Server) {
	s := &Stub{Bookkeeper: NewBookkeeper()}
	r := mux.NewRouter()
	r.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	return s, httptest.NewServer(r)
}

func (s *Stub) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lastReq = &req
	resp := s.nextResp
	s.mu.Unlock()

	if req.NextHeartbeatInMs == 0 {
		s.Bookkeeper.DropServant(req.Location)
	} else {
		s.Bookkeeper.SetServantRunningTasks(req.Location, req.RunningTasks)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// LastRequest returns the most recently received HeartbeatRequest, or
// nil if none has arrived yet.
func (s *Stub) LastRequest() *HeartbeatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

// SetNextResponse scripts the HeartbeatResponse the next (and every
// subsequent, until called again) heartbeat should receive.
func (s *Stub) SetNextResponse(resp HeartbeatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextResp = resp
}
