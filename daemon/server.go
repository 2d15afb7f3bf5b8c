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

package daemon

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Tencent/yadcc-sub001/auth"
	"github.com/Tencent/yadcc-sub001/engine"
)

// maxWait bounds WaitForCompilationOutput's long-poll, regardless of
// what the client asks for; a compiler wrapper that wants to wait
// longer just calls again.
const maxWait = 10 * time.Second

// Daemon is the servant's RPC surface: the glue between the
// admission-controlled subprocess engine, the compiler registry, the
// token ACL, and the distributed-cache writer.
type Daemon struct {
	Engine      *engine.Engine
	Registry    *CompilerRegistry
	Verifier    *auth.TokenVerifier
	CacheWriter *CacheWriter

	TemporaryDir string
	Logger       *log.Logger

	// tasks tracks the object-file tempfile for every task this
	// servant has queued, so freeTask can close (and thus unlink) it
	// once the client is done. The engine itself knows nothing about
	// this file: it isn't one of the redirected standard streams.
	mu    sync.Mutex
	tasks map[uint64]*compilationTask
}

// New constructs a Daemon ready to be handed to Handler.
func New(e *engine.Engine, registry *CompilerRegistry, verifier *auth.TokenVerifier, cacheWriter *CacheWriter, temporaryDir string, logger *log.Logger) *Daemon {
	return &Daemon{
		Engine:       e,
		Registry:     registry,
		Verifier:     verifier,
		CacheWriter:  cacheWriter,
		TemporaryDir: temporaryDir,
		Logger:       logger,
		tasks:        make(map[uint64]*compilationTask),
	}
}

func (d *Daemon) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Handler builds the servant's HTTP router. Every route is a fixed
// path on one mux, same as the query engine's own RPC surface: there
// is no need for a pattern router when the whole API is four verbs.
func (d *Daemon) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/queue_compilation_task", d.handle(d.queueCompilationTask))
	mux.HandleFunc("/reference_task", d.handle(d.referenceTask))
	mux.HandleFunc("/wait_for_compilation_output", d.handle(d.waitForCompilationOutput))
	mux.HandleFunc("/free_task", d.handle(d.freeTask))
	return mux
}

// handle enforces POST-only and logs the call, matching the
// teacher's own method-restriction wrapper.
func (d *Daemon) handle(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		d.logf("daemon: %s from %s", r.URL.Path, r.RemoteAddr)
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
