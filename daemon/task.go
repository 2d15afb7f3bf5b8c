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
	"sync"

	"github.com/Tencent/yadcc-sub001/fingerprint"
	"github.com/Tencent/yadcc-sub001/tempfile"
)

// compilationTask is the engine.Task submitted for one
// QueueCompilationTask request. It carries everything
// WaitForCompilationOutput needs to finish the job: the environment
// and arguments that make up the cache fingerprint, and the object
// file the compiler was told to write its output to (a file the
// engine itself never sees, since it is not one of the redirected
// standard streams).
type compilationTask struct {
	argv         []string
	stdin        []byte
	env          EnvironmentDescriptor
	args         []string
	sourceDigest string
	objectFile   *tempfile.File

	mu       sync.Mutex
	done     bool
	exitCode int
	stdout   []byte
	stderr   []byte
}

func (t *compilationTask) CommandLine() []string { return t.argv }
func (t *compilationTask) StandardInput() []byte { return t.stdin }

func (t *compilationTask) OnCompletion(exitCode int, stdout, stderr []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.exitCode = exitCode
	t.stdout = stdout
	t.stderr = stderr
}

func (t *compilationTask) DumpInternals() map[string]any {
	return map[string]any{
		"environment":   t.env,
		"source_digest": t.sourceDigest,
	}
}

// fingerprintKey is the compilation fingerprint used both as the
// distributed cache key and, incidentally, as the object-store shard
// selector.
func (t *compilationTask) fingerprintKey() string {
	return fingerprint.Of(t.env.Key(), t.args, t.sourceDigest)
}

// readObjectFile reads back the compiler's output. Only meaningful
// once OnCompletion has fired with exit code 0; the caller is
// responsible for checking that first.
func (t *compilationTask) readObjectFile() ([]byte, error) {
	return t.objectFile.ReadAll()
}

func (t *compilationTask) close() {
	t.objectFile.Close()
}
