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

package engine

import (
	"sync"
	"time"

	"github.com/Tencent/yadcc-sub001/tempfile"
)

// Task is a unit of work the caller wants run as a subprocess. The
// engine calls StandardInput exactly once, before the child starts,
// and OnCompletion exactly once, after the child's stdout/stderr
// have been fully read back.
type Task interface {
	// CommandLine returns argv for the subprocess (argv[0] is the
	// program to exec).
	CommandLine() []string

	// StandardInput returns the bytes to feed to the child's stdin.
	// Called at most once, before the child is spawned.
	StandardInput() []byte

	// OnCompletion is invoked once the child has exited (naturally
	// or via forcible kill) and its streams have been drained.
	OnCompletion(exitCode int, stdout, stderr []byte)

	// DumpInternals reports task-specific diagnostic fields to be
	// merged into the engine's introspection output.
	DumpInternals() map[string]any
}

// taskDesc is the engine-internal descriptor for one admitted job.
type taskDesc struct {
	grantID uint64

	mu             sync.Mutex
	clientRefCount int

	running   bool
	startedAt time.Time

	completedAt time.Time

	pid int // == process group id

	stdoutFile *tempfile.File
	stderrFile *tempfile.File

	latchOnce sync.Once
	latch     chan struct{}

	task Task

	// command is recorded at spawn; exitCode and the stream sizes
	// once the task completes
	command    string
	exitCode   int
	stdoutSize int
	stderrSize int
}

func newTaskDesc(grantID uint64, task Task) *taskDesc {
	return &taskDesc{
		grantID:        grantID,
		clientRefCount: 1,
		running:        true,
		startedAt:      time.Now(),
		latch:          make(chan struct{}),
		task:           task,
	}
}

// releaseLatch closes the completion channel exactly once,
// regardless of whether it is called from the natural-exit path
// or (hypothetically) more than once due to a bug elsewhere — the
// sync.Once makes double-release harmless, preserving the
// exactly-once release invariant.
func (t *taskDesc) releaseLatch() {
	t.latchOnce.Do(func() { close(t.latch) })
}

func (t *taskDesc) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Task result, returned by Wait once the completion latch fires.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}
