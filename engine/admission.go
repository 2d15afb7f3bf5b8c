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
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Tencent/yadcc-sub001/sysinfo"
	"github.com/Tencent/yadcc-sub001/tempfile"
)

// Queue admits a new task under grantID, if the engine isn't
// shutting down and has spare concurrency and memory. On success
// it spawns task's command line in its own process group, with
// stdin fed from task.StandardInput and stdout/stderr captured to
// fresh temporary files, and registers the child with the CPU
// limiter. It returns the newly allocated servant task id.
func (e *Engine) Queue(grantID uint64, task Task) (uint64, error) {
	e.mu.Lock()
	if e.exiting.Load() {
		e.mu.Unlock()
		return 0, ErrShuttingDown
	}

	taskID := e.nextTaskID
	e.nextTaskID++

	if atomic.AddInt32(&e.runningTasks, 1) > int32(e.concurrencyLimit) {
		atomic.AddInt32(&e.runningTasks, -1)
		e.mu.Unlock()
		e.logf("engine: rejecting task, no spare concurrency")
		return 0, ErrHeavilyLoaded
	}
	avail, err := sysinfo.MemoryAvailable()
	if err == nil && avail < e.cfg.MinMemoryForStartingNewTask {
		atomic.AddInt32(&e.runningTasks, -1)
		e.mu.Unlock()
		e.logf("engine: rejecting task, low on memory")
		return 0, ErrHeavilyLoaded
	}
	e.tasksRunEver++
	e.mu.Unlock()

	desc := newTaskDesc(grantID, task)

	stdin, err := tempfile.New(e.cfg.TemporaryDir, "stdin-")
	if err != nil {
		e.rollbackAdmission()
		return 0, err
	}
	defer stdin.Close()
	if _, err := stdin.Write(task.StandardInput()); err != nil {
		e.rollbackAdmission()
		return 0, err
	}
	if _, err := stdin.Fd().Seek(0, 0); err != nil {
		e.rollbackAdmission()
		return 0, err
	}

	stdout, err := tempfile.New(e.cfg.TemporaryDir, "stdout-")
	if err != nil {
		e.rollbackAdmission()
		return 0, err
	}
	stderr, err := tempfile.New(e.cfg.TemporaryDir, "stderr-")
	if err != nil {
		stdout.Close()
		e.rollbackAdmission()
		return 0, err
	}
	desc.stdoutFile = stdout
	desc.stderrFile = stderr

	argv := task.CommandLine()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin.Fd()
	cmd.Stdout = stdout.Fd()
	cmd.Stderr = stderr.Fd()
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		e.rollbackAdmission()
		return 0, err
	}
	_ = unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, defaultNiceLevel)

	desc.pid = cmd.Process.Pid
	desc.command = argv[0]

	e.mu.Lock()
	e.tasks[taskID] = desc
	e.mu.Unlock()

	if e.limiter != nil {
		e.limiter.Limit(desc.pid)
	}

	// Wake up the reaper: one more child to wait4 for.
	e.waitSem <- struct{}{}

	// cmd.Process must be released, not waited on, so the reaper
	// goroutine's own wait4 call is the one that reaps this pid;
	// os/exec would otherwise race it with its own internal Wait.
	cmd.Process.Release()

	return taskID, nil
}

func (e *Engine) rollbackAdmission() {
	atomic.AddInt32(&e.runningTasks, -1)
}

// Reference increments a task's client-reference-count, for a
// client that wants to wait on a task someone else already queued.
// It returns false if the task id is unknown.
func (e *Engine) Reference(taskID uint64) bool {
	e.mu.Lock()
	desc, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	desc.mu.Lock()
	desc.clientRefCount++
	desc.mu.Unlock()
	return true
}

// Wait blocks until task taskID completes or timeout elapses.
func (e *Engine) Wait(taskID uint64, timeout time.Duration) (Status, Task, Result) {
	e.mu.Lock()
	desc, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return StatusNotFound, nil, Result{}
	}

	select {
	case <-desc.latch:
		desc.mu.Lock()
		res := Result{ExitCode: desc.exitCode}
		desc.mu.Unlock()
		out, _ := desc.stdoutFile.ReadAll()
		errb, _ := desc.stderrFile.ReadAll()
		res.Stdout = out
		res.Stderr = errb
		return StatusDone, desc.task, res
	case <-time.After(timeout):
		return StatusRunning, nil, Result{}
	}
}

// Free decrements a task's client-reference-count; once it reaches
// zero the descriptor is detached from the engine and, if still
// running, its process group is killed with SIGKILL. Reaping
// happens asynchronously via the exit callback.
func (e *Engine) Free(taskID uint64) {
	e.mu.Lock()
	desc, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return
	}
	desc.mu.Lock()
	desc.clientRefCount--
	remaining := desc.clientRefCount
	desc.mu.Unlock()
	if remaining > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.tasks, taskID)
	e.mu.Unlock()

	killTask(desc)
}

// KillExpired forcibly terminates every running task whose grant id
// is in expiredGrantIDs. The scheduler's view may lag the servant's,
// so a recently started task may be exempted in a future revision;
// today every matching grant id is killed unconditionally.
func (e *Engine) KillExpired(expiredGrantIDs map[uint64]bool) int {
	var killed int
	e.mu.Lock()
	for _, desc := range e.tasks {
		if desc.isRunning() && expiredGrantIDs[desc.grantID] {
			killTask(desc)
			killed++
		}
	}
	e.mu.Unlock()
	if killed > 0 {
		e.logf("engine: killed %d tasks reported as expired", killed)
	}
	return killed
}

func killTask(desc *taskDesc) {
	if desc.isRunning() {
		// Entire process group, matching the pgid-as-pid launch
		// convention: killing -pid reaches every descendant.
		_ = unix.Kill(-desc.pid, unix.SIGKILL)
	}
}

// Stop marks the engine as shutting down, kills every still-running
// task, and stops the CPU limiter's control loop. It does not block;
// call Join to wait for every child to be reaped.
func (e *Engine) Stop() {
	e.exiting.Store(true)
	close(e.cleanupStop)

	e.mu.Lock()
	for _, desc := range e.tasks {
		killTask(desc)
	}
	e.mu.Unlock()

	// Wake the reaper in case it's blocked waiting for more work.
	select {
	case e.waitSem <- struct{}{}:
	default:
	}
	if e.limiter != nil {
		e.limiter.Stop()
	}
}

// Join blocks until every running task has been reaped and the CPU
// limiter's control loop has exited.
func (e *Engine) Join() {
	<-e.reaperDone
	for {
		if atomic.LoadInt32(&e.runningTasks) == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if e.limiter != nil {
		e.limiter.Join()
	}
}
