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
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// waiterLoop runs on a dedicated goroutine (pinned to an OS thread,
// since Wait4 blocks the calling thread) reaping exited children.
// It blocks on waitSem, released once per successful spawn, so it
// never calls Wait4 with nothing outstanding to reap.
func (e *Engine) waiterLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.reaperDone)
	moreWork := func() bool {
		return !e.exiting.Load() || atomic.LoadInt32(&e.runningTasks) != 0
	}
	for moreWork() {
		<-e.waitSem
		if !moreWork() {
			break
		}

		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if e.exiting.Load() {
				break
			}
			e.logf("engine: wait4 failed: %v", err)
			continue
		}

		exitCode := -1
		if ws.Exited() {
			exitCode = ws.ExitStatus()
		}
		go e.onProcessExit(pid, exitCode)
	}
}

// onProcessExit locates the descriptor for pid, finalizes its
// state, and invokes the user task's completion hook outside the
// tasks lock.
func (e *Engine) onProcessExit(pid int, exitCode int) {
	e.mu.Lock()
	var desc *taskDesc
	for _, d := range e.tasks {
		if d.pid == pid {
			desc = d
			break
		}
	}
	atomic.AddInt32(&e.runningTasks, -1)
	e.mu.Unlock()

	if e.limiter != nil {
		e.limiter.Remove(pid)
	}

	if desc == nil {
		// Already freed via Free() before the exit callback fired.
		return
	}

	desc.mu.Lock()
	desc.running = false
	desc.completedAt = time.Now()
	desc.exitCode = exitCode
	desc.mu.Unlock()

	out, _ := desc.stdoutFile.ReadAll()
	errb, _ := desc.stderrFile.ReadAll()
	desc.mu.Lock()
	desc.stdoutSize = len(out)
	desc.stderrSize = len(errb)
	desc.mu.Unlock()

	desc.task.OnCompletion(exitCode, out, errb)
	desc.releaseLatch()
}

// cleanupLoop evicts descriptors that finished more than
// taskRetention ago and that no client ever freed.
func (e *Engine) cleanupLoop() {
	t := time.NewTicker(cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-e.cleanupStop:
			return
		case <-t.C:
			e.sweepCompleted()
		}
	}
}

func (e *Engine) sweepCompleted() {
	now := time.Now()
	var freed int
	e.mu.Lock()
	for id, desc := range e.tasks {
		desc.mu.Lock()
		expired := !desc.running && now.Sub(desc.completedAt) > taskRetention
		desc.mu.Unlock()
		if expired {
			delete(e.tasks, id)
			freed++
		}
	}
	e.mu.Unlock()
	if freed > 0 {
		e.logf("engine: freed %d completed tasks nobody collected", freed)
	}
}
