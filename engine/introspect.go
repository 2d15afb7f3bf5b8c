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
	"strconv"
	"sync/atomic"
)

// EnumeratedTask is one row of Enumerate's result: enough to report
// a running grant id in a heartbeat without exposing the whole
// descriptor.
type EnumeratedTask struct {
	TaskID  uint64
	GrantID uint64
}

// Enumerate lists every task currently tracked by the engine
// (running or completed-but-not-yet-freed), for heartbeat reporting
// and diagnostics.
func (e *Engine) Enumerate() []EnumeratedTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EnumeratedTask, 0, len(e.tasks))
	for id, desc := range e.tasks {
		out = append(out, EnumeratedTask{TaskID: id, GrantID: desc.grantID})
	}
	return out
}

// DumpInternals reports counters and per-task diagnostics, merged
// from each task's own DumpInternals.
func (e *Engine) DumpInternals() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := make(map[string]any, len(e.tasks))
	for id, desc := range e.tasks {
		desc.mu.Lock()
		running := desc.running
		entry := desc.task.DumpInternals()
		if entry == nil {
			entry = make(map[string]any)
		}
		entry["command"] = desc.command
		if running {
			entry["state"] = "RUNNING"
		} else {
			entry["state"] = "DONE"
			entry["exit_code"] = desc.exitCode
			entry["stdout_size"] = desc.stdoutSize
			entry["stderr_size"] = desc.stderrSize
			entry["completed_at"] = desc.completedAt.Unix()
		}
		desc.mu.Unlock()
		tasks[strconv.FormatUint(id, 10)] = entry
	}

	return map[string]any{
		"max_tasks":      e.concurrencyLimit,
		"running_tasks":  atomic.LoadInt32(&e.runningTasks),
		"alive_tasks":    len(e.tasks),
		"tasks_run_ever": e.tasksRunEver,
		"tasks":          tasks,
	}
}
