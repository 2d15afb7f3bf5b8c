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

import "sync"

// Bookkeeper collects each servant's reported running-task roster
// and merges them into a cluster-wide view, so the scheduler can
// share who is running what without every servant polling every
// other servant directly.
type Bookkeeper struct {
	mu           sync.Mutex
	runningTasks map[string][]RunningTask
}

// NewBookkeeper constructs an empty Bookkeeper.
func NewBookkeeper() *Bookkeeper {
	return &Bookkeeper{runningTasks: make(map[string][]RunningTask)}
}

// SetServantRunningTasks replaces one servant's reported roster,
// called once per heartbeat received from servantLocation.
func (b *Bookkeeper) SetServantRunningTasks(servantLocation string, tasks []RunningTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runningTasks[servantLocation] = tasks
}

// DropServant removes a servant's roster entirely, e.g. once it has
// missed enough consecutive heartbeats to be considered gone.
func (b *Bookkeeper) DropServant(servantLocation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.runningTasks, servantLocation)
}

// GetRunningTasks returns every task tracked across every servant.
func (b *Bookkeeper) GetRunningTasks() []RunningTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []RunningTask
	for _, tasks := range b.runningTasks {
		out = append(out, tasks...)
	}
	return out
}
