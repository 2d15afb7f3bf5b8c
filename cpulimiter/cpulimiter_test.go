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

package cpulimiter

import (
	"os"
	"testing"
)

func TestSplitStatFields(t *testing.T) {
	buf, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		t.Skipf("no /proc on this platform: %v", err)
	}
	fields, ok := splitStatFields(buf)
	if !ok {
		t.Fatal("expected successful parse of /proc/self/stat")
	}
	if len(fields) < 22 {
		t.Fatalf("got %d fields, want at least 22", len(fields))
	}
}

func TestIsChildOfSelf(t *testing.T) {
	pid := os.Getpid()
	if !isChildOf(pid, pid) {
		t.Fatal("a process must be considered a \"child\" of itself (base case)")
	}
}

func TestUnsafeUpdateCPULimitRate(t *testing.T) {
	l := &Limiter{
		maxCPU:   4,
		contexts: make(map[int]*processContext),
		occupied: make(map[int]bool),
	}
	l.contexts[100] = &processContext{pid: 100}
	l.contexts[101] = &processContext{pid: 101}
	l.occupied[200] = true

	l.unsafeUpdateCPULimitRate()

	for pid, ctx := range l.contexts {
		if ctx.limitRate != 1.5 {
			t.Fatalf("pid %d: got rate %v, want 1.5", pid, ctx.limitRate)
		}
		if !ctx.limitRateUpdated {
			t.Fatalf("pid %d: expected limitRateUpdated to be set", pid)
		}
	}
}
