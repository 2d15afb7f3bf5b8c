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

package sysinfo

import "testing"

func TestNumProcessors(t *testing.T) {
	if NumProcessors() <= 0 {
		t.Fatal("expected at least one processor")
	}
}

func TestTotalMemory(t *testing.T) {
	total, err := TotalMemory()
	if err != nil {
		t.Skipf("no /proc/meminfo on this platform: %v", err)
	}
	if total <= 0 {
		t.Fatal("expected positive total memory")
	}
}

func TestDiskAvailable(t *testing.T) {
	avail, err := DiskAvailable(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if avail < 0 {
		t.Fatal("expected non-negative available disk space")
	}
}

func TestMonitorNoSamplesYet(t *testing.T) {
	m := &Monitor{}
	if _, ok := m.TryProcessorLoad(0); ok {
		t.Fatal("expected false for zero duration")
	}
	if _, ok := m.TryProcessorLoad(5 * 1e9); ok {
		t.Fatal("expected false before any samples collected")
	}
}
