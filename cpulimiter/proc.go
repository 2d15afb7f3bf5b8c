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
	"fmt"
	"os"
	"strconv"
	"time"
)

const userHz = 100

// tryGetProcessInfo parses /proc/<pid>/stat for ppid, the
// cumulative user+sys tick count (converted to milliseconds), and
// start-time-since-boot (converted to seconds). It returns false
// if the process has exited or the entry cannot be parsed.
func tryGetProcessInfo(pid int) (processInfo, bool) {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return processInfo{}, false
	}
	fields, ok := splitStatFields(buf)
	if !ok {
		return processInfo{}, false
	}
	// fields[1] = comm (already stripped of parens), fields[2] = state,
	// fields[3] = ppid, fields[13],[14] = utime, stime, fields[21] = starttime.
	if len(fields) < 22 {
		return processInfo{}, false
	}
	ppid, err := strconv.Atoi(fields[3])
	if err != nil || ppid == 0 {
		return processInfo{}, false
	}
	utime, err1 := strconv.ParseUint(fields[13], 10, 64)
	stime, err2 := strconv.ParseUint(fields[14], 10, 64)
	if err1 != nil || err2 != nil {
		return processInfo{}, false
	}
	startTicks, err := strconv.ParseUint(fields[21], 10, 64)
	if err != nil {
		return processInfo{}, false
	}
	return processInfo{
		pid:       pid,
		ppid:      ppid,
		cpuTimeMs: (utime + stime) * 1000 / userHz,
		startTime: startTicks / userHz,
	}, true
}

// tryGetParentPid reads just the ppid field from /proc/<pid>/stat.
func tryGetParentPid(pid int) (int, bool) {
	buf, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, false
	}
	fields, ok := splitStatFields(buf)
	if !ok || len(fields) < 4 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[3])
	if err != nil || ppid == 0 {
		return 0, false
	}
	return ppid, true
}

// splitStatFields tokenizes /proc/<pid>/stat, taking care that the
// second field (comm) may itself contain spaces and is delimited by
// the last ')' on the line rather than whitespace.
func splitStatFields(buf []byte) ([]string, bool) {
	open := -1
	close := -1
	for i, b := range buf {
		if b == '(' && open < 0 {
			open = i
		}
		if b == ')' {
			close = i
		}
	}
	if open < 0 || close < 0 || close < open {
		return nil, false
	}
	fields := make([]string, 0, 52)
	fields = append(fields, string(buf[:open-1]), string(buf[open+1:close]))
	rest := string(buf[close+1:])
	start := -1
	for i := 0; i <= len(rest); i++ {
		if i < len(rest) && rest[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, rest[start:i])
			start = -1
		}
	}
	return fields, true
}

// isChildOf reports whether child is parent, or a descendant of
// parent, by walking the ppid chain up from child. This guards
// against including unrelated processes that happen to share a
// reused pid with a process this limiter once knew about.
func isChildOf(child, parent int) bool {
	pid := child
	for pid != parent {
		next, ok := tryGetParentPid(pid)
		if !ok {
			return false
		}
		pid = next
	}
	return pid == parent
}

// updateProcess rescans /proc for every live descendant of
// ctx.pid, updating each one's smoothed CPU-usage estimate and
// refreshing ctx.livingProcesses.
func updateProcess(ctx *processContext) {
	ctx.livingProcesses = nil
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return
	}
	timeDiff := time.Duration(0)
	if !ctx.lastUpdate.IsZero() {
		timeDiff = time.Since(ctx.lastUpdate)
	}
	for _, ent := range entries {
		pid, err := strconv.Atoi(ent.Name())
		if err != nil {
			continue
		}
		if !isChildOf(pid, ctx.pid) {
			continue
		}
		info, ok := tryGetProcessInfo(pid)
		if !ok {
			delete(ctx.processes, pid)
			continue
		}
		prev, known := ctx.processes[pid]
		if known {
			if info.startTime != prev.startTime {
				// PID was reused by an unrelated process since we
				// last saw it; restart sampling from scratch.
				info.cpuUsage = -1
				ctx.processes[pid] = &info
				ctx.livingProcesses = append(ctx.livingProcesses, pid)
				continue
			}
			if timeDiff < minSampleInterval {
				ctx.livingProcesses = append(ctx.livingProcesses, pid)
				continue
			}
			sample := float64(info.cpuTimeMs-prev.cpuTimeMs) / float64(timeDiff/time.Millisecond)
			if prev.cpuUsage == -1 {
				prev.cpuUsage = sample
			} else {
				prev.cpuUsage = (1-alpha)*prev.cpuUsage + alpha*sample
			}
			prev.cpuTimeMs = info.cpuTimeMs
		} else {
			info.cpuUsage = -1
			ctx.processes[pid] = &info
		}
		ctx.livingProcesses = append(ctx.livingProcesses, pid)
	}
	ctx.lastUpdate = time.Now()
}
