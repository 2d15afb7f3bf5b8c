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

// Package sysinfo reports processor load, memory
// availability, and disk space for the local machine,
// the inputs the execution engine's admission policy
// and the CPU limiter's rate computation are built on.
package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	sampleInterval = time.Second
	sampleCount    = 61
)

// Monitor samples the system idle time once a second
// so that TryProcessorLoad can report a load average
// over any window up to a minute, not just the fixed
// 1/5/15-minute windows /proc/loadavg exposes.
type Monitor struct {
	mu      sync.Mutex
	samples []float64
	stop    chan struct{}
	once    sync.Once
}

// NewMonitor creates a Monitor and starts its background
// sampling goroutine. Call Stop when the monitor is no
// longer needed.
func NewMonitor() *Monitor {
	m := &Monitor{stop: make(chan struct{})}
	go m.run()
	return m
}

// Stop halts the background sampling goroutine.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) run() {
	t := time.NewTicker(sampleInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			idle, err := processorIdleTime()
			if err != nil {
				continue
			}
			m.mu.Lock()
			m.samples = append(m.samples, idle)
			if len(m.samples) > sampleCount {
				m.samples = m.samples[len(m.samples)-sampleCount:]
			}
			m.mu.Unlock()
		}
	}
}

// TryProcessorLoad returns the number of busy processor
// cores, averaged over dur, rounded up. It reports false
// if fewer than dur worth of samples have been collected
// yet, or if dur exceeds the sample window (one minute).
func (m *Monitor) TryProcessorLoad(dur time.Duration) (int, bool) {
	interval := int(dur / time.Second)
	if interval <= 0 {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval >= len(m.samples) {
		return 0, false
	}
	start := m.samples[len(m.samples)-1-interval]
	end := m.samples[len(m.samples)-1]
	idleCores := (end - start) / float64(interval)
	n := NumProcessors()
	busy := n - int(idleCores)
	if busy < 0 {
		busy = 0
	}
	return busy, true
}

// processorIdleTime reads cumulative idle jiffies from
// /proc/stat and converts them to seconds.
func processorIdleTime() (float64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var label string
	var user, nice, system, idle float64
	_, err = fmt.Fscanf(f, "%s %f %f %f %f", &label, &user, &nice, &system, &idle)
	if err != nil {
		return 0, err
	}
	return idle / float64(userHz), nil
}

const userHz = 100

// LoadAverageInLastMinute returns the system's 1-minute
// load average (as reported by the kernel), rounded up.
func LoadAverageInLastMinute() (int, error) {
	f, err := os.Open("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var load1 float64
	if _, err := fmt.Fscanf(f, "%f", &load1); err != nil {
		return 0, err
	}
	return int(load1 + 0.999999), nil
}

// NumProcessors returns the number of logical processors
// available to this process.
func NumProcessors() int {
	return runtime.NumCPU()
}

type memInfo struct {
	total, available int64
}

func readMemInfo() (memInfo, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return memInfo{}, err
	}
	defer f.Close()
	var info memInfo
	s := bufio.NewScanner(f)
	for s.Scan() {
		var key string
		var value int64
		n, _ := fmt.Sscanf(s.Text(), "%s %d", &key, &value)
		if n != 2 {
			continue
		}
		switch key {
		case "MemTotal:":
			info.total = value * 1024
		case "MemAvailable:":
			info.available = value * 1024
		}
	}
	if err := s.Err(); err != nil {
		return memInfo{}, err
	}
	return info, nil
}

// MemoryAvailable returns the number of bytes of memory
// the kernel estimates are available for starting new
// tasks without swapping (/proc/meminfo's MemAvailable).
func MemoryAvailable() (int64, error) {
	info, err := readMemInfo()
	if err != nil {
		return 0, err
	}
	return info.available, nil
}

// TotalMemory returns the total installed DRAM in bytes.
func TotalMemory() (int64, error) {
	info, err := readMemInfo()
	if err != nil {
		return 0, err
	}
	return info.total, nil
}

// DiskAvailable returns the number of free bytes available
// to an unprivileged user on the filesystem containing dir.
func DiskAvailable(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
