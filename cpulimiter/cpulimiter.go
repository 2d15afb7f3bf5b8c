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

// Package cpulimiter enforces a per-tree CPU bandwidth budget by
// time-slicing process groups with SIGSTOP/SIGCONT, the same
// cooperative approach cpulimit(1) uses against a single process,
// generalized here to a whole process tree.
//
// Processes are either occupied (one whole core reserved,
// unthrottled) or limited (enrolled in the shared bandwidth pool
// and throttled to an adaptively computed fraction of each 100ms
// slot). The limiter never blocks its caller: Limit, Occupy, and
// Remove only update in-memory bookkeeping, and the control loop
// runs on its own goroutine.
package cpulimiter

import (
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

const (
	alpha            = 0.08
	timeSlot         = 100 * time.Millisecond
	minSampleInterval = 20 * time.Millisecond
)

// processInfo is one sample of a single process's accumulated CPU
// time and start time, used to compute a smoothed usage rate and
// to detect PID reuse.
type processInfo struct {
	pid       int
	ppid      int
	cpuTimeMs uint64
	startTime uint64 // seconds since boot
	cpuUsage  float64
}

// processContext is the bookkeeping for one limited process tree,
// keyed by its root pid.
type processContext struct {
	pid int

	rateMu           sync.Mutex
	limitRate        float64
	limitRateUpdated bool

	processes      map[int]*processInfo
	livingProcesses []int
	workingRate    float64
	lastUpdate     time.Time
}

// Limiter regulates the aggregate CPU usage of a set of registered
// process trees to at most maxCPU cores.
type Limiter struct {
	Logger *log.Logger

	selfPID int
	maxCPU  int

	mu        sync.Mutex
	cond      *sync.Cond
	contexts  map[int]*processContext
	occupied  map[int]bool

	stop chan struct{}
	done chan struct{}
}

// New creates a Limiter that shares maxCPU cores among every tree
// later registered with Limit, after subtracting one core for each
// pid registered with Occupy. It starts the control loop goroutine
// immediately; call Stop to shut it down.
func New(maxCPU int) *Limiter {
	if maxCPU <= 0 {
		panic("cpulimiter: maxCPU must be positive")
	}
	l := &Limiter{
		selfPID:  os.Getpid(),
		maxCPU:   maxCPU,
		contexts: make(map[int]*processContext),
		occupied: make(map[int]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.limitLoop()
	return l
}

func (l *Limiter) logf(format string, args ...interface{}) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
	}
}

// Limit enrolls pid (and its process-group descendants) in the
// shared bandwidth pool. It is a no-op if pid is already limited
// or occupied, or if pid is not currently alive.
func (l *Limiter) Limit(pid int) {
	if pid <= 0 || pid == l.selfPID {
		panic("cpulimiter: invalid pid")
	}
	if err := unix.Kill(pid, 0); err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.contexts[pid] != nil || l.occupied[pid] {
		return
	}
	ctx := &processContext{
		pid:         pid,
		processes:   make(map[int]*processInfo),
		workingRate: -1,
	}
	l.contexts[pid] = ctx
	l.unsafeUpdateCPULimitRate()
	l.cond.Broadcast()
}

// Occupy reserves one whole core for pid, unthrottled, reducing the
// remaining budget shared among limited trees.
func (l *Limiter) Occupy(pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.contexts[pid] != nil || l.occupied[pid] {
		return
	}
	l.occupied[pid] = true
	l.unsafeUpdateCPULimitRate()
}

// Remove unregisters pid from whichever pool (limited or occupied)
// it was previously added to. It is a no-op if pid is not known.
func (l *Limiter) Remove(pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.contexts[pid]; ok {
		delete(l.contexts, pid)
		l.unsafeUpdateCPULimitRate()
		return
	}
	if l.occupied[pid] {
		delete(l.occupied, pid)
		l.unsafeUpdateCPULimitRate()
	}
}

// Stop halts the control loop. It does not resume any processes
// that are currently stopped; callers are responsible for killing
// or resuming their own children before exiting.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Join blocks until the control loop goroutine has exited.
func (l *Limiter) Join() {
	<-l.done
}

// unsafeUpdateCPULimitRate recomputes the per-tree rate and marks
// every context so its sampling state resets on next use. l.mu
// must be held.
func (l *Limiter) unsafeUpdateCPULimitRate() {
	if len(l.contexts) == 0 {
		return
	}
	ratePerTree := float64(l.maxCPU-len(l.occupied)) / float64(len(l.contexts))
	for _, ctx := range l.contexts {
		ctx.rateMu.Lock()
		ctx.limitRate = ratePerTree
		ctx.limitRateUpdated = true
		ctx.rateMu.Unlock()
	}
}

type runEntry struct {
	timeToWork int64 // microseconds
	ctx        *processContext
}

func (l *Limiter) limitLoop() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		var contexts []*processContext
		l.mu.Lock()
		for len(l.contexts) == 0 {
			waitCh := make(chan struct{})
			go func() {
				l.mu.Lock()
				l.cond.Wait()
				l.mu.Unlock()
				close(waitCh)
			}()
			l.mu.Unlock()
			select {
			case <-l.stop:
				return
			case <-time.After(time.Second):
			case <-waitCh:
			}
			l.mu.Lock()
		}
		for _, ctx := range l.contexts {
			contexts = append(contexts, ctx)
		}
		l.mu.Unlock()

		var runQueue []runEntry
		for _, ctx := range contexts {
			timeToWork := l.startProcess(ctx)
			if timeToWork < 0 {
				continue
			}
			runQueue = append(runQueue, runEntry{timeToWork, ctx})
		}

		slices.SortFunc(runQueue, func(a, b runEntry) bool {
			return a.timeToWork < b.timeToWork
		})

		if len(runQueue) > 0 {
			timeToSleep := int64(timeSlot/time.Microsecond) - runQueue[len(runQueue)-1].timeToWork
			for len(runQueue) > 0 {
				nextStop := runQueue[0].timeToWork
				time.Sleep(time.Duration(nextStop) * time.Microsecond)
				stopProcess(runQueue[0].ctx)
				runQueue = runQueue[1:]
				for i := range runQueue {
					runQueue[i].timeToWork -= nextStop
				}
			}
			if timeToSleep > 0 {
				time.Sleep(time.Duration(timeToSleep) * time.Microsecond)
			}
		} else {
			time.Sleep(timeSlot)
		}
	}
}

// startProcess updates ctx's process sample, computes the working
// rate for this slot, SIGCONTs every living descendant, and returns
// the number of microseconds the tree should be allowed to run this
// slot, or -1 if the tree currently has no living descendants.
func (l *Limiter) startProcess(ctx *processContext) int64 {
	var limitRate float64
	ctx.rateMu.Lock()
	if ctx.limitRateUpdated {
		ctx.processes = make(map[int]*processInfo)
		ctx.livingProcesses = nil
		ctx.limitRateUpdated = false
		ctx.workingRate = -1
		ctx.lastUpdate = time.Time{}
	}
	limitRate = ctx.limitRate
	ctx.rateMu.Unlock()

	updateProcess(ctx)
	if len(ctx.livingProcesses) == 0 {
		return -1
	}

	totalCPUUsage := -1.0
	for _, pid := range ctx.livingProcesses {
		usage := ctx.processes[pid].cpuUsage
		if usage < 0 {
			continue
		}
		if totalCPUUsage < 0 {
			totalCPUUsage = 0
		}
		totalCPUUsage += usage
	}

	if totalCPUUsage <= 0 {
		totalCPUUsage = limitRate
		ctx.workingRate = limitRate
	} else {
		rate := ctx.workingRate / totalCPUUsage * limitRate
		if rate > 1.0 {
			rate = 1.0
		}
		ctx.workingRate = rate
	}
	timeToWork := float64(timeSlot/time.Microsecond) * ctx.workingRate

	living := ctx.livingProcesses[:0]
	for _, pid := range ctx.livingProcesses {
		if err := unix.Kill(pid, unix.SIGCONT); err != nil {
			l.logf("cpulimiter: SIGCONT failed for pid %d: %v", pid, err)
			delete(ctx.processes, pid)
			continue
		}
		living = append(living, pid)
	}
	ctx.livingProcesses = living

	if timeToWork < 0 {
		return 0
	}
	return int64(timeToWork)
}

func stopProcess(ctx *processContext) {
	for _, pid := range ctx.livingProcesses {
		if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
			delete(ctx.processes, pid)
		}
	}
}
