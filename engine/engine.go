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

// Package engine implements the admission-controlled subprocess
// supervisor at the heart of the servant: it owns every compiler
// child's lifecycle, enforces a concurrency/memory admission
// policy, lets multiple waiters rendezvous on one task's
// completion, and kills children on grant expiry or shutdown.
package engine

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tencent/yadcc-sub001/cgroup"
	"github.com/Tencent/yadcc-sub001/cpulimiter"
	"github.com/Tencent/yadcc-sub001/sysinfo"
)

// NotAcceptingTaskReason explains why GetMaxTasks is reporting zero
// capacity, surfaced to the scheduler in heartbeats.
type NotAcceptingTaskReason int

const (
	ReasonUnknown NotAcceptingTaskReason = iota
	ReasonUserInstructed
	ReasonPoorMachine
	ReasonCGroupsPresent
)

func (r NotAcceptingTaskReason) String() string {
	switch r {
	case ReasonUserInstructed:
		return "user_instructed"
	case ReasonPoorMachine:
		return "poor_machine"
	case ReasonCGroupsPresent:
		return "cgroups_present"
	default:
		return "unknown"
	}
}

// Status is the outcome of a Wait call.
type Status int

const (
	StatusNotFound Status = iota
	StatusRunning
	StatusDone
)

const defaultNiceLevel = 5

// cleanupInterval matches the 1s orphan-sweep period; tasks
// completed for longer than taskRetention are evicted even if no
// client ever calls Free.
const (
	cleanupInterval = time.Second
	taskRetention   = 60 * time.Second
)

var (
	// ErrShuttingDown is returned by Queue once Stop has been called.
	ErrShuttingDown = errors.New("engine: shutting down")
	// ErrHeavilyLoaded is returned by Queue when concurrency or
	// memory admission checks fail.
	ErrHeavilyLoaded = errors.New("engine: heavily loaded")
)

// Config configures a new Engine. Zero values are not valid;
// see New.
type Config struct {
	// ServantPriority is "dedicated" or "user". Ignored if
	// MaxRemoteTasks is set to a non-negative value.
	ServantPriority string
	// MaxRemoteTasks overrides the derived concurrency limit.
	// -1 means "derive from ServantPriority"; 0 means "accept no
	// tasks, report UserInstructed".
	MaxRemoteTasks int
	// MinMemoryForStartingNewTask is the minimum available memory,
	// in bytes, required to admit a new task.
	MinMemoryForStartingNewTask int64
	// PoorMachineThresholdProcessors is the processor-count cutoff
	// at or below which a "user" priority servant advertises zero capacity.
	PoorMachineThresholdProcessors int
	// TemporaryDir is where stdin/stdout/stderr scratch files for
	// children are created.
	TemporaryDir string

	Logger *log.Logger
}

// Engine supervises a pool of subprocesses subject to admission
// control.
type Engine struct {
	cfg    Config
	logger *log.Logger

	concurrencyLimit   int
	notAcceptingReason NotAcceptingTaskReason

	limiter *cpulimiter.Limiter

	mu           sync.Mutex
	tasks        map[uint64]*taskDesc
	nextTaskID   uint64
	runningTasks int32
	tasksRunEver uint64

	exiting atomic.Bool

	waitSem     chan struct{}
	cleanupStop chan struct{}
	reaperDone  chan struct{}
}

// New computes the concurrency limit from cfg and starts the
// engine's background goroutines (subprocess reaper, orphan
// cleanup sweep, and — if any capacity is granted — the CPU
// limiter's control loop).
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		logger:      cfg.Logger,
		tasks:       make(map[uint64]*taskDesc),
		waitSem:     make(chan struct{}, 1<<20),
		cleanupStop: make(chan struct{}),
		reaperDone:  make(chan struct{}),
	}

	limit, reason, err := deriveConcurrencyLimit(cfg)
	if err != nil {
		return nil, err
	}
	e.concurrencyLimit = limit
	e.notAcceptingReason = reason

	if e.concurrencyLimit > 0 {
		e.limiter = cpulimiter.New(e.concurrencyLimit)
	}

	go e.waiterLoop()
	go e.cleanupLoop()
	return e, nil
}

func deriveConcurrencyLimit(cfg Config) (int, NotAcceptingTaskReason, error) {
	if cfg.MaxRemoteTasks == 0 {
		return 0, ReasonUserInstructed, nil
	}
	if cfg.MaxRemoteTasks > 0 {
		return cfg.MaxRemoteTasks, ReasonUnknown, nil
	}

	nprocs := sysinfo.NumProcessors()
	if cfg.ServantPriority == "dedicated" {
		return nprocs * 95 / 100, ReasonUnknown, nil
	}

	present, err := cgroup.HasNonRootController()
	if err != nil {
		present = false
	}
	if present {
		return 0, ReasonCGroupsPresent, nil
	}
	if nprocs <= cfg.PoorMachineThresholdProcessors {
		return 0, ReasonPoorMachine, nil
	}
	return nprocs * 40 / 100, ReasonUnknown, nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// GetMaxTasks returns the configured concurrency limit and, if it
// is zero, the reason capacity is not being advertised.
func (e *Engine) GetMaxTasks() (int, NotAcceptingTaskReason) {
	return e.concurrencyLimit, e.notAcceptingReason
}

// RunningTasks returns the number of currently running tasks.
func (e *Engine) RunningTasks() int {
	return int(atomic.LoadInt32(&e.runningTasks))
}
