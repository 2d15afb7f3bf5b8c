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
	"testing"
	"time"
)

type fakeTask struct {
	argv  []string
	stdin []byte

	done     chan struct{}
	exitCode int
	stdout   []byte
	stderr   []byte
}

func newFakeTask(argv ...string) *fakeTask {
	return &fakeTask{argv: argv, done: make(chan struct{})}
}

func (f *fakeTask) CommandLine() []string   { return f.argv }
func (f *fakeTask) StandardInput() []byte   { return f.stdin }
func (f *fakeTask) DumpInternals() map[string]any { return nil }
func (f *fakeTask) OnCompletion(exitCode int, stdout, stderr []byte) {
	f.exitCode = exitCode
	f.stdout = stdout
	f.stderr = stderr
	close(f.done)
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{
		MaxRemoteTasks:              4,
		MinMemoryForStartingNewTask: 0,
		TemporaryDir:                t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		e.Stop()
		e.Join()
	})
	return e
}

func TestQueueAndWaitHappyPath(t *testing.T) {
	e := testEngine(t)
	task := newFakeTask("/bin/echo", "hello")
	id, err := e.Queue(1, task)
	if err != nil {
		t.Fatal(err)
	}
	status, gotTask, res := e.Wait(id, 5*time.Second)
	if status != StatusDone {
		t.Fatalf("got status %v, want Done", status)
	}
	if gotTask != task {
		t.Fatal("expected Wait to return the same task object")
	}
	if res.ExitCode != 0 {
		t.Fatalf("got exit code %d, want 0", res.ExitCode)
	}
}

func TestConcurrencyCap(t *testing.T) {
	e, err := New(Config{
		MaxRemoteTasks:              1,
		MinMemoryForStartingNewTask: 0,
		TemporaryDir:                t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { e.Stop(); e.Join() }()

	id1, err := e.Queue(1, newFakeTask("/bin/sleep", "5"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Queue(2, newFakeTask("/bin/sleep", "5"))
	if err != ErrHeavilyLoaded {
		t.Fatalf("got err %v, want ErrHeavilyLoaded", err)
	}

	e.KillExpired(map[uint64]bool{1: true})
	status, _, _ := e.Wait(id1, 5*time.Second)
	if status != StatusDone {
		t.Fatalf("got status %v, want Done after kill", status)
	}

	id3, err := e.Queue(3, newFakeTask("/bin/echo", "ok"))
	if err != nil {
		t.Fatalf("expected third queue to succeed after first freed capacity: %v", err)
	}
	e.Wait(id3, 5*time.Second)
}

func TestNotFound(t *testing.T) {
	e := testEngine(t)
	status, _, _ := e.Wait(9999, time.Millisecond)
	if status != StatusNotFound {
		t.Fatalf("got status %v, want NotFound", status)
	}
}

func TestFreeKillsRunningTask(t *testing.T) {
	e := testEngine(t)
	task := newFakeTask("/bin/sleep", "30")
	id, err := e.Queue(1, task)
	if err != nil {
		t.Fatal(err)
	}
	e.Free(id)
	select {
	case <-task.done:
	case <-time.After(5 * time.Second):
		t.Fatal("expected Free to kill the running task")
	}
}
