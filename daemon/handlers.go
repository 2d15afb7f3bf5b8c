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

package daemon

import (
	"net/http"
	"time"

	"github.com/Tencent/yadcc-sub001/engine"
	"github.com/Tencent/yadcc-sub001/fingerprint"
	"github.com/Tencent/yadcc-sub001/tempfile"
)

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// queueCompilationTask admits a new compilation job: it checks the
// caller's token, looks up a matching local toolchain, decompresses
// the Zstd-mandatory source, and hands a compilationTask to the
// engine for execution.
func (d *Daemon) queueCompilationTask(w http.ResponseWriter, r *http.Request) {
	var req QueueCompilationTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !d.Verifier.Verify(req.Token) {
		writeJSON(w, QueueCompilationTaskResponse{Status: StatusAccessDenied, Message: "token not accepted"})
		return
	}

	compilerPath, ok := d.Registry.TryGetCompilerPath(req.EnvDesc)
	if !ok {
		writeJSON(w, QueueCompilationTaskResponse{
			Status:  StatusEnvironmentNotAvailable,
			Message: "no matching toolchain installed on this servant",
		})
		return
	}

	if req.CompressionAlgorithm != "zstd" {
		writeJSON(w, QueueCompilationTaskResponse{Status: StatusFailed, Message: "only zstd-compressed sources are accepted"})
		return
	}
	source, err := decompressZstd(req.Source)
	if err != nil {
		writeJSON(w, QueueCompilationTaskResponse{Status: StatusFailed, Message: "failed to decompress source: " + err.Error()})
		return
	}

	objectFile, err := tempfile.New(d.TemporaryDir, "obj-")
	if err != nil {
		writeJSON(w, QueueCompilationTaskResponse{Status: StatusFailed, Message: err.Error()})
		return
	}

	argv := make([]string, 0, len(req.InvocationArguments)+3)
	argv = append(argv, compilerPath)
	argv = append(argv, req.InvocationArguments...)
	argv = append(argv, "-o", objectFile.GetPath())

	task := &compilationTask{
		argv:         argv,
		stdin:        source,
		env:          req.EnvDesc,
		args:         req.InvocationArguments,
		sourceDigest: fingerprint.SourceDigest(source),
		objectFile:   objectFile,
	}

	taskID, err := d.Engine.Queue(req.TaskGrantID, task)
	if err != nil {
		objectFile.Close()
		switch err {
		case engine.ErrHeavilyLoaded:
			writeJSON(w, QueueCompilationTaskResponse{Status: StatusHeavilyLoaded, Message: err.Error()})
		case engine.ErrShuttingDown:
			writeJSON(w, QueueCompilationTaskResponse{Status: StatusFailed, Message: err.Error()})
		default:
			writeJSON(w, QueueCompilationTaskResponse{Status: StatusFailed, Message: err.Error()})
		}
		return
	}

	d.mu.Lock()
	d.tasks[taskID] = task
	d.mu.Unlock()

	writeJSON(w, QueueCompilationTaskResponse{Status: StatusRunning, TaskID: taskID})
}

// referenceTask lets a second caller (e.g. a retrying client that
// lost its connection) attach to a task someone else already queued,
// so that caller's own FreeTask doesn't tear it down prematurely.
func (d *Daemon) referenceTask(w http.ResponseWriter, r *http.Request) {
	var req ReferenceTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !d.Verifier.Verify(req.Token) {
		writeJSON(w, ReferenceTaskResponse{OK: false, Message: "token not accepted"})
		return
	}
	ok := d.Engine.Reference(req.TaskID)
	writeJSON(w, ReferenceTaskResponse{OK: ok})
}

// waitForCompilationOutput long-polls for a task's completion. On a
// successful (exit code 0) completion it also kicks off an
// asynchronous write of the finished artifact to the distributed
// cache, keyed by the job's fingerprint — the caller never waits on
// that write.
func (d *Daemon) waitForCompilationOutput(w http.ResponseWriter, r *http.Request) {
	var req WaitForCompilationOutputRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !d.Verifier.Verify(req.Token) {
		writeJSON(w, WaitForCompilationOutputResponse{Status: StatusAccessDenied, Message: "token not accepted"})
		return
	}
	if !contains(req.AcceptableCompressionAlgorithms, "zstd") {
		writeJSON(w, WaitForCompilationOutputResponse{Status: StatusFailed, Message: "this servant only returns zstd-compressed output"})
		return
	}

	wait := time.Duration(req.MillisecondsToWait) * time.Millisecond
	if wait <= 0 || wait > maxWait {
		wait = maxWait
	}

	status, t, result := d.Engine.Wait(req.TaskID, wait)
	switch status {
	case engine.StatusNotFound:
		writeJSON(w, WaitForCompilationOutputResponse{Status: StatusNotFound})
		return
	case engine.StatusRunning:
		writeJSON(w, WaitForCompilationOutputResponse{Status: StatusRunning})
		return
	}

	task, _ := t.(*compilationTask)

	compressedStdout, err := compressZstd(result.Stdout)
	if err != nil {
		writeJSON(w, WaitForCompilationOutputResponse{Status: StatusFailed, Message: err.Error()})
		return
	}
	compressedStderr, err := compressZstd(result.Stderr)
	if err != nil {
		writeJSON(w, WaitForCompilationOutputResponse{Status: StatusFailed, Message: err.Error()})
		return
	}

	resp := WaitForCompilationOutputResponse{
		Status:               StatusDone,
		ExitCode:             result.ExitCode,
		Output:               compressedStdout,
		Error:                compressedStderr,
		CompressionAlgorithm: "zstd",
	}
	if result.ExitCode != 0 {
		resp.Status = StatusFailed
		writeJSON(w, resp)
		return
	}

	if task == nil {
		writeJSON(w, resp)
		return
	}
	objectBytes, err := task.readObjectFile()
	if err != nil {
		d.logf("daemon: reading compiled object for task %d failed: %v", req.TaskID, err)
		writeJSON(w, resp)
		return
	}
	compressedArtifact, err := compressZstd(objectBytes)
	if err != nil {
		d.logf("daemon: compressing compiled object for task %d failed: %v", req.TaskID, err)
		writeJSON(w, resp)
		return
	}
	resp.Artifact = compressedArtifact

	if d.CacheWriter != nil {
		d.CacheWriter.AsyncWrite(task.fingerprintKey(), result.ExitCode, result.Stdout, result.Stderr, compressedArtifact)
	}

	writeJSON(w, resp)
}

// freeTask releases the caller's reference to a task; once every
// referencing caller has freed it, the engine tears the task down
// (killing it first if it's still somehow running).
func (d *Daemon) freeTask(w http.ResponseWriter, r *http.Request) {
	var req FreeTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !d.Verifier.Verify(req.Token) {
		writeJSON(w, FreeTaskResponse{})
		return
	}
	d.Engine.Free(req.TaskID)

	d.mu.Lock()
	task, ok := d.tasks[req.TaskID]
	delete(d.tasks, req.TaskID)
	d.mu.Unlock()
	if ok {
		task.close()
	}

	writeJSON(w, FreeTaskResponse{})
}
