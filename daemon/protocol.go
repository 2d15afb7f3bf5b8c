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

// TaskStatus is the compilation status reported by
// WaitForCompilationOutput.
type TaskStatus string

const (
	StatusRunning                 TaskStatus = "RUNNING"
	StatusDone                    TaskStatus = "DONE"
	StatusFailed                  TaskStatus = "FAILED"
	StatusNotFound                TaskStatus = "NOT_FOUND"
	StatusAccessDenied            TaskStatus = "ACCESS_DENIED"
	StatusEnvironmentNotAvailable TaskStatus = "ENVIRONMENT_NOT_AVAILABLE"
	StatusHeavilyLoaded           TaskStatus = "HEAVILY_LOADED"
)

// Every request carries a bearer token and every response an
// optional human-readable message for the ACCESS_DENIED /
// ENVIRONMENT_NOT_AVAILABLE / HEAVILY_LOADED failure paths; a
// non-empty Message on an otherwise-zero response means the call
// failed for that reason.

type QueueCompilationTaskRequest struct {
	Token                 string                `json:"token"`
	TaskGrantID           uint64                `json:"task_grant_id"`
	EnvDesc               EnvironmentDescriptor `json:"env_desc"`
	InvocationArguments   []string              `json:"invocation_arguments"`
	CompressionAlgorithm  string                `json:"compression_algorithm"`
	// Source is Zstd-compressed source text; mandatory per the RPC
	// contract (CompressionAlgorithm must be "zstd").
	Source []byte `json:"source"`
}

type QueueCompilationTaskResponse struct {
	Status  TaskStatus `json:"status"`
	TaskID  uint64     `json:"task_id,omitempty"`
	Message string     `json:"message,omitempty"`
}

type ReferenceTaskRequest struct {
	Token  string `json:"token"`
	TaskID uint64 `json:"task_id"`
}

type ReferenceTaskResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type WaitForCompilationOutputRequest struct {
	Token                           string   `json:"token"`
	TaskID                          uint64   `json:"task_id"`
	MillisecondsToWait              int64    `json:"milliseconds_to_wait"`
	AcceptableCompressionAlgorithms []string `json:"acceptable_compression_algorithms"`
}

type WaitForCompilationOutputResponse struct {
	Status               TaskStatus `json:"status"`
	ExitCode             int        `json:"exit_code,omitempty"`
	Output               []byte     `json:"output,omitempty"`
	Error                []byte     `json:"error,omitempty"`
	CompressionAlgorithm string     `json:"compression_algorithm,omitempty"`
	// Artifact is the Zstd-compressed compiled object file, present
	// only when Status is Done and ExitCode is 0.
	Artifact []byte `json:"artifact,omitempty"`
	Message  string `json:"message,omitempty"`
}

type FreeTaskRequest struct {
	Token  string `json:"token"`
	TaskID uint64 `json:"task_id"`
}

type FreeTaskResponse struct{}
