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

// Package scheduler holds the servant-facing wire protocol for the
// heartbeat RPC and a servant's view of the cluster's running-task
// roster. The cluster-wide placement algorithm itself is out of
// scope; this package only carries the types and bookkeeping a
// servant-side client (package heartbeat) and a test-only stub
// server both need.
package scheduler

// RunningTask is one task entry exchanged in the heartbeat protocol,
// identifying a task a servant currently has running under a grant.
type RunningTask struct {
	GrantID uint64 `json:"grant_id"`
	TaskID  uint64 `json:"task_id"`
}

// HeartbeatRequest is what a servant POSTs once per heartbeat period.
type HeartbeatRequest struct {
	Location            string        `json:"location"`
	Token                string        `json:"token"`
	Version              string        `json:"version"`
	NextHeartbeatInMs    int64         `json:"next_heartbeat_in_ms"`
	ServantPriority      string        `json:"servant_priority"`
	TotalMemoryBytes     int64         `json:"total_memory_bytes"`
	AvailableMemoryBytes int64         `json:"available_memory_bytes"`
	NumProcessors        int           `json:"num_processors"`
	CurrentLoad          int           `json:"current_load"`
	MaxTasks             int           `json:"max_tasks"`
	NotAcceptingReason   string        `json:"not_accepting_task_reason,omitempty"`
	Environments         []string      `json:"environments"`
	RunningTasks         []RunningTask `json:"running_tasks"`
}

// HeartbeatResponse is the scheduler's reply, applied immediately and
// monotonically by the servant: a grant once expired stays expired,
// and the acceptable-token set is replaced wholesale.
type HeartbeatResponse struct {
	ExpiredGrantIDs  []uint64 `json:"expired_grant_ids"`
	AcceptableTokens []string `json:"acceptable_tokens"`
}
