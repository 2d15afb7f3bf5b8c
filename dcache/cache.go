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

// Package dcache defines the Engine trait implemented by every
// compilation cache backend (an object-store-backed implementation
// and a null/no-op implementation), and a small registry that maps a
// configuration-selected name to a constructor.
package dcache

import "errors"

// ErrMiss is returned by Engine.Get when key is not present.
var ErrMiss = errors.New("dcache: cache miss")

// Engine is the capability set every cache backend implements. Get is
// best-effort: callers treat any error, including ErrMiss, as a plain
// cache miss. Put is fire-and-forget and idempotent under retry.
type Engine interface {
	// Get fetches the bytes stored under key, or ErrMiss if absent.
	Get(key string) ([]byte, error)
	// Put stores bytes under key. Writes racing an eviction scan of
	// the same shard are acceptable: entries are content-addressed
	// and cheap to recompute on a spurious miss.
	Put(key string, value []byte) error
	// Keys enumerates currently retained keys. For backends with a
	// capacity bound, this may trigger (or complete) an eviction
	// scan that appends overflow entries to a pending-removal list.
	Keys() ([]string, error)
	// Purge drains any pending-removal list accumulated by Keys.
	Purge() error
	// DumpInternals reports counters for telemetry.
	DumpInternals() map[string]any
}
