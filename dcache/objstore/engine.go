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

package objstore

import (
	"fmt"
	"log"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/Tencent/yadcc-sub001/fingerprint"
)

// subDirs is the number of shard directories a key may land in:
// storage path = <root>/<hash(key) mod subDirs>/<key>.
const subDirs = 128

// Engine is the object-store-backed Cache Engine: a flat,
// content-addressed, capacity-bounded, LRU-evicting blob store
// sharded 128 ways.
type Engine struct {
	Client   *Client
	Capacity int64
	Logger   *log.Logger

	mu              sync.Mutex
	pendingRemoval  []string
	entryCount      int
	totalSizeBytes  int64
}

// New constructs an Engine backed by client, evicting once the
// accumulated size of retained entries exceeds capacity bytes.
func New(client *Client, capacity int64, logger *log.Logger) *Engine {
	return &Engine{Client: client, Capacity: capacity, Logger: logger}
}

func shardOf(key string) int {
	return fingerprint.Shard(key, subDirs)
}

func objectKey(shard int, key string) string {
	return strconv.Itoa(shard) + "/" + key
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Get fetches the object stored under key.
func (e *Engine) Get(key string) ([]byte, error) {
	v, err := e.Client.Get(objectKey(shardOf(key), key))
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Put stores value under key. A write racing an in-flight eviction
// scan of the same shard is tolerated: the entry is content-addressed
// and cheap to recompute on a spurious subsequent miss.
func (e *Engine) Put(key string, value []byte) error {
	return e.Client.Put(objectKey(shardOf(key), key), value)
}

// shardEntries lists one shard directory, with the Client already
// applying the 3-retry/100ms-backoff policy per page.
func (e *Engine) shardEntries(shard int) ([]ObjectEntry, error) {
	return e.Client.List(strconv.Itoa(shard) + "/")
}

// Keys fans out a List across all 128 shards in parallel, merges the
// results, sorts them descending by last-modified, and walks the
// merged list accumulating size until Capacity is exceeded; the
// remainder is appended to the guarded pending-removal list for a
// later Purge. It returns every currently retained key (including
// ones about to be evicted, since they are still present in the
// store until Purge runs).
func (e *Engine) Keys() ([]string, error) {
	type shardResult struct {
		entries []ObjectEntry
		err     error
	}
	results := make([]shardResult, subDirs)
	var wg sync.WaitGroup
	for i := 0; i < subDirs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries, err := e.shardEntries(i)
			results[i] = shardResult{entries: entries, err: err}
		}(i)
	}
	wg.Wait()

	var merged []ObjectEntry
	var failed int
	for _, r := range results {
		if r.err != nil {
			failed++
			continue
		}
		merged = append(merged, r.entries...)
	}
	if failed > 0 {
		e.logf("dcache/objstore: %d/%d shard listings failed, continuing with partial view", failed, subDirs)
	}

	slices.SortFunc(merged, func(a, b ObjectEntry) bool {
		return a.LastModified.After(b.LastModified)
	})

	keys := make([]string, len(merged))
	var size int64
	var toEvict []string
	for i, ent := range merged {
		keys[i] = keyFromObjectPath(ent.Key)
		size += ent.Size
		if size > e.Capacity {
			toEvict = append(toEvict, ent.Key)
		}
	}

	e.mu.Lock()
	e.pendingRemoval = append(e.pendingRemoval, toEvict...)
	e.entryCount = len(merged)
	e.totalSizeBytes = size
	e.mu.Unlock()

	if failed == subDirs {
		return nil, fmt.Errorf("dcache/objstore: all %d shard listings failed", subDirs)
	}
	return keys, nil
}

// keyFromObjectPath strips the "<shard>/" prefix List returns.
func keyFromObjectPath(objKey string) string {
	for i := 0; i < len(objKey); i++ {
		if objKey[i] == '/' {
			return objKey[i+1:]
		}
	}
	return objKey
}

// Purge drains the pending-removal list accumulated by prior Keys
// calls, issuing one delete-multiple-objects call per batch of up to
// 1000 keys.
func (e *Engine) Purge() error {
	e.mu.Lock()
	pending := e.pendingRemoval
	e.pendingRemoval = nil
	e.mu.Unlock()

	for len(pending) > 0 {
		n := maxDeleteBatch
		if n > len(pending) {
			n = len(pending)
		}
		batch := pending[:n]
		pending = pending[n:]
		if err := e.Client.DeleteMultiple(batch); err != nil {
			e.mu.Lock()
			e.pendingRemoval = append(e.pendingRemoval, pending...)
			e.mu.Unlock()
			return err
		}
	}
	return nil
}

// DumpInternals reports counters for telemetry.
func (e *Engine) DumpInternals() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"engine":               "cos",
		"entries":              e.entryCount,
		"total_size_in_bytes":  e.totalSizeBytes,
		"pending_removal_count": len(e.pendingRemoval),
		"capacity":             e.Capacity,
	}
}
