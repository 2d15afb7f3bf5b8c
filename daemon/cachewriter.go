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
	"encoding/binary"
	"log"

	"github.com/Tencent/yadcc-sub001/dcache"
	"github.com/Tencent/yadcc-sub001/multichunk"
)

// CacheWriter is the process-wide fire-and-forget sink for finished
// compile jobs: it packs exit code, stdout, stderr, and the
// compressed object-file bytes into one multichunk-framed blob
// (reusing the same codec the local control socket uses, rather than
// inventing a second wire format for one struct) and asynchronously
// writes it under the job's fingerprint. Failure is logged and
// swallowed — the compile already succeeded from the caller's
// perspective regardless of whether the cache got populated.
type CacheWriter struct {
	Engine dcache.Engine
	Logger *log.Logger
}

func (c *CacheWriter) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// AsyncWrite fires off a goroutine that stores (exitCode, stdout,
// stderr, compressedArtifact) under key. Duplicate writes for the
// same key (e.g. an RPC-level retry recompressing the same artifact)
// are tolerated: the underlying engine's Put is idempotent.
func (c *CacheWriter) AsyncWrite(key string, exitCode int, stdout, stderr, compressedArtifact []byte) {
	var exitCodeBuf [4]byte
	binary.LittleEndian.PutUint32(exitCodeBuf[:], uint32(int32(exitCode)))
	payload := multichunk.Make([][]byte{exitCodeBuf[:], stdout, stderr, compressedArtifact})

	go func() {
		if err := c.Engine.Put(key, payload); err != nil {
			c.logf("daemon: cache write for %s failed: %v", key, err)
		}
	}()
}

// CacheEntry is a PutEntry payload decoded back into its parts, as
// the reader side of the distributed cache would see it. It is not
// used by the servant itself (which only ever writes), but documents
// the wire shape AsyncWrite produces.
type CacheEntry struct {
	ExitCode int32
	Stdout   []byte
	Stderr   []byte
	Artifact []byte
}

// DecodeCacheEntry is the inverse of AsyncWrite's packing, provided
// for tests and for any future reader-side component.
func DecodeCacheEntry(payload []byte) (CacheEntry, bool) {
	parts, ok := multichunk.TryParse(payload)
	if !ok || len(parts) != 4 || len(parts[0]) != 4 {
		return CacheEntry{}, false
	}
	return CacheEntry{
		ExitCode: int32(binary.LittleEndian.Uint32(parts[0])),
		Stdout:   parts[1],
		Stderr:   parts[2],
		Artifact: parts[3],
	}, true
}
