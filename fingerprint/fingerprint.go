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

// Package fingerprint computes the cache key used to identify a
// reusable compilation artifact: a keyed hash of the environment
// descriptor, the invocation arguments, and the source digest.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/dchest/siphash"
	"golang.org/x/crypto/blake2b"
)

// fingerprintKey is a fixed application key for the siphash
// fingerprint. It need not be secret: the fingerprint is a cache
// key, not a credential, so the only property we need from
// siphash here is a fast, well-distributed 64-bit hash.
var fingerprintKey = [16]byte{
	'y', 'a', 'd', 'c', 'c', '-', 's', 'u',
	'b', '0', '0', '1', '-', 'f', 'p', 0,
}

// SourceDigest returns a hex-encoded digest of source content.
// BLAKE2b-256 is used in place of the faster BLAKE3 the original
// implementation calls for: no BLAKE3 package is available
// anywhere in the dependency set this servant was built against,
// and BLAKE2b is the closest primitive already carried by the
// underlying crypto dependency.
func SourceDigest(source []byte) string {
	sum := blake2b.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Of computes the compilation fingerprint: a keyed hash of the
// environment descriptor, the invocation arguments in the order
// given, and the source digest (as returned by SourceDigest). The
// result is a 16-character hex string suitable for use as both a cache key and
// a shard-selection input.
func Of(env string, args []string, sourceDigest string) string {
	h := siphash.New(fingerprintKey[:])
	write := func(s string) {
		var lenbuf [8]byte
		binary.LittleEndian.PutUint64(lenbuf[:], uint64(len(s)))
		h.Write(lenbuf[:])
		h.Write([]byte(s))
	}
	write(env)
	for _, a := range args {
		write(a)
	}
	write(sourceDigest)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// Shard returns the object-store shard index (0..n-1) that a
// fingerprint's cache entry belongs to. n must match the shard
// count the cache engine was configured with.
func Shard(key string, n int) int {
	sum := siphash.Hash(0, 0, []byte(key))
	return int(sum % uint64(n))
}
