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
	"runtime"

	"github.com/klauspost/compress/zstd"
)

// zstdDecoder is shared across requests; the library's own decoder
// is safe for concurrent DecodeAll calls. Concurrency is pinned to
// GOMAXPROCS rather than the library default of min(4, GOMAXPROCS).
var zstdDecoder *zstd.Decoder

func init() {
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = d
}

// decompressZstd decompresses src, which must be mandatory Zstd per
// the RPC contract.
func decompressZstd(src []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, nil)
}

// compressZstd compresses src for a response attachment. A fresh
// single-use encoder is cheaper here than sharing one across
// goroutines would be worth synchronizing for: artifacts are
// typically small object files, not the hot path.
func compressZstd(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}
