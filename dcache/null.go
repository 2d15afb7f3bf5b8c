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

package dcache

// NullEngine is the cache Engine selected when only an in-memory L1
// (or no caching at all) is desired: every Get misses, and Put/Purge
// are no-ops.
type NullEngine struct{}

// NewNull constructs a NullEngine.
func NewNull() *NullEngine { return &NullEngine{} }

func (*NullEngine) Get(key string) ([]byte, error) { return nil, ErrMiss }

func (*NullEngine) Put(key string, value []byte) error { return nil }

func (*NullEngine) Keys() ([]string, error) { return nil, nil }

func (*NullEngine) Purge() error { return nil }

func (*NullEngine) DumpInternals() map[string]any {
	return map[string]any{"engine": "null"}
}
