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

import "testing"

func TestObjectKeyFromObjectPath(t *testing.T) {
	cases := map[string]string{
		"42/abcdef": "abcdef",
		"0/a/b/c":   "a/b/c",
		"noslash":   "noslash",
	}
	for in, want := range cases {
		if got := keyFromObjectPath(in); got != want {
			t.Errorf("keyFromObjectPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObjectKeyRoundTrips(t *testing.T) {
	key := objectKey(7, "some/cache/key")
	if got := keyFromObjectPath(key); got != "some/cache/key" {
		t.Errorf("got %q, want %q", got, "some/cache/key")
	}
}

func TestShardOfIsStableAndInRange(t *testing.T) {
	for _, k := range []string{"", "a", "the quick brown fox"} {
		s := shardOf(k)
		if s < 0 || s >= subDirs {
			t.Fatalf("shardOf(%q) = %d out of range", k, s)
		}
		if s2 := shardOf(k); s2 != s {
			t.Fatalf("shardOf(%q) not stable: %d vs %d", k, s, s2)
		}
	}
}

func TestPurgeNoPendingIsNoop(t *testing.T) {
	e := New(&Client{}, 1<<20, nil)
	if err := e.Purge(); err != nil {
		t.Fatalf("Purge with nothing pending: %v", err)
	}
}

func TestDumpInternalsInitialState(t *testing.T) {
	e := New(&Client{}, 500, nil)
	dump := e.DumpInternals()
	if dump["engine"] != "cos" {
		t.Fatalf("got engine %v, want cos", dump["engine"])
	}
	if dump["capacity"] != int64(500) {
		t.Fatalf("got capacity %v, want 500", dump["capacity"])
	}
}
