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

package multichunk

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := [][]byte{[]byte("hello"), []byte(""), []byte("world!!")}
	framed := Make(in)
	out, ok := TryParse(framed)
	if !ok {
		t.Fatal("expected successful parse")
	}
	if len(out) != len(in) {
		t.Fatalf("got %d parts, want %d", len(out), len(in))
	}
	for i := range in {
		if !bytes.Equal(out[i], in[i]) {
			t.Fatalf("part %d: got %q, want %q", i, out[i], in[i])
		}
	}
}

func TestEmptyInput(t *testing.T) {
	out, ok := TryParse(nil)
	if !ok || out != nil {
		t.Fatalf("expected (nil, true) for empty input, got (%v, %v)", out, ok)
	}
	if Make(nil) != nil {
		t.Fatal("expected Make(nil) to produce an empty frame")
	}
}

func TestMissingTerminator(t *testing.T) {
	if _, ok := TryParse([]byte("5,6")); ok {
		t.Fatal("expected failure for missing \\r\\n terminator")
	}
}

func TestNonNumericLength(t *testing.T) {
	if _, ok := TryParse([]byte("5,abc\r\nhelloworld")); ok {
		t.Fatal("expected failure for non-numeric length")
	}
}

func TestSizeMismatch(t *testing.T) {
	if _, ok := TryParse([]byte("5,5\r\nhello")); ok {
		t.Fatal("expected failure when declared size exceeds available bytes")
	}
	if _, ok := TryParse([]byte("3\r\nhello")); ok {
		t.Fatal("expected failure when declared size is less than available bytes")
	}
}

func TestSingleChunk(t *testing.T) {
	framed := Make([][]byte{[]byte("solo")})
	out, ok := TryParse(framed)
	if !ok || len(out) != 1 || string(out[0]) != "solo" {
		t.Fatalf("got %v, %v", out, ok)
	}
}
