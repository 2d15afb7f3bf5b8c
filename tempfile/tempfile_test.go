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

package tempfile

import (
	"bytes"
	"os"
	"testing"
)

func TestWriteReadAll(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, "stdout-")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	want := []byte("hello, world\n")
	if _, err := f.Write(want); err != nil {
		t.Fatal(err)
	}
	got, err := f.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCloseUnlinksOnce(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, "stderr-")
	if err != nil {
		t.Fatal(err)
	}
	path := f.GetPath()
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be unlinked, stat err = %v", err)
	}
	// second Close must not error or panic
	if err := f.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, "out-")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("abcde")); err != nil {
		t.Fatal(err)
	}
	n, err := f.Size()
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("got size %d, want 5", n)
	}
}
