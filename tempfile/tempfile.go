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

// Package tempfile provides scoped scratch files for capturing
// a task's standard output and standard error. Each File is
// unlinked exactly once, by the first call to Close.
package tempfile

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// File is a temporary file rooted under some directory. Callers
// use it through the fd-backed Write/ReadAll, or hand its path
// (GetPath) to another process.
type File struct {
	f    *os.File
	path string

	once sync.Once
	err  error
}

// New creates a new, empty temporary file under dir with the
// given prefix (e.g. "stdout-" or "stderr-"). The file is not
// unlinked until Close, so the path returned by GetPath stays
// valid until then.
func New(dir, prefix string) (*File, error) {
	path := filepath.Join(dir, prefix+uuid.New().String())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	return &File{f: f, path: path}, nil
}

// Fd returns the underlying file descriptor, suitable for use as
// an exec.Cmd.Stdout/Stderr target.
func (t *File) Fd() *os.File { return t.f }

// GetPath returns the absolute path to the temporary file.
func (t *File) GetPath() string { return t.path }

// Write appends buf to the file.
func (t *File) Write(buf []byte) (int, error) {
	return t.f.Write(buf)
}

// ReadAll rewinds the file and returns its entire contents.
func (t *File) ReadAll() ([]byte, error) {
	if _, err := t.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(t.f)
}

// Size reports the current size of the file in bytes.
func (t *File) Size() (int64, error) {
	fi, err := t.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Close closes the file descriptor and unlinks the backing file.
// It is safe to call Close more than once; only the first call
// has any effect.
func (t *File) Close() error {
	t.once.Do(func() {
		t.err = t.f.Close()
		if rmErr := os.Remove(t.path); rmErr != nil && t.err == nil {
			t.err = rmErr
		}
	})
	return t.err
}
