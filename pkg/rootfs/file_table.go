// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rootfs

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ErrBadFD is returned for a descriptor that is not open.
var ErrBadFD = errors.New("bad file descriptor")

// FD is a guest file descriptor.
type FD int32

// File is an open guest file.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// OpenFile is one entry of a FileTable.
type OpenFile struct {
	// Path is the guest path, or a name such as "<stdout>".
	Path string

	// Flags are the os.O_* flags the file was opened with.
	Flags int

	File File
}

// FileTable is the set of files open in a guest process. Descriptors are
// allocated lowest-first, as on Linux.
type FileTable struct {
	mu    sync.Mutex
	files map[FD]*OpenFile
}

// NewFileTable returns an empty table.
func NewFileTable() *FileTable {
	return &FileTable{files: make(map[FD]*OpenFile)}
}

// nopCloser keeps the host's standard streams open when the guest closes
// them.
type nopCloser struct {
	io.Reader
	io.Writer
}

func (nopCloser) Close() error { return nil }

// InstallStdio installs descriptors 0, 1 and 2. Closing them does not close
// the host streams.
func (t *FileTable) InstallStdio(stdin io.Reader, stdout, stderr io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[0] = &OpenFile{Path: "<stdin>", File: nopCloser{Reader: stdin, Writer: io.Discard}}
	t.files[1] = &OpenFile{Path: "<stdout>", File: nopCloser{Reader: eofReader{}, Writer: stdout}}
	t.files[2] = &OpenFile{Path: "<stderr>", File: nopCloser{Reader: eofReader{}, Writer: stderr}}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Install adds f at the lowest free descriptor.
func (t *FileTable) Install(path string, flags int, f File) FD {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := FD(0)
	for ; ; fd++ {
		if _, ok := t.files[fd]; !ok {
			break
		}
	}
	t.files[fd] = &OpenFile{Path: path, Flags: flags, File: f}
	return fd
}

// Open opens p under root and installs it.
func (t *FileTable) Open(root *FS, p string, flags int) (FD, error) {
	f, err := root.Open(p, flags)
	if err != nil {
		return -1, err
	}
	return t.Install(p, flags, f), nil
}

// Get returns the file at fd.
func (t *FileTable) Get(fd FD) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadFD)
	}
	return f, nil
}

// Close closes and removes fd.
func (t *FileTable) Close(fd FD) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	delete(t.files, fd)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("fd %d: %w", fd, ErrBadFD)
	}
	return f.File.Close()
}

// CloseAll closes every open descriptor.
func (t *FileTable) CloseAll() error {
	var errs []error
	for _, fd := range t.FDs() {
		if err := t.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FDs returns the open descriptors in ascending order.
func (t *FileTable) FDs() []FD {
	t.mu.Lock()
	defer t.mu.Unlock()
	fds := make([]FD, 0, len(t.files))
	for fd := range t.files {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}
