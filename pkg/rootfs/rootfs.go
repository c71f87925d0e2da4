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

// Package rootfs resolves guest paths under an emulated root directory and
// tracks the files a guest process has open.
package rootfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/spf13/afero"
)

// maxSymlinks bounds symlink resolution, matching Linux's MAXSYMLINKS.
const maxSymlinks = 40

// ErrTooManyLinks is returned when symlink resolution does not terminate.
var ErrTooManyLinks = errors.New("too many levels of symbolic links")

// FS is an emulated root filesystem.
type FS struct {
	root string
	fs   afero.Fs
}

// New returns an FS rooted at the host directory root.
func New(root string) *FS {
	return &FS{
		root: root,
		fs:   afero.NewBasePathFs(afero.NewOsFs(), root),
	}
}

// NewFromFs returns an FS backed by an existing afero filesystem, whose root
// is the guest root.
func NewFromFs(fsys afero.Fs) *FS {
	return &FS{root: "/", fs: fsys}
}

// Root returns the host directory of the emulated root.
func (r *FS) Root() string {
	return r.root
}

// Fs returns the underlying filesystem.
func (r *FS) Fs() afero.Fs {
	return r.fs
}

// Resolve cleans a guest path and follows symbolic links in its final
// component. Absolute link targets are interpreted relative to the emulated
// root, so resolution never leaves it.
func (r *FS) Resolve(p string) (string, error) {
	p = path.Clean("/" + p)
	lstater, canLstat := r.fs.(afero.Lstater)
	reader, canReadlink := r.fs.(afero.LinkReader)
	for i := 0; i <= maxSymlinks; i++ {
		var (
			fi  os.FileInfo
			err error
		)
		if canLstat {
			fi, _, err = lstater.LstatIfPossible(p)
		} else {
			fi, err = r.fs.Stat(p)
		}
		if err != nil {
			return "", &fs.PathError{Op: "resolve", Path: p, Err: unwrapPathError(err)}
		}
		if fi.Mode()&os.ModeSymlink == 0 || !canReadlink {
			return p, nil
		}
		target, err := reader.ReadlinkIfPossible(p)
		if err != nil {
			return "", &fs.PathError{Op: "readlink", Path: p, Err: unwrapPathError(err)}
		}
		if path.IsAbs(target) {
			p = path.Clean(target)
		} else {
			p = path.Join(path.Dir(p), target)
		}
	}
	return "", &fs.PathError{Op: "resolve", Path: p, Err: ErrTooManyLinks}
}

// ReadFile resolves p and returns its contents.
func (r *FS) ReadFile(p string) ([]byte, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, resolved)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", resolved, err)
	}
	return data, nil
}

// Open resolves p and opens it with the given os.O_* flags.
func (r *FS) Open(p string, flags int) (afero.File, error) {
	resolved, err := r.Resolve(p)
	if err != nil {
		if flags&os.O_CREATE == 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		resolved = path.Clean("/" + p)
	}
	return r.fs.OpenFile(resolved, flags, 0644)
}

// unwrapPathError strips the host path that BasePathFs may leak into errors.
func unwrapPathError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
