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

package hook

import (
	"errors"
	"io"
	"io/fs"

	"golang.org/x/sys/unix"

	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/rootfs"
)

// Names of the built-in syscall hooks.
const (
	SysRead  = "hook_sys_read"
	SysWrite = "hook_sys_write"
	SysOpen  = "hook_sys_open"
)

// Builtins lists the built-in syscall hooks in syscall table order.
var Builtins = []string{SysRead, SysWrite, SysOpen}

// maxPath is the longest path sys_open accepts, as PATH_MAX.
const maxPath = 4096

// maxIO bounds a single read or write.
const maxIO = 1 << 20

// errno returns the negated errno the kernel returns for err.
func errno(err error) uint64 {
	var e unix.Errno
	switch {
	case errors.As(err, &e):
	case errors.Is(err, rootfs.ErrBadFD):
		e = unix.EBADF
	case errors.Is(err, fs.ErrNotExist):
		e = unix.ENOENT
	case errors.Is(err, fs.ErrPermission):
		e = unix.EACCES
	default:
		e = unix.EIO
	}
	return uint64(-int64(e))
}

// RegisterSyscalls installs the built-in read, write and open handlers.
func RegisterSyscalls(r *Registry) {
	r.Register(SysRead, sysRead)
	r.Register(SysWrite, sysWrite)
	r.Register(SysOpen, sysOpen)
}

func args3(ctx *Context) (a0, a1, a2 uint64, err error) {
	if a0, err = ctx.Arg(0); err != nil {
		return
	}
	if a1, err = ctx.Arg(1); err != nil {
		return
	}
	a2, err = ctx.Arg(2)
	return
}

func sysRead(ctx *Context, e *Entry) error {
	fd, buf, count, err := args3(ctx)
	if err != nil {
		return err
	}
	f, err := ctx.Files.Get(rootfs.FD(fd))
	if err != nil {
		return ctx.Return(errno(err))
	}
	data := make([]byte, min(count, maxIO))
	n, err := f.File.Read(data)
	if err != nil && err != io.EOF {
		return ctx.Return(errno(err))
	}
	if err := ctx.Mem.Write(hostarch.Addr(buf), data[:n]); err != nil {
		return ctx.Return(errno(unix.EFAULT))
	}
	log.Debugf("%s(%d, %#x, %d) = %d", e.Name, fd, buf, count, n)
	return ctx.Return(uint64(n))
}

func sysWrite(ctx *Context, e *Entry) error {
	fd, buf, count, err := args3(ctx)
	if err != nil {
		return err
	}
	f, err := ctx.Files.Get(rootfs.FD(fd))
	if err != nil {
		return ctx.Return(errno(err))
	}
	data, err := ctx.Mem.Read(hostarch.Addr(buf), min(count, maxIO))
	if err != nil {
		return ctx.Return(errno(unix.EFAULT))
	}
	n, err := f.File.Write(data)
	if err != nil {
		return ctx.Return(errno(err))
	}
	log.Debugf("%s(%d, %#x, %d) = %d", e.Name, fd, buf, count, n)
	return ctx.Return(uint64(n))
}

func sysOpen(ctx *Context, e *Entry) error {
	pathAddr, flags, _, err := args3(ctx)
	if err != nil {
		return err
	}
	path, err := ctx.ReadCString(hostarch.Addr(pathAddr), maxPath)
	if err != nil {
		return ctx.Return(errno(unix.EFAULT))
	}
	fd, err := ctx.Files.Open(ctx.Root, path, int(flags))
	if err != nil {
		log.Debugf("%s(%q, %#x) failed: %v", e.Name, path, flags, err)
		return ctx.Return(errno(err))
	}
	log.Debugf("%s(%q, %#x) = %d", e.Name, path, flags, fd)
	return ctx.Return(uint64(fd))
}
