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

package kmod

import (
	"strings"

	"emuload.dev/emuload/pkg/hook"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
)

const (
	// syscallPrefix marks symbols that implement or stand in for a
	// syscall.
	syscallPrefix = "sys_"

	// syscallTableSymbol is the table itself, not an entry.
	syscallTableSymbol = "sys_call_table"
)

// buildSyscallTable maps the syscall table page and fills it.
//
// Every resolved symbol named sys_<name>, in resolution order, is written
// at the entry of the syscall <name>. Then the built-in read, write and open
// handlers get hook slots after the last allocated one and are written to
// their entries if no symbol filled them.
func (l *linker) buildSyscallTable(size uint64) error {
	base := l.mod.SyscallTable
	if err := l.mem.Map(base, size, hostarch.ReadWrite, syscallTableLabel); err != nil {
		return err
	}
	numbers := l.spec.Syscalls()
	ptr := l.spec.PointerSize()
	filled := make(map[uint64]bool)
	write := func(nr uint64, name string, addr hostarch.Addr) error {
		off := nr * ptr
		if off+ptr > size {
			log.Debugf("%s: syscall %d of %s is outside the table", l.img.Path, nr, name)
			return nil
		}
		if err := l.mem.Write(base+hostarch.Addr(off), l.spec.Pack(uint64(addr))); err != nil {
			return err
		}
		filled[nr] = true
		l.mod.Syscalls = append(l.mod.Syscalls, SyscallEntry{Number: nr, Name: name, Addr: addr})
		return nil
	}

	tbl := l.mod.Symbols
	for _, name := range tbl.Names() {
		if name == syscallTableSymbol || !strings.HasPrefix(name, syscallPrefix) {
			continue
		}
		nr, ok := numbers.Lookup(strings.TrimPrefix(name, syscallPrefix))
		if !ok {
			log.Debugf("%s: no syscall number for %s", l.img.Path, name)
			continue
		}
		addr, _ := tbl.Resolve(name)
		if err := write(nr, name, addr); err != nil {
			return err
		}
	}

	for i, name := range hook.Builtins {
		addr, err := l.allocSlot(name, true)
		if err != nil {
			return err
		}
		nr, ok := numbers.Lookup(strings.TrimPrefix(name, "hook_"+syscallPrefix))
		if !ok {
			nr = uint64(i)
		}
		if filled[nr] {
			continue
		}
		if err := write(nr, name, addr); err != nil {
			return err
		}
	}
	return nil
}
