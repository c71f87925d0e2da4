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

package loader

import (
	"bytes"
	"encoding/binary"

	"emuload.dev/emuload/pkg/abi/linux"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/memory"
)

const (
	vsyscallLabel = "[vsyscall]"

	// vsyscallStride separates the entry points of the vsyscall page.
	vsyscallStride = 0x400

	// int3 fills the unused parts of the vsyscall page.
	int3 = 0xcc
)

// vsyscallEntries are the syscalls behind the legacy vsyscall entry points,
// in page order.
var vsyscallEntries = []uint32{
	linux.SYS_GETTIMEOFDAY_AMD64,
	linux.SYS_TIME_AMD64,
	linux.SYS_GETCPU_AMD64,
}

// vsyscallTrampoline returns "mov rax, nr; syscall; ret".
func vsyscallTrampoline(nr uint32) []byte {
	b := []byte{0x48, 0xc7, 0xc0}
	b = binary.LittleEndian.AppendUint32(b, nr)
	return append(b, 0x0f, 0x05, 0xc3)
}

// mapVsyscall maps the x86-64 vsyscall page unless something already
// occupies it.
func mapVsyscall(mem memory.AddressSpace, l *arch.Layout) error {
	if l.VsyscallSize == 0 || mem.IsMapped(l.VsyscallBase, l.VsyscallSize) {
		return nil
	}
	if err := mem.Map(l.VsyscallBase, l.VsyscallSize, hostarch.ReadExecute, vsyscallLabel); err != nil {
		return err
	}
	if err := mem.Write(l.VsyscallBase, bytes.Repeat([]byte{int3}, int(l.VsyscallSize))); err != nil {
		return err
	}
	for i, nr := range vsyscallEntries {
		addr := l.VsyscallBase + hostarch.Addr(i*vsyscallStride)
		if err := mem.Write(addr, vsyscallTrampoline(nr)); err != nil {
			return err
		}
	}
	log.Debugf("vsyscall page at %v", l.VsyscallBase)
	return nil
}
