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
	"fmt"

	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/memory"
	"emuload.dev/emuload/pkg/rootfs"
)

// Context is the guest state available to a handler.
type Context struct {
	Spec  *arch.Spec
	Regs  arch.Registers
	Mem   memory.AddressSpace
	Root  *rootfs.FS
	Files *rootfs.FileTable
}

// Arg returns the i'th integer argument, for i < 3.
func (c *Context) Arg(i int) (uint64, error) {
	names := [...]string{arch.RegArg0, arch.RegArg1, arch.RegArg2}
	if i < 0 || i >= len(names) {
		return 0, fmt.Errorf("argument %d out of range", i)
	}
	return c.Regs.Register(names[i])
}

// linkRegisters names the register holding the return address on
// architectures whose calls do not push it.
var linkRegisters = map[arch.Arch]string{
	arch.ARM:     "lr",
	arch.ARM64:   "x30",
	arch.MIPS:    "ra",
	arch.RISCV64: "ra",
}

// Return sets the return value and returns from the hooked call.
func (c *Context) Return(value uint64) error {
	if c.Spec.Bits == 32 {
		value = uint64(uint32(value))
	}
	if err := c.Regs.SetRegister(arch.RegRet, value); err != nil {
		return err
	}
	if lr, ok := linkRegisters[c.Spec.Arch]; ok {
		ra, err := c.Regs.Register(lr)
		if err != nil {
			return err
		}
		return c.Regs.SetRegister(arch.RegPC, ra)
	}

	// x86 pops the return address.
	sp, err := c.Regs.Register(arch.RegSP)
	if err != nil {
		return err
	}
	b, err := c.Mem.Read(hostarch.Addr(sp), c.Spec.PointerSize())
	if err != nil {
		return err
	}
	if err := c.Regs.SetRegister(arch.RegPC, c.Spec.Unpack(b)); err != nil {
		return err
	}
	return c.Regs.SetRegister(arch.RegSP, sp+c.Spec.PointerSize())
}

// ReadCString reads a NUL-terminated string of at most limit bytes.
func (c *Context) ReadCString(addr hostarch.Addr, limit int) (string, error) {
	return memory.ReadCString(c.Mem, addr, limit)
}
