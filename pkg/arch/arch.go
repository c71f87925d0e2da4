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

// Package arch provides abstractions around architecture-dependent details
// of a guest image, such as word size, byte order and register naming.
package arch

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"strings"

	"emuload.dev/emuload/pkg/abi/linux"
	"emuload.dev/emuload/pkg/hostarch"
)

// Arch describes an architecture.
type Arch int

const (
	// X86 is the 32-bit x86 architecture.
	X86 Arch = iota
	// X8664 is the x86-64 architecture.
	X8664
	// ARM is the 32-bit arm architecture.
	ARM
	// ARM64 is the aarch64 architecture.
	ARM64
	// MIPS is the 32-bit mips architecture.
	MIPS
	// RISCV64 is the 64-bit risc-v architecture.
	RISCV64
)

var archNames = map[Arch]string{
	X86:     "x86",
	X8664:   "x8664",
	ARM:     "arm",
	ARM64:   "arm64",
	MIPS:    "mips",
	RISCV64: "riscv64",
}

// String implements fmt.Stringer.
func (a Arch) String() string {
	if name, ok := archNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Arch(%d)", a)
}

// ParseArch returns the Arch named by s. Common aliases such as "amd64" and
// "aarch64" are accepted.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86", "i386", "i686":
		return X86, nil
	case "x8664", "x86_64", "amd64":
		return X8664, nil
	case "arm":
		return ARM, nil
	case "arm64", "aarch64":
		return ARM64, nil
	case "mips":
		return MIPS, nil
	case "riscv64":
		return RISCV64, nil
	}
	return 0, fmt.Errorf("unknown architecture %q", s)
}

// FromELF returns the Arch for an ELF e_machine value.
func FromELF(m elf.Machine) (Arch, error) {
	switch m {
	case elf.EM_386:
		return X86, nil
	case elf.EM_X86_64:
		return X8664, nil
	case elf.EM_ARM:
		return ARM, nil
	case elf.EM_AARCH64:
		return ARM64, nil
	case elf.EM_MIPS:
		return MIPS, nil
	case elf.EM_RISCV:
		return RISCV64, nil
	}
	return 0, fmt.Errorf("unsupported machine %v", m)
}

// Layout holds the default guest addresses used when building a process
// image for one OS and word size.
type Layout struct {
	StackBase     hostarch.Addr
	StackSize     uint64
	LoadBase      hostarch.Addr
	InterpBase    hostarch.Addr
	MmapBase      hostarch.Addr
	VsyscallBase  hostarch.Addr
	VsyscallSize  uint64
	ShellcodeBase hostarch.Addr
	ShellcodeSize uint64
	UID           uint64
	GID           uint64
}

// StackTop returns the exclusive upper bound of the stack region.
func (l *Layout) StackTop() hostarch.Addr {
	return l.StackBase + hostarch.Addr(l.StackSize)
}

// Spec is the word size and byte order strategy for one guest image. It is
// selected once per load and consulted for every packed value.
type Spec struct {
	// Arch is the guest architecture.
	Arch Arch

	// Bits is the word size in bits, 32 or 64.
	Bits int

	// Order is the guest byte order.
	Order binary.ByteOrder

	// Layout is the default address layout for this image.
	Layout Layout
}

// New returns a Spec for the given architecture, word size and byte order.
func New(a Arch, bits int, order binary.ByteOrder) (*Spec, error) {
	if _, ok := archNames[a]; !ok {
		return nil, fmt.Errorf("unknown architecture %v", a)
	}
	if bits != 32 && bits != 64 {
		return nil, fmt.Errorf("unsupported word size %d", bits)
	}
	if order == nil {
		return nil, fmt.Errorf("nil byte order")
	}
	return &Spec{Arch: a, Bits: bits, Order: order}, nil
}

// FromHeader returns the Spec described by an ELF header's machine, class
// and data encoding.
func FromHeader(m elf.Machine, class elf.Class, data elf.Data) (*Spec, error) {
	a, err := FromELF(m)
	if err != nil {
		return nil, err
	}
	var bits int
	switch class {
	case elf.ELFCLASS32:
		bits = 32
	case elf.ELFCLASS64:
		bits = 64
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", class)
	}
	var order binary.ByteOrder
	switch data {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported ELF data encoding %v", data)
	}
	return New(a, bits, order)
}

// String implements fmt.Stringer.
func (s *Spec) String() string {
	return fmt.Sprintf("%v/%d/%v", s.Arch, s.Bits, s.Order)
}

// PointerSize returns the size of a guest word in bytes.
func (s *Spec) PointerSize() uint64 {
	return uint64(s.Bits / 8)
}

// AppendWord appends v to b as a guest word.
func (s *Spec) AppendWord(b []byte, v uint64) []byte {
	var buf [8]byte
	if s.Bits == 64 {
		s.Order.PutUint64(buf[:], v)
		return append(b, buf[:8]...)
	}
	s.Order.PutUint32(buf[:], uint32(v))
	return append(b, buf[:4]...)
}

// Pack returns v encoded as a guest word.
func (s *Spec) Pack(v uint64) []byte {
	return s.AppendWord(make([]byte, 0, s.PointerSize()), v)
}

// Unpack decodes a guest word from the start of b.
func (s *Spec) Unpack(b []byte) uint64 {
	if s.Bits == 64 {
		return s.Order.Uint64(b)
	}
	return uint64(s.Order.Uint32(b))
}

// AlignDown rounds addr down to a word boundary.
func (s *Spec) AlignDown(addr hostarch.Addr) hostarch.Addr {
	return hostarch.AlignDown(addr, hostarch.Addr(s.PointerSize()))
}

// AlignUp rounds addr up to a word boundary.
func (s *Spec) AlignUp(addr hostarch.Addr) hostarch.Addr {
	return hostarch.AlignUp(addr, hostarch.Addr(s.PointerSize()))
}

// HWCap returns the value reported in AT_HWCAP.
func (s *Spec) HWCap() uint64 {
	switch {
	case s.Bits == 64:
		return 0x078bfbfd
	case s.Order == binary.BigEndian:
		return 0xd7b81f
	default:
		return 0x1fb8d7
	}
}

// Platform returns the string referenced by AT_PLATFORM.
func (s *Spec) Platform() string {
	switch s.Arch {
	case X86:
		return "i686"
	case X8664:
		return "x86_64"
	case ARM:
		return "v7l"
	case ARM64:
		return "aarch64"
	case MIPS:
		return "mips"
	case RISCV64:
		return "riscv64"
	}
	return ""
}

// Syscalls returns the Linux syscall table for the architecture, or nil if
// there is none.
func (s *Spec) Syscalls() linux.SyscallTable {
	switch s.Arch {
	case X86:
		return linux.I386Syscalls
	case X8664:
		return linux.AMD64Syscalls
	}
	return nil
}
