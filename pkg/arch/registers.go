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

package arch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Architecture-neutral register names understood by every RegisterFile.
const (
	// RegSP is the stack pointer.
	RegSP = "sp"

	// RegBP is the frame (base) pointer.
	RegBP = "bp"

	// RegPC is the program counter.
	RegPC = "pc"

	// RegArg0 is the register carrying the first function argument.
	RegArg0 = "arg0"

	// RegArg1 is the register carrying the second function argument.
	RegArg1 = "arg1"

	// RegArg2 is the register carrying the third function argument.
	RegArg2 = "arg2"

	// RegRet is the register carrying a function's return value.
	RegRet = "ret"
)

// ErrUnknownRegister is returned for a register name the architecture does not
// define.
var ErrUnknownRegister = errors.New("unknown register")

// Registers is the register file of an emulated CPU.
type Registers interface {
	// Register returns the value of the named register.
	Register(name string) (uint64, error)

	// SetRegister sets the named register.
	SetRegister(name string, value uint64) error
}

type registerNames struct {
	aliases map[string]string
	names   []string
}

var registerSets = map[Arch]registerNames{
	X86: {
		aliases: map[string]string{RegSP: "esp", RegBP: "ebp", RegPC: "eip", RegArg0: "eax", RegArg1: "edx", RegArg2: "ecx", RegRet: "eax"},
		names:   []string{"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp", "eip", "eflags"},
	},
	X8664: {
		aliases: map[string]string{RegSP: "rsp", RegBP: "rbp", RegPC: "rip", RegArg0: "rdi", RegArg1: "rsi", RegArg2: "rdx", RegRet: "rax"},
		names: []string{
			"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
			"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
			"rip", "rflags", "fs_base", "gs_base",
		},
	},
	ARM: {
		aliases: map[string]string{RegSP: "sp", RegBP: "r11", RegPC: "pc", RegArg0: "r0", RegArg1: "r1", RegArg2: "r2", RegRet: "r0"},
		names: []string{
			"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
			"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc", "cpsr",
		},
	},
	ARM64: {
		aliases: map[string]string{RegSP: "sp", RegBP: "x29", RegPC: "pc", RegArg0: "x0", RegArg1: "x1", RegArg2: "x2", RegRet: "x0"},
		names: func() []string {
			n := make([]string, 0, 34)
			for i := 0; i <= 30; i++ {
				n = append(n, fmt.Sprintf("x%d", i))
			}
			return append(n, "sp", "pc", "pstate")
		}(),
	},
	MIPS: {
		aliases: map[string]string{RegSP: "sp", RegBP: "fp", RegPC: "pc", RegArg0: "a0", RegArg1: "a1", RegArg2: "a2", RegRet: "v0"},
		names: []string{
			"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
			"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
			"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
			"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra", "pc",
		},
	},
	RISCV64: {
		aliases: map[string]string{RegSP: "sp", RegBP: "s0", RegPC: "pc", RegArg0: "a0", RegArg1: "a1", RegArg2: "a2", RegRet: "a0"},
		names: []string{
			"ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
			"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
			"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
			"t3", "t4", "t5", "t6", "pc",
		},
	},
}

// RegisterFile is a Registers backed by a plain map, used until the
// emulator takes over the CPU state.
type RegisterFile struct {
	arch  Arch
	names registerNames
	regs  map[string]uint64
}

// NewRegisterFile returns a zeroed register file for a.
func NewRegisterFile(a Arch) *RegisterFile {
	return &RegisterFile{
		arch:  a,
		names: registerSets[a],
		regs:  make(map[string]uint64),
	}
}

// canonical resolves aliases and validates the name.
func (r *RegisterFile) canonical(name string) (string, error) {
	name = strings.ToLower(name)
	if canon, ok := r.names.aliases[name]; ok {
		return canon, nil
	}
	for _, n := range r.names.names {
		if n == name {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w %q on %v", ErrUnknownRegister, name, r.arch)
}

// Register implements Registers.Register.
func (r *RegisterFile) Register(name string) (uint64, error) {
	n, err := r.canonical(name)
	if err != nil {
		return 0, err
	}
	return r.regs[n], nil
}

// SetRegister implements Registers.SetRegister.
func (r *RegisterFile) SetRegister(name string, value uint64) error {
	n, err := r.canonical(name)
	if err != nil {
		return err
	}
	r.regs[n] = value
	return nil
}

// Map returns a copy of every register that has been set, keyed by its
// architectural name.
func (r *RegisterFile) Map() map[string]uint64 {
	m := make(map[string]uint64, len(r.regs))
	for k, v := range r.regs {
		m[k] = v
	}
	return m
}

// Names returns the architectural names of the set registers in sorted
// order.
func (r *RegisterFile) Names() []string {
	names := make([]string, 0, len(r.regs))
	for k := range r.regs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
