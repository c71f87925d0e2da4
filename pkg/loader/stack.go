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
	"fmt"
	"sort"
	"strings"

	"emuload.dev/emuload/pkg/abi/linux"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/memory"
	"emuload.dev/emuload/pkg/proc"
)

const (
	// randomBytes is the AT_RANDOM seed. It is fixed so that loads are
	// reproducible.
	randomBytes = "aaaaaaaaaaaaaaaa"

	// maxStackString bounds strings read back from a stack.
	maxStackString = 1 << 16
)

// stack writes the initial process stack downwards from its top.
type stack struct {
	mem    memory.AddressSpace
	spec   *arch.Spec
	sp     hostarch.Addr
	bottom hostarch.Addr
}

// push copies data below the current stack pointer and returns its address.
func (s *stack) push(data []byte) (hostarch.Addr, error) {
	if uint64(s.sp-s.bottom) < uint64(len(data)) {
		return 0, fmt.Errorf("initial stack overflows its region at %v", s.bottom)
	}
	s.sp -= hostarch.Addr(len(data))
	if err := s.mem.Write(s.sp, data); err != nil {
		return 0, err
	}
	return s.sp, nil
}

// pushString copies a NUL-terminated string.
func (s *stack) pushString(str string) (hostarch.Addr, error) {
	return s.push(append([]byte(str), 0))
}

// pushStrings copies each string in order, so the first one ends highest.
func (s *stack) pushStrings(strs []string) ([]hostarch.Addr, error) {
	addrs := make([]hostarch.Addr, 0, len(strs))
	for _, str := range strs {
		addr, err := s.pushString(str)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (s *stack) align() {
	s.sp = s.spec.AlignDown(s.sp)
}

// envStrings returns the environment as "KEY=VALUE" strings ordered by key.
func envStrings(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	strs := make([]string, 0, len(keys))
	for _, k := range keys {
		strs = append(strs, k+"="+env[k])
	}
	return strs
}

// auxvInfo holds the image addresses reported in the auxiliary vector.
type auxvInfo struct {
	phdr   hostarch.Addr
	phent  uint64
	phnum  uint64
	base   hostarch.Addr
	entry  hostarch.Addr
	random hostarch.Addr
	plat   hostarch.Addr
}

// newAuxvInfo collects the auxiliary vector inputs of a mapped main image.
func newAuxvInfo(img *elfimage.Image, imageStart, interpBase, entry hostarch.Addr) auxvInfo {
	return auxvInfo{
		phdr:  imageStart + hostarch.Addr(img.Header.PhOff),
		phent: uint64(img.Header.PhEntSize),
		phnum: uint64(img.Header.PhNum),
		base:  interpBase,
		entry: entry,
	}
}

// buildAuxv returns the auxiliary vector in the order Linux writes it.
func buildAuxv(p *proc.Process, info auxvInfo) (Auxv, error) {
	l := &p.Spec.Layout
	entries := []AuxEntry{
		{linux.AT_PHDR, uint64(info.phdr)},
		{linux.AT_PHENT, info.phent},
		{linux.AT_PHNUM, info.phnum},
		{linux.AT_PAGESZ, linux.PageSize},
		{linux.AT_BASE, uint64(info.base)},
		{linux.AT_FLAGS, 0},
		{linux.AT_ENTRY, uint64(info.entry)},
		{linux.AT_UID, l.UID},
		{linux.AT_EUID, l.UID},
		{linux.AT_GID, l.GID},
		{linux.AT_EGID, l.GID},
		{linux.AT_HWCAP, p.Spec.HWCap()},
		{linux.AT_CLKTCK, linux.ClockTicks},
		{linux.AT_RANDOM, uint64(info.random)},
		{linux.AT_PLATFORM, uint64(info.plat)},
		{linux.AT_SECURE, 0},
	}
	var a Auxv
	for _, e := range entries {
		if err := a.Add(e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// writeStack writes the strings, the argument and environment tables and
// the auxiliary vector below top, and returns the 16-byte aligned initial
// stack pointer and the vector written.
//
// From the top down the stack holds the argument strings, the environment
// strings, the NUL-terminated AT_RANDOM bytes and the platform string. Below them, at the
// stack pointer, are argc, the argv pointers, a NULL word, the envp
// pointers, a NULL word, the auxiliary vector and zero padding up to the
// strings.
func writeStack(p *proc.Process, top hostarch.Addr, args Args, info auxvInfo) (hostarch.Addr, Auxv, error) {
	spec := p.Spec
	s := &stack{mem: p.Mem, spec: spec, sp: top, bottom: spec.Layout.StackBase}

	argv, err := s.pushStrings(args.Argv)
	if err != nil {
		return 0, nil, err
	}
	envv, err := s.pushStrings(envStrings(args.Env))
	if err != nil {
		return 0, nil, err
	}
	s.align()
	if info.random, err = s.pushString(randomBytes); err != nil {
		return 0, nil, err
	}
	if info.plat, err = s.pushString(spec.Platform()); err != nil {
		return 0, nil, err
	}
	s.align()

	auxv, err := buildAuxv(p, info)
	if err != nil {
		return 0, nil, err
	}
	table := spec.AppendWord(nil, uint64(len(argv)))
	for _, a := range argv {
		table = spec.AppendWord(table, uint64(a))
	}
	table = spec.AppendWord(table, 0)
	for _, e := range envv {
		table = spec.AppendWord(table, uint64(e))
	}
	table = spec.AppendWord(table, 0)
	table = auxv.Encode(spec, table)

	// Pad at the high end so that the table starts 16-byte aligned.
	pad := uint64(s.sp-hostarch.Addr(len(table))) & 15
	table = append(table, make([]byte, pad)...)
	sp, err := s.push(table)
	if err != nil {
		return 0, nil, err
	}
	return sp, auxv, nil
}

// Stack is the decoded initial stack of a process.
type Stack struct {
	Argc uint64
	Argv []string
	Env  []string
	Auxv Auxv

	// Platform is the string AT_PLATFORM points to.
	Platform string

	// Random is the 16 bytes AT_RANDOM points to.
	Random []byte
}

// ReadStack decodes the initial stack at sp.
func ReadStack(mem memory.AddressSpace, spec *arch.Spec, sp hostarch.Addr) (*Stack, error) {
	w := spec.PointerSize()
	cur := sp
	word := func() (uint64, error) {
		b, err := mem.Read(cur, w)
		if err != nil {
			return 0, err
		}
		cur += hostarch.Addr(w)
		return spec.Unpack(b), nil
	}
	strs := func() ([]string, error) {
		var out []string
		for {
			ptr, err := word()
			if err != nil {
				return nil, err
			}
			if ptr == 0 {
				return out, nil
			}
			str, err := memory.ReadCString(mem, hostarch.Addr(ptr), maxStackString)
			if err != nil {
				return nil, err
			}
			out = append(out, str)
		}
	}

	st := &Stack{}
	var err error
	if st.Argc, err = word(); err != nil {
		return nil, err
	}
	if st.Argv, err = strs(); err != nil {
		return nil, err
	}
	if uint64(len(st.Argv)) != st.Argc {
		return nil, fmt.Errorf("argc %d but %d argv pointers", st.Argc, len(st.Argv))
	}
	if st.Env, err = strs(); err != nil {
		return nil, err
	}

	// The vector has at most one entry per key; bound the read by the
	// largest key Linux defines.
	const maxEntries = linux.AT_SYSINFO_EHDR + 1
	n := min(uint64(2*w*maxEntries), uint64(spec.Layout.StackTop()-cur))
	b, err := mem.Read(cur, n)
	if err != nil {
		return nil, err
	}
	if st.Auxv, _, err = DecodeAuxv(spec, b); err != nil {
		return nil, err
	}
	if plat, ok := st.Auxv.Lookup(linux.AT_PLATFORM); ok {
		if st.Platform, err = memory.ReadCString(mem, hostarch.Addr(plat), maxStackString); err != nil {
			return nil, err
		}
	}
	if rnd, ok := st.Auxv.Lookup(linux.AT_RANDOM); ok {
		if st.Random, err = mem.Read(hostarch.Addr(rnd), uint64(len(randomBytes))); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// String renders the stack for diagnostics.
func (st *Stack) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "argc %d\n", st.Argc)
	for i, a := range st.Argv {
		fmt.Fprintf(&b, "argv[%d] %q\n", i, a)
	}
	for i, e := range st.Env {
		fmt.Fprintf(&b, "envp[%d] %q\n", i, e)
	}
	for _, e := range st.Auxv {
		fmt.Fprintf(&b, "%-12s %#x\n", linux.AuxvName(e.Key), e.Value)
	}
	return b.String()
}
