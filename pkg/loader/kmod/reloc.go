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
	"debug/elf"
	"fmt"

	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/memory"
)

// UnsupportedRelocationError is returned in strict mode for a relocation
// kind the linker does not implement.
type UnsupportedRelocationError struct {
	Path    string
	Machine elf.Machine
	Type    uint32
	Section string
	Offset  uint64
}

// Error implements error.Error.
func (e *UnsupportedRelocationError) Error() string {
	return fmt.Sprintf("%s: unsupported relocation %s in %s at %#x", e.Path, relocName(e.Machine, e.Type), e.Section, e.Offset)
}

// SkippedRelocation is a relocation left unpatched.
type SkippedRelocation struct {
	Section string `yaml:"section"`
	Offset  uint64 `yaml:"offset"`
	Type    string `yaml:"type"`
	Symbol  string `yaml:"symbol"`
}

func relocName(m elf.Machine, t uint32) string {
	switch m {
	case elf.EM_X86_64:
		return elf.R_X86_64(t).String()
	case elf.EM_386:
		return elf.R_386(t).String()
	default:
		return fmt.Sprintf("%v relocation %d", m, t)
	}
}

// linker resolves symbols and patches relocations of one module.
type linker struct {
	mem  memory.AddressSpace
	spec *arch.Spec
	img  *elfimage.Image
	mod  *Module
	opts Options

	// next is the next free hook slot; hookEnd bounds the window.
	next    hostarch.Addr
	hookEnd hostarch.Addr

	// abs64 is added to 64-bit absolute relocations.
	abs64 hostarch.Addr

	warn *log.RateLimited
}

// sectionAddr returns the address of the mapped contents of section i.
func (l *linker) sectionAddr(i int) (hostarch.Addr, *elfimage.Section, error) {
	sec, ok := l.img.Section(i)
	if !ok {
		return 0, nil, &elfimage.FormatError{Path: l.img.Path, Msg: fmt.Sprintf("section index %d out of range", i)}
	}
	return l.mod.Base + hostarch.Addr(sec.Offset), sec, nil
}

// symbolAddr returns the address of a symbol defined in the module.
func (l *linker) symbolAddr(s *elfimage.Symbol) (hostarch.Addr, error) {
	switch s.Section {
	case elf.SHN_ABS:
		return hostarch.Addr(s.Value), nil
	case elf.SHN_COMMON:
		return 0, &elfimage.FormatError{Path: l.img.Path, Msg: fmt.Sprintf("common symbol %q is not supported", s.Name)}
	}
	addr, _, err := l.sectionAddr(int(s.Section))
	if err != nil {
		return 0, err
	}
	return addr + hostarch.Addr(s.Value), nil
}

// allocSlot hands out the next pointer aligned hook slot.
func (l *linker) allocSlot(name string, builtin bool) (hostarch.Addr, error) {
	addr := l.spec.AlignUp(l.next)
	if addr+hostarch.Addr(l.spec.PointerSize()) > l.hookEnd {
		return 0, fmt.Errorf("%s: allocating slot for %q: %w", l.img.Path, name, ErrHookWindowExhausted)
	}
	if err := l.mod.Symbols.AddSlot(name, addr, builtin); err != nil {
		return 0, err
	}
	l.next = addr + hostarch.Addr(l.spec.PointerSize())
	return addr, nil
}

// resolve returns the address a relocation against symbol index idx refers
// to, allocating a hook slot for undefined symbols on first use.
func (l *linker) resolve(idx uint32) (string, hostarch.Addr, error) {
	if int(idx) >= len(l.img.Symbols) {
		return "", 0, &elfimage.FormatError{Path: l.img.Path, Msg: fmt.Sprintf("symbol index %d out of range", idx)}
	}
	sym := &l.img.Symbols[idx]
	tbl := l.mod.Symbols

	// Unnamed symbols, normally STT_SECTION, stand for the start of their
	// section and go by its name.
	if sym.Name == "" {
		addr, sec, err := l.sectionAddr(int(sym.Section))
		if err != nil {
			return "", 0, err
		}
		tbl.Define(sec.Name, addr)
		return sec.Name, addr, nil
	}

	if addr, ok := tbl.Resolve(sym.Name); ok {
		return sym.Name, addr, nil
	}
	// Duplicate names resolve to the first definition in the table.
	first, _ := l.img.LookupSymbol(sym.Name)
	if first.Undefined() {
		addr, err := l.allocSlot(sym.Name, false)
		if err != nil {
			return "", 0, err
		}
		if sym.Name == pageOffsetBase {
			if err := l.mem.Write(addr, l.spec.Pack(uint64(l.mod.SyscallTable))); err != nil {
				return "", 0, err
			}
		}
		log.Debugf("%s: %s -> hook slot %v", l.img.Path, sym.Name, addr)
		return sym.Name, addr, nil
	}
	addr, err := l.symbolAddr(first)
	if err != nil {
		return "", 0, err
	}
	tbl.Define(sym.Name, addr)
	return sym.Name, addr, nil
}

// relocate patches every relocation section in file order.
func (l *linker) relocate() error {
	for i := range l.img.Relocations {
		rs := &l.img.Relocations[i]
		if rs.Section.Name == thisModuleRelocs {
			continue
		}
		target, sec, err := l.sectionAddr(rs.Target)
		if err != nil {
			return err
		}
		for _, r := range rs.Relocs {
			if r.Sym == 0 {
				continue
			}
			name, s, err := l.resolve(r.Sym)
			if err != nil {
				return err
			}
			if err := l.apply(sec.Name, target, r, name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// apply patches one relocation against a symbol resolved to s.
func (l *linker) apply(section string, target hostarch.Addr, r elfimage.Relocation, name string, s hostarch.Addr) error {
	P := target + hostarch.Addr(r.Offset)
	S := uint64(s)
	machine := l.img.Header.Machine

	var (
		width int
		value uint64
	)
	switch {
	case machine == elf.EM_X86_64 && elf.R_X86_64(r.Type) == elf.R_X86_64_32S,
		machine == elf.EM_X86_64 && elf.R_X86_64(r.Type) == elf.R_X86_64_32:
		A, err := l.addend(r, P, 4)
		if err != nil {
			return err
		}
		width, value = 4, S+A
	case machine == elf.EM_X86_64 && elf.R_X86_64(r.Type) == elf.R_X86_64_64:
		A, err := l.addend(r, P, 8)
		if err != nil {
			return err
		}
		width, value = 8, (S-uint64(l.mod.Base))+A+uint64(l.abs64)
	case machine == elf.EM_X86_64 && elf.R_X86_64(r.Type) == elf.R_X86_64_PC32,
		machine == elf.EM_X86_64 && elf.R_X86_64(r.Type) == elf.R_X86_64_PLT32:
		A, err := l.addend(r, P, 4)
		if err != nil {
			return err
		}
		width, value = 4, S+A-uint64(P)
	case machine == elf.EM_386 && elf.R_386(r.Type) == elf.R_386_PC32:
		A, err := l.addend(r, P, 4)
		if err != nil {
			return err
		}
		width, value = 4, S+A-uint64(P)
	case machine == elf.EM_386 && elf.R_386(r.Type) == elf.R_386_32:
		A, err := l.addend(r, P, 4)
		if err != nil {
			return err
		}
		width, value = 4, S+A
	default:
		if l.opts.Strict {
			return &UnsupportedRelocationError{Path: l.img.Path, Machine: machine, Type: r.Type, Section: section, Offset: r.Offset}
		}
		kind := relocName(machine, r.Type)
		l.warn.Warningf("%s: skipping unsupported relocation %s against %q in %s at %#x", l.img.Path, kind, name, section, r.Offset)
		l.mod.Skipped = append(l.mod.Skipped, SkippedRelocation{Section: section, Offset: r.Offset, Type: kind, Symbol: name})
		return nil
	}

	var b []byte
	if width == 8 {
		b = make([]byte, 8)
		l.spec.Order.PutUint64(b, value)
	} else {
		b = make([]byte, 4)
		l.spec.Order.PutUint32(b, uint32(value))
	}
	if err := l.mem.Write(P, b); err != nil {
		return err
	}
	l.mod.Relocated++
	return nil
}

// addend returns the explicit addend of a RELA record, or the implicit
// addend stored at P for a REL record.
func (l *linker) addend(r elfimage.Relocation, P hostarch.Addr, width uint64) (uint64, error) {
	if r.Explicit {
		return uint64(r.Addend), nil
	}
	b, err := l.mem.Read(P, width)
	if err != nil {
		return 0, err
	}
	if width == 8 {
		return l.spec.Order.Uint64(b), nil
	}
	return uint64(l.spec.Order.Uint32(b)), nil
}
