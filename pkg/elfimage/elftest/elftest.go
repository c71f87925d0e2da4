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

// Package elftest builds small ELF files in memory for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Segment describes one program header of an executable.
type Segment struct {
	Type  elf.ProgType
	Flags elf.ProgFlag
	Vaddr uint64
	Data  []byte

	// Memsz defaults to len(Data).
	Memsz uint64
}

// Exec describes an ET_EXEC or ET_DYN file.
type Exec struct {
	Class   elf.Class
	Order   binary.ByteOrder
	Machine elf.Machine
	Type    elf.Type
	OSABI   elf.OSABI
	Entry   uint64

	// Interp, if set, adds a PT_INTERP segment ahead of the others.
	Interp string

	Segments []Segment
}

// Segment file data starts at this alignment.
const dataAlign = 16

func align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

func ident(class elf.Class, order binary.ByteOrder, osabi elf.OSABI) [elf.EI_NIDENT]byte {
	var id [elf.EI_NIDENT]byte
	copy(id[:], elf.ELFMAG)
	id[elf.EI_CLASS] = byte(class)
	id[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	if order == binary.BigEndian {
		id[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	id[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	id[elf.EI_OSABI] = byte(osabi)
	return id
}

func write(buf *bytes.Buffer, order binary.ByteOrder, v any) {
	if err := binary.Write(buf, order, v); err != nil {
		panic(err)
	}
}

func pad(buf *bytes.Buffer, to int) {
	for buf.Len() < to {
		buf.WriteByte(0)
	}
}

// Bytes returns the encoded file. Segment data follows the program headers in
// order; file offsets are not congruent with addresses.
func (e *Exec) Bytes() []byte {
	segs := e.Segments
	if e.Interp != "" {
		segs = append([]Segment{{Type: elf.PT_INTERP, Flags: elf.PF_R, Data: append([]byte(e.Interp), 0)}}, segs...)
	}
	is64 := e.Class == elf.ELFCLASS64
	ehsize, phentsize := 52, 32
	if is64 {
		ehsize, phentsize = 64, 56
	}

	offsets := make([]int, len(segs))
	off := align(ehsize+phentsize*len(segs), dataAlign)
	for i, s := range segs {
		offsets[i] = off
		off = align(off+len(s.Data), dataAlign)
	}

	var buf bytes.Buffer
	id := ident(e.Class, e.Order, e.OSABI)
	if is64 {
		write(&buf, e.Order, elf.Header64{
			Ident: id, Type: uint16(e.Type), Machine: uint16(e.Machine), Version: uint32(elf.EV_CURRENT),
			Entry: e.Entry, Phoff: uint64(ehsize), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(len(segs)),
		})
	} else {
		write(&buf, e.Order, elf.Header32{
			Ident: id, Type: uint16(e.Type), Machine: uint16(e.Machine), Version: uint32(elf.EV_CURRENT),
			Entry: uint32(e.Entry), Phoff: uint32(ehsize), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(len(segs)),
		})
	}
	for i, s := range segs {
		memsz := s.Memsz
		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}
		if is64 {
			write(&buf, e.Order, elf.Prog64{
				Type: uint32(s.Type), Flags: uint32(s.Flags), Off: uint64(offsets[i]),
				Vaddr: s.Vaddr, Paddr: s.Vaddr, Filesz: uint64(len(s.Data)), Memsz: memsz, Align: 0x1000,
			})
		} else {
			write(&buf, e.Order, elf.Prog32{
				Type: uint32(s.Type), Flags: uint32(s.Flags), Off: uint32(offsets[i]),
				Vaddr: uint32(s.Vaddr), Paddr: uint32(s.Vaddr), Filesz: uint32(len(s.Data)), Memsz: uint32(memsz), Align: 0x1000,
			})
		}
	}
	for i, s := range segs {
		pad(&buf, offsets[i])
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// Section is a content section of a relocatable object.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Data  []byte
}

// Symbol is a symbol table entry. Section names the home section; an empty
// Section makes the symbol undefined.
type Symbol struct {
	Name    string
	Section string
	Value   uint64
	Type    elf.SymType
	Bind    elf.SymBind
}

// Reloc is a relocation record. Sym indexes Object.Symbols; -1 references
// the null symbol.
type Reloc struct {
	Section string
	Offset  uint64
	Type    uint32
	Sym     int
	Addend  int64
}

// Object describes an ET_REL file.
type Object struct {
	Class   elf.Class
	Order   binary.ByteOrder
	Machine elf.Machine

	// Rel selects SHT_REL records instead of SHT_RELA.
	Rel bool

	Sections []Section
	Symbols  []Symbol
	Relocs   []Reloc

	// Extra names additional, empty relocation sections to emit, for
	// example ".rela.gnu.linkonce.this_module".
	Extra []Reloc
}

// strtab accumulates a string table.
type strtab struct {
	buf bytes.Buffer
}

func newStrtab() *strtab {
	s := &strtab{}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

type outSection struct {
	name    uint32
	typ     elf.SectionType
	flags   elf.SectionFlag
	data    []byte
	link    uint32
	info    uint32
	entsize uint64
	offset  int
}

// Bytes returns the encoded object.
func (o *Object) Bytes() []byte {
	is64 := o.Class == elf.ELFCLASS64
	shstr := newStrtab()
	index := make(map[string]int)
	secs := []outSection{{}}
	for _, s := range o.Sections {
		index[s.Name] = len(secs)
		typ := s.Type
		if typ == elf.SHT_NULL {
			typ = elf.SHT_PROGBITS
		}
		secs = append(secs, outSection{name: shstr.add(s.Name), typ: typ, flags: s.Flags, data: s.Data})
	}

	prefix, relType := ".rela", elf.SHT_RELA
	relEnt := map[bool]uint64{true: 24, false: 12}[is64]
	if o.Rel {
		prefix, relType = ".rel", elf.SHT_REL
		relEnt = map[bool]uint64{true: 16, false: 8}[is64]
	}

	// Group records by target section, preserving first appearance order.
	var targets []string
	byTarget := make(map[string][]Reloc)
	for _, r := range o.Relocs {
		if _, ok := byTarget[r.Section]; !ok {
			targets = append(targets, r.Section)
		}
		byTarget[r.Section] = append(byTarget[r.Section], r)
	}
	relStart := len(secs)
	for _, t := range targets {
		var data bytes.Buffer
		for _, r := range byTarget[t] {
			sym := uint32(r.Sym + 1)
			switch {
			case is64 && !o.Rel:
				write(&data, o.Order, elf.Rela64{Off: r.Offset, Info: elf.R_INFO(sym, r.Type), Addend: r.Addend})
			case is64:
				write(&data, o.Order, elf.Rel64{Off: r.Offset, Info: elf.R_INFO(sym, r.Type)})
			case !o.Rel:
				write(&data, o.Order, elf.Rela32{Off: uint32(r.Offset), Info: elf.R_INFO32(sym, r.Type), Addend: int32(r.Addend)})
			default:
				write(&data, o.Order, elf.Rel32{Off: uint32(r.Offset), Info: elf.R_INFO32(sym, r.Type)})
			}
		}
		secs = append(secs, outSection{
			name: shstr.add(prefix + t), typ: relType, data: data.Bytes(),
			info: uint32(index[t]), entsize: relEnt,
		})
	}
	for _, x := range o.Extra {
		secs = append(secs, outSection{
			name: shstr.add(x.Section), typ: relType, info: uint32(index[".text"]), entsize: relEnt,
		})
	}
	relEnd := len(secs)

	symtabIdx := len(secs)
	strtabIdx := symtabIdx + 1
	shstrtabIdx := symtabIdx + 2
	str := newStrtab()
	var symData bytes.Buffer
	if is64 {
		write(&symData, o.Order, elf.Sym64{})
	} else {
		write(&symData, o.Order, elf.Sym32{})
	}
	for _, s := range o.Symbols {
		shndx := uint16(elf.SHN_UNDEF)
		if s.Section != "" {
			shndx = uint16(index[s.Section])
		}
		info := elf.ST_INFO(s.Bind, s.Type)
		if is64 {
			write(&symData, o.Order, elf.Sym64{Name: str.add(s.Name), Info: info, Shndx: shndx, Value: s.Value})
		} else {
			write(&symData, o.Order, elf.Sym32{Name: str.add(s.Name), Info: info, Shndx: shndx, Value: uint32(s.Value)})
		}
	}
	symEnt := uint64(16)
	if is64 {
		symEnt = 24
	}
	for i := relStart; i < relEnd; i++ {
		secs[i].link = uint32(symtabIdx)
	}
	secs = append(secs,
		outSection{name: shstr.add(".symtab"), typ: elf.SHT_SYMTAB, data: symData.Bytes(), link: uint32(strtabIdx), info: 1, entsize: symEnt},
		outSection{name: shstr.add(".strtab"), typ: elf.SHT_STRTAB, data: str.buf.Bytes()},
	)
	secs = append(secs, outSection{name: shstr.add(".shstrtab"), typ: elf.SHT_STRTAB})
	secs[shstrtabIdx].data = shstr.buf.Bytes()

	ehsize := 52
	if is64 {
		ehsize = 64
	}
	off := align(ehsize, dataAlign)
	for i := 1; i < len(secs); i++ {
		secs[i].offset = off
		off = align(off+len(secs[i].data), dataAlign)
	}
	shoff := off

	var buf bytes.Buffer
	id := ident(o.Class, o.Order, elf.ELFOSABI_NONE)
	if is64 {
		write(&buf, o.Order, elf.Header64{
			Ident: id, Type: uint16(elf.ET_REL), Machine: uint16(o.Machine), Version: uint32(elf.EV_CURRENT),
			Shoff: uint64(shoff), Ehsize: uint16(ehsize), Shentsize: 64,
			Shnum: uint16(len(secs)), Shstrndx: uint16(shstrtabIdx),
		})
	} else {
		write(&buf, o.Order, elf.Header32{
			Ident: id, Type: uint16(elf.ET_REL), Machine: uint16(o.Machine), Version: uint32(elf.EV_CURRENT),
			Shoff: uint32(shoff), Ehsize: uint16(ehsize), Shentsize: 40,
			Shnum: uint16(len(secs)), Shstrndx: uint16(shstrtabIdx),
		})
	}
	for i := 1; i < len(secs); i++ {
		pad(&buf, secs[i].offset)
		buf.Write(secs[i].data)
	}
	pad(&buf, shoff)
	for _, s := range secs {
		var offset int
		if s.typ != elf.SHT_NULL {
			offset = s.offset
		}
		if is64 {
			write(&buf, o.Order, elf.Section64{
				Name: s.name, Type: uint32(s.typ), Flags: uint64(s.flags), Off: uint64(offset),
				Size: uint64(len(s.data)), Link: s.link, Info: s.info, Addralign: 1, Entsize: s.entsize,
			})
		} else {
			write(&buf, o.Order, elf.Section32{
				Name: s.name, Type: uint32(s.typ), Flags: uint32(s.flags), Off: uint32(offset),
				Size: uint32(len(s.data)), Link: s.link, Info: s.info, Addralign: 1, Entsize: uint32(s.entsize),
			})
		}
	}
	return buf.Bytes()
}

// SectionOffset returns the file offset of the named content section in the
// encoding produced by Bytes.
func (o *Object) SectionOffset(name string) uint64 {
	ehsize := 52
	if o.Class == elf.ELFCLASS64 {
		ehsize = 64
	}
	off := align(ehsize, dataAlign)
	for _, s := range o.Sections {
		if s.Name == name {
			return uint64(off)
		}
		off = align(off+len(s.Data), dataAlign)
	}
	panic("elftest: no section " + name)
}
