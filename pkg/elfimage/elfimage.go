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

// Package elfimage parses ELF files into the immutable structures the
// loader works from: a header, program segments, sections, relocation
// sections and the symbol table. Structural fields are validated at parse
// time so that later stages can index into the raw bytes without checks.
package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"emuload.dev/emuload/pkg/hostarch"
)

// FormatError is returned for input that is not a usable ELF file.
type FormatError struct {
	// Path is the file being parsed.
	Path string

	// Msg describes the problem.
	Msg string

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.Error.
func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Unwrap returns the underlying error.
func (e *FormatError) Unwrap() error {
	return e.Err
}

// Header is the ELF file header.
type Header struct {
	Type      elf.Type
	Machine   elf.Machine
	Class     elf.Class
	Data      elf.Data
	OSABI     elf.OSABI
	Entry     uint64
	PhOff     uint64
	PhEntSize uint16
	PhNum     uint16
	ShOff     uint64
	ShNum     uint16
}

// Bits returns the word size of the file.
func (h *Header) Bits() int {
	if h.Class == elf.ELFCLASS64 {
		return 64
	}
	return 32
}

// ByteOrder returns the byte order of the file.
func (h *Header) ByteOrder() binary.ByteOrder {
	if h.Data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Segment is a program header.
type Segment struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Perm returns the access requested by the segment flags.
func (s *Segment) Perm() hostarch.AccessType {
	return hostarch.ProgFlagsAccessType(s.Flags)
}

// Section is a section header.
type Section struct {
	Index   int
	Name    string
	Type    elf.SectionType
	Flags   elf.SectionFlag
	Addr    uint64
	Offset  uint64
	Size    uint64
	Link    uint32
	Info    uint32
	EntSize uint64
}

// Symbol is an entry of the symbol table.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Info    byte
	Other   byte
	Section elf.SectionIndex
}

// Undefined returns true if the symbol has no home section.
func (s *Symbol) Undefined() bool {
	return s.Section == elf.SHN_UNDEF
}

// Type returns the symbol type.
func (s *Symbol) Type() elf.SymType {
	return elf.ST_TYPE(s.Info)
}

// Bind returns the symbol binding.
func (s *Symbol) Bind() elf.SymBind {
	return elf.ST_BIND(s.Info)
}

// Relocation is one relocation record.
type Relocation struct {
	// Offset is the offset of the patched location within the target
	// section.
	Offset uint64

	// Type is the machine specific relocation kind.
	Type uint32

	// Sym is the index of the referenced symbol; zero means none.
	Sym uint32

	// Addend is the explicit addend of a RELA record.
	Addend int64

	// Explicit is true for RELA records. REL records take their addend
	// from the patched location.
	Explicit bool
}

// RelocSection is a SHT_REL or SHT_RELA section with its decoded records.
type RelocSection struct {
	// Section is the relocation section itself.
	Section Section

	// Target is the index of the section the records patch (sh_info).
	Target int

	// SymTab is the index of the symbol table the records refer to
	// (sh_link).
	SymTab int

	// Relocs are the records in file order.
	Relocs []Relocation
}

// Image is a parsed ELF file. It is immutable after Parse returns.
type Image struct {
	// Path names the file, for logs and load records.
	Path string

	// Raw is the complete (decompressed) file contents.
	Raw []byte

	Header      Header
	Segments    []Segment
	Sections    []Section
	Relocations []RelocSection

	// Symbols is the symbol table indexed by symbol number; entry 0 is the
	// null symbol.
	Symbols []Symbol

	interp string
}

// Interp returns the path named by the PT_INTERP segment, if any.
func (img *Image) Interp() (string, bool) {
	return img.interp, img.interp != ""
}

// Loadable returns the PT_LOAD segments in file order.
func (img *Image) Loadable() []Segment {
	var segs []Segment
	for _, s := range img.Segments {
		if s.Type == elf.PT_LOAD {
			segs = append(segs, s)
		}
	}
	return segs
}

// SegmentData returns the file bytes of s.
func (img *Image) SegmentData(s *Segment) []byte {
	return img.Raw[s.Off : s.Off+s.Filesz]
}

// Section returns the section with index i.
func (img *Image) Section(i int) (*Section, bool) {
	if i < 0 || i >= len(img.Sections) {
		return nil, false
	}
	return &img.Sections[i], true
}

// LookupSymbol returns the first symbol named name, in symbol table order.
func (img *Image) LookupSymbol(name string) (*Symbol, bool) {
	for i := 1; i < len(img.Symbols); i++ {
		if img.Symbols[i].Name == name {
			return &img.Symbols[i], true
		}
	}
	return nil, false
}
