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

package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"emuload.dev/emuload/pkg/abi/linux"
	"emuload.dev/emuload/pkg/log"
)

// IsELF returns true if data starts with the ELF magic.
func IsELF(data []byte) bool {
	return bytes.HasPrefix(data, []byte(linux.ELFMagic))
}

// Parse parses raw, which may be gzip or zstd compressed, as an ELF file.
func Parse(path string, raw []byte) (*Image, error) {
	raw, err := Decompress(raw)
	if err != nil {
		return nil, &FormatError{Path: path, Msg: "decompressing", Err: err}
	}
	if !IsELF(raw) {
		return nil, &FormatError{Path: path, Msg: "bad magic"}
	}
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, &FormatError{Path: path, Msg: "unreadable header", Err: err}
	}
	defer f.Close()

	img := &Image{Path: path, Raw: raw}
	if err := img.parseHeader(f); err != nil {
		return nil, err
	}
	if err := img.parseSegments(f); err != nil {
		return nil, err
	}
	if err := img.parseSections(f); err != nil {
		return nil, err
	}
	if err := img.parseSymbols(f); err != nil {
		return nil, err
	}
	if err := img.parseRelocations(); err != nil {
		return nil, err
	}
	log.Debugf("Parsed %s: %v %v, %d segments, %d sections, %d symbols", path, img.Header.Type, img.Header.Machine, len(img.Segments), len(img.Sections), len(img.Symbols))
	return img, nil
}

func (img *Image) errorf(format string, v ...any) error {
	return &FormatError{Path: img.Path, Msg: fmt.Sprintf(format, v...)}
}

// parseHeader fills in the header fields debug/elf does not expose.
func (img *Image) parseHeader(f *elf.File) error {
	h := &img.Header
	h.Type = f.Type
	h.Machine = f.Machine
	h.Class = f.Class
	h.Data = f.Data
	h.OSABI = f.OSABI
	h.Entry = f.Entry

	r := bytes.NewReader(img.Raw)
	switch f.Class {
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := binary.Read(r, f.ByteOrder, &hdr); err != nil {
			return &FormatError{Path: img.Path, Msg: "unreadable header", Err: err}
		}
		h.PhOff, h.PhEntSize, h.PhNum = hdr.Phoff, hdr.Phentsize, hdr.Phnum
		h.ShOff, h.ShNum = hdr.Shoff, hdr.Shnum
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := binary.Read(r, f.ByteOrder, &hdr); err != nil {
			return &FormatError{Path: img.Path, Msg: "unreadable header", Err: err}
		}
		h.PhOff, h.PhEntSize, h.PhNum = uint64(hdr.Phoff), hdr.Phentsize, hdr.Phnum
		h.ShOff, h.ShNum = uint64(hdr.Shoff), hdr.Shnum
	default:
		return img.errorf("unsupported class %v", f.Class)
	}
	return nil
}

func (img *Image) parseSegments(f *elf.File) error {
	size := uint64(len(img.Raw))
	for i, p := range f.Progs {
		s := Segment{
			Type:   p.Type,
			Flags:  p.Flags,
			Off:    p.Off,
			Vaddr:  p.Vaddr,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Align:  p.Align,
		}
		if end := s.Off + s.Filesz; end < s.Off || end > size {
			return img.errorf("segment %d [%#x, %#x) extends beyond end of file %#x", i, s.Off, end, size)
		}
		switch s.Type {
		case elf.PT_LOAD:
			if s.Filesz > s.Memsz {
				return img.errorf("segment %d filesz %#x > memsz %#x", i, s.Filesz, s.Memsz)
			}
			if s.Vaddr+s.Memsz < s.Vaddr {
				return img.errorf("segment %d size overflows: %#x + %#x", i, s.Vaddr, s.Memsz)
			}
		case elf.PT_INTERP:
			if img.interp != "" {
				return img.errorf("multiple PT_INTERP segments")
			}
			path := img.Raw[s.Off : s.Off+s.Filesz]
			if n := bytes.IndexByte(path, 0); n >= 0 {
				path = path[:n]
			}
			if len(path) == 0 {
				return img.errorf("empty PT_INTERP segment")
			}
			img.interp = string(path)
		}
		img.Segments = append(img.Segments, s)
	}
	return nil
}

func (img *Image) parseSections(f *elf.File) error {
	size := uint64(len(img.Raw))
	for i, sec := range f.Sections {
		s := Section{
			Index:   i,
			Name:    sec.Name,
			Type:    sec.Type,
			Flags:   sec.Flags,
			Addr:    sec.Addr,
			Offset:  sec.Offset,
			Size:    sec.Size,
			Link:    sec.Link,
			Info:    sec.Info,
			EntSize: sec.Entsize,
		}
		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL {
			if end := s.Offset + s.Size; end < s.Offset || end > size {
				return img.errorf("section %d %q [%#x, %#x) extends beyond end of file %#x", i, s.Name, s.Offset, end, size)
			}
		}
		img.Sections = append(img.Sections, s)
	}
	return nil
}

func (img *Image) parseSymbols(f *elf.File) error {
	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil
	}
	if err != nil {
		return &FormatError{Path: img.Path, Msg: "unreadable symbol table", Err: err}
	}
	img.Symbols = make([]Symbol, 1, len(syms)+1)
	for _, s := range syms {
		img.Symbols = append(img.Symbols, Symbol{
			Name:    s.Name,
			Value:   s.Value,
			Size:    s.Size,
			Info:    s.Info,
			Other:   s.Other,
			Section: s.Section,
		})
	}
	return nil
}

func (img *Image) parseRelocations() error {
	order := img.Header.ByteOrder()
	is64 := img.Header.Class == elf.ELFCLASS64
	for _, sec := range img.Sections {
		if sec.Type != elf.SHT_REL && sec.Type != elf.SHT_RELA {
			continue
		}
		rs := RelocSection{Section: sec, Target: int(sec.Info), SymTab: int(sec.Link)}
		if _, ok := img.Section(rs.Target); !ok {
			return img.errorf("relocation section %q targets section %d of %d", sec.Name, rs.Target, len(img.Sections))
		}
		if st, ok := img.Section(rs.SymTab); !ok || st.Type != elf.SHT_SYMTAB {
			return img.errorf("relocation section %q links to section %d, which is not a symbol table", sec.Name, rs.SymTab)
		}
		explicit := sec.Type == elf.SHT_RELA
		var entSize uint64
		switch {
		case is64 && explicit:
			entSize = 24
		case is64:
			entSize = 16
		case explicit:
			entSize = 12
		default:
			entSize = 8
		}
		if sec.Size%entSize != 0 {
			return img.errorf("relocation section %q size %#x is not a multiple of %d", sec.Name, sec.Size, entSize)
		}
		data := img.Raw[sec.Offset : sec.Offset+sec.Size]
		for off := uint64(0); off < sec.Size; off += entSize {
			e := data[off : off+entSize]
			r := Relocation{Explicit: explicit}
			if is64 {
				info := order.Uint64(e[8:])
				r.Offset = order.Uint64(e)
				r.Sym, r.Type = elf.R_SYM64(info), elf.R_TYPE64(info)
				if explicit {
					r.Addend = int64(order.Uint64(e[16:]))
				}
			} else {
				info := order.Uint32(e[4:])
				r.Offset = uint64(order.Uint32(e))
				r.Sym, r.Type = elf.R_SYM32(info), elf.R_TYPE32(info)
				if explicit {
					r.Addend = int64(int32(order.Uint32(e[8:])))
				}
			}
			if int(r.Sym) >= len(img.Symbols) && r.Sym != 0 {
				return img.errorf("relocation in %q references symbol %d of %d", sec.Name, r.Sym, len(img.Symbols))
			}
			rs.Relocs = append(rs.Relocs, r)
		}
		img.Relocations = append(img.Relocations, rs)
	}
	return nil
}
