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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"emuload.dev/emuload/pkg/elfimage/elftest"
)

func sampleExec() *elftest.Exec {
	return &elftest.Exec{
		Class:   elf.ELFCLASS64,
		Order:   binary.LittleEndian,
		Machine: elf.EM_X86_64,
		Type:    elf.ET_DYN,
		Entry:   0x1040,
		Interp:  "/lib/ld.so",
		Segments: []elftest.Segment{
			{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x1000, Data: bytes.Repeat([]byte{0x90}, 0x80)},
			{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x3000, Data: []byte{1, 2, 3, 4}, Memsz: 0x100},
		},
	}
}

func TestParseExec(t *testing.T) {
	img, err := Parse("prog", sampleExec().Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if img.Header.Type != elf.ET_DYN || img.Header.Entry != 0x1040 || img.Header.Bits() != 64 {
		t.Errorf("Header got %+v", img.Header)
	}
	if got, want := img.Header.PhOff, uint64(64); got != want {
		t.Errorf("PhOff got %d want %d", got, want)
	}
	if got, want := img.Header.PhNum, uint16(3); got != want {
		t.Errorf("PhNum got %d want %d", got, want)
	}
	if got, ok := img.Interp(); !ok || got != "/lib/ld.so" {
		t.Errorf("Interp got (%q, %t) want (/lib/ld.so, true)", got, ok)
	}
	load := img.Loadable()
	if len(load) != 2 {
		t.Fatalf("Loadable got %d segments want 2", len(load))
	}
	if got, want := load[1].Perm().String(), "rw-"; got != want {
		t.Errorf("segment perm got %q want %q", got, want)
	}
	if got, want := img.SegmentData(&load[1]), []byte{1, 2, 3, 4}; !bytes.Equal(got, want) {
		t.Errorf("SegmentData got %v want %v", got, want)
	}
}

func TestParseBadMagic(t *testing.T) {
	_, err := Parse("junk", []byte("\x90\x90\x90\x90 not an elf"))
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Parse got %v want *FormatError", err)
	}
	if fe.Msg != "bad magic" {
		t.Errorf("FormatError.Msg got %q want %q", fe.Msg, "bad magic")
	}
}

func TestParseRejectsFileszOverMemsz(t *testing.T) {
	e := sampleExec()
	e.Segments[1].Memsz = 2
	_, err := Parse("prog", e.Bytes())
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Parse got %v want *FormatError", err)
	}
}

func sampleObject(class elf.Class, rel bool) *elftest.Object {
	return &elftest.Object{
		Class:   class,
		Order:   binary.LittleEndian,
		Machine: elf.EM_X86_64,
		Rel:     rel,
		Sections: []elftest.Section{
			{Name: ".text", Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Data: make([]byte, 0x20)},
			{Name: ".data", Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Data: make([]byte, 0x10)},
		},
		Symbols: []elftest.Symbol{
			{Section: ".data", Type: elf.STT_SECTION},
			{Name: "init_module", Section: ".text", Value: 0x10, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL},
			{Name: "printk", Type: elf.STT_NOTYPE, Bind: elf.STB_GLOBAL},
		},
		Relocs: []elftest.Reloc{
			{Section: ".text", Offset: 0x4, Type: uint32(elf.R_X86_64_PC32), Sym: 2, Addend: -4},
			{Section: ".text", Offset: 0x8, Type: uint32(elf.R_X86_64_32S), Sym: 0, Addend: 8},
		},
	}
}

func TestParseRelocatable(t *testing.T) {
	for _, tc := range []struct {
		name  string
		class elf.Class
		rel   bool
	}{
		{"rela64", elf.ELFCLASS64, false},
		{"rel32", elf.ELFCLASS32, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img, err := Parse("mod.ko", sampleObject(tc.class, tc.rel).Bytes())
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if len(img.Relocations) != 1 {
				t.Fatalf("Relocations got %d sections want 1", len(img.Relocations))
			}
			rs := img.Relocations[0]
			target, ok := img.Section(rs.Target)
			if !ok || target.Name != ".text" {
				t.Errorf("relocation target got %+v want .text", target)
			}
			want := []Relocation{
				{Offset: 0x4, Type: uint32(elf.R_X86_64_PC32), Sym: 3, Addend: -4, Explicit: true},
				{Offset: 0x8, Type: uint32(elf.R_X86_64_32S), Sym: 1, Addend: 8, Explicit: true},
			}
			if tc.rel {
				for i := range want {
					want[i].Addend, want[i].Explicit = 0, false
				}
			}
			if diff := cmp.Diff(want, rs.Relocs); diff != "" {
				t.Errorf("Relocs mismatch (-want +got):\n%s", diff)
			}
			if len(img.Symbols) != 4 {
				t.Fatalf("Symbols got %d want 4", len(img.Symbols))
			}
			if !img.Symbols[3].Undefined() || img.Symbols[3].Name != "printk" {
				t.Errorf("Symbols[3] got %+v want undefined printk", img.Symbols[3])
			}
			sym, ok := img.LookupSymbol("init_module")
			if !ok || sym.Value != 0x10 {
				t.Errorf("LookupSymbol(init_module) got (%+v, %t)", sym, ok)
			}
		})
	}
}

func TestDecompress(t *testing.T) {
	raw := sampleObject(elf.ELFCLASS64, false).Bytes()

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(raw); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter failed: %v", err)
	}
	zs := enc.EncodeAll(raw, nil)
	enc.Close()

	for name, data := range map[string][]byte{"plain": raw, "gzip": gz.Bytes(), "zstd": zs} {
		got, err := Decompress(data)
		if err != nil {
			t.Errorf("%s: Decompress failed: %v", name, err)
			continue
		}
		if !bytes.Equal(got, raw) {
			t.Errorf("%s: Decompress returned different bytes", name)
		}
		if _, err := Parse("mod.ko."+name, data); err != nil {
			t.Errorf("%s: Parse failed: %v", name, err)
		}
	}
}

func TestDecompressSizeLimit(t *testing.T) {
	raw := bytes.Repeat([]byte{0}, 1<<20)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(raw); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter failed: %v", err)
	}
	zs := enc.EncodeAll(raw, nil)
	enc.Close()

	old := maxDecompressedSize
	maxDecompressedSize = 64 << 10
	defer func() { maxDecompressedSize = old }()

	for name, data := range map[string][]byte{"gzip": gz.Bytes(), "zstd": zs} {
		if got, err := Decompress(data); err == nil {
			t.Errorf("%s: Decompress returned %d bytes, want error", name, len(got))
		}
	}

	small := raw[:1024]
	gz.Reset()
	gw = gzip.NewWriter(&gz)
	gw.Write(small)
	gw.Close()
	got, err := Decompress(gz.Bytes())
	if err != nil {
		t.Fatalf("Decompress under the limit failed: %v", err)
	}
	if !bytes.Equal(got, small) {
		t.Errorf("Decompress under the limit returned %d bytes, want %d", len(got), len(small))
	}
}
