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
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"emuload.dev/emuload/pkg/abi"
	"emuload.dev/emuload/pkg/abi/linux"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/elfimage/elftest"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/memory"
	"emuload.dev/emuload/pkg/proc"
	"emuload.dev/emuload/pkg/rootfs"
)

// newProcess returns a process whose root filesystem holds files.
func newProcess(t *testing.T, osys abi.OS, files map[string][]byte) *proc.Process {
	t.Helper()
	p := proc.New(proc.Config{OS: osys})
	t.Cleanup(func() { p.Close() })
	fsys := afero.NewMemMapFs()
	for name, data := range files {
		if err := afero.WriteFile(fsys, name, data, 0755); err != nil {
			t.Fatalf("WriteFile(%q) failed: %v", name, err)
		}
	}
	p.Root = rootfs.NewFromFs(fsys)
	return p
}

func space(t *testing.T, p *proc.Process) *memory.Space {
	t.Helper()
	s, ok := p.Mem.(*memory.Space)
	if !ok {
		t.Fatalf("address space is %T, want *memory.Space", p.Mem)
	}
	return s
}

// regionsLabeled returns the regions of p named label.
func regionsLabeled(t *testing.T, p *proc.Process, label string) []memory.Region {
	var rs []memory.Region
	for _, r := range space(t, p).Regions() {
		if r.Label == label {
			rs = append(rs, r)
		}
	}
	return rs
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 1)
	}
	return b
}

func amd64Exec(typ elf.Type, entry uint64, segs ...elftest.Segment) *elftest.Exec {
	return &elftest.Exec{
		Class:    elf.ELFCLASS64,
		Order:    binary.LittleEndian,
		Machine:  elf.EM_X86_64,
		Type:     typ,
		Entry:    entry,
		Segments: segs,
	}
}

func auxvKeys(a Auxv) []uint64 {
	var keys []uint64
	for _, e := range a {
		keys = append(keys, e.Key)
	}
	return keys
}

var linuxAuxvOrder = []uint64{
	linux.AT_PHDR, linux.AT_PHENT, linux.AT_PHNUM, linux.AT_PAGESZ,
	linux.AT_BASE, linux.AT_FLAGS, linux.AT_ENTRY, linux.AT_UID,
	linux.AT_EUID, linux.AT_GID, linux.AT_EGID, linux.AT_HWCAP,
	linux.AT_CLKTCK, linux.AT_RANDOM, linux.AT_PLATFORM, linux.AT_SECURE,
}

func TestLoadStaticExecutable(t *testing.T) {
	text := pattern(0x1000)
	exe := amd64Exec(elf.ET_EXEC, 0x400010, elftest.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x400000, Data: text, Memsz: 0x2000,
	})
	p := newProcess(t, abi.Linux, map[string][]byte{"/bin/prog": exe.Bytes()})

	img, err := Load(context.Background(), p, "/bin/prog", Options{Args: Args{Argv: []string{"prog"}}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []memory.Region{{
		Range: hostarch.AddrRange{Start: 0x400000, End: 0x402000},
		Perm:  hostarch.ReadExecute,
		Label: "/bin/prog",
	}}
	if diff := cmp.Diff(want, regionsLabeled(t, p, "/bin/prog")); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
	if img.LoadAddress != 0 || img.EntryPoint != 0x400010 || img.ELFEntry != 0x400010 {
		t.Errorf("got load %v entry %v elf entry %v, want 0 0x400010 0x400010", img.LoadAddress, img.EntryPoint, img.ELFEntry)
	}
	if img.MemStart != 0x400000 || img.MemEnd != 0x402000 {
		t.Errorf("got range [%v, %v), want [0x400000, 0x402000)", img.MemStart, img.MemEnd)
	}
	if got, want := img.BrkAddress, hostarch.Addr(0x404000); got != want {
		t.Errorf("brk got %v want %v", got, want)
	}

	got, err := p.Mem.Read(0x400000, 0x2000)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got[:0x1000], text) {
		t.Errorf("segment contents differ from file")
	}
	if !bytes.Equal(got[0x1000:], make([]byte, 0x1000)) {
		t.Errorf("bss is not zero")
	}

	if img.StackAddress%16 != 0 {
		t.Errorf("stack pointer %v is not 16-byte aligned", img.StackAddress)
	}
	if sp := p.Register("rsp"); sp != uint64(img.StackAddress) {
		t.Errorf("rsp got %#x want %v", sp, img.StackAddress)
	}
	if pc := p.Register("rip"); pc != 0x400010 {
		t.Errorf("rip got %#x want 0x400010", pc)
	}

	st, err := ReadStack(p.Mem, p.Spec, img.StackAddress)
	if err != nil {
		t.Fatalf("ReadStack failed: %v", err)
	}
	if st.Argc != 1 || !cmp.Equal(st.Argv, []string{"prog"}) || len(st.Env) != 0 {
		t.Errorf("got argc %d argv %q env %q, want 1 [prog] []", st.Argc, st.Argv, st.Env)
	}
	if diff := cmp.Diff(linuxAuxvOrder, auxvKeys(st.Auxv)); diff != "" {
		t.Errorf("auxv keys mismatch (-want +got):\n%s", diff)
	}
	for _, tc := range []struct {
		key  uint64
		want uint64
	}{
		{linux.AT_PHDR, 0x400000 + 64},
		{linux.AT_PHENT, 56},
		{linux.AT_PHNUM, 1},
		{linux.AT_PAGESZ, 0x1000},
		{linux.AT_BASE, 0},
		{linux.AT_ENTRY, 0x400010},
		{linux.AT_UID, 1000},
		{linux.AT_EGID, 1000},
		{linux.AT_HWCAP, 0x078bfbfd},
		{linux.AT_CLKTCK, 100},
		{linux.AT_SECURE, 0},
	} {
		if v, _ := st.Auxv.Lookup(tc.key); v != tc.want {
			t.Errorf("%s got %#x want %#x", linux.AuxvName(tc.key), v, tc.want)
		}
	}
	if st.Platform != "x86_64" {
		t.Errorf("platform got %q want x86_64", st.Platform)
	}
	if string(st.Random) != randomBytes {
		t.Errorf("AT_RANDOM bytes got %q want %q", st.Random, randomBytes)
	}
	if diff := cmp.Diff(st.Auxv, img.Auxv); diff != "" {
		t.Errorf("stack auxv differs from reported auxv (-stack +image):\n%s", diff)
	}
}

func TestLoadMapsVsyscallPage(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0x400000, elftest.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x400000, Data: pattern(0x10),
	})
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	if _, err := Load(context.Background(), p, "/prog", Options{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	base := hostarch.Addr(0xffffffffff600000)
	page, err := p.Mem.Read(base, 0x1000)
	if err != nil {
		t.Fatalf("vsyscall page not readable: %v", err)
	}
	for i, nr := range []uint32{0x60, 0xc9, 0x135} {
		off := i * 0x400
		want := vsyscallTrampoline(nr)
		if got := page[off : off+len(want)]; !bytes.Equal(got, want) {
			t.Errorf("entry %d got % x want % x", i, got, want)
		}
		if page[off+len(want)] != 0xcc {
			t.Errorf("entry %d is not followed by int3", i)
		}
	}
	if got := page[0xfff]; got != 0xcc {
		t.Errorf("page tail got %#x want 0xcc", got)
	}
}

func TestVsyscallTrampoline(t *testing.T) {
	want := []byte{0x48, 0xc7, 0xc0, 0x60, 0x00, 0x00, 0x00, 0x0f, 0x05, 0xc3}
	if got := vsyscallTrampoline(0x60); !bytes.Equal(got, want) {
		t.Errorf("got % x want % x", got, want)
	}
}

func TestLoadDynamicWithInterpreter(t *testing.T) {
	exe := amd64Exec(elf.ET_DYN, 0x10, elftest.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0, Data: pattern(0x100),
	})
	exe.Interp = "/lib/ld.so"
	ld := amd64Exec(elf.ET_DYN, 0x20, elftest.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0, Data: pattern(0x80),
	})
	p := newProcess(t, abi.Linux, map[string][]byte{
		"/bin/prog":  exe.Bytes(),
		"/lib/ld.so": ld.Bytes(),
	})

	img, err := Load(context.Background(), p, "/bin/prog", Options{Args: Args{Argv: []string{"prog"}}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	const (
		loadBase   = 0x555555554000
		interpBase = 0x7ffff7dd5000
	)
	if img.LoadAddress != loadBase || img.ELFEntry != loadBase+0x10 {
		t.Errorf("got load %v elf entry %v, want %#x %#x", img.LoadAddress, img.ELFEntry, loadBase, loadBase+0x10)
	}
	if img.Interp == nil {
		t.Fatalf("no interpreter recorded")
	}
	if img.Interp.Base != interpBase || img.EntryPoint != interpBase+0x20 {
		t.Errorf("got interp base %v entry %v, want %#x %#x", img.Interp.Base, img.EntryPoint, interpBase, interpBase+0x20)
	}
	if v, _ := img.Auxv.Lookup(linux.AT_BASE); v != interpBase {
		t.Errorf("AT_BASE got %#x want %#x", v, interpBase)
	}
	if v, _ := img.Auxv.Lookup(linux.AT_ENTRY); v != loadBase+0x10 {
		t.Errorf("AT_ENTRY got %#x want %#x", v, loadBase+0x10)
	}
	var paths []string
	for _, i := range p.Images {
		paths = append(paths, i.Path)
	}
	if diff := cmp.Diff([]string{"/bin/prog", "/lib/ld.so"}, paths); diff != "" {
		t.Errorf("image records mismatch (-want +got):\n%s", diff)
	}
	if got := p.Symbolize(interpBase + 0x24); got != "/lib/ld.so+0x24" {
		t.Errorf("Symbolize got %q want /lib/ld.so+0x24", got)
	}
}

func TestInterpreterErrors(t *testing.T) {
	seg := elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0, Data: pattern(0x40)}
	exe := amd64Exec(elf.ET_DYN, 0, seg)
	exe.Interp = "/lib/ld.so"
	chained := amd64Exec(elf.ET_DYN, 0, seg)
	chained.Interp = "/lib/other.so"

	for _, tc := range []struct {
		name  string
		files map[string][]byte
		want  error
	}{
		{
			name:  "missing",
			files: map[string][]byte{"/prog": exe.Bytes()},
		},
		{
			name:  "chain",
			files: map[string][]byte{"/prog": exe.Bytes(), "/lib/ld.so": chained.Bytes()},
			want:  ErrInterpreterChain,
		},
		{
			name:  "not elf",
			files: map[string][]byte{"/prog": exe.Bytes(), "/lib/ld.so": []byte("garbage")},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcess(t, abi.Linux, tc.files)
			_, err := Load(context.Background(), p, "/prog", Options{})
			var ie *InterpreterError
			if !errors.As(err, &ie) {
				t.Fatalf("got error %v, want *InterpreterError", err)
			}
			if ie.Path != "/lib/ld.so" {
				t.Errorf("got path %q want /lib/ld.so", ie.Path)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("got error %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	core := amd64Exec(elf.ET_CORE, 0, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	noLoad := amd64Exec(elf.ET_EXEC, 0, elftest.Segment{Type: elf.PT_NOTE, Flags: elf.PF_R, Data: pattern(8)})
	onStack := amd64Exec(elf.ET_EXEC, 0, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x7ffffffde000, Data: pattern(8)})

	var formatErr *elfimage.FormatError
	for _, tc := range []struct {
		name  string
		data  []byte
		check func(error) bool
	}{
		{"bad magic", []byte("\x7fELG not an elf file"), func(err error) bool { return errors.As(err, &formatErr) }},
		{"core file", core.Bytes(), func(err error) bool { return errors.Is(err, ErrUnsupportedFileType) }},
		{"no loadable segments", noLoad.Bytes(), func(err error) bool { return errors.As(err, &formatErr) }},
		{"overlaps stack", onStack.Bytes(), func(err error) bool { return errors.Is(err, memory.ErrAddressConflict) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := newProcess(t, abi.Linux, map[string][]byte{"/prog": tc.data})
			if _, err := Load(context.Background(), p, "/prog", Options{}); !tc.check(err) {
				t.Errorf("got unexpected error %v", err)
			}
		})
	}
}

func TestLoadCancelled(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, p, "/prog", Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v, want context.Canceled", err)
	}
	if n := space(t, p).MappedBytes(); n != 0 {
		t.Errorf("cancelled load mapped %d bytes", n)
	}
}

func TestArchMismatch(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	s, err := arch.New(arch.ARM64, 64, binary.LittleEndian)
	if err != nil {
		t.Fatalf("arch.New failed: %v", err)
	}
	p.SetSpec(s)
	if _, err := Load(context.Background(), p, "/prog", Options{}); !errors.Is(err, ErrArchMismatch) {
		t.Errorf("got error %v, want ErrArchMismatch", err)
	}
}

func TestSharedPagePermissions(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0x400000,
		elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x400000, Data: pattern(0x100)},
		elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x400800, Data: pattern(0x100), Memsz: 0x1900},
	)
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	if _, err := Load(context.Background(), p, "/prog", Options{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []memory.Region{
		{Range: hostarch.AddrRange{Start: 0x400000, End: 0x401000}, Perm: hostarch.AnyAccess, Label: "/prog"},
		{Range: hostarch.AddrRange{Start: 0x401000, End: 0x403000}, Perm: hostarch.ReadWrite, Label: "/prog"},
	}
	if diff := cmp.Diff(want, regionsLabeled(t, p, "/prog")); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
	got, err := p.Mem.Read(0x400800, 0x100)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, pattern(0x100)) {
		t.Errorf("second segment contents differ from file")
	}
}

func TestLoad32BitBigEndianStack(t *testing.T) {
	exe := &elftest.Exec{
		Class:   elf.ELFCLASS32,
		Order:   binary.BigEndian,
		Machine: elf.EM_MIPS,
		Type:    elf.ET_EXEC,
		Entry:   0x400100,
		Segments: []elftest.Segment{
			{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x400000, Data: pattern(0x200)},
		},
	}
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	args := Args{
		Argv: []string{"prog", "-v"},
		Env:  map[string]string{"TERM": "xterm", "HOME": "/root"},
	}
	img, err := Load(context.Background(), p, "/prog", Options{Args: args})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.StackAddress%16 != 0 {
		t.Errorf("stack pointer %v is not 16-byte aligned", img.StackAddress)
	}
	st, err := ReadStack(p.Mem, p.Spec, img.StackAddress)
	if err != nil {
		t.Fatalf("ReadStack failed: %v", err)
	}
	want := &Stack{
		Argc:     2,
		Argv:     []string{"prog", "-v"},
		Env:      []string{"HOME=/root", "TERM=xterm"},
		Auxv:     st.Auxv,
		Platform: "mips",
		Random:   []byte(randomBytes),
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("stack mismatch (-want +got):\n%s", diff)
	}
	if v, _ := st.Auxv.Lookup(linux.AT_HWCAP); v != 0xd7b81f {
		t.Errorf("AT_HWCAP got %#x want 0xd7b81f", v)
	}

	// argc is a big endian 32-bit word.
	b, err := p.Mem.Read(img.StackAddress, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(b, []byte{0, 0, 0, 2}) {
		t.Errorf("argc word got % x want 00 00 00 02", b)
	}
	if p.Mem.IsMapped(0xffffffffff600000, 0x1000) {
		t.Errorf("vsyscall page mapped for a 32-bit process")
	}
}

func TestStringsAreOrderedDownward(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0x400000, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	args := Args{Argv: []string{"a", "bb"}, Env: map[string]string{"K": "V"}}
	if _, err := Load(context.Background(), p, "/prog", Options{Args: args}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	top := p.Spec.Layout.StackTop()
	// argv[0] ends at the very top, followed downwards by argv[1] and the
	// environment.
	b, err := p.Mem.Read(top-9, 9)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if want := "K=V\x00bb\x00a\x00"; string(b) != want {
		t.Errorf("got %q want %q", b, want)
	}
}

func TestRandomBytesAreTerminated(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0x400000, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	p := newProcess(t, abi.Linux, map[string][]byte{"/prog": exe.Bytes()})
	img, err := Load(context.Background(), p, "/prog", Options{Args: Args{Argv: []string{"1234567"}}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	random, ok := img.Auxv.Lookup(linux.AT_RANDOM)
	if !ok {
		t.Fatalf("no AT_RANDOM in %v", img.Auxv)
	}
	plat, ok := img.Auxv.Lookup(linux.AT_PLATFORM)
	if !ok {
		t.Fatalf("no AT_PLATFORM in %v", img.Auxv)
	}
	got, err := memory.ReadCString(p.Mem, hostarch.Addr(random), maxStackString)
	if err != nil {
		t.Fatalf("ReadCString(AT_RANDOM) failed: %v", err)
	}
	if got != randomBytes {
		t.Errorf("AT_RANDOM string got %q want %q", got, randomBytes)
	}
	if got, want := random-plat, uint64(len("x86_64")+1); got != want {
		t.Errorf("AT_RANDOM - AT_PLATFORM got %d want %d", got, want)
	}
	// argv[0] is 8 bytes with its NUL, so the terminated seed ends right
	// below it.
	if got, want := random+uint64(len(randomBytes))+1, uint64(p.Spec.Layout.StackTop())-8; got != want {
		t.Errorf("AT_RANDOM end got %#x want %#x", got, want)
	}
}

func TestFreeBSDRegisters(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0x400000, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	exe.OSABI = elf.ELFOSABI_FREEBSD
	p := newProcess(t, abi.FreeBSD, map[string][]byte{"/prog": exe.Bytes()})
	if _, err := Load(context.Background(), p, "/prog", Options{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	base := uint64(p.Spec.Layout.StackBase)
	for _, tc := range []struct {
		reg  string
		want uint64
	}{
		{"rbp", base + 0x40},
		{"rdi", base},
		{"r14", base},
	} {
		if got := p.Register(tc.reg); got != tc.want {
			t.Errorf("%s got %#x want %#x", tc.reg, got, tc.want)
		}
	}
	if p.Mem.IsMapped(0xffffffffff600000, 0x1000) {
		t.Errorf("vsyscall page mapped for FreeBSD")
	}
}

func TestShellcode(t *testing.T) {
	code := []byte{0x90, 0x90, 0xcc}
	p := newProcess(t, abi.Linux, nil)
	s, err := arch.New(arch.X8664, 64, binary.LittleEndian)
	if err != nil {
		t.Fatalf("arch.New failed: %v", err)
	}
	p.SetSpec(s)
	img, err := LoadBytes(context.Background(), p, "code", code, Options{Shellcode: true})
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	const entry = 0x1000000 + 0x200000 - 0x1000
	if img.EntryPoint != entry || img.StackAddress != entry {
		t.Errorf("got entry %v stack %v, want %#x", img.EntryPoint, img.StackAddress, entry)
	}
	if got := p.Register("rsp"); got != entry {
		t.Errorf("rsp got %#x want %#x", got, entry)
	}
	got, err := p.Mem.Read(entry, uint64(len(code)))
	if err != nil || !bytes.Equal(got, code) {
		t.Errorf("code at entry got % x (%v), want % x", got, err, code)
	}
	if rs := regionsLabeled(t, p, "[shellcode_stack]"); len(rs) != 1 || rs[0].Range.Length() != 0x200000 {
		t.Errorf("got shellcode regions %v, want one of 0x200000 bytes", rs)
	}
}

func TestShellcodeErrors(t *testing.T) {
	p := newProcess(t, abi.Linux, nil)
	if _, err := LoadBytes(context.Background(), p, "code", []byte{0x90}, Options{Shellcode: true}); !errors.Is(err, ErrNoArch) {
		t.Errorf("got error %v, want ErrNoArch", err)
	}

	s, err := arch.New(arch.X8664, 64, binary.LittleEndian)
	if err != nil {
		t.Fatalf("arch.New failed: %v", err)
	}
	p.SetSpec(s)
	_, err = LoadBytes(context.Background(), p, "code", make([]byte, 0x1001), Options{Shellcode: true})
	var se *ShellcodeError
	if !errors.As(err, &se) {
		t.Fatalf("got error %v, want *ShellcodeError", err)
	}
	if !errors.Is(err, memory.ErrFault) {
		t.Errorf("got error %v, want it to wrap ErrFault", err)
	}
}

func TestLoadScript(t *testing.T) {
	exe := amd64Exec(elf.ET_EXEC, 0x400000, elftest.Segment{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x400000, Data: pattern(8)})
	p := newProcess(t, abi.Linux, map[string][]byte{
		"/bin/sh": exe.Bytes(),
		"/run.sh": []byte("#! /bin/sh -e -x\necho hi\n"),
	})

	img, err := Load(context.Background(), p, "/run.sh", Options{Args: Args{Argv: []string{"run.sh", "arg"}}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Path != "/bin/sh" {
		t.Errorf("got path %q want /bin/sh", img.Path)
	}
	st, err := ReadStack(p.Mem, p.Spec, img.StackAddress)
	if err != nil {
		t.Fatalf("ReadStack failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/bin/sh", "-e -x", "/run.sh", "arg"}, st.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		path   string
		script string
		want   error
	}{
		{"/nested.sh", "#!/run.sh\n", ErrInterpreterChain},
		{"/missing.sh", "#!/bin/nope\n", nil},
	} {
		p := newProcess(t, abi.Linux, map[string][]byte{
			"/bin/sh": exe.Bytes(),
			"/run.sh": []byte("#!/bin/sh\n"),
			tc.path:   []byte(tc.script),
		})
		_, err := Load(context.Background(), p, tc.path, Options{})
		var ie *InterpreterError
		if !errors.As(err, &ie) {
			t.Errorf("%s: got error %v, want *InterpreterError", tc.path, err)
			continue
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s: got error %v, want %v", tc.path, err, tc.want)
		}
	}
}

func TestParseInterpreterScript(t *testing.T) {
	for _, tc := range []struct {
		name     string
		data     string
		argv     []string
		wantPath string
		wantArgv []string
		wantErr  bool
	}{
		{
			name:     "plain",
			data:     "#!/bin/sh\n",
			argv:     []string{"script"},
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "/s"},
		},
		{
			name:     "argument with spaces",
			data:     "#!\t/usr/bin/env python3 -u\nprint()\n",
			argv:     []string{"script", "x"},
			wantPath: "/usr/bin/env",
			wantArgv: []string{"/usr/bin/env", "python3 -u", "/s", "x"},
		},
		{
			name:     "no argv",
			data:     "#!/bin/sh",
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "/s"},
		},
		{
			name:    "empty",
			data:    "#!   \n",
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path, argv, err := parseInterpreterScript("/s", []byte(tc.data), tc.argv)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("got nil error, want failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInterpreterScript failed: %v", err)
			}
			if path != tc.wantPath {
				t.Errorf("path got %q want %q", path, tc.wantPath)
			}
			if diff := cmp.Diff(tc.wantArgv, argv); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuxv(t *testing.T) {
	var a Auxv
	if err := a.Add(linux.AT_PAGESZ, 0x1000); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := a.Add(linux.AT_PAGESZ, 0x2000); err == nil {
		t.Errorf("duplicate Add succeeded")
	}
	if err := a.Add(linux.AT_NULL, 0); err == nil {
		t.Errorf("Add(AT_NULL) succeeded")
	}

	s, err := arch.New(arch.X86, 32, binary.LittleEndian)
	if err != nil {
		t.Fatalf("arch.New failed: %v", err)
	}
	b := a.Encode(s, nil)
	if len(b) != 16 {
		t.Fatalf("encoded %d bytes, want 16", len(b))
	}
	got, n, err := DecodeAuxv(s, append(b, 0xff, 0xff))
	if err != nil {
		t.Fatalf("DecodeAuxv failed: %v", err)
	}
	if n != 16 {
		t.Errorf("consumed %d bytes, want 16", n)
	}
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := DecodeAuxv(s, b[:8]); err == nil {
		t.Errorf("DecodeAuxv without terminator succeeded")
	}
	dup := append(append([]byte(nil), b[:8]...), b...)
	if _, _, err := DecodeAuxv(s, dup); err == nil {
		t.Errorf("DecodeAuxv with duplicate key succeeded")
	}
}
