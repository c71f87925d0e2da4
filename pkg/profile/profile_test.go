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

package profile

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"emuload.dev/emuload/pkg/arch"
)

func TestDefaultIsCopy(t *testing.T) {
	p := Default()
	p.OS64.StackAddress = 0x1000
	if got := Default().OS64.StackAddress; got != 0x7ffffffde000 {
		t.Errorf("Default().OS64.StackAddress got %v after mutating a copy, want 0x7ffffffde000", got)
	}
}

func TestDecodeOverlay(t *testing.T) {
	const src = `
[KERNEL]
uid = 0

[OS64]
load_address = "0x400000"
vsyscall_address = "0xffffffffff600000"

[MODULE]
hook_address = "16777216"
`
	p, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.Kernel.UID != 0 || p.Kernel.GID != 1000 {
		t.Errorf("Kernel got %+v want {UID:0 GID:1000}", p.Kernel)
	}
	if p.OS64.LoadAddress != 0x400000 {
		t.Errorf("OS64.load_address got %v want 0x400000", p.OS64.LoadAddress)
	}
	if p.OS64.VsyscallAddress != 0xffffffffff600000 {
		t.Errorf("OS64.vsyscall_address got %v want 0xffffffffff600000", p.OS64.VsyscallAddress)
	}
	if p.OS64.StackAddress != 0x7ffffffde000 {
		t.Errorf("OS64.stack_address got %v want default 0x7ffffffde000", p.OS64.StackAddress)
	}
	if p.Module.HookAddress != 0x1000000 {
		t.Errorf("MODULE.hook_address got %v want 0x1000000", p.Module.HookAddress)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, src := range []string{
		"[OS64]\nload_address = \"banana\"\n",
		"[OS32]\nstack_address = \"0x7ff0d001\"\n",
		"[OS32]\nstack_size = \"0\"\n",
		"[MODULE]\nhook_size = \"0\"\n",
	} {
		if _, err := Decode(strings.NewReader(src)); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", src)
		}
	}
}

func TestLayout(t *testing.T) {
	p := Default()
	want := arch.Layout{
		StackBase:     0x7ff0d000,
		StackSize:     0x30000,
		LoadBase:      0x56555000,
		InterpBase:    0x047ba000,
		MmapBase:      0x90000000,
		ShellcodeBase: 0x1000000,
		ShellcodeSize: 0x200000,
		UID:           1000,
		GID:           1000,
	}
	if diff := cmp.Diff(want, p.Layout(32)); diff != "" {
		t.Errorf("Layout(32) mismatch (-want +got):\n%s", diff)
	}
	if got := p.Layout(64).VsyscallBase; got != 0xffffffffff600000 {
		t.Errorf("Layout(64).VsyscallBase got %v want 0xffffffffff600000", got)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	p := Default()
	p.OS32.MmapAddress = 0xa0000000
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode(%q) failed: %v", buf.String(), err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "linux.toml")
	if err := p.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", path, err)
	}
	if diff := cmp.Diff(p, loaded); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}
