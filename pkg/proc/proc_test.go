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

package proc

import (
	"encoding/binary"
	"errors"
	"testing"

	"emuload.dev/emuload/pkg/abi"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hook"
	"emuload.dev/emuload/pkg/hostarch"
)

func TestSetSpecSelectsLayout(t *testing.T) {
	p := New(Config{OS: abi.Linux, RootFS: t.TempDir()})
	defer p.Close()
	s, err := arch.New(arch.X86, 32, binary.LittleEndian)
	if err != nil {
		t.Fatalf("arch.New failed: %v", err)
	}
	p.SetSpec(s)
	if got, want := p.Spec.Layout.StackBase, p.Profile.OS32.StackAddress.Addr(); got != want {
		t.Errorf("Layout.StackBase got %v want %v", got, want)
	}
	if p.Regs == nil {
		t.Fatalf("SetSpec did not create a register file")
	}
	if _, err := p.Regs.Register("esp"); err != nil {
		t.Errorf("Register(esp) failed on an x86 register file: %v", err)
	}
}

func TestSymbolize(t *testing.T) {
	p := New(Config{RootFS: t.TempDir()})
	defer p.Close()
	p.AddImage(Image{Path: "/bin/prog", Base: 0x555555554000, MemStart: 0, MemEnd: 0x3000})
	p.AddImage(Image{Path: "/lib/ld.so", Base: 0x7ffff7dd5000, MemStart: 0, MemEnd: 0x2000})
	p.Hooks = hook.NewTable()
	if err := p.Hooks.AddSlot("printk", 0x1000000, false); err != nil {
		t.Fatalf("AddSlot failed: %v", err)
	}
	for _, tc := range []struct {
		addr uint64
		want string
	}{
		{0x555555555040, "/bin/prog+0x1040"},
		{0x7ffff7dd6000, "/lib/ld.so+0x1000"},
		{0x1000000, "printk"},
		{0x1234, "0x1234"},
	} {
		if got := p.Symbolize(hostarch.Addr(tc.addr)); got != tc.want {
			t.Errorf("Symbolize(%#x) got %q want %q", tc.addr, got, tc.want)
		}
	}
	imgs := p.SortedImages()
	if imgs[0].Path != "/bin/prog" {
		t.Errorf("SortedImages()[0] got %q want /bin/prog", imgs[0].Path)
	}
}

func TestDispatch(t *testing.T) {
	p := New(Config{RootFS: t.TempDir()})
	defer p.Close()
	if err := p.Dispatch(0x1000000); !errors.Is(err, hook.ErrNoHook) {
		t.Errorf("Dispatch without a module got %v want %v", err, hook.ErrNoHook)
	}

	p.Hooks = hook.NewTable()
	if err := p.Hooks.AddSlot("printk", 0x1000000, false); err != nil {
		t.Fatalf("AddSlot failed: %v", err)
	}
	var unhandled *hook.UnhandledError
	if err := p.Dispatch(0x1000000); !errors.As(err, &unhandled) || unhandled.Entry.Name != "printk" {
		t.Errorf("Dispatch(printk) got %v want *hook.UnhandledError for printk", err)
	}
	if err := p.Dispatch(0x1000008); !errors.Is(err, hook.ErrNoHook) {
		t.Errorf("Dispatch(unallocated) got %v want %v", err, hook.ErrNoHook)
	}
}
