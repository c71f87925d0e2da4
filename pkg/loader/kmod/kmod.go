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

// Package kmod loads relocatable objects as pseudo kernel modules.
//
// The module file is mapped verbatim. Every undefined symbol it references
// is given a slot in a hook window, so that a call through it lands on an
// address the emulator dispatches to a handler. Relocations are patched
// against the mapped file, and a synthetic syscall table is built from the
// symbols named after syscalls.
package kmod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/hook"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/proc"
)

const (
	// initSymbol is the module's entry point.
	initSymbol = "init_module"

	// pageOffsetBase is the kernel variable scanned for the syscall table.
	// Its slot is seeded with the syscall table address.
	pageOffsetBase = "page_offset_base"

	// thisModuleRelocs patches the module descriptor, which is not
	// emulated.
	thisModuleRelocs = ".rela.gnu.linkonce.this_module"

	hookLabel         = "[hook]"
	syscallTableLabel = "[syscall_table]"
	stackLabel        = "[stack]"
)

// ErrHookWindowExhausted is returned when a module references more undefined
// symbols than the hook window has slots.
var ErrHookWindowExhausted = errors.New("hook window exhausted")

// MissingSymbolError is returned when a module lacks a required symbol.
type MissingSymbolError struct {
	Path string
	Name string
}

// Error implements error.Error.
func (e *MissingSymbolError) Error() string {
	return fmt.Sprintf("%s: missing symbol %q", e.Path, e.Name)
}

// Options controls a module load.
type Options struct {
	// Strict makes unsupported relocation kinds fatal instead of skipped.
	Strict bool
}

// SyscallEntry is a filled slot of the synthetic syscall table.
type SyscallEntry struct {
	Number uint64        `yaml:"number"`
	Name   string        `yaml:"name"`
	Addr   hostarch.Addr `yaml:"addr"`
}

// Module is a loaded kernel module.
type Module struct {
	// Path is the module file.
	Path string `yaml:"path"`

	// Base is where the module file is mapped.
	Base hostarch.Addr `yaml:"base"`

	// Size is the page rounded size of the mapping.
	Size uint64 `yaml:"size"`

	// Entry is the address of init_module.
	Entry hostarch.Addr `yaml:"entry"`

	// StackAddress is the initial stack pointer.
	StackAddress hostarch.Addr `yaml:"stack_address"`

	// HookBase is the start of the hook window.
	HookBase hostarch.Addr `yaml:"hook_base"`

	// SyscallTable is the address of the synthetic syscall table.
	SyscallTable hostarch.Addr `yaml:"syscall_table"`

	// Syscalls are the filled syscall table entries, in write order.
	Syscalls []SyscallEntry `yaml:"syscalls,omitempty"`

	// Relocated counts the patched relocations.
	Relocated int `yaml:"relocated"`

	// Skipped are the relocations of unsupported kinds that were left
	// unpatched.
	Skipped []SkippedRelocation `yaml:"skipped,omitempty"`

	// Symbols resolves names to addresses and hook slots to names.
	Symbols *hook.Table `yaml:"-"`
}

// End returns the first address past the module mapping.
func (m *Module) End() hostarch.Addr {
	return m.Base + hostarch.Addr(m.Size)
}

// Load maps img as a kernel module into p.
//
// The process's architecture must already be selected. On success p.Hooks
// and p.SyscallTable describe the module's hook slots and syscall table.
func Load(ctx context.Context, p *proc.Process, img *elfimage.Image, opts Options) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Spec == nil {
		return nil, fmt.Errorf("%s: process has no architecture", img.Path)
	}
	cfg := &p.Profile.Module
	spec := p.Spec

	m := &Module{
		Path:         img.Path,
		Base:         cfg.LoadAddress.Addr(),
		Size:         hostarch.PageRoundUp(uint64(len(img.Raw))),
		HookBase:     cfg.HookAddress.Addr(),
		SyscallTable: cfg.SyscallTableAddress.Addr(),
		Symbols:      hook.NewTable(),
	}
	if err := p.Mem.Map(m.Base, m.Size, hostarch.AnyAccess, img.Path); err != nil {
		return nil, err
	}
	if err := p.Mem.Write(m.Base, img.Raw); err != nil {
		return nil, err
	}
	if err := p.Mem.Map(m.HookBase, uint64(cfg.HookSize), hostarch.AnyAccess, hookLabel); err != nil {
		return nil, err
	}

	l := &linker{
		mem:     p.Mem,
		spec:    spec,
		img:     img,
		mod:     m,
		opts:    opts,
		next:    m.HookBase,
		hookEnd: m.HookBase + hostarch.Addr(cfg.HookSize),
		abs64:   cfg.Abs64Base.Addr(),
		warn:    log.BasicRateLimitedLogger(time.Second),
	}
	if err := l.relocate(); err != nil {
		return nil, err
	}
	if n := l.warn.Suppressed(); n > 0 {
		log.Warningf("%s: %d more unsupported relocation warnings suppressed", img.Path, n)
	}

	initSym, ok := img.LookupSymbol(initSymbol)
	if !ok || initSym.Undefined() {
		return nil, &MissingSymbolError{Path: img.Path, Name: initSymbol}
	}
	entry, err := l.symbolAddr(initSym)
	if err != nil {
		return nil, err
	}
	m.Entry = entry

	if err := l.buildSyscallTable(uint64(cfg.SyscallTableSize)); err != nil {
		return nil, err
	}

	layout := &spec.Layout
	if err := p.Mem.Map(layout.StackBase, layout.StackSize, hostarch.ReadWrite, stackLabel); err != nil {
		return nil, err
	}
	m.StackAddress = spec.AlignDown(layout.StackTop())
	if err := p.Regs.SetRegister(arch.RegSP, uint64(m.StackAddress)); err != nil {
		return nil, err
	}
	if err := p.Regs.SetRegister(arch.RegPC, uint64(m.Entry)); err != nil {
		return nil, err
	}

	p.Hooks = m.Symbols
	p.SyscallTable = m.SyscallTable
	p.AddImage(proc.Image{
		Path:     img.Path,
		Base:     m.Base,
		Entry:    m.Entry,
		MemStart: 0,
		MemEnd:   hostarch.Addr(m.Size),
	})
	log.Infof("Loaded module %s at %v: init_module %v, %d hook slots, %d relocations (%d skipped)",
		img.Path, m.Base, m.Entry, len(m.Symbols.Slots()), m.Relocated, len(m.Skipped))
	return m, nil
}
