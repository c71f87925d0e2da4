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

// Package proc holds the state of one emulated process: its address space,
// registers, filesystem view, open files, loaded images and hook tables.
// Every load operation receives a *Process and records its results there.
package proc

import (
	"fmt"
	"os"
	"sort"

	"emuload.dev/emuload/pkg/abi"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hook"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/memory"
	"emuload.dev/emuload/pkg/profile"
	"emuload.dev/emuload/pkg/rootfs"
)

// Image is the load record of one mapped image, used for symbolication and
// coverage.
type Image struct {
	// Path is the file the image was loaded from.
	Path string `yaml:"path"`

	// Base is the load address (bias) of the image.
	Base hostarch.Addr `yaml:"base"`

	// Entry is the biased entry point of the image.
	Entry hostarch.Addr `yaml:"entry"`

	// HeaderEntry is e_entry as found in the file.
	HeaderEntry uint64 `yaml:"header_entry"`

	// MemStart and MemEnd bound the page aligned virtual addresses of the
	// image's loadable segments, before biasing.
	MemStart hostarch.Addr `yaml:"mem_start"`
	MemEnd   hostarch.Addr `yaml:"mem_end"`
}

// Range returns the biased address range the image occupies.
func (i *Image) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: i.Base + i.MemStart, End: i.Base + i.MemEnd}
}

// Process is an emulated process.
type Process struct {
	// Spec is the guest architecture. It may be nil before an ELF image
	// is loaded, in which case the loader sets it from the image header.
	Spec *arch.Spec

	// OS is the guest operating system.
	OS abi.OS

	// Profile supplies the address layout.
	Profile *profile.Profile

	// Mem is the guest address space.
	Mem memory.AddressSpace

	// Regs is the guest register file. It is created for Spec by the
	// loader if nil.
	Regs arch.Registers

	// Root is the emulated root filesystem.
	Root *rootfs.FS

	// Files is the process's open file table.
	Files *rootfs.FileTable

	// Images are the load records in load order.
	Images []Image

	// Hooks is the symbol resolution table of a loaded kernel module.
	Hooks *hook.Table

	// Handlers are the emulation handlers dispatched from hook slots.
	Handlers *hook.Registry

	// SyscallTable is the address of the synthetic syscall table of a
	// loaded kernel module.
	SyscallTable hostarch.Addr
}

// Config configures New.
type Config struct {
	// Spec is the guest architecture, or nil to take it from the image.
	Spec *arch.Spec

	OS abi.OS

	// Profile defaults to profile.Default().
	Profile *profile.Profile

	// RootFS is the host directory of the emulated root. It defaults to
	// "/".
	RootFS string

	// MemoryLimit bounds the mapped guest memory; zero is unlimited.
	MemoryLimit uint64
}

// New returns a Process with an empty in-memory address space, the built-in
// syscall hook handlers, and standard streams attached to the host's.
func New(cfg Config) *Process {
	p := &Process{
		Spec:     cfg.Spec,
		OS:       cfg.OS,
		Profile:  cfg.Profile,
		Mem:      memory.NewSpace(cfg.MemoryLimit),
		Files:    rootfs.NewFileTable(),
		Handlers: hook.NewRegistry(),
	}
	if p.Profile == nil {
		p.Profile = profile.Default()
	}
	root := cfg.RootFS
	if root == "" {
		root = "/"
	}
	p.Root = rootfs.New(root)
	p.Files.InstallStdio(os.Stdin, os.Stdout, os.Stderr)
	hook.RegisterSyscalls(p.Handlers)
	if p.Spec != nil {
		p.Regs = arch.NewRegisterFile(p.Spec.Arch)
	}
	return p
}

// SetSpec sets the guest architecture and its default layout, creating a
// register file if none exists.
func (p *Process) SetSpec(s *arch.Spec) {
	s.Layout = p.Profile.Layout(s.Bits)
	p.Spec = s
	if p.Regs == nil {
		p.Regs = arch.NewRegisterFile(s.Arch)
	}
}

// AddImage appends a load record.
func (p *Process) AddImage(img Image) {
	p.Images = append(p.Images, img)
}

// ImageAt returns the image whose range contains addr.
func (p *Process) ImageAt(addr hostarch.Addr) (*Image, bool) {
	for i := range p.Images {
		if p.Images[i].Range().Contains(addr) {
			return &p.Images[i], true
		}
	}
	return nil, false
}

// Symbolize describes addr as image+offset, or as a hook symbol.
func (p *Process) Symbolize(addr hostarch.Addr) string {
	if p.Hooks != nil {
		if e, ok := p.Hooks.Slot(addr); ok {
			return e.Name
		}
	}
	if img, ok := p.ImageAt(addr); ok {
		return fmt.Sprintf("%s+%#x", img.Path, uint64(addr-img.Base))
	}
	return addr.String()
}

// HookContext returns the context handed to hook handlers.
func (p *Process) HookContext() *hook.Context {
	return &hook.Context{Spec: p.Spec, Regs: p.Regs, Mem: p.Mem, Root: p.Root, Files: p.Files}
}

// Dispatch runs the handler for the hook slot at addr.
func (p *Process) Dispatch(addr hostarch.Addr) error {
	if p.Hooks == nil {
		return fmt.Errorf("%w %v: no module loaded", hook.ErrNoHook, addr)
	}
	return p.Hooks.Dispatch(p.HookContext(), p.Handlers, addr)
}

// Register returns the value of a register, or zero if it cannot be read.
func (p *Process) Register(name string) uint64 {
	if p.Regs == nil {
		return 0
	}
	v, _ := p.Regs.Register(name)
	return v
}

// RegisterMap returns all set registers, if the register file can list
// them.
func (p *Process) RegisterMap() map[string]uint64 {
	if rf, ok := p.Regs.(*arch.RegisterFile); ok {
		return rf.Map()
	}
	return nil
}

// SortedImages returns the load records ordered by base address.
func (p *Process) SortedImages() []Image {
	imgs := append([]Image(nil), p.Images...)
	sort.SliceStable(imgs, func(i, j int) bool { return imgs[i].Range().Start < imgs[j].Range().Start })
	return imgs
}

// Close releases the process's open files.
func (p *Process) Close() error {
	return p.Files.CloseAll()
}
