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

// Package profile holds the per-OS address layout used to build process
// images. Profiles are TOML files; every key is optional and overrides the
// built-in default of the same name.
//
// Addresses are written as strings so that values above the signed 64-bit
// range can be expressed:
//
//	[OS64]
//	stack_address = "0x7ffffffde000"
//	vsyscall_address = "0xffffffffff600000"
package profile

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"

	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
)

// Hex is an unsigned integer that decodes from a decimal or 0x-prefixed
// string and encodes as a hex string.
type Hex uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hex) UnmarshalText(b []byte) error {
	s := strings.ReplaceAll(strings.TrimSpace(string(b)), "_", "")
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", string(b), err)
	}
	*h = Hex(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Hex) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// String implements fmt.Stringer.
func (h Hex) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// Addr returns h as a guest address.
func (h Hex) Addr() hostarch.Addr {
	return hostarch.Addr(h)
}

// Layout is the address layout for one word size.
type Layout struct {
	StackAddress     Hex `toml:"stack_address"`
	StackSize        Hex `toml:"stack_size"`
	LoadAddress      Hex `toml:"load_address"`
	InterpAddress    Hex `toml:"interp_address"`
	MmapAddress      Hex `toml:"mmap_address"`
	VsyscallAddress  Hex `toml:"vsyscall_address,omitempty"`
	VsyscallSize     Hex `toml:"vsyscall_size,omitempty"`
	ShellcodeAddress Hex `toml:"shellcode_address"`
	ShellcodeSize    Hex `toml:"shellcode_size"`
}

// Kernel describes the identity of the emulated process.
type Kernel struct {
	UID uint64 `toml:"uid"`
	GID uint64 `toml:"gid"`
}

// Module is the layout used when loading a relocatable kernel module.
type Module struct {
	// LoadAddress is where the module file is mapped.
	LoadAddress Hex `toml:"load_address"`

	// HookAddress and HookSize describe the window of hook slots handed
	// out to undefined symbols.
	HookAddress Hex `toml:"hook_address"`
	HookSize    Hex `toml:"hook_size"`

	// SyscallTableAddress and SyscallTableSize describe the synthetic
	// syscall table page.
	SyscallTableAddress Hex `toml:"syscall_table_address"`
	SyscallTableSize    Hex `toml:"syscall_table_size"`

	// Abs64Base is added to 64-bit absolute relocations.
	Abs64Base Hex `toml:"abs64_base"`
}

// Profile is a complete layout configuration.
type Profile struct {
	Kernel Kernel `toml:"KERNEL"`
	OS32   Layout `toml:"OS32"`
	OS64   Layout `toml:"OS64"`
	Module Module `toml:"MODULE"`
}

var defaultProfile = &Profile{
	Kernel: Kernel{UID: 1000, GID: 1000},
	OS32: Layout{
		StackAddress:     0x7ff0d000,
		StackSize:        0x30000,
		LoadAddress:      0x56555000,
		InterpAddress:    0x047ba000,
		MmapAddress:      0x90000000,
		ShellcodeAddress: 0x1000000,
		ShellcodeSize:    0x200000,
	},
	OS64: Layout{
		StackAddress:     0x7ffffffde000,
		StackSize:        0x30000,
		LoadAddress:      0x555555554000,
		InterpAddress:    0x7ffff7dd5000,
		MmapAddress:      0x7fffb7dd6000,
		VsyscallAddress:  0xffffffffff600000,
		VsyscallSize:     0x1000,
		ShellcodeAddress: 0x1000000,
		ShellcodeSize:    0x200000,
	},
	Module: Module{
		LoadAddress:         0x1000,
		HookAddress:         0x1000000,
		HookSize:            0x1000,
		SyscallTableAddress: 0x1001000,
		SyscallTableSize:    0x1000,
		Abs64Base:           0x2000000,
	},
}

// Default returns a copy of the built-in profile.
func Default() *Profile {
	return deepcopy.Copy(defaultProfile).(*Profile)
}

// Decode reads a TOML profile from r on top of the built-in defaults.
func Decode(r io.Reader) (*Profile, error) {
	p := Default()
	md, err := toml.NewDecoder(r).Decode(p)
	if err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	warnUndecoded(md)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads the TOML profile at path on top of the built-in defaults. An
// empty path returns the defaults.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default(), nil
	}
	p := Default()
	md, err := toml.DecodeFile(path, p)
	if err != nil {
		return nil, fmt.Errorf("loading profile %q: %w", path, err)
	}
	warnUndecoded(md)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	log.Infof("Loaded profile from %q", path)
	return p, nil
}

func warnUndecoded(md toml.MetaData) {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	sort.Strings(names)
	log.Warningf("Ignoring unknown profile keys: %s", strings.Join(names, ", "))
}

// Validate checks the profile for values the loader cannot use.
func (p *Profile) Validate() error {
	for name, l := range map[string]*Layout{"OS32": &p.OS32, "OS64": &p.OS64} {
		if l.StackSize == 0 {
			return fmt.Errorf("%s.stack_size must be non-zero", name)
		}
		for key, v := range map[string]Hex{
			"stack_address":  l.StackAddress,
			"load_address":   l.LoadAddress,
			"interp_address": l.InterpAddress,
		} {
			if !v.Addr().IsPageAligned() {
				return fmt.Errorf("%s.%s %v is not page aligned", name, key, v)
			}
		}
	}
	if p.Module.HookSize == 0 || p.Module.SyscallTableSize == 0 {
		return fmt.Errorf("MODULE hook_size and syscall_table_size must be non-zero")
	}
	return nil
}

// Layout returns the address layout for the given word size.
func (p *Profile) Layout(bits int) arch.Layout {
	l := &p.OS64
	if bits == 32 {
		l = &p.OS32
	}
	return arch.Layout{
		StackBase:     l.StackAddress.Addr(),
		StackSize:     uint64(l.StackSize),
		LoadBase:      l.LoadAddress.Addr(),
		InterpBase:    l.InterpAddress.Addr(),
		MmapBase:      l.MmapAddress.Addr(),
		VsyscallBase:  l.VsyscallAddress.Addr(),
		VsyscallSize:  uint64(l.VsyscallSize),
		ShellcodeBase: l.ShellcodeAddress.Addr(),
		ShellcodeSize: uint64(l.ShellcodeSize),
		UID:           p.Kernel.UID,
		GID:           p.Kernel.GID,
	}
}

// Encode writes p to w as TOML.
func (p *Profile) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(p)
}

// WriteFile writes p to path as TOML.
func (p *Profile) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
