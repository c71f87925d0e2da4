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
	"fmt"

	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/proc"
)

const (
	shellcodeLabel = "[shellcode_stack]"

	// shellcodeHeadroom is the space left above the code, which the code
	// shares with its stack.
	shellcodeHeadroom = 0x1000
)

// ShellcodeError is returned when raw code cannot be placed.
type ShellcodeError struct {
	// Addr is where the code was to be written.
	Addr hostarch.Addr

	// Size is the length of the code.
	Size int

	Err error
}

// Error implements error.Error.
func (e *ShellcodeError) Error() string {
	return fmt.Sprintf("writing %d bytes of code at %v: %v", e.Size, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ShellcodeError) Unwrap() error {
	return e.Err
}

// loadShellcode maps the scratch region and writes code one page below its
// end. The stack pointer starts at the code and grows down through the
// rest of the region.
func loadShellcode(p *proc.Process, code []byte) (*Image, error) {
	if p.Spec == nil {
		return nil, ErrNoArch
	}
	p.SetSpec(p.Spec)
	l := &p.Spec.Layout
	if l.ShellcodeSize < shellcodeHeadroom {
		return nil, &ShellcodeError{Addr: l.ShellcodeBase, Size: len(code), Err: fmt.Errorf("region of %#x bytes is too small", l.ShellcodeSize)}
	}
	if err := p.Mem.Map(l.ShellcodeBase, l.ShellcodeSize, hostarch.AnyAccess, shellcodeLabel); err != nil {
		return nil, err
	}
	entry := l.ShellcodeBase + hostarch.Addr(l.ShellcodeSize-shellcodeHeadroom)
	if err := p.Mem.Write(entry, code); err != nil {
		return nil, &ShellcodeError{Addr: entry, Size: len(code), Err: err}
	}
	if err := p.Regs.SetRegister(arch.RegSP, uint64(entry)); err != nil {
		return nil, err
	}
	if err := p.Regs.SetRegister(arch.RegPC, uint64(entry)); err != nil {
		return nil, err
	}
	p.AddImage(proc.Image{
		Path:     shellcodeLabel,
		Base:     l.ShellcodeBase,
		Entry:    entry,
		MemStart: 0,
		MemEnd:   hostarch.Addr(l.ShellcodeSize),
	})
	log.Infof("Loaded %d bytes of code at %v", len(code), entry)
	return &Image{
		Path:         shellcodeLabel,
		LoadAddress:  l.ShellcodeBase,
		MemEnd:       hostarch.Addr(l.ShellcodeSize),
		StackAddress: entry,
		EntryPoint:   entry,
		ELFEntry:     entry,
		MmapBase:     l.MmapBase,
	}, nil
}
