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

// Package loader builds the initial image of an emulated process: it maps an
// executable and its interpreter, writes the initial stack and sets the
// registers execution starts with.
//
// Relocatable kernel modules are handed to package kmod, and raw code is
// placed in a scratch region without any ELF processing.
package loader

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"

	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/loader/kmod"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/proc"
)

var (
	// ErrUnsupportedFileType is returned for ELF files that are neither
	// executables, shared objects nor relocatable objects.
	ErrUnsupportedFileType = errors.New("unsupported ELF file type")

	// ErrInterpreterChain is returned when an interpreter requests an
	// interpreter of its own, or a script names another script.
	ErrInterpreterChain = errors.New("nested interpreters are not supported")

	// ErrArchMismatch is returned when an image does not match the
	// architecture already selected for the process.
	ErrArchMismatch = errors.New("image architecture does not match process")

	// ErrNoArch is returned when raw code is loaded into a process without
	// an architecture.
	ErrNoArch = errors.New("raw code requires an explicit architecture")
)

// InterpreterError is returned when the PT_INTERP target of an executable
// cannot be resolved or read.
type InterpreterError struct {
	// Path is the interpreter path named by the executable.
	Path string

	Err error
}

// Error implements error.Error.
func (e *InterpreterError) Error() string {
	return fmt.Sprintf("resolving interpreter %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *InterpreterError) Unwrap() error {
	return e.Err
}

// Args are the initial arguments and environment of the process.
type Args struct {
	// Argv is the argument vector. Argv[0] is conventionally the program
	// path.
	Argv []string

	// Env is the environment. Entries are placed on the stack ordered by
	// key.
	Env map[string]string
}

// Options controls a load.
type Options struct {
	Args

	// Shellcode treats the input as raw machine code rather than a file
	// format.
	Shellcode bool

	// Strict makes unsupported kernel module relocations fatal.
	Strict bool

	// script is set while loading the interpreter of a "#!" script.
	script bool
}

// InterpImage describes a loaded interpreter.
type InterpImage struct {
	// Path is the interpreter path inside the root filesystem.
	Path string `yaml:"path"`

	// Base is the load bias of the interpreter.
	Base hostarch.Addr `yaml:"base"`

	// Entry is the biased entry point of the interpreter.
	Entry hostarch.Addr `yaml:"entry"`

	MemStart hostarch.Addr `yaml:"mem_start"`
	MemEnd   hostarch.Addr `yaml:"mem_end"`
}

// Image is the state of a freshly built process image.
type Image struct {
	// Path is the loaded file.
	Path string `yaml:"path"`

	// LoadAddress is the load bias of the main image.
	LoadAddress hostarch.Addr `yaml:"load_address"`

	// MemStart and MemEnd bound the page aligned virtual addresses of the
	// loadable segments, before biasing.
	MemStart hostarch.Addr `yaml:"mem_start"`
	MemEnd   hostarch.Addr `yaml:"mem_end"`

	// BrkAddress is the initial program break.
	BrkAddress hostarch.Addr `yaml:"brk_address"`

	// StackAddress is the initial stack pointer.
	StackAddress hostarch.Addr `yaml:"stack_address"`

	// EntryPoint is where execution starts: the interpreter's entry if
	// there is one, otherwise ELFEntry.
	EntryPoint hostarch.Addr `yaml:"entry_point"`

	// ELFEntry is the biased entry point of the main image.
	ELFEntry hostarch.Addr `yaml:"elf_entry"`

	// Interp is the loaded interpreter, if any.
	Interp *InterpImage `yaml:"interp,omitempty"`

	// MmapBase is where anonymous mappings of the process start.
	MmapBase hostarch.Addr `yaml:"mmap_base"`

	// Auxv is the auxiliary vector written to the stack.
	Auxv Auxv `yaml:"auxv,omitempty"`

	// Module is set when the input was a relocatable kernel module.
	Module *kmod.Module `yaml:"module,omitempty"`
}

// Load reads path from the process's root filesystem and loads it.
func Load(ctx context.Context, p *proc.Process, path string, opts Options) (*Image, error) {
	data, err := p.Root.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBytes(ctx, p, path, data, opts)
}

// LoadBytes loads the contents of a file named path.
//
// On failure the regions mapped so far are left in place; callers discard
// the process.
func LoadBytes(ctx context.Context, p *proc.Process, path string, data []byte, opts Options) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Shellcode {
		return loadShellcode(p, data)
	}
	if isScript(data) {
		return loadScript(ctx, p, path, data, opts)
	}
	img, err := elfimage.Parse(path, data)
	if err != nil {
		return nil, err
	}
	return LoadImage(ctx, p, img, opts)
}

// LoadImage loads a parsed ELF image.
func LoadImage(ctx context.Context, p *proc.Process, img *elfimage.Image, opts Options) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch img.Header.Type {
	case elf.ET_EXEC, elf.ET_DYN:
		return loadExecutable(p, img, opts.Args)
	case elf.ET_REL:
		if err := selectSpec(p, img); err != nil {
			return nil, err
		}
		m, err := kmod.Load(ctx, p, img, kmod.Options{Strict: opts.Strict})
		if err != nil {
			return nil, err
		}
		return &Image{
			Path:         img.Path,
			LoadAddress:  m.Base,
			MemStart:     0,
			MemEnd:       hostarch.Addr(m.Size),
			BrkAddress:   m.End(),
			StackAddress: m.StackAddress,
			EntryPoint:   m.Entry,
			ELFEntry:     m.Entry,
			MmapBase:     p.Spec.Layout.MmapBase,
			Module:       m,
		}, nil
	default:
		return nil, fmt.Errorf("%s: %w: %v", img.Path, ErrUnsupportedFileType, img.Header.Type)
	}
}

// selectSpec derives the architecture from img and installs it on p, or
// checks that img matches the architecture p already has.
func selectSpec(p *proc.Process, img *elfimage.Image) error {
	h := &img.Header
	s, err := arch.FromHeader(h.Machine, h.Class, h.Data)
	if err != nil {
		return &elfimage.FormatError{Path: img.Path, Msg: "unsupported machine", Err: err}
	}
	if p.Spec != nil {
		if p.Spec.Arch != s.Arch || p.Spec.Bits != s.Bits || p.Spec.Order != s.Order {
			return fmt.Errorf("%s: %w: image is %v, process is %v", img.Path, ErrArchMismatch, s, p.Spec)
		}
		s = p.Spec
	}
	p.SetSpec(s)
	log.Debugf("%s: architecture %v, layout stack %v load %v interp %v", img.Path, s, s.Layout.StackBase, s.Layout.LoadBase, s.Layout.InterpBase)
	return nil
}
