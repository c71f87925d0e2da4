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
	"debug/elf"

	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/proc"
)

// loadInterpreter maps the dynamic linker named by an executable's PT_INTERP
// segment.
//
// A position independent interpreter is placed at the layout's interpreter
// base; an ET_EXEC interpreter is mapped where it was linked. An interpreter
// that itself requests an interpreter is rejected.
func loadInterpreter(p *proc.Process, path string) (*InterpImage, error) {
	resolved, err := p.Root.Resolve(path)
	if err != nil {
		return nil, &InterpreterError{Path: path, Err: err}
	}
	data, err := p.Root.ReadFile(resolved)
	if err != nil {
		return nil, &InterpreterError{Path: path, Err: err}
	}
	img, err := elfimage.Parse(resolved, data)
	if err != nil {
		return nil, &InterpreterError{Path: path, Err: err}
	}
	if _, ok := img.Interp(); ok {
		return nil, &InterpreterError{Path: path, Err: ErrInterpreterChain}
	}
	if err := selectSpec(p, img); err != nil {
		return nil, &InterpreterError{Path: path, Err: err}
	}

	var bias hostarch.Addr
	switch img.Header.Type {
	case elf.ET_DYN:
		bias = p.Spec.Layout.InterpBase
	case elf.ET_EXEC:
	default:
		return nil, &InterpreterError{Path: path, Err: ErrUnsupportedFileType}
	}

	m, err := mapImage(p.Mem, img, bias)
	if err != nil {
		return nil, err
	}
	p.AddImage(proc.Image{
		Path:        resolved,
		Base:        bias,
		Entry:       m.entry,
		HeaderEntry: img.Header.Entry,
		MemStart:    m.memStart,
		MemEnd:      m.memEnd,
	})
	log.Debugf("interpreter %s at %v, entry %v", resolved, bias, m.entry)
	return &InterpImage{
		Path:     resolved,
		Base:     bias,
		Entry:    m.entry,
		MemStart: m.memStart,
		MemEnd:   m.memEnd,
	}, nil
}
