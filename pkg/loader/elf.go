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
	"fmt"

	"emuload.dev/emuload/pkg/abi"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/elfimage"
	"emuload.dev/emuload/pkg/hostarch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/memory"
	"emuload.dev/emuload/pkg/proc"
)

const (
	// brkSlack separates the initial program break from the end of the
	// main image.
	brkSlack = 0x2000

	// stackLabel names the stack region.
	stackLabel = "[stack]"

	// freeBSDFramePointerOffset is the offset of the initial frame pointer
	// from the stack base on FreeBSD.
	freeBSDFramePointerOffset = 0x40
)

// loadBias returns the address an image of the given type is loaded at.
// Executables are linked at their final address; shared objects are placed
// at base.
func loadBias(t elf.Type, base hostarch.Addr) (hostarch.Addr, error) {
	switch t {
	case elf.ET_EXEC:
		return 0, nil
	case elf.ET_DYN:
		return base, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedFileType, t)
	}
}

// addressRange returns the page aligned span of the loadable segments,
// before biasing.
func addressRange(segs []elfimage.Segment) (start, end hostarch.Addr, ok bool) {
	for i, s := range segs {
		lo := hostarch.Addr(s.Vaddr).RoundDown()
		hi, ok := hostarch.Addr(s.Vaddr + s.Memsz).RoundUp()
		if !ok {
			return 0, 0, false
		}
		if i == 0 || lo < start {
			start = lo
		}
		if i == 0 || hi > end {
			end = hi
		}
	}
	return start, end, len(segs) > 0
}

// mapping is an image mapped into an address space.
type mapping struct {
	bias     hostarch.Addr
	memStart hostarch.Addr
	memEnd   hostarch.Addr
	entry    hostarch.Addr
}

// mapImage maps the loadable segments of img at bias.
//
// Each segment maps the pages its file contents touch. Pages already mapped
// by an earlier segment of the same image are shared, with their
// permissions widened to cover both segments. A last pass maps any pages of
// [bias+memStart, bias+memEnd) still unmapped, such as trailing bss, with
// the permissions of the nearest preceding segment.
func mapImage(mem memory.AddressSpace, img *elfimage.Image, bias hostarch.Addr) (mapping, error) {
	segs := img.Loadable()
	memStart, memEnd, ok := addressRange(segs)
	if !ok {
		return mapping{}, &elfimage.FormatError{Path: img.Path, Msg: "no loadable segments with a valid range"}
	}
	m := mapping{
		bias:     bias,
		memStart: memStart,
		memEnd:   memEnd,
		entry:    bias + hostarch.Addr(img.Header.Entry),
	}
	for i := range segs {
		s := &segs[i]
		vaddr := bias + hostarch.Addr(s.Vaddr)
		start := vaddr.RoundDown()
		end, ok := (vaddr + hostarch.Addr(s.Filesz)).RoundUp()
		if !ok {
			return m, &elfimage.FormatError{Path: img.Path, Msg: fmt.Sprintf("segment %d wraps the address space", i)}
		}
		if err := mapPages(mem, hostarch.AddrRange{Start: start, End: end}, s.Perm(), img.Path); err != nil {
			return m, err
		}
		if s.Filesz == 0 {
			continue
		}
		if err := mem.Write(vaddr, img.SegmentData(s)); err != nil {
			return m, err
		}
		log.Debugf("%s: segment %d %v-%v %v", img.Path, i, vaddr, vaddr+hostarch.Addr(s.Memsz), s.Perm())
	}

	// Fill gaps, including bss beyond the last file page.
	full := hostarch.AddrRange{Start: bias + memStart, End: bias + memEnd}
	for addr := full.Start; addr < full.End; {
		if mem.IsMapped(addr, hostarch.PageSize) {
			addr += hostarch.PageSize
			continue
		}
		run := addr
		for run < full.End && !mem.IsMapped(run, hostarch.PageSize) {
			run += hostarch.PageSize
		}
		perm := precedingPerm(segs, addr-bias)
		if err := mem.Map(addr, uint64(run-addr), perm, img.Path); err != nil {
			return m, err
		}
		addr = run
	}
	return m, nil
}

// mapPages maps the unmapped pages of ar with perm. Mapped pages that belong
// to the same image have perm added to their permissions; pages mapped by
// anything else are a conflict.
func mapPages(mem memory.AddressSpace, ar hostarch.AddrRange, perm hostarch.AccessType, label string) error {
	prot, _ := mem.(memory.Protector)
	for addr := ar.Start; addr < ar.End; {
		if !mem.IsMapped(addr, hostarch.PageSize) {
			run := addr
			for run < ar.End && !mem.IsMapped(run, hostarch.PageSize) {
				run += hostarch.PageSize
			}
			if err := mem.Map(addr, uint64(run-addr), perm, label); err != nil {
				return err
			}
			addr = run
			continue
		}
		if prot != nil {
			r, ok := prot.FindRegion(addr)
			if !ok || r.Label != label {
				return &memory.Error{Op: "map", Range: hostarch.AddrRange{Start: addr, End: addr + hostarch.PageSize}, Err: memory.ErrAddressConflict}
			}
			if !r.Perm.SupersetOf(perm) {
				if err := prot.Protect(addr, hostarch.PageSize, r.Perm.Union(perm)); err != nil {
					return err
				}
			}
		}
		addr += hostarch.PageSize
	}
	return nil
}

// precedingPerm returns the permissions of the last segment starting at or
// below vaddr, or of the first segment if none does.
func precedingPerm(segs []elfimage.Segment, vaddr hostarch.Addr) hostarch.AccessType {
	perm := segs[0].Perm()
	best := hostarch.Addr(0)
	found := false
	for i := range segs {
		start := hostarch.Addr(segs[i].Vaddr).RoundDown()
		if start <= vaddr && (!found || start >= best) {
			best, perm, found = start, segs[i].Perm(), true
		}
	}
	return perm
}

// loadExecutable loads an ET_EXEC or ET_DYN image, its interpreter and the
// initial stack.
func loadExecutable(p *proc.Process, img *elfimage.Image, args Args) (*Image, error) {
	if err := selectSpec(p, img); err != nil {
		return nil, err
	}
	spec := p.Spec
	layout := &spec.Layout
	bias, err := loadBias(img.Header.Type, layout.LoadBase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", img.Path, err)
	}

	if err := p.Mem.Map(layout.StackBase, layout.StackSize, hostarch.ReadWrite, stackLabel); err != nil {
		return nil, err
	}
	if p.OS == abi.FreeBSD {
		if err := seedFreeBSD(p); err != nil {
			return nil, err
		}
	}

	m, err := mapImage(p.Mem, img, bias)
	if err != nil {
		return nil, err
	}
	out := &Image{
		Path:        img.Path,
		LoadAddress: bias,
		MemStart:    m.memStart,
		MemEnd:      m.memEnd,
		BrkAddress:  bias + m.memEnd + brkSlack,
		ELFEntry:    m.entry,
		EntryPoint:  m.entry,
		MmapBase:    layout.MmapBase,
	}
	p.AddImage(proc.Image{
		Path:        img.Path,
		Base:        bias,
		Entry:       m.entry,
		HeaderEntry: img.Header.Entry,
		MemStart:    m.memStart,
		MemEnd:      m.memEnd,
	})

	var interpBase hostarch.Addr
	if path, ok := img.Interp(); ok {
		in, err := loadInterpreter(p, path)
		if err != nil {
			return nil, err
		}
		out.Interp = in
		out.EntryPoint = in.Entry
		interpBase = in.Base
	}

	info := newAuxvInfo(img, bias+m.memStart, interpBase, m.entry)
	sp, auxv, err := writeStack(p, layout.StackTop(), args, info)
	if err != nil {
		return nil, err
	}
	out.StackAddress = sp
	out.Auxv = auxv
	if err := p.Regs.SetRegister(arch.RegSP, uint64(sp)); err != nil {
		return nil, err
	}
	if err := p.Regs.SetRegister(arch.RegPC, uint64(out.EntryPoint)); err != nil {
		return nil, err
	}

	if spec.Arch == arch.X8664 && p.OS == abi.Linux {
		if err := mapVsyscall(p.Mem, layout); err != nil {
			return nil, err
		}
	}
	log.Infof("Loaded %s: entry %v, stack %v, brk %v", img.Path, out.EntryPoint, out.StackAddress, out.BrkAddress)
	return out, nil
}

// seedFreeBSD sets the registers the FreeBSD startup code expects to point
// into the stack.
func seedFreeBSD(p *proc.Process) error {
	base := uint64(p.Spec.Layout.StackBase)
	if err := p.Regs.SetRegister(arch.RegBP, base+freeBSDFramePointerOffset); err != nil {
		return err
	}
	if err := p.Regs.SetRegister(arch.RegArg0, base); err != nil {
		return err
	}
	if p.Spec.Arch == arch.X8664 {
		return p.Regs.SetRegister("r14", base)
	}
	return nil
}
