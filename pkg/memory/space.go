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

package memory

import (
	"sync"

	"github.com/google/btree"

	"emuload.dev/emuload/pkg/hostarch"
)

// btreeDegree is the degree of the region index.
const btreeDegree = 8

type page [hostarch.PageSize]byte

// Space is an in-memory AddressSpace.
type Space struct {
	// mu protects all fields below.
	mu sync.Mutex

	// regions holds disjoint regions ordered by start address.
	regions *btree.BTreeG[Region]

	// pages holds written pages keyed by page number. Pages that were
	// never written read as zero.
	pages map[uint64]*page

	// limit is the maximum number of mapped bytes; zero means unlimited.
	limit uint64

	// mapped is the number of mapped bytes.
	mapped uint64
}

// NewSpace returns an empty Space that refuses to map more than limit bytes.
// A zero limit disables the check.
func NewSpace(limit uint64) *Space {
	return &Space{
		regions: btree.NewG(btreeDegree, func(a, b Region) bool {
			return a.Range.Start < b.Range.Start
		}),
		pages: make(map[uint64]*page),
		limit: limit,
	}
}

// Map implements AddressSpace.Map.
func (s *Space) Map(addr hostarch.Addr, size uint64, perm hostarch.AccessType, label string) error {
	ar, err := pageRange("map", addr, size)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.overlapping(ar)) != 0 {
		return &Error{Op: "map", Range: ar, Err: ErrAddressConflict}
	}
	if s.limit != 0 && s.mapped+ar.Length() > s.limit {
		return &Error{Op: "map", Range: ar, Err: ErrOutOfMemory}
	}
	s.mapped += ar.Length()
	s.insert(Region{Range: ar, Perm: perm, Label: label})
	return nil
}

// Protect implements Protector.Protect.
func (s *Space) Protect(addr hostarch.Addr, size uint64, perm hostarch.AccessType) error {
	ar, err := pageRange("protect", addr, size)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.covered(ar) {
		return &Error{Op: "protect", Range: ar, Err: ErrFault}
	}
	old := s.overlapping(ar)
	for _, r := range old {
		s.regions.Delete(r)
		if r.Range.Start < ar.Start {
			s.regions.ReplaceOrInsert(Region{Range: hostarch.AddrRange{Start: r.Range.Start, End: ar.Start}, Perm: r.Perm, Label: r.Label})
		}
		if r.Range.End > ar.End {
			s.regions.ReplaceOrInsert(Region{Range: hostarch.AddrRange{Start: ar.End, End: r.Range.End}, Perm: r.Perm, Label: r.Label})
		}
	}
	for _, r := range old {
		s.insert(Region{Range: r.Range.Intersect(ar), Perm: perm, Label: r.Label})
	}
	return nil
}

// Read implements AddressSpace.Read.
func (s *Space) Read(addr hostarch.Addr, size uint64) ([]byte, error) {
	ar, ok := addr.ToRange(size)
	if !ok {
		return nil, &Error{Op: "read", Range: ar, Err: ErrInvalidArgument}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.covered(ar) {
		return nil, &Error{Op: "read", Range: ar, Err: ErrFault}
	}
	buf := make([]byte, size)
	for done := uint64(0); done < size; {
		cur := addr + hostarch.Addr(done)
		off := cur.PageOffset()
		n := min(size-done, hostarch.PageSize-off)
		if p := s.pages[uint64(cur)>>hostarch.PageShift]; p != nil {
			copy(buf[done:done+n], p[off:off+n])
		}
		done += n
	}
	return buf, nil
}

// Write implements AddressSpace.Write.
func (s *Space) Write(addr hostarch.Addr, data []byte) error {
	size := uint64(len(data))
	ar, ok := addr.ToRange(size)
	if !ok {
		return &Error{Op: "write", Range: ar, Err: ErrInvalidArgument}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.covered(ar) {
		return &Error{Op: "write", Range: ar, Err: ErrFault}
	}
	for done := uint64(0); done < size; {
		cur := addr + hostarch.Addr(done)
		off := cur.PageOffset()
		n := min(size-done, hostarch.PageSize-off)
		pn := uint64(cur) >> hostarch.PageShift
		p := s.pages[pn]
		if p == nil {
			p = new(page)
			s.pages[pn] = p
		}
		copy(p[off:off+n], data[done:done+n])
		done += n
	}
	return nil
}

// IsMapped implements AddressSpace.IsMapped.
func (s *Space) IsMapped(addr hostarch.Addr, size uint64) bool {
	ar, ok := addr.ToRange(size)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.covered(ar)
}

// Regions returns all regions in address order.
func (s *Space) Regions() []Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := make([]Region, 0, s.regions.Len())
	s.regions.Ascend(func(r Region) bool {
		rs = append(rs, r)
		return true
	})
	return rs
}

// FindRegion returns the region containing addr.
func (s *Space) FindRegion(addr hostarch.Addr) (Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found Region
	ok := false
	s.regions.DescendLessOrEqual(Region{Range: hostarch.AddrRange{Start: addr}}, func(r Region) bool {
		found, ok = r, r.Range.Contains(addr)
		return false
	})
	return found, ok
}

// MappedBytes returns the total size of all regions.
func (s *Space) MappedBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapped
}

// overlapping returns the regions that intersect ar, in address order.
//
// Preconditions: s.mu must be locked.
func (s *Space) overlapping(ar hostarch.AddrRange) []Region {
	var rs []Region
	s.regions.DescendLessOrEqual(Region{Range: hostarch.AddrRange{Start: ar.Start}}, func(r Region) bool {
		if r.Range.Overlaps(ar) {
			rs = append(rs, r)
		}
		return false
	})
	s.regions.AscendGreaterOrEqual(Region{Range: hostarch.AddrRange{Start: ar.Start + 1}}, func(r Region) bool {
		if r.Range.Start >= ar.End {
			return false
		}
		rs = append(rs, r)
		return true
	})
	return rs
}

// covered returns true if every byte of ar lies in some region. An empty
// range is covered iff its start is mapped.
//
// Preconditions: s.mu must be locked.
func (s *Space) covered(ar hostarch.AddrRange) bool {
	if ar.Length() == 0 {
		ar.End = ar.Start + 1
	}
	next := ar.Start
	for _, r := range s.overlapping(ar) {
		if r.Range.Start > next {
			return false
		}
		next = r.Range.End
	}
	return next >= ar.End
}

// insert adds r, merging it with compatible neighbours.
//
// Preconditions: s.mu must be locked. r does not overlap any region.
func (s *Space) insert(r Region) {
	if r.Range.Start > 0 {
		var prev Region
		found := false
		s.regions.DescendLessOrEqual(Region{Range: hostarch.AddrRange{Start: r.Range.Start - 1}}, func(p Region) bool {
			prev, found = p, true
			return false
		})
		if found && prev.mergeable(r) {
			s.regions.Delete(prev)
			r.Range.Start = prev.Range.Start
		}
	}
	if next, ok := s.regions.Get(Region{Range: hostarch.AddrRange{Start: r.Range.End}}); ok && r.mergeable(next) {
		s.regions.Delete(next)
		r.Range.End = next.Range.End
	}
	s.regions.ReplaceOrInsert(r)
}
