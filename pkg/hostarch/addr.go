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

// Package hostarch describes guest addresses and page arithmetic for the
// emulated address space.
package hostarch

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

const (
	// PageShift is the binary log of the guest page size.
	PageShift = 12

	// PageSize is the guest page size.
	PageSize = 1 << PageShift
)

// Addr represents a guest virtual address.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// MarshalYAML renders addresses in hex in YAML reports.
func (v Addr) MarshalYAML() (any, error) {
	return v.String(), nil
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// IsPageAligned returns true if v is aligned to a page boundary.
func (v Addr) IsPageAligned() bool {
	return v&(PageSize-1) == 0
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint64) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}

// PageOffset returns the offset of v into its page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & (PageSize - 1))
}

// AlignDown rounds x down to a multiple of align, which must be a power of
// two.
func AlignDown[T constraints.Unsigned](x, align T) T {
	return x &^ (align - 1)
}

// AlignUp rounds x up to a multiple of align, which must be a power of two.
func AlignUp[T constraints.Unsigned](x, align T) T {
	return (x + align - 1) &^ (align - 1)
}

// Length is an unsigned type wide enough to hold PageSize.
type Length interface {
	~uint | ~uint32 | ~uint64 | ~uintptr
}

// PageRoundUp rounds a byte length up to a whole number of pages.
func PageRoundUp[T Length](x T) T {
	return AlignUp(x, T(PageSize))
}
