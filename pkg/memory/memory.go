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

// Package memory provides the guest address space the loader maps images
// into.
//
// AddressSpace is the interface the loader consumes. Space is an in-memory
// implementation that keeps regions in a B-tree ordered by start address and
// stores page contents sparsely, allocating a page on first write.
package memory

import (
	"bytes"
	"errors"
	"fmt"

	"emuload.dev/emuload/pkg/hostarch"
)

var (
	// ErrAddressConflict is returned when a mapping overlaps an existing
	// one.
	ErrAddressConflict = errors.New("address range already mapped")

	// ErrOutOfMemory is returned when a mapping would exceed the memory
	// limit of the address space.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrFault is returned for an access to an unmapped address.
	ErrFault = errors.New("access to unmapped memory")

	// ErrInvalidArgument is returned for misaligned or empty ranges.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error describes a failed address space operation.
type Error struct {
	// Op is the operation, for example "map" or "write".
	Op string

	// Range is the range the operation was applied to.
	Range hostarch.AddrRange

	// Err is the underlying condition, one of the sentinel errors above.
	Err error
}

// Error implements error.Error.
func (e *Error) Error() string {
	return fmt.Sprintf("memory: %s %v: %v", e.Op, e.Range, e.Err)
}

// Unwrap returns the underlying condition.
func (e *Error) Unwrap() error {
	return e.Err
}

// AddressSpace is the view of guest memory used while building a process
// image.
type AddressSpace interface {
	// Map maps [addr, addr+size) with the given permissions. addr must be
	// page aligned; size is rounded up to whole pages. The label names the
	// region in listings.
	Map(addr hostarch.Addr, size uint64, perm hostarch.AccessType, label string) error

	// Read returns size bytes starting at addr.
	Read(addr hostarch.Addr, size uint64) ([]byte, error)

	// Write copies data to addr. Permissions are not enforced.
	Write(addr hostarch.Addr, data []byte) error

	// IsMapped returns true if every byte of [addr, addr+size) is mapped.
	IsMapped(addr hostarch.Addr, size uint64) bool
}

// Protector is implemented by address spaces that can report and change the
// permissions of mapped pages.
type Protector interface {
	// Protect sets the permissions of [addr, addr+size), which must be
	// fully mapped.
	Protect(addr hostarch.Addr, size uint64, perm hostarch.AccessType) error

	// FindRegion returns the region containing addr.
	FindRegion(addr hostarch.Addr) (Region, bool)
}

// Region is one contiguous mapping.
type Region struct {
	// Range is the page aligned extent of the region.
	Range hostarch.AddrRange

	// Perm is the access the region allows.
	Perm hostarch.AccessType

	// Label names the region, for example "[stack]" or an image path.
	Label string
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("%v %v %s", r.Range, r.Perm, r.Label)
}

// mergeable returns true if r and next can be represented as one region.
func (r Region) mergeable(next Region) bool {
	return r.Range.End == next.Range.Start && r.Perm == next.Perm && r.Label == next.Label
}

// pageRange validates addr and rounds size up to a page aligned range.
func pageRange(op string, addr hostarch.Addr, size uint64) (hostarch.AddrRange, error) {
	ar, ok := addr.ToRange(size)
	if !ok || size == 0 || !addr.IsPageAligned() {
		return ar, &Error{Op: op, Range: ar, Err: ErrInvalidArgument}
	}
	if ar, ok = ar.PageAligned(); !ok {
		return ar, &Error{Op: op, Range: ar, Err: ErrInvalidArgument}
	}
	return ar, nil
}

// ReadCString reads a NUL-terminated string of at most limit bytes from as.
func ReadCString(as AddressSpace, addr hostarch.Addr, limit int) (string, error) {
	var out []byte
	for cur := addr; len(out) < limit; {
		n := min(hostarch.PageSize-cur.PageOffset(), uint64(limit-len(out)))
		chunk, err := as.Read(cur, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk...)
		cur += hostarch.Addr(n)
	}
	return "", fmt.Errorf("string at %v longer than %d bytes", addr, limit)
}
