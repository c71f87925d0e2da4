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

package hostarch

import (
	"debug/elf"
	"testing"

	"golang.org/x/sys/unix"
)

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		addr      Addr
		down, up  Addr
		upOK      bool
		inPageOff uint64
	}{
		{0x400000, 0x400000, 0x400000, true, 0},
		{0x400001, 0x400000, 0x401000, true, 1},
		{0x401fff, 0x401000, 0x402000, true, 0xfff},
		{^Addr(0), ^Addr(0xfff), 0, false, 0xfff},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() got %v want %v", tc.addr, got, tc.down)
		}
		got, ok := tc.addr.RoundUp()
		if ok != tc.upOK || (ok && got != tc.up) {
			t.Errorf("%v.RoundUp() got (%v, %t) want (%v, %t)", tc.addr, got, ok, tc.up, tc.upOK)
		}
		if got := tc.addr.PageOffset(); got != tc.inPageOff {
			t.Errorf("%v.PageOffset() got %#x want %#x", tc.addr, got, tc.inPageOff)
		}
	}
}

func TestAlign(t *testing.T) {
	if got := AlignDown[uint64](0x7ffffffde0f3, 8); got != 0x7ffffffde0f0 {
		t.Errorf("AlignDown got %#x want %#x", got, 0x7ffffffde0f0)
	}
	if got := AlignUp[uint32](0x1001, 4); got != 0x1004 {
		t.Errorf("AlignUp got %#x want %#x", got, 0x1004)
	}
	if got := PageRoundUp[uint64](0x1234); got != 0x2000 {
		t.Errorf("PageRoundUp got %#x want %#x", got, 0x2000)
	}
	if got := PageRoundUp[uint32](0x1000); got != 0x1000 {
		t.Errorf("PageRoundUp[uint32] got %#x want %#x", got, 0x1000)
	}
	if got := PageRoundUp(Addr(1)); got != PageSize {
		t.Errorf("PageRoundUp(Addr) got %v want %#x", got, PageSize)
	}
}

func TestAddrRange(t *testing.T) {
	r := AddrRange{0x400000, 0x402000}
	if !r.Contains(0x401fff) || r.Contains(0x402000) {
		t.Errorf("%v.Contains boundary check failed", r)
	}
	if !r.Overlaps(AddrRange{0x401000, 0x403000}) {
		t.Errorf("%v should overlap [0x401000, 0x403000)", r)
	}
	if r.Overlaps(AddrRange{0x402000, 0x403000}) {
		t.Errorf("%v should not overlap [0x402000, 0x403000)", r)
	}
	if got, want := r.Intersect(AddrRange{0x401000, 0x403000}), (AddrRange{0x401000, 0x402000}); got != want {
		t.Errorf("Intersect got %v want %v", got, want)
	}
	pa, ok := AddrRange{0x400010, 0x401001}.PageAligned()
	if !ok || pa != (AddrRange{0x400000, 0x402000}) {
		t.Errorf("PageAligned got (%v, %t) want ([0x400000, 0x402000), true)", pa, ok)
	}
}

func TestAccessType(t *testing.T) {
	at := ProgFlagsAccessType(elf.PF_R | elf.PF_X)
	if got, want := at.String(), "r-x"; got != want {
		t.Errorf("String got %q want %q", got, want)
	}
	if got, want := at.Prot(), unix.PROT_READ|unix.PROT_EXEC; got != want {
		t.Errorf("Prot got %#x want %#x", got, want)
	}
	u := at.Union(Write)
	if u != AnyAccess {
		t.Errorf("Union got %v want %v", u, AnyAccess)
	}
	if !u.SupersetOf(at) || at.SupersetOf(u) {
		t.Errorf("SupersetOf relation wrong for %v and %v", u, at)
	}
}
