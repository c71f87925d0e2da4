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

	"emuload.dev/emuload/pkg/abi/linux"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/hostarch"
)

// AuxEntry is one auxiliary vector entry.
type AuxEntry struct {
	Key   uint64
	Value uint64
}

// MarshalYAML renders the entry with its symbolic key.
func (e AuxEntry) MarshalYAML() (any, error) {
	return struct {
		Key   string `yaml:"key"`
		Value string `yaml:"value"`
	}{linux.AuxvName(e.Key), hostarch.Addr(e.Value).String()}, nil
}

// Auxv is an auxiliary vector in stack order, without the terminating
// AT_NULL entry. Keys are unique.
type Auxv []AuxEntry

// Add appends an entry. Duplicate keys and AT_NULL are rejected.
func (a *Auxv) Add(key, value uint64) error {
	if key == linux.AT_NULL {
		return fmt.Errorf("auxv: %s is implicit", linux.AuxvName(key))
	}
	if _, ok := a.Lookup(key); ok {
		return fmt.Errorf("auxv: duplicate key %s", linux.AuxvName(key))
	}
	*a = append(*a, AuxEntry{Key: key, Value: value})
	return nil
}

// Lookup returns the value of key.
func (a Auxv) Lookup(key uint64) (uint64, bool) {
	for _, e := range a {
		if e.Key == key {
			return e.Value, true
		}
	}
	return 0, false
}

// Encode appends the packed key/value words of a, followed by the AT_NULL
// terminator, to b.
func (a Auxv) Encode(s *arch.Spec, b []byte) []byte {
	for _, e := range a {
		b = s.AppendWord(b, e.Key)
		b = s.AppendWord(b, e.Value)
	}
	b = s.AppendWord(b, linux.AT_NULL)
	return s.AppendWord(b, 0)
}

// DecodeAuxv decodes packed key/value words up to and including the AT_NULL
// terminator. It returns the vector and the number of bytes consumed.
func DecodeAuxv(s *arch.Spec, b []byte) (Auxv, int, error) {
	w := int(s.PointerSize())
	var a Auxv
	for off := 0; off+2*w <= len(b); off += 2 * w {
		key := s.Unpack(b[off : off+w])
		value := s.Unpack(b[off+w : off+2*w])
		if key == linux.AT_NULL {
			return a, off + 2*w, nil
		}
		if err := a.Add(key, value); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("auxv: missing %s terminator", linux.AuxvName(linux.AT_NULL))
}
