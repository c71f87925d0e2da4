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

// Package abi describes the interface between a guest binary and the
// emulated operating system.
package abi

import (
	"fmt"
	"strings"
)

// OS describes the target operating system for an ABI.
//
// Note that OS is architecture-independent. The details of the OS ABI will
// vary between architectures.
type OS int

const (
	// Linux is the Linux ABI.
	Linux OS = iota

	// FreeBSD is the FreeBSD ABI.
	FreeBSD
)

// String implements fmt.Stringer.
func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case FreeBSD:
		return "freebsd"
	default:
		return fmt.Sprintf("OS(%d)", int(o))
	}
}

// ParseOS returns the OS named by s, ignoring case.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return Linux, nil
	case "freebsd":
		return FreeBSD, nil
	default:
		return 0, fmt.Errorf("unknown OS %q", s)
	}
}

// Set implements flag.Value.
func (o *OS) Set(s string) error {
	v, err := ParseOS(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Get implements flag.Getter.
func (o *OS) Get() any {
	return *o
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OS) UnmarshalText(b []byte) error {
	return o.Set(string(b))
}

// MarshalText implements encoding.TextMarshaler.
func (o OS) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
