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

// Package config provides basic infrastructure to set configuration settings
// for emuload. Each setting is defined as a command line flag and stored in
// Config.
package config

import (
	"encoding/binary"
	"fmt"
	"strings"

	"emuload.dev/emuload/pkg/abi"
	"emuload.dev/emuload/pkg/arch"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/profile"
)

// Config holds configuration that is not part of the loaded binary.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name
//  3. Register a new flag in flags.go, with same name and add a description
//  4. Add any necessary validation into validate()
type Config struct {
	// RootFS is the host directory used as the emulated root filesystem.
	RootFS string `flag:"rootfs"`

	// Profile is the path of a TOML layout profile. Empty selects the
	// built-in defaults.
	Profile string `flag:"profile"`

	// OS is the guest operating system.
	OS abi.OS `flag:"os"`

	// Arch is the guest architecture. Empty takes it from the ELF header;
	// raw code requires it.
	Arch string `flag:"arch"`

	// BigEndian selects big endian byte order for raw code.
	BigEndian bool `flag:"big-endian"`

	// MemoryLimit bounds the guest memory mapped by a load, in bytes. Zero
	// is unlimited.
	MemoryLimit uint64 `flag:"memory-limit"`

	// Strict fails kernel module loads on relocation kinds that are
	// otherwise skipped with a warning.
	Strict bool `flag:"strict"`

	// LogFilename is the filename to log to, if not empty. The string
	// "%COMMAND%" is replaced with the subcommand name.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr as well as the
	// log file.
	AlsoLogToStderr bool `flag:"alsologtostderr"`
}

// archBits is the word size of each architecture when running raw code.
var archBits = map[arch.Arch]int{
	arch.X86:     32,
	arch.X8664:   64,
	arch.ARM:     32,
	arch.ARM64:   64,
	arch.MIPS:    32,
	arch.RISCV64: 64,
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.Arch != "" {
		if _, err := arch.ParseArch(c.Arch); err != nil {
			return err
		}
	}
	if c.BigEndian && c.Arch == "" {
		return fmt.Errorf("--big-endian requires --arch")
	}
	return nil
}

// Spec returns the architecture selected by --arch, or nil if none was.
func (c *Config) Spec() (*arch.Spec, error) {
	if c.Arch == "" {
		return nil, nil
	}
	a, err := arch.ParseArch(c.Arch)
	if err != nil {
		return nil, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if c.BigEndian {
		order = binary.BigEndian
	}
	return arch.New(a, archBits[a], order)
}

// LoadProfile returns the profile named by --profile, or the defaults.
func (c *Config) LoadProfile() (*profile.Profile, error) {
	if c.Profile == "" {
		return profile.Default(), nil
	}
	return profile.Load(c.Profile)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.RootFS: %s", c.RootFS)
	log.Infof("Config.Profile: %s", c.Profile)
	log.Infof("Config.OS: %v", c.OS)
	log.Infof("Config.Arch: %s", c.Arch)
	log.Infof("Config.MemoryLimit: %d", c.MemoryLimit)
	log.Infof("Config.Strict: %t", c.Strict)
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	log.Debugf("Config flags: %s", strings.Join(c.ToFlags(), " "))
}
