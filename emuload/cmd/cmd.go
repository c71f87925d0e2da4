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

// Package cmd holds implementations of the emuload commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"emuload.dev/emuload/emuload/config"
	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/proc"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

// envFlags collects repeated -env K=V flags.
type envFlags map[string]string

// String implements flag.Value.
func (e *envFlags) String() string {
	return fmt.Sprintf("%v", map[string]string(*e))
}

// Get implements flag.Getter.
func (e *envFlags) Get() any {
	return *e
}

// Set implements flag.Value.
func (e *envFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("invalid environment variable %q, must be KEY=VALUE", s)
	}
	if *e == nil {
		*e = make(envFlags)
	}
	(*e)[k] = v
	return nil
}

// newProcess creates an empty process from the global configuration.
func newProcess(conf *config.Config) (*proc.Process, error) {
	prof, err := conf.LoadProfile()
	if err != nil {
		return nil, err
	}
	spec, err := conf.Spec()
	if err != nil {
		return nil, err
	}
	p := proc.New(proc.Config{
		OS:          conf.OS,
		Profile:     prof,
		RootFS:      conf.RootFS,
		MemoryLimit: conf.MemoryLimit,
	})
	if spec != nil {
		p.SetSpec(spec)
	}
	return p, nil
}
