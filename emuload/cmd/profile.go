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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"emuload.dev/emuload/emuload/config"
	"emuload.dev/emuload/pkg/profile"
)

// Profile implements subcommands.Command for the "profile" command.
type Profile struct {
	defaults bool
	output   string
}

// Name implements subcommands.Command.Name.
func (*Profile) Name() string {
	return "profile"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Profile) Synopsis() string {
	return "print the address layout profile as TOML"
}

// Usage implements subcommands.Command.Usage.
func (*Profile) Usage() string {
	return `profile [flags] - print the profile selected by --profile, or the built-in defaults.

The output is a valid --profile file; -o writes it to a file to edit.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Profile) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.defaults, "defaults", false, "print the built-in defaults even if --profile is set.")
	f.StringVar(&p.output, "o", "", "write the profile to this file instead of stdout.")
}

// Execute implements subcommands.Command.Execute.
func (p *Profile) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	prof := profile.Default()
	if !p.defaults {
		var err error
		if prof, err = conf.LoadProfile(); err != nil {
			Fatalf("loading profile: %v", err)
		}
	}
	if p.output != "" {
		if err := prof.WriteFile(p.output); err != nil {
			Fatalf("writing profile: %v", err)
		}
		return subcommands.ExitSuccess
	}
	if err := prof.Encode(os.Stdout); err != nil {
		Fatalf("writing profile: %v", err)
	}
	return subcommands.ExitSuccess
}
