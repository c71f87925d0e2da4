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
	"emuload.dev/emuload/pkg/loader"
	"emuload.dev/emuload/pkg/log"
)

// Load implements subcommands.Command for the "load" command.
type Load struct {
	output    string
	shellcode bool
	env       envFlags
}

// Name implements subcommands.Command.Name.
func (*Load) Name() string {
	return "load"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Load) Synopsis() string {
	return "build the initial process image of a binary and print it"
}

// Usage implements subcommands.Command.Usage.
func (*Load) Usage() string {
	return `load [flags] <path> [args...] - build the initial process image of a binary.

The path is resolved in --rootfs and may name an ELF executable, a shared
object, a "#!" script or a kernel module. With -shellcode, path is a host
file of raw code and --arch is required.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Load) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.output, "o", "yaml", "output format (yaml, text).")
	f.BoolVar(&l.shellcode, "shellcode", false, "load path from the host as raw code.")
	f.Var(&l.env, "env", "environment variable KEY=VALUE passed to the guest. May be repeated.")
}

// Execute implements subcommands.Command.Execute.
func (l *Load) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out, ok := outputMap[l.output]
	if !ok {
		Fatalf("unsupported output format %q", l.output)
	}
	conf := args[0].(*config.Config)

	p, err := newProcess(conf)
	if err != nil {
		Fatalf("creating process: %v", err)
	}
	defer p.Close()

	path := f.Arg(0)
	opts := loader.Options{
		Args: loader.Args{
			Argv: f.Args(),
			Env:  l.env,
		},
		Shellcode: l.shellcode,
		Strict:    conf.Strict,
	}

	var img *loader.Image
	if l.shellcode {
		code, rerr := os.ReadFile(path)
		if rerr != nil {
			Fatalf("reading shellcode: %v", rerr)
		}
		img, err = loader.LoadBytes(ctx, p, path, code, opts)
	} else {
		img, err = loader.Load(ctx, p, path, opts)
	}
	if err != nil {
		Fatalf("loading %q: %v", path, err)
	}
	log.Infof("Loaded %q, entry %v, stack %v", path, img.EntryPoint, img.StackAddress)

	r, err := newReport(p, img, !l.shellcode && img.Module == nil)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := out(os.Stdout, r); err != nil {
		Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}
