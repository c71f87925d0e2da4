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
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"emuload.dev/emuload/emuload/config"
	"emuload.dev/emuload/pkg/loader"
	"emuload.dev/emuload/pkg/loader/kmod"
)

// Kmod implements subcommands.Command for the "kmod" command.
type Kmod struct {
	strict bool
}

// Name implements subcommands.Command.Name.
func (*Kmod) Name() string {
	return "kmod"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Kmod) Synopsis() string {
	return "relocate a kernel module and print its hook slots and syscall table"
}

// Usage implements subcommands.Command.Usage.
func (*Kmod) Usage() string {
	return `kmod [flags] <path> - relocate a kernel module.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (k *Kmod) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&k.strict, "strict", false, "fail on unsupported relocations. Also enabled by the global --strict.")
}

// Execute implements subcommands.Command.Execute.
func (k *Kmod) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	p, err := newProcess(conf)
	if err != nil {
		Fatalf("creating process: %v", err)
	}
	defer p.Close()

	path := f.Arg(0)
	img, err := loader.Load(ctx, p, path, loader.Options{
		Args:   loader.Args{Argv: []string{path}},
		Strict: k.strict || conf.Strict,
	})
	if err != nil {
		Fatalf("loading %q: %v", path, err)
	}
	if img.Module == nil {
		Fatalf("%q is not a kernel module", path)
	}
	if err := printModule(os.Stdout, img.Module); err != nil {
		Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func printModule(out io.Writer, m *kmod.Module) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "module\t%s\n", m.Path)
	fmt.Fprintf(w, "base\t%v\n", m.Base)
	fmt.Fprintf(w, "size\t%#x\n", m.Size)
	fmt.Fprintf(w, "init_module\t%v\n", m.Entry)
	fmt.Fprintf(w, "stack\t%v\n", m.StackAddress)
	fmt.Fprintf(w, "relocated\t%d\n", m.Relocated)

	fmt.Fprintf(w, "\nSLOT\tSYMBOL\tBUILTIN\n")
	for _, e := range m.Symbols.Slots() {
		fmt.Fprintf(w, "%v\t%s\t%t\n", e.Addr, e.Name, e.Builtin)
	}

	fmt.Fprintf(w, "\nNR\tSYSCALL\tADDRESS\n")
	for _, s := range m.Syscalls {
		fmt.Fprintf(w, "%d\t%s\t%v\n", s.Number, s.Name, s.Addr)
	}

	if len(m.Skipped) > 0 {
		fmt.Fprintf(w, "\nSECTION\tOFFSET\tTYPE\tSYMBOL\n")
		for _, s := range m.Skipped {
			fmt.Fprintf(w, "%s\t%#x\t%s\t%s\n", s.Section, s.Offset, s.Type, s.Symbol)
		}
	}
	return w.Flush()
}
