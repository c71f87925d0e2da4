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
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"emuload.dev/emuload/pkg/loader"
	"emuload.dev/emuload/pkg/memory"
	"emuload.dev/emuload/pkg/proc"
)

// region is the printable form of memory.Region.
type region struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Perm  string `yaml:"perm"`
	Prot  int    `yaml:"prot"`
	Label string `yaml:"label"`
}

// stackReport is the printable form of loader.Stack.
type stackReport struct {
	Argc     uint64      `yaml:"argc"`
	Argv     []string    `yaml:"argv"`
	Env      []string    `yaml:"env,omitempty"`
	Auxv     loader.Auxv `yaml:"auxv"`
	Platform string      `yaml:"platform,omitempty"`
}

// report describes a process after a load.
type report struct {
	Arch      string            `yaml:"arch"`
	OS        string            `yaml:"os"`
	Image     *loader.Image     `yaml:"image"`
	Images    []proc.Image      `yaml:"images"`
	Regions   []region          `yaml:"regions"`
	Registers map[string]string `yaml:"registers"`
	Stack     *stackReport      `yaml:"stack,omitempty"`
}

// newReport collects the state of p after img was loaded into it. The
// initial stack is decoded only for executables, which are the only images
// that get one.
func newReport(p *proc.Process, img *loader.Image, withStack bool) (*report, error) {
	r := &report{
		Arch:      p.Spec.String(),
		OS:        p.OS.String(),
		Image:     img,
		Images:    p.SortedImages(),
		Registers: make(map[string]string),
	}
	if rs, ok := p.Mem.(interface{ Regions() []memory.Region }); ok {
		for _, reg := range rs.Regions() {
			r.Regions = append(r.Regions, region{
				Start: reg.Range.Start.String(),
				End:   reg.Range.End.String(),
				Perm:  reg.Perm.String(),
				Prot:  reg.Perm.Prot(),
				Label: reg.Label,
			})
		}
	}
	for name, v := range p.RegisterMap() {
		r.Registers[name] = fmt.Sprintf("%#x", v)
	}
	if withStack {
		st, err := loader.ReadStack(p.Mem, p.Spec, img.StackAddress)
		if err != nil {
			return nil, fmt.Errorf("decoding initial stack: %w", err)
		}
		r.Stack = &stackReport{
			Argc:     st.Argc,
			Argv:     st.Argv,
			Env:      st.Env,
			Auxv:     st.Auxv,
			Platform: st.Platform,
		}
	}
	return r, nil
}

type outputFunc func(io.Writer, *report) error

// outputMap maps output format names to output functions.
var outputMap = map[string]outputFunc{
	"yaml": outputYAML,
	"text": outputText,
}

func outputYAML(w io.Writer, r *report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func outputText(w io.Writer, r *report) error {
	img := r.Image
	fmt.Fprintf(w, "%s (%s, %s)\n", img.Path, r.Arch, r.OS)
	fmt.Fprintf(w, "load address  %v\n", img.LoadAddress)
	fmt.Fprintf(w, "entry point   %v\n", img.EntryPoint)
	fmt.Fprintf(w, "brk           %v\n", img.BrkAddress)
	fmt.Fprintf(w, "stack         %v\n", img.StackAddress)
	if img.Interp != nil {
		fmt.Fprintf(w, "interpreter   %s at %v\n", img.Interp.Path, img.Interp.Base)
	}
	fmt.Fprintln(w, "\nregions:")
	for _, reg := range r.Regions {
		fmt.Fprintf(w, "  %s-%s %s %s\n", reg.Start, reg.End, reg.Perm, reg.Label)
	}
	fmt.Fprintln(w, "\nregisters:")
	names := make([]string, 0, len(r.Registers))
	for name := range r.Registers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-6s %s\n", name, r.Registers[name])
	}
	if r.Stack != nil {
		fmt.Fprintln(w, "\nstack:")
		fmt.Fprintf(w, "  argc %d\n", r.Stack.Argc)
		for i, a := range r.Stack.Argv {
			fmt.Fprintf(w, "  argv[%d] %q\n", i, a)
		}
		for i, e := range r.Stack.Env {
			fmt.Fprintf(w, "  envp[%d] %q\n", i, e)
		}
		fmt.Fprintf(w, "  platform %q\n", r.Stack.Platform)
	}
	return nil
}
