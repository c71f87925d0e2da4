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
	"bytes"
	"context"
	"fmt"

	"emuload.dev/emuload/pkg/log"
	"emuload.dev/emuload/pkg/proc"
)

const (
	// interpreterScriptMagic identifies an interpreter script.
	interpreterScriptMagic = "#!"

	// interpMaxLineLength is the maximum length for the first line of an
	// interpreter script.
	//
	// From execve(2): "A maximum line length of 127 characters is allowed
	// for the first line in a #! executable shell script."
	interpMaxLineLength = 127
)

func isScript(data []byte) bool {
	return bytes.HasPrefix(data, []byte(interpreterScriptMagic))
}

// parseInterpreterScript returns the interpreter path and argv of a script.
func parseInterpreterScript(filename string, data []byte, argv []string) (string, []string, error) {
	line := data[:min(len(data), interpMaxLineLength)]
	if !isScript(line) {
		return "", nil, fmt.Errorf("%s: not an interpreter script", filename)
	}
	// Ignore #!.
	line = line[2:]

	// Ignore everything after newline. Linux silently truncates the
	// remainder of the line if it exceeds interpMaxLineLength.
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimLeft(line, " \t")

	// Linux only looks for a space or tab delimiting the interpreter and
	// arg. The entire rest of the line is passed as a single argument.
	interp := line
	var arg []byte
	if i := bytes.IndexAny(line, " \t"); i >= 0 {
		interp = line[:i]
		if i+1 < len(line) {
			arg = line[i+1:]
		}
	}
	if len(interp) == 0 {
		return "", nil, fmt.Errorf("%s: interpreter script contains no interpreter", filename)
	}

	// The new argument list is the interpreter, its optional argument, and
	// the original arguments with argv[0] replaced by the script path.
	newargv := []string{string(interp)}
	if len(arg) > 0 {
		newargv = append(newargv, string(arg))
	}
	newargv = append(newargv, filename)
	if len(argv) > 1 {
		newargv = append(newargv, argv[1:]...)
	}
	return string(interp), newargv, nil
}

// loadScript loads the interpreter of a "#!" script in its place. Only one
// level of script is followed.
func loadScript(ctx context.Context, p *proc.Process, path string, data []byte, opts Options) (*Image, error) {
	if opts.script {
		return nil, &InterpreterError{Path: path, Err: ErrInterpreterChain}
	}
	interp, argv, err := parseInterpreterScript(path, data, opts.Argv)
	if err != nil {
		return nil, err
	}
	log.Debugf("%s: running script with %s %q", path, interp, argv)
	resolved, err := p.Root.Resolve(interp)
	if err != nil {
		return nil, &InterpreterError{Path: interp, Err: err}
	}
	idata, err := p.Root.ReadFile(resolved)
	if err != nil {
		return nil, &InterpreterError{Path: interp, Err: err}
	}
	opts.Argv = argv
	opts.script = true
	return LoadBytes(ctx, p, resolved, idata, opts)
}
