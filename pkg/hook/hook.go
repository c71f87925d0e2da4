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

// Package hook maintains the symbol resolution table built while relocating
// a kernel module, and dispatches to emulation handlers when guest control
// reaches a hook slot.
package hook

import (
	"errors"
	"fmt"
	"sort"

	"emuload.dev/emuload/pkg/hostarch"
)

// ErrNoHook is returned when dispatching an address that is not a hook slot.
var ErrNoHook = errors.New("no hook at address")

// Entry is an allocated hook slot.
type Entry struct {
	// Addr is the slot address.
	Addr hostarch.Addr

	// Name is the symbol the slot stands in for.
	Name string

	// Builtin is true for slots the loader allocates for its own syscall
	// emulation rather than for an undefined symbol.
	Builtin bool
}

// UnhandledError is returned when a slot has no registered handler.
type UnhandledError struct {
	Entry Entry
}

// Error implements error.Error.
func (e *UnhandledError) Error() string {
	return fmt.Sprintf("no handler for %q at %v", e.Entry.Name, e.Entry.Addr)
}

// Table maps symbol names to resolved addresses, and hook slot addresses back
// to the symbols they stand in for.
type Table struct {
	addrs map[string]hostarch.Addr
	slots map[hostarch.Addr]*Entry
	order []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		addrs: make(map[string]hostarch.Addr),
		slots: make(map[hostarch.Addr]*Entry),
	}
}

// Resolve returns the address name was resolved to.
func (t *Table) Resolve(name string) (hostarch.Addr, bool) {
	addr, ok := t.addrs[name]
	return addr, ok
}

// Define records that name resolves to addr, which is not a hook slot. It
// returns false and leaves the table unchanged if name is already resolved.
func (t *Table) Define(name string, addr hostarch.Addr) bool {
	if _, ok := t.addrs[name]; ok {
		return false
	}
	t.addrs[name] = addr
	t.order = append(t.order, name)
	return true
}

// AddSlot records that name resolves to the hook slot at addr. It fails if
// name is already resolved or addr already holds a slot.
func (t *Table) AddSlot(name string, addr hostarch.Addr, builtin bool) error {
	if prev, ok := t.addrs[name]; ok {
		return fmt.Errorf("symbol %q already resolved to %v", name, prev)
	}
	if e, ok := t.slots[addr]; ok {
		return fmt.Errorf("hook slot %v already holds %q", addr, e.Name)
	}
	t.addrs[name] = addr
	t.slots[addr] = &Entry{Addr: addr, Name: name, Builtin: builtin}
	t.order = append(t.order, name)
	return nil
}

// Slot returns the hook slot at addr.
func (t *Table) Slot(addr hostarch.Addr) (*Entry, bool) {
	e, ok := t.slots[addr]
	return e, ok
}

// Names returns every resolved name in resolution order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Slots returns every hook slot in address order.
func (t *Table) Slots() []Entry {
	es := make([]Entry, 0, len(t.slots))
	for _, e := range t.slots {
		es = append(es, *e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].Addr < es[j].Addr })
	return es
}

// Len returns the number of resolved names.
func (t *Table) Len() int {
	return len(t.addrs)
}

// Handler emulates the function behind a hook slot.
type Handler func(ctx *Context, e *Entry) error

// Registry maps symbol names to handlers.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h for name, replacing any previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Dispatch runs the handler for the hook slot at addr.
func (t *Table) Dispatch(ctx *Context, r *Registry, addr hostarch.Addr) error {
	e, ok := t.Slot(addr)
	if !ok {
		return fmt.Errorf("%w %v", ErrNoHook, addr)
	}
	h, ok := r.Lookup(e.Name)
	if !ok {
		return &UnhandledError{Entry: *e}
	}
	return h(ctx, e)
}
