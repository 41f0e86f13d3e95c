//go:build (linux || darwin) && amd64

// Package trampoline wraps an arbitrary Go callable so it can be invoked
// both directly from Go and as a plain SysV AMD64 function pointer handed
// to foreign code. Constructing one classifies the callable's signature,
// acquires a slot from a process-wide executable code slab, and emits a
// small per-instance machine-code thunk into that slot; the thunk injects
// the wrapper's captured state into the call and lands on a shared
// dispatch bridge that re-enters Go through reflect.
package trampoline

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/jitbridge/trampoline/abi"
	"github.com/jitbridge/trampoline/internal/bridge"
	"github.com/jitbridge/trampoline/internal/codeslab"
	"github.com/jitbridge/trampoline/internal/emit"
)

// Kind distinguishes how a Trampoline's state was constructed. A
// function-pointer-backed wrapper and a closure-backed one are
// mechanically identical on this port (both emit a thunk backed by a
// bridge.State), but the tag is preserved because callers can observe it
// and because it documents which construction path produced a given
// instance.
type Kind int

const (
	// EmptyState is the zero state: IsPresent reports false and Invoke
	// returns ErrEmpty.
	EmptyState Kind = iota
	// FuncPointerState marks a wrapper built from NewFuncPointer.
	FuncPointerState
	// ClosureState marks a wrapper built from New.
	ClosureState
)

// Trampoline is a move-only, type-erased callable wrapper. Its zero value
// is empty and ready to use; construct a populated one with New or
// NewFuncPointer. A Trampoline must not be copied by value once it holds
// a callable: doing so aliases the underlying thunk and state, violating
// single ownership. Use MoveFrom or Swap to transfer ownership instead.
type Trampoline struct {
	kind  Kind
	state *bridge.State
	slot  uintptr
	sig   *abi.Signature
}

// Empty returns a Trampoline holding no callable.
func Empty() *Trampoline {
	return &Trampoline{}
}

// New wraps fn as a closure-backed Trampoline. fn must be a non-nil Go
// function value whose parameters and (at most one) result are all of a
// kind internal/classify supports.
func New(fn any) (*Trampoline, error) {
	return build(fn, ClosureState)
}

// NewFuncPointer wraps fn as a function-pointer-backed Trampoline. On
// this port there is no mechanical difference from New: a compiled Go
// function, even an unbound top-level one, cannot be invoked under the
// SysV AMD64 ABI without the same thunk-and-bridge machinery a closure
// needs, so NewFuncPointer still allocates a slot and emits a thunk. What
// is preserved is the state tag reported by Kind.
func NewFuncPointer(fn any) (*Trampoline, error) {
	return build(fn, FuncPointerState)
}

func build(fn any, kind Kind) (*Trampoline, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, &SignatureError{Reason: fmt.Sprintf("expected a function value, got %T", fn)}
	}
	if v.IsNil() {
		return nil, &SignatureError{Reason: "function value is nil"}
	}

	sig, err := abi.FromFunc(v.Type())
	if err != nil {
		return nil, &SignatureError{Reason: err.Error()}
	}

	state, err := bridge.NewState(v)
	if err != nil {
		return nil, &SignatureError{Reason: err.Error()}
	}

	slot, err := codeslab.Global().Acquire()
	if err != nil {
		bridge.Release(state)
		return nil, &ExecutableMemoryError{Err: err}
	}

	buf := unsafeSliceAt(slot, codeslab.SlotSize)
	if _, err := emit.Write(buf, state.Pointer(), bridge.EntryAddr(), sig.IntegerArgCount()); err != nil {
		codeslab.Global().Release(slot)
		bridge.Release(state)
		return nil, fmt.Errorf("trampoline: emitting thunk: %w", err)
	}

	t := &Trampoline{kind: kind, state: state, slot: slot, sig: sig}
	return t, nil
}

// IsPresent reports whether t currently holds a callable.
func (t *Trampoline) IsPresent() bool {
	return t.kind != EmptyState
}

// Kind reports how t's current state was constructed.
func (t *Trampoline) Kind() Kind {
	return t.kind
}

// RawPointer returns the address of t's executable thunk: a plain SysV
// AMD64 function pointer any foreign caller can invoke directly. The
// pointer is valid for as long as t holds this state; releasing or
// reassigning t invalidates it.
func (t *Trampoline) RawPointer() uintptr {
	return t.slot
}

// Reset releases t's state, if any, and returns it to empty.
func (t *Trampoline) Reset() {
	t.release()
}

// Swap exchanges t's state with other's.
func (t *Trampoline) Swap(other *Trampoline) {
	*t, *other = *other, *t
}

// MoveFrom transfers src's state into t, leaving src empty. It is the
// closest Go equivalent to the spec's move-assignment operator: after
// MoveFrom, src.IsPresent() is false and t owns whatever src owned.
// MoveFrom releases any state t already held.
func (t *Trampoline) MoveFrom(src *Trampoline) {
	if t == src {
		return
	}
	t.release()
	*t = *src
	*src = Trampoline{}
}

func (t *Trampoline) release() {
	if t.kind == EmptyState {
		return
	}
	codeslab.Global().Release(t.slot)
	bridge.Release(t.state)
	*t = Trampoline{}
}

// IsNil reports whether t is the empty state, the Go equivalent of the
// spec's "equality with null" operation (I3): a nil *Trampoline and an
// Empty() one are both considered null.
func (t *Trampoline) IsNil() bool {
	return t == nil || t.kind == EmptyState
}

// Invoke calls t's captured callable directly from Go, bypassing the
// emitted thunk: this is the "direct invocation" path of §4.3, distinct
// from the ABI-level path a foreign caller reaches through RawPointer.
// args must match the wrapped function's parameter types and count.
// Invoke returns ErrEmpty if t holds no callable.
func (t *Trampoline) Invoke(args ...any) (any, error) {
	if t.kind == EmptyState {
		return nil, ErrEmpty
	}
	return t.state.Invoke(args)
}

// Signature returns the classified parameter/result shape t was built
// from, or nil for an empty Trampoline.
func (t *Trampoline) Signature() *abi.Signature {
	return t.sig
}

// unsafeSliceAt views the SlotSize bytes starting at addr as a []byte so
// internal/emit can write a thunk directly into executable memory.
func unsafeSliceAt(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
