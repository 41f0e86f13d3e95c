//go:build (linux || darwin) && amd64

// Package bridge is the single shared landing pad every per-instance
// trampoline thunk tail-calls (or calls) into. Where internal/emit writes
// a bespoke thunk per Trampoline instance, this package provides the one
// piece of generated code that thunk can safely jump to: an assembly
// entry point (dispatchEntry, in dispatch_amd64.s) that saves the raw
// SysV AMD64 register state the thunk forwarded into a frame, then calls
// into Go to marshal those registers into a reflect.Call invocation of
// the captured callable — the same register-frame-to-reflect.Call
// marshaling the teacher's ffi.NewCallback machinery uses to let C code
// invoke a Go closure, just consuming a different incoming layout (the
// first integer slot is the injected object pointer, not a forwarded
// argument).
package bridge

import (
	"github.com/jitbridge/trampoline/internal/classify"
)

// frame mirrors the memory layout dispatch_amd64.s builds on the stack
// before calling into Go. Field order and sizes are load-bearing: the
// assembly computes byte offsets into this exact layout, and dispatchEntry
// builds one of these directly above the argument slot it reserves for
// the call into dispatch, storing the frame's address in that slot.
type frame struct {
	floats  [classify.MaxFloatRegisters]uint64 // XMM0-7, raw bit patterns
	ints    [classify.MaxIntegerRegisters]uintptr
	stack   [maxStackSlots]uintptr // overflow arguments, in source order
	result  uintptr                // integer/pointer return value
	fresult uint64                 // float return value, raw bit pattern
}

// maxStackSlots bounds how many stack-resident arguments dispatch_amd64.s
// copies into the frame. classify.MaxTotalArguments (14) minus the
// smallest register budget (6 integer or 8 float) leaves comfortable
// headroom under this.
const maxStackSlots = 8
