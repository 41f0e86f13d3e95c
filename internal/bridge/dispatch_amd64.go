//go:build (linux || darwin) && amd64

package bridge

import (
	"reflect"
	"unsafe" // also required for the go:linkname directive below

	"github.com/jitbridge/trampoline/internal/classify"
)

// dispatchEntrySym is linked to the dispatchEntry symbol implemented in
// dispatch_amd64.s. It is never called through Go's own calling
// convention; every thunk internal/emit writes jumps or calls into it
// directly with raw SysV AMD64 register state. Binding a byte variable to
// the assembly symbol via go:linkname gives EntryAddr a provably-raw code
// address to take, the same technique the teacher package uses for
// trampolineBaseAddr (a var linked to its callbackTrampoline assembly
// symbol) rather than relying on the unspecified identity
// reflect.Value.Pointer() returns for a func value.
//
//go:linkname dispatchEntrySym github.com/jitbridge/trampoline/internal/bridge.dispatchEntry
var dispatchEntrySym byte

// EntryAddr returns the address every thunk embeds as its dispatch
// target.
func EntryAddr() uintptr {
	return uintptr(unsafe.Pointer(&dispatchEntrySym))
}

// dispatch is called from dispatch_amd64.s with a pointer to a populated
// frame. It recovers the originating State from the frame's injected
// object pointer, marshals the forwarded SysV arguments into reflect
// Values, invokes the captured callable, and writes the result back into
// the frame for the assembly to return to the original caller.
func dispatch(f *frame) {
	s := fromPointer(f.ints[0])

	raw := make([]uint64, len(s.params))
	args := make([]reflect.Value, len(s.params))
	intIdx, floatIdx, stackIdx := 1, 0, 0 // ints[0] is the object pointer, never a forwarded argument

	for i, pt := range s.params {
		isFloat, _ := classify.ClassifyKind(pt.Kind())
		if isFloat {
			if floatIdx < classify.MaxFloatRegisters {
				raw[i] = f.floats[floatIdx]
			} else {
				raw[i] = uint64(f.stack[stackIdx])
				stackIdx++
			}
			floatIdx++
		} else {
			if intIdx < classify.MaxIntegerRegisters {
				raw[i] = uint64(f.ints[intIdx])
			} else {
				raw[i] = uint64(f.stack[stackIdx])
				stackIdx++
			}
			intIdx++
		}
		args[i] = reflect.NewAt(pt, unsafe.Pointer(&raw[i])).Elem()
	}

	out := s.fn.Call(args)

	if s.result == nil {
		return
	}
	if s.hasFloat {
		reflect.NewAt(s.result, unsafe.Pointer(&f.fresult)).Elem().Set(out[0])
		return
	}
	var bits uint64
	reflect.NewAt(s.result, unsafe.Pointer(&bits)).Elem().Set(out[0])
	f.result = uintptr(bits)
}
