// Package classify computes System V AMD64 argument-register pressure for
// a Go function signature, mirroring the shape of a classic ABI classifier:
// given an ordered parameter-type list, report how many parameters the ABI
// assigns to general-purpose integer registers versus floating-point
// registers.
package classify

import (
	"fmt"
	"reflect"
)

// MaxIntegerRegisters is the number of SysV AMD64 integer argument
// registers: RDI, RSI, RDX, RCX, R8, R9.
const MaxIntegerRegisters = 6

// MaxFloatRegisters is the number of SysV AMD64 floating-point argument
// registers: XMM0-XMM7.
const MaxFloatRegisters = 8

// MaxTotalArguments is the largest argument count the thunk emitter
// supports. This is a reasonable cap, not an ABI limit: beyond this the
// generated thunk's fixed instruction budget (one code-slab slot) would
// not hold the spill logic for every additional stack-resident argument.
const MaxTotalArguments = 14

// Counts reports how many parameters of a signature are integer-class
// (integral, pointer, or any reference/interface-like type) versus
// floating-point-class (float32, float64), per the classification rules
// in the spec's argument classifier component.
type Counts struct {
	Integer int
	Float   int
}

// Total reports the number of classified parameters.
func (c Counts) Total() int { return c.Integer + c.Float }

// ClassifyKind reports whether a single parameter is integer-class or
// float-class under the simplified SysV AMD64 rules this package
// supports: float32/float64 are float-class, everything else
// (integral types, pointers, unsafe.Pointer, and interface/reference-like
// kinds) is integer-class. Aggregate (struct) and 80-bit long-double
// types are out of scope per the spec's Non-goals.
func ClassifyKind(k reflect.Kind) (isFloat bool, ok bool) {
	switch k {
	case reflect.Float32, reflect.Float64:
		return true, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Bool,
		reflect.Ptr, reflect.UnsafePointer, reflect.Chan, reflect.Map, reflect.Func:
		return false, true
	default:
		return false, false
	}
}

// Parameters computes the integer/float register counts for an ordered
// parameter-type list, in source order.
func Parameters(params []reflect.Type) (Counts, error) {
	var c Counts
	for i, p := range params {
		isFloat, ok := ClassifyKind(p.Kind())
		if !ok {
			return Counts{}, fmt.Errorf("classify: parameter %d has unsupported kind %s", i, p.Kind())
		}
		if isFloat {
			c.Float++
		} else {
			c.Integer++
		}
	}
	return c, nil
}

// StackSlots reports how many 8-byte stack slots a classified signature
// needs beyond what fits in registers: the remainder of each class
// travels on the stack, in source order, each occupying 8 bytes.
func (c Counts) StackSlots() int {
	intStack := 0
	if c.Integer > MaxIntegerRegisters {
		intStack = c.Integer - MaxIntegerRegisters
	}
	floatStack := 0
	if c.Float > MaxFloatRegisters {
		floatStack = c.Float - MaxFloatRegisters
	}
	return intStack + floatStack
}
