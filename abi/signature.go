// Package abi describes the calling-convention-relevant shape of a
// captured callable: its ordered parameter types and its (at most one)
// result type, plus the register/stack-slot pressure that shape implies
// under System V AMD64. It is the public preparation step a Trampoline
// runs before asking internal/emit to write a thunk, mirroring the
// teacher's call-interface preparation step (validate argument/return
// types, then classify them) without representing an independent target
// architecture registry: Non-goals scope this module to SysV AMD64 only.
package abi

import (
	"fmt"
	"reflect"

	"github.com/jitbridge/trampoline/internal/classify"
)

// Signature is the prepared, validated description of a callable's
// argument and result shape.
type Signature struct {
	Params []reflect.Type
	Result reflect.Type // nil if the callable returns nothing
	Counts classify.Counts
}

// FromFunc validates fn's type and classifies its signature. fn must be
// a function value (not a method value's receiver or any other kind),
// take no more than classify.MaxTotalArguments parameters, and return at
// most one value; every parameter and result kind must be one
// classify.ClassifyKind accepts.
func FromFunc(t reflect.Type) (*Signature, error) {
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("abi: FromFunc requires a func type, got %s", t.Kind())
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("abi: variadic functions are not supported")
	}
	if t.NumIn() > classify.MaxTotalArguments {
		return nil, fmt.Errorf("abi: %d parameters exceeds the supported maximum of %d", t.NumIn(), classify.MaxTotalArguments)
	}
	if t.NumOut() > 1 {
		return nil, fmt.Errorf("abi: at most one result value is supported, got %d", t.NumOut())
	}

	params := make([]reflect.Type, t.NumIn())
	for i := range params {
		params[i] = t.In(i)
	}
	counts, err := classify.Parameters(params)
	if err != nil {
		return nil, err
	}

	sig := &Signature{Params: params, Counts: counts}
	if t.NumOut() == 1 {
		result := t.Out(0)
		if _, ok := classify.ClassifyKind(result.Kind()); !ok {
			return nil, fmt.Errorf("abi: unsupported result kind %s", result.Kind())
		}
		sig.Result = result
	}
	return sig, nil
}

// IntegerArgCount reports the number of integer-class parameters, the
// figure internal/emit needs to choose which thunk shape to write.
func (s *Signature) IntegerArgCount() int { return s.Counts.Integer }

// StackSlots reports how many stack-resident argument slots this
// signature needs beyond the register budget.
func (s *Signature) StackSlots() int { return s.Counts.StackSlots() }

// HasResult reports whether the callable returns a value.
func (s *Signature) HasResult() bool { return s.Result != nil }
