//go:build (linux || darwin) && amd64

// Package callshim is a test-only harness for invoking a trampoline's
// RawPointer as genuine SysV AMD64 machine code from Go. Go functions do
// not themselves follow the SysV AMD64 register convention (Go's internal
// ABI assigns registers differently and expects a live goroutine in a
// runtime-reserved register), so a raw uintptr function pointer cannot be
// cast to a Go func value and called directly. callshim loads the
// classified integer/float/stack arguments into the real machine
// registers the ABI specifies and calls the target address, the same
// technique the teacher's internal/syscall package uses to invoke a C
// function pointer from Go (there: to call *into* a loaded shared
// library; here: to call *into* a JIT-emitted thunk for testing).
package callshim

import "github.com/jitbridge/trampoline/internal/classify"

// args mirrors the memory layout call_amd64.s reads from and writes back
// to. Field order and sizes are load-bearing: the assembly computes byte
// offsets into this exact layout.
type args struct {
	floats  [classify.MaxFloatRegisters]uint64
	ints    [classify.MaxIntegerRegisters]uintptr
	stack   [maxStackSlots]uintptr
	stackN  int64
	fn      uintptr
	resultI uintptr
	resultF uint64
}

const maxStackSlots = 8

// callRaw is implemented in call_amd64.s.
func callRaw(a *args)

// Call invokes fn (a SysV AMD64 function pointer, such as a
// Trampoline's RawPointer) with ints placed in the first len(ints)
// integer argument registers, floats placed in the first len(floats)
// floating-point argument registers, and stack holding any remaining
// integer-class arguments that overflowed the six-register budget, in
// source order. It returns the raw integer and float return-register
// contents; the caller interprets whichever one matches the callable's
// actual result kind.
func Call(fn uintptr, ints []uintptr, floats []uint64, stack []uintptr) (resultInt uintptr, resultFloat uint64) {
	if len(ints) > classify.MaxIntegerRegisters {
		panic("callshim: too many integer register arguments")
	}
	if len(floats) > classify.MaxFloatRegisters {
		panic("callshim: too many float register arguments")
	}
	if len(stack) > maxStackSlots {
		panic("callshim: too many stack arguments")
	}

	var a args
	a.fn = fn
	copy(a.ints[:], ints)
	copy(a.floats[:], floats)
	copy(a.stack[:], stack)
	a.stackN = int64(len(stack))

	callRaw(&a)
	return a.resultI, a.resultF
}
