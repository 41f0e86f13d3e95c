//go:build !((linux || darwin) && amd64)

// This file backs the same public API as trampoline_amd64.go on every
// target the thunk emitter does not support: non-SysV-AMD64 architectures
// and non-Unix operating systems, per spec.md's Non-goals. It mirrors the
// teacher's internal/arch/stubs graceful-failure idiom (an unsupported
// implementation that satisfies the interface and reports
// ErrUnsupportedArchitecture instead of being compiled out) collapsed
// down to the one architecture/OS pair this spec targets.
package trampoline

import (
	"runtime"

	"github.com/jitbridge/trampoline/abi"
)

// Kind distinguishes how a Trampoline's state was constructed. See the
// amd64 build's Kind for the full documentation.
type Kind int

const (
	EmptyState Kind = iota
	FuncPointerState
	ClosureState
)

// Trampoline on an unsupported platform can only ever be empty: there is
// no thunk emitter to back a closure- or function-pointer-backed state.
type Trampoline struct{}

// Empty returns a Trampoline holding no callable.
func Empty() *Trampoline { return &Trampoline{} }

// New always fails on this platform: see PlatformError.
func New(fn any) (*Trampoline, error) { return nil, platformError() }

// NewFuncPointer always fails on this platform: see PlatformError.
func NewFuncPointer(fn any) (*Trampoline, error) { return nil, platformError() }

func platformError() error {
	return &PlatformError{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

func (t *Trampoline) IsPresent() bool       { return false }
func (t *Trampoline) IsNil() bool           { return true }
func (t *Trampoline) Kind() Kind            { return EmptyState }
func (t *Trampoline) RawPointer() uintptr   { return 0 }
func (t *Trampoline) Reset()                {}
func (t *Trampoline) Swap(other *Trampoline) {}
func (t *Trampoline) MoveFrom(src *Trampoline) {}
func (t *Trampoline) Signature() *abi.Signature { return nil }

// Invoke always fails on this platform: an unsupported Trampoline is
// always empty.
func (t *Trampoline) Invoke(args ...any) (any, error) { return nil, ErrEmpty }
