//go:build (linux || darwin) && amd64

package bridge

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/jitbridge/trampoline/internal/classify"
)

// State is the Go-idiomatic stand-in for the spec's per-callable-type
// static dispatcher: rather than the compiler monomorphizing a dispatch
// function per captured signature, State erases the captured callable's
// type behind a reflect.Value and a precomputed classification of its
// parameters, and dispatch (in dispatch_amd64.go) does the marshaling both
// function-pointer-backed and closure-backed trampolines need at call
// time. A *State's address is the "object pointer" internal/emit's
// thunk injects into the shifted-open register slot.
type State struct {
	fn       reflect.Value
	params   []reflect.Type
	counts   classify.Counts
	result   reflect.Type
	hasFloat bool // true if the result is float32/float64
}

// pin keeps States referenced from Go so the garbage collector never
// reclaims one while a thunk burned into executable memory still carries
// its address; that address is just a uintptr immediate to the GC, not a
// pointer it can trace.
var pin = struct {
	mu   sync.Mutex
	live map[*State]struct{}
}{live: make(map[*State]struct{})}

// NewState classifies fn's signature and pins a State for it. fn must be
// a non-nil function value; its parameter and result kinds must all be
// ones classify.ClassifyKind accepts.
func NewState(fn reflect.Value) (*State, error) {
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("bridge: NewState requires a func value, got %s", fn.Kind())
	}
	if fn.IsNil() {
		return nil, fmt.Errorf("bridge: NewState requires a non-nil function")
	}

	t := fn.Type()
	if t.NumOut() > 1 {
		return nil, fmt.Errorf("bridge: at most one result value is supported, got %d", t.NumOut())
	}

	params := make([]reflect.Type, t.NumIn())
	for i := range params {
		params[i] = t.In(i)
	}
	counts, err := classify.Parameters(params)
	if err != nil {
		return nil, err
	}

	s := &State{fn: fn, params: params, counts: counts}
	if t.NumOut() == 1 {
		s.result = t.Out(0)
		isFloat, ok := classify.ClassifyKind(s.result.Kind())
		if !ok {
			return nil, fmt.Errorf("bridge: unsupported result kind %s", s.result.Kind())
		}
		s.hasFloat = isFloat
	}

	pin.mu.Lock()
	pin.live[s] = struct{}{}
	pin.mu.Unlock()

	return s, nil
}

// IntegerArgCount reports the classified integer-class argument count
// internal/emit needs to choose which thunk shape to write.
func (s *State) IntegerArgCount() int {
	return s.counts.Integer
}

// Pointer returns the address a thunk should embed as its injected object
// pointer.
func (s *State) Pointer() uintptr {
	return uintptr(unsafe.Pointer(s))
}

// Release unpins a State. Callers must ensure no thunk can still reach it
// before calling this.
func Release(s *State) {
	pin.mu.Lock()
	delete(pin.live, s)
	pin.mu.Unlock()
}

// fromPointer recovers a *State from the raw address a thunk forwarded.
// Safe only because Release is never called while a thunk embedding that
// address can still run.
func fromPointer(p uintptr) *State {
	return (*State)(unsafe.Pointer(p))
}

// Invoke calls the captured callable directly through reflect, without
// going through a thunk. This backs Trampoline.Invoke, the spec's "direct
// invocation" operation, which has no reason to pay the ABI-crossing cost
// RawPointer's foreign callers require.
func (s *State) Invoke(args []any) (any, error) {
	if len(args) != len(s.params) {
		return nil, fmt.Errorf("bridge: Invoke expects %d arguments, got %d", len(s.params), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v := reflect.ValueOf(a)
		if !v.IsValid() {
			return nil, fmt.Errorf("bridge: argument %d is untyped nil, want %s", i, s.params[i])
		}
		if v.Type() != s.params[i] {
			if !v.Type().ConvertibleTo(s.params[i]) {
				return nil, fmt.Errorf("bridge: argument %d is %s, want %s", i, v.Type(), s.params[i])
			}
			v = v.Convert(s.params[i])
		}
		in[i] = v
	}

	out := s.fn.Call(in)
	if s.result == nil {
		return nil, nil
	}
	return out[0].Interface(), nil
}
