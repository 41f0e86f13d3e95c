//go:build (linux || darwin) && amd64

package trampoline

import (
	"math"
	"testing"
	"unsafe"

	"github.com/jitbridge/trampoline/internal/callshim"
	"github.com/jitbridge/trampoline/internal/codeslab"
)

// S1: int(int), closure x -> x+42.
func TestS1RoundTripAndRawPointer(t *testing.T) {
	w, err := New(func(x int) int { return x + 42 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Reset()

	out, err := w.Invoke(5)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(int) != 47 {
		t.Fatalf("Invoke(5) = %v, want 47", out)
	}

	resultI, _ := callshim.Call(w.RawPointer(), []uintptr{5}, nil, nil)
	if int(int64(resultI)) != 47 {
		t.Fatalf("RawPointer()(5) = %d, want 47", int64(resultI))
	}
}

// S2: int(int,int,int,double,int,int,int,int), free function
// f(a,b,c,d,e,g,h,i) = a+b+c+(int)d+e+g+h+i. Integer count is 7, so this
// exercises the Case B stack-spill thunk path.
func TestS2StackSpillAcrossCaseB(t *testing.T) {
	fn := func(a, b, c int, d float64, e, g, h, i int) int {
		return a + b + c + int(d) + e + g + h + i
	}
	w, err := NewFuncPointer(fn)
	if err != nil {
		t.Fatalf("NewFuncPointer: %v", err)
	}
	defer w.Reset()

	out, err := w.Invoke(1, 2, 3, 4.0, 5, 6, 7, 8)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(int) != 36 {
		t.Fatalf("Invoke(...) = %v, want 36", out)
	}

	ints := []uintptr{1, 2, 3, 5, 6, 7} // a, b, c, e, g, h (register-resident)
	floats := []uint64{math.Float64bits(4.0)}
	stack := []uintptr{8} // i, the 7th integer arg, overflowed to the stack

	resultI, _ := callshim.Call(w.RawPointer(), ints, floats, stack)
	if int64(resultI) != 36 {
		t.Fatalf("RawPointer()(...) = %d, want 36", int64(resultI))
	}
}

// S3: double(double x8), closure summing all eight.
func TestS3AllFloatRegisters(t *testing.T) {
	w, err := New(func(a, b, c, d, e, f, g, h float64) float64 {
		return a + b + c + d + e + f + g + h
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Reset()

	out, err := w.Invoke(1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(float64) != 8.0 {
		t.Fatalf("Invoke(...) = %v, want 8.0", out)
	}

	floats := make([]uint64, 8)
	for i := range floats {
		floats[i] = math.Float64bits(1.0)
	}
	_, resultF := callshim.Call(w.RawPointer(), nil, floats, nil)
	if math.Float64frombits(resultF) != 8.0 {
		t.Fatalf("RawPointer()(...) = %v, want 8.0", math.Float64frombits(resultF))
	}
}

// S4: float(double,int,float,int,const int&,double,double,float), closure
// summing after conversions. Exercises a pointer-typed (reference-like)
// parameter alongside mixed int/float register assignment, with no stack
// spill (integer count is 3).
func TestS4MixedKindsWithReferenceParam(t *testing.T) {
	w, err := New(func(a float64, b int, c float32, d int, e *int, f, g float64, h float32) float32 {
		return float32(a) + float32(b) + c + float32(d) + float32(*e) + float32(f) + float32(g) + h
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Reset()

	e := 5
	want := float32(1.0 + 2.0 + 3.0 + 4.0 + 5.0 + 6.0 + 7.0 + 8.0)

	out, err := w.Invoke(1.0, 2, float32(3.0), 4, &e, 6.0, 7.0, float32(8.0))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if diff := float32(math.Abs(float64(out.(float32) - want))); diff > 1e-5 {
		t.Fatalf("Invoke(...) = %v, want %v", out, want)
	}

	ints := []uintptr{2, 4, uintptr(unsafe.Pointer(&e))} // b, d, e
	floats := []uint64{
		math.Float64bits(1.0),         // a
		uint64(math.Float32bits(3.0)), // c (float32, low 32 bits)
		math.Float64bits(6.0),         // f
		math.Float64bits(7.0),         // g
		uint64(math.Float32bits(8.0)), // h (float32, low 32 bits)
	}

	_, resultF := callshim.Call(w.RawPointer(), ints, floats, nil)
	got := math.Float32frombits(uint32(resultF))
	if diff := float32(math.Abs(float64(got - want))); diff > 1e-5 {
		t.Fatalf("RawPointer()(...) = %v, want %v", got, want)
	}
}

// S5: ownership, emptiness and release are all observable across a move.
func TestS5MoveOwnershipAndNullIdempotence(t *testing.T) {
	w, err := New(func(x int) int { return x + 42 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w2 := Empty()
	w2.MoveFrom(w)

	if w.IsPresent() {
		t.Fatal("source must be empty after MoveFrom")
	}
	if !w2.IsPresent() {
		t.Fatal("destination must be present after MoveFrom")
	}

	w2.Reset()
	if w2.IsPresent() {
		t.Fatal("Reset must leave the wrapper empty")
	}
	// Null idempotence: repeated reset on an already-empty wrapper is safe.
	w2.Reset()
	if !w2.IsNil() {
		t.Fatal("IsNil must report true for an empty wrapper")
	}
}

// S6: the raw pointer obtained before a move is still valid (same address,
// still callable) after the move.
func TestS6RawPointerSurvivesMove(t *testing.T) {
	w, err := New(func(x int) int { return x * 2 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := w.RawPointer()

	w2 := Empty()
	w2.MoveFrom(w)

	if got := w2.RawPointer(); got != p {
		t.Fatalf("RawPointer changed across move: %x != %x", got, p)
	}

	resultI, _ := callshim.Call(p, []uintptr{21}, nil, nil)
	if int64(resultI) != 42 {
		t.Fatalf("pre-move pointer called post-move = %d, want 42", int64(resultI))
	}

	out, err := w2.Invoke(21)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(int) != 42 {
		t.Fatalf("w2.Invoke(21) = %v, want 42", out)
	}
	w2.Reset()
}

// Reassignment onto an already closure-backed destination (the
// original_source/trampoline/test_correctness_main.cpp scenario where
// tr2 is constructed from its own closure and then tr2 = std::move(tr1)
// overwrites it): MoveFrom must release the destination's prior slot and
// state before taking ownership of the source's, so no slot leaks and
// the destination ends up observably equal to the source.
func TestMoveFromReplacesAlreadyPresentDestination(t *testing.T) {
	alloc := codeslab.Global()
	startFree := alloc.FreeCount()

	dst, err := New(func(a int) int { return a - 42 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src, err := New(func(a int) int { return a + 1 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srcPointer := src.RawPointer()

	dst.MoveFrom(src)

	if src.IsPresent() {
		t.Fatal("source must be empty after MoveFrom")
	}
	if dst.RawPointer() != srcPointer {
		t.Fatalf("destination RawPointer() = %x, want source's %x", dst.RawPointer(), srcPointer)
	}

	out, err := dst.Invoke(10)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(int) != 11 {
		t.Fatalf("dst.Invoke(10) = %v, want 11 (src's closure, not dst's original one)", out)
	}

	dst.Reset()

	// Two constructions and two releases (the destination's original
	// slot, freed by MoveFrom, and the source's slot, freed by Reset)
	// must return the allocator to its starting free count: the
	// overwritten destination slot is not leaked.
	if got := alloc.FreeCount(); got != startFree {
		t.Fatalf("FreeCount after reassign-then-release = %d, want %d (destination's prior slot must not leak)", got, startFree)
	}
}

// Property 3 (capture fidelity): a closure capturing external state by
// reference observes subsequent changes to that state.
func TestCaptureFidelityObservesLaterMutation(t *testing.T) {
	state := 1
	w, err := New(func() int { return state })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Reset()

	out, _ := w.Invoke()
	if out.(int) != 1 {
		t.Fatalf("Invoke() = %v, want 1", out)
	}

	state = 99
	out, _ = w.Invoke()
	if out.(int) != 99 {
		t.Fatalf("Invoke() after mutation = %v, want 99", out)
	}
}

// Property 6 (swap symmetry): after Swap, each holds the other's previous
// state exactly.
func TestSwapSymmetry(t *testing.T) {
	a, err := New(func(x int) int { return x + 1 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(func(x int) int { return x + 2 })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pa, pb := a.RawPointer(), b.RawPointer()

	a.Swap(b)

	if a.RawPointer() != pb || b.RawPointer() != pa {
		t.Fatal("Swap did not exchange thunk slots")
	}
	outA, _ := a.Invoke(10)
	outB, _ := b.Invoke(10)
	if outA.(int) != 12 || outB.(int) != 11 {
		t.Fatalf("post-swap invocations = (%v, %v), want (12, 11)", outA, outB)
	}
	a.Reset()
	b.Reset()
}

// Property 7: wrapping a raw Go function value (no captured environment)
// behaves identically to wrapping a closure.
func TestFunctionPointerPassThrough(t *testing.T) {
	g := func(x, y int) int { return x * y }
	w, err := NewFuncPointer(g)
	if err != nil {
		t.Fatalf("NewFuncPointer: %v", err)
	}
	defer w.Reset()

	if w.Kind() != FuncPointerState {
		t.Fatal("NewFuncPointer must report FuncPointerState")
	}

	out, err := w.Invoke(6, 7)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(int) != 42 {
		t.Fatalf("Invoke(6,7) = %v, want 42", out)
	}

	resultI, _ := callshim.Call(w.RawPointer(), []uintptr{6, 7}, nil, nil)
	if int64(resultI) != 42 {
		t.Fatalf("RawPointer()(6,7) = %d, want 42", int64(resultI))
	}
}

// Property 5: invoking Invoke on an empty wrapper returns ErrEmpty rather
// than crashing, and an empty wrapper's RawPointer is null. Repeated null
// assignment is covered by TestS5MoveOwnershipAndNullIdempotence.
func TestEmptyInvokeReturnsErrEmpty(t *testing.T) {
	w := Empty()
	if w.IsPresent() {
		t.Fatal("Empty() must report not present")
	}
	if _, err := w.Invoke(); err != ErrEmpty {
		t.Fatalf("Invoke on empty wrapper = %v, want ErrEmpty", err)
	}
	if w.RawPointer() != 0 {
		t.Fatal("RawPointer of an empty wrapper must be null")
	}
}

// Property 8: a balanced sequence of constructions and destructions
// returns every slot it took to the allocator. Forty live wrappers can
// need more slots than are free at the start, so the pool may grow; the
// free-slot count then ends at its starting value plus the slots of the
// pages mapped meanwhile, and no page is ever unmapped.
func TestAllocatorConservationAcrossLifecycle(t *testing.T) {
	alloc := codeslab.Global()
	startFree := alloc.FreeCount()
	startPages := alloc.PageCount()

	const n = 40
	ws := make([]*Trampoline, n)
	for i := range ws {
		w, err := New(func(x int) int { return x })
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ws[i] = w
	}
	for _, w := range ws {
		w.Reset()
	}

	wantFree := startFree + (alloc.PageCount()-startPages)*(codeslab.PageSize/codeslab.SlotSize)
	if got := alloc.FreeCount(); got != wantFree {
		t.Fatalf("FreeCount after balanced lifecycle = %d, want %d", got, wantFree)
	}
	if got := alloc.PageCount(); got < startPages {
		t.Fatalf("PageCount shrank from %d to %d; pages are never unmapped", startPages, got)
	}
}

func TestNewRejectsUnsupportedParameterKind(t *testing.T) {
	type notSupported struct{ X int }
	_, err := New(func(s notSupported) int { return s.X })
	if err == nil {
		t.Fatal("expected a SignatureError for an unsupported parameter kind")
	}
	var sigErr *SignatureError
	if !asSignatureError(err, &sigErr) {
		t.Fatalf("expected *SignatureError, got %T: %v", err, err)
	}
}

func asSignatureError(err error, target **SignatureError) bool {
	se, ok := err.(*SignatureError)
	if ok {
		*target = se
	}
	return ok
}
