//go:build (linux || darwin) && amd64

// Package codeslab owns a process-global pool of small, fixed-size
// executable memory slots carved out of anonymous, read-write-execute
// pages. It hands out and reclaims slots one at a time for per-instance
// trampoline thunks.
//
// The allocator never grows by relocating existing slots, and never
// shrinks: once a page is mapped it stays mapped until Close (which the
// global allocator never sees), so a slot's virtual address is stable for
// as long as the caller holds it. This mirrors the single-address-space guarantee the
// trampoline container's move semantics depend on (moving a wrapper
// hands the destination the same slot address, unregenerated).
package codeslab

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// SlotSize is large enough to hold the largest thunk the emitter
	// writes (register shifts, two 64-bit immediates, a stack-slide
	// fixup, and a tail call/jump), with headroom.
	SlotSize = 256
	// PageSize is the size of one anonymous mapping; a single page
	// therefore holds PageSize/SlotSize slots.
	PageSize = 4096

	slotsPerPage = PageSize / SlotSize
)

// Allocator is an intrusive free-list allocator over one or more
// executable, writable, anonymous pages. The zero value is ready to use;
// its first page is carved lazily on the first Acquire call.
type Allocator struct {
	mu    sync.Mutex
	pages [][]byte
	free  uintptr // address of the head free slot, or 0
}

// global is the process-wide allocator every Trampoline constructs its
// thunk from, matching the spec's "process-wide state with first-use
// construction" policy.
var (
	globalOnce sync.Once
	global     *Allocator
)

// Global returns the process-wide executable-slab allocator, creating it
// on first use.
func Global() *Allocator {
	globalOnce.Do(func() {
		global = &Allocator{}
	})
	return global
}

// slotNext reads the successor pointer threaded through the first machine
// word of a free slot.
func slotNext(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// setSlotNext writes the successor pointer into the first machine word of
// a free slot.
func setSlotNext(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

// Acquire returns the address of a SlotSize-byte, 16-byte-aligned region
// with read+write+execute permissions. The region's address is stable
// until Release. The pool grows by mapping an additional page
// automatically; an error is returned only if that mapping fails.
func (a *Allocator) Acquire() (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.free == 0 {
		if err := a.growLocked(); err != nil {
			return 0, err
		}
	}

	slot := a.free
	a.free = slotNext(slot)
	setSlotNext(slot, 0) // not strictly required, but avoids a stale pointer in a live slot
	return slot, nil
}

// Release returns a slot for reuse. Releasing a null handle is a no-op.
func (a *Allocator) Release(slot uintptr) {
	if slot == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	setSlotNext(slot, a.free)
	a.free = slot
}

// growLocked maps one additional executable page and threads its slots
// onto the free list. Caller must hold a.mu.
func (a *Allocator) growLocked() error {
	mem, err := unix.Mmap(-1, 0, PageSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		slog.Error("codeslab: executable page mapping failed", "pages", len(a.pages)+1, "error", err)
		return fmt.Errorf("codeslab: mmap executable page: %w", err)
	}
	slog.Debug("codeslab: grew executable pool", "pages", len(a.pages)+1, "slots_added", slotsPerPage)

	base := uintptr(unsafe.Pointer(&mem[0]))
	for i := 0; i < slotsPerPage; i++ {
		slotAddr := base + uintptr(i*SlotSize)
		var next uintptr
		if i+1 < slotsPerPage {
			next = base + uintptr((i+1)*SlotSize)
		}
		setSlotNext(slotAddr, next)
	}

	a.pages = append(a.pages, mem)
	a.free = base
	return nil
}

// PageCount reports how many executable pages this allocator has mapped.
// Exposed for tests exercising the allocator-conservation property (spec
// §8, property 8): a balanced sequence of Acquire/Release calls must
// never need to map an additional page beyond what the live slot count
// requires.
func (a *Allocator) PageCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pages)
}

// FreeCount reports how many slots currently sit on the free list.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for s := a.free; s != 0; s = slotNext(s) {
		n++
	}
	return n
}

// Close unmaps every page owned by the allocator. Only safe once no slot
// handed out by this allocator is still reachable from live code; the
// global allocator is never closed during normal process lifetime.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, mem := range a.pages {
		if err := unix.Munmap(mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.pages = nil
	a.free = 0
	return firstErr
}
