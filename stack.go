package cothread

import (
	"sync"
	"sync/atomic"

	"github.com/DiamondLightSource/cothread/internal/lowlevel"
)

// checkPatternByte pre-fills a stack so its high-water mark can be measured
// after the fact, matching the original library's sentinel.
const checkPatternByte = 0xC5

// stackAlignment is the minimum alignment a non-guarded stack allocation is
// rounded up to.
const stackAlignment = 16

// Stack is an owned, optionally guarded byte region one or more Coroutines
// map their live frames onto. See §4.2.
type Stack struct {
	mu sync.Mutex

	base      uintptr // address at which the first pushed frame byte sits
	size      uintptr // usable bytes, excluding guard pages
	guardSize uintptr
	checked   bool // pre-filled with checkPatternByte

	mem []byte // the backing allocation, guard pages included (nil for the
	// base stack); the usable region is mem[guardSize:guardSize+size]

	current  *Coroutine // the coroutine whose live frame currently occupies this stack
	refCount int32       // number of coroutines mapped to this stack

	isBase bool // the degenerate wrapper around the OS thread's own stack
}

// newStack allocates a Stack per §4.2: usable bytes aligned up, guard pages
// made no-access if requested, and optionally pre-filled with the check
// pattern. Allocation failure is fatal (§4.8, §7 ALLOCATION_EXHAUSTED): the
// library does not pretend to recover, matching the teacher's kmalloc-fails
// -> abort convention in src/mazboot/golang/main/goroutine.go.
func newStack(size uintptr, guardPages int, check bool) *Stack {
	if size < lowlevel.InitialFrameSize {
		size = lowlevel.InitialFrameSize
	}
	size = alignUp(size, stackAlignment)

	guardSize := uintptr(guardPages) * uintptr(pageSize())
	mem, base, err := allocateGuarded(size, guardSize)
	if err != nil {
		abortf("stack allocation failed: %v", err)
	}

	if check {
		// Only the usable region (past the guard pages, see guard_unix.go)
		// gets the check pattern; writing into the guard pages themselves
		// would fault.
		usable := mem[guardSize : guardSize+size]
		for i := range usable {
			usable[i] = checkPatternByte
		}
	}

	return &Stack{
		base:      base,
		size:      size,
		guardSize: guardSize,
		checked:   check,
		mem:       mem,
		refCount:  1,
	}
}

// newBaseStack wraps the OS thread's own stack. It owns no memory, has
// size 0, and cannot be freed. Its base address drifts with the caller's
// stack depth — §9's documented known limitation.
func newBaseStack() *Stack {
	return &Stack{
		base:     lowlevel.GetFrame().Addr(),
		size:     0,
		refCount: 1,
		isBase:   true,
	}
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// attach increments the reference count when a new coroutine maps onto an
// existing (shared) stack.
func (s *Stack) attach() {
	atomic.AddInt32(&s.refCount, 1)
}

// release decrements the reference count and frees the stack's memory once
// it reaches zero. The base stack is never freed.
func (s *Stack) release() {
	if s.isBase {
		atomic.AddInt32(&s.refCount, -1)
		return
	}
	if atomic.AddInt32(&s.refCount, -1) == 0 {
		s.free()
	}
}

func (s *Stack) free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		return
	}
	if s.checked {
		used := s.highWater()
		Logger.Printf("cothread: stack freed, high water %d/%d bytes", used, s.size)
	}
	releaseGuarded(s.mem, s.size, s.guardSize)
	s.mem = nil
}

// highWater scans the usable region from its overflow end (adjacent to the
// guard pages) for the first byte that no longer matches the check
// pattern. Only meaningful when s.checked.
func (s *Stack) highWater() uintptr {
	if !s.checked || s.mem == nil {
		return 0
	}
	usable := s.mem[s.guardSize : s.guardSize+s.size]
	for i := uintptr(0); i < s.size; i++ {
		if usable[i] != checkPatternByte {
			return s.size - i
		}
	}
	return 0
}
