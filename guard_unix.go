//go:build unix

package cothread

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pageSize is cached at package init; guard pages are only ever a whole
// number of OS pages.
var cachedPageSize = unix.Getpagesize()

func pageSize() int { return cachedPageSize }

// allocateGuarded maps size+guardSize bytes and, if guardSize is non-zero,
// marks the guardSize bytes adjacent to the overflow end PROT_NONE, turning
// a stack overflow into a deterministic fault per §4.2/§5 and scenario 3 in
// §8. Frames are placed below base and grow toward lower addresses as usage
// increases (see CreateFrame/saveLive), so the overflow end is the *low*
// end of the mapping: the guard pages sit at data[0:guardSize], the usable
// region at data[guardSize:total], and base sits at the non-overflow (high)
// end of the usable region, past every byte a frame can ever occupy.
func allocateGuarded(size, guardSize uintptr) (mem []byte, base uintptr, err error) {
	total := size + guardSize
	data, err := unix.Mmap(-1, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, 0, fmt.Errorf("mmap %d bytes: %w", total, err)
	}

	if guardSize > 0 {
		if err := unix.Mprotect(data[:guardSize], unix.PROT_NONE); err != nil {
			unix.Munmap(data)
			return nil, 0, fmt.Errorf("mprotect guard pages: %w", err)
		}
	}

	base = uintptr(0)
	if len(data) > 0 {
		base = sliceAddr(data) + total
	}
	return data, base, nil
}

// releaseGuarded restores read/write on any guard pages before unmapping, so
// the kernel's own bookkeeping invariants for the mapping are not violated
// by handing back a partially protected region (§4.2 destruction).
func releaseGuarded(mem []byte, size, guardSize uintptr) {
	if guardSize > 0 {
		_ = unix.Mprotect(mem[:guardSize], unix.PROT_READ|unix.PROT_WRITE)
	}
	_ = unix.Munmap(mem)
}
