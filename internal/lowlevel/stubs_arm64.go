//go:build arm64

package lowlevel

import (
	"encoding/binary"
	"unsafe"
)

// switchFrame is implemented in switch_arm64.s. It stores D8-D15 (the
// AAPCS64 callee-saved FP/SIMD registers, lower 64 bits only) and the
// callee-saved integer registers (X19-X28, FP, LR) onto the current stack,
// writes the resulting stack pointer to *saved, loads the stack pointer
// from target, restores the mirror image, and returns (via RET to the
// restored LR) arg to whoever last switched away from target.
//
//go:noescape
func switchFrame(saved *uintptr, target uintptr, arg uintptr) uintptr

func trampolineAddr() uintptr

func currentSP() uintptr

// savedRegCount is D8-D15 (8), X19-X28 (10), FP, LR.
const savedRegCount = 20

// SharedStackSupported: see stubs_amd64.go.
const SharedStackSupported = true

// FrameImageSize is the exact byte length FillFrameImage produces.
func FrameImageSize() uintptr { return savedRegCount * 8 }

// FillFrameImage writes a fabricated callee-saved image matching the
// FMOVD/STP and FMOVD/LDP layout switch_arm64.s pushes and pops,
// address-independent until placed (see stubs_amd64.go's FillFrameImage doc
// for the rationale).
func FillFrameImage(dst []byte, co unsafe.Pointer) {
	put := func(i int, v uintptr) {
		binary.NativeEndian.PutUint64(dst[i*8:], uint64(v))
	}
	// D8-D15 (indices 0-7): no ABI-mandated reset value, left zero.
	put(8, 0)                 // X19
	put(9, uintptr(co))       // X20 carries the coroutine pointer
	// X21-X28 (indices 10-17) unused for a fresh frame, left zero
	put(18, 0)                // FP (X29)
	put(19, trampolineAddr()) // LR (X30): resumed via RET
}

// PlaceFrame copies image onto the real stack at addr (already 16-byte
// aligned) and returns the resulting Frame.
func PlaceFrame(addr uintptr, image []byte) Frame {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(image))
	copy(dst, image)
	return Frame(addr)
}

// CreateFrame lays out a fabricated frame directly at the overflow end of
// [base-FrameImageSize(), base). Used for dedicated stacks.
func CreateFrame(base uintptr, co unsafe.Pointer) Frame {
	img := make([]byte, FrameImageSize())
	FillFrameImage(img, co)
	dst := (base - uintptr(len(img))) &^ 0xF // AAPCS64 16-byte alignment
	return PlaceFrame(dst, img)
}

// SwitchFrame performs the raw context switch.
func SwitchFrame(saved *Frame, target Frame, arg uintptr) uintptr {
	var s uintptr
	r := switchFrame(&s, uintptr(target), arg)
	*saved = Frame(s)
	return r
}

// GetFrame returns an indicator of the current stack pointer.
func GetFrame() Frame {
	return Frame(currentSP())
}
