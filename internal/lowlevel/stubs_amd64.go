//go:build amd64

package lowlevel

import (
	"encoding/binary"
	"unsafe"
)

// switchFrame is implemented in switch_amd64.s. It saves the x87 control
// word and MXCSR, pushes the callee-saved integer registers (BP, BX,
// R12-R15), and falls through to the return address the CALL already
// pushed; it writes the resulting stack pointer to *saved, loads the stack
// pointer from target, restores the mirror image, and returns arg to
// whoever last switched away from target.
//
//go:noescape
func switchFrame(saved *uintptr, target uintptr, arg uintptr) uintptr

// trampolineAddr returns the address of the assembly trampoline that
// fabricated frames resume into.
func trampolineAddr() uintptr

// currentSP returns the stack pointer at the call site, for high-water
// accounting only.
func currentSP() uintptr

// frameWords is R15, R14(=co), R13, R12, BX, BP, x87 control word, MXCSR,
// retaddr.
const frameWords = 9

// defaultX87ControlWord is the FINIT reset value: extended precision,
// round-to-nearest, all exceptions masked.
const defaultX87ControlWord = 0x037F

// defaultMXCSR is the power-on reset value: round-to-nearest, all
// exceptions masked, flush-to-zero and denormals-as-zero both off.
const defaultMXCSR = 0x1F80

// SharedStackSupported is true on every architecture with a real
// switch_*.s: the fabricated image is a plain, address-independent byte
// sequence that can be built once in a heap buffer and relocated onto any
// stack later, which is exactly what the shared-stack switcher (§4.4) needs.
const SharedStackSupported = true

// FrameImageSize is the exact byte length FillFrameImage produces.
func FrameImageSize() uintptr { return frameWords * 8 }

// FillFrameImage writes a fabricated callee-saved image into dst (which
// must be FrameImageSize() bytes) such that switching into the address it
// is eventually placed at resumes the trampoline with co as its payload.
// The image contains no pointers to its own location, so it may be built
// long before, and relocated to, its final address (§9: "the saved bytes
// may contain pointers back into the same region" does not apply to a
// freshly fabricated frame, only to one that has actually run).
func FillFrameImage(dst []byte, co unsafe.Pointer) {
	put := func(i int, v uintptr) {
		binary.NativeEndian.PutUint64(dst[i*8:], uint64(v))
	}
	put(0, 0)                     // R15
	put(1, uintptr(co))           // R14 carries the coroutine pointer
	put(2, 0)                     // R13
	put(3, 0)                     // R12
	put(4, 0)                     // BX
	put(5, 0)                     // BP
	put(6, defaultX87ControlWord) // x87 control word: sane default, not garbage
	put(7, defaultMXCSR)          // MXCSR: sane default, not garbage
	put(8, trampolineAddr())      // return address: jumps into the trampoline
}

// PlaceFrame copies image onto the real stack at addr (which must already
// be 16-byte aligned) and returns the resulting Frame.
func PlaceFrame(addr uintptr, image []byte) Frame {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(image))
	copy(dst, image)
	return Frame(addr)
}

// CreateFrame lays out a fabricated frame directly at the overflow end of
// [base-FrameImageSize(), base) and returns the frame pointer the next
// SwitchFrame into it will resume. Used for dedicated stacks, where nothing
// else is live on the stack yet so building in place is safe.
func CreateFrame(base uintptr, co unsafe.Pointer) Frame {
	img := make([]byte, FrameImageSize())
	FillFrameImage(img, co)
	dst := (base - uintptr(len(img))) &^ 0xF // 16-byte align, amd64 SysV
	return PlaceFrame(dst, img)
}

// SwitchFrame performs the raw context switch. saved receives the frame the
// calling coroutine is suspended at; target is resumed with arg.
func SwitchFrame(saved *Frame, target Frame, arg uintptr) uintptr {
	var s uintptr
	r := switchFrame(&s, uintptr(target), arg)
	*saved = Frame(s)
	return r
}

// GetFrame returns an indicator of the current stack pointer, useful only
// as a high-water mark.
func GetFrame() Frame {
	return Frame(currentSP())
}
