// Package gueststate defines the bit-exact layout of the persisted guest
// CPU state that emitted code reads and writes directly. Field offsets are
// derived from a real Go struct via unsafe.Offsetof rather than hand-kept
// slot indices, so the layout can never silently drift from the emitter's
// expectations the way a parallel table of magic numbers could.
package gueststate

import "unsafe"

// RSBSize is the number of return-stack-buffer entries; must be a power of
// two so the ring index wraps with a mask.
const RSBSize = 8

// State is the guest CPU state structure. Emitted code addresses every
// field below through hostreg.BaseReg + an offset from this package.
type State struct {
	Reg [16]uint32 // R0..R15 (R13=SP, R14=LR, R15=PC by ARM convention)

	// S0..S31 as u32 lanes; D0..D15 alias pairs (S[2n],S[2n+1]); D16..D31
	// extend the register file for VFPv3/Advanced SIMD-capable cores.
	ExtReg [64]uint32

	Cpsr uint32 // NZCV@31..28, Q@27, GE@19..16, E@9, T@5

	FPSCRNZCV uint32
	FPSCRMode uint32 // rounding mode + FTZ/DN bits, sampled once per block
	FPSCRIDC  uint32 // input-denormal cumulative
	FPSCRUFC  uint32 // underflow cumulative

	RSBPtr                 uint32
	RSBLocationDescriptors [RSBSize]uint64
	RSBCodePtrs            [RSBSize]uint64

	ExclusiveState   uint8
	_                [3]byte
	ExclusiveAddress uint32

	CyclesRemaining int64

	HaltRequested uint8
	_             [7]byte

	// SpillArea is scratch space the register allocator uses for IR values
	// it cannot keep in a host register. Sized generously; the allocator
	// tracks a free-list of 8-byte slots within it.
	SpillArea [256]uint64
}

// CPSR bit positions and field masks.
const (
	CpsrBitN = 31
	CpsrBitZ = 30
	CpsrBitC = 29
	CpsrBitV = 28
	CpsrBitQ = 27
	CpsrBitE = 9
	CpsrBitT = 5

	CpsrGEShift = 16
	CpsrGEMask  = 0xF << CpsrGEShift
)

var (
	OffReg              = unsafe.Offsetof(State{}.Reg)
	OffExtReg           = unsafe.Offsetof(State{}.ExtReg)
	OffCpsr             = unsafe.Offsetof(State{}.Cpsr)
	OffFPSCRNZCV        = unsafe.Offsetof(State{}.FPSCRNZCV)
	OffFPSCRMode        = unsafe.Offsetof(State{}.FPSCRMode)
	OffFPSCRIDC         = unsafe.Offsetof(State{}.FPSCRIDC)
	OffFPSCRUFC         = unsafe.Offsetof(State{}.FPSCRUFC)
	OffRSBPtr           = unsafe.Offsetof(State{}.RSBPtr)
	OffRSBLocationDescs = unsafe.Offsetof(State{}.RSBLocationDescriptors)
	OffRSBCodePtrs      = unsafe.Offsetof(State{}.RSBCodePtrs)
	OffExclusiveState   = unsafe.Offsetof(State{}.ExclusiveState)
	OffExclusiveAddr    = unsafe.Offsetof(State{}.ExclusiveAddress)
	OffCyclesRemaining  = unsafe.Offsetof(State{}.CyclesRemaining)
	OffHaltRequested    = unsafe.Offsetof(State{}.HaltRequested)
	OffSpillArea        = unsafe.Offsetof(State{}.SpillArea)
)

// RegOffset returns the byte offset of ARM GPR n (0..15) within State.
func RegOffset(n int) uintptr { return OffReg + uintptr(n)*4 }

// ExtRegOffset returns the byte offset of the n'th 32-bit FP/SIMD lane
// (S0..S31 plus the VFPv3 extension registers).
func ExtRegOffset(n int) uintptr { return OffExtReg + uintptr(n)*4 }

// ExtRegOffset64 returns the byte offset of Dn, the 64-bit double-register
// alias of the S(2n)/S(2n+1) pair.
func ExtRegOffset64(n int) uintptr { return OffExtReg + uintptr(n)*8 }

// SpillSlotOffset returns the byte offset of spill slot i.
func SpillSlotOffset(i int) uintptr { return OffSpillArea + uintptr(i)*8 }

// NumSpillSlots is the number of 8-byte spill slots available to the
// register allocator.
const NumSpillSlots = len(State{}.SpillArea)
