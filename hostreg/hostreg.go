// Package hostreg enumerates the host x86-64 registers available to the
// back end and the System V AMD64 ABI split between caller- and
// callee-saved registers.
package hostreg

// Class distinguishes general-purpose from vector registers.
type Class int

const (
	ClassGPR Class = iota
	ClassXMM
)

// Reg is an x86-64 register descriptor: its assembler name plus the bits
// needed to encode it in a ModRM/SIB byte and REX prefix.
type Reg struct {
	Name  string
	Enc   byte // 3-bit encoding used in ModRM reg/rm or SIB base/index
	REX   byte // 1 if Enc's real index is >= 8 (needs a REX.{B,R,X} bit)
	Class Class
}

// Extended returns true if this register requires a REX prefix bit to
// address (r8-r15, xmm8-xmm15).
func (r Reg) Extended() bool { return r.REX != 0 }

var (
	RAX = Reg{"rax", 0, 0, ClassGPR}
	RCX = Reg{"rcx", 1, 0, ClassGPR}
	RDX = Reg{"rdx", 2, 0, ClassGPR}
	RBX = Reg{"rbx", 3, 0, ClassGPR}
	RSP = Reg{"rsp", 4, 0, ClassGPR}
	RBP = Reg{"rbp", 5, 0, ClassGPR}
	RSI = Reg{"rsi", 6, 0, ClassGPR}
	RDI = Reg{"rdi", 7, 0, ClassGPR}
	R8  = Reg{"r8", 0, 1, ClassGPR}
	R9  = Reg{"r9", 1, 1, ClassGPR}
	R10 = Reg{"r10", 2, 1, ClassGPR}
	R11 = Reg{"r11", 3, 1, ClassGPR}
	R12 = Reg{"r12", 4, 1, ClassGPR}
	R13 = Reg{"r13", 5, 1, ClassGPR}
	R14 = Reg{"r14", 6, 1, ClassGPR}
	R15 = Reg{"r15", 7, 1, ClassGPR}

	XMM0  = Reg{"xmm0", 0, 0, ClassXMM}
	XMM1  = Reg{"xmm1", 1, 0, ClassXMM}
	XMM2  = Reg{"xmm2", 2, 0, ClassXMM}
	XMM3  = Reg{"xmm3", 3, 0, ClassXMM}
	XMM4  = Reg{"xmm4", 4, 0, ClassXMM}
	XMM5  = Reg{"xmm5", 5, 0, ClassXMM}
	XMM6  = Reg{"xmm6", 6, 0, ClassXMM}
	XMM7  = Reg{"xmm7", 7, 0, ClassXMM}
	XMM8  = Reg{"xmm8", 0, 1, ClassXMM}
	XMM9  = Reg{"xmm9", 1, 1, ClassXMM}
	XMM10 = Reg{"xmm10", 2, 1, ClassXMM}
	XMM11 = Reg{"xmm11", 3, 1, ClassXMM}
	XMM12 = Reg{"xmm12", 4, 1, ClassXMM}
	XMM13 = Reg{"xmm13", 5, 1, ClassXMM}
	XMM14 = Reg{"xmm14", 6, 1, ClassXMM}
	XMM15 = Reg{"xmm15", 7, 1, ClassXMM}
)

// BaseReg holds the absolute address of the guest-state structure for the
// entire lifetime of a run of emitted code; it is never handed out by the
// allocator. Mirrors the teacher's R12-as-state-base convention, moved to
// R15 here so R12 stays free as an ordinary allocatable callee-saved GPR.
var BaseReg = R15

// ScratchReg is reserved for lowering sequences that need a temporary
// outside of the allocator's bookkeeping (e.g. the indirect-jump dispatch
// computation). It is never handed out by the allocator either.
var ScratchReg = RCX

// AllocatableGPRs is the pool RegAlloc draws from, in preferred-allocation
// order (front of the list is tried first; eviction picks among occupied
// ones by remaining-use heuristic, not by this order).
var AllocatableGPRs = []Reg{RAX, RBX, RDX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14}

// AllocatableXMMs is the XMM pool; XMM15 is kept free as scratch for FP
// lowering sequences that need an extra temporary (NaN/FTZ masks, etc).
var AllocatableXMMs = []Reg{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
	XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14}

// FPScratchXMM is reserved outside the allocator for constant loads
// (saturation boundaries, NaN patterns, FTZ masks) inside a single
// lowering.
var FPScratchXMM = XMM15

// System V AMD64 ABI.
var (
	CalleeSaved = []Reg{RBX, RBP, R12, R13, R14, R15}
	CallerSaved = []Reg{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}
	ArgRegs     = []Reg{RDI, RSI, RDX, RCX, R8, R9}
	ArgXMMs     = []Reg{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
	ReturnReg   = RAX
	ReturnXMM   = XMM0
)

// IsCalleeSaved reports whether r survives across a host ABI call without
// being explicitly saved.
func IsCalleeSaved(r Reg) bool {
	for _, c := range CalleeSaved {
		if c == r {
			return true
		}
	}
	return false
}
