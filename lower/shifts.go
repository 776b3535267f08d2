package lower

import (
	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/hostreg"
	"github.com/inquisitio/dynarmic/ir"
)

func init() {
	register(ir.OpLogicalShiftLeft, lowerLogicalShiftLeft)
	register(ir.OpLogicalShiftRight, lowerLogicalShiftRight)
	register(ir.OpLogicalShiftRight64, lowerLogicalShiftRight64)
	register(ir.OpArithmeticShiftRight, lowerArithmeticShiftRight)
	register(ir.OpRotateRight, lowerRotateRight)
	register(ir.OpRotateRightExtended, lowerRotateRightExtended)
}

// carryDst, when inst has an attached GetCarryFromOp pseudo-op, allocates
// its result register and zeroes it. Call this *before* the instruction
// that will set the flags the carry is captured from — zeroing a register
// itself touches flags, so it can never come after.
func carryDst(c *Context, inst *ir.Inst) (hostreg.Reg, *ir.Inst) {
	p := inst.GetAssociatedPseudoOperation(ir.OpGetCarryFromOp)
	if p == nil {
		return hostreg.Reg{}, nil
	}
	dst := c.RA.Scratch()
	c.Buf.Xor32(dst, dst)
	return dst, p
}

// finishCarryCC reads cond into dst (set up by carryDst) and retires the
// pseudo-op. Must run with no flag-affecting instruction between the one
// being captured and this call.
func finishCarryCC(c *Context, p *ir.Inst, dst hostreg.Reg, cond codebuf.CC) {
	if p == nil {
		return
	}
	c.Buf.SetCC(cond, dst)
	finishCarryReg(c, p, dst)
}

// finishCarryReg binds dst (already holding the final 0/1 carry value) to
// p's result and erases p from the block.
func finishCarryReg(c *Context, p *ir.Inst, dst hostreg.Reg) {
	if p == nil {
		return
	}
	out := c.RA.DefGpr(p)
	c.Buf.MovRegReg32(out, dst)
	c.Block.EraseInstruction(p)
}

func captureCarryConst(c *Context, inst *ir.Inst, value bool) {
	p := inst.GetAssociatedPseudoOperation(ir.OpGetCarryFromOp)
	if p == nil {
		return
	}
	dst := c.RA.DefGpr(p)
	imm := uint32(0)
	if value {
		imm = 1
	}
	c.Buf.MovImm32(dst, imm)
	c.Block.EraseInstruction(p)
}

func captureCarryReg(c *Context, inst *ir.Inst, src hostreg.Reg) {
	p := inst.GetAssociatedPseudoOperation(ir.OpGetCarryFromOp)
	finishCarryReg(c, p, src)
}

// loadInputCarry materialises the guest CPSR.C bit (0/1) into a fresh
// scratch register, for the "carry-out on zero count is the input carry,
// unchanged" rule. Clobbers flags; callers needing flags preserved across
// this call must redo the comparison afterwards.
func loadInputCarry(c *Context) hostreg.Reg {
	r := c.RA.Scratch()
	c.Buf.LoadMem32(r, c.RA.Base(), int32(gueststate.OffCpsr))
	c.Buf.ShiftImm32(codebuf.ShrOp, r, gueststate.CpsrBitC)
	c.Buf.AndImm32(r, 1)
	return r
}

// lowerLogicalShiftLeft implements LSL for both immediate and variable
// counts, per the three ARM/x86 divergence rules: no masking above 31,
// carry-out on a zero count is the unchanged input carry, and counts >= 32
// zero the result with carry taken from bit 0 at exactly 32 and 0 beyond.
func lowerLogicalShiftLeft(c *Context, inst *ir.Inst) {
	amount := inst.Arg(1)
	if amount.IsImmediate() {
		lowerLogicalShiftLeftImm(c, inst, uint32(amount.U64()))
		return
	}
	lowerShiftVariable(c, inst, codebuf.ShlOp, shiftLeftKind)
}

func lowerLogicalShiftLeftImm(c *Context, inst *ir.Inst, count uint32) {
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	switch {
	case count == 0:
		captureCarryReg(c, inst, loadInputCarry(c))
	case count < 32:
		dst, p := carryDst(c, inst)
		c.Buf.ShiftImm32(codebuf.ShlOp, v, byte(count))
		finishCarryCC(c, p, dst, codebuf.CcB)
	case count == 32:
		bit0 := c.RA.Scratch()
		c.Buf.MovRegReg32(bit0, v)
		c.Buf.AndImm32(bit0, 1)
		c.Buf.Xor32(v, v)
		captureCarryReg(c, inst, bit0)
	default:
		c.Buf.Xor32(v, v)
		captureCarryConst(c, inst, false)
	}
}

func lowerLogicalShiftRight(c *Context, inst *ir.Inst) {
	amount := inst.Arg(1)
	if amount.IsImmediate() {
		lowerLogicalShiftRightImm(c, inst, uint32(amount.U64()))
		return
	}
	lowerShiftVariable(c, inst, codebuf.ShrOp, shiftRightKind)
}

func lowerLogicalShiftRightImm(c *Context, inst *ir.Inst, count uint32) {
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	switch {
	case count == 0:
		captureCarryReg(c, inst, loadInputCarry(c))
	case count < 32:
		dst, p := carryDst(c, inst)
		c.Buf.ShiftImm32(codebuf.ShrOp, v, byte(count))
		finishCarryCC(c, p, dst, codebuf.CcB)
	case count == 32:
		bit31 := c.RA.Scratch()
		c.Buf.MovRegReg32(bit31, v)
		c.Buf.ShiftImm32(codebuf.ShrOp, bit31, 31)
		c.Buf.Xor32(v, v)
		captureCarryReg(c, inst, bit31)
	default:
		c.Buf.Xor32(v, v)
		captureCarryConst(c, inst, false)
	}
}

func lowerLogicalShiftRight64(c *Context, inst *ir.Inst) {
	count := inst.Arg(1).U64()
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	if count > 0 {
		c.Buf.ShiftImm64(codebuf.ShrOp, v, byte(count))
	}
}

func lowerArithmeticShiftRight(c *Context, inst *ir.Inst) {
	amount := inst.Arg(1)
	if amount.IsImmediate() {
		lowerArithmeticShiftRightImm(c, inst, uint32(amount.U64()))
		return
	}
	lowerShiftVariable(c, inst, codebuf.SarOp, shiftArithKind)
}

func lowerArithmeticShiftRightImm(c *Context, inst *ir.Inst, count uint32) {
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	switch {
	case count == 0:
		captureCarryReg(c, inst, loadInputCarry(c))
	case count < 32:
		dst, p := carryDst(c, inst)
		c.Buf.ShiftImm32(codebuf.SarOp, v, byte(count))
		finishCarryCC(c, p, dst, codebuf.CcB)
	default:
		// x86 masks a 32-bit shift count to 5 bits, so a count >= 32 cannot
		// be passed through. A shift by 31 fills the result with copies of
		// the sign bit, which is also ARM's carry-out for these counts; host
		// CF after `sar 31` holds bit 30 instead, so the carry is read back
		// from the result.
		c.Buf.ShiftImm32(codebuf.SarOp, v, 31)
		sign := c.RA.Scratch()
		c.Buf.MovRegReg32(sign, v)
		c.Buf.AndImm32(sign, 1)
		captureCarryReg(c, inst, sign)
	}
}

func lowerRotateRight(c *Context, inst *ir.Inst) {
	amount := inst.Arg(1)
	if amount.IsImmediate() {
		lowerRotateRightImm(c, inst, uint32(amount.U64()))
		return
	}
	lowerShiftVariable(c, inst, codebuf.RorOp, shiftRotateKind)
}

func lowerRotateRightImm(c *Context, inst *ir.Inst, count uint32) {
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	mod := count % 32
	switch {
	case count == 0:
		captureCarryReg(c, inst, loadInputCarry(c))
	case mod == 0:
		// A multiple of 32: no bits move, but carry still updates to bit 31
		// per divergence rule 3 (count is nonzero here).
		bit31 := c.RA.Scratch()
		c.Buf.MovRegReg32(bit31, v)
		c.Buf.ShiftImm32(codebuf.ShrOp, bit31, 31)
		captureCarryReg(c, inst, bit31)
	default:
		dst, p := carryDst(c, inst)
		c.Buf.ShiftImm32(codebuf.RorOp, v, byte(mod))
		finishCarryCC(c, p, dst, codebuf.CcB)
	}
}

// lowerRotateRightExtended performs a 33-bit rotate through the guest carry
// flag: preload host CF from CPSR.C, RCR by 1, and the new carry is the
// operand's original bit 0 (which RCR's own CF now holds).
func lowerRotateRightExtended(c *Context, inst *ir.Inst) {
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	carry := loadInputCarry(c)
	dst, p := carryDst(c, inst)
	c.Buf.BT(carry, 0)
	c.Buf.Rcr32Imm1(v)
	finishCarryCC(c, p, dst, codebuf.CcB)
}

type shiftKind int

const (
	shiftLeftKind shiftKind = iota
	shiftRightKind
	shiftArithKind
	shiftRotateKind
)

// lowerShiftVariable handles the four shift families' runtime-count case.
// The count is only known at run time, so the >=32 special cases from the
// three ARM/x86 divergence rules are reproduced branchlessly with CMOV
// rather than chosen once at codegen time as in the immediate case.
func lowerShiftVariable(c *Context, inst *ir.Inst, op codebuf.ShiftOp, kind shiftKind) {
	v := c.RA.UseDefGpr(inst.Arg(0), inst)
	count := c.RA.UseScratchGpr(inst.Arg(1))
	c.Buf.AndImm32(count, 0xFF) // ARM shift amounts are read from a full byte

	origSign := c.RA.Scratch()
	c.Buf.MovRegReg32(origSign, v)
	c.Buf.ShiftImm32(codebuf.ShrOp, origSign, 31)

	lowBit := c.RA.Scratch()
	c.Buf.MovRegReg32(lowBit, v)
	c.Buf.AndImm32(lowBit, 1)

	dst, p := carryDst(c, inst)
	c.Buf.MovRegReg32(hostreg.ScratchReg, count)
	c.Buf.ShiftCL32(op, v)
	if p != nil {
		c.Buf.SetCC(codebuf.CcB, dst)
	}

	zero := c.RA.Scratch()
	c.Buf.Xor32(zero, zero)

	switch kind {
	case shiftLeftKind, shiftRightKind:
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcAE, v, zero)
	case shiftArithKind:
		signFill := c.RA.Scratch()
		c.Buf.MovRegReg32(signFill, origSign)
		c.Buf.Neg64(signFill)
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcAE, v, signFill)
	case shiftRotateKind:
		// ROR by CL already applies mod-32 semantics identical to ARM's, so
		// no >=32 patch-up is needed for the rotated value itself.
	}

	if p == nil {
		return
	}

	switch kind {
	case shiftLeftKind:
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcE, dst, lowBit)
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcA, dst, zero)
	case shiftRightKind:
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcE, dst, origSign)
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcA, dst, zero)
	case shiftArithKind:
		c.Buf.CmpImm32(count, 32)
		c.Buf.CmovCC32(codebuf.CcAE, dst, origSign)
	case shiftRotateKind:
		mod := c.RA.Scratch()
		c.Buf.MovRegReg32(mod, count)
		c.Buf.AndImm32(mod, 0x1F)
		c.Buf.CmpImm32(mod, 0)
		c.Buf.CmovCC32(codebuf.CcE, dst, origSign)
	}

	// Rule 2: a count of exactly 0 preserves the input carry unchanged,
	// overriding whatever the branches above computed.
	inputCarry := loadInputCarry(c)
	c.Buf.CmpImm32(count, 0)
	c.Buf.CmovCC32(codebuf.CcE, dst, inputCarry)

	finishCarryReg(c, p, dst)
}
