package lower

import (
	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/ir"
)

func init() {
	register(ir.OpGetRegister, lowerGetRegister)
	register(ir.OpSetRegister, lowerSetRegister)
	register(ir.OpGetExtendedRegister32, lowerGetExtendedRegister32)
	register(ir.OpSetExtendedRegister32, lowerSetExtendedRegister32)
	register(ir.OpGetExtendedRegister64, lowerGetExtendedRegister64)
	register(ir.OpSetExtendedRegister64, lowerSetExtendedRegister64)
	register(ir.OpGetCpsr, lowerGetCpsr)
	register(ir.OpSetCpsr, lowerSetCpsr)
	register(ir.OpGetNFlag, flagGetter(gueststate.CpsrBitN))
	register(ir.OpGetZFlag, flagGetter(gueststate.CpsrBitZ))
	register(ir.OpGetCFlag, flagGetter(gueststate.CpsrBitC))
	register(ir.OpGetVFlag, flagGetter(gueststate.CpsrBitV))
	register(ir.OpSetNFlag, flagSetter(gueststate.CpsrBitN))
	register(ir.OpSetZFlag, flagSetter(gueststate.CpsrBitZ))
	register(ir.OpSetCFlag, flagSetter(gueststate.CpsrBitC))
	register(ir.OpSetVFlag, flagSetter(gueststate.CpsrBitV))
	register(ir.OpOrQFlag, lowerOrQFlag)
	register(ir.OpGetGEFlags, lowerGetGEFlags)
	register(ir.OpSetGEFlags, lowerSetGEFlags)
	register(ir.OpBXWritePC, lowerBXWritePC)
}

func lowerGetRegister(c *Context, inst *ir.Inst) {
	n := int(inst.Arg(0).U64())
	dst := c.RA.DefGpr(inst)
	c.Buf.LoadMem32(dst, c.RA.Base(), regOffset(n))
}

func lowerSetRegister(c *Context, inst *ir.Inst) {
	n := int(inst.Arg(0).U64())
	src := c.RA.UseGpr(inst.Arg(1))
	c.Buf.StoreMem32(c.RA.Base(), regOffset(n), src)
}

func lowerGetExtendedRegister32(c *Context, inst *ir.Inst) {
	n := int(inst.Arg(0).U64())
	dst := c.RA.DefGpr(inst)
	c.Buf.LoadMem32(dst, c.RA.Base(), extRegOffset(n))
}

func lowerSetExtendedRegister32(c *Context, inst *ir.Inst) {
	n := int(inst.Arg(0).U64())
	src := c.RA.UseGpr(inst.Arg(1))
	c.Buf.StoreMem32(c.RA.Base(), extRegOffset(n), src)
}

func lowerGetExtendedRegister64(c *Context, inst *ir.Inst) {
	n := int(inst.Arg(0).U64())
	dst := c.RA.DefGpr(inst)
	c.Buf.LoadMem64(dst, c.RA.Base(), int32(gueststate.ExtRegOffset64(n/2)))
}

func lowerSetExtendedRegister64(c *Context, inst *ir.Inst) {
	n := int(inst.Arg(0).U64())
	src := c.RA.UseGpr(inst.Arg(1))
	c.Buf.StoreMem64(c.RA.Base(), int32(gueststate.ExtRegOffset64(n/2)), src)
}

func lowerGetCpsr(c *Context, inst *ir.Inst) {
	dst := c.RA.DefGpr(inst)
	c.Buf.LoadMem32(dst, c.RA.Base(), int32(gueststate.OffCpsr))
}

func lowerSetCpsr(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	c.Buf.StoreMem32(c.RA.Base(), int32(gueststate.OffCpsr), src)
}

// flagGetter returns a lowering for Get{N,Z,C,V}Flag: load CPSR, shift the
// bit down, mask to one bit.
func flagGetter(bit int) LowerFunc {
	return func(c *Context, inst *ir.Inst) {
		dst := c.RA.DefGpr(inst)
		c.Buf.LoadMem32(dst, c.RA.Base(), int32(gueststate.OffCpsr))
		c.Buf.ShiftImm32(codebuf.ShrOp, dst, byte(bit))
		c.Buf.AndImm32(dst, 1)
	}
}

// flagSetter returns a lowering for Set{N,Z,C,V}Flag. An immediate operand
// becomes a direct bitset/bitclear on CPSR in guest state; a variable
// operand becomes a read-modify-write shift-and-merge, since the new bit
// value isn't known until runtime.
func flagSetter(bit int) LowerFunc {
	return func(c *Context, inst *ir.Inst) {
		v := inst.Arg(0)
		base := c.RA.Base()
		if v.IsImmediate() {
			if v.Bool() {
				tmp := c.RA.UseScratchGpr(ir.ImmU32(0))
				c.Buf.LoadMem32(tmp, base, int32(gueststate.OffCpsr))
				c.Buf.OrImm32(tmp, uint32(1)<<bit)
				c.Buf.StoreMem32(base, int32(gueststate.OffCpsr), tmp)
			} else {
				tmp := c.RA.UseScratchGpr(ir.ImmU32(0))
				c.Buf.LoadMem32(tmp, base, int32(gueststate.OffCpsr))
				c.Buf.AndImm32(tmp, ^(uint32(1) << bit))
				c.Buf.StoreMem32(base, int32(gueststate.OffCpsr), tmp)
			}
			return
		}
		val := c.RA.UseScratchGpr(v)
		c.Buf.AndImm32(val, 1)
		c.Buf.ShiftImm32(codebuf.ShlOp, val, byte(bit))
		cpsr := c.RA.UseScratchGpr(ir.ImmU32(0))
		c.Buf.LoadMem32(cpsr, base, int32(gueststate.OffCpsr))
		c.Buf.AndImm32(cpsr, ^(uint32(1) << bit))
		c.Buf.Or32(cpsr, val)
		c.Buf.StoreMem32(base, int32(gueststate.OffCpsr), cpsr)
	}
}

func lowerOrQFlag(c *Context, inst *ir.Inst) {
	v := inst.Arg(0)
	base := c.RA.Base()
	tmp := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.LoadMem32(tmp, base, int32(gueststate.OffCpsr))
	if v.IsImmediate() {
		if v.Bool() {
			c.Buf.OrImm32(tmp, uint32(1)<<gueststate.CpsrBitQ)
		}
	} else {
		bit := c.RA.UseScratchGpr(v)
		c.Buf.AndImm32(bit, 1)
		c.Buf.ShiftImm32(codebuf.ShlOp, bit, gueststate.CpsrBitQ)
		c.Buf.Or32(tmp, bit)
	}
	c.Buf.StoreMem32(base, int32(gueststate.OffCpsr), tmp)
}

func lowerGetGEFlags(c *Context, inst *ir.Inst) {
	dst := c.RA.DefGpr(inst)
	c.Buf.LoadMem32(dst, c.RA.Base(), int32(gueststate.OffCpsr))
	c.Buf.AndImm32(dst, gueststate.CpsrGEMask)
}

func lowerSetGEFlags(c *Context, inst *ir.Inst) {
	v := c.RA.UseGpr(inst.Arg(0))
	base := c.RA.Base()
	cpsr := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.LoadMem32(cpsr, base, int32(gueststate.OffCpsr))
	c.Buf.AndImm32(cpsr, ^uint32(gueststate.CpsrGEMask))
	tmp := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.MovRegReg32(tmp, v)
	c.Buf.AndImm32(tmp, gueststate.CpsrGEMask)
	c.Buf.Or32(cpsr, tmp)
	c.Buf.StoreMem32(base, int32(gueststate.OffCpsr), cpsr)
}

// lowerBXWritePC writes PC and CPSR.T atomically and branchlessly: if the
// low bit of the new PC is 1, clear it and set T; otherwise clear bits
// 1..0 and clear T.
func lowerBXWritePC(c *Context, inst *ir.Inst) {
	v := c.RA.UseScratchGpr(inst.Arg(0))
	base := c.RA.Base()

	thumbBit := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.MovRegReg32(thumbBit, v)
	c.Buf.AndImm32(thumbBit, 1) // 1 iff target is Thumb

	pc := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.MovRegReg32(pc, v)
	c.Buf.AndImm32(pc, ^uint32(1)) // clears bit 0 unconditionally
	// If landing in ARM mode, bit 1 must also be forced clear (4-byte
	// alignment); select pc&^1 vs pc&^3 by the Thumb bit without a branch.
	alignedArm := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.MovRegReg32(alignedArm, pc)
	c.Buf.AndImm32(alignedArm, ^uint32(3))
	thumbIsZero := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.MovRegReg32(thumbIsZero, thumbBit)
	c.Buf.CmpImm32(thumbIsZero, 0)
	c.Buf.CmovCC32(codebuf.CcE, pc, alignedArm)
	c.Buf.StoreMem32(base, regOffset(15), pc)

	cpsr := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.LoadMem32(cpsr, base, int32(gueststate.OffCpsr))
	c.Buf.AndImm32(cpsr, ^(uint32(1) << gueststate.CpsrBitT))
	tBit := c.RA.UseScratchGpr(ir.ImmU32(0))
	c.Buf.MovRegReg32(tBit, thumbBit)
	c.Buf.ShiftImm32(codebuf.ShlOp, tBit, gueststate.CpsrBitT)
	c.Buf.Or32(cpsr, tBit)
	c.Buf.StoreMem32(base, int32(gueststate.OffCpsr), cpsr)
}
