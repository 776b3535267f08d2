package lower

import (
	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/ir"
)

func init() {
	register(ir.OpIdentity, lowerFreeAlias)
	register(ir.OpLeastSignificantWord, lowerFreeAlias)
	register(ir.OpLeastSignificantHalf, lowerFreeAlias)
	register(ir.OpLeastSignificantByte, lowerFreeAlias)
	register(ir.OpMostSignificantWord, lowerMostSignificantWord)
	register(ir.OpMostSignificantBit, lowerMostSignificantBit)
	register(ir.OpZeroExtendByteToWord, lowerZeroExtend8)
	register(ir.OpZeroExtendHalfToWord, lowerZeroExtend16)
	register(ir.OpZeroExtendWordToLong, lowerZeroExtend32To64)
	register(ir.OpSignExtendByteToWord, lowerSignExtend8)
	register(ir.OpSignExtendHalfToWord, lowerSignExtend16)
	register(ir.OpSignExtendWordToLong, lowerSignExtend32To64)
	register(ir.OpPack2x32To1x64, lowerPack2x32To1x64)
	register(ir.OpIsZero, lowerIsZero32)
	register(ir.OpIsZero64, lowerIsZero64)
	register(ir.OpByteReverseHalf, lowerByteReverseHalf)
	register(ir.OpByteReverseWord, lowerByteReverseWord)
	register(ir.OpByteReverseDual, lowerByteReverseDual)
	register(ir.OpCountLeadingZeros, lowerCountLeadingZeros)
}

// lowerFreeAlias handles the reinterpret-only casts (Identity and the
// LeastSignificant* truncations): the host register already holds the
// value bit-for-bit in its low bits, so no bytes are emitted.
func lowerFreeAlias(c *Context, inst *ir.Inst) {
	c.RA.RegisterAddDef(inst, inst.Arg(0))
}

func lowerMostSignificantWord(c *Context, inst *ir.Inst) {
	r := c.RA.UseDefGpr(inst.Arg(0), inst)
	c.Buf.ShiftImm64(codebuf.ShrOp, r, 32)
}

func lowerMostSignificantBit(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovRegReg32(dst, src)
	c.Buf.ShiftImm32(codebuf.ShrOp, dst, 31)
	c.Buf.AndImm32(dst, 1)
}

func lowerZeroExtend8(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovzxReg32Reg8(dst, src)
}

func lowerZeroExtend16(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovzxReg32Reg16(dst, src)
}

func lowerZeroExtend32To64(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	// A 32-bit write always zero-extends the upper 32 bits on x86-64, so the
	// widening is free once the value is copied into place.
	c.Buf.MovRegReg32(dst, src)
}

func lowerSignExtend8(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovsxReg32Reg8(dst, src)
}

func lowerSignExtend16(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovsxReg32Reg16(dst, src)
}

func lowerSignExtend32To64(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovsxdReg64Reg32(dst, src)
}

func lowerPack2x32To1x64(c *Context, inst *ir.Inst) {
	lo := c.RA.UseScratchGpr(inst.Arg(0))
	hi := c.RA.UseGpr(inst.Arg(1))
	dst := c.RA.DefGpr(inst)
	c.Buf.MovRegReg32(lo, lo) // clear any garbage above bit 31
	c.Buf.MovRegReg(dst, hi)
	c.Buf.ShiftImm64(codebuf.ShlOp, dst, 32)
	c.Buf.Or64(dst, lo)
}

func lowerIsZero32(c *Context, inst *ir.Inst) {
	v := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	c.Buf.Xor32(dst, dst)
	c.Buf.Test64(v, v)
	c.Buf.SetCC(codebuf.CcE, dst)
}

func lowerIsZero64(c *Context, inst *ir.Inst) {
	lowerIsZero32(c, inst)
}

// lowerByteReverseHalf swaps the two bytes of a 16-bit value; x86 has no
// direct 16-bit bswap, so this is built from a shift/mask/or pair.
func lowerByteReverseHalf(c *Context, inst *ir.Inst) {
	v := c.RA.UseGpr(inst.Arg(0))
	hi := c.RA.Scratch()
	c.Buf.MovRegReg32(hi, v)
	c.Buf.ShiftImm32(codebuf.ShlOp, hi, 8)
	c.Buf.AndImm32(hi, 0xFF00)
	dst := c.RA.DefGpr(inst)
	c.Buf.MovRegReg32(dst, v)
	c.Buf.ShiftImm32(codebuf.ShrOp, dst, 8)
	c.Buf.AndImm32(dst, 0x00FF)
	c.Buf.Or32(dst, hi)
}

func lowerByteReverseWord(c *Context, inst *ir.Inst) {
	r := c.RA.UseDefGpr(inst.Arg(0), inst)
	c.Buf.Bswap32(r)
}

func lowerByteReverseDual(c *Context, inst *ir.Inst) {
	r := c.RA.UseDefGpr(inst.Arg(0), inst)
	c.Buf.Bswap64(r)
}

// lowerCountLeadingZeros computes CLZ over a 32-bit value via BSR, which
// leaves the index undefined (and ZF set) on a zero input; that case is
// patched to 32 with a CMOV rather than a branch.
func lowerCountLeadingZeros(c *Context, inst *ir.Inst) {
	src := c.RA.UseGpr(inst.Arg(0))
	dst := c.RA.DefGpr(inst)
	thirtyTwo := c.RA.Scratch()
	c.Buf.MovImm32(thirtyTwo, 32)
	c.Buf.Bsr64(dst, src)
	c.Buf.XorImm32(dst, 31)
	c.Buf.Test64(src, src)
	c.Buf.CmovCC64(codebuf.CcE, dst, thirtyTwo)
}
