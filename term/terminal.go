package term

import (
	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/internal/dynassert"
	"github.com/inquisitio/dynarmic/ir"
)

// emitTerminal dispatches t to its lowering. Every case either ends the
// block outright or recurses into a nested Terminal (If/CheckHalt).
func (e *emitter) emitTerminal(t ir.Terminal) {
	switch t.Kind() {
	case ir.TermInterpret:
		e.emitInterpret(t.Next())
	case ir.TermReturnToDispatch:
		e.emitReturnToDispatchInline()
	case ir.TermLinkBlock:
		e.emitLinkBlock(t.Next(), e.c.Block.CycleCount(), false)
	case ir.TermLinkBlockFast:
		e.emitLinkBlock(t.Next(), e.c.Block.CycleCount(), true)
	case ir.TermPopRSBHint:
		e.emitPopRSBHint()
	case ir.TermIf:
		e.emitIf(t)
	case ir.TermCheckHalt:
		e.emitCheckHalt(t)
	default:
		dynassert.Fatalf("term: block has no terminal set (kind %v)", t.Kind())
	}
	e.c.RA.EndOfAllocScope()
}

// emitInterpret stores next's PC, calls the interpreter fallback with it,
// then returns to the dispatcher — the decoder's escape hatch for an
// instruction this back end doesn't lower.
func (e *emitter) emitInterpret(next ir.Location) {
	buf := e.c.Buf
	ra := e.c.RA
	base := ra.Base()

	pc := ra.Scratch()
	buf.MovImm32(pc, next.PC)
	buf.StoreMem32(base, int32(gueststate.RegOffset(15)), pc)

	ra.HostCall(nil, ir.ImmU32(next.PC))
	fn := ra.Scratch()
	buf.MovImm64(fn, e.c.Callbacks.InterpreterFallback)
	buf.CallReg(fn)

	e.emitReturnToDispatchInline()
}

// emitPopRSBHint recomputes the current location's unique_hash at runtime
// from the guest state it was just updated to reflect, walks the 8-entry
// RSB ring with a branchless compare-and-cmove chain, and jumps to the
// matching code pointer — or the dispatcher-return default if no ring
// entry matches.
func (e *emitter) emitPopRSBHint() {
	buf := e.c.Buf
	ra := e.c.RA
	base := ra.Base()

	pc := ra.Scratch()
	buf.LoadMem32(pc, base, int32(gueststate.RegOffset(15)))

	cpsr := ra.Scratch()
	buf.LoadMem32(cpsr, base, int32(gueststate.OffCpsr))

	tbit := ra.Scratch()
	buf.MovRegReg32(tbit, cpsr)
	buf.ShiftImm32(codebuf.ShrOp, tbit, gueststate.CpsrBitT)
	buf.AndImm32(tbit, 1)
	buf.ShiftImm64(codebuf.ShlOp, tbit, 32)

	ebit := ra.Scratch()
	buf.MovRegReg32(ebit, cpsr)
	buf.ShiftImm32(codebuf.ShrOp, ebit, gueststate.CpsrBitE)
	buf.AndImm32(ebit, 1)
	buf.ShiftImm64(codebuf.ShlOp, ebit, 33)

	mode := ra.Scratch()
	buf.LoadMem32(mode, base, int32(gueststate.OffFPSCRMode))
	buf.ShiftImm64(codebuf.ShlOp, mode, 34)

	hash := ra.Scratch()
	buf.MovRegReg(hash, pc)
	buf.Or64(hash, tbit)
	buf.Or64(hash, ebit)
	buf.Or64(hash, mode)

	result := ra.Scratch()
	buf.MovImm64(result, e.c.Registry.DispatcherReturn())

	slotHash := ra.Scratch()
	slotPtr := ra.Scratch()
	for i := 0; i < gueststate.RSBSize; i++ {
		buf.LoadMem64(slotHash, base, int32(gueststate.OffRSBLocationDescs)+int32(i*8))
		buf.Cmp64(slotHash, hash)
		buf.LoadMem64(slotPtr, base, int32(gueststate.OffRSBCodePtrs)+int32(i*8))
		buf.CmovCC64(codebuf.CcE, result, slotPtr)
	}

	buf.JmpReg(result)
}

// emitIf tests t.Cond() and recurses into t.Else() on failure or t.Then()
// on success, mirroring emitConditionPrelude's test/branch shape but
// without any cycle-accounting side effect of its own — whichever branch
// is taken carries its own terminal all the way to a block-ending action.
func (e *emitter) emitIf(t ir.Terminal) {
	then := e.label("if_then")
	e.emitCondTest(t.Cond(), then)
	e.c.RA.EndOfAllocScope()
	e.emitTerminal(*t.Else())

	e.c.Buf.Mark(then)
	e.c.RA.EndOfAllocScope()
	e.emitTerminal(*t.Then())
}

// emitCheckHalt tests halt_requested and returns to the dispatcher if it
// is set; otherwise falls through into t.Else().
func (e *emitter) emitCheckHalt(t ir.Terminal) {
	buf := e.c.Buf
	ra := e.c.RA
	base := ra.Base()

	h := ra.Scratch()
	buf.LoadMem8(h, base, int32(gueststate.OffHaltRequested))
	buf.Test64(h, h)

	cont := e.label("halt_cont")
	buf.JccLabel(codebuf.CcE, cont)
	e.emitReturnToDispatchInline()

	buf.Mark(cont)
	ra.EndOfAllocScope()
	e.emitTerminal(*t.Else())
}
