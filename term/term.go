// Package term lowers a block's condition prelude and terminal into
// machine code, and owns the patch-table wiring (via blockreg.Registry)
// that lets LinkBlock, LinkBlockFast, and PushRSB sites point at a sibling
// block compiled later, or get unwound again by Unpatch. It is the only
// consumer of ir.Terminal.
package term

import (
	"fmt"

	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/hostreg"
	"github.com/inquisitio/dynarmic/internal/dynassert"
	"github.com/inquisitio/dynarmic/ir"
	"github.com/inquisitio/dynarmic/lower"
)

// emitter threads a per-block label counter through the prelude/terminal
// helpers so nested If/CheckHalt terminals and the shared code arena's
// single label namespace never collide across blocks.
type emitter struct {
	c    *lower.Context
	hash uint64
	seq  int
}

func (e *emitter) label(kind string) string {
	e.seq++
	return fmt.Sprintf("term_%x_%s_%d", e.hash, kind, e.seq)
}

// EmitBlock lowers block's condition prelude, every non-pseudo instruction
// in program order, and its terminal, in that order. block.SetTerminal
// must already have been called.
func EmitBlock(c *lower.Context) {
	blk := c.Block
	if !blk.HasTerminal() {
		dynassert.Fatalf("term: EmitBlock on a block with no terminal set")
	}
	e := &emitter{c: c, hash: blk.Location().UniqueHash()}

	e.emitConditionPrelude()

	insts := append([]*ir.Inst(nil), blk.Instructions()...)
	for _, inst := range insts {
		if ir.IsPseudoOperation(inst.Opcode()) {
			continue
		}
		lower.Lower(c, inst)
	}

	e.emitTerminal(blk.GetTerminal())
	c.RA.AssertNoMoreUses()
}

// emitConditionPrelude tests block's condition against CPSR's NZCV bits
// and, on failure, links directly to ConditionFailedLocation with
// ConditionFailedCycleCount charged instead of the block's own cost.
func (e *emitter) emitConditionPrelude() {
	blk := e.c.Block
	cond := blk.GetCondition()
	if cond.IsAlways() {
		return
	}
	if !blk.HasConditionFailedLocation() {
		dynassert.Fatalf("term: conditional block %s has no condition-failed location", blk.Location())
	}

	pass := e.label("pass")
	e.emitCondTest(cond, pass)
	e.emitLinkBlock(blk.ConditionFailedLocation(), blk.ConditionFailedCycleCount(), false)
	e.c.Buf.Mark(pass)
	e.c.RA.EndOfAllocScope()
}

// emitCondTest extracts N/Z/C/V from CPSR, combines them per cond's
// boolean formula, and jumps to pass if the condition holds. Falls through
// (to whatever the caller emits next — always the condition-failed path)
// when it doesn't.
func (e *emitter) emitCondTest(cond ir.Cond, pass string) {
	buf := e.c.Buf
	ra := e.c.RA
	base := ra.Base()

	cpsr := ra.Scratch()
	buf.LoadMem32(cpsr, base, int32(gueststate.OffCpsr))
	n := e.extractFlag(cpsr, gueststate.CpsrBitN)
	z := e.extractFlag(cpsr, gueststate.CpsrBitZ)
	c := e.extractFlag(cpsr, gueststate.CpsrBitC)
	v := e.extractFlag(cpsr, gueststate.CpsrBitV)

	result := e.condPassBit(cond, n, z, c, v)
	buf.Test64(result, result)
	buf.JccLabel(codebuf.CcNE, pass)
}

// extractFlag isolates CPSR bit into a fresh 0/1-valued scratch register.
func (e *emitter) extractFlag(cpsr hostreg.Reg, bit int) hostreg.Reg {
	r := e.c.RA.Scratch()
	e.c.Buf.MovRegReg32(r, cpsr)
	e.c.Buf.ShiftImm32(codebuf.ShrOp, r, byte(bit))
	e.c.Buf.AndImm32(r, 1)
	return r
}

// condPassBit combines the four 0/1 flag registers per cond's formula and
// returns a register that is nonzero exactly when cond holds. It mutates
// and reuses the flag registers in place; each is read from at most once
// across the switch since exactly one case runs.
func (e *emitter) condPassBit(cond ir.Cond, n, z, c, v hostreg.Reg) hostreg.Reg {
	buf := e.c.Buf
	switch cond {
	case ir.CondEQ:
		return z
	case ir.CondNE:
		buf.XorImm32(z, 1)
		return z
	case ir.CondCS:
		return c
	case ir.CondCC:
		buf.XorImm32(c, 1)
		return c
	case ir.CondMI:
		return n
	case ir.CondPL:
		buf.XorImm32(n, 1)
		return n
	case ir.CondVS:
		return v
	case ir.CondVC:
		buf.XorImm32(v, 1)
		return v
	case ir.CondHI:
		buf.XorImm32(z, 1)
		buf.And32(c, z)
		return c
	case ir.CondLS:
		buf.XorImm32(c, 1)
		buf.Or32(c, z)
		return c
	case ir.CondGE:
		buf.Xor32(n, v)
		buf.XorImm32(n, 1)
		return n
	case ir.CondLT:
		buf.Xor32(n, v)
		return n
	case ir.CondGT:
		buf.Xor32(n, v)
		buf.XorImm32(n, 1)
		buf.XorImm32(z, 1)
		buf.And32(n, z)
		return n
	case ir.CondLE:
		buf.Xor32(n, v)
		buf.Or32(n, z)
		return n
	default:
		dynassert.Fatalf("term: unexpected condition %s in prelude", cond)
		return z
	}
}

// storeTargetLocation publishes target's PC into the guest register file
// and, only if it actually changes, target's Thumb/BigEndian bits into
// CPSR's T/E fields.
func (e *emitter) storeTargetLocation(target, cur ir.Location) {
	buf := e.c.Buf
	ra := e.c.RA
	base := ra.Base()

	pc := ra.Scratch()
	buf.MovImm32(pc, target.PC)
	buf.StoreMem32(base, int32(gueststate.RegOffset(15)), pc)

	if target.Thumb == cur.Thumb && target.BigEndian == cur.BigEndian {
		return
	}
	cpsr := ra.Scratch()
	buf.LoadMem32(cpsr, base, int32(gueststate.OffCpsr))
	buf.AndImm32(cpsr, ^uint32(1<<gueststate.CpsrBitT|1<<gueststate.CpsrBitE))
	var bits uint32
	if target.Thumb {
		bits |= 1 << gueststate.CpsrBitT
	}
	if target.BigEndian {
		bits |= 1 << gueststate.CpsrBitE
	}
	if bits != 0 {
		buf.OrImm32(cpsr, bits)
	}
	buf.StoreMem32(base, int32(gueststate.OffCpsr), cpsr)
}

// emitLinkBlock implements both LinkBlock (cycle-checked: takes the patched
// direct jump while cycles_remaining stays positive, and falls into the
// dispatcher-return stub once it goes non-positive or while the target is
// still unlinked) and LinkBlockFast (unconditional
// patched jump, no cycle check at all — used for calls the decoder judged
// safe to chain without yielding back to the dispatch loop).
func (e *emitter) emitLinkBlock(target ir.Location, cycles uint64, fast bool) {
	buf := e.c.Buf
	ra := e.c.RA
	base := ra.Base()

	e.storeTargetLocation(target, e.c.Block.Location())

	if fast {
		site := buf.ReserveJmp()
		buf.RewriteJmp(site, e.c.Registry.DispatcherReturn())
		e.c.Registry.AddPatch(target.UniqueHash(), buf, site)
		return
	}

	cyc := ra.Scratch()
	buf.LoadMem64(cyc, base, int32(gueststate.OffCyclesRemaining))
	if cycles != 0 {
		buf.SubImm64(cyc, uint32(cycles))
	}
	buf.StoreMem64(base, int32(gueststate.OffCyclesRemaining), cyc)
	buf.CmpImm64(cyc, 0)

	site := buf.ReserveJg(codebuf.CcG)
	e.emitReturnToDispatchInline()
	e.c.Registry.AddPatch(target.UniqueHash(), buf, site)
}

// emitReturnToDispatchInline loads the registry's fixed dispatcher-return
// address and jumps to it indirectly.
func (e *emitter) emitReturnToDispatchInline() {
	r := e.c.RA.Scratch()
	e.c.Buf.MovImm64(r, e.c.Registry.DispatcherReturn())
	e.c.Buf.JmpReg(r)
}
