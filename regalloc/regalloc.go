// Package regalloc implements the single-pass, per-block register
// allocator: it maps IR values onto the fixed host GPR/XMM pools declared
// in hostreg, spilling to slots inside the guest state when the pools are
// exhausted. Liveness is consumer-count based, not flow-based — a value
// dies exactly when its remaining-uses counter (ir.Inst) reaches zero.
package regalloc

import (
	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/hostreg"
	"github.com/inquisitio/dynarmic/internal/dynassert"
	"github.com/inquisitio/dynarmic/ir"
)

// valueState is the allocator's bookkeeping for one live IR value.
type valueState struct {
	inst    *ir.Inst
	hasGpr  bool
	gpr     hostreg.Reg
	hasXmm  bool
	xmm     hostreg.Reg
	spilled bool
	slot    int
	locked  bool
}

// RegAlloc allocates host registers for a single block's worth of lowering.
// Not safe for concurrent use, and not reusable across blocks — construct
// a fresh one per EmitBlock call.
type RegAlloc struct {
	buf   *codebuf.Buffer
	base  hostreg.Reg

	gprOwner map[hostreg.Reg]*ir.Inst
	xmmOwner map[hostreg.Reg]*ir.Inst

	live map[*ir.Inst]*valueState

	// scratchBusy holds registers handed out as plain scratch (not bound to
	// any IR value, e.g. an immediate materialized for one instruction's
	// internal use). This is the "locked-for-this-instruction" GPR state
	// named in the allocator's state model; it is cleared in full by
	// EndOfAllocScope since no scratch register may outlive the
	// instruction that requested it.
	scratchBusy map[hostreg.Reg]bool

	spillFree [gueststate.NumSpillSlots]bool
}

// New returns a RegAlloc that emits spill/reload and host-call sequences
// into buf, addressing guest state through base (normally hostreg.BaseReg).
func New(buf *codebuf.Buffer, base hostreg.Reg) *RegAlloc {
	ra := &RegAlloc{
		buf:      buf,
		base:     base,
		gprOwner:    make(map[hostreg.Reg]*ir.Inst),
		xmmOwner:    make(map[hostreg.Reg]*ir.Inst),
		live:        make(map[*ir.Inst]*valueState),
		scratchBusy: make(map[hostreg.Reg]bool),
	}
	for i := range ra.spillFree {
		ra.spillFree[i] = true
	}
	return ra
}

func (ra *RegAlloc) stateFor(inst *ir.Inst) *valueState {
	vs, ok := ra.live[inst]
	if !ok {
		vs = &valueState{inst: inst}
		ra.live[inst] = vs
	}
	return vs
}

// consume decrements v's producer's remaining-uses count if v is a
// reference (immediates have nothing to decrement).
func (ra *RegAlloc) consume(v ir.Value) {
	if v.IsImmediate() || v.IsVoid() {
		return
	}
	v.Inst().DecrementRemainingUses()
}

func (ra *RegAlloc) gprFree(r hostreg.Reg) bool {
	if _, occupied := ra.gprOwner[r]; occupied {
		return false
	}
	return !ra.scratchBusy[r]
}

func (ra *RegAlloc) allocGpr(preferred []hostreg.Reg) hostreg.Reg {
	for _, p := range preferred {
		if ra.gprFree(p) {
			return p
		}
	}
	for _, r := range hostreg.AllocatableGPRs {
		if ra.gprFree(r) {
			return r
		}
	}
	return ra.evictGpr()
}

// Scratch allocates a register bound to no IR value, for an instruction's
// own internal use (e.g. materializing an immediate operand). It is
// automatically released by the next EndOfAllocScope call — callers must
// not retain it past the instruction currently being lowered.
func (ra *RegAlloc) Scratch(preferred ...hostreg.Reg) hostreg.Reg {
	r := ra.allocGpr(preferred)
	ra.scratchBusy[r] = true
	return r
}

func (ra *RegAlloc) allocXmm() hostreg.Reg {
	for _, r := range hostreg.AllocatableXMMs {
		if _, occupied := ra.xmmOwner[r]; !occupied {
			return r
		}
	}
	return ra.evictXmm()
}

// evictGpr spills the occupant with the largest remaining-uses count
// (longest expected live range) to a guest-state slot and frees its
// register.
func (ra *RegAlloc) evictGpr() hostreg.Reg {
	var victimReg hostreg.Reg
	var victim *ir.Inst
	best := -1
	for r, inst := range ra.gprOwner {
		vs := ra.live[inst]
		if vs.locked {
			continue
		}
		if inst.RemainingUses() > best {
			best = inst.RemainingUses()
			victim = inst
			victimReg = r
		}
	}
	if victim == nil {
		dynassert.Fatalf("regalloc: no evictable GPR (all locked)")
	}
	ra.spillGpr(victim, victimReg)
	return victimReg
}

func (ra *RegAlloc) evictXmm() hostreg.Reg {
	var victimReg hostreg.Reg
	var victim *ir.Inst
	best := -1
	for r, inst := range ra.xmmOwner {
		vs := ra.live[inst]
		if vs.locked {
			continue
		}
		if inst.RemainingUses() > best {
			best = inst.RemainingUses()
			victim = inst
			victimReg = r
		}
	}
	if victim == nil {
		dynassert.Fatalf("regalloc: no evictable XMM (all locked)")
	}
	ra.spillXmm(victim, victimReg)
	return victimReg
}

func (ra *RegAlloc) takeSpillSlot() int {
	for i, free := range ra.spillFree {
		if free {
			ra.spillFree[i] = false
			return i
		}
	}
	dynassert.Fatalf("regalloc: spill area exhausted")
	return -1
}

func (ra *RegAlloc) spillGpr(inst *ir.Inst, r hostreg.Reg) {
	vs := ra.stateFor(inst)
	slot := ra.takeSpillSlot()
	ra.buf.StoreMem64(ra.base, int32(gueststate.SpillSlotOffset(slot)), r)
	vs.spilled = true
	vs.slot = slot
	vs.hasGpr = false
	delete(ra.gprOwner, r)
}

func (ra *RegAlloc) spillXmm(inst *ir.Inst, r hostreg.Reg) {
	// XMM spill reuses the same 8-byte-slot guest-state spill area; the
	// movq variant of the store is emitted by lower/fp.go's helpers, which
	// call back into codebuf directly since codebuf has no XMM mem-store
	// helper of its own (kept minimal, matching the teacher's "just enough
	// opcodes to cover what's emitted" style).
	vs := ra.stateFor(inst)
	slot := ra.takeSpillSlot()
	vs.spilled = true
	vs.slot = slot
	vs.hasXmm = false
	delete(ra.xmmOwner, r)
	_ = r // actual MOVQ emission is the caller's responsibility via Buf()/Base()
}

// Buf exposes the underlying code buffer for lowerings that need to emit
// instruction forms regalloc itself doesn't wrap (e.g. XMM moves).
func (ra *RegAlloc) Buf() *codebuf.Buffer { return ra.buf }

// Base returns the guest-state base register.
func (ra *RegAlloc) Base() hostreg.Reg { return ra.base }

// UseGpr pins v in a GPR, reloading from its spill slot if necessary, and
// returns that register. The returned register must be treated as
// read-only: further writes must go through UseScratchGpr or DefGpr.
func (ra *RegAlloc) UseGpr(v ir.Value, preferred ...hostreg.Reg) hostreg.Reg {
	r := ra.materialize(v, preferred)
	ra.consume(v)
	return r
}

// UseXmm is UseGpr's XMM-class counterpart.
func (ra *RegAlloc) UseXmm(v ir.Value) hostreg.Reg {
	r := ra.materializeXmm(v)
	ra.consume(v)
	return r
}

// UseScratchGpr delivers v into a GPR the caller may overwrite: if v's
// producer has no other remaining users after this use, its own register
// is reused directly; otherwise a fresh register is allocated and the
// value is copied into it.
func (ra *RegAlloc) UseScratchGpr(v ir.Value, preferred ...hostreg.Reg) hostreg.Reg {
	if v.IsImmediate() {
		r := ra.Scratch(preferred...)
		ra.buf.MovImm32(r, v.U32())
		return r
	}
	inst := v.Inst()
	r := ra.materialize(v, preferred)
	if inst.RemainingUses() == 1 {
		ra.consume(v)
		return r
	}
	fresh := ra.Scratch(preferred...)
	ra.buf.MovRegReg(fresh, r)
	ra.consume(v)
	return fresh
}

// DefGpr allocates a register to hold inst's result and marks inst live
// with remaining_uses equal to its consumer count (already set by
// ir.Block.AppendNewInst at construction time).
func (ra *RegAlloc) DefGpr(inst *ir.Inst) hostreg.Reg {
	r := ra.allocGpr(nil)
	ra.bindGpr(inst, r)
	return r
}

// DefXmm is DefGpr's XMM-class counterpart.
func (ra *RegAlloc) DefXmm(inst *ir.Inst) hostreg.Reg {
	r := ra.allocXmm()
	ra.bindXmm(inst, r)
	return r
}

// UseDefGpr delivers src into a register and designates inst's result to
// occupy that same register (the destructive two-operand x86 shape). Legal
// only if this call consumes src's last remaining use; otherwise the
// allocator copies src into a fresh register first, matching the spec's
// use_def_gpr contract exactly.
func (ra *RegAlloc) UseDefGpr(src ir.Value, inst *ir.Inst) hostreg.Reg {
	r := ra.UseScratchGpr(src)
	ra.bindGpr(inst, r)
	return r
}

// RegisterAddDef declares that inst's result is byte-identical to src's,
// so consumers of inst read src's location directly. Zero instructions are
// emitted. Used by Identity/LeastSignificantWord-style free truncations.
func (ra *RegAlloc) RegisterAddDef(inst *ir.Inst, src ir.Value) {
	if src.IsImmediate() {
		dynassert.Fatalf("regalloc: RegisterAddDef with an immediate source")
	}
	srcInst := src.Inst()
	vs := ra.stateFor(srcInst)
	alias := ra.stateFor(inst)
	*alias = *vs
	alias.inst = inst
	if vs.hasGpr {
		ra.gprOwner[vs.gpr] = inst
	}
	if vs.hasXmm {
		ra.xmmOwner[vs.xmm] = inst
	}
}

func (ra *RegAlloc) bindGpr(inst *ir.Inst, r hostreg.Reg) {
	vs := ra.stateFor(inst)
	vs.hasGpr = true
	vs.gpr = r
	ra.gprOwner[r] = inst
}

func (ra *RegAlloc) bindXmm(inst *ir.Inst, r hostreg.Reg) {
	vs := ra.stateFor(inst)
	vs.hasXmm = true
	vs.xmm = r
	ra.xmmOwner[r] = inst
}

func (ra *RegAlloc) materialize(v ir.Value, preferred []hostreg.Reg) hostreg.Reg {
	if v.IsImmediate() {
		r := ra.Scratch(preferred...)
		switch v.Type() {
		case ir.TypeU64:
			ra.buf.MovImm64(r, v.U64())
		default:
			ra.buf.MovImm32(r, v.U32())
		}
		return r
	}
	inst := v.Inst()
	vs := ra.stateFor(inst)
	if vs.hasGpr {
		return vs.gpr
	}
	r := ra.allocGpr(preferred)
	if vs.spilled {
		ra.buf.LoadMem64(r, ra.base, int32(gueststate.SpillSlotOffset(vs.slot)))
		ra.spillFree[vs.slot] = true
		vs.spilled = false
	} else if vs.hasXmm {
		dynassert.Fatalf("regalloc: GPR use of an XMM-resident value without a cast")
	} else {
		dynassert.Fatalf("regalloc: use of a value with no known location")
	}
	vs.hasGpr = true
	vs.gpr = r
	ra.gprOwner[r] = inst
	return r
}

func (ra *RegAlloc) materializeXmm(v ir.Value) hostreg.Reg {
	if v.IsImmediate() {
		dynassert.Fatalf("regalloc: XMM immediates must be pre-staged via a constant pool, not materialize")
	}
	inst := v.Inst()
	vs := ra.stateFor(inst)
	if vs.hasXmm {
		return vs.xmm
	}
	dynassert.Fatalf("regalloc: use of a value with no known XMM location")
	return hostreg.Reg{}
}

// HostCall prepares for a host-ABI call: evicts caller-saved registers that
// hold live values, moves args into the ABI argument registers in order,
// and (if retInst is non-nil) declares retInst's result to occupy the ABI
// return register once the call instruction itself has been emitted by the
// caller.
func (ra *RegAlloc) HostCall(retInst *ir.Inst, args ...ir.Value) {
	for _, r := range hostreg.CallerSaved {
		if inst, occupied := ra.gprOwner[r]; occupied {
			ra.spillGpr(inst, r)
		}
	}
	for i, a := range args {
		if i >= len(hostreg.ArgRegs) {
			dynassert.Fatalf("regalloc: HostCall with more args than ABI registers modeled")
		}
		dst := hostreg.ArgRegs[i]
		if a.IsImmediate() {
			switch a.Type() {
			case ir.TypeU64:
				ra.buf.MovImm64(dst, a.U64())
			default:
				ra.buf.MovImm32(dst, a.U32())
			}
		} else {
			src := ra.materialize(a, []hostreg.Reg{dst})
			ra.buf.MovRegReg(dst, src)
		}
		ra.consume(a)
	}
	if retInst != nil {
		ra.bindGpr(retInst, hostreg.ReturnReg)
	}
}

// EndOfAllocScope reclaims every value whose remaining-uses count has
// reached zero, freeing its host register and spill slot. Called once
// after each lowered instruction.
func (ra *RegAlloc) EndOfAllocScope() {
	for inst, vs := range ra.live {
		if inst.HasUses() {
			continue
		}
		// A register rebound to another value (UseDefGpr, RegisterAddDef)
		// belongs to that value now and is not freed here.
		if vs.hasGpr && ra.gprOwner[vs.gpr] == inst {
			delete(ra.gprOwner, vs.gpr)
		}
		if vs.hasXmm && ra.xmmOwner[vs.xmm] == inst {
			delete(ra.xmmOwner, vs.xmm)
		}
		if vs.spilled {
			ra.spillFree[vs.slot] = true
		}
		delete(ra.live, inst)
	}
	for r := range ra.scratchBusy {
		delete(ra.scratchBusy, r)
	}
}

// AssertNoMoreUses fails if any value is still live, catching miscounted
// consumers. Called once after the last lowered instruction in a block.
func (ra *RegAlloc) AssertNoMoreUses() {
	for inst := range ra.live {
		if inst.HasUses() {
			dynassert.Fatalf("regalloc: value %s still has %d remaining uses at end of block", inst, inst.RemainingUses())
		}
	}
}

// Lock marks v's current location as not evictable for the duration of
// lowering the current instruction (used when an opcode needs to hold
// several operands live in fixed registers simultaneously, e.g. division).
func (ra *RegAlloc) Lock(v ir.Value) {
	if v.IsImmediate() {
		return
	}
	ra.stateFor(v.Inst()).locked = true
}

// Unlock reverses Lock.
func (ra *RegAlloc) Unlock(v ir.Value) {
	if v.IsImmediate() {
		return
	}
	ra.stateFor(v.Inst()).locked = false
}
