package ir

// Block is a linear, ordered list of micro-instructions followed by
// exactly one terminal. It is this module's unit of lowering: the emitter
// consumes one Block at a time and never re-orders its instructions.
type Block struct {
	location Location

	cond             Cond
	condFailed       *Location
	condFailedCycles uint64

	instructions []*Inst
	nextID       int

	terminal Terminal
	cycles   uint64
}

// NewBlock returns an empty block with the "always" predicate and no
// terminal, ready for AppendNewInst calls.
func NewBlock(location Location) *Block {
	return &Block{location: location, cond: CondAL}
}

func (b *Block) Location() Location { return b.location }

func (b *Block) GetCondition() Cond       { return b.cond }
func (b *Block) SetCondition(c Cond)      { b.cond = c }

func (b *Block) HasConditionFailedLocation() bool { return b.condFailed != nil }

func (b *Block) ConditionFailedLocation() Location {
	if b.condFailed == nil {
		panic("ir: ConditionFailedLocation() with none set")
	}
	return *b.condFailed
}

func (b *Block) SetConditionFailedLocation(loc Location) {
	l := loc
	b.condFailed = &l
}

func (b *Block) ConditionFailedCycleCount() uint64     { return b.condFailedCycles }
func (b *Block) SetConditionFailedCycleCount(c uint64) { b.condFailedCycles = c }

func (b *Block) HasTerminal() bool      { return b.terminal.IsValid() }
func (b *Block) GetTerminal() Terminal  { return b.terminal }
func (b *Block) SetTerminal(t Terminal) {
	if b.terminal.IsValid() {
		panic("ir: terminal set twice")
	}
	b.terminal = t
}

func (b *Block) CycleCount() uint64     { return b.cycles }
func (b *Block) SetCycleCount(c uint64) { b.cycles = c }

// Instructions returns the block's instruction list in program order.
// Callers must not retain the slice across an AppendNewInst/EraseInstruction
// call, since both may reallocate it.
func (b *Block) Instructions() []*Inst { return b.instructions }

func (b *Block) Empty() bool { return len(b.instructions) == 0 }
func (b *Block) Size() int   { return len(b.instructions) }

// AppendNewInst appends a new instruction to the block and returns a
// stable handle usable immediately as an operand by later-appended
// instructions (ir.Ref(handle)). Every non-immediate arg must already
// reference an instruction earlier in this same block.
func (b *Block) AppendNewInst(op Opcode, args []Value) *Inst {
	if IsPseudoOperation(op) {
		panic("ir: AppendNewInst called directly with a pseudo-opcode; use AttachPseudoOp")
	}
	inst := &Inst{id: b.nextID, op: op, args: args}
	b.nextID++
	b.instructions = append(b.instructions, inst)
	for _, a := range args {
		if !a.imm && a.inst != nil {
			a.inst.remainingUses++
		}
	}
	return inst
}

// AttachPseudoOp creates a GetCarryFromOp/GetOverflowFromOp/GetGEFromOp
// pseudo-instruction attached to parent and appends it to the block's
// instruction list (it still occupies a position, so DumpBlock output
// matches emission order, but the allocator/lowering never lowers it via
// the normal per-opcode dispatch — only by direct
// Inst.GetAssociatedPseudoOperation lookup from parent's own lowering).
func (b *Block) AttachPseudoOp(op Opcode, parent *Inst) *Inst {
	if !IsPseudoOperation(op) {
		panic("ir: AttachPseudoOp called with a non-pseudo opcode")
	}
	if existing := parent.GetAssociatedPseudoOperation(op); existing != nil {
		panic("ir: duplicate pseudo-op of the same kind attached to one parent")
	}
	pseudo := &Inst{id: b.nextID, op: op, parent: parent}
	b.nextID++
	parent.pseudoOps = append(parent.pseudoOps, pseudo)
	b.instructions = append(b.instructions, pseudo)
	return pseudo
}

// EraseInstruction removes inst from the block's instruction list. Used by
// pseudo-op-bearing lowerings once the pseudo-op's result has been
// materialised, and by the parent's own removal once all its pseudo-ops
// and consumers are gone. Safe to call while iterating a snapshot slice
// taken before the call (Instructions() is re-sliced, not mutated in
// place).
func (b *Block) EraseInstruction(inst *Inst) {
	for i, in := range b.instructions {
		if in == inst {
			b.instructions = append(b.instructions[:i:i], b.instructions[i+1:]...)
			if inst.parent != nil {
				p := inst.parent
				for j, po := range p.pseudoOps {
					if po == inst {
						p.pseudoOps = append(p.pseudoOps[:j:j], p.pseudoOps[j+1:]...)
						break
					}
				}
			}
			return
		}
	}
	panic("ir: EraseInstruction on an instruction not in this block")
}
