// Package lower materialises IR micro-instructions as x86-64 machine code,
// one function per opcode, honouring ARM semantics that diverge from
// native x86-64 (shift-count masking, carry capture). Each lowering
// reserves register slots via regalloc, emits bytes via codebuf, and —
// where a pseudo-op is attached — captures the associated side-effect
// result before erasing the pseudo-op from the block.
//
// Lowerings are registered for the guest-register/flag ops, the casts and
// bit utilities, and the shifts; package term registers PushRSB. The other
// ir opcodes (carry arithmetic, bitwise, saturation, packed SIMD, floating
// point, memory, coprocessor) have no lowering, and Lower rejects them as
// unknown opcodes.
package lower

import (
	"fmt"

	"github.com/inquisitio/dynarmic/blockreg"
	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/internal/dynassert"
	"github.com/inquisitio/dynarmic/ir"
	"github.com/inquisitio/dynarmic/regalloc"
)

// Context bundles the per-block state every lowering function needs.
type Context struct {
	Buf   *codebuf.Buffer
	RA    *regalloc.RegAlloc
	Block *ir.Block

	// Callbacks is the user-supplied collaborator surface: memory handlers,
	// coprocessors, interpreter fallback, SVC — all external per §6.
	Callbacks *Callbacks

	// Registry resolves and records the patch sites PushRSB and every
	// terminator lowering in package term reserve. Nil is a valid value for
	// lowering tests that exercise only non-terminator opcodes.
	Registry *blockreg.Registry

	ftz bool
	dn  bool
}

// SetFPSCRModes records the per-block sticky FTZ/DN bits sampled from
// FPSCR_mode once at block entry, per spec: FP lowerings consult these
// rather than re-reading FPSCR per instruction.
func (c *Context) SetFPSCRModes(ftz, dn bool) {
	c.ftz = ftz
	c.dn = dn
}

// Callbacks holds the absolute host addresses of user-supplied collaborator
// functions, resolved once by the VM/emitter before lowering begins.
type Callbacks struct {
	InterpreterFallback uint64
	CallSVC             uint64

	ReadMemory8  uint64
	ReadMemory16 uint64
	ReadMemory32 uint64
	ReadMemory64 uint64
	WriteMemory8  uint64
	WriteMemory16 uint64
	WriteMemory32 uint64
	WriteMemory64 uint64

	PageTable uint64 // 0 if none supplied; triggers slow path unconditionally

	Coprocessors [16]CoprocHandlers
}

// CoprocHandlers records, for one coprocessor slot, only whether a
// coprocessor is present; it holds no callback or direct-pointer outcome
// for the slot's operations.
type CoprocHandlers struct {
	Present bool
}

// LowerFunc is the signature every per-opcode lowering implements.
type LowerFunc func(c *Context, inst *ir.Inst)

// table dispatches by opcode; populated by each family's init().
var table = map[ir.Opcode]LowerFunc{}

func register(op ir.Opcode, fn LowerFunc) {
	if _, exists := table[op]; exists {
		panic(fmt.Sprintf("lower: duplicate registration for %s", op))
	}
	table[op] = fn
}

// Register is register's exported form, for packages outside lower that own
// an opcode family tightly coupled to their own state (term's PushRSB, which
// needs blockreg.Registry access at lowering time).
func Register(op ir.Opcode, fn LowerFunc) { register(op, fn) }

// Lower dispatches inst to its registered lowering. Unknown opcodes and
// direct attempts to lower a pseudo-op standalone are fatal programming
// errors, matching §"Failure semantics (lowering)".
func Lower(c *Context, inst *ir.Inst) {
	if ir.IsPseudoOperation(inst.Opcode()) {
		dynassert.Fatalf("lower: pseudo-op %s may not be lowered standalone", inst)
	}
	fn, ok := table[inst.Opcode()]
	if !ok {
		dynassert.Fatalf("lower: no lowering registered for opcode %s", inst.Opcode())
	}
	fn(c, inst)
	c.RA.EndOfAllocScope()
}

// regOffset/extRegOffset as int32, for codebuf's disp32 operand.
func regOffset(n int) int32    { return int32(gueststate.RegOffset(n)) }
func extRegOffset(n int) int32 { return int32(gueststate.ExtRegOffset(n)) }
