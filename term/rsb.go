package term

import (
	"fmt"

	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/gueststate"
	"github.com/inquisitio/dynarmic/ir"
	"github.com/inquisitio/dynarmic/lower"
)

func init() {
	lower.Register(ir.OpPushRSB, lowerPushRSB)
}

// lowerPushRSB pushes (unique_hash_of_target, code_ptr_of_target) onto the
// RSB ring, unless the most-recently-pushed slot already names the same
// target — a call site that returns to itself in a tight loop must not
// burn a fresh ring slot every iteration. Arg(0) is the target's
// Location.UniqueHash(), computed by the decoder at IR-build time since
// the call's return site is always statically known.
func lowerPushRSB(c *lower.Context, inst *ir.Inst) {
	hash := inst.Arg(0).U64()
	buf := c.Buf
	ra := c.RA
	base := ra.Base()

	ptr := ra.Scratch()
	buf.LoadMem32(ptr, base, int32(gueststate.OffRSBPtr))

	lastSlot := ra.Scratch()
	buf.MovRegReg32(lastSlot, ptr)
	buf.AddImm32(lastSlot, gueststate.RSBSize-1)
	buf.AndImm32(lastSlot, gueststate.RSBSize-1)

	lastHash := ra.Scratch()
	buf.LoadMem64Idx(lastHash, base, lastSlot, 8, int32(gueststate.OffRSBLocationDescs))

	hashReg := ra.Scratch()
	buf.MovImm64(hashReg, hash)
	buf.Cmp64(lastHash, hashReg)

	skip := fmt.Sprintf("pushrsb_%p_skip", inst)
	buf.JccLabel(codebuf.CcE, skip)

	buf.StoreMem64Idx(base, ptr, 8, int32(gueststate.OffRSBLocationDescs), hashReg)

	codePtr := ra.Scratch()
	site := buf.ReserveMovImm64(codePtr)
	buf.RewriteMovImm64(site, c.Registry.DispatcherReturn())
	c.Registry.AddPatch(hash, buf, site)

	buf.StoreMem64Idx(base, ptr, 8, int32(gueststate.OffRSBCodePtrs), codePtr)

	newPtr := ra.Scratch()
	buf.MovRegReg32(newPtr, ptr)
	buf.AddImm32(newPtr, 1)
	buf.AndImm32(newPtr, gueststate.RSBSize-1)
	buf.StoreMem32(base, int32(gueststate.OffRSBPtr), newPtr)

	buf.Mark(skip)
}
