package ir

import "fmt"

// String renders the block's instructions and terminal for debugging and
// test failure output, matching the shape of the original DumpBlock.
func (b *Block) String() string {
	s := fmt.Sprintf("block %s cond=%s cycles=%d\n", b.location, b.cond, b.cycles)
	for _, inst := range b.instructions {
		if inst.parent != nil {
			s += fmt.Sprintf("  %%%d <- %s  (pseudo-op of %%%d)\n", inst.id, inst.op, inst.parent.id)
			continue
		}
		s += fmt.Sprintf("  %%%d <- %s  [uses=%d]\n", inst.id, inst, inst.remainingUses)
	}
	s += "  term: " + b.terminal.String() + "\n"
	return s
}

// DumpBlock returns a textual dump of block, intended for debugging and
// test failure messages.
func DumpBlock(block *Block) string { return block.String() }
