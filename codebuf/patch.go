package codebuf

import (
	"encoding/binary"

	"github.com/inquisitio/dynarmic/hostreg"
	"github.com/inquisitio/dynarmic/internal/dynassert"
)

// PatchKind identifies the fixed-size instruction shape reserved at a patch
// site. Sizes are a contract with blockreg.Registry: the terminator/linking
// logic relies on being able to overwrite a reserved site without touching
// a single byte before or after it.
type PatchKind int

const (
	// PatchKindJg reserves a near-conditional-jump site: 0F 8x rel32, 6 bytes.
	PatchKindJg PatchKind = iota
	// PatchKindJmp reserves a mov-then-jmp-indirect sequence used for
	// patchable unconditional block links: movabs rax, imm64 (10) + jmp rax
	// with a no-op REX (3: 40 FF E0) = 13 bytes.
	PatchKindJmp
	// PatchKindMovImm64 reserves a bare movabs dst, imm64 site: 10 bytes.
	PatchKindMovImm64
)

// PatchSize returns the guaranteed byte length of a patch site of this
// kind, per the external interface contract (spec.md §6: jg=6, jmp=13,
// mov r64,imm64=10).
func PatchSize(k PatchKind) int {
	switch k {
	case PatchKindJg:
		return 6
	case PatchKindJmp:
		return 13
	case PatchKindMovImm64:
		return 10
	default:
		return 0
	}
}

// PatchSite records where a fixed-size, later-rewritable instruction was
// reserved in the buffer, so that blockreg.Registry can later overwrite it in
// place once the link target is known.
type PatchSite struct {
	ID     int
	Kind   PatchKind
	Offset int
}

// ReserveJg reserves a 6-byte conditional-jump patch site with a
// placeholder rel32 of 0 (falls through until patched) and returns a handle
// for later rewriting via RewriteJg.
func (b *Buffer) ReserveJg(c cc) PatchSite {
	off := len(b.code)
	b.emit(0x0F, 0x80+byte(c))
	b.emitU32(0)
	return b.registerPatch(PatchKindJg, off)
}

// ReserveJmp reserves a 13-byte movabs-rax,imm64 + jmp rax patch site
// (placeholder target 0), used for LinkBlock sites that must remain
// patchable after emission to point at a just-compiled sibling block. The
// jmp itself carries a no-op REX prefix (legal, ignored by the CPU) purely
// to round the region out to the declared 13 bytes rather than the 12 a
// bare `jmp rax` would take.
func (b *Buffer) ReserveJmp() PatchSite {
	off := len(b.code)
	b.emit(rex(true, false, false, false))
	b.emit(0xB8) // movabs rax, imm64
	b.emitU64(0)
	b.emit(0x40)       // no-op REX, padding
	b.emit(0xFF, 0xE0) // jmp rax
	return b.registerPatch(PatchKindJmp, off)
}

// ReserveMovImm64 reserves a 10-byte movabs dst, imm64 patch site with a
// placeholder immediate of 0.
func (b *Buffer) ReserveMovImm64(dst hostreg.Reg) PatchSite {
	off := len(b.code)
	b.MovImm64(dst, 0)
	return b.registerPatch(PatchKindMovImm64, off)
}

func (b *Buffer) registerPatch(kind PatchKind, offset int) PatchSite {
	id := b.nextPatch
	b.nextPatch++
	site := PatchSite{ID: id, Kind: kind, Offset: offset}
	b.patchByID[id] = site
	return site
}

// RewriteJg rewrites a PatchKindJg site's rel32 to jump to target (an
// absolute offset within this same buffer).
func (b *Buffer) RewriteJg(site PatchSite, target int) {
	assertKind(site, PatchKindJg)
	rel := int32(target - (site.Offset + 6))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(rel))
	b.WriteAt(Cursor(site.Offset+2), buf[:])
}

// RewriteJmp rewrites a PatchKindJmp site's embedded absolute address to
// target (an absolute host code pointer, not a buffer-relative offset —
// used once a sibling block's final mmapped address is known).
func (b *Buffer) RewriteJmp(site PatchSite, targetAddr uint64) {
	assertKind(site, PatchKindJmp)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], targetAddr)
	b.WriteAt(Cursor(site.Offset+2), buf[:])
}

// RewriteMovImm64 rewrites a PatchKindMovImm64 site's embedded immediate.
func (b *Buffer) RewriteMovImm64(site PatchSite, imm uint64) {
	assertKind(site, PatchKindMovImm64)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], imm)
	b.WriteAt(Cursor(site.Offset+2), buf[:])
}

func assertKind(site PatchSite, want PatchKind) {
	if site.Kind != want {
		dynassert.Fatalf("codebuf: patch site kind mismatch")
	}
}
