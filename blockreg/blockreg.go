// Package blockreg is the emitted-block registry: a hash-keyed map from a
// block's location to the code it has been compiled into, plus the pending
// patch list term.EmitBlock consults so a LinkBlock/LinkBlockFast/PushRSB
// site reserved before its target exists gets rewritten the moment that
// target is finally emitted.
package blockreg

import (
	"sync"

	"github.com/inquisitio/dynarmic/codebuf"
	"github.com/inquisitio/dynarmic/internal/dynassert"
)

// Descriptor is a published block's location within the shared code arena:
// byte offset from the arena's base plus size, the "block descriptor"
// exposed upward per the external-interfaces contract.
type Descriptor struct {
	Offset int
	Size   int
}

// pendingPatch records a reserved-but-unresolved site: the buffer it lives
// in (the shared arena buffer, in production use, but kept generic so
// per-block test buffers work too) and which patch it is.
type pendingPatch struct {
	buf  *codebuf.Buffer
	site codebuf.PatchSite
}

// Registry is the single instance an Emitter owns for its lifetime. Safe
// for concurrent use; the back end itself is single-writer per §5, but the
// mutex mirrors the teacher's RecompilerVM.mu out of the same caution —
// cache invalidation (Unpatch) can race a concurrent lookup from a
// diagnostics/disassembly path.
type Registry struct {
	mu sync.Mutex

	arenaBase        uint64
	dispatcherReturn uint64

	blocks   map[uint64]Descriptor
	pending  map[uint64][]pendingPatch
	resolved map[uint64][]pendingPatch
}

// New returns an empty Registry. arenaBase is the absolute host address the
// shared code buffer's offset 0 maps to; dispatcherReturn is the absolute
// address of the "return from run-code" trampoline, the default/unlinked
// target for every patch site until its real target is registered.
func New(arenaBase, dispatcherReturn uint64) *Registry {
	return &Registry{
		arenaBase:        arenaBase,
		dispatcherReturn: dispatcherReturn,
		blocks:           make(map[uint64]Descriptor),
		pending:          make(map[uint64][]pendingPatch),
		resolved:         make(map[uint64][]pendingPatch),
	}
}

// DispatcherReturn returns the registry's fixed dispatcher-return address.
func (r *Registry) DispatcherReturn() uint64 { return r.dispatcherReturn }

// ArenaBase returns the registry's fixed arena base address.
func (r *Registry) ArenaBase() uint64 { return r.arenaBase }

// AbsAddr converts an arena-relative byte offset into an absolute host
// address.
func (r *Registry) AbsAddr(offset int) uint64 { return r.arenaBase + uint64(offset) }

// Lookup returns hash's descriptor, if its block has already been emitted.
func (r *Registry) Lookup(hash uint64) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.blocks[hash]
	return d, ok
}

// AddPatch records a reserved patch site targeting hash. If hash's block
// has already been emitted, the site is rewritten immediately; otherwise
// it is deferred until a matching Register call arrives. Every site passed
// here must already hold the "unlinked" default (dispatcher-return-facing)
// value from ReserveJg/ReserveJmp/ReserveMovImm64 plus its own initial
// rewrite — AddPatch only ever moves a site from unlinked to linked, never
// the reverse (that's Unpatch's job).
func (r *Registry) AddPatch(hash uint64, buf *codebuf.Buffer, site codebuf.PatchSite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := pendingPatch{buf: buf, site: site}
	if desc, ok := r.blocks[hash]; ok {
		r.rewrite(p, desc.Offset)
		r.resolved[hash] = append(r.resolved[hash], p)
		return
	}
	r.pending[hash] = append(r.pending[hash], p)
}

// Register publishes a freshly emitted block's arena position under hash
// and resolves every patch site recorded against it so far.
func (r *Registry) Register(hash uint64, offset, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[hash] = Descriptor{Offset: offset, Size: size}
	pend := r.pending[hash]
	delete(r.pending, hash)
	for _, p := range pend {
		r.rewrite(p, offset)
	}
	r.resolved[hash] = append(r.resolved[hash], pend...)
}

// Unpatch invalidates hash's block: its descriptor is dropped (a later
// AddPatch defers again rather than resolving against stale code) and
// every site ever resolved against it is rewritten back to its unlinked
// default. Per §5 "cache invalidation", the caller must be quiescent — no
// block emission may be in flight concurrently with this call.
func (r *Registry) Unpatch(hash uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocks, hash)
	for _, p := range r.resolved[hash] {
		r.rewriteUnlinked(p)
	}
	delete(r.resolved, hash)
}

func (r *Registry) rewrite(p pendingPatch, targetOffset int) {
	switch p.site.Kind {
	case codebuf.PatchKindJg:
		p.buf.RewriteJg(p.site, targetOffset)
	case codebuf.PatchKindJmp:
		p.buf.RewriteJmp(p.site, r.AbsAddr(targetOffset))
	case codebuf.PatchKindMovImm64:
		p.buf.RewriteMovImm64(p.site, r.AbsAddr(targetOffset))
	default:
		dynassert.Fatalf("blockreg: unknown patch kind %v", p.site.Kind)
	}
}

func (r *Registry) rewriteUnlinked(p pendingPatch) {
	switch p.site.Kind {
	case codebuf.PatchKindJg:
		// Default state: rel32 falls through into the inline dispatcher-
		// return stub term.EmitBlock always emits directly after a
		// reserved Jg site.
		p.buf.RewriteJg(p.site, p.site.Offset+codebuf.PatchSize(codebuf.PatchKindJg))
	case codebuf.PatchKindJmp, codebuf.PatchKindMovImm64:
		r.rewriteAbs(p, r.dispatcherReturn)
	default:
		dynassert.Fatalf("blockreg: unknown patch kind %v", p.site.Kind)
	}
}

func (r *Registry) rewriteAbs(p pendingPatch, addr uint64) {
	switch p.site.Kind {
	case codebuf.PatchKindJmp:
		p.buf.RewriteJmp(p.site, addr)
	case codebuf.PatchKindMovImm64:
		p.buf.RewriteMovImm64(p.site, addr)
	default:
		dynassert.Fatalf("blockreg: rewriteAbs on non-absolute patch kind %v", p.site.Kind)
	}
}
