package buffer

import (
	"github.com/pithecene-io/streamrun/types"
)

// TupleBuffer is a refcounted handle to a fixed-size memory region plus
// its metadata. A TupleBuffer is created on pool acquisition with
// refcount 1, may be cloned (refcount++) to hand a read-only view to
// another thread, and is recycled to its originating pool or arena when
// the last reference drops.
//
// Metadata is mutable only by the current exclusive holder (refcount==1
// on the write path, by convention — the type does not enforce this with
// a lock because the hot path must not pay for one).
type TupleBuffer struct {
	p *page
}

func newTupleBuffer(p *page) *TupleBuffer {
	return &TupleBuffer{p: p}
}

// Payload returns the buffer's backing byte slice. Its length is the pool
// page size (or the requested size for unpooled buffers).
func (b *TupleBuffer) Payload() []byte {
	return b.p.data
}

// Metadata returns a pointer to the buffer's control-block metadata. The
// caller must own the only outstanding reference to mutate it safely.
func (b *TupleBuffer) Metadata() *types.BufferMetadata {
	return &b.p.meta
}

// Retain increments the reference count and returns a new handle sharing
// the same page. Both handles must eventually be released.
func (b *TupleBuffer) Retain() *TupleBuffer {
	b.p.retain()
	return newTupleBuffer(b.p)
}

// Release drops this handle's reference. When the last reference drops,
// the page is returned to its originating pool or arena, and an attached
// child is released along with it.
func (b *TupleBuffer) Release() {
	if b.p.release() {
		recycle := b.p.recycle
		child := b.p.child
		b.p.reset()
		if recycle != nil {
			recycle(b.p)
		}
		if child != nil {
			newTupleBuffer(child).Release()
		}
	}
	b.p = nil
}

// AttachChild transfers ownership of child into b and returns b's own
// handle. Attachment is move-only: child is invalidated by this call and
// must not be used or released by the caller afterward. Attaching a nil
// or already consumed child, or attaching to a parent that already holds
// a child, is an error — this resolves the ambiguous shared-child semantics of the source engine
// (see design notes) by making the new parent the sole owner.
func (b *TupleBuffer) AttachChild(child *TupleBuffer) (*TupleBuffer, error) {
	if child == nil || child.p == nil {
		return nil, &Error{Kind: KindInvalidAttachment, Msg: "child buffer is nil or already consumed"}
	}
	if b.p.child != nil {
		return nil, &Error{Kind: KindInvalidAttachment, Msg: "parent buffer already has an attached child"}
	}
	b.p.child = child.p
	child.p = nil
	return b, nil
}

// Child returns the currently attached child buffer, or nil if none is
// attached. The returned handle aliases the parent's reference; callers
// must not release it independently of the parent.
func (b *TupleBuffer) Child() *TupleBuffer {
	if b.p.child == nil {
		return nil
	}
	return newTupleBuffer(b.p.child)
}
