package ring

import (
	"fmt"

	"github.com/lwa-project/bifrost/bfstatus"
	"github.com/lwa-project/bifrost/memory"
)

// storage is the byte store of a ring: one contiguous region per ringlet,
// either double-mapped (host rings, page-multiple capacity) so any
// offset+span is virtually contiguous, or plainly allocated with wrapped
// spans staged through scratch buffers.
type storage struct {
	space     memory.Space
	capacity  int64 // bytes per ringlet, power of two
	nringlets int
	mir       *mirrorMap     // non-nil when double-mapped (nringlets==1)
	buf       *memory.Buffer // non-nil when staged; nringlets*capacity bytes
}

func newStorage(space memory.Space, capacity int64, nringlets int) (*storage, error) {
	st := &storage{space: space, capacity: capacity, nringlets: nringlets}

	if nringlets == 1 && !space.IsDevice() {
		mir, e := newMirror(capacity, space == memory.SpaceCUDAHost)
		if e == nil {
			st.mir = mir
			return st, nil
		}
		// fall through to the staged layout
	}

	buf, e := memory.Alloc(int(capacity)*nringlets, space)
	if e != nil {
		return nil, fmt.Errorf("ring storage: %w", e)
	}
	st.buf = buf
	return st, nil
}

func (st *storage) close() error {
	if st.mir != nil {
		return st.mir.close()
	}
	return st.buf.Free()
}

func (st *storage) wrap(off int64) int64 {
	return off & (st.capacity - 1)
}

// view returns a contiguous slice for bytes [off, off+n), or nil when the
// range must be staged: spans straddling the physical wrap of an unmirrored
// ring, and every span of a multi-ringlet ring (rows are staged together).
func (st *storage) view(off int64, n int) []byte {
	w := st.wrap(off)
	if st.mir != nil {
		return st.mir.b[w : w+int64(n)]
	}
	if st.nringlets == 1 && w+int64(n) <= st.capacity {
		return st.buf.Bytes()[w : w+int64(n)]
	}
	return nil
}

// readInto copies ringlet r bytes [off, off+n) into dst, splitting at the
// physical wrap as needed.
func (st *storage) readInto(dst []byte, r int, off int64, n int) error {
	w := st.wrap(off)
	base := int64(r) * st.capacity
	first := n
	if w+int64(n) > st.capacity {
		first = int(st.capacity - w)
	}
	b := st.buf.Bytes()
	if e := memory.Copy(dst[:first], memory.SpaceSystem, b[base+w:base+w+int64(first)], st.space); e != nil {
		return e
	}
	if first < n {
		return memory.Copy(dst[first:n], memory.SpaceSystem, b[base:base+int64(n-first)], st.space)
	}
	return nil
}

// writeFrom copies src into ringlet r bytes [off, off+len(src)), splitting at
// the physical wrap as needed.
func (st *storage) writeFrom(r int, off int64, src []byte) error {
	n := len(src)
	w := st.wrap(off)
	base := int64(r) * st.capacity
	first := n
	if w+int64(n) > st.capacity {
		first = int(st.capacity - w)
	}
	b := st.buf.Bytes()
	if e := memory.Copy(b[base+w:base+w+int64(first)], st.space, src[:first], memory.SpaceSystem); e != nil {
		return e
	}
	if first < n {
		return memory.Copy(b[base:base+int64(n-first)], st.space, src[first:], memory.SpaceSystem)
	}
	return nil
}

var errMirrorUnavailable = fmt.Errorf("mirror mapping unavailable: %w", bfstatus.ErrUnsupported)
