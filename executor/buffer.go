package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/xinterp/xidata"
)

// Buffer describes a region of raw memory exported by an object.
type Buffer struct {
	Data     []byte
	ItemSize int
	Format   string
	Shape    []int
	Strides  []int
	ReadOnly bool

	// Obj is the exporter that must be told when the buffer is released.
	Obj Exporter
}

// Exporter is implemented by objects that expose raw memory. Every
// successful GetBuffer is matched by exactly one ReleaseBuffer, made by a
// thread bound to the exporter's interpreter.
type Exporter interface {
	GetBuffer(th *Thread) (Buffer, error)
	ReleaseBuffer(th *Thread, b *Buffer)
}

// MemoryView holds one export of an Exporter in an interpreter. It is an
// Exporter too, so it can be shared with other interpreters.
type MemoryView struct {
	mu       sync.Mutex
	buf      Buffer
	interp   *Interpreter
	exports  int
	released bool
}

// NewMemoryView takes an export of obj for the interpreter th is bound to.
func NewMemoryView(th *Thread, obj Exporter) (*MemoryView, error) {
	buf, err := obj.GetBuffer(th)
	if err != nil {
		return nil, err
	}
	if buf.Obj == nil {
		buf.Obj = obj
	}
	return &MemoryView{buf: buf, interp: th.Current()}, nil
}

// Bytes returns the viewed memory, or nil once released.
func (m *MemoryView) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Data
}

func (m *MemoryView) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf.Data)
}

func (m *MemoryView) ReadOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.ReadOnly
}

// Interpreter returns the interpreter the view was created in.
func (m *MemoryView) Interpreter() *Interpreter { return m.interp }

// Released reports whether Release has run.
func (m *MemoryView) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Exports returns the number of outstanding exports of this view.
func (m *MemoryView) Exports() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exports
}

// Release gives the export back to the exporter. It fails while views of
// this view are still exported.
func (m *MemoryView) Release(th *Thread) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil
	}
	if m.exports > 0 {
		n := m.exports
		m.mu.Unlock()
		return fmt.Errorf("%w: %d outstanding", ErrBufferExported, n)
	}
	m.released = true
	buf := m.buf
	m.buf = Buffer{}
	m.mu.Unlock()

	if buf.Obj != nil {
		buf.Obj.ReleaseBuffer(th, &buf)
	}
	return nil
}

func (m *MemoryView) GetBuffer(th *Thread) (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return Buffer{}, ErrBufferReleased
	}
	m.exports++
	b := m.buf
	b.Obj = m
	return b, nil
}

func (m *MemoryView) ReleaseBuffer(th *Thread, b *Buffer) {
	m.mu.Lock()
	if m.exports > 0 {
		m.exports--
	}
	m.mu.Unlock()
}

// BufferView is the consuming side of a buffer shared across interpreters.
// It keeps the exporter's descriptor and the id of the interpreter that
// owns it, so the release can be made there.
type BufferView struct {
	mu       sync.Mutex
	buf      Buffer
	owner    int64
	consumer *Interpreter
	pinned   *Interpreter
	closed   bool
}

func newBufferView(th *Thread, buf Buffer, owner int64) *BufferView {
	bv := &BufferView{buf: buf, owner: owner, consumer: th.Current()}
	if th.exec.cfg.pinBuffers {
		if interp, err := th.exec.lookup(owner); err == nil {
			interp.pin()
			bv.pinned = interp
		}
	}
	bv.consumer.trackView(bv)
	return bv
}

// OwnerID returns the id of the interpreter that exported the memory.
func (bv *BufferView) OwnerID() int64 { return bv.owner }

func (bv *BufferView) GetBuffer(th *Thread) (Buffer, error) {
	bv.mu.Lock()
	defer bv.mu.Unlock()
	if bv.closed {
		return Buffer{}, ErrBufferReleased
	}
	b := bv.buf
	b.Obj = bv
	return b, nil
}

func (bv *BufferView) ReleaseBuffer(th *Thread, b *Buffer) {
	if err := bv.Close(th); err != nil {
		th.exec.logger.Warn("buffer release failed", "owner", bv.owner, "err", err)
	}
}

// Close releases the export in the owning interpreter. When the owner no
// longer exists the descriptor is dropped without calling back into it.
// Close is idempotent.
func (bv *BufferView) Close(th *Thread) error {
	bv.mu.Lock()
	if bv.closed {
		bv.mu.Unlock()
		return nil
	}
	bv.closed = true
	buf := bv.buf
	bv.buf = Buffer{}
	pinned := bv.pinned
	bv.pinned = nil
	bv.mu.Unlock()

	bv.consumer.untrackView(bv)
	var err error
	if buf.Obj != nil {
		err = releaseIn(th, bv.owner, func(th *Thread) {
			buf.Obj.ReleaseBuffer(th, &buf)
		})
	}
	if pinned != nil {
		pinned.unpin()
	}
	return err
}

// releaseIn runs fn with th switched into the interpreter owner. A missing
// or finalizing owner is skipped.
func releaseIn(th *Thread, owner int64, fn func(th *Thread)) error {
	interp, err := th.exec.lookup(owner)
	if err == nil {
		err = th.run(interp, func() error {
			fn(th)
			return nil
		})
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInterpreter), errors.Is(err, ErrExecutorClosed):
		th.exec.logger.Debug("buffer owner gone, release skipped", "owner", owner, "reason", err)
		return nil
	}
	return err
}

// xibuffer is the envelope payload for a shared MemoryView.
type xibuffer struct {
	buf   Buffer
	owner int64
	used  bool
}

// shareExporter takes an export of v in the producing interpreter. The
// consumer receives a MemoryView backed by a BufferView.
func shareExporter(xth xidata.Thread, v any, d *xidata.Data) error {
	th, err := asThread(xth)
	if err != nil {
		return err
	}
	exp, ok := v.(Exporter)
	if !ok {
		return fmt.Errorf("%T does not export buffers", v)
	}
	buf, err := exp.GetBuffer(th)
	if err != nil {
		return err
	}
	if buf.Obj == nil {
		buf.Obj = exp
	}
	d.Init(th, &xibuffer{buf: buf, owner: th.InterpreterID()}, v, newMemoryViewObject)
	d.SetFree(freeBuffer)
	return nil
}

func newMemoryViewObject(xth xidata.Thread, d *xidata.Data) (any, error) {
	th, err := asThread(xth)
	if err != nil {
		return nil, err
	}
	xb := d.Payload().(*xibuffer)
	if xb.used {
		return nil, fmt.Errorf("%w: buffer already reconstructed", ErrBufferReleased)
	}
	xb.used = true
	bv := newBufferView(th, xb.buf, xb.owner)
	buf := xb.buf
	buf.Obj = bv
	return &MemoryView{buf: buf, interp: th.Current()}, nil
}

func freeBuffer(xth xidata.Thread, payload any) {
	xb := payload.(*xibuffer)
	if xb.used || xb.buf.Obj == nil {
		return
	}
	th, err := asThread(xth)
	if err != nil {
		return
	}
	buf := xb.buf
	_ = releaseIn(th, xb.owner, func(th *Thread) {
		buf.Obj.ReleaseBuffer(th, &buf)
	})
}

func asThread(th xidata.Thread) (*Thread, error) {
	t, ok := th.(*Thread)
	if !ok || t == nil {
		return nil, fmt.Errorf("executor: foreign thread %T", th)
	}
	return t, nil
}
