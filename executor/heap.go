package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	wasmPageSize = 65536
	heapAlign    = 8
)

// arenaModule returns a wasm binary that only declares and exports a
// fixed-size linear memory named "memory".
func arenaModule(pages uint32) []byte {
	mem := []byte{1, 0x01}
	mem = appendULEB(mem, pages)
	mem = appendULEB(mem, pages)

	exp := []byte{1, byte(len("memory"))}
	exp = append(exp, "memory"...)
	exp = append(exp, 0x02, 0)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = appendSection(out, 5, mem)
	out = appendSection(out, 7, exp)
	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = appendULEB(out, uint32(len(body)))
	return append(out, body...)
}

func appendULEB(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// heapModule returns a cached compiled arena module, compiling if necessary.
func (e *Executor) heapModule(ctx context.Context, pages uint32) (wazero.CompiledModule, error) {
	e.compiledMu.RLock()
	if compiled, ok := e.compiled[pages]; ok {
		e.compiledMu.RUnlock()
		return compiled, nil
	}
	e.compiledMu.RUnlock()

	e.compiledMu.Lock()
	defer e.compiledMu.Unlock()

	if compiled, ok := e.compiled[pages]; ok {
		return compiled, nil
	}

	compiled, err := e.wasm.CompileModule(ctx, arenaModule(pages))
	if err != nil {
		return nil, fmt.Errorf("compile heap of %d pages: %w", pages, err)
	}
	e.compiled[pages] = compiled
	return compiled, nil
}

type span struct {
	off, n uint64
}

// heap is an interpreter's private linear memory with a first-fit
// allocator over it.
type heap struct {
	mu     sync.Mutex
	mod    api.Module
	mem    api.Memory
	size   uint64
	free   []span
	inUse  map[uint64]uint64
	closed bool
}

func (e *Executor) newHeap(ctx context.Context, pages uint32) (*heap, error) {
	compiled, err := e.heapModule(ctx, pages)
	if err != nil {
		return nil, err
	}
	mod, err := e.wasm.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate heap: %w", err)
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.New("heap module has no memory export")
	}
	size := uint64(pages) * wasmPageSize
	return &heap{
		mod:   mod,
		mem:   mem,
		size:  size,
		free:  []span{{0, size}},
		inUse: make(map[uint64]uint64),
	}, nil
}

func alignUp(n uint64) uint64 {
	return (n + heapAlign - 1) &^ (heapAlign - 1)
}

// alloc reserves n bytes and returns a slice aliasing the linear memory.
func (h *heap) alloc(n uint64) (uint64, []byte, error) {
	if n == 0 {
		return 0, nil, fmt.Errorf("invalid allocation size 0")
	}
	want := alignUp(n)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, errors.New("heap closed")
	}
	for i, s := range h.free {
		if s.n < want {
			continue
		}
		off := s.off
		if s.n == want {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{s.off + want, s.n - want}
		}
		data, ok := h.mem.Read(uint32(off), uint32(n))
		if !ok {
			return 0, nil, fmt.Errorf("heap read out of range at %d", off)
		}
		h.inUse[off] = want
		return off, data, nil
	}
	return 0, nil, fmt.Errorf("heap exhausted: %d bytes requested, %d free", n, h.available())
}

func (h *heap) available() uint64 {
	var total uint64
	for _, s := range h.free {
		total += s.n
	}
	return total
}

// release returns the block at off to the free list, merging neighbours.
func (h *heap) release(off uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.inUse[off]
	if !ok || h.closed {
		return false
	}
	delete(h.inUse, off)

	h.free = append(h.free, span{off, n})
	sort.Slice(h.free, func(a, b int) bool { return h.free[a].off < h.free[b].off })
	merged := h.free[:1]
	for _, s := range h.free[1:] {
		last := &merged[len(merged)-1]
		if last.off+last.n == s.off {
			last.n += s.n
			continue
		}
		merged = append(merged, s)
	}
	h.free = merged
	return true
}

// Free returns the number of unallocated bytes.
func (h *heap) Free() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available()
}

func (h *heap) close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.free = nil
	h.inUse = nil
	h.mu.Unlock()
	return h.mod.Close(ctx)
}

// HeapBlock is memory carved from an interpreter's heap. It exports its
// bytes as a writable buffer.
type HeapBlock struct {
	mu      sync.Mutex
	heap    *heap
	interp  *Interpreter
	off     uint64
	data    []byte
	exports int
	freed   bool
}

// Offset returns the block's offset in the interpreter's linear memory.
func (b *HeapBlock) Offset() uint64 { return b.off }

// Bytes returns the block's memory, or nil once freed.
func (b *HeapBlock) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Interpreter returns the interpreter whose heap holds the block.
func (b *HeapBlock) Interpreter() *Interpreter { return b.interp }

func (b *HeapBlock) GetBuffer(th *Thread) (Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return Buffer{}, ErrBufferReleased
	}
	b.exports++
	return Buffer{
		Data:     b.data,
		ItemSize: 1,
		Format:   "B",
		Shape:    []int{len(b.data)},
		Strides:  []int{1},
		Obj:      b,
	}, nil
}

func (b *HeapBlock) ReleaseBuffer(th *Thread, _ *Buffer) {
	b.mu.Lock()
	if b.exports > 0 {
		b.exports--
	}
	b.mu.Unlock()
}

// Exports returns the number of outstanding buffer exports.
func (b *HeapBlock) Exports() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exports
}

// Free returns the block to the heap. It fails while buffers are exported.
func (b *HeapBlock) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	if b.exports > 0 {
		return fmt.Errorf("%w: %d outstanding", ErrBufferExported, b.exports)
	}
	b.freed = true
	b.data = nil
	b.heap.release(b.off)
	return nil
}
