package xidata

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ShareFunc fills d with a transferable form of v.
type ShareFunc func(th Thread, v any, d *Data) error

// Mode selects whether a conversion may use the registry's fallback.
type Mode int

const (
	// NoFallback fails with NotShareableError when the kind has no
	// converter of its own.
	NoFallback Mode = iota
	// FullFallback uses the fallback converter for unregistered kinds.
	FullFallback
)

// Registry maps value kinds to converters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	kinds    map[reflect.Type]ShareFunc
	fallback ShareFunc
}

// NewRegistry returns a registry with converters for the immutable
// built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[reflect.Type]ShareFunc)}
	registerDefaults(r)
	return r
}

// Register associates kind with fn.
func (r *Registry) Register(kind reflect.Type, fn ShareFunc) error {
	if fn == nil {
		return errors.New("nil converter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind]; exists {
		return fmt.Errorf("%w: %v", ErrAlreadyRegistered, kind)
	}
	r.kinds[kind] = fn
	return nil
}

// Unregister removes the converter for kind.
func (r *Registry) Unregister(kind reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind]; !exists {
		return false
	}
	delete(r.kinds, kind)
	return true
}

// SetFallback installs the converter used by FullFallback conversions.
func (r *Registry) SetFallback(fn ShareFunc) {
	r.mu.Lock()
	r.fallback = fn
	r.mu.Unlock()
}

// Lookup returns the native converter for v's kind.
func (r *Registry) Lookup(v any) (ShareFunc, bool) {
	r.mu.RLock()
	fn, ok := r.kinds[reflect.TypeOf(v)]
	r.mu.RUnlock()
	return fn, ok
}

// Kinds lists the registered kinds, sorted by name.
func (r *Registry) Kinds() []reflect.Type {
	r.mu.RLock()
	kinds := make([]reflect.Type, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	r.mu.RUnlock()
	sort.Slice(kinds, func(i, j int) bool {
		return kindName(kinds[i]) < kindName(kinds[j])
	})
	return kinds
}

func kindName(k reflect.Type) string {
	if k == nil {
		return "<nil>"
	}
	return k.String()
}

// Convert produces an envelope for v relative to the interpreter th is
// bound to. The caller owns the returned envelope and must release it.
func (r *Registry) Convert(th Thread, v any, mode Mode) (*Data, error) {
	var nativeErr error
	if fn, ok := r.Lookup(v); ok {
		d, err := fill(th, fn, v)
		if err == nil {
			return d, nil
		}
		nativeErr = err
	}

	if mode == FullFallback {
		r.mu.RLock()
		fallback := r.fallback
		r.mu.RUnlock()
		if fallback != nil {
			d, err := fill(th, fallback, v)
			if err != nil {
				return nil, &NotShareableError{Kind: reflect.TypeOf(v), Err: err}
			}
			return d, nil
		}
	}
	return nil, &NotShareableError{Kind: reflect.TypeOf(v), Err: nativeErr}
}

func fill(th Thread, fn ShareFunc, v any) (*Data, error) {
	d := new(Data)
	if err := fn(th, v, d); err != nil {
		d.Release(th)
		return nil, err
	}
	if !d.ready() {
		d.Release(th)
		return nil, errors.New("converter did not initialize the envelope")
	}
	return d, nil
}

// IsShareable reports whether v converts without the fallback. The trial
// envelope is released before returning.
func (r *Registry) IsShareable(th Thread, v any) bool {
	d, err := r.Convert(th, v, NoFallback)
	if err != nil {
		return false
	}
	d.Release(th)
	return true
}

// ConvertAll converts every value in vs. On failure the envelopes already
// produced are released and the index of the failing value is reported.
func (r *Registry) ConvertAll(th Thread, vs []any, mode Mode) ([]*Data, error) {
	out := make([]*Data, 0, len(vs))
	for i, v := range vs {
		d, err := r.Convert(th, v, mode)
		if err != nil {
			ReleaseAll(th, out...)
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// NewObjects reconstructs every envelope in ds under th.
func NewObjects(th Thread, ds []*Data) ([]any, error) {
	out := make([]any, len(ds))
	for i, d := range ds {
		v, err := d.NewObject(th)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
