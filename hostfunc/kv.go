package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/xinterp/xidata"
)

var errNoThread = errors.New("kv: no calling thread in context")

// KVConfig limits a KV store.
type KVConfig struct {
	MaxKeySize   int // Maximum key length in bytes (0 = unlimited)
	MaxValueSize int // Maximum string or bytes value length (0 = unlimited)
	MaxEntries   int // Maximum number of keys (0 = unlimited)
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   256,
		MaxValueSize: 1 << 20,
		MaxEntries:   1000,
	}
}

// KV is a store shared by every interpreter of an executor. Values are
// kept as cross-interpreter envelopes: Set shares a value out of the
// calling interpreter and Get rebuilds a fresh copy in the caller's.
// Only natively shareable values are accepted.
type KV struct {
	reg  *xidata.Registry
	cfg  KVConfig
	mu   sync.Mutex
	data map[string]*xidata.Data
}

func NewKV(reg *xidata.Registry, cfg KVConfig) *KV {
	return &KV{reg: reg, cfg: cfg, data: make(map[string]*xidata.Data)}
}

// Register installs kv_get, kv_set, kv_delete and kv_keys into r.
func (kv *KV) Register(r *Registry) {
	r.Register("kv_get", kv.Get)
	r.Register("kv_set", kv.Set)
	r.Register("kv_delete", kv.Delete)
	r.Register("kv_keys", kv.Keys)
}

func (kv *KV) key(args []any, kwargs map[string]any) (string, error) {
	v, _ := Arg(args, kwargs, 0, "key")
	key, ok := v.(string)
	if !ok {
		return "", xidata.NewException(xidata.TypeError, "key required")
	}
	if kv.cfg.MaxKeySize > 0 && len(key) > kv.cfg.MaxKeySize {
		return "", xidata.NewException(xidata.ValueError, "key too large: %d bytes (max %d)", len(key), kv.cfg.MaxKeySize)
	}
	return key, nil
}

func (kv *KV) Get(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	th, ok := xidata.ThreadFrom(ctx)
	if !ok {
		return nil, errNoThread
	}
	key, err := kv.key(args, kwargs)
	if err != nil {
		return nil, err
	}
	def, _ := Arg(args, kwargs, 1, "default")

	kv.mu.Lock()
	defer kv.mu.Unlock()
	d, exists := kv.data[key]
	if !exists {
		return def, nil
	}
	return d.NewObject(th)
}

func (kv *KV) Set(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	th, ok := xidata.ThreadFrom(ctx)
	if !ok {
		return nil, errNoThread
	}
	key, err := kv.key(args, kwargs)
	if err != nil {
		return nil, err
	}
	val, ok := Arg(args, kwargs, 1, "value")
	if !ok {
		return nil, xidata.NewException(xidata.TypeError, "value required")
	}
	if limit := kv.cfg.MaxValueSize; limit > 0 {
		var n int
		switch v := val.(type) {
		case string:
			n = len(v)
		case []byte:
			n = len(v)
		}
		if n > limit {
			return nil, xidata.NewException(xidata.ValueError, "value too large: %d bytes (max %d)", n, limit)
		}
	}

	d, err := kv.reg.Convert(th, val, xidata.NoFallback)
	if err != nil {
		return nil, fmt.Errorf("kv_set %q: %w", key, err)
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	old, exists := kv.data[key]
	if !exists && kv.cfg.MaxEntries > 0 && len(kv.data) >= kv.cfg.MaxEntries {
		d.Release(th)
		return nil, xidata.NewException(xidata.ValueError, "too many entries (max %d)", kv.cfg.MaxEntries)
	}
	if exists {
		old.Release(th)
	}
	kv.data[key] = d
	return "ok", nil
}

func (kv *KV) Delete(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	th, ok := xidata.ThreadFrom(ctx)
	if !ok {
		return nil, errNoThread
	}
	key, err := kv.key(args, kwargs)
	if err != nil {
		return nil, err
	}

	kv.mu.Lock()
	d, exists := kv.data[key]
	delete(kv.data, key)
	kv.mu.Unlock()
	if exists {
		d.Release(th)
	}
	return "ok", nil
}

// Keys returns the stored keys, sorted.
func (kv *KV) Keys(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	kv.mu.Lock()
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	kv.mu.Unlock()

	sort.Strings(keys)
	out := make(xidata.Tuple, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

// Close releases every stored envelope.
func (kv *KV) Close(th xidata.Thread) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	for k, d := range kv.data {
		d.Release(th)
		delete(kv.data, k)
	}
}
