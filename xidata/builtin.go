package xidata

import (
	"reflect"
)

// Tuple is an immutable sequence. It is shareable when every item is.
type Tuple []any

func registerDefaults(r *Registry) {
	r.kinds[nil] = shareNone
	for _, v := range []any{
		false,
		int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
		float32(0), float64(0),
		"",
	} {
		r.kinds[reflect.TypeOf(v)] = shareScalar
	}
	r.kinds[reflect.TypeOf([]byte(nil))] = shareBytes
	r.kinds[reflect.TypeOf(Tuple(nil))] = r.shareTuple
	r.kinds[reflect.TypeOf((*FailureInfo)(nil))] = shareFailure
}

func shareNone(th Thread, v any, d *Data) error {
	d.Init(th, nil, nil, func(Thread, *Data) (any, error) {
		return nil, nil
	})
	return nil
}

// Scalars are immutable Go values; the payload is the value itself.
func shareScalar(th Thread, v any, d *Data) error {
	d.Init(th, v, nil, func(_ Thread, d *Data) (any, error) {
		return d.Payload(), nil
	})
	return nil
}

func shareBytes(th Thread, v any, d *Data) error {
	b := v.([]byte)
	frozen := make([]byte, len(b))
	copy(frozen, b)
	d.Init(th, frozen, nil, func(_ Thread, d *Data) (any, error) {
		src := d.Payload().([]byte)
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	})
	return nil
}

func (r *Registry) shareTuple(th Thread, v any, d *Data) error {
	items, err := r.ConvertAll(th, v.(Tuple), NoFallback)
	if err != nil {
		return err
	}
	d.Init(th, items, nil, func(th Thread, d *Data) (any, error) {
		vs, err := NewObjects(th, d.Payload().([]*Data))
		if err != nil {
			return nil, err
		}
		return Tuple(vs), nil
	})
	d.SetFree(func(th Thread, payload any) {
		ReleaseAll(th, payload.([]*Data)...)
	})
	return nil
}

func shareFailure(th Thread, v any, d *Data) error {
	info := v.(*FailureInfo)
	d.Init(th, info.clone(), nil, func(_ Thread, d *Data) (any, error) {
		return d.Payload().(*FailureInfo).clone(), nil
	})
	return nil
}
