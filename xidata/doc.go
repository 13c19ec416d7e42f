// Package xidata implements the cross-interpreter data protocol.
//
// # Overview
//
// Values never move between interpreters directly. A value is converted
// into a [Data] envelope while the producing interpreter is current, the
// envelope crosses the boundary, and the consuming interpreter rebuilds an
// equivalent value from it with [Data.NewObject]. Every envelope is released
// exactly once with [Data.Release], whether or not it was consumed.
//
// # Registry
//
// A [Registry] maps a value's kind (its [reflect.Type]) to a [ShareFunc]
// that knows how to fill an envelope for that kind:
//
//	reg := xidata.NewRegistry()
//	d, err := reg.Convert(th, "hello", xidata.NoFallback)
//	if err != nil {
//	    return err
//	}
//	defer d.Release(th)
//
//	v, err := d.NewObject(other)
//
// Immutable kinds (nil, bool, numbers, strings, bytes, [Tuple] of shareable
// items, [FailureInfo]) are registered by default. A fallback converter can
// be installed with [Registry.SetFallback]; conversions made with
// [FullFallback] use it for every kind without a native converter.
//
// # Failures
//
// Errors raised by code running inside an interpreter are not handed across
// as live values. [Capture] turns any error into a [FailureInfo], an inert
// snapshot of its type, message, formatted text and cause chain.
package xidata
