package xidata

import "errors"

// NewObjectFunc rebuilds a value from an envelope in the interpreter the
// thread is currently bound to.
type NewObjectFunc func(th Thread, d *Data) (any, error)

// FreeFunc releases whatever the payload holds.
type FreeFunc func(th Thread, payload any)

// poison marks the payload of a released envelope.
type poison struct{}

var poisoned any = &poison{}

const poisonedID int64 = -1

// Data is a single cross-interpreter transfer. It is filled by a ShareFunc
// in the producing interpreter, consumed at most once by NewObject in the
// target, and released exactly once. A Data is not safe for concurrent use.
type Data struct {
	payload   any
	obj       any
	interpID  int64
	newObject NewObjectFunc
	free      FreeFunc
	released  bool
}

// Init fills d for the interpreter th is bound to. obj is kept alive until
// the envelope is released.
func (d *Data) Init(th Thread, payload, obj any, newObject NewObjectFunc) {
	d.payload = payload
	d.obj = obj
	d.newObject = newObject
	d.free = nil
	d.released = false
	d.interpID = poisonedID
	if th != nil {
		d.interpID = th.InterpreterID()
	}
}

// SetFree sets the function run on release.
func (d *Data) SetFree(fn FreeFunc) {
	d.free = fn
}

// Payload returns the converter-specific payload.
func (d *Data) Payload() any {
	return d.payload
}

// Owner returns the value kept alive by the envelope.
func (d *Data) Owner() any {
	return d.obj
}

// InterpreterID returns the id of the producing interpreter, or -1 once
// released.
func (d *Data) InterpreterID() int64 {
	return d.interpID
}

// Released reports whether Release has run.
func (d *Data) Released() bool {
	return d.released
}

func (d *Data) ready() bool {
	return d.newObject != nil
}

// NewObject rebuilds the value under th. A failed reconstruction leaves the
// payload in place so the envelope can be retried or released.
func (d *Data) NewObject(th Thread) (any, error) {
	if d.released {
		return nil, ErrReleased
	}
	if d.newObject == nil {
		return nil, errors.New("cross-interpreter data has no reconstructor")
	}
	return d.newObject(th, d)
}

// Release frees the payload. Calling Release again is a no-op.
func (d *Data) Release(th Thread) {
	if d == nil || d.released {
		return
	}
	if d.free != nil && d.payload != nil {
		d.free(th, d.payload)
	}
	d.payload = poisoned
	d.obj = nil
	d.interpID = poisonedID
	d.newObject = nil
	d.free = nil
	d.released = true
}

// ReleaseAll releases every envelope in ds. Nil entries are skipped.
func ReleaseAll(th Thread, ds ...*Data) {
	for _, d := range ds {
		d.Release(th)
	}
}

// IsPoisoned reports whether p is the marker left in a released envelope.
func IsPoisoned(p any) bool {
	return p == poisoned
}
