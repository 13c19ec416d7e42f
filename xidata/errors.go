package xidata

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNotShareable      = errors.New("not shareable")
	ErrReleased          = errors.New("cross-interpreter data already released")
	ErrAlreadyRegistered = errors.New("kind already registered")
)

// NotShareableError reports a value that could not be converted for
// another interpreter.
type NotShareableError struct {
	Kind reflect.Type
	Err  error
}

func (e *NotShareableError) Error() string {
	kind := "<nil>"
	if e.Kind != nil {
		kind = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s does not support cross-interpreter data: %v", kind, e.Err)
	}
	return fmt.Sprintf("%s does not support cross-interpreter data", kind)
}

func (e *NotShareableError) Is(target error) bool {
	return target == ErrNotShareable
}

func (e *NotShareableError) Unwrap() error {
	return e.Err
}

func (e *NotShareableError) ExcType() TypeInfo {
	return TypeInfo{Name: "NotShareableError", QualName: "NotShareableError", Module: "xinterp"}
}

func (e *NotShareableError) ExcMsg() string {
	return e.Error()
}
