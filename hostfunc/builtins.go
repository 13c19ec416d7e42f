package hostfunc

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/caffeineduck/xinterp/xidata"
)

// RegisterBuiltins installs the functions every interpreter with builtins
// enabled can call.
func RegisterBuiltins(r *Registry) {
	r.Register("len", Len)
	r.Register("time_now", TimeNow)
}

// Len returns the number of items in a string, bytes, sequence or map.
// Strings are measured in characters.
func Len(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, xidata.NewException(xidata.TypeError, "len() takes exactly one argument (%d given)", len(args)+len(kwargs))
	}
	switch v := args[0].(type) {
	case string:
		return utf8.RuneCountInString(v), nil
	case []byte:
		return len(v), nil
	case []any:
		return len(v), nil
	case xidata.Tuple:
		return len(v), nil
	case map[string]any:
		return len(v), nil
	case interface{ Len() int }:
		return v.Len(), nil
	}
	return nil, xidata.NewException(xidata.TypeError, "object of type %T has no len()", args[0])
}

// TimeNow returns the current Unix time in seconds.
func TimeNow(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}
