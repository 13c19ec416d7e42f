package xidata

import (
	"errors"
	"reflect"
	"testing"
)

type testThread int64

func (t testThread) InterpreterID() int64 { return int64(t) }

const (
	producer = testThread(1)
	consumer = testThread(2)
)

type opaque struct{ n int }

func TestConvertRoundTrip(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name  string
		value any
	}{
		{"nil", nil},
		{"bool", true},
		{"int", 42},
		{"int64", int64(-7)},
		{"uint8", uint8(255)},
		{"float64", 3.5},
		{"string", "hello"},
		{"bytes", []byte("raw")},
		{"tuple", Tuple{1, "two", Tuple{3.0, nil}}},
		{"empty tuple", Tuple{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := reg.Convert(producer, tt.value, NoFallback)
			if err != nil {
				t.Fatalf("failed to convert: %v", err)
			}
			defer d.Release(consumer)

			if d.InterpreterID() != int64(producer) {
				t.Errorf("expected interpreter %d, got %d", producer, d.InterpreterID())
			}

			got, err := d.NewObject(consumer)
			if err != nil {
				t.Fatalf("failed to reconstruct: %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("expected %#v, got %#v", tt.value, got)
			}
		})
	}
}

func TestBytesAreCopied(t *testing.T) {
	reg := NewRegistry()
	src := []byte("abc")

	d, err := reg.Convert(producer, src, NoFallback)
	if err != nil {
		t.Fatalf("failed to convert: %v", err)
	}
	defer d.Release(producer)

	src[0] = 'z'
	first, _ := d.NewObject(consumer)
	first.([]byte)[1] = 'y'
	second, _ := d.NewObject(consumer)

	if string(second.([]byte)) != "abc" {
		t.Errorf("expected abc, got %q", second)
	}
}

func TestConvertUnregisteredKind(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Convert(producer, &opaque{n: 1}, NoFallback)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrNotShareable) {
		t.Errorf("expected ErrNotShareable, got %v", err)
	}
	var nse *NotShareableError
	if !errors.As(err, &nse) {
		t.Fatalf("expected NotShareableError, got %T", err)
	}
	if nse.Kind != reflect.TypeOf(&opaque{}) {
		t.Errorf("unexpected kind %v", nse.Kind)
	}
}

func TestTupleWithUnshareableItem(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Convert(producer, Tuple{1, map[string]any{}}, NoFallback)
	if !errors.Is(err, ErrNotShareable) {
		t.Fatalf("expected ErrNotShareable, got %v", err)
	}
}

func stashFallback(frees *int) ShareFunc {
	return func(th Thread, v any, d *Data) error {
		d.Init(th, &v, nil, func(_ Thread, d *Data) (any, error) {
			return *d.Payload().(*any), nil
		})
		d.SetFree(func(Thread, any) { *frees++ })
		return nil
	}
}

func TestFallbackTotality(t *testing.T) {
	reg := NewRegistry()
	var frees int
	reg.SetFallback(stashFallback(&frees))

	values := []any{
		map[string]any{"a": 1},
		[]any{1, 2},
		&opaque{n: 2},
		make(chan int),
		func() {},
		struct{}{},
		Tuple{1, []any{}},
	}
	for _, v := range values {
		d, err := reg.Convert(producer, v, FullFallback)
		if err != nil {
			t.Fatalf("fallback conversion of %T failed: %v", v, err)
		}
		d.Release(producer)
	}
	if frees != len(values) {
		t.Errorf("expected %d releases, got %d", len(values), frees)
	}
}

func TestFallbackBypassed(t *testing.T) {
	reg := NewRegistry()
	var frees int
	reg.SetFallback(stashFallback(&frees))

	if _, err := reg.Convert(producer, &opaque{}, NoFallback); !errors.Is(err, ErrNotShareable) {
		t.Errorf("expected ErrNotShareable, got %v", err)
	}
	if reg.IsShareable(producer, &opaque{}) {
		t.Error("opaque value should not be shareable")
	}
	if !reg.IsShareable(producer, "text") {
		t.Error("string should be shareable")
	}
}

func TestFailingConverterFallsBack(t *testing.T) {
	reg := NewRegistry()
	var frees int
	reg.SetFallback(stashFallback(&frees))

	boom := errors.New("boom")
	if err := reg.Register(reflect.TypeOf(&opaque{}), func(Thread, any, *Data) error {
		return boom
	}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	_, err := reg.Convert(producer, &opaque{}, NoFallback)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped converter error, got %v", err)
	}

	d, err := reg.Convert(producer, &opaque{n: 9}, FullFallback)
	if err != nil {
		t.Fatalf("expected fallback to succeed: %v", err)
	}
	v, _ := d.NewObject(consumer)
	if v.(*opaque).n != 9 {
		t.Errorf("unexpected value %v", v)
	}
	d.Release(consumer)
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(reflect.TypeOf(""), shareScalar)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	if !reg.Unregister(reflect.TypeOf("")) {
		t.Fatal("expected string converter to be removed")
	}
	if reg.IsShareable(producer, "x") {
		t.Error("string should no longer be shareable")
	}
	if reg.Unregister(reflect.TypeOf("")) {
		t.Error("second unregister should report false")
	}
}

func TestConvertAllUnwinds(t *testing.T) {
	reg := NewRegistry()
	var frees int
	kind := reflect.TypeOf(&opaque{})
	if err := reg.Register(kind, func(th Thread, v any, d *Data) error {
		d.Init(th, v, nil, func(_ Thread, d *Data) (any, error) { return d.Payload(), nil })
		d.SetFree(func(Thread, any) { frees++ })
		return nil
	}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	_, err := reg.ConvertAll(producer, []any{&opaque{}, &opaque{}, make(chan int)}, NoFallback)
	if err == nil {
		t.Fatal("expected error")
	}
	if frees != 2 {
		t.Errorf("expected 2 unwound envelopes, got %d", frees)
	}
}

func TestKinds(t *testing.T) {
	reg := NewRegistry()
	kinds := reg.Kinds()
	if len(kinds) == 0 {
		t.Fatal("expected default kinds")
	}
	for i := 1; i < len(kinds); i++ {
		if kindName(kinds[i-1]) > kindName(kinds[i]) {
			t.Fatalf("kinds not sorted: %v", kinds)
		}
	}
}
