package convert

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/Ginden/plv8/storage"
)

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	return New(goja.New())
}

func TestNullMapsBothWays(t *testing.T) {
	c := newTestConverter(t)

	v, err := c.ToScriptValue(nil, true, storage.TypeInt4)
	if err != nil {
		t.Fatalf("ToScriptValue failed: %v", err)
	}
	if !goja.IsNull(v) {
		t.Errorf("SQL NULL should become script null, got %v", v)
	}

	for _, in := range []goja.Value{goja.Null(), goja.Undefined()} {
		_, isNull, err := c.ToHostDatum(in, storage.TypeText)
		if err != nil {
			t.Fatalf("ToHostDatum failed: %v", err)
		}
		if !isNull {
			t.Errorf("%v should become SQL NULL", in)
		}
	}
}

func TestScalarRoundTrips(t *testing.T) {
	c := newTestConverter(t)

	tests := []struct {
		name  string
		typ   storage.TypeID
		datum storage.Datum
	}{
		{"bool", storage.TypeBool, true},
		{"int2", storage.TypeInt2, int16(7)},
		{"int4", storage.TypeInt4, int32(-12345)},
		{"int8", storage.TypeInt8, int64(1 << 40)},
		{"float8", storage.TypeFloat8, 3.5},
		{"text", storage.TypeText, "hello"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := c.ToScriptValue(tc.datum, false, tc.typ)
			if err != nil {
				t.Fatalf("ToScriptValue failed: %v", err)
			}
			got, isNull, err := c.ToHostDatum(v, tc.typ)
			if err != nil {
				t.Fatalf("ToHostDatum failed: %v", err)
			}
			if isNull {
				t.Fatal("unexpected NULL")
			}
			if got != tc.datum {
				t.Errorf("round trip = %v (%T), want %v (%T)", got, got, tc.datum, tc.datum)
			}
		})
	}
}

func TestNumericIsExact(t *testing.T) {
	c := newTestConverter(t)

	// A value float64 cannot hold exactly.
	in := decimal.RequireFromString("12345678901234567890.12345")

	v, err := c.ToScriptValue(in, false, storage.TypeNumeric)
	if err != nil {
		t.Fatalf("ToScriptValue failed: %v", err)
	}
	if v.String() != "12345678901234567890.12345" {
		t.Errorf("numeric should convert as exact text, got %q", v.String())
	}

	got, isNull, err := c.ToHostDatum(v, storage.TypeNumeric)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if isNull {
		t.Fatal("unexpected NULL")
	}
	d, ok := got.(decimal.Decimal)
	if !ok {
		t.Fatalf("got %T, want decimal.Decimal", got)
	}
	if !d.Equal(in) {
		t.Errorf("round trip = %s, want %s", d, in)
	}
}

func TestByteaRoundTrip(t *testing.T) {
	c := newTestConverter(t)

	in := []byte{0x00, 0x01, 0xfe, 0xff}
	v, err := c.ToScriptValue(in, false, storage.TypeBytea)
	if err != nil {
		t.Fatalf("ToScriptValue failed: %v", err)
	}

	got, isNull, err := c.ToHostDatum(v, storage.TypeBytea)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if isNull {
		t.Fatal("unexpected NULL")
	}
	b, ok := got.([]byte)
	if !ok {
		t.Fatalf("got %T, want []byte", got)
	}
	if len(b) != len(in) {
		t.Fatalf("length %d, want %d", len(b), len(in))
	}
	for i := range in {
		if b[i] != in[i] {
			t.Errorf("byte %d = %#x, want %#x", i, b[i], in[i])
		}
	}
}

func TestTimestampBecomesDate(t *testing.T) {
	c := newTestConverter(t)

	in := time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC)
	v, err := c.ToScriptValue(in, false, storage.TypeTimestamp)
	if err != nil {
		t.Fatalf("ToScriptValue failed: %v", err)
	}

	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Date" {
		t.Fatalf("timestamp should become a Date object, got %v", v)
	}

	got, isNull, err := c.ToHostDatum(v, storage.TypeTimestamp)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if isNull {
		t.Fatal("unexpected NULL")
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("got %T, want time.Time", got)
	}
	if !ts.Equal(in) {
		t.Errorf("round trip = %v, want %v", ts, in)
	}
}

func TestJSONParsedOnEntry(t *testing.T) {
	c := newTestConverter(t)

	v, err := c.ToScriptValue(`{"a": [1, 2, 3]}`, false, storage.TypeJSON)
	if err != nil {
		t.Fatalf("ToScriptValue failed: %v", err)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		t.Fatalf("json should arrive as an object, got %v", v)
	}
	a, ok := obj.Get("a").(*goja.Object)
	if !ok || a.ClassName() != "Array" {
		t.Fatalf("json array property lost: %v", obj.Get("a"))
	}

	got, isNull, err := c.ToHostDatum(v, storage.TypeJSON)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if isNull {
		t.Fatal("unexpected NULL")
	}
	if got.(string) != `{"a":[1,2,3]}` {
		t.Errorf("stringified json = %q", got)
	}
}

func TestCoercionOnReturn(t *testing.T) {
	c := newTestConverter(t)
	vm := c.Runtime()

	// Scripts return whatever they like; the declared type wins.
	got, isNull, err := c.ToHostDatum(vm.ToValue("42"), storage.TypeInt4)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if isNull || got.(int32) != 42 {
		t.Errorf("string '42' as int4 = %v", got)
	}

	got, _, err = c.ToHostDatum(vm.ToValue(1.0), storage.TypeBool)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if got.(bool) != true {
		t.Errorf("1.0 as bool = %v", got)
	}
}

func TestVoidAlwaysNull(t *testing.T) {
	c := newTestConverter(t)

	_, isNull, err := c.ToHostDatum(c.Runtime().ToValue(99), storage.TypeVoid)
	if err != nil {
		t.Fatalf("ToHostDatum failed: %v", err)
	}
	if !isNull {
		t.Error("void return must be NULL regardless of script value")
	}
}
