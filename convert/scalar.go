// Package convert marshals values between the host's datum/tuple
// representation and the script engine's value representation, including
// materialization of set-returning results.
package convert

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/storage"
)

// Converter converts scalar values for one script runtime. It is bound to
// the runtime because script values only make sense inside the runtime that
// produced them.
type Converter struct {
	vm *goja.Runtime

	// Lazily compiled script helpers.
	newDate   goja.Callable
	jsonParse goja.Callable
	jsonStr   goja.Callable
}

// New creates a converter for the given runtime.
func New(vm *goja.Runtime) *Converter {
	return &Converter{vm: vm}
}

// Runtime returns the runtime this converter is bound to.
func (c *Converter) Runtime() *goja.Runtime {
	return c.vm
}

func (c *Converter) helper(cached *goja.Callable, src string) (goja.Callable, error) {
	if *cached != nil {
		return *cached, nil
	}
	v, err := c.vm.RunString(src)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, plverrors.Internal("conversion helper did not evaluate to a function").Err()
	}
	*cached = fn
	return fn, nil
}

// ToScriptValue converts one host datum into a script value. SQL NULL maps
// to script null.
func (c *Converter) ToScriptValue(datum storage.Datum, isNull bool, typ storage.TypeID) (goja.Value, error) {
	if isNull {
		return goja.Null(), nil
	}

	switch typ {
	case storage.TypeBool:
		return c.vm.ToValue(toBool(datum)), nil

	case storage.TypeInt2, storage.TypeInt4, storage.TypeInt8:
		n, err := toInt64(datum)
		if err != nil {
			return nil, convErr(err, typ)
		}
		return c.vm.ToValue(n), nil

	case storage.TypeFloat4, storage.TypeFloat8:
		f, err := toFloat64(datum)
		if err != nil {
			return nil, convErr(err, typ)
		}
		return c.vm.ToValue(f), nil

	case storage.TypeNumeric:
		d, err := toDecimal(datum)
		if err != nil {
			return nil, convErr(err, typ)
		}
		// Exact decimal text, not a lossy float.
		return c.vm.ToValue(d.String()), nil

	case storage.TypeText:
		return c.vm.ToValue(toString(datum)), nil

	case storage.TypeBytea:
		b, err := toBytes(datum)
		if err != nil {
			return nil, convErr(err, typ)
		}
		return c.vm.ToValue(c.vm.NewArrayBuffer(b)), nil

	case storage.TypeTimestamp, storage.TypeDate:
		t, err := toTime(datum)
		if err != nil {
			return nil, convErr(err, typ)
		}
		mk, err := c.helper(&c.newDate, "(function(ms){ return new Date(ms); })")
		if err != nil {
			return nil, err
		}
		v, err := mk(goja.Undefined(), c.vm.ToValue(t.UnixMilli()))
		if err != nil {
			return nil, err
		}
		return v, nil

	case storage.TypeJSON:
		parse, err := c.helper(&c.jsonParse, "(function(s){ return JSON.parse(s); })")
		if err != nil {
			return nil, err
		}
		v, err := parse(goja.Undefined(), c.vm.ToValue(toString(datum)))
		if err != nil {
			return nil, err
		}
		return v, nil

	case storage.TypeVoid:
		return goja.Undefined(), nil

	default:
		return nil, plverrors.Newf(plverrors.ErrCodeConvert,
			"cannot convert host type %s to a script value", typ).
			WithOp("Converter.ToScriptValue").
			Err()
	}
}

// ToHostDatum converts one script value into a host datum plus null flag.
// Script null and undefined both map to SQL NULL.
func (c *Converter) ToHostDatum(v goja.Value, typ storage.TypeID) (storage.Datum, bool, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, true, nil
	}

	switch typ {
	case storage.TypeBool:
		return v.ToBoolean(), false, nil

	case storage.TypeInt2:
		return int16(v.ToInteger()), false, nil
	case storage.TypeInt4:
		return int32(v.ToInteger()), false, nil
	case storage.TypeInt8:
		return v.ToInteger(), false, nil

	case storage.TypeFloat4:
		return float32(v.ToFloat()), false, nil
	case storage.TypeFloat8:
		return v.ToFloat(), false, nil

	case storage.TypeNumeric:
		d, err := toDecimal(v.Export())
		if err != nil {
			return nil, false, convErr(err, typ)
		}
		return d, false, nil

	case storage.TypeText:
		return v.String(), false, nil

	case storage.TypeBytea:
		switch x := v.Export().(type) {
		case goja.ArrayBuffer:
			b := x.Bytes()
			out := make([]byte, len(b))
			copy(out, b)
			return out, false, nil
		case []byte:
			return x, false, nil
		case string:
			return []byte(x), false, nil
		default:
			return nil, false, plverrors.Newf(plverrors.ErrCodeConvert,
				"cannot convert %T to bytea", x).
				WithOp("Converter.ToHostDatum").
				Err()
		}

	case storage.TypeTimestamp, storage.TypeDate:
		t, err := toTime(v.Export())
		if err != nil {
			return nil, false, convErr(err, typ)
		}
		return t, false, nil

	case storage.TypeJSON:
		stringify, err := c.helper(&c.jsonStr, "(function(v){ return JSON.stringify(v); })")
		if err != nil {
			return nil, false, err
		}
		s, err := stringify(goja.Undefined(), v)
		if err != nil {
			return nil, false, err
		}
		if goja.IsUndefined(s) {
			return nil, true, nil
		}
		return s.String(), false, nil

	case storage.TypeVoid:
		return nil, true, nil

	default:
		return nil, false, plverrors.Newf(plverrors.ErrCodeConvert,
			"cannot convert a script value to host type %s", typ).
			WithOp("Converter.ToHostDatum").
			Err()
	}
}

func convErr(err error, typ storage.TypeID) error {
	return plverrors.Wrapf(err, plverrors.ErrCodeConvert,
		"conversion failed for type %s", typ).Err()
}

// Host-side coercions. Drivers and callers disagree on concrete Go types,
// so each target type accepts the shapes that occur in practice.

func toBool(v storage.Datum) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	default:
		return false
	}
}

func toInt64(v storage.Datum) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

func toFloat64(v storage.Datum) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", v)
	}
}

func toDecimal(v storage.Datum) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(x)
	case []byte:
		return decimal.NewFromString(string(x))
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("cannot coerce %T to numeric", v)
	}
}

func toString(v storage.Datum) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func toBytes(v storage.Datum) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to bytea", v)
	}
}

func toTime(v storage.Datum) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to timestamp", v)
	}
}
