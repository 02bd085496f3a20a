package convert

import (
	"github.com/dop251/goja"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/storage"
)

// RowConverter converts between host tuples and script objects for one row
// shape. In scalar mode the shape is a single unnamed column and a bare
// scalar is accepted where an object would otherwise be required.
type RowConverter struct {
	conv   *Converter
	desc   *storage.RelationDesc
	scalar bool
}

// NewRowConverter creates a row converter for the given relation shape.
func NewRowConverter(conv *Converter, desc *storage.RelationDesc, scalar bool) *RowConverter {
	return &RowConverter{conv: conv, desc: desc, scalar: scalar}
}

// Desc returns the relation descriptor this converter is bound to.
func (rc *RowConverter) Desc() *storage.RelationDesc {
	return rc.desc
}

// RowToObject converts one host tuple into a script object with one
// property per attribute, in attribute order, names copied verbatim.
func (rc *RowConverter) RowToObject(tuple *storage.Tuple) (*goja.Object, error) {
	obj := rc.conv.Runtime().NewObject()

	for i, col := range rc.desc.Columns {
		v, err := rc.conv.ToScriptValue(tuple.Values[i], tuple.Nulls[i], col.Type)
		if err != nil {
			return nil, err
		}
		if err := obj.Set(col.Name, v); err != nil {
			return nil, err
		}
	}

	return obj, nil
}

// ObjectToRow converts a script value into one host tuple. Composite shapes
// require an object; the scalar shape accepts any value into its single
// column. Missing and undefined properties become NULL.
func (rc *RowConverter) ObjectToRow(v goja.Value) (*storage.Tuple, error) {
	var obj *goja.Object
	if !rc.scalar {
		o, ok := v.(*goja.Object)
		if !ok {
			return nil, plverrors.New(plverrors.ErrCodeScriptResult,
				"argument must be an object").
				WithOp("RowConverter.ObjectToRow").
				Err()
		}
		obj = o
	}

	tuple := storage.NewTuple(rc.desc)
	for i, col := range rc.desc.Columns {
		var attr goja.Value
		if rc.scalar {
			attr = v
		} else {
			attr = obj.Get(col.Name)
		}

		if attr == nil || goja.IsUndefined(attr) || goja.IsNull(attr) {
			tuple.Nulls[i] = true
			continue
		}

		datum, isNull, err := rc.conv.ToHostDatum(attr, col.Type)
		if err != nil {
			return nil, err
		}
		tuple.Values[i] = datum
		tuple.Nulls[i] = isNull
	}

	return tuple, nil
}

// AppendTo converts a script value into a row and appends it to the stream.
func (rc *RowConverter) AppendTo(v goja.Value, store storage.RowStore) error {
	tuple, err := rc.ObjectToRow(v)
	if err != nil {
		return err
	}
	if err := store.AppendRow(tuple.Values, tuple.Nulls); err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeStreamAppend,
			"failed to append result row").
			WithOp("RowConverter.AppendTo").
			Err()
	}
	return nil
}
