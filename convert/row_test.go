package convert

import (
	"strings"
	"testing"

	"github.com/dop251/goja"

	"github.com/Ginden/plv8/storage"
)

func personDesc() *storage.RelationDesc {
	return &storage.RelationDesc{
		ID:     1,
		Name:   "person",
		Schema: "public",
		Columns: []storage.ColumnDesc{
			{Name: "id", Type: storage.TypeInt4},
			{Name: "name", Type: storage.TypeText},
			{Name: "active", Type: storage.TypeBool},
		},
	}
}

func TestRowToObjectAndBack(t *testing.T) {
	vm := goja.New()
	rc := NewRowConverter(New(vm), personDesc(), false)

	tuple := storage.NewTuple(personDesc())
	tuple.Values[0] = int32(7)
	tuple.Values[1] = "ada"
	tuple.Values[2] = true

	obj, err := rc.RowToObject(tuple)
	if err != nil {
		t.Fatalf("RowToObject failed: %v", err)
	}
	if obj.Get("name").String() != "ada" {
		t.Errorf("name property = %v", obj.Get("name"))
	}
	if obj.Get("id").ToInteger() != 7 {
		t.Errorf("id property = %v", obj.Get("id"))
	}

	back, err := rc.ObjectToRow(obj)
	if err != nil {
		t.Fatalf("ObjectToRow failed: %v", err)
	}
	if back.Values[0].(int32) != 7 || back.Values[1].(string) != "ada" || back.Values[2].(bool) != true {
		t.Errorf("round trip = %+v", back.Values)
	}
	for i, isNull := range back.Nulls {
		if isNull {
			t.Errorf("column %d unexpectedly NULL", i)
		}
	}
}

func TestNullColumnsRoundTrip(t *testing.T) {
	vm := goja.New()
	rc := NewRowConverter(New(vm), personDesc(), false)

	tuple := storage.NewTuple(personDesc())
	tuple.Values[0] = int32(1)
	tuple.Nulls[1] = true
	tuple.Values[2] = false

	obj, err := rc.RowToObject(tuple)
	if err != nil {
		t.Fatalf("RowToObject failed: %v", err)
	}
	if !goja.IsNull(obj.Get("name")) {
		t.Errorf("NULL column should be script null, got %v", obj.Get("name"))
	}

	back, err := rc.ObjectToRow(obj)
	if err != nil {
		t.Fatalf("ObjectToRow failed: %v", err)
	}
	if !back.Nulls[1] {
		t.Error("null flag lost on round trip")
	}
}

func TestMissingPropertyBecomesNull(t *testing.T) {
	vm := goja.New()
	rc := NewRowConverter(New(vm), personDesc(), false)

	v, err := vm.RunString(`({id: 3})`)
	if err != nil {
		t.Fatalf("RunString failed: %v", err)
	}

	tuple, err := rc.ObjectToRow(v)
	if err != nil {
		t.Fatalf("ObjectToRow failed: %v", err)
	}
	if tuple.Nulls[0] {
		t.Error("present property should not be NULL")
	}
	if !tuple.Nulls[1] || !tuple.Nulls[2] {
		t.Errorf("missing properties should be NULL: %v", tuple.Nulls)
	}
}

func TestCompositeRejectsNonObject(t *testing.T) {
	vm := goja.New()
	rc := NewRowConverter(New(vm), personDesc(), false)

	_, err := rc.ObjectToRow(vm.ToValue(42))
	if err == nil {
		t.Fatal("expected rejection of a non-object row")
	}
	if !strings.Contains(err.Error(), "argument must be an object") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestScalarModeAcceptsBareValue(t *testing.T) {
	vm := goja.New()
	desc := &storage.RelationDesc{
		Name:    "ints",
		Columns: []storage.ColumnDesc{{Name: "value", Type: storage.TypeInt4}},
	}
	rc := NewRowConverter(New(vm), desc, true)

	tuple, err := rc.ObjectToRow(vm.ToValue(11))
	if err != nil {
		t.Fatalf("ObjectToRow failed: %v", err)
	}
	if tuple.Nulls[0] || tuple.Values[0].(int32) != 11 {
		t.Errorf("scalar row = %+v", tuple)
	}
}

func TestAppendToStore(t *testing.T) {
	vm := goja.New()
	desc := personDesc()
	rc := NewRowConverter(New(vm), desc, false)
	store := storage.NewMemoryRowStore(desc)

	v, err := vm.RunString(`({id: 1, name: "a", active: true})`)
	if err != nil {
		t.Fatalf("RunString failed: %v", err)
	}
	if err := rc.AppendTo(v, store); err != nil {
		t.Fatalf("AppendTo failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d rows, want 1", store.Len())
	}
	if store.Rows()[0].Values[1].(string) != "a" {
		t.Errorf("stored row = %+v", store.Rows()[0])
	}
}
