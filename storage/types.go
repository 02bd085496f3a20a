// Package storage provides the host-side services the plv8 bridge depends
// on: database access with transaction-boundary notification, the function
// catalog, and row materialization for set-returning calls.
package storage

import (
	"fmt"
	"strings"
)

// Datum is a host-side scalar value. A nil Datum paired with a null flag
// represents SQL NULL; the flag is authoritative, not the nil.
type Datum = interface{}

// TypeID identifies a host value type as declared in the catalog.
type TypeID int

const (
	TypeInvalid TypeID = iota

	// Concrete scalar types
	TypeBool
	TypeInt2
	TypeInt4
	TypeInt8
	TypeFloat4
	TypeFloat8
	TypeNumeric
	TypeText
	TypeBytea
	TypeTimestamp
	TypeDate
	TypeJSON

	// Pseudo types. Only trigger, void and record are accepted by
	// validation; the rest exist so the catalog can name what it rejects.
	TypeVoid
	TypeRecord
	TypeTrigger
	TypeInternal
)

var typeNames = map[TypeID]string{
	TypeBool:      "boolean",
	TypeInt2:      "int2",
	TypeInt4:      "int4",
	TypeInt8:      "int8",
	TypeFloat4:    "float4",
	TypeFloat8:    "float8",
	TypeNumeric:   "numeric",
	TypeText:      "text",
	TypeBytea:     "bytea",
	TypeTimestamp: "timestamp",
	TypeDate:      "date",
	TypeJSON:      "json",
	TypeVoid:      "void",
	TypeRecord:    "record",
	TypeTrigger:   "trigger",
	TypeInternal:  "internal",
}

func (t TypeID) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// IsPseudo reports whether t is a pseudo type rather than a storable value
// type.
func (t TypeID) IsPseudo() bool {
	switch t {
	case TypeVoid, TypeRecord, TypeTrigger, TypeInternal:
		return true
	}
	return false
}

// ParseTypeID resolves a catalog type name to its TypeID.
func ParseTypeID(name string) (TypeID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool", "boolean":
		return TypeBool, nil
	case "int2", "smallint":
		return TypeInt2, nil
	case "int4", "int", "integer":
		return TypeInt4, nil
	case "int8", "bigint":
		return TypeInt8, nil
	case "float4", "real":
		return TypeFloat4, nil
	case "float8", "double", "double precision":
		return TypeFloat8, nil
	case "numeric", "decimal":
		return TypeNumeric, nil
	case "text", "varchar", "char":
		return TypeText, nil
	case "bytea", "blob":
		return TypeBytea, nil
	case "timestamp", "timestamptz", "datetime":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "json", "jsonb":
		return TypeJSON, nil
	case "void":
		return TypeVoid, nil
	case "record":
		return TypeRecord, nil
	case "trigger":
		return TypeTrigger, nil
	case "internal":
		return TypeInternal, nil
	default:
		return TypeInvalid, fmt.Errorf("unknown type name: %s", name)
	}
}

// ColumnDesc describes one relational attribute.
type ColumnDesc struct {
	Name string
	Type TypeID
}

// RelationDesc describes a relation's row shape: ordered columns plus the
// relation's identity for trigger reporting.
type RelationDesc struct {
	ID     int64
	Name   string
	Schema string

	Columns []ColumnDesc
}

// Tuple is one row in host representation. Values and Nulls are parallel
// to the owning RelationDesc's Columns.
type Tuple struct {
	Values []Datum
	Nulls  []bool
}

// NewTuple allocates a tuple sized for the given relation.
func NewTuple(desc *RelationDesc) *Tuple {
	n := len(desc.Columns)
	return &Tuple{
		Values: make([]Datum, n),
		Nulls:  make([]bool, n),
	}
}

// ResultSet holds the rows produced by a sub-query.
type ResultSet struct {
	Columns []string
	Rows    [][]Datum
}
