package storage

import (
	plverrors "github.com/Ginden/plv8/pkg/errors"
)

// RowStore accepts successive rows from a set-returning call. The relation
// descriptor fixes the row shape; every appended tuple must match it.
type RowStore interface {
	// Desc returns the descriptor rows must conform to.
	Desc() *RelationDesc

	// AppendRow adds one row. Values and nulls are parallel to the
	// descriptor's columns.
	AppendRow(values []Datum, nulls []bool) error
}

// MemoryRowStore materializes a result-row stream in memory, the way the
// host's per-query tuple store would.
type MemoryRowStore struct {
	desc *RelationDesc
	rows []*Tuple
}

// NewMemoryRowStore creates a row store for the given relation shape.
func NewMemoryRowStore(desc *RelationDesc) *MemoryRowStore {
	return &MemoryRowStore{desc: desc}
}

// Desc returns the row shape descriptor.
func (s *MemoryRowStore) Desc() *RelationDesc {
	return s.desc
}

// AppendRow adds one row to the store.
func (s *MemoryRowStore) AppendRow(values []Datum, nulls []bool) error {
	n := len(s.desc.Columns)
	if len(values) != n || len(nulls) != n {
		return plverrors.Newf(plverrors.ErrCodeStreamAppend,
			"row width %d does not match descriptor width %d", len(values), n).
			WithOp("MemoryRowStore.AppendRow").
			Err()
	}

	row := &Tuple{
		Values: make([]Datum, n),
		Nulls:  make([]bool, n),
	}
	copy(row.Values, values)
	copy(row.Nulls, nulls)
	s.rows = append(s.rows, row)
	return nil
}

// Rows returns the materialized tuples in append order.
func (s *MemoryRowStore) Rows() []*Tuple {
	return s.rows
}

// Len returns the number of stored rows.
func (s *MemoryRowStore) Len() int {
	return len(s.rows)
}
