package bridge

import (
	"github.com/dop251/goja"

	"github.com/Ginden/plv8/convert"
	"github.com/Ginden/plv8/storage"
)

// TriggerOp identifies the statement that fired the trigger.
type TriggerOp int

const (
	TriggerInsert TriggerOp = iota
	TriggerUpdate
	TriggerDelete
	TriggerTruncate
)

func (op TriggerOp) String() string {
	switch op {
	case TriggerInsert:
		return "INSERT"
	case TriggerUpdate:
		return "UPDATE"
	case TriggerDelete:
		return "DELETE"
	case TriggerTruncate:
		return "TRUNCATE"
	}
	return "?"
}

// TriggerTiming identifies when the trigger fired relative to the
// statement.
type TriggerTiming int

const (
	TriggerBefore TriggerTiming = iota
	TriggerAfter
)

func (t TriggerTiming) String() string {
	if t == TriggerBefore {
		return "BEFORE"
	}
	return "AFTER"
}

// TriggerLevel identifies row-level or statement-level firing.
type TriggerLevel int

const (
	TriggerRow TriggerLevel = iota
	TriggerStatement
)

func (l TriggerLevel) String() string {
	if l == TriggerRow {
		return "ROW"
	}
	return "STATEMENT"
}

// TriggerEvent describes one trigger firing. NewTuple and OldTuple are nil
// when the operation does not supply them.
type TriggerEvent struct {
	Name     string
	Timing   TriggerTiming
	Level    TriggerLevel
	Op       TriggerOp
	Relation *storage.RelationDesc
	NewTuple *storage.Tuple
	OldTuple *storage.Tuple
	Args     []string
}

// TriggerRowAction is the trigger function's verdict on the row being
// modified.
type TriggerRowAction int

const (
	// TriggerRowUnchanged lets the operation proceed with the original row.
	TriggerRowUnchanged TriggerRowAction = iota
	// TriggerRowSkipped suppresses the operation for this row.
	TriggerRowSkipped
	// TriggerRowReplaced substitutes the returned row.
	TriggerRowReplaced
)

// TriggerResult is what the host applies after a trigger function returns.
// Row is set only for TriggerRowReplaced.
type TriggerResult struct {
	Action TriggerRowAction
	Row    *storage.Tuple
}

// triggerCallArgs assembles the fixed ten-argument call for a trigger
// function.
func triggerCallArgs(ns *Namespace, rows *convert.RowConverter, ev *TriggerEvent) ([]goja.Value, error) {
	vm := ns.vm

	newVal := goja.Value(goja.Undefined())
	oldVal := goja.Value(goja.Undefined())
	if ev.Level == TriggerRow {
		var err error
		switch ev.Op {
		case TriggerInsert:
			if newVal, err = triggerRowValue(rows, ev.NewTuple); err != nil {
				return nil, err
			}
		case TriggerDelete:
			if oldVal, err = triggerRowValue(rows, ev.OldTuple); err != nil {
				return nil, err
			}
		case TriggerUpdate:
			if newVal, err = triggerRowValue(rows, ev.NewTuple); err != nil {
				return nil, err
			}
			if oldVal, err = triggerRowValue(rows, ev.OldTuple); err != nil {
				return nil, err
			}
		}
	}

	argv := make([]interface{}, len(ev.Args))
	for i, a := range ev.Args {
		argv[i] = a
	}

	return []goja.Value{
		newVal,
		oldVal,
		vm.ToValue(ev.Name),
		vm.ToValue(ev.Timing.String()),
		vm.ToValue(ev.Level.String()),
		vm.ToValue(ev.Op.String()),
		vm.ToValue(ev.Relation.ID),
		vm.ToValue(ev.Relation.Name),
		vm.ToValue(ev.Relation.Schema),
		vm.ToValue(argv),
	}, nil
}

func triggerRowValue(rows *convert.RowConverter, tuple *storage.Tuple) (goja.Value, error) {
	if tuple == nil {
		return goja.Undefined(), nil
	}
	obj, err := rows.RowToObject(tuple)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// triggerVerdict interprets the trigger function's return value. Undefined
// keeps the original row, null suppresses the operation, and an object
// replaces the row. Statement-level triggers always leave the operation
// unchanged.
func triggerVerdict(rows *convert.RowConverter, ev *TriggerEvent, ret goja.Value) (*TriggerResult, error) {
	if ev.Level == TriggerStatement || ret == nil || goja.IsUndefined(ret) {
		return &TriggerResult{Action: TriggerRowUnchanged}, nil
	}
	if goja.IsNull(ret) {
		return &TriggerResult{Action: TriggerRowSkipped}, nil
	}
	tuple, err := rows.ObjectToRow(ret)
	if err != nil {
		return nil, err
	}
	return &TriggerResult{Action: TriggerRowReplaced, Row: tuple}, nil
}
