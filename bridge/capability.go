package bridge

import (
	"strings"

	"github.com/dop251/goja"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/pkg/log"
	"github.com/Ginden/plv8/pkg/version"
	"github.com/Ginden/plv8/storage"
)

// Script-visible severity levels, installed as global constants. ERROR and
// above abort the running function.
const (
	elogDebug5  = 10
	elogDebug4  = 11
	elogDebug3  = 12
	elogDebug2  = 13
	elogDebug1  = 14
	elogLog     = 15
	elogInfo    = 17
	elogNotice  = 18
	elogWarning = 19
	elogError   = 20
)

// installCapabilities sets up the global namespace for a fresh runtime:
// severity constants plus the capability object scripts reach the host
// through.
func (b *Bridge) installCapabilities(ns *Namespace) error {
	vm := ns.vm

	levels := map[string]int{
		"DEBUG5":  elogDebug5,
		"DEBUG4":  elogDebug4,
		"DEBUG3":  elogDebug3,
		"DEBUG2":  elogDebug2,
		"DEBUG1":  elogDebug1,
		"DEBUG":   elogDebug5,
		"LOG":     elogLog,
		"INFO":    elogInfo,
		"NOTICE":  elogNotice,
		"WARNING": elogWarning,
		"ERROR":   elogError,
	}
	for name, lv := range levels {
		if err := vm.Set(name, lv); err != nil {
			return plverrors.Wrap(err, plverrors.ErrCodeInternal,
				"failed to install severity constant").WithField("name", name).Err()
		}
	}

	obj := vm.NewObject()
	obj.Set("version", version.Version)
	obj.Set("elog", func(call goja.FunctionCall) goja.Value {
		return b.capElog(ns, call)
	})
	obj.Set("execute", func(call goja.FunctionCall) goja.Value {
		return b.capExecute(ns, call)
	})
	obj.Set("return_next", func(call goja.FunctionCall) goja.Value {
		return b.capReturnNext(ns, call)
	})
	obj.Set("find_function", func(call goja.FunctionCall) goja.Value {
		return b.capFindFunction(ns, call)
	})

	if err := vm.Set("plv8", obj); err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeInternal,
			"failed to install capability object").Err()
	}
	return nil
}

// capElog implements plv8.elog(level, msg...). Severities below ERROR are
// forwarded to the script log category; ERROR raises a script exception.
func (b *Bridge) capElog(ns *Namespace, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return goja.Undefined()
	}

	level := int(call.Arguments[0].ToInteger())
	parts := make([]string, 0, len(call.Arguments)-1)
	for _, arg := range call.Arguments[1:] {
		parts = append(parts, arg.String())
	}
	msg := strings.Join(parts, " ")

	if level >= elogError {
		panic(ns.vm.ToValue(msg))
	}

	var lv log.Level
	switch {
	case level <= elogDebug1:
		lv = log.LevelDebug
	case level <= elogInfo:
		lv = log.LevelInfo
	case level == elogNotice:
		lv = log.LevelInfo
	default:
		lv = log.LevelWarn
	}
	b.logger.Script().Log(lv, msg, "principal", ns.principal)
	return goja.Undefined()
}

// capExecute implements plv8.execute(sql, args...). Queries return an array
// of row objects; other statements return the affected row count. Host-side
// failures unwind past script try/catch.
func (b *Bridge) capExecute(ns *Namespace, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		panic(ns.vm.ToValue("plv8.execute: missing statement"))
	}
	query := call.Arguments[0].String()

	args := make([]interface{}, 0, len(call.Arguments)-1)
	for _, arg := range call.Arguments[1:] {
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			args = append(args, nil)
			continue
		}
		args = append(args, arg.Export())
	}

	if !b.db.Connected() {
		panic(&hostPanic{err: plverrors.New(plverrors.ErrCodeScriptSubQuery,
			storage.FormatStatus(storage.StatusErrorUnconnected)).Err()})
	}

	if isRowReturning(query) {
		rs, err := b.db.Query(b.ctx, query, args...)
		if err != nil {
			panic(&hostPanic{err: err})
		}
		rows := make([]interface{}, 0, len(rs.Rows))
		for _, r := range rs.Rows {
			row := make(map[string]interface{}, len(rs.Columns))
			for i, col := range rs.Columns {
				row[col] = r[i]
			}
			rows = append(rows, row)
		}
		return ns.vm.ToValue(rows)
	}

	affected, err := b.db.Exec(b.ctx, query, args...)
	if err != nil {
		panic(&hostPanic{err: err})
	}
	return ns.vm.ToValue(affected)
}

func isRowReturning(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN", "SHOW"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return false
}

// capReturnNext implements plv8.return_next(row), appending into the
// innermost active result stream.
func (b *Bridge) capReturnNext(ns *Namespace, call goja.FunctionCall) goja.Value {
	frame := ns.currentStream()
	if frame == nil {
		panic(ns.vm.ToValue("plv8.return_next called in context that cannot accept a set"))
	}
	if len(call.Arguments) != 1 {
		panic(ns.vm.ToValue("plv8.return_next takes exactly one argument"))
	}
	if err := frame.rows.AppendTo(call.Arguments[0], frame.dest); err != nil {
		panic(ns.vm.ToValue(err.Error()))
	}
	return goja.Undefined()
}

// capFindFunction implements plv8.find_function(name): it resolves a
// defined function by name, compiles it into this namespace through the
// regular cache, and hands back the callable.
func (b *Bridge) capFindFunction(ns *Namespace, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) != 1 {
		panic(ns.vm.ToValue("plv8.find_function takes exactly one argument"))
	}
	name := call.Arguments[0].String()

	fn, err := b.findFunction(ns, name)
	if err != nil {
		var se *ScriptError
		if plverrors.As(err, &se) {
			panic(ns.vm.ToValue(se.Message))
		}
		panic(&hostPanic{err: err})
	}
	return fn
}
