package bridge

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/storage"
)

// triggerArgNames is the fixed parameter list synthesized for trigger
// functions. Trigger functions cannot declare arguments of their own.
var triggerArgNames = []string{
	"NEW", "OLD",
	"TG_NAME", "TG_WHEN", "TG_LEVEL", "TG_OP",
	"TG_RELID", "TG_TABLE_NAME", "TG_TABLE_SCHEMA", "TG_ARGV",
}

// compileProcedure compiles a catalog definition into the namespace.
func compileProcedure(ns *Namespace, meta *storage.FunctionMeta) (*CompiledProcedure, error) {
	argNames := meta.ArgNames
	if meta.IsTrigger() {
		if len(meta.ArgTypes) > 0 {
			return nil, captureHostError(plverrors.New(
				plverrors.ErrCodeFuncTriggerArgs,
				"trigger function cannot have declared arguments").
				WithField("function", meta.Name).Err())
		}
		argNames = triggerArgNames
	}

	source := wrapSource(argNames, len(meta.ArgTypes), meta.Source, meta.IsTrigger())
	value, fn, err := compileInto(ns, meta.Name, source)
	if err != nil {
		return nil, err
	}

	return &CompiledProcedure{
		OID:      meta.OID,
		Name:     meta.Name,
		ArgTypes: meta.ArgTypes,
		RetType:  meta.RetType,
		RetSet:   meta.RetSet,
		Trigger:  meta.IsTrigger(),
		ns:       ns,
		fn:       fn,
		value:    value,
		source:   source,
	}, nil
}

// wrapSource synthesizes the function expression the engine compiles: a
// one-line header declaring the parameters, the stored body verbatim, and
// a closing line. Unnamed parameters become positional $N names.
func wrapSource(argNames []string, argCount int, body string, trigger bool) string {
	var sb strings.Builder
	sb.WriteString("(function (")

	n := argCount
	if trigger {
		n = len(argNames)
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i < len(argNames) && argNames[i] != "" {
			sb.WriteString(argNames[i])
		} else {
			fmt.Fprintf(&sb, "$%d", i+1)
		}
	}
	sb.WriteString(") {\n")
	sb.WriteString(body)
	sb.WriteString("\n})")
	return sb.String()
}

// compileInto compiles and evaluates a wrapped function expression in the
// namespace, returning the resulting callable.
func compileInto(ns *Namespace, name string, source string) (goja.Value, goja.Callable, error) {
	if name == "" {
		name = "inline"
	}

	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, nil, newScriptError(err, source)
	}

	value, err := ns.vm.RunProgram(prog)
	if err != nil {
		return nil, nil, newScriptError(err, source)
	}

	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, nil, scriptErrorf("compiled source did not produce a function")
	}
	return value, fn, nil
}
