package bridge

import (
	"context"
	"strconv"

	"github.com/dop251/goja"

	"github.com/Ginden/plv8/convert"
	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/pkg/log"
	"github.com/Ginden/plv8/storage"
)

// Config controls session-level bridge behavior.
type Config struct {
	// StartProc names a defined function run once per namespace, right
	// after creation. Empty disables the hook.
	StartProc string
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{}
}

// ModuleSource supplies library code loaded into every new namespace.
// Generation changes whenever the library content changes; namespaces
// built against an older generation are discarded on next use.
type ModuleSource interface {
	Generation() uint64
	LoadInto(vm *goja.Runtime) error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithModules attaches a module library to the bridge.
func WithModules(src ModuleSource) Option {
	return func(b *Bridge) { b.modules = src }
}

// Bridge is the invocation dispatcher for one database session. It owns the
// procedure cache, the namespace pool and the execution environment
// registry, and serializes all script execution for the session.
type Bridge struct {
	db      *storage.DB
	catalog *storage.Catalog
	logger  *log.Logger
	cfg     Config
	modules ModuleSource

	pool  *Pool
	cache *ProcCache
	envs  *EnvRegistry

	// Context of the call currently executing; consulted by native
	// capabilities that run host queries. The bridge is single-session and
	// never runs two calls concurrently.
	ctx context.Context
}

// New creates a bridge bound to a database session. Execution environment
// teardown is wired to the session's transaction boundaries.
func New(db *storage.DB, catalog *storage.Catalog, logger *log.Logger, cfg Config, opts ...Option) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	b := &Bridge{
		db:      db,
		catalog: catalog,
		logger:  logger,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pool = newPool(b)
	b.cache = newProcCache(b)
	b.envs = newEnvRegistry(b)

	db.OnTxnEnd(func(ev storage.TxnEvent) {
		b.envs.TeardownAll(ev)
	})
	return b
}

// Pool exposes the namespace pool.
func (b *Bridge) Pool() *Pool { return b.pool }

// Cache exposes the procedure cache.
func (b *Bridge) Cache() *ProcCache { return b.cache }

// Envs exposes the execution environment registry.
func (b *Bridge) Envs() *EnvRegistry { return b.envs }

// CallSite caches the binding for one host call site, so repeated calls
// within a transaction skip cache resolution. After teardown the binding
// rebinds transparently on next use.
type CallSite struct {
	proc *CompiledProcedure
	env  *ExecEnv
}

// CallContext identifies who is calling and from where.
type CallContext struct {
	// Principal selects the global namespace the call runs in.
	Principal string
	// Site, when non-nil, carries the per-call-site binding cache.
	Site *CallSite
	// ResultDesc describes the expected row shape for calls returning a
	// composite result.
	ResultDesc *storage.RelationDesc
}

func (b *Bridge) enter(ctx context.Context) func() {
	prev := b.ctx
	b.ctx = ctx
	return func() { b.ctx = prev }
}

func (b *Bridge) callCtx() context.Context {
	if b.ctx != nil {
		return b.ctx
	}
	return context.Background()
}

// bind resolves and binds the procedure for this call. A call site whose
// environment and compiled procedure both survived since the last call
// reuses them without touching the cache; otherwise the procedure is
// resolved fresh and bound into a new environment.
func (b *Bridge) bind(ctx context.Context, oid int64, cc *CallContext) (*ExecEnv, error) {
	if cc.Site != nil && cc.Site.env != nil && !cc.Site.env.released &&
		!cc.Site.env.proc.Released() {
		return cc.Site.env, nil
	}

	proc, err := b.cache.Resolve(ctx, oid, cc.Principal)
	if err != nil {
		return nil, err
	}
	env := b.envs.Create(proc)
	if cc.Site != nil {
		cc.Site.proc = proc
		cc.Site.env = env
	}
	return env, nil
}

// Call invokes a plain (non-set-returning, non-trigger) function and
// returns the converted result datum with its null flag.
func (b *Bridge) Call(ctx context.Context, oid int64, cc CallContext, args []storage.Datum, nulls []bool) (_ storage.Datum, _ bool, err error) {
	defer func() { err = rethrow(err) }()
	defer b.enter(ctx)()

	env, err := b.bind(ctx, oid, &cc)
	if err != nil {
		return nil, true, err
	}
	proc := env.proc

	if proc.Trigger {
		return nil, true, captureHostError(plverrors.New(plverrors.ErrCodeFuncValidation,
			"trigger functions can only be called as triggers").
			WithField("function", proc.Name).Err())
	}

	if proc.RetSet {
		return nil, true, captureHostError(plverrors.New(plverrors.ErrCodeStreamSetup,
			"set-valued function called in context that cannot accept a set").
			WithField("function", proc.Name).Err())
	}

	jsArgs, err := b.convertArgs(proc, args, nulls)
	if err != nil {
		return nil, true, err
	}

	ret, err := env.call(b, jsArgs)
	if err != nil {
		return nil, true, err
	}

	return b.convertResult(proc, &cc, ret)
}

// CallSetReturning invokes a set-returning function, appending every
// produced row to dest. Rows arrive through plv8.return_next and through
// the function's own return value.
func (b *Bridge) CallSetReturning(ctx context.Context, oid int64, cc CallContext, args []storage.Datum, nulls []bool, dest storage.RowStore) (err error) {
	defer func() { err = rethrow(err) }()
	defer b.enter(ctx)()

	if dest == nil {
		return captureHostError(plverrors.New(plverrors.ErrCodeStreamSetup,
			"no destination for set-returning function result").Err())
	}

	env, err := b.bind(ctx, oid, &cc)
	if err != nil {
		return err
	}
	proc := env.proc
	ns := proc.ns

	jsArgs, err := b.convertArgs(proc, args, nulls)
	if err != nil {
		return err
	}

	scalar := proc.RetType != storage.TypeRecord
	rows := convert.NewRowConverter(ns.conv, dest.Desc(), scalar)
	ns.pushStream(rows, dest)
	defer ns.popStream()

	ret, err := env.call(b, jsArgs)
	if err != nil {
		return err
	}
	return appendReturned(rows, dest, ret)
}

// appendReturned folds a set-returning function's return value into the
// result stream: undefined adds nothing, an array adds one row per
// element, anything else adds a single row.
func appendReturned(rows *convert.RowConverter, dest storage.RowStore, ret goja.Value) error {
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil
	}

	if obj, ok := ret.(*goja.Object); ok && obj.ClassName() == "Array" {
		length := obj.Get("length").ToInteger()
		for i := int64(0); i < length; i++ {
			elem := obj.Get(strconv.FormatInt(i, 10))
			if err := rows.AppendTo(elem, dest); err != nil {
				return scriptErrorf("%s", err.Error())
			}
		}
		return nil
	}

	if err := rows.AppendTo(ret, dest); err != nil {
		return scriptErrorf("%s", err.Error())
	}
	return nil
}

// CallTrigger invokes a trigger function for one firing and interprets its
// verdict on the affected row.
func (b *Bridge) CallTrigger(ctx context.Context, oid int64, cc CallContext, ev *TriggerEvent) (_ *TriggerResult, err error) {
	defer func() { err = rethrow(err) }()
	defer b.enter(ctx)()

	env, err := b.bind(ctx, oid, &cc)
	if err != nil {
		return nil, err
	}
	proc := env.proc

	if !proc.Trigger {
		return nil, captureHostError(plverrors.New(plverrors.ErrCodeFuncValidation,
			"function is not a trigger function").WithField("function", proc.Name).Err())
	}

	rows := convert.NewRowConverter(proc.ns.conv, ev.Relation, false)
	jsArgs, err := triggerCallArgs(proc.ns, rows, ev)
	if err != nil {
		return nil, err
	}

	ret, err := env.call(b, jsArgs)
	if err != nil {
		return nil, err
	}

	verdict, err := triggerVerdict(rows, ev, ret)
	if err != nil {
		return nil, scriptErrorf("%s", err.Error())
	}
	return verdict, nil
}

// Validate checks a definition at creation time: signature types are
// verified and the source is compiled, without creating an execution
// environment.
func (b *Bridge) Validate(ctx context.Context, oid int64, cc CallContext) (err error) {
	defer func() { err = rethrow(err) }()
	defer b.enter(ctx)()

	_, err = b.cache.Resolve(ctx, oid, cc.Principal)
	return err
}

// CallInline compiles and runs an anonymous code block in the principal's
// namespace. The block takes no arguments and its return value is
// discarded.
func (b *Bridge) CallInline(ctx context.Context, cc CallContext, source string) (err error) {
	defer func() { err = rethrow(err) }()
	defer b.enter(ctx)()

	ns, err := b.pool.Get(cc.Principal)
	if err != nil {
		return err
	}

	wrapped := wrapSource(nil, 0, source, false)
	value, fn, err := compileInto(ns, "", wrapped)
	if err != nil {
		return err
	}

	proc := &CompiledProcedure{
		Name:    "inline",
		RetType: storage.TypeVoid,
		ns:      ns,
		fn:      fn,
		value:   value,
		source:  wrapped,
	}
	env := b.envs.Create(proc)
	_, err = env.call(b, nil)
	return err
}

// convertArgs converts host datums into script values per the declared
// argument types.
func (b *Bridge) convertArgs(proc *CompiledProcedure, args []storage.Datum, nulls []bool) ([]goja.Value, error) {
	if len(args) != len(proc.ArgTypes) {
		return nil, captureHostError(plverrors.Newf(plverrors.ErrCodeFuncValidation,
			"function %s expects %d arguments, got %d",
			proc.Name, len(proc.ArgTypes), len(args)).Err())
	}

	out := make([]goja.Value, len(args))
	for i, at := range proc.ArgTypes {
		isNull := i < len(nulls) && nulls[i]
		v, err := proc.ns.conv.ToScriptValue(args[i], isNull, at)
		if err != nil {
			return nil, captureHostError(err)
		}
		out[i] = v
	}
	return out, nil
}

// convertResult converts a plain call's return value back to a host datum.
func (b *Bridge) convertResult(proc *CompiledProcedure, cc *CallContext, ret goja.Value) (storage.Datum, bool, error) {
	switch proc.RetType {
	case storage.TypeVoid:
		return nil, true, nil
	case storage.TypeRecord:
		if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
			return nil, true, nil
		}
		if cc.ResultDesc == nil {
			return nil, true, captureHostError(plverrors.New(plverrors.ErrCodeFuncUnsupportedRet,
				"composite result requires a row descriptor").
				WithField("function", proc.Name).Err())
		}
		rows := convert.NewRowConverter(proc.ns.conv, cc.ResultDesc, false)
		tuple, err := rows.ObjectToRow(ret)
		if err != nil {
			return nil, true, scriptErrorf("%s", err.Error())
		}
		return tuple, false, nil
	}

	datum, isNull, err := proc.ns.conv.ToHostDatum(ret, proc.RetType)
	if err != nil {
		return nil, true, scriptErrorf("%s", err.Error())
	}
	return datum, isNull, nil
}

// findFunction resolves a defined function by name for plv8.find_function.
func (b *Bridge) findFunction(ns *Namespace, name string) (goja.Value, error) {
	meta, err := b.catalog.LookupByName(b.callCtx(), name)
	if err != nil {
		return nil, captureHostError(plverrors.Wrap(err, plverrors.ErrCodeFuncNotFound,
			"javascript function is not found").WithField("name", name).Err())
	}

	proc, err := b.cache.Resolve(b.callCtx(), meta.OID, ns.principal)
	if err != nil {
		return nil, err
	}
	return proc.value, nil
}

// runStartProc compiles and runs the configured start proc inside the
// just-created namespace.
func (b *Bridge) runStartProc(ns *Namespace, name string) error {
	ctx := b.callCtx()

	meta, err := b.catalog.LookupByName(ctx, name)
	if err != nil {
		return captureHostError(err)
	}

	proc, err := compileProcedure(ns, meta)
	if err != nil {
		return err
	}

	env := b.envs.Create(proc)
	if _, err := env.call(b, nil); err != nil {
		return err
	}
	b.logger.System().Info("start proc completed", "name", name, "principal", ns.principal)
	return nil
}

func (b *Bridge) moduleGeneration() uint64 {
	if b.modules == nil {
		return 0
	}
	return b.modules.Generation()
}

func (b *Bridge) loadModules(ns *Namespace) error {
	if b.modules == nil {
		return nil
	}
	if err := b.modules.LoadInto(ns.vm); err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeScriptException,
			"module library load failed").WithField("principal", ns.principal).Err()
	}
	return nil
}
