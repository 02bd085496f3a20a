package bridge

import (
	"github.com/dop251/goja"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/storage"
)

// ExecEnv binds a compiled procedure to a receiver object for the duration
// of the current transaction. It is invalidated in bulk at every
// transaction boundary; a released environment must never be invoked again.
type ExecEnv struct {
	proc     *CompiledProcedure
	recv     *goja.Object
	released bool
}

// Released reports whether the environment was torn down.
func (e *ExecEnv) Released() bool { return e.released }

// call invokes the bound procedure inside a sub-query session bracket.
// Host errors carried across the engine by native capabilities are
// recovered here and returned for deferred re-raise; script exceptions
// become ScriptErrors.
func (e *ExecEnv) call(b *Bridge, args []goja.Value) (result goja.Value, err error) {
	if e.released {
		return nil, plverrors.Internal("call on released execution environment").Err()
	}
	if e.proc.Released() {
		return nil, plverrors.Internal("call on released procedure").Err()
	}

	if status := b.db.Connect(); status != storage.StatusOK {
		return nil, scriptErrorf("could not connect to query executor: %s",
			storage.FormatStatus(status))
	}

	defer func() {
		status := b.db.Finish()
		if r := recover(); r != nil {
			hp, ok := r.(*hostPanic)
			if !ok {
				panic(r)
			}
			result = nil
			err = captureHostError(hp.err)
			return
		}
		if err == nil && status != storage.StatusOK {
			err = scriptErrorf("failed to disconnect from query executor: %s",
				storage.FormatStatus(status))
		}
	}()

	v, callErr := e.proc.fn(e.recv, args...)
	if callErr != nil {
		return nil, newScriptError(callErr, e.proc.source)
	}
	return v, nil
}

// EnvRegistry tracks every live execution environment so they can be torn
// down together when the transaction ends.
type EnvRegistry struct {
	bridge *Bridge
	envs   []*ExecEnv
}

func newEnvRegistry(b *Bridge) *EnvRegistry {
	return &EnvRegistry{bridge: b}
}

// Create binds a procedure into a fresh environment and registers it for
// teardown.
func (r *EnvRegistry) Create(proc *CompiledProcedure) *ExecEnv {
	env := &ExecEnv{
		proc: proc,
		recv: proc.ns.vm.NewObject(),
	}
	r.envs = append(r.envs, env)
	return env
}

// Len reports the number of live environments.
func (r *EnvRegistry) Len() int { return len(r.envs) }

// TeardownAll releases every registered environment. It runs on every
// transaction boundary, commit and rollback alike, regardless of whether
// the boundary itself succeeded.
func (r *EnvRegistry) TeardownAll(event storage.TxnEvent) {
	if len(r.envs) == 0 {
		return
	}
	for _, env := range r.envs {
		env.released = true
		env.recv = nil
	}
	r.bridge.logger.Execution().Debug("execution environments torn down",
		"count", len(r.envs), "event", event.String())
	r.envs = r.envs[:0]
}
