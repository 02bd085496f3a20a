package bridge

import (
	"github.com/dop251/goja"

	"github.com/Ginden/plv8/convert"
	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/storage"
)

// Namespace is the global script namespace for one principal: a dedicated
// runtime with the capability object installed, shared by every procedure
// that principal invokes.
type Namespace struct {
	principal string
	vm        *goja.Runtime
	conv      *convert.Converter
	bridge    *Bridge
	modGen    uint64

	// Active result-stream frames for set-returning calls. Nested calls
	// push and pop so an inner set-returning function never appends into
	// the outer function's store.
	streams []streamFrame
}

type streamFrame struct {
	rows *convert.RowConverter
	dest storage.RowStore
}

// Principal returns the principal the namespace was created for.
func (ns *Namespace) Principal() string { return ns.principal }

// Runtime returns the underlying script runtime.
func (ns *Namespace) Runtime() *goja.Runtime { return ns.vm }

// Converter returns the namespace's value converter.
func (ns *Namespace) Converter() *convert.Converter { return ns.conv }

func (ns *Namespace) pushStream(rows *convert.RowConverter, dest storage.RowStore) {
	ns.streams = append(ns.streams, streamFrame{rows: rows, dest: dest})
}

func (ns *Namespace) popStream() {
	ns.streams = ns.streams[:len(ns.streams)-1]
}

// currentStream returns the innermost active stream frame, or nil when no
// set-returning call is in progress.
func (ns *Namespace) currentStream() *streamFrame {
	if len(ns.streams) == 0 {
		return nil
	}
	return &ns.streams[len(ns.streams)-1]
}

// Pool holds the per-principal namespaces for one session. Namespaces are
// created lazily on first use and live until the modules they loaded are
// invalidated.
type Pool struct {
	bridge  *Bridge
	entries []*Namespace
}

func newPool(b *Bridge) *Pool {
	return &Pool{bridge: b}
}

// Get returns the namespace for the given principal, creating and
// initializing it on first use. A namespace whose loaded modules are out of
// date is discarded and rebuilt.
func (p *Pool) Get(principal string) (*Namespace, error) {
	gen := p.bridge.moduleGeneration()
	for i, ns := range p.entries {
		if ns.principal != principal {
			continue
		}
		if ns.modGen == gen {
			return ns, nil
		}
		p.bridge.logger.System().Debug("discarding stale namespace",
			"principal", principal, "generation", ns.modGen)
		p.entries = append(p.entries[:i], p.entries[i+1:]...)
		break
	}
	return p.create(principal, gen)
}

// Len reports the number of live namespaces.
func (p *Pool) Len() int { return len(p.entries) }

// Has reports whether a namespace exists for the principal.
func (p *Pool) Has(principal string) bool {
	for _, ns := range p.entries {
		if ns.principal == principal {
			return true
		}
	}
	return false
}

func (p *Pool) create(principal string, gen uint64) (*Namespace, error) {
	vm := goja.New()
	ns := &Namespace{
		principal: principal,
		vm:        vm,
		conv:      convert.New(vm),
		bridge:    p.bridge,
		modGen:    gen,
	}

	if err := p.bridge.installCapabilities(ns); err != nil {
		return nil, err
	}
	if err := p.bridge.loadModules(ns); err != nil {
		return nil, err
	}

	// Register before running the start proc so the start proc can invoke
	// functions recursively through this same namespace. A failed start
	// proc removes the registration again, so the next use retries a clean
	// initialization.
	p.entries = append(p.entries, ns)
	if name := p.bridge.cfg.StartProc; name != "" {
		if err := p.bridge.runStartProc(ns, name); err != nil {
			p.remove(ns)
			return nil, plverrors.Wrap(err, plverrors.ErrCodeScriptStartProc,
				"start proc failed").WithField("start_proc", name).Err()
		}
	}

	p.bridge.logger.System().Debug("namespace created", "principal", principal)
	return ns, nil
}

func (p *Pool) remove(target *Namespace) {
	for i, ns := range p.entries {
		if ns == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}
