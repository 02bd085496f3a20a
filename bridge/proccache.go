package bridge

import (
	"context"
	"sync"

	"github.com/dop251/goja"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/storage"
)

// CompiledProcedure is a function compiled into a principal's namespace.
// It stays usable across transactions; only the execution environments
// binding it are transaction-scoped.
type CompiledProcedure struct {
	OID      int64
	Name     string
	ArgTypes []storage.TypeID
	RetType  storage.TypeID
	RetSet   bool
	Trigger  bool

	ns       *Namespace
	fn       goja.Callable
	value    goja.Value
	source   string
	releases int
}

// Namespace returns the namespace the procedure was compiled in.
func (p *CompiledProcedure) Namespace() *Namespace { return p.ns }

// Releases reports how many times the compiled form has been released.
// A procedure evicted by a freshness check is released exactly once.
func (p *CompiledProcedure) Releases() int { return p.releases }

// Released reports whether the compiled form was released. A released
// procedure must never be invoked; bindings holding one rebind through the
// cache.
func (p *CompiledProcedure) Released() bool { return p.fn == nil }

func (p *CompiledProcedure) release() {
	p.releases++
	p.fn = nil
	p.value = nil
}

type cacheEntry struct {
	fingerprint storage.Fingerprint
	proc        *CompiledProcedure
}

// ProcCache caches compiled procedures by catalog OID. Each resolution
// compares the catalog's current fingerprint against the cached one and
// recompiles when the definition moved underneath the cache or a module
// reload invalidated the namespace the procedure was compiled into.
type ProcCache struct {
	mu      sync.Mutex
	bridge  *Bridge
	entries map[int64]*cacheEntry
}

func newProcCache(b *Bridge) *ProcCache {
	return &ProcCache{
		bridge:  b,
		entries: make(map[int64]*cacheEntry),
	}
}

// Len reports the number of cached entries.
func (c *ProcCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Resolve returns the compiled procedure for oid, compiling it into the
// principal's namespace if the cache has no fresh copy.
func (c *ProcCache) Resolve(ctx context.Context, oid int64, principal string) (*CompiledProcedure, error) {
	meta, err := c.bridge.catalog.Lookup(ctx, oid)
	if err != nil {
		return nil, captureHostError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := meta.CurrentFingerprint(principal)
	gen := c.bridge.moduleGeneration()
	entry := c.entries[oid]
	if entry != nil && entry.proc != nil && entry.fingerprint.Equal(current) &&
		entry.proc.ns.modGen == gen {
		return entry.proc, nil
	}

	if entry != nil && entry.proc != nil {
		c.bridge.logger.Execution().Debug("procedure definition or modules changed, recompiling",
			"oid", oid, "name", meta.Name)
		entry.proc.release()
		entry.proc = nil
	}

	if err := checkSignature(meta); err != nil {
		return nil, captureHostError(err)
	}

	ns, err := c.bridge.pool.Get(principal)
	if err != nil {
		return nil, err
	}

	proc, err := compileProcedure(ns, meta)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		entry = &cacheEntry{}
		c.entries[oid] = entry
	}
	entry.fingerprint = current
	entry.proc = proc
	return proc, nil
}

// Evict drops the cache entry for oid, releasing any compiled form.
func (c *ProcCache) Evict(oid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[oid]; ok {
		if entry.proc != nil {
			entry.proc.release()
		}
		delete(c.entries, oid)
	}
}

// checkSignature rejects pseudo-types the bridge cannot convert. Trigger,
// void and record returns are allowed; everything pseudo is rejected as an
// argument. The check runs at definition-validate time and again whenever
// a stale entry is recompiled.
func checkSignature(meta *storage.FunctionMeta) error {
	if meta.RetType.IsPseudo() &&
		meta.RetType != storage.TypeTrigger &&
		meta.RetType != storage.TypeVoid &&
		meta.RetType != storage.TypeRecord {
		return plverrors.Newf(plverrors.ErrCodeFuncUnsupportedRet,
			"javascript functions cannot return type %s", meta.RetType).
			WithField("function", meta.Name).Err()
	}
	for _, at := range meta.ArgTypes {
		if at.IsPseudo() {
			return plverrors.Newf(plverrors.ErrCodeFuncUnsupportedArg,
				"javascript functions cannot accept type %s", at).
				WithField("function", meta.Name).Err()
		}
	}
	return nil
}
