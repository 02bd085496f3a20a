// Package modlib loads a directory of JavaScript library files into script
// namespaces and invalidates those namespaces when the files change on
// disk.
package modlib

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/fsnotify/fsnotify"

	plverrors "github.com/Ginden/plv8/pkg/errors"
	"github.com/Ginden/plv8/pkg/log"
)

// DefaultDebounce is how long the watcher waits after the last filesystem
// event before bumping the generation. Editors fire bursts of events per
// save.
const DefaultDebounce = 250 * time.Millisecond

type module struct {
	name string
	prog *goja.Program
}

// Library is a directory of .js files evaluated into every new namespace,
// in lexical filename order. Generation advances whenever the directory
// content changes, so namespaces built against stale modules get rebuilt.
type Library struct {
	mu       sync.Mutex
	dir      string
	logger   *log.Logger
	gen      uint64
	loadedAt uint64
	modules  []module

	watcher  *fsnotify.Watcher
	debounce time.Duration
	timer    *time.Timer
	done     chan struct{}
}

// New creates a library over dir. The directory must exist; files are read
// lazily on first load.
func New(dir string, logger *log.Logger) (*Library, error) {
	if logger == nil {
		logger = log.Default()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeConfigInvalid,
			"module directory not accessible").WithField("dir", dir).Err()
	}
	if !info.IsDir() {
		return nil, plverrors.Newf(plverrors.ErrCodeConfigInvalid,
			"module path is not a directory: %s", dir).Err()
	}
	return &Library{
		dir:      dir,
		logger:   logger,
		gen:      1,
		debounce: DefaultDebounce,
	}, nil
}

// Generation returns the current library generation.
func (l *Library) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// Invalidate advances the generation by hand. The watcher calls this on
// file changes; tests and reload commands may call it directly.
func (l *Library) Invalidate() {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()
	l.logger.System().Debug("module library invalidated", "generation", gen)
}

// LoadInto evaluates every module into the runtime, in lexical filename
// order. Compiled programs are cached per generation; each runtime gets
// its own evaluation.
func (l *Library) LoadInto(vm *goja.Runtime) error {
	l.mu.Lock()
	if l.loadedAt != l.gen {
		mods, err := l.compileAll()
		if err != nil {
			l.mu.Unlock()
			return err
		}
		l.modules = mods
		l.loadedAt = l.gen
	}
	mods := l.modules
	l.mu.Unlock()

	for _, m := range mods {
		if _, err := vm.RunProgram(m.prog); err != nil {
			return plverrors.Wrap(err, plverrors.ErrCodeFuncCompile,
				"module evaluation failed").WithField("module", m.name).Err()
		}
	}
	return nil
}

func (l *Library) compileAll() ([]module, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, plverrors.Wrap(err, plverrors.ErrCodeConfigInvalid,
			"cannot read module directory").WithField("dir", l.dir).Err()
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".js") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	mods := make([]module, 0, len(names))
	for _, name := range names {
		src, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			return nil, plverrors.Wrap(err, plverrors.ErrCodeConfigInvalid,
				"cannot read module file").WithField("module", name).Err()
		}
		prog, err := goja.Compile(name, string(src), false)
		if err != nil {
			return nil, plverrors.Wrap(err, plverrors.ErrCodeFuncCompile,
				"module compile failed").WithField("module", name).Err()
		}
		mods = append(mods, module{name: name, prog: prog})
	}

	l.logger.System().Debug("module library compiled",
		"dir", l.dir, "modules", len(mods))
	return mods, nil
}

// Watch starts a filesystem watcher on the module directory. Change bursts
// are debounced into a single generation bump.
func (l *Library) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return plverrors.Wrap(err, plverrors.ErrCodeInternal,
			"failed to create module watcher").Err()
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return plverrors.Wrap(err, plverrors.ErrCodeConfigInvalid,
			"failed to watch module directory").WithField("dir", l.dir).Err()
	}

	l.watcher = w
	l.done = make(chan struct{})
	go l.watchLoop(w, l.done)
	l.logger.System().Info("watching module directory", "dir", l.dir)
	return nil
}

func (l *Library) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".js") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.scheduleInvalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.System().Warn("module watcher error", "error", err)
		case <-done:
			return
		}
	}
}

func (l *Library) scheduleInvalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.debounce, l.Invalidate)
}

// Close stops the watcher, if running.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	err := l.watcher.Close()
	l.watcher = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	return err
}
