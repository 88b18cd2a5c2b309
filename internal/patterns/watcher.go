package patterns

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"mlc/internal/logging"
)

// Table is a hot-reloadable rule table. Reads never block writers for
// long: Rules returns the current snapshot, and the fsnotify watcher
// swaps in a new snapshot between compilations.
type Table struct {
	mu    sync.RWMutex
	rules []Rule
	path  string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewTable builds a table from the embedded defaults.
func NewTable() *Table {
	return &Table{rules: DefaultRules()}
}

// NewTableFromFile loads the table from a YAML file and, when watch is
// set, re-loads it whenever the file changes. A reload that fails keeps
// the previous snapshot.
func NewTableFromFile(path string, watch bool) (*Table, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	t := &Table{rules: rules, path: path}
	if watch {
		if err := t.startWatcher(); err != nil {
			logging.Patterns("rule table watcher unavailable: %v", err)
		}
	}
	return t, nil
}

// Rules returns the current rule snapshot.
func (t *Table) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rules
}

func (t *Table) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(t.path); err != nil {
		w.Close()
		return err
	}
	t.watcher = w
	t.done = make(chan struct{})
	go t.watchLoop()
	return nil
}

func (t *Table) watchLoop() {
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rules, err := LoadRules(t.path)
			if err != nil {
				logging.Patterns("rule table reload failed, keeping previous: %v", err)
				continue
			}
			t.mu.Lock()
			t.rules = rules
			t.mu.Unlock()
			logging.Patterns("rule table reloaded: %d rules", len(rules))
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		case <-t.done:
			return
		}
	}
}

// Close stops the watcher. Safe on tables without one.
func (t *Table) Close() {
	if t.watcher != nil {
		close(t.done)
		t.watcher.Close()
		t.watcher = nil
	}
}
