// Package harness provides the manual state-override entry point for test
// harnesses.
//
// When enabled, the watcher monitors a JSON file and replaces the store's
// entire state whenever the file is written. This exists for end-to-end
// test rigs driving the engine from outside the process; production wiring
// must never enable it.
package harness

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platewise/mealsync/internal/store"
)

// Override watches a state file and applies it to the store.
type Override struct {
	store   *store.Store
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewOverride creates the override watcher for the given state file.
// If logger is nil, a default logger writing to stderr is used.
func NewOverride(st *store.Store, path string, logger *log.Logger) (*Override, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[harness] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Override{
		store:   st,
		path:    path,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the override file's directory. If the file already
// exists its contents are applied immediately.
func (o *Override) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("override watcher already running")
	}

	// Watch the directory: editors and test rigs typically replace the
	// file, and a watch on the file itself would be lost with it.
	dir := filepath.Dir(o.path)
	if err := o.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if _, err := os.Stat(o.path); err == nil {
		o.applyFile()
	}

	o.running = true
	o.wg.Add(1)
	go o.processEvents()

	o.logger.Printf("State override armed: %s", o.path)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (o *Override) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	close(o.done)
	if err := o.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	o.wg.Wait()
	return nil
}

func (o *Override) processEvents() {
	defer o.wg.Done()

	for {
		select {
		case <-o.done:
			return

		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if event.Name != o.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				o.applyFile()
			}

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.logger.Printf("Watcher error: %v", err)
		}
	}
}

// applyFile reads the override file and replaces the store state.
func (o *Override) applyFile() {
	data, err := os.ReadFile(o.path)
	if err != nil {
		o.logger.Printf("Warning: failed to read override file: %v", err)
		return
	}

	var state store.State
	if err := json.Unmarshal(data, &state); err != nil {
		o.logger.Printf("Warning: invalid override file: %v", err)
		return
	}

	o.store.Override(state)
	o.logger.Printf("Applied state override")
}
