// Package engine wires the sync components into one runnable unit.
//
// Construction restores the persisted snapshot before anything observes
// the store; Start then wires the components in dependency order, with the
// connectivity monitor last so its initial probe lands on a fully wired
// subscriber.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/platewise/mealsync/internal/connectivity"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/realtime"
	"github.com/platewise/mealsync/internal/reconcile"
	"github.com/platewise/mealsync/internal/remote"
	"github.com/platewise/mealsync/internal/storage"
	"github.com/platewise/mealsync/internal/store"
	"github.com/platewise/mealsync/internal/syncer"
)

// Config configures the engine.
type Config struct {
	// Client executes remote operations. Required.
	Client remote.Client

	// StoragePath is the SQLite file for snapshot and intents. Required.
	StoragePath string

	// Namespace keys the persisted data (default: "default").
	Namespace string

	// ProbeURL tests server reachability; empty disables probing, which
	// keeps the engine in offline mode until Notify is called.
	ProbeURL string

	// ProbeInterval is how often to probe (default: 30s).
	ProbeInterval time.Duration

	// RealtimeURL is the WebSocket push endpoint; empty disables the
	// realtime listener.
	RealtimeURL string

	// Logger is the base logger; component loggers derive from its
	// writer (default: stderr).
	Logger *log.Logger
}

// Engine owns the full local-first sync stack.
type Engine struct {
	storage    *storage.Store
	store      *store.Store
	queue      *queue.Queue
	syncer     *syncer.Syncer
	monitor    *connectivity.Monitor
	reconciler *reconcile.Reconciler
	listener   *realtime.Listener

	errs   chan error
	logger *log.Logger
}

// New constructs the engine and restores persisted state. The store is
// fully rehydrated when New returns; nothing subscribes until Start.
func New(config Config) (*Engine, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if config.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if config.Namespace == "" {
		config.Namespace = "default"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	st, err := storage.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	errs := make(chan error, 64)
	w := config.Logger.Writer()

	localStore, err := store.Open(st, config.Namespace, log.New(w, "[store] ", log.LstdFlags), errs)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	q := queue.New(st, config.Namespace, config.Client, log.New(w, "[queue] ", log.LstdFlags))

	rec := reconcile.New(localStore, config.Client, q, reconcile.Config{
		Logger: log.New(w, "[reconcile] ", log.LstdFlags),
		Errors: errs,
	})

	sy := syncer.New(localStore, q, syncer.Config{
		Logger:  log.New(w, "[syncer] ", log.LstdFlags),
		Errors:  errs,
		SignOut: rec.SignOut,
	})

	mon := connectivity.New(localStore, connectivity.Config{
		ProbeURL: config.ProbeURL,
		Interval: config.ProbeInterval,
		Logger:   log.New(w, "[connectivity] ", log.LstdFlags),
	})

	var listener *realtime.Listener
	if config.RealtimeURL != "" {
		listener = realtime.New(localStore, q, realtime.Config{
			URL:    config.RealtimeURL,
			Logger: log.New(w, "[realtime] ", log.LstdFlags),
		})
	}

	return &Engine{
		storage:    st,
		store:      localStore,
		queue:      q,
		syncer:     sy,
		monitor:    mon,
		reconciler: rec,
		listener:   listener,
		errs:       errs,
		logger:     config.Logger,
	}, nil
}

// Start wires the components. The monitor starts last: its synchronous
// initial probe flips the online flag after the syncer is subscribed, so a
// restart while online drains leftover intents immediately.
func (e *Engine) Start(ctx context.Context) {
	e.reconciler.Start(ctx)
	e.syncer.Start(ctx)
	if e.listener != nil {
		e.listener.Start(ctx)
	}
	e.monitor.Start(ctx)
	e.logger.Printf("Engine started")
}

// Stop tears the components down in reverse order and closes storage.
func (e *Engine) Stop() error {
	e.monitor.Stop()
	if e.listener != nil {
		e.listener.Stop()
	}
	e.syncer.Stop()
	e.reconciler.Stop()

	if err := e.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	e.logger.Printf("Engine stopped")
	return nil
}

// Store exposes the state container for UI rendering: read-only snapshots
// and change subscriptions.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Queue exposes the intent queue for inspection commands.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Errors is the engine-wide error channel for background sync failures.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// SignIn forwards a sign-in-complete notification from the session
// provider.
func (e *Engine) SignIn(userID string) {
	e.reconciler.SignIn(userID)
}

// SignOut forwards a sign-out-complete notification.
func (e *Engine) SignOut() {
	e.reconciler.SignOut()
}

// NotifyConnectivity injects a platform connectivity signal.
func (e *Engine) NotifyConnectivity(online bool) {
	e.monitor.Notify(online)
}
