// Package connectivity tracks whether the server is reachable and records
// transitions on the store's online flag.
//
// Reachability is derived from two inputs: optimistic probing of a probe
// URL on a fixed interval, and platform "became reachable" / "became
// unreachable" notifications injected through Notify. Transitions are
// deduplicated before they hit the store, so repeated online signals never
// schedule redundant drains.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/platewise/mealsync/internal/store"
)

// Monitor owns the store's connectivity flag.
type Monitor struct {
	store    *store.Store
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger

	signals chan bool

	mu      sync.Mutex
	online  bool
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the monitor.
type Config struct {
	// ProbeURL is requested with HEAD to test reachability.
	ProbeURL string

	// Interval is how often to probe (default: 30s).
	Interval time.Duration

	// ProbeTimeout bounds each probe request (default: 5s).
	ProbeTimeout time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a Monitor. Start must be called before it updates the store.
func New(st *store.Store, config Config) *Monitor {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}

	return &Monitor{
		store:    st,
		probeURL: config.ProbeURL,
		interval: config.Interval,
		client:   &http.Client{Timeout: config.ProbeTimeout},
		logger:   config.Logger,
		signals:  make(chan bool, 8),
	}
}

// Start performs an initial probe, writes the result to the store, and
// launches the background loop. The initial state is set synchronously so
// the sync subscriber wires up against a settled connectivity flag.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	initial := m.probe(ctx)
	m.transition(initial)

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop halts the background loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Notify injects a platform connectivity signal.
// Safe to call from any goroutine; never blocks.
func (m *Monitor) Notify(online bool) {
	select {
	case m.signals <- online:
	default:
		// A full signal buffer means a probe or signal is already pending;
		// the next one observed wins anyway.
	}
}

// Online returns the monitor's last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case online := <-m.signals:
			// Platform signals are trusted for "unreachable" but verified
			// for "reachable": a captive portal can report connectivity
			// the server never sees.
			if online {
				online = m.probe(ctx)
			}
			m.transition(online)

		case <-ticker.C:
			m.transition(m.probe(ctx))
		}
	}
}

// transition records a state change, dropping repeats.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if online {
		m.logger.Printf("Connectivity restored")
	} else {
		m.logger.Printf("Connectivity lost")
	}
	m.store.SetOnline(online)
}

// probe issues a HEAD request against the probe URL.
// Any response, including an error status, proves reachability.
func (m *Monitor) probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Printf("Warning: failed to build probe request: %v", err)
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()

	return true
}
