// Package realtime maintains the live push subscription for the open plan
// and merges server-pushed changes into the local store.
//
// While a plan identifier and user identifier are both set, the listener
// holds one WebSocket subscription scoped to that plan. Incoming changes
// apply as whole-entity replace for the plan and per-key upsert/delete for
// checked and custom items: last writer wins at item granularity, never a
// field-level merge. When the plan changes the prior subscription is torn
// down before the new one dials, so subscriptions to different plans never
// overlap.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/store"
)

// Message is one server-pushed change notification.
type Message struct {
	Entity string `json:"entity"` // plan, checked, custom
	Action string `json:"action"` // upsert, delete, clear

	Plan    *model.MealPlan    `json:"plan,omitempty"`
	Checked *model.CheckedItem `json:"checked,omitempty"`
	Custom  *model.CustomItem  `json:"custom,omitempty"`

	PlanID string `json:"plan_id,omitempty"`
	ItemID string `json:"item_id,omitempty"`
}

// Listener owns the plan-scoped push subscription.
type Listener struct {
	store  *store.Store
	queue  *queue.Queue
	wsURL  string
	logger *log.Logger

	reconnectDelay time.Duration

	mu      sync.Mutex
	desired string // plan ID the subscription should track, "" for none
	kick    chan struct{}

	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the listener.
type Config struct {
	// URL is the WebSocket endpoint; the plan ID is passed as a query
	// parameter.
	URL string

	// ReconnectDelay is the pause before re-dialing a dropped
	// subscription (default: 5s).
	ReconnectDelay time.Duration

	// Logger for listener activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a Listener. Start must be called before it subscribes.
func New(st *store.Store, q *queue.Queue, config Config) *Listener {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}

	return &Listener{
		store:          st,
		queue:          q,
		wsURL:          config.URL,
		logger:         config.Logger,
		reconnectDelay: config.ReconnectDelay,
		kick:           make(chan struct{}, 1),
	}
}

// Start observes the store for plan and session changes and manages the
// subscription accordingly.
func (l *Listener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.unsub = l.store.Subscribe(func(c store.Change) {
		for _, field := range c.Fields {
			if field == store.FieldPlan || field == store.FieldSession {
				l.retarget(c.State)
				return
			}
		}
	})

	l.retarget(l.store.Snapshot())

	l.wg.Add(1)
	go l.manage(ctx)
}

// Stop tears down the subscription and the manager loop.
func (l *Listener) Stop() {
	if l.unsub != nil {
		l.unsub()
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// retarget records the plan the subscription should track and nudges the
// manager. Never blocks; safe to call from a store observer.
func (l *Listener) retarget(state store.State) {
	planID := ""
	if state.Plan != nil && state.Session.Authenticated() {
		planID = state.Plan.ID
	}

	l.mu.Lock()
	l.desired = planID
	l.mu.Unlock()

	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// manage runs one subscription at a time, tearing the old one down fully
// before dialing for a new plan.
func (l *Listener) manage(ctx context.Context) {
	defer l.wg.Done()

	var (
		current   string
		subCancel context.CancelFunc
		subDone   chan struct{}
	)

	stop := func() {
		if subCancel != nil {
			subCancel()
			<-subDone
			subCancel = nil
		}
		current = ""
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-l.kick:
			l.mu.Lock()
			want := l.desired
			l.mu.Unlock()

			if want == current {
				continue
			}

			stop()
			if want == "" {
				continue
			}

			current = want
			subCtx, cancel := context.WithCancel(ctx)
			subCancel = cancel
			subDone = make(chan struct{})

			go func(planID string, done chan struct{}) {
				defer close(done)
				l.run(subCtx, planID)
			}(want, subDone)
		}
	}
}

// run holds the subscription for one plan, reconnecting until cancelled.
func (l *Listener) run(ctx context.Context, planID string) {
	target := l.wsURL + "?plan=" + url.QueryEscape(planID)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, target, nil)
		if err != nil {
			l.logger.Printf("Warning: subscription dial failed for plan %s: %v", planID, err)
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		l.logger.Printf("Subscribed to plan %s", planID)
		l.read(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if !l.sleep(ctx) {
			return
		}
	}
}

// read consumes messages until the connection drops or ctx is cancelled.
func (l *Listener) read(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Printf("Subscription closed: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Printf("Warning: failed to decode push message: %v", err)
			continue
		}

		l.apply(msg)
	}
}

// apply merges one server-pushed change into the store.
//
// A remote upsert for an identifier with a pending local delete intent is
// dropped: the local delete has not been acknowledged yet, and applying
// the upsert would resurrect data the user already removed.
func (l *Listener) apply(msg Message) {
	switch {
	case msg.Entity == "plan" && msg.Action == "upsert":
		if msg.Plan == nil {
			return
		}
		l.store.SetPlan(store.OriginRemote, msg.Plan)

	case msg.Entity == "checked" && msg.Action == "upsert":
		if msg.Checked == nil {
			return
		}
		if l.queue.HasPendingDelete(model.KindChecked, msg.Checked.PlanID, msg.Checked.ItemID) {
			l.logger.Printf("Ignoring remote check for %s: local uncheck pending", msg.Checked.ItemID)
			return
		}
		l.store.SetChecked(store.OriginRemote, *msg.Checked)

	case msg.Entity == "checked" && msg.Action == "delete":
		l.store.RemoveChecked(store.OriginRemote, msg.PlanID, msg.ItemID)

	case msg.Entity == "checked" && msg.Action == "clear":
		l.store.ClearChecked(store.OriginRemote, msg.PlanID)

	case msg.Entity == "custom" && msg.Action == "upsert":
		if msg.Custom == nil {
			return
		}
		// Custom item ids are global, so the guard ignores the plan.
		if l.queue.HasPendingDelete(model.KindCustom, "", msg.Custom.ID) {
			l.logger.Printf("Ignoring remote item %s: local delete pending", msg.Custom.ID)
			return
		}
		l.store.AddCustomItem(store.OriginRemote, *msg.Custom)

	case msg.Entity == "custom" && msg.Action == "delete":
		l.store.RemoveCustomItem(store.OriginRemote, msg.ItemID)

	default:
		l.logger.Printf("Warning: unknown push message %s/%s", msg.Entity, msg.Action)
	}
}

// sleep pauses before a reconnect attempt. Returns false if cancelled.
func (l *Listener) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.reconnectDelay):
		return true
	}
}
