// Package syncer bridges local store changes to the remote store.
//
// The syncer observes every store update, derives the minimal remote
// operation implied by each local mutation, and records it as a sync
// intent. When the engine is online and no reconciliation is in flight the
// intent is pushed immediately by draining the queue; otherwise it stays
// queued until the next connectivity or session event. Routing every
// mutation through the queue keeps per-entity ordering and makes a failed
// live call identical to an offline one: it is simply retried on the next
// drain.
//
// Local state is always the optimistic truth. Remote failures are surfaced
// on the error channel and never roll back a local mutation.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/remote"
	"github.com/platewise/mealsync/internal/store"
)

// Syncer is the sync subscriber.
type Syncer struct {
	store  *store.Store
	queue  *queue.Queue
	logger *log.Logger
	errs   chan<- error

	// signOut is invoked when a remote call reports the session is no
	// longer valid. Wired to the reconciler's sign-out request.
	signOut func()

	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the syncer.
type Config struct {
	// Logger for syncer activity (default: stderr logger).
	Logger *log.Logger

	// Errors receives background sync failures; may be nil.
	Errors chan<- error

	// SignOut is called when the server reports the session expired.
	SignOut func()
}

// New creates a Syncer. Start must be called to begin observing.
func New(st *store.Store, q *queue.Queue, config Config) *Syncer {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	if config.SignOut == nil {
		config.SignOut = func() {}
	}

	return &Syncer{
		store:   st,
		queue:   q,
		logger:  config.Logger,
		errs:    config.Errors,
		signOut: config.SignOut,
	}
}

// Start subscribes to the store and, when the restored state is already
// online and authenticated, triggers an initial drain of intents that
// survived the last process run.
func (s *Syncer) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.unsub = s.store.Subscribe(s.handleChange)

	snap := s.store.Snapshot()
	if snap.Online && snap.Session.Authenticated() && !snap.Session.Syncing {
		s.triggerDrain(snap.Session.UserID)
	}
}

// Stop unsubscribes and waits for in-flight drains to finish.
func (s *Syncer) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// handleChange runs synchronously inside each store update.
func (s *Syncer) handleChange(c store.Change) {
	drain := false

	for _, field := range c.Fields {
		switch field {
		case store.FieldOnline:
			if c.State.Online {
				drain = true
			}
		case store.FieldSession:
			// Reconciliation finished (or a restored session came back):
			// flush anything buffered while it ran.
			if c.State.Session.Authenticated() && !c.State.Session.Syncing {
				drain = true
			}
		}
	}

	if c.Origin == store.OriginLocal && c.State.Session.Authenticated() {
		if s.forwardMutations(c) {
			// Live path: push now unless offline or a reconciliation is
			// in flight, in which case the intents stay buffered.
			if c.State.Online && !c.State.Session.Syncing {
				drain = true
			}
		}
	}

	if drain && c.State.Online && c.State.Session.Authenticated() && !c.State.Session.Syncing {
		s.triggerDrain(c.State.Session.UserID)
	}
}

// forwardMutations turns local entity mutations into queued intents.
// Returns true if at least one intent was queued.
func (s *Syncer) forwardMutations(c store.Change) bool {
	queued := false
	for _, mut := range c.Mutations {
		intent, err := s.intentFor(c.State.Session.UserID, mut)
		if err != nil {
			s.logger.Printf("Warning: failed to build intent for %s: %v", mut.Field, err)
			s.reportError(err)
			continue
		}
		if intent == nil {
			continue
		}

		if err := s.queue.Enqueue(intent); err != nil {
			s.logger.Printf("Warning: failed to queue intent: %v", err)
			s.reportError(err)
			continue
		}
		queued = true
	}
	return queued
}

// intentFor derives the minimal remote operation implied by one mutation.
// Returns (nil, nil) for mutations that carry no remote operation, such as
// connectivity or session writes and wholesale replaces.
func (s *Syncer) intentFor(userID string, mut store.Mutation) (*model.SyncIntent, error) {
	switch {
	case mut.Field == store.FieldPlan && mut.Op == store.MutUpsert:
		if mut.Plan == nil {
			return nil, nil
		}
		return model.NewIntent(userID, model.KindPlan, model.OpUpsert, mut.Plan.ID, mut.Plan.ID, mut.Plan)

	case mut.Field == store.FieldRecipes && mut.Op == store.MutUpsert:
		return model.NewIntent(userID, model.KindRecipe, model.OpUpsert, mut.Recipe.ID, "", mut.Recipe)

	case mut.Field == store.FieldRecipes && mut.Op == store.MutDelete:
		return model.NewIntent(userID, model.KindRecipe, model.OpDelete, mut.EntityID, "", nil)

	case mut.Field == store.FieldChecked && mut.Op == store.MutUpsert:
		toggle := model.CheckedToggle{Checked: true, CheckedBy: mut.Checked.CheckedBy}
		return model.NewIntent(userID, model.KindChecked, model.OpUpsert, mut.EntityID, mut.PlanID, toggle)

	case mut.Field == store.FieldChecked && mut.Op == store.MutDelete:
		return model.NewIntent(userID, model.KindChecked, model.OpDelete, mut.EntityID, mut.PlanID, nil)

	case mut.Field == store.FieldChecked && mut.Op == store.MutClear:
		return model.NewIntent(userID, model.KindChecked, model.OpClear, "", mut.PlanID, nil)

	case mut.Field == store.FieldCustom && mut.Op == store.MutUpsert:
		return model.NewIntent(userID, model.KindCustom, model.OpUpsert, mut.EntityID, mut.PlanID, mut.Custom)

	case mut.Field == store.FieldCustom && mut.Op == store.MutDelete:
		return model.NewIntent(userID, model.KindCustom, model.OpDelete, mut.EntityID, "", nil)
	}

	return nil, nil
}

// triggerDrain schedules an asynchronous queue drain. The queue itself
// collapses concurrent drains, so over-triggering is harmless.
func (s *Syncer) triggerDrain(userID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.queue.Drain(s.ctx, userID)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}

		if errors.Is(err, remote.ErrUnauthenticated) {
			s.logger.Printf("Session expired during drain, signing out")
			s.reportError(err)
			s.signOut()
			return
		}

		s.logger.Printf("Warning: drain failed, intents remain queued: %v", err)
		s.reportError(fmt.Errorf("drain failed: %w", err))
	}()
}

func (s *Syncer) reportError(err error) {
	if s.errs == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
		s.logger.Printf("Warning: error channel full, dropping: %v", err)
	}
}
