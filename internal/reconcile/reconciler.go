// Package reconcile runs the one-time local-versus-remote decision at each
// session transition.
//
// Sign-in: the new user identifier is set on the store immediately, so
// mutations made while the reconciliation is in flight are captured as
// queued intents, then the remote plan and recipes are fetched. A non-null
// remote plan wins wholesale; otherwise a surviving local plan is uploaded
// together with every local recipe and custom item. Sign-out purges the
// session, all user-scoped state, and the intent queue.
//
// Transitions are serialized through a single event goroutine, and every
// store write made by an in-flight sign-in is guarded by a generation
// number bumped at each transition. A sign-out therefore always wins: late
// results of an obsolete sign-in are provably discarded.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/remote"
	"github.com/platewise/mealsync/internal/store"
)

// eventType distinguishes session transitions.
type eventType int

const (
	eventSignIn eventType = iota
	eventSignOut
)

// event is one session-provider notification.
type event struct {
	typ    eventType
	userID string
}

// Reconciler applies sign-in and sign-out transitions to the store.
type Reconciler struct {
	store  *store.Store
	client remote.Client
	queue  *queue.Queue
	logger *log.Logger
	errs   chan<- error

	events chan event
	gen    atomic.Int64
	// applyMu makes the generation check and the guarded store write one
	// atomic step, so a sign-out cannot slip between them.
	applyMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the reconciler.
type Config struct {
	// Logger for reconciler activity (default: stderr logger).
	Logger *log.Logger

	// Errors receives reconciliation failures; may be nil.
	Errors chan<- error
}

// New creates a Reconciler. Start must be called before transitions are
// processed.
func New(st *store.Store, client remote.Client, q *queue.Queue, config Config) *Reconciler {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}

	return &Reconciler{
		store:  st,
		client: client,
		queue:  q,
		logger: config.Logger,
		errs:   config.Errors,
		events: make(chan event, 16),
	}
}

// Start launches the event loop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop halts the event loop and waits for in-flight work.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// SignIn requests a none-to-user transition for the given identifier.
// Never blocks; transitions are processed in order.
func (r *Reconciler) SignIn(userID string) {
	r.send(event{typ: eventSignIn, userID: userID})
}

// SignOut requests a user-to-none transition.
// Never blocks; safe to call from sync goroutines.
func (r *Reconciler) SignOut() {
	r.send(event{typ: eventSignOut})
}

func (r *Reconciler) send(ev event) {
	select {
	case r.events <- ev:
	default:
		// A full event buffer means a burst of transitions; the engine
		// cannot safely skip one, so log loudly.
		r.logger.Printf("Warning: dropping session event, buffer full")
	}
}

// run is the single goroutine that serializes session transitions.
func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-r.events:
			switch ev.typ {
			case eventSignIn:
				r.handleSignIn(ctx, ev.userID)
			case eventSignOut:
				r.handleSignOut()
			}
		}
	}
}

// handleSignIn performs the none-to-user reconciliation.
//
// The fetch-and-replace runs on a separate goroutine so a sign-out arriving
// mid-fetch is handled immediately; the generation guard discards the
// obsolete fetch results when it lands.
func (r *Reconciler) handleSignIn(ctx context.Context, userID string) {
	if userID == "" {
		r.logger.Printf("Warning: ignoring sign-in with empty user id")
		return
	}

	gen := r.gen.Add(1)
	localBefore := r.store.Snapshot()

	// Set the user immediately so subsequent mutations are captured for
	// sync, and raise the syncing flag so they buffer in the queue rather
	// than interleave with the replace below.
	r.store.SetSession(store.OriginRemote, model.UserSession{UserID: userID, Syncing: true})

	r.logger.Printf("Reconciling session for user %s", userID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.finish(gen)

		r.reconcile(ctx, gen, userID, localBefore)
	}()
}

// reconcile fetches remote state and applies the ownership decision.
func (r *Reconciler) reconcile(ctx context.Context, gen int64, userID string, localBefore store.State) {
	remotePlan, recipes, err := r.fetchRemote(ctx)
	if err != nil {
		r.logger.Printf("Warning: reconciliation fetch failed: %v", err)
		r.reportError(fmt.Errorf("reconciliation failed: %w", err))
		r.signOutIfRejected(err)
		return
	}

	if remotePlan != nil {
		r.remoteWins(ctx, gen, remotePlan, recipes)
		return
	}

	if localBefore.Plan != nil {
		r.localWins(ctx, gen, userID, localBefore)
		return
	}

	// Nothing on either side beyond recipes: adopt the remote recipe list.
	r.applyIfCurrent(gen, func() {
		r.store.SetRecipes(store.OriginRemote, recipes)
	})
}

// fetchRemote loads the remote plan and recipe list concurrently.
func (r *Reconciler) fetchRemote(ctx context.Context) (*model.MealPlan, []model.Recipe, error) {
	var (
		plan    *model.MealPlan
		recipes []model.Recipe
		planErr error
		recErr  error
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		plan, planErr = r.client.LoadMealPlan(ctx)
	}()
	go func() {
		defer wg.Done()
		recipes, recErr = r.client.LoadUserRecipes(ctx)
	}()
	wg.Wait()

	if planErr != nil {
		return nil, nil, planErr
	}
	if recErr != nil {
		return nil, nil, recErr
	}
	return plan, recipes, nil
}

// remoteWins replaces all local user data with the server's copy.
// Local data that existed before the transition is discarded.
func (r *Reconciler) remoteWins(ctx context.Context, gen int64, plan *model.MealPlan, recipes []model.Recipe) {
	checked, err := r.client.LoadCheckedItems(ctx, plan.ID)
	if err != nil {
		r.reportError(fmt.Errorf("reconciliation failed: %w", err))
		r.signOutIfRejected(err)
		return
	}
	custom, err := r.client.LoadCustomItems(ctx, plan.ID)
	if err != nil {
		r.reportError(fmt.Errorf("reconciliation failed: %w", err))
		r.signOutIfRejected(err)
		return
	}

	if r.applyIfCurrent(gen, func() {
		r.store.ReplaceUserData(store.OriginRemote, plan, recipes, checked, custom)
	}) {
		r.logger.Printf("Remote plan %s adopted", plan.ID)
	}
}

// localWins uploads the surviving local data as independent one-shot
// writes. These are bulk migration writes, not live intents: partial
// completion is acceptable and failures are only surfaced on the error
// channel, never queued for retry.
func (r *Reconciler) localWins(ctx context.Context, gen int64, userID string, local store.State) {
	plan := local.Plan.Clone()
	plan.OwnerID = userID

	saved, err := r.client.SyncMealPlan(ctx, plan)
	if err != nil {
		r.reportError(fmt.Errorf("plan upload failed: %w", err))
		r.signOutIfRejected(err)
		return
	}

	for _, recipe := range local.Recipes {
		if !recipe.UserAuthored() {
			continue
		}
		recipe.OwnerID = userID
		if _, err := r.client.SaveUserRecipe(ctx, recipe); err != nil {
			r.logger.Printf("Warning: recipe upload failed: %v", err)
			r.reportError(fmt.Errorf("recipe %s upload failed: %w", recipe.ID, err))
			if r.signOutIfRejected(err) {
				return
			}
		}
	}

	for _, item := range local.CustomItems {
		if _, err := r.client.AddCustomItem(ctx, saved.ID, item); err != nil {
			r.logger.Printf("Warning: custom item upload failed: %v", err)
			r.reportError(fmt.Errorf("custom item %s upload failed: %w", item.ID, err))
			if r.signOutIfRejected(err) {
				return
			}
		}
	}

	if r.applyIfCurrent(gen, func() {
		r.store.SetPlan(store.OriginRemote, saved)
	}) {
		r.logger.Printf("Local plan %s uploaded", saved.ID)
	}
}

// finish clears the syncing flag, including on error, unless a newer
// transition has superseded this one.
func (r *Reconciler) finish(gen int64) {
	r.applyIfCurrent(gen, func() {
		r.store.SetSyncing(store.OriginRemote, false)
	})
}

// handleSignOut performs the user-to-none transition: invalidate any
// in-flight sign-in, discard queued intents, and purge user-scoped state
// from memory and persisted storage.
func (r *Reconciler) handleSignOut() {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.gen.Add(1)

	if err := r.queue.Purge(); err != nil {
		r.logger.Printf("Warning: failed to purge intent queue: %v", err)
		r.reportError(err)
	}
	r.store.Purge(store.OriginRemote)

	r.logger.Printf("Signed out, user data purged")
}

// signOutIfRejected triggers the sign-out transition when the server has
// rejected the session mid-reconciliation. Returns true when it did.
func (r *Reconciler) signOutIfRejected(err error) bool {
	if !errors.Is(err, remote.ErrUnauthenticated) {
		return false
	}
	r.logger.Printf("Warning: session rejected during reconciliation, signing out")
	r.SignOut()
	return true
}

// applyIfCurrent runs fn only if gen is still the latest transition.
// Returns true when fn ran.
func (r *Reconciler) applyIfCurrent(gen int64, fn func()) bool {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if r.gen.Load() != gen {
		return false
	}
	fn()
	return true
}

func (r *Reconciler) reportError(err error) {
	if r.errs == nil {
		return
	}
	select {
	case r.errs <- err:
	default:
		r.logger.Printf("Warning: error channel full, dropping: %v", err)
	}
}
