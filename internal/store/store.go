// Package store provides the process-wide client state container.
//
// The store is the single source of truth for the active meal plan, recipe
// list, shopping-list state, connectivity flag, and user session. Every
// mutation is applied atomically, persisted to the snapshot table, and then
// delivered synchronously to subscribers together with the list of changed
// fields and the exact mutations that produced the change.
//
// Mutations carry an Origin so the sync subscriber can tell user edits
// (which must reach the server) apart from server-pushed merges and
// reconciliation writes (which must not be echoed back).
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/storage"
)

// Field names reported in change notifications.
const (
	FieldPlan    = "plan"
	FieldRecipes = "recipes"
	FieldChecked = "checked"
	FieldCustom  = "custom"
	FieldOnline  = "online"
	FieldSession = "session"
)

// Origin identifies where a mutation came from.
type Origin int

const (
	// OriginLocal marks a user-initiated edit that must be synchronized.
	OriginLocal Origin = iota
	// OriginRemote marks a server-pushed merge or reconciliation write.
	OriginRemote
)

// MutOp is the kind of mutation applied to a field.
type MutOp int

const (
	// MutUpsert created or updated one entity.
	MutUpsert MutOp = iota
	// MutDelete removed one entity.
	MutDelete
	// MutClear removed every checked item for a plan.
	MutClear
	// MutReplace overwrote the field wholesale (reconciliation, purge,
	// connectivity and session writes).
	MutReplace
)

// Mutation describes one entity-level change within an update.
// Exactly one of the entity pointers is set for upserts; deletes carry
// only the identifying fields.
type Mutation struct {
	Field    string
	Op       MutOp
	PlanID   string
	EntityID string

	Plan    *model.MealPlan
	Recipe  *model.Recipe
	Checked *model.CheckedItem
	Custom  *model.CustomItem
}

// Change is delivered to subscribers after each update.
//
// State is a copy taken after the update was applied; observers may read
// it freely but must not call back into the store from the callback.
type Change struct {
	Origin    Origin
	Fields    []string
	Mutations []Mutation
	State     State
}

// State is the full client state held by the store.
type State struct {
	Plan        *model.MealPlan              `json:"plan,omitempty"`
	Recipes     []model.Recipe               `json:"recipes,omitempty"`
	Checked     map[string]model.CheckedItem `json:"checked,omitempty"`
	CustomItems []model.CustomItem           `json:"custom_items,omitempty"`
	Online      bool                         `json:"online"`
	Session     model.UserSession            `json:"session"`
}

// clone returns a deep copy safe to hand to observers.
func (s State) clone() State {
	cp := s
	cp.Plan = s.Plan.Clone()
	cp.Recipes = append([]model.Recipe(nil), s.Recipes...)
	cp.CustomItems = append([]model.CustomItem(nil), s.CustomItems...)
	cp.Checked = make(map[string]model.CheckedItem, len(s.Checked))
	for k, v := range s.Checked {
		cp.Checked[k] = v
	}
	return cp
}

type subscriber struct {
	id int
	fn func(Change)
}

// Store is the process-wide mutable state container.
type Store struct {
	storage   *storage.Store
	namespace string
	logger    *log.Logger
	errs      chan<- error

	mu      sync.Mutex
	state   State
	subs    []subscriber
	nextSub int
}

// Open constructs the store and restores the persisted snapshot.
//
// Restore completes before Open returns, so callers can wire the sync
// subscriber and realtime listener afterwards knowing they observe a fully
// rehydrated state. The syncing flag is always cleared on restore; no
// reconciliation survives a process restart.
//
// If logger is nil, a default logger writing to stderr is used. The errs
// channel receives persistence failures; it may be nil.
func Open(st *storage.Store, namespace string, logger *log.Logger, errs chan<- error) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	s := &Store{
		storage:   st,
		namespace: namespace,
		logger:    logger,
		errs:      errs,
		state:     State{Checked: make(map[string]model.CheckedItem)},
	}

	data, ok, err := st.LoadSnapshot(namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	if ok {
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		if s.state.Checked == nil {
			s.state.Checked = make(map[string]model.CheckedItem)
		}
		s.state.Session.Syncing = false
	}

	return s, nil
}

// Subscribe registers an observer called synchronously after each update.
// Observers run in registration order while the update is being committed;
// they must not call back into the store. The returned function removes
// the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// apply runs one atomic update: mutate, persist, notify.
//
// Readers never observe a partially-applied update because the lock is
// held across the mutation and all observer callbacks.
func (s *Store) apply(origin Origin, fields []string, muts []Mutation, fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	s.persistLocked()

	change := Change{
		Origin:    origin,
		Fields:    fields,
		Mutations: muts,
		State:     s.state.clone(),
	}
	for _, sub := range s.subs {
		sub.fn(change)
	}
}

// persistLocked serializes the state to the snapshot table. A persistence
// failure is fatal to persistence only: it is logged and surfaced on the
// error channel but does not block the in-memory update.
func (s *Store) persistLocked() {
	data, err := json.Marshal(s.state)
	if err == nil {
		err = s.storage.SaveSnapshot(s.namespace, data)
	}
	if err != nil {
		s.logger.Printf("Warning: failed to persist snapshot: %v", err)
		s.reportError(fmt.Errorf("snapshot persistence failed: %w", err))
	}
}

func (s *Store) reportError(err error) {
	if s.errs == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
		s.logger.Printf("Warning: error channel full, dropping: %v", err)
	}
}

// SetPlan replaces the active meal plan.
func (s *Store) SetPlan(origin Origin, plan *model.MealPlan) {
	mut := Mutation{Field: FieldPlan, Op: MutUpsert, Plan: plan.Clone()}
	if plan != nil {
		mut.PlanID = plan.ID
		mut.EntityID = plan.ID
	}
	s.apply(origin, []string{FieldPlan}, []Mutation{mut}, func(st *State) {
		st.Plan = plan.Clone()
	})
}

// SetRecipes replaces the whole recipe list.
func (s *Store) SetRecipes(origin Origin, recipes []model.Recipe) {
	s.apply(origin, []string{FieldRecipes},
		[]Mutation{{Field: FieldRecipes, Op: MutReplace}},
		func(st *State) {
			st.Recipes = append([]model.Recipe(nil), recipes...)
		})
}

// UpsertRecipe adds or updates a single recipe by ID.
func (s *Store) UpsertRecipe(origin Origin, recipe model.Recipe) {
	r := recipe
	s.apply(origin, []string{FieldRecipes},
		[]Mutation{{Field: FieldRecipes, Op: MutUpsert, EntityID: r.ID, Recipe: &r}},
		func(st *State) {
			for i := range st.Recipes {
				if st.Recipes[i].ID == r.ID {
					st.Recipes[i] = r
					return
				}
			}
			st.Recipes = append(st.Recipes, r)
		})
}

// RemoveRecipe deletes a recipe by ID. No-op if absent.
func (s *Store) RemoveRecipe(origin Origin, id string) {
	s.apply(origin, []string{FieldRecipes},
		[]Mutation{{Field: FieldRecipes, Op: MutDelete, EntityID: id}},
		func(st *State) {
			for i := range st.Recipes {
				if st.Recipes[i].ID == id {
					st.Recipes = append(st.Recipes[:i], st.Recipes[i+1:]...)
					return
				}
			}
		})
}

// SetChecked marks a shopping-list item as checked.
func (s *Store) SetChecked(origin Origin, item model.CheckedItem) {
	it := item
	s.apply(origin, []string{FieldChecked},
		[]Mutation{{Field: FieldChecked, Op: MutUpsert, PlanID: it.PlanID, EntityID: it.ItemID, Checked: &it}},
		func(st *State) {
			st.Checked[it.Key()] = it
		})
}

// RemoveChecked unchecks a shopping-list item by deleting its key.
// Absence means unchecked; there is no explicit false state.
func (s *Store) RemoveChecked(origin Origin, planID, itemID string) {
	s.apply(origin, []string{FieldChecked},
		[]Mutation{{Field: FieldChecked, Op: MutDelete, PlanID: planID, EntityID: itemID}},
		func(st *State) {
			delete(st.Checked, model.CheckedKey(planID, itemID))
		})
}

// ClearChecked removes every checked item for a plan.
func (s *Store) ClearChecked(origin Origin, planID string) {
	s.apply(origin, []string{FieldChecked},
		[]Mutation{{Field: FieldChecked, Op: MutClear, PlanID: planID}},
		func(st *State) {
			for k, v := range st.Checked {
				if v.PlanID == planID {
					delete(st.Checked, k)
				}
			}
		})
}

// SetCheckedItems replaces the whole checked mapping.
func (s *Store) SetCheckedItems(origin Origin, items map[string]model.CheckedItem) {
	s.apply(origin, []string{FieldChecked},
		[]Mutation{{Field: FieldChecked, Op: MutReplace}},
		func(st *State) {
			st.Checked = make(map[string]model.CheckedItem, len(items))
			for k, v := range items {
				st.Checked[k] = v
			}
		})
}

// AddCustomItem appends a custom shopping-list item.
func (s *Store) AddCustomItem(origin Origin, item model.CustomItem) {
	it := item
	s.apply(origin, []string{FieldCustom},
		[]Mutation{{Field: FieldCustom, Op: MutUpsert, PlanID: it.PlanID, EntityID: it.ID, Custom: &it}},
		func(st *State) {
			for i := range st.CustomItems {
				if st.CustomItems[i].ID == it.ID {
					st.CustomItems[i] = it
					return
				}
			}
			st.CustomItems = append(st.CustomItems, it)
		})
}

// RemoveCustomItem deletes a custom item by ID. No-op if absent.
func (s *Store) RemoveCustomItem(origin Origin, id string) {
	s.apply(origin, []string{FieldCustom},
		[]Mutation{{Field: FieldCustom, Op: MutDelete, EntityID: id}},
		func(st *State) {
			for i := range st.CustomItems {
				if st.CustomItems[i].ID == id {
					st.CustomItems = append(st.CustomItems[:i], st.CustomItems[i+1:]...)
					return
				}
			}
		})
}

// SetCustomItems replaces the whole custom-item list.
func (s *Store) SetCustomItems(origin Origin, items []model.CustomItem) {
	s.apply(origin, []string{FieldCustom},
		[]Mutation{{Field: FieldCustom, Op: MutReplace}},
		func(st *State) {
			st.CustomItems = append([]model.CustomItem(nil), items...)
		})
}

// SetOnline records a connectivity transition. Repeated writes of the same
// value are dropped without notifying observers, so redundant platform
// signals never schedule redundant drains.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	if s.state.Online == online {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.apply(OriginLocal, []string{FieldOnline},
		[]Mutation{{Field: FieldOnline, Op: MutReplace}},
		func(st *State) {
			st.Online = online
		})
}

// SetSession replaces the user session.
func (s *Store) SetSession(origin Origin, session model.UserSession) {
	s.apply(origin, []string{FieldSession},
		[]Mutation{{Field: FieldSession, Op: MutReplace}},
		func(st *State) {
			st.Session = session
		})
}

// SetSyncing flips the reconciliation-in-progress flag.
func (s *Store) SetSyncing(origin Origin, syncing bool) {
	s.apply(origin, []string{FieldSession},
		[]Mutation{{Field: FieldSession, Op: MutReplace}},
		func(st *State) {
			st.Session.Syncing = syncing
		})
}

// ReplaceUserData atomically swaps the plan, recipes, checked mapping, and
// custom items in one update. Used by the reconciler so observers never see
// a half-replaced state.
func (s *Store) ReplaceUserData(origin Origin, plan *model.MealPlan, recipes []model.Recipe,
	checked map[string]model.CheckedItem, custom []model.CustomItem) {

	fields := []string{FieldPlan, FieldRecipes, FieldChecked, FieldCustom}
	muts := []Mutation{
		{Field: FieldPlan, Op: MutReplace},
		{Field: FieldRecipes, Op: MutReplace},
		{Field: FieldChecked, Op: MutReplace},
		{Field: FieldCustom, Op: MutReplace},
	}
	s.apply(origin, fields, muts, func(st *State) {
		st.Plan = plan.Clone()
		st.Recipes = append([]model.Recipe(nil), recipes...)
		st.Checked = make(map[string]model.CheckedItem, len(checked))
		for k, v := range checked {
			st.Checked[k] = v
		}
		st.CustomItems = append([]model.CustomItem(nil), custom...)
	})
}

// Purge clears the session and every user-scoped entity, in memory and in
// persisted storage. Run at sign-out: no user data survives.
func (s *Store) Purge(origin Origin) {
	fields := []string{FieldSession, FieldPlan, FieldRecipes, FieldChecked, FieldCustom}
	muts := []Mutation{
		{Field: FieldSession, Op: MutReplace},
		{Field: FieldPlan, Op: MutReplace},
		{Field: FieldRecipes, Op: MutReplace},
		{Field: FieldChecked, Op: MutReplace},
		{Field: FieldCustom, Op: MutReplace},
	}
	s.apply(origin, fields, muts, func(st *State) {
		st.Session = model.UserSession{}
		st.Plan = nil
		st.Recipes = nil
		st.Checked = make(map[string]model.CheckedItem)
		st.CustomItems = nil
	})
}

// Override replaces the entire state in one update. This is the manual
// state-override entry point for test harnesses; production wiring never
// calls it.
func (s *Store) Override(state State) {
	fields := []string{FieldPlan, FieldRecipes, FieldChecked, FieldCustom, FieldOnline, FieldSession}
	muts := make([]Mutation, 0, len(fields))
	for _, f := range fields {
		muts = append(muts, Mutation{Field: f, Op: MutReplace})
	}
	s.apply(OriginRemote, fields, muts, func(st *State) {
		*st = state.clone()
		if st.Checked == nil {
			st.Checked = make(map[string]model.CheckedItem)
		}
	})
}
