// Package remotetest provides an in-memory remote.Client for tests.
//
// The fake records every call in order, keeps a server-side copy of the
// entities, and can be scripted to fail or block individual operations.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/remote"
)

// Call records one remote operation.
type Call struct {
	Op       string
	EntityID string
	PlanID   string
	Checked  bool
}

// Fake is a scriptable in-memory remote.Client.
type Fake struct {
	mu sync.Mutex

	calls []Call

	// Server-side state.
	Plan        *model.MealPlan
	Recipes     map[string]model.Recipe
	CheckedMap  map[string]model.CheckedItem
	CustomItems map[string]model.CustomItem

	// Fail makes the named ops return the given error.
	Fail map[string]error

	// Gate blocks the named ops until the channel is closed, to simulate
	// slow calls racing other transitions.
	Gate map[string]chan struct{}
}

// New creates an empty fake server.
func New() *Fake {
	return &Fake{
		Recipes:     make(map[string]model.Recipe),
		CheckedMap:  make(map[string]model.CheckedItem),
		CustomItems: make(map[string]model.CustomItem),
		Fail:        make(map[string]error),
		Gate:        make(map[string]chan struct{}),
	}
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops returns just the operation names, in call order.
func (f *Fake) Ops() []string {
	calls := f.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// FailWith scripts op to fail with a retryable remote error.
func (f *Fake) FailWith(op, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail[op] = remote.NewError(op, message, nil)
}

// ClearFailures removes all scripted failures.
func (f *Fake) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail = make(map[string]error)
}

// begin records the call and applies scripted gates and failures.
func (f *Fake) begin(ctx context.Context, call Call) error {
	f.mu.Lock()
	gate := f.Gate[call.Op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if err := f.Fail[call.Op]; err != nil {
		return err
	}
	return nil
}

// LoadMealPlan implements remote.Client.
func (f *Fake) LoadMealPlan(ctx context.Context) (*model.MealPlan, error) {
	if err := f.begin(ctx, Call{Op: "loadMealPlan"}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Plan.Clone(), nil
}

// SyncMealPlan implements remote.Client.
func (f *Fake) SyncMealPlan(ctx context.Context, plan *model.MealPlan) (*model.MealPlan, error) {
	if err := f.begin(ctx, Call{Op: "syncMealPlan", EntityID: plan.ID, PlanID: plan.ID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Plan = plan.Clone()
	return f.Plan.Clone(), nil
}

// LoadUserRecipes implements remote.Client.
func (f *Fake) LoadUserRecipes(ctx context.Context) ([]model.Recipe, error) {
	if err := f.begin(ctx, Call{Op: "loadUserRecipes"}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var recipes []model.Recipe
	for _, r := range f.Recipes {
		recipes = append(recipes, r)
	}
	return recipes, nil
}

// SaveUserRecipe implements remote.Client.
func (f *Fake) SaveUserRecipe(ctx context.Context, recipe model.Recipe) (*model.Recipe, error) {
	if err := f.begin(ctx, Call{Op: "saveUserRecipe", EntityID: recipe.ID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Recipes[recipe.ID] = recipe
	saved := recipe
	return &saved, nil
}

// DeleteUserRecipe implements remote.Client.
func (f *Fake) DeleteUserRecipe(ctx context.Context, id string) error {
	if err := f.begin(ctx, Call{Op: "deleteUserRecipe", EntityID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Recipes, id)
	return nil
}

// LoadCheckedItems implements remote.Client.
func (f *Fake) LoadCheckedItems(ctx context.Context, planID string) (map[string]model.CheckedItem, error) {
	if err := f.begin(ctx, Call{Op: "loadCheckedItems", PlanID: planID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	checked := make(map[string]model.CheckedItem, len(f.CheckedMap))
	for k, v := range f.CheckedMap {
		checked[k] = v
	}
	return checked, nil
}

// ToggleCheckedItem implements remote.Client.
func (f *Fake) ToggleCheckedItem(ctx context.Context, planID, itemID string, checked bool, who string) error {
	if err := f.begin(ctx, Call{Op: "toggleCheckedItem", EntityID: itemID, PlanID: planID, Checked: checked}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.CheckedKey(planID, itemID)
	if checked {
		f.CheckedMap[key] = model.CheckedItem{PlanID: planID, ItemID: itemID, CheckedBy: who}
	} else {
		delete(f.CheckedMap, key)
	}
	return nil
}

// ClearCheckedItems implements remote.Client.
func (f *Fake) ClearCheckedItems(ctx context.Context, planID string) error {
	if err := f.begin(ctx, Call{Op: "clearCheckedItems", PlanID: planID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range f.CheckedMap {
		if v.PlanID == planID {
			delete(f.CheckedMap, k)
		}
	}
	return nil
}

// LoadCustomItems implements remote.Client.
func (f *Fake) LoadCustomItems(ctx context.Context, planID string) ([]model.CustomItem, error) {
	if err := f.begin(ctx, Call{Op: "loadCustomItems", PlanID: planID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []model.CustomItem
	for _, it := range f.CustomItems {
		if it.PlanID == planID {
			items = append(items, it)
		}
	}
	return items, nil
}

// AddCustomItem implements remote.Client.
func (f *Fake) AddCustomItem(ctx context.Context, planID string, item model.CustomItem) (*model.CustomItem, error) {
	if err := f.begin(ctx, Call{Op: "addCustomItem", EntityID: item.ID, PlanID: planID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item.PlanID = planID
	f.CustomItems[item.ID] = item
	saved := item
	return &saved, nil
}

// RemoveCustomItem implements remote.Client.
func (f *Fake) RemoveCustomItem(ctx context.Context, id string) error {
	if err := f.begin(ctx, Call{Op: "removeCustomItem", EntityID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.CustomItems, id)
	return nil
}

// Sanity check that Fake satisfies the interface.
var _ remote.Client = (*Fake)(nil)

// String aids debugging failed assertions.
func (c Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Op, c.EntityID)
}
