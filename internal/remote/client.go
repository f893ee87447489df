// Package remote defines the boundary to the server: one interface with an
// operation per remote read or write, and the error taxonomy the engine
// keys its retry behavior on.
//
// All calls fail with ErrUnauthenticated when no valid session exists and
// with *Error on any network or server failure. The engine treats both
// uniformly as retry-later, except ErrUnauthenticated which triggers the
// sign-out transition instead.
package remote

import (
	"context"

	"github.com/platewise/mealsync/internal/model"
)

// Client executes a single remote read or write per call.
//
// Implementations must be safe for concurrent use; the queue drain, the
// reconciler's fetches, and live mutation sends may overlap.
type Client interface {
	// LoadMealPlan returns the remote plan for the authenticated user,
	// or (nil, nil) when the user has no remote plan.
	LoadMealPlan(ctx context.Context) (*model.MealPlan, error)

	// SyncMealPlan upserts the given plan remotely and returns the
	// server's copy.
	SyncMealPlan(ctx context.Context, plan *model.MealPlan) (*model.MealPlan, error)

	// LoadUserRecipes returns the user's authored recipes.
	LoadUserRecipes(ctx context.Context) ([]model.Recipe, error)

	// SaveUserRecipe upserts a recipe and returns the server's copy.
	SaveUserRecipe(ctx context.Context, recipe model.Recipe) (*model.Recipe, error)

	// DeleteUserRecipe removes a recipe by ID. Idempotent.
	DeleteUserRecipe(ctx context.Context, id string) error

	// LoadCheckedItems returns the checked mapping for a plan, keyed by
	// model.CheckedKey.
	LoadCheckedItems(ctx context.Context, planID string) (map[string]model.CheckedItem, error)

	// ToggleCheckedItem sets the final checked state of one item.
	ToggleCheckedItem(ctx context.Context, planID, itemID string, checked bool, who string) error

	// ClearCheckedItems removes every checked item for a plan.
	ClearCheckedItems(ctx context.Context, planID string) error

	// LoadCustomItems returns the custom shopping-list items for a plan.
	LoadCustomItems(ctx context.Context, planID string) ([]model.CustomItem, error)

	// AddCustomItem upserts a custom item and returns the server's copy.
	AddCustomItem(ctx context.Context, planID string, item model.CustomItem) (*model.CustomItem, error)

	// RemoveCustomItem removes a custom item by ID. Idempotent.
	RemoveCustomItem(ctx context.Context, id string) error
}
