package model

import (
	"fmt"
	"time"
)

// Ingredient is a single recipe ingredient with a human-style quantity.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"` // "2 cups", "a handful", ""
}

// Recipe is a cookable recipe, either built-in or authored by a user.
//
// BuiltIn marks recipes shipped with the app. User-authored recipes are
// only ever associated with the owning user identifier; while the session
// is anonymous OwnerID stays empty and is assigned at first upload.
type Recipe struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Ingredients []Ingredient `json:"ingredients,omitempty"`
	PrepMinutes int          `json:"prep_minutes,omitempty"`
	CookMinutes int          `json:"cook_minutes,omitempty"`
	CostPence   int          `json:"cost_pence,omitempty"` // estimated cost per serving
	Servings    int          `json:"servings,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"` // attribution for imported recipes
	BuiltIn     bool         `json:"built_in,omitempty"`
	OwnerID     string       `json:"owner_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// UserAuthored reports whether the recipe was created by a user
// rather than shipped as a built-in.
func (r *Recipe) UserAuthored() bool {
	return !r.BuiltIn
}

// Validate checks that the recipe has valid field values.
func (r *Recipe) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("recipe id is required")
	}
	if r.Title == "" {
		return fmt.Errorf("recipe title is required")
	}
	if len(r.Title) > 500 {
		return fmt.Errorf("recipe title must be 500 characters or less (got %d)", len(r.Title))
	}
	if r.PrepMinutes < 0 || r.CookMinutes < 0 {
		return fmt.Errorf("recipe timings cannot be negative")
	}
	if r.CostPence < 0 {
		return fmt.Errorf("recipe cost cannot be negative")
	}
	return nil
}
