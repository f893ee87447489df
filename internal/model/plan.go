// Package model defines the entity types shared by the sync engine.
// All other packages depend on model; model depends on nothing else in this module.
package model

import (
	"fmt"
	"time"
)

// MealType identifies the slot a meal occupies within a day.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// Meal assigns a recipe to a (day, slot) position in a plan.
type Meal struct {
	// Day is the zero-based day index within the plan week (0 = Monday).
	Day int `json:"day"`

	// Type is the meal slot (breakfast, lunch, dinner, snack).
	Type MealType `json:"type"`

	// RecipeID references the recipe to cook.
	RecipeID string `json:"recipe_id"`
}

// MealPlan is a week of meals shared between an owner and collaborators.
//
// The plan identifier is stable once created; collaborators join through
// the share code. At most one plan is active per session.
type MealPlan struct {
	ID            string    `json:"id"`
	Meals         []Meal    `json:"meals"`
	OwnerID       string    `json:"owner_id,omitempty"`
	Collaborators []string  `json:"collaborators,omitempty"`
	ShareCode     string    `json:"share_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks that the plan has valid field values.
func (p *MealPlan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	for i, m := range p.Meals {
		if m.Day < 0 || m.Day > 6 {
			return fmt.Errorf("meal %d: day must be between 0 and 6 (got %d)", i, m.Day)
		}
		switch m.Type {
		case MealBreakfast, MealLunch, MealDinner, MealSnack:
		default:
			return fmt.Errorf("meal %d: unknown meal type %q", i, m.Type)
		}
		if m.RecipeID == "" {
			return fmt.Errorf("meal %d: recipe_id is required", i)
		}
	}
	return nil
}

// Clone returns a deep copy of the plan.
func (p *MealPlan) Clone() *MealPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Meals = append([]Meal(nil), p.Meals...)
	cp.Collaborators = append([]string(nil), p.Collaborators...)
	return &cp
}
