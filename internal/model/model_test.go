package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *MealPlan {
	return &MealPlan{
		ID: "plan-1",
		Meals: []Meal{
			{Day: 0, Type: MealBreakfast, RecipeID: "r-1"},
			{Day: 6, Type: MealDinner, RecipeID: "r-2"},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestMealPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MealPlan)
		wantErr string
	}{
		{name: "valid", mutate: func(p *MealPlan) {}},
		{
			name:    "missing id",
			mutate:  func(p *MealPlan) { p.ID = "" },
			wantErr: "plan id is required",
		},
		{
			name:    "day out of range",
			mutate:  func(p *MealPlan) { p.Meals[0].Day = 7 },
			wantErr: "day must be between 0 and 6",
		},
		{
			name:    "negative day",
			mutate:  func(p *MealPlan) { p.Meals[1].Day = -1 },
			wantErr: "day must be between 0 and 6",
		},
		{
			name:    "unknown meal type",
			mutate:  func(p *MealPlan) { p.Meals[0].Type = "brunch" },
			wantErr: "unknown meal type",
		},
		{
			name:    "missing recipe",
			mutate:  func(p *MealPlan) { p.Meals[0].RecipeID = "" },
			wantErr: "recipe_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := validPlan()
			tt.mutate(plan)

			err := plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestMealPlanClone(t *testing.T) {
	var nilPlan *MealPlan
	assert.Nil(t, nilPlan.Clone())

	plan := validPlan()
	plan.Collaborators = []string{"user-2"}

	cp := plan.Clone()
	require.NotNil(t, cp)

	cp.Meals[0].RecipeID = "changed"
	cp.Collaborators[0] = "changed"

	assert.Equal(t, "r-1", plan.Meals[0].RecipeID)
	assert.Equal(t, "user-2", plan.Collaborators[0])
}

func TestRecipeValidate(t *testing.T) {
	recipe := Recipe{ID: "r-1", Title: "Lentil soup"}
	require.NoError(t, recipe.Validate())

	recipe.Title = ""
	assert.ErrorContains(t, recipe.Validate(), "title is required")

	recipe = Recipe{ID: "r-1", Title: "Soup", PrepMinutes: -5}
	assert.ErrorContains(t, recipe.Validate(), "cannot be negative")

	recipe = Recipe{Title: "Soup"}
	assert.ErrorContains(t, recipe.Validate(), "id is required")
}

func TestRecipeUserAuthored(t *testing.T) {
	builtin := Recipe{ID: "r-1", Title: "House lasagne", BuiltIn: true}
	assert.False(t, builtin.UserAuthored())

	// Authored while anonymous: no owner yet, still user content.
	authored := Recipe{ID: "r-2", Title: "Grandma's stew"}
	assert.True(t, authored.UserAuthored())
}

func TestCheckedKey(t *testing.T) {
	item := CheckedItem{PlanID: "plan-1", ItemID: "item-9"}
	assert.Equal(t, "plan-1/item-9", item.Key())
	assert.Equal(t, item.Key(), CheckedKey("plan-1", "item-9"))
}

func TestCustomItemValidate(t *testing.T) {
	item := CustomItem{ID: "c-1", PlanID: "plan-1", Text: "batteries"}
	require.NoError(t, item.Validate())

	item.Text = ""
	assert.ErrorContains(t, item.Validate(), "text is required")
}

func TestNewIntent(t *testing.T) {
	toggle := CheckedToggle{Checked: true, CheckedBy: "user-1"}
	intent, err := NewIntent("user-1", KindChecked, OpUpsert, "item-1", "plan-1", toggle)
	require.NoError(t, err)

	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, "user-1", intent.UserID)
	assert.Equal(t, KindChecked, intent.Kind)
	assert.Equal(t, OpUpsert, intent.Op)
	assert.JSONEq(t, `{"checked":true,"checked_by":"user-1"}`, string(intent.Payload))
	assert.False(t, intent.CreatedAt.IsZero())
	require.NoError(t, intent.Validate())

	// Deletes carry no payload.
	intent, err = NewIntent("user-1", KindRecipe, OpDelete, "r-1", "", nil)
	require.NoError(t, err)
	assert.Nil(t, intent.Payload)
	require.NoError(t, intent.Validate())
}

func TestIntentValidate(t *testing.T) {
	base := func() *SyncIntent {
		intent, err := NewIntent("user-1", KindPlan, OpUpsert, "plan-1", "plan-1", nil)
		if err != nil {
			t.Fatalf("NewIntent failed: %v", err)
		}
		return intent
	}

	intent := base()
	intent.UserID = ""
	assert.ErrorContains(t, intent.Validate(), "user_id is required")

	intent = base()
	intent.Kind = "meal"
	assert.ErrorContains(t, intent.Validate(), "unknown entity kind")

	intent = base()
	intent.Op = "merge"
	assert.ErrorContains(t, intent.Validate(), "unknown intent op")

	// Clear is a checked-items operation only, and needs no entity.
	intent = base()
	intent.Op = OpClear
	assert.ErrorContains(t, intent.Validate(), "only valid for checked items")

	clear, err := NewIntent("user-1", KindChecked, OpClear, "", "plan-1", nil)
	require.NoError(t, err)
	assert.NoError(t, clear.Validate())

	intent = base()
	intent.EntityID = ""
	assert.ErrorContains(t, intent.Validate(), "entity_id is required")
}
