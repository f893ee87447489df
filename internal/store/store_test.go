package store

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/storage"
)

const testNS = "default"

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

// setupStore opens a store over a fresh temporary database.
func setupStore(t *testing.T) *Store {
	t.Helper()

	st, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	s, err := Open(st, testNS, testLogger(), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func testPlan(id string) *model.MealPlan {
	return &model.MealPlan{
		ID:        id,
		Meals:     []model.Meal{{Day: 0, Type: model.MealDinner, RecipeID: "r-1"}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestSetPlanNotifiesSubscribers(t *testing.T) {
	s := setupStore(t)

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	s.SetPlan(OriginLocal, testPlan("plan-1"))

	require.Len(t, got, 1)
	assert.Equal(t, OriginLocal, got[0].Origin)
	assert.Equal(t, []string{FieldPlan}, got[0].Fields)
	require.Len(t, got[0].Mutations, 1)
	assert.Equal(t, MutUpsert, got[0].Mutations[0].Op)
	assert.Equal(t, "plan-1", got[0].Mutations[0].EntityID)
	require.NotNil(t, got[0].State.Plan)
	assert.Equal(t, "plan-1", got[0].State.Plan.ID)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := setupStore(t)

	count := 0
	unsub := s.Subscribe(func(Change) { count++ })

	s.SetOnline(true)
	unsub()
	s.SetOnline(false)

	assert.Equal(t, 1, count)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := setupStore(t)
	s.SetPlan(OriginLocal, testPlan("plan-1"))

	snap := s.Snapshot()
	snap.Plan.ID = "mutated"
	snap.Checked["x"] = model.CheckedItem{}

	fresh := s.Snapshot()
	assert.Equal(t, "plan-1", fresh.Plan.ID)
	assert.Empty(t, fresh.Checked)
}

func TestRecipeMutations(t *testing.T) {
	s := setupStore(t)

	s.UpsertRecipe(OriginLocal, model.Recipe{ID: "r-1", Title: "Soup"})
	s.UpsertRecipe(OriginLocal, model.Recipe{ID: "r-2", Title: "Stew"})
	s.UpsertRecipe(OriginLocal, model.Recipe{ID: "r-1", Title: "Better soup"})

	snap := s.Snapshot()
	require.Len(t, snap.Recipes, 2)
	assert.Equal(t, "Better soup", snap.Recipes[0].Title)

	s.RemoveRecipe(OriginLocal, "r-1")
	s.RemoveRecipe(OriginLocal, "missing")
	assert.Len(t, s.Snapshot().Recipes, 1)
}

func TestCheckedMutations(t *testing.T) {
	s := setupStore(t)

	s.SetChecked(OriginLocal, model.CheckedItem{PlanID: "plan-1", ItemID: "item-1", CheckedBy: "user-1"})
	s.SetChecked(OriginLocal, model.CheckedItem{PlanID: "plan-1", ItemID: "item-2", CheckedBy: "user-1"})
	s.SetChecked(OriginLocal, model.CheckedItem{PlanID: "plan-2", ItemID: "item-1", CheckedBy: "user-1"})

	assert.Len(t, s.Snapshot().Checked, 3)

	s.RemoveChecked(OriginLocal, "plan-1", "item-1")
	snap := s.Snapshot()
	assert.Len(t, snap.Checked, 2)
	_, ok := snap.Checked[model.CheckedKey("plan-1", "item-1")]
	assert.False(t, ok)

	// Clear removes one plan's items only.
	s.ClearChecked(OriginLocal, "plan-1")
	snap = s.Snapshot()
	require.Len(t, snap.Checked, 1)
	_, ok = snap.Checked[model.CheckedKey("plan-2", "item-1")]
	assert.True(t, ok)
}

func TestCustomItemMutations(t *testing.T) {
	s := setupStore(t)

	s.AddCustomItem(OriginLocal, model.CustomItem{ID: "c-1", PlanID: "plan-1", Text: "batteries"})
	s.AddCustomItem(OriginLocal, model.CustomItem{ID: "c-1", PlanID: "plan-1", Text: "AA batteries"})

	snap := s.Snapshot()
	require.Len(t, snap.CustomItems, 1)
	assert.Equal(t, "AA batteries", snap.CustomItems[0].Text)

	s.RemoveCustomItem(OriginLocal, "c-1")
	assert.Empty(t, s.Snapshot().CustomItems)
}

func TestSetOnlineDedups(t *testing.T) {
	s := setupStore(t)

	count := 0
	s.Subscribe(func(Change) { count++ })

	s.SetOnline(true)
	s.SetOnline(true)
	s.SetOnline(true)
	s.SetOnline(false)

	assert.Equal(t, 2, count)
	assert.False(t, s.Snapshot().Online)
}

func TestReplaceUserDataIsOneUpdate(t *testing.T) {
	s := setupStore(t)
	s.SetPlan(OriginLocal, testPlan("old"))

	var got []Change
	s.Subscribe(func(c Change) { got = append(got, c) })

	checked := map[string]model.CheckedItem{
		model.CheckedKey("plan-2", "item-1"): {PlanID: "plan-2", ItemID: "item-1"},
	}
	s.ReplaceUserData(OriginRemote, testPlan("plan-2"),
		[]model.Recipe{{ID: "r-1", Title: "Soup"}}, checked,
		[]model.CustomItem{{ID: "c-1", PlanID: "plan-2", Text: "foil"}})

	require.Len(t, got, 1)
	assert.Equal(t, OriginRemote, got[0].Origin)
	assert.ElementsMatch(t, []string{FieldPlan, FieldRecipes, FieldChecked, FieldCustom}, got[0].Fields)

	snap := got[0].State
	assert.Equal(t, "plan-2", snap.Plan.ID)
	assert.Len(t, snap.Recipes, 1)
	assert.Len(t, snap.Checked, 1)
	assert.Len(t, snap.CustomItems, 1)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.InitSchema())

	s, err := Open(st, testNS, testLogger(), nil)
	require.NoError(t, err)

	s.SetPlan(OriginLocal, testPlan("plan-1"))
	s.SetChecked(OriginLocal, model.CheckedItem{PlanID: "plan-1", ItemID: "item-1"})
	s.SetSession(OriginRemote, model.UserSession{UserID: "user-1", Syncing: true})
	require.NoError(t, st.Close())

	st, err = storage.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	s, err = Open(st, testNS, testLogger(), nil)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.NotNil(t, snap.Plan)
	assert.Equal(t, "plan-1", snap.Plan.ID)
	assert.Len(t, snap.Checked, 1)
	assert.Equal(t, "user-1", snap.Session.UserID)
	// No reconciliation survives a restart.
	assert.False(t, snap.Session.Syncing)
}

func TestPurgeClearsUserData(t *testing.T) {
	s := setupStore(t)

	s.SetSession(OriginRemote, model.UserSession{UserID: "user-1"})
	s.SetPlan(OriginLocal, testPlan("plan-1"))
	s.UpsertRecipe(OriginLocal, model.Recipe{ID: "r-1", Title: "Soup"})
	s.SetChecked(OriginLocal, model.CheckedItem{PlanID: "plan-1", ItemID: "item-1"})
	s.AddCustomItem(OriginLocal, model.CustomItem{ID: "c-1", PlanID: "plan-1", Text: "foil"})
	s.SetOnline(true)

	s.Purge(OriginRemote)

	snap := s.Snapshot()
	assert.Nil(t, snap.Plan)
	assert.Empty(t, snap.Recipes)
	assert.Empty(t, snap.Checked)
	assert.Empty(t, snap.CustomItems)
	assert.Empty(t, snap.Session.UserID)
	// Connectivity is not user data.
	assert.True(t, snap.Online)
}

func TestOverrideReplacesEverything(t *testing.T) {
	s := setupStore(t)
	s.SetPlan(OriginLocal, testPlan("plan-1"))

	s.Override(State{
		Plan:    testPlan("plan-9"),
		Online:  true,
		Session: model.UserSession{UserID: "user-9"},
	})

	snap := s.Snapshot()
	assert.Equal(t, "plan-9", snap.Plan.ID)
	assert.True(t, snap.Online)
	assert.Equal(t, "user-9", snap.Session.UserID)
	assert.NotNil(t, snap.Checked)
}
