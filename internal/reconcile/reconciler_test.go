package reconcile

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/queue"
	"github.com/platewise/mealsync/internal/remote"
	"github.com/platewise/mealsync/internal/remote/remotetest"
	"github.com/platewise/mealsync/internal/storage"
	"github.com/platewise/mealsync/internal/store"
)

type fixture struct {
	store      *store.Store
	queue      *queue.Queue
	fake       *remotetest.Fake
	reconciler *Reconciler
}

// setup builds a started reconciler over a fresh store, queue, and fake server.
func setup(t *testing.T) *fixture {
	t.Helper()

	st, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	logger := log.New(os.Stderr, "[test] ", 0)
	s, err := store.Open(st, "default", logger, nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	f := &fixture{store: s, fake: remotetest.New()}
	f.queue = queue.New(st, "default", f.fake, logger)
	f.reconciler = New(s, f.fake, f.queue, Config{Logger: logger})
	f.reconciler.Start(context.Background())
	t.Cleanup(f.reconciler.Stop)

	return f
}

// waitSettled blocks until no reconciliation is in flight for the user.
func (f *fixture) waitSettled(t *testing.T, userID string) store.State {
	t.Helper()

	var snap store.State
	require.Eventually(t, func() bool {
		snap = f.store.Snapshot()
		return snap.Session.UserID == userID && !snap.Session.Syncing
	}, 2*time.Second, 10*time.Millisecond)
	return snap
}

func TestSignInRemoteWins(t *testing.T) {
	f := setup(t)

	// Anonymous local data that will lose to the server's copy.
	f.store.SetPlan(store.OriginLocal, &model.MealPlan{ID: "local-plan"})
	f.store.SetChecked(store.OriginLocal, model.CheckedItem{PlanID: "local-plan", ItemID: "item-1"})

	f.fake.Plan = &model.MealPlan{ID: "remote-plan", OwnerID: "user-1"}
	f.fake.Recipes["r-1"] = model.Recipe{ID: "r-1", Title: "Soup", OwnerID: "user-1"}
	f.fake.CheckedMap["remote-plan/item-9"] = model.CheckedItem{PlanID: "remote-plan", ItemID: "item-9"}
	f.fake.CustomItems["c-1"] = model.CustomItem{ID: "c-1", PlanID: "remote-plan", Text: "foil"}

	f.reconciler.SignIn("user-1")

	snap := f.waitSettled(t, "user-1")
	require.NotNil(t, snap.Plan)
	assert.Equal(t, "remote-plan", snap.Plan.ID)
	assert.Len(t, snap.Recipes, 1)
	assert.Len(t, snap.CustomItems, 1)

	// The local plan's state is gone, replaced wholesale.
	assert.Len(t, snap.Checked, 1)
	_, ok := snap.Checked["remote-plan/item-9"]
	assert.True(t, ok)

	// Nothing was uploaded; the server already had the truth.
	for _, op := range f.fake.Ops() {
		assert.NotEqual(t, "syncMealPlan", op)
		assert.NotEqual(t, "saveUserRecipe", op)
	}
}

func TestSignInLocalWins(t *testing.T) {
	f := setup(t)

	f.store.SetPlan(store.OriginLocal, &model.MealPlan{
		ID:    "local-plan",
		Meals: []model.Meal{{Day: 1, Type: model.MealDinner, RecipeID: "r-2"}},
	})
	f.store.SetRecipes(store.OriginLocal, []model.Recipe{
		{ID: "r-1", Title: "House lasagne", BuiltIn: true},
		{ID: "r-2", Title: "Grandma's stew"},
	})
	f.store.AddCustomItem(store.OriginLocal, model.CustomItem{ID: "c-1", PlanID: "local-plan", Text: "foil"})

	f.reconciler.SignIn("user-1")

	snap := f.waitSettled(t, "user-1")
	require.NotNil(t, snap.Plan)
	assert.Equal(t, "local-plan", snap.Plan.ID)
	assert.Equal(t, "user-1", snap.Plan.OwnerID)

	// Server received the plan, the authored recipe (now owned), and the
	// custom item. The built-in recipe was never uploaded.
	require.NotNil(t, f.fake.Plan)
	assert.Equal(t, "user-1", f.fake.Plan.OwnerID)

	_, builtinUploaded := f.fake.Recipes["r-1"]
	assert.False(t, builtinUploaded)
	uploaded, ok := f.fake.Recipes["r-2"]
	require.True(t, ok)
	assert.Equal(t, "user-1", uploaded.OwnerID)

	assert.Len(t, f.fake.CustomItems, 1)
}

func TestSignInUploadFailuresAreOneShot(t *testing.T) {
	f := setup(t)

	f.store.SetPlan(store.OriginLocal, &model.MealPlan{ID: "local-plan"})
	f.store.SetRecipes(store.OriginLocal, []model.Recipe{{ID: "r-2", Title: "Stew"}})
	f.fake.FailWith("saveUserRecipe", "flaky backend")

	f.reconciler.SignIn("user-1")
	f.waitSettled(t, "user-1")

	// A failed bulk upload is reported and dropped, never queued for retry.
	n, err := f.queue.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSignInBothEmpty(t *testing.T) {
	f := setup(t)

	f.reconciler.SignIn("user-1")

	snap := f.waitSettled(t, "user-1")
	assert.Nil(t, snap.Plan)
	assert.Empty(t, snap.Recipes)
	assert.Nil(t, f.fake.Plan) // no plan was invented remotely either
}

func TestSignInSetsUserBeforeFetchCompletes(t *testing.T) {
	f := setup(t)

	gate := make(chan struct{})
	f.fake.Gate["loadMealPlan"] = gate
	defer close(gate)

	f.reconciler.SignIn("user-1")

	// The user is visible, and marked reconciling, while the fetch hangs.
	require.Eventually(t, func() bool {
		snap := f.store.Snapshot()
		return snap.Session.UserID == "user-1" && snap.Session.Syncing
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignOutPurgesEverything(t *testing.T) {
	f := setup(t)

	f.reconciler.SignIn("user-1")
	f.waitSettled(t, "user-1")

	f.store.SetPlan(store.OriginLocal, &model.MealPlan{ID: "plan-1"})
	intent, err := model.NewIntent("user-1", model.KindRecipe, model.OpDelete, "r-1", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(intent))

	f.reconciler.SignOut()

	require.Eventually(t, func() bool {
		return f.store.Snapshot().Session.UserID == ""
	}, 2*time.Second, 10*time.Millisecond)

	snap := f.store.Snapshot()
	assert.Nil(t, snap.Plan)
	assert.Empty(t, snap.Checked)

	n, err := f.queue.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSignOutInvalidatesInFlightSignIn(t *testing.T) {
	f := setup(t)

	f.fake.Plan = &model.MealPlan{ID: "remote-plan"}
	gate := make(chan struct{})
	f.fake.Gate["loadMealPlan"] = gate

	f.reconciler.SignIn("user-1")

	require.Eventually(t, func() bool {
		return f.store.Snapshot().Session.UserID == "user-1"
	}, 2*time.Second, 10*time.Millisecond)

	f.reconciler.SignOut()
	require.Eventually(t, func() bool {
		return f.store.Snapshot().Session.UserID == ""
	}, 2*time.Second, 10*time.Millisecond)

	// Release the fetch; its late result must be discarded.
	close(gate)
	time.Sleep(100 * time.Millisecond)

	snap := f.store.Snapshot()
	assert.Nil(t, snap.Plan)
	assert.Empty(t, snap.Session.UserID)
	assert.False(t, snap.Session.Syncing)
}

func TestFetchUnauthenticatedSignsOut(t *testing.T) {
	f := setup(t)

	f.fake.Fail["loadUserRecipes"] = remote.ErrUnauthenticated

	f.reconciler.SignIn("user-1")

	// The rejected session is torn down again.
	require.Eventually(t, func() bool {
		snap := f.store.Snapshot()
		return snap.Session.UserID == "" && !snap.Session.Syncing
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteWinsUnauthenticatedSignsOut(t *testing.T) {
	f := setup(t)

	f.fake.Plan = &model.MealPlan{ID: "remote-plan", OwnerID: "user-1"}
	f.fake.Fail["loadCheckedItems"] = remote.ErrUnauthenticated

	f.reconciler.SignIn("user-1")

	// The server rejected the session mid-adoption; the client must not
	// stay signed in with a partially applied replace.
	require.Eventually(t, func() bool {
		snap := f.store.Snapshot()
		return snap.Session.UserID == "" && !snap.Session.Syncing
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, f.store.Snapshot().Plan)
}

func TestLocalWinsUnauthenticatedSignsOut(t *testing.T) {
	f := setup(t)

	f.store.SetPlan(store.OriginLocal, &model.MealPlan{ID: "local-plan"})
	f.fake.Fail["syncMealPlan"] = remote.ErrUnauthenticated

	f.reconciler.SignIn("user-1")

	require.Eventually(t, func() bool {
		snap := f.store.Snapshot()
		return snap.Session.UserID == "" && !snap.Session.Syncing
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignInWithEmptyUserIsIgnored(t *testing.T) {
	f := setup(t)

	f.reconciler.SignIn("")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.store.Snapshot().Session.UserID)
}
