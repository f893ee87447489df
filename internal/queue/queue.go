// Package queue provides the durable, ordered log of pending mutations and
// its drain loop.
//
// Intents are appended while the engine cannot reach the server and drained
// strictly in creation order once it can. An entry is removed only after
// its remote call succeeds; on failure the entry stays at the head and
// draining stops, so a later intent never applies before an earlier one for
// the same entity.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/platewise/mealsync/internal/model"
	"github.com/platewise/mealsync/internal/remote"
	"github.com/platewise/mealsync/internal/storage"
)

// Queue is the persisted intent log plus the drain machinery.
type Queue struct {
	storage   *storage.Store
	namespace string
	client    remote.Client
	logger    *log.Logger

	draining atomic.Bool
}

// New creates a Queue over the given storage namespace.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *storage.Store, namespace string, client remote.Client, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		storage:   st,
		namespace: namespace,
		client:    client,
		logger:    logger,
	}
}

// Enqueue appends an intent to the log.
//
// Consecutive checked-item toggles for the same (plan, item) key coalesce:
// when the most recent pending intent for that item is also a toggle, its
// payload is replaced in place instead of appending, so toggling twice
// produces one remote call carrying the final state.
func (q *Queue) Enqueue(intent *model.SyncIntent) error {
	if intent.Kind == model.KindChecked && intent.Op == model.OpUpsert {
		last, err := q.storage.LastIntentFor(q.namespace, intent.Kind, intent.EntityID)
		if err != nil {
			return fmt.Errorf("failed to look up pending toggle: %w", err)
		}
		if last != nil && last.Op == model.OpUpsert && last.UserID == intent.UserID && last.PlanID == intent.PlanID {
			if err := q.storage.ReplacePayload(last.Seq, intent.Payload); err != nil {
				return fmt.Errorf("failed to coalesce toggle: %w", err)
			}
			q.logger.Printf("Coalesced toggle for item %s", intent.EntityID)
			return nil
		}
	}

	seq, err := q.storage.AppendIntent(q.namespace, intent)
	if err != nil {
		return fmt.Errorf("failed to enqueue intent: %w", err)
	}

	q.logger.Printf("Queued %s %s %s (seq %d)", intent.Kind, intent.Op, intent.EntityID, seq)
	return nil
}

// Drain processes pending intents head-first, issuing the remote call for
// each and removing the entry only after the call succeeds. On failure the
// entry remains at the head and draining stops.
//
// Safe to invoke repeatedly and concurrently: if a drain is already in
// progress, the call is a no-op and returns nil.
//
// Entries recorded under a different user than userID are discarded rather
// than replayed; the sign-out purge normally removes them first, this is
// the drain-time defense.
func (q *Queue) Drain(ctx context.Context, userID string) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	intents, err := q.storage.ListIntents(q.namespace)
	if err != nil {
		return fmt.Errorf("failed to list intents: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	q.logger.Printf("Draining %d pending intents", len(intents))

	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return err
		}

		if intent.UserID != userID {
			q.logger.Printf("Discarding stale intent %s from user %s", intent.ID, intent.UserID)
			if err := q.storage.DeleteIntent(intent.Seq); err != nil {
				return err
			}
			continue
		}

		if err := q.execute(ctx, intent); err != nil {
			if errors.Is(err, remote.ErrUnauthenticated) {
				return err
			}
			q.logger.Printf("Drain halted at seq %d: %v", intent.Seq, err)
			return err
		}

		if err := q.storage.DeleteIntent(intent.Seq); err != nil {
			return fmt.Errorf("failed to remove drained intent: %w", err)
		}
	}

	q.logger.Printf("Drain complete")
	return nil
}

// execute issues the remote call an intent describes.
func (q *Queue) execute(ctx context.Context, intent *model.SyncIntent) error {
	switch {
	case intent.Kind == model.KindPlan && intent.Op == model.OpUpsert:
		var plan model.MealPlan
		if err := json.Unmarshal(intent.Payload, &plan); err != nil {
			return fmt.Errorf("failed to decode plan payload: %w", err)
		}
		_, err := q.client.SyncMealPlan(ctx, &plan)
		return err

	case intent.Kind == model.KindRecipe && intent.Op == model.OpUpsert:
		var recipe model.Recipe
		if err := json.Unmarshal(intent.Payload, &recipe); err != nil {
			return fmt.Errorf("failed to decode recipe payload: %w", err)
		}
		_, err := q.client.SaveUserRecipe(ctx, recipe)
		return err

	case intent.Kind == model.KindRecipe && intent.Op == model.OpDelete:
		return q.client.DeleteUserRecipe(ctx, intent.EntityID)

	case intent.Kind == model.KindChecked && intent.Op == model.OpUpsert:
		var toggle model.CheckedToggle
		if err := json.Unmarshal(intent.Payload, &toggle); err != nil {
			return fmt.Errorf("failed to decode toggle payload: %w", err)
		}
		return q.client.ToggleCheckedItem(ctx, intent.PlanID, intent.EntityID, toggle.Checked, toggle.CheckedBy)

	case intent.Kind == model.KindChecked && intent.Op == model.OpDelete:
		return q.client.ToggleCheckedItem(ctx, intent.PlanID, intent.EntityID, false, "")

	case intent.Kind == model.KindChecked && intent.Op == model.OpClear:
		return q.client.ClearCheckedItems(ctx, intent.PlanID)

	case intent.Kind == model.KindCustom && intent.Op == model.OpUpsert:
		var item model.CustomItem
		if err := json.Unmarshal(intent.Payload, &item); err != nil {
			return fmt.Errorf("failed to decode custom item payload: %w", err)
		}
		_, err := q.client.AddCustomItem(ctx, intent.PlanID, item)
		return err

	case intent.Kind == model.KindCustom && intent.Op == model.OpDelete:
		return q.client.RemoveCustomItem(ctx, intent.EntityID)
	}

	return fmt.Errorf("unsupported intent %s/%s", intent.Kind, intent.Op)
}

// HasPendingDelete reports whether a delete intent for the entity is
// queued. The realtime listener consults this before applying a remote
// upsert, so a concurrent local delete is never undone by a late push.
// Checked items are keyed per plan, so a non-empty planID narrows the
// match to that plan; pass "" for kinds keyed by entity id alone.
func (q *Queue) HasPendingDelete(kind model.EntityKind, planID, entityID string) bool {
	pending, err := q.storage.HasPendingDelete(q.namespace, kind, planID, entityID)
	if err != nil {
		q.logger.Printf("Warning: failed to check pending deletes: %v", err)
		return false
	}
	return pending
}

// Pending returns all queued intents in creation order.
func (q *Queue) Pending() ([]*model.SyncIntent, error) {
	return q.storage.ListIntents(q.namespace)
}

// Count returns the number of queued intents.
func (q *Queue) Count() (int, error) {
	return q.storage.CountIntents(q.namespace)
}

// Purge discards every queued intent. Called at sign-out.
func (q *Queue) Purge() error {
	if err := q.storage.PurgeIntents(q.namespace); err != nil {
		return err
	}
	q.logger.Printf("Purged pending intents")
	return nil
}
