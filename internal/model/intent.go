package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityKind identifies which entity a sync intent targets.
type EntityKind string

const (
	KindPlan    EntityKind = "plan"
	KindRecipe  EntityKind = "recipe"
	KindChecked EntityKind = "checked"
	KindCustom  EntityKind = "custom"
)

// IntentOp is the remote operation a sync intent carries.
type IntentOp string

const (
	// OpUpsert creates or replaces the target entity remotely.
	OpUpsert IntentOp = "upsert"
	// OpDelete removes the target entity remotely.
	OpDelete IntentOp = "delete"
	// OpClear removes every checked item for the target plan.
	OpClear IntentOp = "clear"
)

// SyncIntent is a persisted record of one not-yet-confirmed mutation
// destined for the remote store.
//
// Intents are created when a mutation occurs while the engine cannot reach
// the server, consumed only after the corresponding remote call succeeds,
// and never reordered. The Seq field is assigned by the intent log on
// append and defines drain order.
type SyncIntent struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"-"`
	UserID    string          `json:"user_id"`
	Kind      EntityKind      `json:"kind"`
	Op        IntentOp        `json:"op"`
	EntityID  string          `json:"entity_id"`
	PlanID    string          `json:"plan_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CheckedToggle is the payload for a KindChecked OpUpsert intent.
// Checked carries the final desired state so consecutive toggles for the
// same item coalesce into a single remote call.
type CheckedToggle struct {
	Checked   bool   `json:"checked"`
	CheckedBy string `json:"checked_by,omitempty"`
}

// NewIntent builds a sync intent with a fresh ID and creation time.
// The payload is marshalled to JSON; a nil payload is allowed for
// delete and clear operations.
func NewIntent(userID string, kind EntityKind, op IntentOp, entityID, planID string, payload any) (*SyncIntent, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal intent payload: %w", err)
		}
		raw = data
	}

	return &SyncIntent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Op:        op,
		EntityID:  entityID,
		PlanID:    planID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Validate checks that the intent has valid field values.
func (i *SyncIntent) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("intent id is required")
	}
	if i.UserID == "" {
		return fmt.Errorf("intent user_id is required")
	}
	switch i.Kind {
	case KindPlan, KindRecipe, KindChecked, KindCustom:
	default:
		return fmt.Errorf("unknown entity kind %q", i.Kind)
	}
	switch i.Op {
	case OpUpsert, OpDelete:
	case OpClear:
		if i.Kind != KindChecked {
			return fmt.Errorf("clear is only valid for checked items (got kind %q)", i.Kind)
		}
	default:
		return fmt.Errorf("unknown intent op %q", i.Op)
	}
	if i.EntityID == "" && i.Op != OpClear {
		return fmt.Errorf("intent entity_id is required")
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("intent created_at is required")
	}
	return nil
}
