package model

import (
	"fmt"
	"time"
)

// CheckedItem records that a shopping-list item has been ticked off.
//
// Presence in the store's checked mapping means "checked"; absence means
// "unchecked". There is no explicit false state.
type CheckedItem struct {
	PlanID    string    `json:"plan_id"`
	ItemID    string    `json:"item_id"`
	CheckedBy string    `json:"checked_by"`
	CheckedAt time.Time `json:"checked_at"`
}

// Key returns the composite map key for this item: "{planID}/{itemID}".
func (c CheckedItem) Key() string {
	return CheckedKey(c.PlanID, c.ItemID)
}

// CheckedKey builds the composite checked-mapping key for a plan item.
func CheckedKey(planID, itemID string) string {
	return planID + "/" + itemID
}

// CustomItem is a free-text shopping-list entry created independently of
// any recipe-derived item.
type CustomItem struct {
	ID        string    `json:"id"`
	PlanID    string    `json:"plan_id"`
	Text      string    `json:"text"`
	Quantity  string    `json:"quantity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the custom item has valid field values.
func (c *CustomItem) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("custom item id is required")
	}
	if c.PlanID == "" {
		return fmt.Errorf("custom item plan_id is required")
	}
	if c.Text == "" {
		return fmt.Errorf("custom item text is required")
	}
	return nil
}
