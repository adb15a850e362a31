package generation

import (
	"errors"
	"fmt"

	"metagen/server/internal/model"
)

var ErrUnknownVariant = errors.New("variant not in collection")

// CapacityWarning is the message shown when a regenerate is refused at
// capacity.
const CapacityWarning = "Limit reached—please choose a thumbnail"

// CapacityError reports that the collection already holds the maximum
// number of variants. It is a warning, not a generation failure.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("thumbnail limit of %d reached", e.Max)
}

// VariantCollection is an ordered, capped list of thumbnail variants with at
// most one selected entry. The selection always references a member.
// Callers serialize access; the orchestrator holds its lock around every call.
type VariantCollection struct {
	max      int
	items    []model.ThumbnailVariant
	selected string
}

func NewVariantCollection(capacity int) *VariantCollection {
	if capacity < 1 {
		capacity = model.DefaultLimits().VariantsMax
	}
	return &VariantCollection{max: capacity}
}

func (c *VariantCollection) Len() int { return len(c.items) }

func (c *VariantCollection) Max() int { return c.max }

func (c *VariantCollection) Remaining() int { return c.max - len(c.items) }

func (c *VariantCollection) Selected() string { return c.selected }

func (c *VariantCollection) Items() []model.ThumbnailVariant {
	return append([]model.ThumbnailVariant(nil), c.items...)
}

// Replace swaps the whole collection for batch, truncated to the maximum.
// When the current selection does not survive, the first new variant is
// selected.
func (c *VariantCollection) Replace(batch []model.ThumbnailVariant) {
	if len(batch) > c.max {
		batch = batch[:c.max]
	}
	c.items = append([]model.ThumbnailVariant(nil), batch...)
	if c.selected != "" && c.contains(c.selected) {
		return
	}
	c.selected = ""
	if len(c.items) > 0 {
		c.selected = c.items[0].ID
	}
}

// Append adds as many of batch as the remaining capacity allows and returns
// how many were kept. The selection is untouched.
func (c *VariantCollection) Append(batch []model.ThumbnailVariant) (int, error) {
	remaining := c.Remaining()
	if remaining <= 0 {
		return 0, &CapacityError{Max: c.max}
	}
	if len(batch) > remaining {
		batch = batch[:remaining]
	}
	c.items = append(c.items, batch...)
	return len(batch), nil
}

func (c *VariantCollection) Select(id string) error {
	if !c.contains(id) {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, id)
	}
	c.selected = id
	return nil
}

func (c *VariantCollection) contains(id string) bool {
	for _, v := range c.items {
		if v.ID == id {
			return true
		}
	}
	return false
}

// restore loads persisted variants, dropping overflow and any dangling
// selection.
func (c *VariantCollection) restore(items []model.ThumbnailVariant, selected string) {
	if len(items) > c.max {
		items = items[:c.max]
	}
	c.items = append([]model.ThumbnailVariant(nil), items...)
	c.selected = ""
	if selected != "" && c.contains(selected) {
		c.selected = selected
	}
}
