package processor

import (
	"context"
	"fmt"
	"sync"
)

// Cursor tracks the highest change id known fully delivered. It is never
// persisted on its own; restart recovery comes from the change log's
// delivered flags.
type Cursor struct {
	mu    sync.Mutex
	value int64
}

// Initialize seeds the cursor from the store's durable delivered flags.
func (c *Cursor) Initialize(ctx context.Context, source Source) error {
	maxID, err := source.MaxDeliveredID(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize cursor: %w", err)
	}
	c.mu.Lock()
	c.value = maxID
	c.mu.Unlock()
	return nil
}

// Value returns the current cursor position.
func (c *Cursor) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Advance moves the cursor forward to id. Moving backward is an ordering
// invariant violation; the attempt is rejected and reported, never applied.
func (c *Cursor) Advance(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < c.value {
		return fmt.Errorf("cursor cannot move backward: at %d, got %d", c.value, id)
	}
	c.value = id
	return nil
}
