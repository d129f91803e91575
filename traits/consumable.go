package traits

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrovo/rovo/featureset"
)

// Consumable names accepted by reset_consumable.
const (
	ConsumableMainBrush = "main_brush_work_time"
	ConsumableSideBrush = "side_brush_work_time"
	ConsumableFilter    = "filter_work_time"
	ConsumableSensor    = "sensor_dirty_time"
)

// ConsumableState carries the accumulated wear counters in seconds.
type ConsumableState struct {
	MainBrushWorkTime int `json:"main_brush_work_time"`
	SideBrushWorkTime int `json:"side_brush_work_time"`
	FilterWorkTime    int `json:"filter_work_time"`
	SensorDirtyTime   int `json:"sensor_dirty_time"`
}

// Consumables tracks the wear counters of the device's replaceable parts.
type Consumables struct {
	send SendFunc

	mu      sync.Mutex
	current ConsumableState
	valid   bool

	obs observers[ConsumableState]
}

// NewConsumables builds the consumables trait.
func NewConsumables(send SendFunc) *Consumables {
	return &Consumables{send: send}
}

func (t *Consumables) Name() string    { return "consumables" }
func (t *Consumables) Command() string { return "get_consumable" }

func (t *Consumables) Supported(featureset.Features) bool { return true }

// Update folds a get_consumable result into the cached state.
func (t *Consumables) Update(data json.RawMessage) error {
	var s ConsumableState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("malformed consumable payload: %w", err)
	}
	t.mu.Lock()
	t.current = s
	t.valid = true
	t.mu.Unlock()
	t.obs.notify(s)
	return nil
}

// Refresh queries the device and applies the result.
func (t *Consumables) Refresh(ctx context.Context) error {
	result, err := t.send(ctx, t.Command(), nil)
	if err != nil {
		return err
	}
	return t.Update(result)
}

// Reset zeroes the named wear counter after the part has been replaced.
func (t *Consumables) Reset(ctx context.Context, name string) error {
	switch name {
	case ConsumableMainBrush, ConsumableSideBrush, ConsumableFilter, ConsumableSensor:
	default:
		return fmt.Errorf("unknown consumable %q", name)
	}
	if _, err := t.send(ctx, "reset_consumable", []string{name}); err != nil {
		return err
	}
	return t.Refresh(ctx)
}

// Current returns the last known counters and whether any were received.
func (t *Consumables) Current() (ConsumableState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.valid
}

// OnUpdate registers an observer for counter changes. The returned
// function removes it.
func (t *Consumables) OnUpdate(fn func(ConsumableState)) func() {
	return t.obs.add(fn)
}
