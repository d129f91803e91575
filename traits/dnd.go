package traits

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrovo/rovo/featureset"
)

// DnDTimer is the do-not-disturb window of a device. Hours and minutes are
// device-local time.
type DnDTimer struct {
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
	Enabled     int `json:"enabled"`
}

// DnD manages the do-not-disturb timer. Gated on the CustomDnD capability
// flag.
type DnD struct {
	send SendFunc

	mu      sync.Mutex
	current DnDTimer
	valid   bool

	obs observers[DnDTimer]
}

// NewDnD builds the do-not-disturb trait.
func NewDnD(send SendFunc) *DnD {
	return &DnD{send: send}
}

func (t *DnD) Name() string    { return "dnd" }
func (t *DnD) Command() string { return "get_dnd_timer" }

func (t *DnD) Supported(f featureset.Features) bool { return f.CustomDnD }

// Update folds a get_dnd_timer result into the cached state.
func (t *DnD) Update(data json.RawMessage) error {
	var timer DnDTimer
	if err := json.Unmarshal(data, &timer); err != nil {
		return fmt.Errorf("malformed dnd timer payload: %w", err)
	}
	t.mu.Lock()
	t.current = timer
	t.valid = true
	t.mu.Unlock()
	t.obs.notify(timer)
	return nil
}

// Refresh queries the device and applies the result.
func (t *DnD) Refresh(ctx context.Context) error {
	result, err := t.send(ctx, t.Command(), nil)
	if err != nil {
		return err
	}
	return t.Update(result)
}

// Set programs the do-not-disturb window, then refreshes so the cached
// state reflects what the device actually accepted.
func (t *DnD) Set(ctx context.Context, timer DnDTimer) error {
	params := []int{timer.StartHour, timer.StartMinute, timer.EndHour, timer.EndMinute}
	if _, err := t.send(ctx, "set_dnd_timer", params); err != nil {
		return err
	}
	return t.Refresh(ctx)
}

// Disable turns the do-not-disturb window off.
func (t *DnD) Disable(ctx context.Context) error {
	if _, err := t.send(ctx, "close_dnd_timer", nil); err != nil {
		return err
	}
	return t.Refresh(ctx)
}

// Current returns the last known timer and whether one has been received.
func (t *DnD) Current() (DnDTimer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.valid
}

// OnUpdate registers an observer for timer changes. The returned function
// removes it.
func (t *DnD) OnUpdate(fn func(DnDTimer)) func() {
	return t.obs.add(fn)
}
