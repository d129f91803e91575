package traits

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrovo/rovo/featureset"
)

// WashTowelMode is the dock's mop washing intensity.
type WashTowelMode struct {
	WashMode int `json:"wash_mode"`
}

// WashTowel manages the dock's mop washing mode. Gated on the
// WashThenChargeCmd capability flag, which only docks with a wash station
// report.
type WashTowel struct {
	send SendFunc

	mu      sync.Mutex
	current WashTowelMode
	valid   bool

	obs observers[WashTowelMode]
}

// NewWashTowel builds the wash towel trait.
func NewWashTowel(send SendFunc) *WashTowel {
	return &WashTowel{send: send}
}

func (t *WashTowel) Name() string    { return "wash_towel" }
func (t *WashTowel) Command() string { return "get_wash_towel_mode" }

func (t *WashTowel) Supported(f featureset.Features) bool { return f.WashThenChargeCmd }

// Update folds a get_wash_towel_mode result into the cached state.
func (t *WashTowel) Update(data json.RawMessage) error {
	var m WashTowelMode
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("malformed wash towel payload: %w", err)
	}
	t.mu.Lock()
	t.current = m
	t.valid = true
	t.mu.Unlock()
	t.obs.notify(m)
	return nil
}

// Refresh queries the device and applies the result.
func (t *WashTowel) Refresh(ctx context.Context) error {
	result, err := t.send(ctx, t.Command(), nil)
	if err != nil {
		return err
	}
	return t.Update(result)
}

// SetMode programs the washing intensity, then refreshes the cached state.
func (t *WashTowel) SetMode(ctx context.Context, mode int) error {
	if _, err := t.send(ctx, "set_wash_towel_mode", map[string]int{"wash_mode": mode}); err != nil {
		return err
	}
	return t.Refresh(ctx)
}

// Current returns the last known mode and whether one has been received.
func (t *WashTowel) Current() (WashTowelMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.valid
}

// OnUpdate registers an observer for mode changes. The returned function
// removes it.
func (t *WashTowel) OnUpdate(fn func(WashTowelMode)) func() {
	return t.obs.add(fn)
}
