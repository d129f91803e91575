package traits

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrovo/rovo/featureset"
)

// CleanHistory aggregates the device's cleaning runs. Records holds the
// ids of recent runs, newest first.
type CleanHistory struct {
	CleanTime  int   `json:"clean_time"`
	CleanArea  int   `json:"clean_area"`
	CleanCount int   `json:"clean_count"`
	Records    []int `json:"records"`
}

// CleanSummary queries and caches the cleaning history totals.
type CleanSummary struct {
	send SendFunc

	mu      sync.Mutex
	current CleanHistory
	valid   bool

	obs observers[CleanHistory]
}

// NewCleanSummary builds the clean summary trait.
func NewCleanSummary(send SendFunc) *CleanSummary {
	return &CleanSummary{send: send}
}

func (t *CleanSummary) Name() string    { return "clean_summary" }
func (t *CleanSummary) Command() string { return "get_clean_summary" }

func (t *CleanSummary) Supported(featureset.Features) bool { return true }

// Update folds a get_clean_summary result into the cached state. Older
// firmwares answer with a bare 4-element array instead of an object.
func (t *CleanSummary) Update(data json.RawMessage) error {
	var h CleanHistory
	if err := json.Unmarshal(data, &h); err == nil {
		t.store(h)
		return nil
	}
	var legacy []json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil || len(legacy) < 3 {
		return fmt.Errorf("malformed clean summary payload")
	}
	if err := json.Unmarshal(legacy[0], &h.CleanTime); err != nil {
		return fmt.Errorf("malformed clean summary payload: %w", err)
	}
	if err := json.Unmarshal(legacy[1], &h.CleanArea); err != nil {
		return fmt.Errorf("malformed clean summary payload: %w", err)
	}
	if err := json.Unmarshal(legacy[2], &h.CleanCount); err != nil {
		return fmt.Errorf("malformed clean summary payload: %w", err)
	}
	if len(legacy) > 3 {
		if err := json.Unmarshal(legacy[3], &h.Records); err != nil {
			return fmt.Errorf("malformed clean summary payload: %w", err)
		}
	}
	t.store(h)
	return nil
}

func (t *CleanSummary) store(h CleanHistory) {
	t.mu.Lock()
	t.current = h
	t.valid = true
	t.mu.Unlock()
	t.obs.notify(h)
}

// Refresh queries the device and applies the result.
func (t *CleanSummary) Refresh(ctx context.Context) error {
	result, err := t.send(ctx, t.Command(), nil)
	if err != nil {
		return err
	}
	return t.Update(result)
}

// Current returns the last known history and whether one has been received.
func (t *CleanSummary) Current() (CleanHistory, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.valid
}

// OnUpdate registers an observer for history changes. The returned
// function removes it.
func (t *CleanSummary) OnUpdate(fn func(CleanHistory)) func() {
	return t.obs.add(fn)
}
