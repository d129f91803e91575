package traits

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrovo/rovo/featureset"
)

// DeviceStatus is the periodic status report every device supports.
type DeviceStatus struct {
	MsgVer        int `json:"msg_ver"`
	MsgSeq        int `json:"msg_seq"`
	State         int `json:"state"`
	Battery       int `json:"battery"`
	CleanTime     int `json:"clean_time"`
	CleanArea     int `json:"clean_area"`
	ErrorCode     int `json:"error_code"`
	MapPresent    int `json:"map_present"`
	InCleaning    int `json:"in_cleaning"`
	InReturning   int `json:"in_returning"`
	InFreshState  int `json:"in_fresh_state"`
	LabStatus     int `json:"lab_status"`
	WaterBoxState int `json:"water_box_status"`
	FanPower      int `json:"fan_power"`
	DnDEnabled    int `json:"dnd_enabled"`
	MapStatus     int `json:"map_status"`
	LockStatus    int `json:"lock_status"`
}

// Status queries and caches the device status.
type Status struct {
	send SendFunc

	mu      sync.Mutex
	current DeviceStatus
	valid   bool

	obs observers[DeviceStatus]
}

// NewStatus builds the status trait.
func NewStatus(send SendFunc) *Status {
	return &Status{send: send}
}

func (t *Status) Name() string    { return "status" }
func (t *Status) Command() string { return "get_status" }

// Supported always reports true; every device answers get_status.
func (t *Status) Supported(featureset.Features) bool { return true }

// Update folds a get_status result into the cached state.
func (t *Status) Update(data json.RawMessage) error {
	var s DeviceStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("malformed status payload: %w", err)
	}
	t.mu.Lock()
	t.current = s
	t.valid = true
	t.mu.Unlock()
	t.obs.notify(s)
	return nil
}

// Refresh queries the device and applies the result.
func (t *Status) Refresh(ctx context.Context) error {
	result, err := t.send(ctx, t.Command(), nil)
	if err != nil {
		return err
	}
	return t.Update(result)
}

// Current returns the last known status and whether one has been received.
func (t *Status) Current() (DeviceStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.valid
}

// OnUpdate registers an observer for status changes. The returned function
// removes it.
func (t *Status) OnUpdate(fn func(DeviceStatus)) func() {
	return t.obs.add(fn)
}
