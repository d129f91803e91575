package traits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/openrovo/rovo/featureset"
)

// fakeDevice records sent commands and answers from a canned table.
type fakeDevice struct {
	replies map[string]string
	sent    []string
	fail    error
}

func (d *fakeDevice) send(_ context.Context, method string, params any) (json.RawMessage, error) {
	d.sent = append(d.sent, method)
	if d.fail != nil {
		return nil, d.fail
	}
	reply, ok := d.replies[method]
	if !ok {
		return nil, fmt.Errorf("unexpected command %q", method)
	}
	return json.RawMessage(reply), nil
}

func TestRegistryCoversAllTraits(t *testing.T) {
	device := &fakeDevice{}
	var names []string
	for _, build := range Registry() {
		names = append(names, build(device.send).Name())
	}
	want := []string{"status", "dnd", "consumables", "clean_summary", "wash_towel"}
	if len(names) != len(want) {
		t.Fatalf("registry has %d traits, want %d", len(names), len(want))
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("trait %d = %q, want %q", i, names[i], name)
		}
	}
}

func TestTraitGating(t *testing.T) {
	device := &fakeDevice{}
	none := featureset.Features{}
	all := featureset.Features{CustomDnD: true, WashThenChargeCmd: true}

	tests := []struct {
		trait      Trait
		wantAlways bool
	}{
		{NewStatus(device.send), true},
		{NewConsumables(device.send), true},
		{NewCleanSummary(device.send), true},
		{NewDnD(device.send), false},
		{NewWashTowel(device.send), false},
	}
	for _, tc := range tests {
		if got := tc.trait.Supported(none); got != tc.wantAlways {
			t.Errorf("%s.Supported(none) = %v, want %v", tc.trait.Name(), got, tc.wantAlways)
		}
		if !tc.trait.Supported(all) {
			t.Errorf("%s.Supported(all) = false", tc.trait.Name())
		}
	}
}

func TestStatusRefresh(t *testing.T) {
	device := &fakeDevice{replies: map[string]string{
		"get_status": `{"state":8,"battery":95,"fan_power":102,"dnd_enabled":1}`,
	}}
	trait := NewStatus(device.send)

	if _, ok := trait.Current(); ok {
		t.Fatal("fresh trait must report no value")
	}
	if err := trait.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	status, ok := trait.Current()
	if !ok {
		t.Fatal("refreshed trait must report a value")
	}
	if status.State != 8 || status.Battery != 95 || status.FanPower != 102 {
		t.Errorf("status = %+v", status)
	}
}

func TestStatusObservers(t *testing.T) {
	trait := NewStatus(nil)

	var a, b []int
	removeA := trait.OnUpdate(func(s DeviceStatus) { a = append(a, s.Battery) })
	trait.OnUpdate(func(s DeviceStatus) { b = append(b, s.Battery) })

	if err := trait.Update(json.RawMessage(`{"battery":90}`)); err != nil {
		t.Fatal(err)
	}
	removeA()
	if err := trait.Update(json.RawMessage(`{"battery":80}`)); err != nil {
		t.Fatal(err)
	}

	if len(a) != 1 || a[0] != 90 {
		t.Errorf("removed observer saw %v", a)
	}
	if len(b) != 2 || b[1] != 80 {
		t.Errorf("remaining observer saw %v", b)
	}
}

func TestStatusMalformedPayload(t *testing.T) {
	trait := NewStatus(nil)
	if err := trait.Update(json.RawMessage(`"ok"`)); err == nil {
		t.Fatal("expected error for non-object payload")
	}
	if _, ok := trait.Current(); ok {
		t.Error("failed update must not set a value")
	}
}

func TestDnDSetRefreshesState(t *testing.T) {
	device := &fakeDevice{replies: map[string]string{
		"set_dnd_timer": `"ok"`,
		"get_dnd_timer": `{"start_hour":22,"start_minute":0,"end_hour":7,"end_minute":30,"enabled":1}`,
	}}
	trait := NewDnD(device.send)

	err := trait.Set(context.Background(), DnDTimer{StartHour: 22, EndHour: 7, EndMinute: 30})
	if err != nil {
		t.Fatal(err)
	}
	timer, ok := trait.Current()
	if !ok || timer.StartHour != 22 || timer.EndMinute != 30 || timer.Enabled != 1 {
		t.Errorf("timer = %+v, ok = %v", timer, ok)
	}
	if len(device.sent) != 2 || device.sent[0] != "set_dnd_timer" || device.sent[1] != "get_dnd_timer" {
		t.Errorf("commands sent = %v", device.sent)
	}
}

func TestDnDDisable(t *testing.T) {
	device := &fakeDevice{replies: map[string]string{
		"close_dnd_timer": `"ok"`,
		"get_dnd_timer":   `{"enabled":0}`,
	}}
	trait := NewDnD(device.send)

	if err := trait.Disable(context.Background()); err != nil {
		t.Fatal(err)
	}
	timer, ok := trait.Current()
	if !ok || timer.Enabled != 0 {
		t.Errorf("timer = %+v, ok = %v", timer, ok)
	}
}

func TestConsumablesReset(t *testing.T) {
	device := &fakeDevice{replies: map[string]string{
		"reset_consumable": `"ok"`,
		"get_consumable":   `{"main_brush_work_time":0,"filter_work_time":3600}`,
	}}
	trait := NewConsumables(device.send)

	if err := trait.Reset(context.Background(), ConsumableMainBrush); err != nil {
		t.Fatal(err)
	}
	state, ok := trait.Current()
	if !ok || state.MainBrushWorkTime != 0 || state.FilterWorkTime != 3600 {
		t.Errorf("state = %+v, ok = %v", state, ok)
	}

	if err := trait.Reset(context.Background(), "warp_core"); err == nil {
		t.Error("unknown consumable name must be rejected before sending")
	}
	if len(device.sent) != 2 {
		t.Errorf("commands sent = %v", device.sent)
	}
}

func TestCleanSummaryObjectAndLegacyForms(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    CleanHistory
		wantErr bool
	}{
		{
			name:    "object form",
			payload: `{"clean_time":7200,"clean_area":120000,"clean_count":14,"records":[100,101]}`,
			want:    CleanHistory{CleanTime: 7200, CleanArea: 120000, CleanCount: 14, Records: []int{100, 101}},
		},
		{
			name:    "legacy array form",
			payload: `[7200,120000,14,[100,101]]`,
			want:    CleanHistory{CleanTime: 7200, CleanArea: 120000, CleanCount: 14, Records: []int{100, 101}},
		},
		{
			name:    "legacy array without records",
			payload: `[7200,120000,14]`,
			want:    CleanHistory{CleanTime: 7200, CleanArea: 120000, CleanCount: 14},
		},
		{
			name:    "too short",
			payload: `[7200]`,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			trait := NewCleanSummary(nil)
			err := trait.Update(json.RawMessage(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			got, ok := trait.Current()
			if !ok {
				t.Fatal("no value after update")
			}
			if got.CleanTime != tc.want.CleanTime || got.CleanCount != tc.want.CleanCount {
				t.Errorf("got = %+v, want %+v", got, tc.want)
			}
			if len(got.Records) != len(tc.want.Records) {
				t.Errorf("records = %v, want %v", got.Records, tc.want.Records)
			}
		})
	}
}

func TestWashTowelSetMode(t *testing.T) {
	device := &fakeDevice{replies: map[string]string{
		"set_wash_towel_mode": `"ok"`,
		"get_wash_towel_mode": `{"wash_mode":2}`,
	}}
	trait := NewWashTowel(device.send)

	if err := trait.SetMode(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	mode, ok := trait.Current()
	if !ok || mode.WashMode != 2 {
		t.Errorf("mode = %+v, ok = %v", mode, ok)
	}
}

func TestRefreshPropagatesSendFailure(t *testing.T) {
	device := &fakeDevice{fail: errors.New("device unreachable")}
	trait := NewStatus(device.send)

	if err := trait.Refresh(context.Background()); err == nil {
		t.Fatal("expected send failure to propagate")
	}
	if _, ok := trait.Current(); ok {
		t.Error("failed refresh must not set a value")
	}
}
