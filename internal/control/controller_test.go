package control

import (
	"context"
	"errors"
	"testing"

	"github.com/muurk/moentap/internal/api"
	"github.com/muurk/moentap/internal/optimistic"
	"github.com/muurk/moentap/internal/pusher"
)

// fakeRegistry serves one device record per serial, cloned like the real
// registry so tests can mutate their copies safely.
type fakeRegistry struct {
	devices map[string]*api.DeviceState
}

func (r *fakeRegistry) Device(serial string) (*api.DeviceState, error) {
	st, ok := r.devices[serial]
	if !ok {
		return nil, errors.New("not found")
	}
	return st.Clone(), nil
}

// triggerRecorder captures every Trigger call in order.
type triggerRecorder struct {
	calls []triggerCall
	err   error
}

type triggerCall struct {
	channel string
	action  string
	params  any
}

func (r *triggerRecorder) Trigger(channelID, action string, params any) error {
	r.calls = append(r.calls, triggerCall{channel: channelID, action: action, params: params})
	return r.err
}

func twoOutletDevice(mode string, active0, active1 bool) *api.DeviceState {
	return &api.DeviceState{
		SerialNumber: "A100",
		Mode:         mode,
		Outlets: []api.Outlet{
			{Position: 0, Active: active0},
			{Position: 1, Active: active1},
		},
		Channel: "chan-a",
	}
}

func newTestController(st *api.DeviceState) (*Controller, *triggerRecorder, *optimistic.Overlay) {
	reg := &fakeRegistry{devices: map[string]*api.DeviceState{st.SerialNumber: st}}
	rec := &triggerRecorder{}
	ov := optimistic.New()
	return New(reg, rec, ov), rec, ov
}

func lastOutletsParam(t *testing.T, call triggerCall) []OutletCommand {
	t.Helper()
	m, ok := call.params.(map[string][]OutletCommand)
	if !ok {
		t.Fatalf("params = %#v, want outlets map", call.params)
	}
	return m["outlets"]
}

func TestSetMode(t *testing.T) {
	c, rec, ov := newTestController(twoOutletDevice(api.ModeOff, false, false))

	if err := c.SetMode("A100", ModeOn); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("trigger calls = %d, want 1", len(rec.calls))
	}
	call := rec.calls[0]
	if call.channel != "chan-a" || call.action != pusher.ActionShowerControl {
		t.Errorf("call = %+v", call)
	}
	if params, ok := call.params.(map[string]string); !ok || params["mode"] != "on" {
		t.Errorf("params = %#v, want mode on", call.params)
	}

	// The overlay carries the guess until authoritative state arrives.
	if b, ok := ov.Bool("A100", optimistic.AttrPower); !ok || !b {
		t.Errorf("power overlay = %v, %v, want true", b, ok)
	}

	if err := c.SetMode("A100", ModeOff); err != nil {
		t.Fatalf("SetMode(off) error = %v", err)
	}
	if b, ok := ov.Bool("A100", optimistic.AttrPower); !ok || b {
		t.Errorf("power overlay after off = %v, %v, want false", b, ok)
	}
}

func TestSetMode_UnknownDevice(t *testing.T) {
	c, rec, _ := newTestController(twoOutletDevice(api.ModeOff, false, false))

	if err := c.SetMode("GHOST", ModeOn); err == nil {
		t.Error("SetMode(unknown) did not fail")
	}
	if len(rec.calls) != 0 {
		t.Errorf("trigger calls = %d, want 0", len(rec.calls))
	}
}

func TestSetTargetTemperature(t *testing.T) {
	c, rec, ov := newTestController(twoOutletDevice(api.ModeReady, true, false))

	if err := c.SetTargetTemperature("A100", 39.6); err != nil {
		t.Fatalf("SetTargetTemperature() error = %v", err)
	}

	call := rec.calls[0]
	if call.action != pusher.ActionSetTemperature {
		t.Errorf("action = %s", call.action)
	}
	// The device takes whole degrees; the payload truncates.
	if params, ok := call.params.(map[string]int); !ok || params["target_temperature"] != 39 {
		t.Errorf("params = %#v, want target_temperature 39", call.params)
	}
	// The overlay keeps the full-precision request.
	if v, ok := ov.Value("A100", optimistic.AttrTargetTemperature); !ok || v != 39.6 {
		t.Errorf("temperature overlay = %v, %v", v, ok)
	}
}

func TestActivatePreset(t *testing.T) {
	c, rec, ov := newTestController(twoOutletDevice(api.ModeOff, false, false))

	if err := c.ActivatePreset("A100", 2); err != nil {
		t.Fatalf("ActivatePreset() error = %v", err)
	}

	call := rec.calls[0]
	if call.action != pusher.ActionActivatePreset {
		t.Errorf("action = %s", call.action)
	}
	if params, ok := call.params.(map[string]int); !ok || params["position"] != 2 {
		t.Errorf("params = %#v", call.params)
	}
	if b, ok := ov.Bool("A100", optimistic.AttrPower); !ok || !b {
		t.Error("preset activation did not assert power on")
	}
}

func TestSetOutlet_PreservesSiblings(t *testing.T) {
	// Outlet 1 is running; turning outlet 0 on must not switch outlet 1 off.
	c, rec, _ := newTestController(twoOutletDevice(api.ModeReady, false, true))

	if err := c.SetOutlet(context.Background(), "A100", 0, true); err != nil {
		t.Fatalf("SetOutlet() error = %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("trigger calls = %d, want 1", len(rec.calls))
	}
	if rec.calls[0].action != pusher.ActionOutletsSet {
		t.Errorf("action = %s", rec.calls[0].action)
	}
	vector := lastOutletsParam(t, rec.calls[0])
	want := []OutletCommand{{Position: 0, Active: true}, {Position: 1, Active: true}}
	if len(vector) != 2 || vector[0] != want[0] || vector[1] != want[1] {
		t.Errorf("vector = %+v, want %+v", vector, want)
	}
}

func TestSetOutlet_SiblingsReadOverlay(t *testing.T) {
	// The registry still shows outlet 1 off, but an in-flight command
	// asserted it on; building outlet 0's vector must honor that guess.
	c, rec, ov := newTestController(twoOutletDevice(api.ModeReady, false, false))
	ov.Set("A100", optimistic.OutletAttr(1), true)

	if err := c.SetOutlet(context.Background(), "A100", 0, true); err != nil {
		t.Fatalf("SetOutlet() error = %v", err)
	}

	vector := lastOutletsParam(t, rec.calls[0])
	want := []OutletCommand{{Position: 0, Active: true}, {Position: 1, Active: true}}
	if len(vector) != 2 || vector[0] != want[0] || vector[1] != want[1] {
		t.Errorf("vector = %+v, want %+v", vector, want)
	}
}

func TestSetOutlet_OnWhileOffStartsShower(t *testing.T) {
	c, rec, ov := newTestController(twoOutletDevice(api.ModeOff, false, false))

	if err := c.SetOutlet(context.Background(), "A100", 0, true); err != nil {
		t.Fatalf("SetOutlet() error = %v", err)
	}

	// Two commands: shower on, then the outlet vector.
	if len(rec.calls) != 2 {
		t.Fatalf("trigger calls = %d, want 2: %+v", len(rec.calls), rec.calls)
	}
	if rec.calls[0].action != pusher.ActionShowerControl {
		t.Errorf("first action = %s, want shower_control", rec.calls[0].action)
	}
	if params, ok := rec.calls[0].params.(map[string]string); !ok || params["mode"] != ModeOn {
		t.Errorf("first params = %#v, want mode on", rec.calls[0].params)
	}
	if rec.calls[1].action != pusher.ActionOutletsSet {
		t.Errorf("second action = %s, want outlets_set", rec.calls[1].action)
	}
	vector := lastOutletsParam(t, rec.calls[1])
	if vector[0].Active != true || vector[1].Active != false {
		t.Errorf("vector = %+v", vector)
	}
	if b, ok := ov.Bool("A100", optimistic.OutletAttr(0)); !ok || !b {
		t.Error("outlet overlay not asserted")
	}
}

func TestSetOutlet_LastActiveOffStopsShower(t *testing.T) {
	// Outlet 1 is the only active one; turning it off stops the whole
	// shower instead of sending an all-off vector.
	c, rec, _ := newTestController(twoOutletDevice(api.ModeReady, false, true))

	if err := c.SetOutlet(context.Background(), "A100", 1, false); err != nil {
		t.Fatalf("SetOutlet() error = %v", err)
	}

	if len(rec.calls) != 1 {
		t.Fatalf("trigger calls = %d, want 1: %+v", len(rec.calls), rec.calls)
	}
	if rec.calls[0].action != pusher.ActionShowerControl {
		t.Errorf("action = %s, want shower_control", rec.calls[0].action)
	}
	if params, ok := rec.calls[0].params.(map[string]string); !ok || params["mode"] != ModeOff {
		t.Errorf("params = %#v, want mode off", rec.calls[0].params)
	}
}

func TestSetOutlet_OffWithSiblingStillActive(t *testing.T) {
	// Both outlets running: turning one off keeps the shower on and sends
	// the reduced vector.
	c, rec, _ := newTestController(twoOutletDevice(api.ModeReady, true, true))

	if err := c.SetOutlet(context.Background(), "A100", 1, false); err != nil {
		t.Fatalf("SetOutlet() error = %v", err)
	}

	if len(rec.calls) != 1 || rec.calls[0].action != pusher.ActionOutletsSet {
		t.Fatalf("calls = %+v, want single outlets_set", rec.calls)
	}
	vector := lastOutletsParam(t, rec.calls[0])
	want := []OutletCommand{{Position: 0, Active: true}, {Position: 1, Active: false}}
	if len(vector) != 2 || vector[0] != want[0] || vector[1] != want[1] {
		t.Errorf("vector = %+v, want %+v", vector, want)
	}
}

func TestSetOutlet_UnknownPosition(t *testing.T) {
	c, rec, _ := newTestController(twoOutletDevice(api.ModeReady, false, false))

	if err := c.SetOutlet(context.Background(), "A100", 9, true); err == nil {
		t.Error("SetOutlet(position 9) did not fail")
	}
	if len(rec.calls) != 0 {
		t.Errorf("trigger calls = %d, want 0", len(rec.calls))
	}
}

func TestSetOutlet_TriggerError(t *testing.T) {
	c, rec, _ := newTestController(twoOutletDevice(api.ModeReady, false, true))
	rec.err = errors.New("not subscribed")

	if err := c.SetOutlet(context.Background(), "A100", 0, true); err == nil {
		t.Error("SetOutlet() swallowed the trigger error")
	}
}

func TestSendCommand(t *testing.T) {
	c, rec, _ := newTestController(twoOutletDevice(api.ModeReady, false, false))

	if err := c.SendCommand("A100", "firmware_check", nil); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if rec.calls[0].channel != "chan-a" || rec.calls[0].action != "firmware_check" {
		t.Errorf("call = %+v", rec.calls[0])
	}
}

func TestChannelForMissingChannel(t *testing.T) {
	st := twoOutletDevice(api.ModeReady, false, false)
	st.Channel = ""
	c, rec, _ := newTestController(st)

	if err := c.SetMode("A100", ModeOn); err == nil {
		t.Error("SetMode() with no channel did not fail")
	}
	if len(rec.calls) != 0 {
		t.Errorf("trigger calls = %d, want 0", len(rec.calls))
	}
}
