package control

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/moentap/internal/api"
	"github.com/muurk/moentap/internal/logging"
	"github.com/muurk/moentap/internal/optimistic"
	"github.com/muurk/moentap/internal/pusher"
)

// Mode command values accepted by the shower_control action. These are the
// command vocabulary, distinct from the richer mode enumeration the device
// reports back.
const (
	ModeOn    = "on"
	ModeOff   = "off"
	ModePause = "pause"
)

// startupDelay is how long to wait after turning the shower on before an
// outlet command, giving the controller time to leave the off state.
const startupDelay = 500 * time.Millisecond

// Registry is the slice of the coordinator the controller reads.
type Registry interface {
	Device(serial string) (*api.DeviceState, error)
}

// Trigger sends a control intent on a device's private channel.
type Trigger interface {
	Trigger(channelID, action string, params any) error
}

// OutletCommand is one entry of an outlets_set payload.
type OutletCommand struct {
	Position int  `json:"position"`
	Active   bool `json:"active"`
}

// Controller translates control intents into push events. Every write is
// optimistic: the overlay is updated before the command is sent, and the
// registry's next authoritative update clears it.
type Controller struct {
	registry Registry
	push     Trigger
	overlay  *optimistic.Overlay
}

// New creates a controller over the given registry, push client and
// overlay.
func New(registry Registry, push Trigger, overlay *optimistic.Overlay) *Controller {
	return &Controller{registry: registry, push: push, overlay: overlay}
}

// channelFor resolves a device's private channel id from the registry.
func (c *Controller) channelFor(serial string) (string, error) {
	st, err := c.registry.Device(serial)
	if err != nil {
		return "", err
	}
	if st.Channel == "" {
		return "", fmt.Errorf("device %s has no push channel", serial)
	}
	return st.Channel, nil
}

// SendCommand sends an arbitrary action with raw params on a device's
// channel. The typed methods below are preferred.
func (c *Controller) SendCommand(serial, action string, params any) error {
	ch, err := c.channelFor(serial)
	if err != nil {
		return err
	}
	return c.push.Trigger(ch, action, params)
}

// SetMode switches the shower on, off or paused.
func (c *Controller) SetMode(serial, mode string) error {
	ch, err := c.channelFor(serial)
	if err != nil {
		return err
	}

	c.overlay.Set(serial, optimistic.AttrPower, mode != ModeOff)
	if err := c.push.Trigger(ch, pusher.ActionShowerControl, map[string]string{"mode": mode}); err != nil {
		return err
	}

	logging.Debug("Mode command sent",
		zap.String("serial", serial),
		zap.String("mode", mode),
	)
	return nil
}

// SetTargetTemperature requests a new target temperature. The device takes
// whole degrees.
func (c *Controller) SetTargetTemperature(serial string, temperature float64) error {
	ch, err := c.channelFor(serial)
	if err != nil {
		return err
	}

	c.overlay.Set(serial, optimistic.AttrTargetTemperature, temperature)
	return c.push.Trigger(ch, pusher.ActionSetTemperature,
		map[string]int{"target_temperature": int(temperature)})
}

// ActivatePreset starts the preset stored at the given position.
func (c *Controller) ActivatePreset(serial string, position int) error {
	ch, err := c.channelFor(serial)
	if err != nil {
		return err
	}

	c.overlay.Set(serial, optimistic.AttrPower, true)
	return c.push.Trigger(ch, pusher.ActionActivatePreset,
		map[string]int{"position": position})
}

// SetOutlet switches one outlet on or off.
//
// The outlets_set payload is a full activation vector, so the current list
// is read back (overlay-aware) and only the targeted entry replaced;
// sibling outlets keep their current, possibly-also-optimistic, values.
// Turning an outlet on while the shower is off first turns the shower on;
// turning off the only active outlet turns the whole shower off instead.
func (c *Controller) SetOutlet(ctx context.Context, serial string, position int, active bool) error {
	st, err := c.registry.Device(serial)
	if err != nil {
		return err
	}
	if st.OutletAt(position) == nil {
		return fmt.Errorf("device %s has no outlet at position %d", serial, position)
	}

	c.overlay.Set(serial, optimistic.OutletAttr(position), active)

	if active && !st.Running() {
		if err := c.SetMode(serial, ModeOn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupDelay):
		}
		// Re-read: the mode command may already have been confirmed.
		if fresh, err := c.registry.Device(serial); err == nil {
			st = fresh
		}
	}

	if !active {
		if sole, only := c.soleActiveOutlet(serial, st); only && sole == position {
			logging.Debug("Last active outlet turned off, stopping shower",
				zap.String("serial", serial),
			)
			return c.SetMode(serial, ModeOff)
		}
	}

	vector := c.outletVector(serial, st, position, active)
	return c.SendCommand(serial, pusher.ActionOutletsSet,
		map[string][]OutletCommand{"outlets": vector})
}

// outletVector builds the full activation vector with one entry replaced.
// Each sibling's value is its overlay override when one is in effect,
// otherwise its registry value.
func (c *Controller) outletVector(serial string, st *api.DeviceState, position int, active bool) []OutletCommand {
	vector := make([]OutletCommand, 0, len(st.Outlets))
	for _, o := range st.Outlets {
		entry := OutletCommand{Position: o.Position, Active: o.Active}
		if ov, ok := c.overlay.Bool(serial, optimistic.OutletAttr(o.Position)); ok {
			entry.Active = ov
		}
		if o.Position == position {
			entry.Active = active
		}
		vector = append(vector, entry)
	}
	return vector
}

// soleActiveOutlet reports whether the registry record shows exactly one
// active outlet, and returns its position.
func (c *Controller) soleActiveOutlet(serial string, st *api.DeviceState) (int, bool) {
	count := 0
	pos := 0
	for _, o := range st.Outlets {
		if o.Active {
			count++
			pos = o.Position
		}
	}
	return pos, count == 1
}
