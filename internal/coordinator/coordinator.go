package coordinator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/moentap/internal/api"
	"github.com/muurk/moentap/internal/logging"
)

const (
	// DefaultPollInterval is the period between scheduled full refreshes.
	DefaultPollInterval = 30 * time.Second

	// detailFetchLimit caps concurrent per-device detail fetches during a
	// refresh. Device counts are small so a low limit is plenty.
	detailFetchLimit = 4
)

// ErrNotFound is returned by Device for serials the registry has never
// successfully fetched.
var ErrNotFound = errors.New("coordinator: device not found")

// DeviceSource is the slice of the cloud API the coordinator consumes.
type DeviceSource interface {
	Devices(ctx context.Context) ([]api.DeviceSummary, error)
	DeviceDetail(ctx context.Context, serial string) (*api.DeviceState, error)
}

// UpdateFailedError is a total refresh failure: the device list itself could
// not be fetched, so no per-device merging happened.
type UpdateFailedError struct {
	Err error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("coordinator: refresh failed: %v", e.Err)
}

func (e *UpdateFailedError) Unwrap() error { return e.Err }

// PartialError notes the devices whose detail fetch failed during an
// otherwise successful refresh. Their previous records were retained.
type PartialError struct {
	Failed map[string]error // keyed by serial
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("coordinator: %d device(s) failed to refresh", len(e.Failed))
}

// Observer is notified after a device's authoritative state changes or a
// poll tick completes. The state is a private copy the observer may keep.
type Observer func(serial string, state *api.DeviceState)

// Coordinator owns the canonical device map: it is the single writer, fed
// by the scheduled poller and by push-event patches. Observers read
// consistent whole records, never half-applied patches.
type Coordinator struct {
	source   DeviceSource
	interval time.Duration

	mu        sync.Mutex
	devices   map[string]*api.DeviceState
	observers []Observer

	// refreshCh coalesces on-demand refresh requests: a trigger arriving
	// while one is already pending folds into it.
	refreshCh chan struct{}
}

// New creates a coordinator polling the given source. A non-positive
// interval selects DefaultPollInterval.
func New(source DeviceSource, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		source:    source,
		interval:  interval,
		devices:   make(map[string]*api.DeviceState),
		refreshCh: make(chan struct{}, 1),
	}
}

// OnDeviceUpdated registers an observer for device update notifications.
// Observers must be registered before Run starts; they are invoked from the
// refresh and patch paths.
func (c *Coordinator) OnDeviceUpdated(fn Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Device returns a copy of the device's last known state.
func (c *Coordinator) Device(serial string) (*api.DeviceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.devices[serial]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Serials returns the serial numbers of all known devices.
func (c *Coordinator) Serials() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.devices))
	for serial := range c.devices {
		out = append(out, serial)
	}
	return out
}

// Refresh performs one full refresh: the device list, then per-device
// detail fetches. A per-device failure retains that device's previous
// record and is reported in the returned PartialError; the refresh still
// succeeds. A list failure is total and returns UpdateFailedError.
//
// A notification fires for every listed device even when nothing changed
// (poll ticks are observable), but a record's identity only changes when
// its content changed, so observers can cheaply detect "nothing to do".
func (c *Coordinator) Refresh(ctx context.Context) (*PartialError, error) {
	list, err := c.source.Devices(ctx)
	if err != nil {
		return nil, &UpdateFailedError{Err: err}
	}

	fetched := make([]*api.DeviceState, len(list))
	fetchErrs := make([]error, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for i, summary := range list {
		i, summary := i, summary
		g.Go(func() error {
			st, err := c.source.DeviceDetail(gctx, summary.SerialNumber)
			if err != nil {
				// Partial failure: noted, never fails the group.
				fetchErrs[i] = err
				return nil
			}
			fetched[i] = st
			return nil
		})
	}
	_ = g.Wait()

	var partial *PartialError
	type notice struct {
		serial string
		state  *api.DeviceState
	}
	var notices []notice

	c.mu.Lock()
	next := make(map[string]*api.DeviceState, len(list))
	for i, summary := range list {
		serial := summary.SerialNumber
		prev := c.devices[serial]
		switch {
		case fetchErrs[i] != nil:
			logging.Warn("Device detail fetch failed, keeping previous state",
				zap.String("serial", serial),
				zap.Error(fetchErrs[i]),
			)
			if partial == nil {
				partial = &PartialError{Failed: make(map[string]error)}
			}
			partial.Failed[serial] = fetchErrs[i]
			if prev != nil {
				next[serial] = prev
			}
		case prev != nil && reflect.DeepEqual(prev, fetched[i]):
			// Unchanged: keep the old record identity.
			next[serial] = prev
		default:
			next[serial] = fetched[i]
		}
		if st := next[serial]; st != nil {
			notices = append(notices, notice{serial: serial, state: st.Clone()})
		}
	}
	c.devices = next
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	failed := 0
	if partial != nil {
		failed = len(partial.Failed)
	}
	logging.LogRefresh(len(list), failed)

	for _, n := range notices {
		for _, fn := range observers {
			fn(n.serial, n.state)
		}
	}

	return partial, nil
}

// RequestRefresh asks for an immediate out-of-schedule refresh. Requests
// arriving while one is already pending coalesce into a single refresh.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Run drives the scheduled refresh loop until the context is cancelled.
// The poll timer is independent of the push connection lifecycle; a dead
// push channel never stops polling.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.refreshCh:
		}

		if _, err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient failures wait for the next tick; nothing to do
			// here beyond logging. Stale data beats no data.
			logging.Error("Scheduled refresh failed", zap.Error(err))
		}
	}
}

// notifyLocked snapshots observers under the lock; callers invoke the
// returned closure after unlocking so observer code never runs under the
// registry mutex.
func (c *Coordinator) notifyLocked(serial string, st *api.DeviceState) func() {
	observers := append([]Observer(nil), c.observers...)
	clone := st.Clone()
	return func() {
		for _, fn := range observers {
			fn(serial, clone)
		}
	}
}
