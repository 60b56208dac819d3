package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/moentap/internal/api"
	"github.com/muurk/moentap/internal/config"
	"github.com/muurk/moentap/internal/control"
	"github.com/muurk/moentap/internal/coordinator"
	"github.com/muurk/moentap/internal/logging"
	"github.com/muurk/moentap/internal/optimistic"
	"github.com/muurk/moentap/internal/pusher"
)

// PasswordEnvVar supplies the account password. It is never stored in the
// configuration file.
const PasswordEnvVar = "MOENTAP_PASSWORD"

// subscribeWait bounds how long one-shot commands wait for the channel
// subscribe handshake before giving up.
const subscribeWait = 10 * time.Second

// Command flags
var (
	accountEmail string
	pollInterval int
	envelopeName string
	outputFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&accountEmail, "email", "", "Cloud account email (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, compact, json)")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(setModeCmd)
	rootCmd.AddCommand(setTempCmd)
	rootCmd.AddCommand(setOutletCmd)
	rootCmd.AddCommand(presetCmd)
}

// Outlet type names derived from the vendor's icon index. Presentation
// only; the sync engine treats the index as opaque.
var outletTypeNames = map[int]string{
	0: "Shower Head",
	1: "Rain Shower",
	2: "Hand Shower",
	3: "Body Spray",
	4: "Valve",
	5: "Water Feature",
	6: "Tub Spout",
}

// engine bundles the wired-together sync components for command use.
type engine struct {
	client     *api.Client
	coord      *coordinator.Coordinator
	push       *pusher.Client
	overlay    *optimistic.Overlay
	controller *control.Controller
	registry   *config.Registry
}

// newEngine loads configuration, authenticates and performs the first full
// refresh. The push connection is not opened yet; callers that need the
// live channel call connectPush.
func newEngine(ctx context.Context) (*engine, error) {
	if err := logging.InitializeFromEnv(); err != nil {
		return nil, err
	}

	registry, err := config.LoadRegistry()
	if err != nil {
		return nil, err
	}

	email := accountEmail
	if email == "" && registry.Account != nil {
		email = registry.Account.Email
	}
	password := os.Getenv(PasswordEnvVar)
	if email == "" || password == "" {
		return nil, fmt.Errorf("account credentials required: set --email (or config) and %s", PasswordEnvVar)
	}

	client := api.NewClient(email, password)
	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	interval := time.Duration(registry.Preferences.PollIntervalSeconds) * time.Second
	if pollInterval > 0 {
		interval = time.Duration(pollInterval) * time.Second
	}

	eng := &engine{
		client:   client,
		coord:    coordinator.New(client, interval),
		overlay:  optimistic.New(),
		registry: registry,
	}

	// Authoritative truth always clears optimistic guesses.
	eng.coord.OnDeviceUpdated(func(serial string, _ *api.DeviceState) {
		eng.overlay.ClearDevice(serial)
		registry.UpdateDeviceLastSeen(serial)
	})

	if partial, err := eng.coord.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial refresh failed: %w", err)
	} else if partial != nil {
		for serial, ferr := range partial.Failed {
			fmt.Fprintf(os.Stderr, "warning: device %s not refreshed: %v\n", serial, ferr)
		}
	}

	return eng, nil
}

// connectPush opens the push connection and subscribes every known device's
// private channel, wiring events into the coordinator.
func (e *engine) connectPush(ctx context.Context) error {
	creds, err := e.client.PushCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to get push credentials: %w", err)
	}

	ename := envelopeName
	if ename == "" {
		ename = e.registry.Preferences.CommandEnvelope
	}

	e.push = pusher.NewClient(pusher.Config{
		AppKey:    creds.AppKey,
		Cluster:   creds.Cluster,
		AuthFunc:  e.client.ChannelAuth,
		Envelope:  pusher.EnvelopeByName(ename),
		Reconnect: e.registry.Preferences.PushReconnect,
	})
	if err := e.push.Connect(ctx); err != nil {
		return err
	}

	for _, serial := range e.coord.Serials() {
		st, err := e.coord.Device(serial)
		if err != nil || st.Channel == "" {
			continue
		}
		if err := e.push.Subscribe(ctx, st.Channel, e.coord.Handler(serial)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: subscribe failed for %s: %v\n", serial, err)
		}
	}

	e.controller = control.New(e.coord, e.push, e.overlay)
	return nil
}

// waitSubscribed blocks until the device's channel completes its subscribe
// handshake, so one-shot commands don't race it.
func (e *engine) waitSubscribed(ctx context.Context, serial string) error {
	st, err := e.coord.Device(serial)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(subscribeWait)
	for !e.push.Subscribed(st.Channel) {
		if time.Now().After(deadline) {
			return fmt.Errorf("channel for device %s not subscribed in time", serial)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// withEngine runs a one-shot command against a fully connected engine.
func withEngine(fn func(ctx context.Context, eng *engine) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	if err := eng.connectPush(ctx); err != nil {
		return err
	}
	defer eng.push.Disconnect()

	return fn(ctx, eng)
}

// watchCmd runs the sync engine until interrupted
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync engine and print device updates",
	Long: `Run the full synchronization engine: authenticate, fetch all devices,
connect to the push backend, subscribe to every device's private channel,
and keep polling on a fixed interval. Device updates are printed as they
arrive until interrupted.`,
	Example: `  # Run with a 30s poll interval (default)
  moentap watch

  # Poll every 2 minutes
  moentap watch --interval 120`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&pollInterval, "interval", 0, "Poll interval in seconds (overrides config)")
	watchCmd.Flags().StringVar(&envelopeName, "envelope", "", "Command envelope strategy (client-event, control)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, eng *engine) error {
		eng.coord.OnDeviceUpdated(func(serial string, st *api.DeviceState) {
			fmt.Printf("%s  %s  mode=%-10s current=%3.0f target=%3.0f outlets=%v\n",
				time.Now().Format("15:04:05"), serial, st.Mode,
				st.CurrentTemperature, st.TargetTemperature, st.ActiveOutlets())
		})

		fmt.Printf("Watching %d device(s). Press Ctrl-C to stop.\n", len(eng.coord.Serials()))
		err := eng.coord.Run(ctx)

		// Persist the last-seen timestamps gathered while watching.
		if serr := eng.registry.Save(); serr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save config: %v\n", serr)
		}

		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
}

// devicesCmd lists devices and their current state
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices and their current state",
	Long: `Fetch the device list and full state of every shower controller on the
account and print them.`,
	Example: `  # Detailed listing
  moentap devices

  # JSON output for scripting
  moentap devices --format json`,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}

	// The initial refresh stamped every device's last-seen time; keep it.
	defer func() {
		if err := eng.registry.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save config: %v\n", err)
		}
	}()

	serials := eng.coord.Serials()
	sort.Strings(serials)

	if outputFormat == "json" {
		states := make([]*api.DeviceState, 0, len(serials))
		for _, serial := range serials {
			if st, err := eng.coord.Device(serial); err == nil {
				states = append(states, st)
			}
		}
		data, err := json.MarshalIndent(states, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(serials) == 0 {
		fmt.Println("No devices found on this account.")
		return nil
	}

	for i, serial := range serials {
		st, err := eng.coord.Device(serial)
		if err != nil {
			continue
		}
		name := st.Name
		if meta := eng.registry.GetDevice(serial); meta != nil && meta.Nickname != "" {
			name = meta.Nickname
		}
		if name == "" {
			name = "Shower " + serial
		}

		if outputFormat == "compact" {
			fmt.Printf("%s  %s  mode=%s  target=%.0f\n", serial, name, st.Mode, st.TargetTemperature)
			continue
		}

		fmt.Printf("%d. %s\n", i+1, name)
		fmt.Printf("   Serial:    %s\n", serial)
		fmt.Printf("   Mode:      %s\n", st.Mode)
		fmt.Printf("   Temp:      %.0f (target %.0f)\n", st.CurrentTemperature, st.TargetTemperature)
		fmt.Printf("   Firmware:  %s\n", st.FirmwareVersion)
		if lastSeen := eng.registry.DeviceLastSeen(serial); !lastSeen.IsZero() {
			fmt.Printf("   Last seen: %s\n", lastSeen.Format(time.RFC3339))
		}
		for _, o := range st.Outlets {
			label := outletTypeNames[o.IconIndex]
			if meta := eng.registry.GetDevice(serial); meta != nil {
				if om, ok := meta.Outlets[o.Position]; ok && om.Label != "" {
					label = om.Label
				}
			}
			if label == "" {
				label = fmt.Sprintf("Outlet %d", o.Position)
			}
			state := "off"
			if o.Active {
				state = "on"
			}
			fmt.Printf("   Outlet %d:  %-14s %s\n", o.Position, label, state)
		}
		for _, p := range st.Presets {
			fmt.Printf("   Preset %d:  %s (%.0f)\n", p.Position, p.Title, p.TargetTemperature)
		}
		fmt.Println()
	}

	return nil
}

// parseMode validates a mode command argument.
func parseMode(s string) (string, error) {
	switch s {
	case control.ModeOn, control.ModeOff, control.ModePause:
		return s, nil
	default:
		return "", fmt.Errorf("mode must be 'on', 'off' or 'pause', got %q", s)
	}
}

// parseOutletState validates an outlet state argument.
func parseOutletState(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("outlet state must be 'on' or 'off', got %q", s)
	}
}

// setModeCmd switches a shower on, off or paused
var setModeCmd = &cobra.Command{
	Use:   "set-mode <serial> <on|off|pause>",
	Short: "Switch a shower on, off or paused",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(args[1])
		if err != nil {
			return err
		}
		return withEngine(func(ctx context.Context, eng *engine) error {
			if err := eng.waitSubscribed(ctx, args[0]); err != nil {
				return err
			}
			return eng.controller.SetMode(args[0], mode)
		})
	},
}

// setTempCmd sets the target temperature
var setTempCmd = &cobra.Command{
	Use:   "set-temp <serial> <temperature>",
	Short: "Set the target temperature",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		temp, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q: %w", args[1], err)
		}
		return withEngine(func(ctx context.Context, eng *engine) error {
			if err := eng.waitSubscribed(ctx, args[0]); err != nil {
				return err
			}
			return eng.controller.SetTargetTemperature(args[0], temp)
		})
	},
}

// setOutletCmd switches one outlet on or off
var setOutletCmd = &cobra.Command{
	Use:   "set-outlet <serial> <position> <on|off>",
	Short: "Switch one outlet on or off",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		position, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid outlet position %q: %w", args[1], err)
		}
		active, err := parseOutletState(args[2])
		if err != nil {
			return err
		}
		return withEngine(func(ctx context.Context, eng *engine) error {
			if err := eng.waitSubscribed(ctx, args[0]); err != nil {
				return err
			}
			return eng.controller.SetOutlet(ctx, args[0], position, active)
		})
	},
}

// presetCmd activates a stored preset
var presetCmd = &cobra.Command{
	Use:   "preset <serial> <position>",
	Short: "Activate a stored preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		position, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid preset position %q: %w", args[1], err)
		}
		return withEngine(func(ctx context.Context, eng *engine) error {
			if err := eng.waitSubscribed(ctx, args[0]); err != nil {
				return err
			}
			return eng.controller.ActivatePreset(args[0], position)
		})
	},
}
