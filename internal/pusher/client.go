package pusher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/moentap/internal/logging"
	"github.com/muurk/moentap/internal/version"
)

const (
	// ChannelPrefix is prepended to a device's channel id to form its
	// private channel name.
	ChannelPrefix = "private-"

	// socketIDWait bounds how long Subscribe waits for the server-assigned
	// socket id before failing with ErrNotConnected.
	socketIDWait = 5 * time.Second

	// socketIDPollInterval is the increment used while waiting for the
	// socket id.
	socketIDPollInterval = 100 * time.Millisecond

	// writeWait is the time allowed to write a frame to the backend
	writeWait = 10 * time.Second
)

// Reserved protocol events handled internally, never routed to channel
// handlers.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventError                 = "pusher:error"
)

// ConnState is the lifecycle state of the push connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String returns a human-readable name for the connection state
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// AuthFunc exchanges a socket id and private channel name for a channel
// authorization signature. The cloud API client provides this.
type AuthFunc func(ctx context.Context, socketID, channelName string) (string, error)

// EventHandler receives events routed to a subscribed channel. Data is the
// decoded payload: a map for JSON objects, or the raw string when the
// payload could not be decoded further.
type EventHandler func(event string, data any)

type subState int

const (
	subUnsubscribed subState = iota
	subAuthPending
	subSubscribed
)

// subscription tracks one private channel. The handler is retained across
// connection drops so a reconnect can re-subscribe without caller action.
type subscription struct {
	channelID string
	name      string
	handler   EventHandler
	state     subState
}

// Config holds the settings for a push client.
type Config struct {
	// AppKey and Cluster come from the cloud credentials endpoint.
	AppKey  string
	Cluster string

	// Endpoint overrides the cluster-derived websocket URL. Used in tests.
	Endpoint string

	// AuthFunc authorizes private channel subscriptions.
	AuthFunc AuthFunc

	// Envelope selects the outbound client-event serialization. Defaults
	// to ClientEventEnvelope.
	Envelope Envelope

	// Reconnect enables automatic redial with exponential backoff after a
	// transport error. Explicit Disconnect never reconnects.
	Reconnect bool
}

// Client maintains one websocket connection to the push backend and
// multiplexes any number of private channel subscriptions over it.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	socketID string
	subs     map[string]*subscription // keyed by channel id
	readDone chan struct{}
	closed   bool
	baseCtx  context.Context

	writeMu sync.Mutex
}

// NewClient creates a push client. Connect must be called before any
// subscription.
func NewClient(cfg Config) *Client {
	if cfg.Envelope == nil {
		cfg.Envelope = ClientEventEnvelope{}
	}
	return &Client{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		state:   StateDisconnected,
		subs:    make(map[string]*subscription),
		baseCtx: context.Background(),
	}
}

// endpointURL builds the websocket URL for the configured backend.
func (c *Client) endpointURL() string {
	base := c.cfg.Endpoint
	if base == "" {
		base = fmt.Sprintf("wss://ws-%s.pusher.com:443", c.cfg.Cluster)
	}
	return fmt.Sprintf("%s/app/%s?protocol=7&client=moentap&version=%s",
		base, c.cfg.AppKey, version.Version)
}

// Connect dials the push backend and starts the inbound read loop. The
// connection is Connecting until the server's connection_established frame
// arrives; Subscribe calls made in that window queue rather than fail.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.AppKey == "" || (c.cfg.Cluster == "" && c.cfg.Endpoint == "") {
		return ErrNoCredentials
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.baseCtx = ctx
	c.mu.Unlock()

	endpoint := c.endpointURL()
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", ErrNotConnected, endpoint, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.readDone = done
	c.mu.Unlock()

	logging.LogConnection(endpoint, "transport_open")
	go c.readLoop(conn, done)
	return nil
}

// readLoop is the single inbound consumer for one transport connection.
// It exits when the transport errors or is closed; frames for a given
// channel are dispatched in arrival order.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.dispatch(msg)
	}
}

// dispatch parses one inbound frame and routes it. Malformed frames are
// logged and dropped; the connection stays open.
func (c *Client) dispatch(msg []byte) {
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		logging.Warn("Dropping malformed push frame",
			zap.Error(err),
			zap.Int("length", len(msg)),
		)
		return
	}

	logging.LogChannelEvent(frame.Channel, frame.Event, len(frame.Data))

	switch frame.Event {
	case eventConnectionEstablished:
		c.handleConnectionEstablished(frame.Data)
	case eventSubscriptionSucceeded:
		c.markSubscribed(frame.Channel)
	case eventPing:
		if err := c.writeFrame(&Frame{Event: eventPong, Data: json.RawMessage(`"{}"`)}); err != nil {
			logging.Debug("Failed to answer ping", zap.Error(err))
		}
	case eventError:
		// Protocol-level error frames are informational; the backend
		// keeps the connection open unless it also closes the transport.
		logging.Warn("Push backend reported error",
			zap.String("data", string(frame.Data)),
		)
	default:
		c.routeToChannel(&frame)
	}
}

// handleConnectionEstablished captures the server-assigned socket id and
// completes the Connecting -> Connected transition.
func (c *Client) handleConnectionEstablished(data json.RawMessage) {
	var body struct {
		SocketID string `json:"socket_id"`
	}
	payload := decodePayload(data)
	raw, err := json.Marshal(payload)
	if err != nil || json.Unmarshal(raw, &body) != nil || body.SocketID == "" {
		logging.Error("Connection established frame missing socket id",
			zap.String("data", string(data)),
		)
		return
	}

	c.mu.Lock()
	c.socketID = body.SocketID
	c.state = StateConnected
	c.mu.Unlock()

	logging.Info("Push connection established",
		zap.String("socket_id", body.SocketID),
	)
}

// markSubscribed completes a channel's subscribe handshake.
func (c *Client) markSubscribed(channelName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if sub.name == channelName {
			sub.state = subSubscribed
			logging.Info("Channel subscribed", zap.String("channel", channelName))
			return
		}
	}
	logging.Debug("Subscription confirmation for unknown channel",
		zap.String("channel", channelName),
	)
}

// routeToChannel delivers a non-reserved event to the channel's handler.
// Events for channels with no registered handler are dropped silently; this
// is expected in the window between a disconnect and a re-subscribe.
func (c *Client) routeToChannel(frame *Frame) {
	c.mu.Lock()
	var handler EventHandler
	for _, sub := range c.subs {
		if sub.name == frame.Channel {
			handler = sub.handler
			break
		}
	}
	c.mu.Unlock()

	if handler == nil {
		logging.Debug("Dropping event for unknown channel",
			zap.String("channel", frame.Channel),
			zap.String("event", frame.Event),
		)
		return
	}

	handler(frame.Event, decodePayload(frame.Data))
}

// decodePayload decodes a frame's data field. Pusher string-encodes nested
// JSON one extra level, so strings are decoded again where possible; when
// that fails the raw string passes through unchanged.
func decodePayload(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
		return s
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// handleReadError tears down connection state after a transport failure and
// kicks off the reconnect loop when enabled. An explicit Disconnect (state
// Closing) never reconnects.
func (c *Client) handleReadError(err error) {
	c.mu.Lock()
	closing := c.state == StateClosing || c.closed
	c.conn = nil
	c.socketID = ""
	c.state = StateDisconnected
	// Subscriptions are invalid on a dead connection, but handlers are
	// retained so a reconnect can re-subscribe.
	for _, sub := range c.subs {
		sub.state = subUnsubscribed
	}
	reconnect := c.cfg.Reconnect && !closing
	c.mu.Unlock()

	if closing {
		return
	}

	logging.Warn("Push connection lost", zap.Error(err))
	if reconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop redials with exponential backoff until the transport comes
// back or the client is closed, then re-subscribes every retained channel.
func (c *Client) reconnectLoop() {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // keep trying until closed

	op := func() error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return backoff.Permanent(ErrClosed)
		}
		ctx := c.baseCtx
		c.mu.Unlock()
		return c.Connect(ctx)
	}

	if err := backoff.Retry(op, backoff.WithContext(b, c.baseCtx)); err != nil {
		logging.Error("Push reconnect abandoned", zap.Error(err))
		return
	}

	c.resubscribeAll()
}

// resubscribeAll re-runs the subscribe handshake for every retained channel.
func (c *Client) resubscribeAll() {
	c.mu.Lock()
	ctx := c.baseCtx
	pending := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		pending = append(pending, sub)
	}
	c.mu.Unlock()

	for _, sub := range pending {
		if err := c.Subscribe(ctx, sub.channelID, sub.handler); err != nil {
			logging.Error("Failed to re-subscribe channel",
				zap.String("channel", sub.name),
				zap.Error(err),
			)
		}
	}
}

// waitSocketID blocks until the server-assigned socket id is known, the
// bounded wait elapses, or the client closes. Callers never need to retry
// Subscribe around the connect handshake.
func (c *Client) waitSocketID(ctx context.Context) (string, error) {
	deadline := time.Now().Add(socketIDWait)
	for {
		c.mu.Lock()
		id := c.socketID
		state := c.state
		closed := c.closed
		c.mu.Unlock()

		if closed || state == StateClosing {
			return "", ErrClosed
		}
		if id != "" && state == StateConnected {
			return id, nil
		}
		if time.Now().After(deadline) {
			return "", ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(socketIDPollInterval):
		}
	}
}

// Subscribe registers a handler for a device's private channel and performs
// the authorized subscribe handshake. It is idempotent per channel id:
// re-subscribing replaces the handler, and a channel already in the
// Subscribed state is not re-sent. Calls made before the connection id is
// known wait (bounded) rather than fail.
func (c *Client) Subscribe(ctx context.Context, channelID string, onEvent EventHandler) error {
	name := ChannelPrefix + channelID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	sub, exists := c.subs[channelID]
	if exists {
		sub.handler = onEvent
		if sub.state == subSubscribed {
			c.mu.Unlock()
			return nil
		}
	} else {
		sub = &subscription{channelID: channelID, name: name, handler: onEvent}
		c.subs[channelID] = sub
	}
	c.mu.Unlock()

	socketID, err := c.waitSocketID(ctx)
	if err != nil {
		return err
	}

	if c.cfg.AuthFunc == nil {
		return fmt.Errorf("%w: no auth function configured", ErrAuthDenied)
	}
	auth, err := c.cfg.AuthFunc(ctx, socketID, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthDenied, err)
	}

	data, err := json.Marshal(map[string]string{"channel": name, "auth": auth})
	if err != nil {
		return fmt.Errorf("encode subscribe request: %w", err)
	}
	if err := c.writeFrame(&Frame{Event: eventSubscribe, Data: data}); err != nil {
		return err
	}

	c.mu.Lock()
	if s, ok := c.subs[channelID]; ok && s.state == subUnsubscribed {
		s.state = subAuthPending
	}
	c.mu.Unlock()

	logging.Debug("Subscribe request sent", zap.String("channel", name))
	return nil
}

// Publish sends a client event verbatim on a subscribed channel.
func (c *Client) Publish(channelID, event string, payload any) error {
	name, err := c.requireSubscribed(channelID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", event, err)
	}
	return c.writeFrame(&Frame{Event: event, Channel: name, Data: data})
}

// Trigger sends a control intent on a subscribed channel using the
// configured envelope strategy.
func (c *Client) Trigger(channelID, action string, params any) error {
	name, err := c.requireSubscribed(channelID)
	if err != nil {
		return err
	}
	frame, err := c.cfg.Envelope.Encode(name, action, params)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// requireSubscribed checks the write-path preconditions for a channel and
// returns its private channel name.
func (c *Client) requireSubscribed(channelID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return "", ErrNotConnected
	}
	sub, ok := c.subs[channelID]
	if !ok || sub.state != subSubscribed {
		return "", ErrNotSubscribed
	}
	return sub.name, nil
}

// writeFrame serializes one outbound frame. Writes are serialized because
// gorilla/websocket allows at most one concurrent writer.
func (c *Client) writeFrame(frame *Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: write failed: %v", ErrNotConnected, err)
	}
	return nil
}

// Disconnect closes the transport and waits for the read loop to exit, so
// no dangling reader outlives the connection. Subscription handlers are
// retained; the client itself cannot be reused after Disconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	done := c.readDone
	if conn != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}

	_ = conn.Close()
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.conn = nil
	c.socketID = ""
	c.state = StateDisconnected
	for _, sub := range c.subs {
		sub.state = subUnsubscribed
	}
	c.mu.Unlock()

	logging.LogConnection(c.endpointURL(), "disconnected")
}

// State returns the current connection lifecycle state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID returns the server-assigned connection id, or "" before the
// connect handshake completes.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Subscribed reports whether a channel has completed its subscribe
// handshake.
func (c *Client) Subscribed(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[channelID]
	return ok && sub.state == subSubscribed
}
