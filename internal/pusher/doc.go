// Package pusher implements the client side of the Pusher-compatible push
// backend used by U by Moen shower controllers.
//
// One Client owns one websocket connection and multiplexes any number of
// private channel subscriptions over it. Each device has a stable channel
// id; its private channel name is "private-" plus that id.
//
// # Connection Lifecycle
//
// The connection moves through Disconnected -> Connecting -> Connected and
// back. The Connected transition happens when the server's
// pusher:connection_established frame delivers the socket id, which is
// required input to every private-channel authorization exchange. Subscribe
// calls made while the socket id is still unknown wait (bounded, ~5s in
// 100ms increments) instead of failing, so callers never need to retry
// around the connect handshake.
//
// # Wire Format
//
// Every frame is {"event": string, "channel": string?, "data": string|object}.
// The data field of server frames is often a JSON-encoded string and is
// decoded one extra level when possible. Reserved pusher:* and
// pusher_internal:* events are handled internally; everything else routes to
// the channel's registered handler. Events for channels with no handler are
// dropped silently, which is expected between a disconnect and re-subscribe.
//
// # Outbound Events
//
// Two backend generations use incompatible client-event conventions: flat
// "client-<name>" events, and a nested {"type":"control","data":{...}}
// envelope on a single client-state-desired event. The Envelope interface
// makes the choice a configuration concern; see ClientEventEnvelope and
// ControlEnvelope.
//
// # Concurrency
//
// A single read-loop goroutine consumes the transport, so events for a
// given channel are delivered in arrival order. Writes are serialized
// internally. Disconnect cancels the read loop and waits for it to exit
// before releasing the transport.
package pusher
