package pusher

import "errors"

var (
	// ErrNoCredentials is returned by Connect when the app key or cluster
	// is missing. The caller must fetch push credentials from the cloud
	// API before connecting.
	ErrNoCredentials = errors.New("pusher: app key and cluster required")

	// ErrNotConnected is returned when an operation needs a live
	// connection (or its socket id) and none became available in time.
	ErrNotConnected = errors.New("pusher: not connected")

	// ErrNotSubscribed is returned by Trigger when the target channel has
	// not completed its subscribe handshake.
	ErrNotSubscribed = errors.New("pusher: channel not subscribed")

	// ErrAuthDenied is returned by Subscribe when the channel
	// authorization exchange fails.
	ErrAuthDenied = errors.New("pusher: channel authorization denied")

	// ErrClosed is returned when the client has been explicitly
	// disconnected.
	ErrClosed = errors.New("pusher: client closed")
)
