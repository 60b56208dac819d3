// Package api implements the client for the U by Moen vendor cloud.
//
// The cloud exposes a small HTTP surface plus a Pusher-compatible push
// backend. This package covers the HTTP side: session authentication,
// device listing and detail fetches, push-backend credential retrieval,
// and the private-channel authorization exchange used during subscribe
// handshakes.
//
// # Session Handling
//
// The client holds the session token internally. The first authenticated
// request triggers an authentication exchange; a 401 on any later request
// drops the token so the next request re-authenticates. Authentication
// failures are surfaced as APIError with ErrTypeAuth and are never retried
// automatically.
//
// # Endpoints
//
//	GET  /v2/authenticate?email=&password=  -> {token}
//	GET  /v3/credentials                    -> {app_key, cluster}
//	GET  /v2/showers                        -> [device summaries]
//	GET  /v5/showers/{serial}               -> full device state
//	POST /v3/pusher-auth (form)             -> {auth}
//
// # Error Classification
//
// All errors are *APIError values carrying an ErrorType (Auth, Network,
// HTTP, Parse) and a Retryable flag. Network and 5xx errors are retryable
// by the next scheduled poll; auth and parse errors are not.
package api
