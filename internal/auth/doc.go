// Package auth mints and validates the HS256 service tokens used by the
// device hub.
//
// Two things use them: the REST API requires a bearer token with the right
// scope when a secret is configured, and the fallback poller presents a
// token minted by a TokenSource when it fetches the device list.
//
// Scopes are static: devices:read for listing and status, devices:write for
// commands. Write implies read.
package auth
