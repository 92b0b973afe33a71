// Package api implements the HTTP REST API and WebSocket push for the device hub.
//
// This package provides:
//   - REST endpoints for the device list, single devices, connection status
//     and pairing sessions
//   - POST /devices/{id}/state, which sends a command and waits for its outcome
//   - A WebSocket endpoint where every client is a hub listener receiving
//     devices.snapshot messages
//   - Middleware (request ID, logging, recovery, CORS, body limit, JWT scopes)
//
// # Security
//
// When security.jwt.secret is set, every route except /health needs an HS256
// bearer token. Reads need the devices:read scope and commands need
// devices:write. WebSocket upgrades may pass the token as ?access_token=.
//
// # Graceful Degradation
//
// Reads and WebSocket connections keep working while the broker is down;
// only commands fail, with 503.
package api
