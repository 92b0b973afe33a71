// Package fallback keeps the device list fresh when the broker is unreachable.
//
// Client fetches the full list from the device hub REST API
// (GET /api/hdp/devices) with an optional bearer token. Poller drives the
// client on an interval, but only while the shared broker connection is not
// connected; the first connect cancels the in-flight fetch and stops it.
//
// Fetched rows go through the same reconciliation path as pushed messages,
// so a slow poll can never regress state that arrived over the broker.
package fallback
