// Package hub is the device state synchronisation hub: the one object
// consumers use to see devices and command them.
//
// A Hub runs over a shared broker connection. It exposes five calls:
//
//	ListDevices()                     // current visible device list
//	Subscribe(onChange)               // coalesced change notifications
//	SendCommand(ctx, id, patch)       // correlated set_state with an Outcome
//	ConnectionStatus()                // metadata and state stream liveness
//	PairingSessions()                 // pairing progress per protocol
//
// Internally a single goroutine owns all mutable state. Inbound messages are
// decoded, reconciled, and correlated with pending commands there, and the
// resulting device list is published as an immutable snapshot. A burst of
// messages produces one notification per listener.
//
// Optional collaborators: a snapshot store for warm start, a state observer
// for telemetry, and a fetcher for a one-shot bootstrap of the device list.
package hub
