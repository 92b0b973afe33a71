// Package device keeps the canonical device list of the hub.
//
// Protocol adapters describe devices in pieces: metadata, state, lifecycle
// events and command results arrive independently and out of order. The
// Reconciler merges those pieces into one Record per device id.
//
// # Rules
//
//   - State is a full replacement. State whose timestamp is not newer than
//     the stored one is dropped, so replays and reordering cannot regress a
//     device.
//   - Ids are "protocol/external". Bare UUIDs, single-segment ids and ids
//     matching configured legacy patterns are purged on sight.
//   - A record is listed once it has metadata or non-empty state.
//
// # Key Types
//
//   - Record: merged view of one device
//   - Reconciler: applies hdp messages and snapshots; single-goroutine owned
//   - IdentityPolicy: legacy id detection
//   - PairingTracker: per-protocol pairing progress
//   - SQLiteSnapshotStore: warm-start persistence of the visible list
//
// # Usage
//
//	policy, err := device.NewIdentityPolicy(cfg.Hub.LegacyIdentityPatterns)
//	if err != nil {
//	    return err
//	}
//	rec := device.NewReconciler(policy)
//
//	change := rec.Apply(decoder.Decode(topic, payload))
//	if change.Changed {
//	    publish(rec.List())
//	}
package device
