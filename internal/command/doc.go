// Package command correlates outbound device commands with their results.
//
// Every command carries a fresh correlation id. Adapters echo it in a
// command_result message (and sometimes in the following state message).
// The Correlator keeps at most one pending command per device:
//
//	Register ─► pending ─┬─ result success ─► Success (entry kept until state advances)
//	                     ├─ result failure ─► Failed
//	                     ├─ newer Register ─► Unknown/superseded
//	                     ├─ timeout        ─► Unknown/timeout
//	                     └─ teardown       ─► Unknown/teardown
//
// The correlator is single-goroutine owned; its timers fire through a
// Scheduler so the owner can run them on its own event loop.
package command
