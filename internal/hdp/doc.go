// Package hdp implements the HDP v1 wire format spoken by protocol adapters.
//
// Adapters publish device metadata, state, lifecycle events, command results
// and pairing progress under a common prefix (default "homenavi/hdp"):
//
//	homenavi/hdp/device/metadata/{protocol}/{external}
//	homenavi/hdp/device/state/{protocol}/{external}
//	homenavi/hdp/device/event/{protocol}/{external}
//	homenavi/hdp/device/command_result/{protocol}/{external}
//	homenavi/hdp/pairing/progress/{protocol}
//
// and consume commands on homenavi/hdp/device/command/{protocol}/{external}.
//
// Decoder.Decode maps a raw (topic, payload) pair onto exactly one Message
// variant. Malformed input becomes a ParseError value instead of an error
// return so the consumer's event loop handles every message uniformly.
package hdp
