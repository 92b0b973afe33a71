// Package mqtt provides shared broker connectivity for the device hub.
//
// This package manages:
//   - One physical connection per broker endpoint, shared by every consumer
//   - Reference-counted topic filter subscriptions with wildcard routing
//   - Exponential reconnect backoff owned by the connection, not the client library
//   - Idle teardown after the last subscriber leaves
//
// # Architecture
//
// A Pool maps an Endpoint (host, port, websocket path, TLS) to a
// SharedConnection. Each SharedConnection owns a Registry of filter to
// handler sets; the number of filters is the connection's reference count.
//
//	Pool ─► SharedConnection ─► Transport (paho)
//	                 │
//	                 └─► Registry ─► handlers (matched with Matches)
//
// Connection lifecycle:
//
//	idle ─(first subscribe)─► connecting ─► connected
//	                              ▲             │ (socket lost)
//	                              │             ▼
//	                              └──(backoff)─ disconnected
//	connected ─(no filters for IdleGrace)─► idle
//
// Messages are never interpreted here: the raw topic and payload are handed
// to every matching handler in broker delivery order.
//
// # Reconnect Policy
//
// The delay before attempt n is min(Max, Base*2^min(n, CapAttempt)); the
// defaults are 1.2s base, 30s ceiling and a cap of 6 doublings. A successful
// connect resets n to zero and re-subscribes every registered filter.
//
// # Usage
//
//	pool := mqtt.NewPool(mqtt.Options{ClientID: "devicehub", QoS: 1})
//	defer pool.Close()
//
//	conn := pool.Get(mqtt.Endpoint{Host: "localhost", Port: 1883})
//	unsubscribe, err := conn.Subscribe("homenavi/hdp/device/state/#",
//	    func(topic string, payload []byte) error {
//	        log.Printf("received %s", topic)
//	        return nil
//	    })
//	if err != nil {
//	    return err
//	}
//	defer unsubscribe()
package mqtt
