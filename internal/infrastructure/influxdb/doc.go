// Package influxdb records device state telemetry in InfluxDB.
//
// A Sink wraps the influxdb-client-go v2 non-blocking write API. The hub
// calls RecordState for every accepted state update; numeric and boolean
// properties become fields of a "device_state" point tagged with the device
// id and protocol.
//
// # Usage
//
//	sink, err := influxdb.Connect(ctx, cfg.InfluxDB, func(err error) {
//	    log.Error("influxdb write failed", "error", err)
//	})
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	sink.RecordState("zigbee/lamp", map[string]any{"on": true, "brightness": 180}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered to the onError
// callback given to Connect. Connection and health check errors are returned
// directly.
package influxdb
