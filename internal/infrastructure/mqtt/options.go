package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish/subscribe acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultIdleGrace is how long a connection with no subscribers stays open.
	defaultIdleGrace = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize caps outbound payloads (1MB).
	maxPayloadSize = 1 << 20

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Endpoint identifies one physical broker connection.
// Two consumers configured with equal Endpoints share a SharedConnection.
type Endpoint struct {
	Host string
	Port int
	Path string // websocket path; empty selects plain MQTT
	TLS  bool
}

// URL returns the broker URL in the form paho expects.
//
// Example:
//
//	Endpoint{Host: "broker", Port: 1883}.URL()                       // tcp://broker:1883
//	Endpoint{Host: "broker", Port: 443, Path: "/mqtt", TLS: true}.URL() // wss://broker:443/mqtt
func (e Endpoint) URL() string {
	scheme := "tcp"
	switch {
	case e.Path != "" && e.TLS:
		scheme = "wss"
	case e.Path != "":
		scheme = "ws"
	case e.TLS:
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, e.Host, e.Port, e.Path)
}

func (e Endpoint) String() string {
	return e.URL()
}

// buildClientOptions creates paho MQTT options for one endpoint.
//
// This configures:
//   - Broker URL (tcp, ssl, ws or wss)
//   - Client ID for identification
//   - Clean session mode
//   - TLS configuration (if enabled)
//
// Auto-reconnect and connect-retry are disabled: the SharedConnection owns
// the reconnect schedule so every consumer observes the same state machine.
func buildClientOptions(ep Endpoint, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(ep.URL())
	opts.SetClientID(clientID)

	// Clean session - filters are re-issued by the registry after every connect
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWriteTimeout(defaultPublishTimeout)

	// Deliver messages one at a time in broker order
	opts.SetOrderMatters(true)

	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
