package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Transport is one physical broker socket. It does not reconnect on its own
// and never interprets payloads.
//
// Implementations must be safe for concurrent use. Connect may be called
// again after a failed attempt or a lost connection.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(filter string, qos byte) error
	Unsubscribe(filter string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TransportHooks are the callbacks a Transport reports into.
type TransportHooks struct {
	// OnMessage receives every inbound message in broker delivery order.
	OnMessage func(topic string, payload []byte)

	// OnConnectionLost fires when an established connection drops.
	OnConnectionLost func(err error)
}

// TransportFactory builds a Transport for an endpoint.
type TransportFactory func(ep Endpoint, clientID string, hooks TransportHooks) Transport

// pahoTransport implements Transport on top of paho.mqtt.golang.
type pahoTransport struct {
	client pahomqtt.Client
}

// NewPahoTransport is the production TransportFactory.
func NewPahoTransport(ep Endpoint, clientID string, hooks TransportHooks) Transport {
	opts := buildClientOptions(ep, clientID)

	// Subscriptions are issued with a nil callback so every message lands here.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if hooks.OnMessage != nil {
			hooks.OnMessage(msg.Topic(), msg.Payload())
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})

	return &pahoTransport{client: pahomqtt.NewClient(opts)}
}

// Connect performs the handshake, honouring ctx cancellation.
func (t *pahoTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		t.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Disconnect closes the socket after a short quiesce period.
func (t *pahoTransport) Disconnect() {
	if t.client.IsConnectionOpen() {
		t.client.Disconnect(defaultDisconnectQuiesce)
	}
}

// Subscribe issues a broker-level subscribe and waits for the SUBACK.
func (t *pahoTransport) Subscribe(filter string, qos byte) error {
	token := t.client.Subscribe(filter, qos, nil)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe issues a broker-level unsubscribe.
func (t *pahoTransport) Unsubscribe(filter string) error {
	token := t.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Publish sends one message and waits for the broker acknowledgment.
func (t *pahoTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
