package hub

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

const (
	// inboxSize bounds raw messages queued ahead of the loop. A full inbox
	// blocks the broker's delivery goroutine.
	inboxSize = 256

	// opsSize bounds closures queued for the loop.
	opsSize = 64

	// defaultSaveDelay debounces snapshot writes.
	defaultSaveDelay = 2 * time.Second

	// saveTimeout bounds one snapshot write.
	saveTimeout = 10 * time.Second
)

// Connection is the broker connection the hub runs over.
// *mqtt.SharedConnection satisfies it.
type Connection interface {
	Subscribe(filter string, handler mqtt.MessageHandler) (unsubscribe func(), err error)
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Connected() bool
	FilterActive(filter string) bool
	Status() mqtt.ConnStatus
	OnTeardown(fn func()) (remove func())
}

// Fetcher returns the full device list from the REST surface.
type Fetcher interface {
	FetchDevices(ctx context.Context) ([]hdp.DeviceSnapshot, error)
}

// StateObserver is told about every accepted state update.
// It is called on the event loop and must not block.
type StateObserver interface {
	RecordState(deviceID string, state map[string]any, at time.Time)
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Hub.
type Options struct {
	// Conn is required.
	Conn Connection

	// Topics defaults to hdp.NewTopics(hdp.DefaultPrefix).
	Topics *hdp.Topics

	// Identity decides which ids are legacy. Zero value purges bare UUIDs
	// and unprefixed ids only.
	Identity device.IdentityPolicy

	// CommandTimeout defaults to command.DefaultTimeout.
	CommandTimeout time.Duration

	// AlwaysOn keeps the topic filters subscribed without any listener.
	AlwaysOn bool

	// Store enables warm start and debounced snapshot saving when set.
	Store device.SnapshotStore

	// SaveDelay debounces Store writes. Default 2s.
	SaveDelay time.Duration

	// Bootstrap is fetched once at Start when set.
	Bootstrap Fetcher

	// Observer receives accepted state when set.
	Observer StateObserver

	Logger Logger
}

func (o Options) withDefaults() Options {
	if o.Topics == nil {
		t := hdp.NewTopics(hdp.DefaultPrefix)
		o.Topics = &t
	}
	if o.SaveDelay <= 0 {
		o.SaveDelay = defaultSaveDelay
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}
