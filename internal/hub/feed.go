package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberlink/emberlink/internal/infrastructure/mqtt"
)

// Sink receives decoded events from the feed. Offer blocks while the
// sink is full, which is how intake backpressure reaches the broker.
type Sink interface {
	Offer(ctx context.Context, ev StateChangeEvent) error
}

// Subscriber is the slice of the MQTT client the feed needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the minimal logging interface used by the feed.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// wireEvent is the hub's JSON document for one state transition.
type wireEvent struct {
	EventID      string            `json:"event_id"`
	OldState     string            `json:"old_state"`
	NewState     string            `json:"new_state"`
	DeviceClass  string            `json:"device_class"`
	FriendlyName string            `json:"friendly_name"`
	Attributes   map[string]string `json:"attributes"`
	Timestamp    string            `json:"timestamp"`
}

// Feed subscribes to the hub's state-change topics and forwards decoded
// events to the sink. Malformed payloads are logged and dropped, never
// fatal.
type Feed struct {
	sink   Sink
	cache  *StateCache
	topics mqtt.Topics
	qos    byte
	logger Logger

	// ctx bounds Offer calls so shutdown unblocks a feed stuck on a
	// full sink.
	ctx context.Context
}

// NewFeed creates a feed delivering into sink. The cache is optional;
// when nil no sensor snapshot is maintained.
func NewFeed(sink Sink, cache *StateCache, topicPrefix string, qos byte) *Feed {
	return &Feed{
		sink:   sink,
		cache:  cache,
		topics: mqtt.Topics{Prefix: topicPrefix},
		qos:    qos,
		logger: noopLogger{},
	}
}

// SetLogger replaces the feed's logger.
func (f *Feed) SetLogger(logger Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// Start subscribes to the wildcard state topic. ctx bounds the lifetime
// of sink hand-offs; cancel it during shutdown to unblock intake.
func (f *Feed) Start(ctx context.Context, sub Subscriber) error {
	f.ctx = ctx
	topic := f.topics.AllEntityStates()
	if err := sub.Subscribe(topic, f.qos, f.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	f.logger.Info("hub event feed started", "topic", topic, "qos", f.qos)
	return nil
}

// HandleMessage decodes one MQTT message into a StateChangeEvent and
// offers it to the sink. The entity domain and object id come from the
// topic path, the rest from the JSON body.
func (f *Feed) HandleMessage(topic string, payload []byte) error {
	ev, err := f.decode(topic, payload)
	if err != nil {
		// Malformed events are dropped, not propagated. Returning the
		// error would only log it again at the MQTT layer.
		f.logger.Warn("dropping malformed hub event", "topic", topic, "error", err)
		return nil
	}

	if f.cache != nil {
		f.cache.Observe(ev)
	}

	ctx := f.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := f.sink.Offer(ctx, ev); err != nil {
		f.logger.Error("event intake failed", "entity_id", ev.Entity.EntityID(), "error", err)
	}
	return nil
}

// decode parses the topic path and JSON body into a validated event.
func (f *Feed) decode(topic string, payload []byte) (StateChangeEvent, error) {
	domain, objectID, err := f.entityFromTopic(topic)
	if err != nil {
		return StateChangeEvent{}, err
	}

	var wire wireEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return StateChangeEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	ev := StateChangeEvent{
		EventID: wire.EventID,
		Entity: EntityRef{
			Domain:   domain,
			ObjectID: objectID,
			Class:    wire.DeviceClass,
		},
		OldState:     wire.OldState,
		NewState:     wire.NewState,
		FriendlyName: wire.FriendlyName,
		Attributes:   wire.Attributes,
		Timestamp:    time.Now().UTC(),
	}

	// Some hub firmwares omit event ids on replayed messages. Assign
	// one locally so downstream dedup bookkeeping has a key; replays
	// are then caught by the notification-level cooldown instead.
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}

	if wire.Timestamp != "" {
		if ts, perr := time.Parse(time.RFC3339, wire.Timestamp); perr == nil {
			ev.Timestamp = ts
		}
	}

	if err := ev.Validate(); err != nil {
		return StateChangeEvent{}, err
	}
	return ev, nil
}

// entityFromTopic extracts domain and object id from
// {prefix}/event/state/{domain}/{object_id}.
func (f *Feed) entityFromTopic(topic string) (domain, objectID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[len(parts)-4] != "event" || parts[len(parts)-3] != "state" {
		return "", "", fmt.Errorf("%w: unexpected topic %q", ErrMalformedEvent, topic)
	}
	domain = parts[len(parts)-2]
	objectID = parts[len(parts)-1]
	if domain == "" || objectID == "" {
		return "", "", fmt.Errorf("%w: empty entity segment in topic %q", ErrMalformedEvent, topic)
	}
	return domain, objectID, nil
}
