package hub

import (
	"context"
	"errors"
	"testing"
	"time"
)

// collectSink records offered events for assertions.
type collectSink struct {
	events []StateChangeEvent
}

func (s *collectSink) Offer(_ context.Context, ev StateChangeEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func TestHandleMessageDecodesEvent(t *testing.T) {
	sink := &collectSink{}
	feed := NewFeed(sink, nil, "hub", 1)

	payload := []byte(`{
		"event_id": "evt-001",
		"old_state": "off",
		"new_state": "on",
		"device_class": "smoke",
		"friendly_name": "Kitchen Smoke",
		"timestamp": "2026-03-01T08:00:00Z"
	}`)

	if err := feed.HandleMessage("hub/event/state/binary_sensor/kitchen_smoke", payload); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}

	ev := sink.events[0]
	if ev.EventID != "evt-001" {
		t.Errorf("EventID = %q, want evt-001", ev.EventID)
	}
	if ev.Entity.EntityID() != "binary_sensor.kitchen_smoke" {
		t.Errorf("EntityID = %q, want binary_sensor.kitchen_smoke", ev.Entity.EntityID())
	}
	if ev.Entity.Class != "smoke" {
		t.Errorf("Class = %q, want smoke", ev.Entity.Class)
	}
	if ev.OldState != StateOff || ev.NewState != StateOn {
		t.Errorf("transition = %q->%q, want off->on", ev.OldState, ev.NewState)
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}
}

func TestHandleMessageDropsMalformedPayload(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"invalid json", "hub/event/state/binary_sensor/kitchen_smoke", `{not json`},
		{"missing new_state", "hub/event/state/binary_sensor/kitchen_smoke", `{"event_id":"e1","old_state":"off"}`},
		{"wrong topic shape", "hub/event/binary_sensor/kitchen_smoke", `{"event_id":"e1","new_state":"on"}`},
		{"empty entity segment", "hub/event/state//", `{"event_id":"e1","new_state":"on"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &collectSink{}
			feed := NewFeed(sink, nil, "hub", 1)

			if err := feed.HandleMessage(tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("HandleMessage() error = %v, want nil (drop, not propagate)", err)
			}
			if len(sink.events) != 0 {
				t.Errorf("expected event to be dropped, got %d events", len(sink.events))
			}
		})
	}
}

func TestHandleMessageAssignsEventIDWhenMissing(t *testing.T) {
	sink := &collectSink{}
	feed := NewFeed(sink, nil, "hub", 1)

	payload := []byte(`{"old_state":"off","new_state":"on","device_class":"gas"}`)
	if err := feed.HandleMessage("hub/event/state/binary_sensor/boiler_gas", payload); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].EventID == "" {
		t.Error("expected locally assigned event id, got empty")
	}
}

func TestHandleMessageUpdatesCache(t *testing.T) {
	sink := &collectSink{}
	cache := NewStateCache(func(class string) bool { return class == "smoke" })
	feed := NewFeed(sink, cache, "hub", 1)

	smoke := []byte(`{"event_id":"e1","old_state":"off","new_state":"on","device_class":"smoke"}`)
	motion := []byte(`{"event_id":"e2","old_state":"off","new_state":"on","device_class":"motion"}`)

	_ = feed.HandleMessage("hub/event/state/binary_sensor/hall_smoke", smoke)
	_ = feed.HandleMessage("hub/event/state/binary_sensor/hall_motion", motion)

	if cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d, want 1 (motion filtered out)", cache.Len())
	}
	s, ok := cache.Get("binary_sensor.hall_smoke")
	if !ok {
		t.Fatal("expected cached state for binary_sensor.hall_smoke")
	}
	if !s.Triggered() {
		t.Error("expected cached sensor to be triggered")
	}
}

func TestParseEntityID(t *testing.T) {
	domain, objectID, err := ParseEntityID("binary_sensor.kitchen_smoke")
	if err != nil {
		t.Fatalf("ParseEntityID() error = %v", err)
	}
	if domain != "binary_sensor" || objectID != "kitchen_smoke" {
		t.Errorf("got (%q, %q), want (binary_sensor, kitchen_smoke)", domain, objectID)
	}

	if _, _, err := ParseEntityID("no-dot"); !errors.Is(err, ErrInvalidEntityID) {
		t.Errorf("ParseEntityID(no-dot) error = %v, want ErrInvalidEntityID", err)
	}
}

func TestStateCacheSnapshotOrdered(t *testing.T) {
	cache := NewStateCache(nil)
	for _, id := range []string{"c", "a", "b"} {
		cache.Observe(StateChangeEvent{
			EventID:  "e-" + id,
			Entity:   EntityRef{Domain: "binary_sensor", ObjectID: id, Class: "smoke"},
			NewState: StateOff,
		})
	}

	snap := cache.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
	for i, want := range []string{"binary_sensor.a", "binary_sensor.b", "binary_sensor.c"} {
		if snap[i].EntityID != want {
			t.Errorf("snap[%d].EntityID = %q, want %q", i, snap[i].EntityID, want)
		}
	}
}
