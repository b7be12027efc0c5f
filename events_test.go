package warden

import (
	"io"
	"log/slog"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusExactTopic(t *testing.T) {
	bus := NewBus(quietLogger())

	var got []Event
	bus.Subscribe("post.published", func(ev Event) { got = append(got, ev) })

	bus.Publish("blog@1.0.0", "post.published", map[string]interface{}{"id": 7})
	bus.Publish("blog@1.0.0", "post.deleted", nil)

	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].Topic != "post.published" {
		t.Errorf("Topic = %q, want post.published", got[0].Topic)
	}
	if got[0].Source != "blog@1.0.0" {
		t.Errorf("Source = %q, want blog@1.0.0", got[0].Source)
	}
	if got[0].Payload["id"] != 7 {
		t.Errorf("Payload id = %v, want 7", got[0].Payload["id"])
	}
	if got[0].Time.IsZero() {
		t.Error("Time not stamped")
	}
}

func TestBusWildcard(t *testing.T) {
	bus := NewBus(quietLogger())

	var all, posts, comments int
	bus.Subscribe("*", func(Event) { all++ })
	bus.Subscribe("post.*", func(Event) { posts++ })
	bus.Subscribe("comment.*", func(Event) { comments++ })

	bus.Publish("p@1.0.0", "post.published", nil)
	bus.Publish("p@1.0.0", "post.updated", nil)
	bus.Publish("p@1.0.0", "comment.created", nil)
	bus.Publish("p@1.0.0", "user.login", nil)

	if all != 4 {
		t.Errorf("* handler saw %d events, want 4", all)
	}
	if posts != 2 {
		t.Errorf("post.* handler saw %d events, want 2", posts)
	}
	if comments != 1 {
		t.Errorf("comment.* handler saw %d events, want 1", comments)
	}
}

func TestBusPrefixDoesNotMatchBareTopic(t *testing.T) {
	bus := NewBus(quietLogger())

	var n int
	bus.Subscribe("post.*", func(Event) { n++ })

	// The wildcard covers segments under the prefix, not the prefix
	// itself and not lookalike prefixes.
	bus.Publish("p@1.0.0", "post", nil)
	bus.Publish("p@1.0.0", "poster.created", nil)

	if n != 0 {
		t.Errorf("handler saw %d events, want 0", n)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(quietLogger())

	var n int
	sub := bus.Subscribe("*", func(Event) { n++ })

	bus.Publish("p@1.0.0", "a", nil)
	bus.Unsubscribe(sub)
	bus.Publish("p@1.0.0", "b", nil)

	if n != 1 {
		t.Errorf("handler saw %d events, want 1", n)
	}

	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)
}

func TestBusHandlerPanicContained(t *testing.T) {
	bus := NewBus(quietLogger())

	var survived int
	bus.Subscribe("*", func(Event) { panic("handler bug") })
	bus.Subscribe("*", func(Event) { survived++ })

	bus.Publish("p@1.0.0", "topic", nil)

	if survived != 1 {
		t.Errorf("second handler saw %d events, want 1", survived)
	}
	stats := bus.Stats()
	if stats.HandlerPanics != 1 {
		t.Errorf("HandlerPanics = %d, want 1", stats.HandlerPanics)
	}
}

func TestBusStats(t *testing.T) {
	bus := NewBus(quietLogger())

	bus.Subscribe("a", func(Event) {})
	bus.Subscribe("*", func(Event) {})

	bus.Publish("p@1.0.0", "a", nil)
	bus.Publish("p@1.0.0", "b", nil)

	stats := bus.Stats()
	if stats.Published != 2 {
		t.Errorf("Published = %d, want 2", stats.Published)
	}
	if stats.Delivered != 3 {
		t.Errorf("Delivered = %d, want 3", stats.Delivered)
	}
	if stats.Subscribers != 2 {
		t.Errorf("Subscribers = %d, want 2", stats.Subscribers)
	}
}

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "anything", true},
		{"post.published", "post.published", true},
		{"post.published", "post.deleted", false},
		{"post.*", "post.published", true},
		{"post.*", "post.meta.updated", true},
		{"post.*", "post", false},
		{"post.*", "poster.created", false},
		{"", "post", false},
	}

	for _, tt := range tests {
		if got := topicMatches(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("topicMatches(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}
