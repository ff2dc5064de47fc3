package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversAndStamps(t *testing.T) {
	sink := NewChannelSink(4)
	fixed := time.Unix(1700000000, 0)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Now: func() time.Time { return fixed }}, sink)

	d.Emit(context.Background(), Event{Category: "login_attempt", Target: "a@b.c"})
	d.Close()

	select {
	case ev := <-sink.Events():
		if ev.Category != "login_attempt" || !ev.Timestamp.Equal(fixed) {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("expected event to be delivered before Close returns")
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	if d != nil {
		t.Fatalf("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("expected zero drops on nil dispatcher")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	block := make(chan struct{})
	sink := SinkFunc(func(context.Context, Event) { <-block })
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Category: "logout"})
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected some events dropped")
	}
	close(block)
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Category: "otp_issued", Target: "a@b.c", Success: true})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["category"] != "otp_issued" || decoded["target"] != "a@b.c" {
		t.Fatalf("unexpected json %s", line)
	}
}

func TestZapSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))
	s.Emit(context.Background(), Event{Category: "role_mismatch", Reason: "expected hospital"})

	entries := logs.FilterMessage("role_mismatch").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["reason"] != "expected hospital" {
		t.Fatalf("missing reason field: %v", entries[0].ContextMap())
	}
}
