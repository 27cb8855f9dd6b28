package kafka

import (
	"testing"
	"time"
)

func TestNewEnvelopeGeneratesID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	env, err := NewEnvelope("", "trade.executed", 1, "req-1", now)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.EventID == "" {
		t.Fatalf("expected generated event id")
	}
	if !env.Timestamp.Equal(now) || env.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", env.Timestamp)
	}
}

func TestNewEnvelopeValidates(t *testing.T) {
	if _, err := NewEnvelope("id", "", 1, "", time.Now()); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := NewEnvelope("id", "trade.executed", 0, "", time.Now()); err == nil {
		t.Fatalf("expected error for bad version")
	}
}

func TestDeterministicEventID(t *testing.T) {
	a := DeterministicEventID("trade", "123")
	b := DeterministicEventID("trade", "123")
	c := DeterministicEventID("trade", "124")
	if a != b {
		t.Fatalf("expected stable id")
	}
	if a == c {
		t.Fatalf("expected distinct ids")
	}
}
