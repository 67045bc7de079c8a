package storage

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("expected unchanged, got %q", got)
	}
	if got := Truncate("héllo wörld", 4); got != "héll" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestLogWriter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := NewLogWriter(zap.New(core))
	var _ EventWriter = w

	w.Write(&ExecutionEvent{EventID: "e1", Kind: KindTransaction, Outcome: "blocked"})
	w.Close()

	entries := logs.FilterMessage("blink_event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event_id"] != "e1" || fields["outcome"] != "blocked" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
