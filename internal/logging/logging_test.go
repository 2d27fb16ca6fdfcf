package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("node", "n3")).Warn(context.Background(), "relay attempt failed",
		Int("hop", 2), Err(errors.New("ack timeout")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "relay attempt failed" || rec["level"] != "WARN" {
		t.Fatalf("record = %v", rec)
	}
	if rec["node"] != "n3" || rec["hop"] != float64(2) || rec["error"] != "ack timeout" {
		t.Fatalf("fields = %v", rec)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %q", buf.String())
	}
	log.Info(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("info record missing: %q", buf.String())
	}
}

func TestWithPayloadLoggerReusesID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx := ContextWithPayloadID(context.Background(), "payload-1")
	ctx, log := WithPayloadLogger(ctx, base)
	if got := PayloadIDFromContext(ctx); got != "payload-1" {
		t.Fatalf("PayloadIDFromContext = %q, want payload-1", got)
	}
	log.Info(ctx, "split")
	if !strings.Contains(buf.String(), `"payload_id":"payload-1"`) {
		t.Fatalf("payload_id missing: %q", buf.String())
	}
	if LoggerFromContext(ctx) != log {
		t.Fatalf("payload logger not stored on the context")
	}

	fresh, id := EnsurePayloadID(context.Background())
	if id == "" || PayloadIDFromContext(fresh) != id {
		t.Fatalf("EnsurePayloadID = %q", id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected no logger on a bare context")
	}
	l := Noop()
	if got := LoggerFromContext(ContextWithLogger(context.Background(), l)); got != l {
		t.Fatalf("LoggerFromContext = %v, want %v", got, l)
	}
	if LoggerFromContext(ContextWithLogger(context.Background(), nil)) == nil {
		t.Fatalf("nil logger should be stored as Noop")
	}
}

func TestWithShareLoggerNarrowsPayloadLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, _ := WithPayloadLogger(ContextWithPayloadID(context.Background(), "p-7"), base)
	ctx, _ = WithShareLogger(ctx, Noop(), 3)
	FromContext(ctx, nil).Warn(ctx, "relay attempt failed", Node("n2"), Hop(1))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["payload_id"] != "p-7" || rec["share"] != float64(3) || rec["node"] != "n2" || rec["hop"] != float64(1) {
		t.Fatalf("record = %v", rec)
	}
}

func TestFromContextFallback(t *testing.T) {
	var buf bytes.Buffer
	fallback := New(Config{Output: &buf})
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatalf("FromContext = %v, want fallback", got)
	}
	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("nil fallback should yield Noop")
	}

	ctx, _ := WithShareLogger(context.Background(), fallback, 2)
	FromContext(ctx, nil).Info(ctx, "share delivered")
	if !strings.Contains(buf.String(), "share=2") {
		t.Fatalf("share field missing: %q", buf.String())
	}
}
