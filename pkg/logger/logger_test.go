package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestContextFieldsFollowTheOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "checkout-api", Level: zerolog.DebugLevel, Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithPaymentReference(ctx, "pi_1")
	ctx = log.WithOrderID(ctx, "ord_9")
	log.Error(ctx, "fulfillment failed", errors.New("smtp down"))

	entry := decodeLine(t, buf)
	for key, want := range map[string]string{
		"service":           "checkout-api",
		"request_id":        "req-123",
		"payment_reference": "pi_1",
		"order_id":          "ord_9",
		"error":             "smtp down",
		"level":             "error",
	} {
		if entry[key] != want {
			t.Fatalf("expected %s=%q got %v", key, want, entry[key])
		}
	}
	if _, ok := entry["stack"]; !ok {
		t.Fatalf("expected stack on error entries")
	}
}

func TestWarnStackToggle(t *testing.T) {
	quiet := &bytes.Buffer{}
	New(Options{ServiceName: "t", Output: quiet}).Warn(context.Background(), "guard unavailable")
	if _, ok := decodeLine(t, quiet)["stack"]; ok {
		t.Fatalf("warn must not carry a stack by default")
	}

	loud := &bytes.Buffer{}
	New(Options{ServiceName: "t", Output: loud, WarnStack: true}).Warn(context.Background(), "guard unavailable")
	if _, ok := decodeLine(t, loud)["stack"]; !ok {
		t.Fatalf("expected stack when warn stack enabled")
	}
}

func TestConsoleFormatIsNotJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "t", Output: buf, Format: FormatConsole}).Info(context.Background(), "catalog loaded")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "catalog loaded") {
		t.Fatalf("unexpected console output %q", buf.String())
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	for _, raw := range []string{"", "invalid"} {
		if lvl := ParseLevel(raw); lvl != zerolog.InfoLevel {
			t.Fatalf("ParseLevel(%q) expected info got %v", raw, lvl)
		}
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn got %v", lvl)
	}
}

func TestNopDiscards(t *testing.T) {
	Nop().Error(context.Background(), "ignored", errors.New("x"))
}

func TestEmptyIdentifiersAreNotLogged(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "checkout-api", Level: zerolog.DebugLevel, Output: buf})

	ctx := log.WithPaymentReference(context.Background(), "")
	ctx = log.WithOrderID(ctx, "")
	log.Info(ctx, "cod order placed")

	entry := decodeLine(t, buf)
	for _, key := range []string{"payment_reference", "order_id"} {
		if _, ok := entry[key]; ok {
			t.Fatalf("expected no %s field, got %v", key, entry[key])
		}
	}
}
