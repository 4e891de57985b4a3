package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTradeExecutedEmitsStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	rec := New(&buf)

	rec.TradeExecuted("alice", "BTCUSDT", "long", decimal.NewFromInt(2), decimal.NewFromFloat(-12.5))

	var payload map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("event is not valid JSON: %v (%s)", err, buf.String())
	}
	if payload["event"] != EventTradeExecuted {
		t.Fatalf("expected event %s, got %v", EventTradeExecuted, payload["event"])
	}
	if payload["pnl"] != "-12.5" {
		t.Fatalf("expected pnl -12.5, got %v", payload["pnl"])
	}
	if payload["user_id"] != "alice" {
		t.Fatalf("expected user alice, got %v", payload["user_id"])
	}
}

func TestProtectionEventsCarryOperatorAndReason(t *testing.T) {
	var buf bytes.Buffer
	rec := New(&buf)

	rec.ProtectionTripped("bob", "daily loss limit", decimal.NewFromInt(-60), 2)
	rec.ProtectionResumed("bob", "ops@desk", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}
	if !strings.Contains(lines[0], EventProtectionTripped) || !strings.Contains(lines[0], "daily loss limit") {
		t.Fatalf("trip event malformed: %s", lines[0])
	}
	if !strings.Contains(lines[1], EventProtectionResumed) || !strings.Contains(lines[1], "ops@desk") {
		t.Fatalf("resume event malformed: %s", lines[1])
	}
}

func TestNilAndNopRecordersAreSafe(t *testing.T) {
	var rec *Recorder
	rec.OrderRejected("x", "y", "z") // must not panic

	Nop().OrderRejected("x", "y", "z")
}
