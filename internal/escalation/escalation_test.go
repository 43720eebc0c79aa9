package escalation

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTierForCount(t *testing.T) {
	tests := []struct {
		count int
		want  Tier
	}{
		{-1, Clean},
		{0, Clean},
		{1, Warned},
		{2, Muted},
		{3, Terminated},
		{4, Terminated},
		{100, Terminated},
	}
	for _, tt := range tests {
		if got := TierForCount(tt.count); got != tt.want {
			t.Errorf("TierForCount(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestTierForCount_Monotonic(t *testing.T) {
	prev := TierForCount(0)
	for n := 1; n <= 50; n++ {
		got := TierForCount(n)
		if got < prev {
			t.Fatalf("TierForCount(%d) = %v, below TierForCount(%d) = %v", n, got, n-1, prev)
		}
		prev = got
	}
}

func TestTier_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Tier{"tier": Muted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"tier":"muted"}` {
		t.Errorf("got %s", b)
	}

	var back map[string]Tier
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["tier"] != Muted {
		t.Errorf("round trip = %v, want muted", back["tier"])
	}
	if err := json.Unmarshal([]byte(`{"tier":"banished"}`), &back); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestPolicy_Notice(t *testing.T) {
	p := Policy{MuteDuration: 90 * time.Second}

	tests := []struct {
		tier  Tier
		count int
		want  string
	}{
		{Warned, 1, "Warning 1/3: your message violated the community guidelines"},
		{Muted, 2, "You have been timed out for 90 seconds due to repeated violations"},
		{Terminated, 3, "Stopped due to repeated violations"},
		{Clean, 0, ""},
	}
	for _, tt := range tests {
		if got := p.Notice(tt.tier, tt.count); got != tt.want {
			t.Errorf("Notice(%v) = %q, want %q", tt.tier, got, tt.want)
		}
	}
}

func TestTier_ViolationType(t *testing.T) {
	if Warned.ViolationType() != "warning" || Muted.ViolationType() != "timeout" || Terminated.ViolationType() != "stream_stop" {
		t.Error("unexpected violation type labels")
	}
}
