package confirmation

import (
	"testing"
	"time"
)

func TestEntry_Effective(t *testing.T) {
	base := time.Date(2026, 2, 14, 1, 0, 0, 0, time.UTC)
	window := 10 * time.Minute

	tests := []struct {
		name  string
		entry Entry
		now   time.Time
		want  State
	}{
		{"fresh unconfirmed", Entry{State: StateUnconfirmed, ProposedAt: base}, base.Add(time.Minute), StateUnconfirmed},
		{"stale unconfirmed", Entry{State: StateUnconfirmed, ProposedAt: base}, base.Add(window), StateExpired},
		{"fresh confirmed", Entry{State: StateConfirmed, ProposedAt: base, ConfirmedAt: base.Add(9 * time.Minute)}, base.Add(15 * time.Minute), StateConfirmed},
		{"stale confirmed", Entry{State: StateConfirmed, ProposedAt: base, ConfirmedAt: base}, base.Add(11 * time.Minute), StateExpired},
		{"expired stays expired", Entry{State: StateExpired, ProposedAt: base}, base, StateExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Effective(tt.now, window); got != tt.want {
				t.Errorf("Effective() = %s, want %s", got, tt.want)
			}
		})
	}
}
