package ratelimit

import (
	"testing"
	"time"
)

func TestFormatKey(t *testing.T) {
	if got := FormatKey(KeyTypeSession, "s-1"); got != "ratelimit:session:s-1" {
		t.Errorf("FormatKey() = %q", got)
	}
	if got := FormatKey(KeyTypeIdentity, "oncall"); got != "ratelimit:identity:oncall" {
		t.Errorf("FormatKey() = %q", got)
	}
}

func TestConfig_Enabled(t *testing.T) {
	tests := []struct {
		cfg  Config
		want bool
	}{
		{Config{}, false},
		{Config{Rate: 5}, false},
		{Config{Period: time.Minute}, false},
		{Config{Rate: 5, Period: time.Minute}, true},
	}
	for _, tt := range tests {
		if got := tt.cfg.Enabled(); got != tt.want {
			t.Errorf("%+v.Enabled() = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}
