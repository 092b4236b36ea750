package store

import (
	"math"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestSettings_RunsAt(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		hour     int
		want     bool
	}{
		{"promo mode always due", Settings{PromoMode: true}, 3, true},
		{"matching hour", Settings{DailyRunHourUTC: intPtr(9)}, 9, true},
		{"other hour", Settings{DailyRunHourUTC: intPtr(9)}, 10, false},
		{"no schedule", Settings{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.RunsAt(tt.hour); got != tt.want {
				t.Errorf("RunsAt(%d) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestRunStatus_IsTerminal(t *testing.T) {
	if RunStatusPending.IsTerminal() {
		t.Error("PENDING must not be terminal")
	}
	for _, s := range []RunStatus{RunStatusPass, RunStatusWarn, RunStatusFail, RunStatusError, RunStatusBlocked} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestMoney_Value(t *testing.T) {
	if v := (Money{Amount: " 12.50 "}).Value(); v != 12.5 {
		t.Errorf("got %v, want 12.5", v)
	}
	if v := (Money{Amount: "n/a"}).Value(); !math.IsNaN(v) {
		t.Errorf("expected NaN, got %v", v)
	}
}

func TestBackoffPolicy_Next(t *testing.T) {
	exp := BackoffPolicy{Kind: BackoffExponential, Delay: 30 * time.Second}
	fixed := BackoffPolicy{Kind: BackoffFixed, Delay: time.Minute}

	tests := []struct {
		policy  BackoffPolicy
		attempt int
		want    time.Duration
	}{
		{exp, 0, 30 * time.Second},
		{exp, 1, 30 * time.Second},
		{exp, 2, time.Minute},
		{exp, 4, 4 * time.Minute},
		{fixed, 1, time.Minute},
		{fixed, 3, time.Minute},
	}

	for _, tt := range tests {
		if got := tt.policy.Next(tt.attempt); got != tt.want {
			t.Errorf("%s.Next(%d) = %v, want %v", tt.policy.Kind, tt.attempt, got, tt.want)
		}
	}
}
