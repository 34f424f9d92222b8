package domain

import "testing"

func TestSignalLevelString(t *testing.T) {
	tests := []struct {
		level SignalLevel
		want  string
	}{
		{0, "Not available"},
		{1, "-10 to 0 dB"},
		{2, "-15 to -10 dB"},
		{7, "-40 to -35 dB"},
		{14, "-75 to -70 dB"},
		{15, "≤ -75 dB"},
		{16, Unknown},
		{-1, Unknown},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("SignalLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
