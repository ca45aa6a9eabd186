package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("MOODPIPE_TEST_BOOL", tt.value)
			if got := ParseBoolEnv("MOODPIPE_TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("MOODPIPE_TEST_INT", "42")
	if got := ParseIntEnv("MOODPIPE_TEST_INT", 7); got != 42 {
		t.Errorf("ParseIntEnv() = %d, want 42", got)
	}
	t.Setenv("MOODPIPE_TEST_INT", "forty")
	if got := ParseIntEnv("MOODPIPE_TEST_INT", 7); got != 7 {
		t.Errorf("ParseIntEnv() with invalid value = %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("MOODPIPE_TEST_DURATION", "1500ms")
	if got := ParseDurationEnv("MOODPIPE_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Errorf("ParseDurationEnv() = %v, want 1.5s", got)
	}
	for _, bad := range []string{"soon", "-2s", "0s"} {
		t.Setenv("MOODPIPE_TEST_DURATION", bad)
		if got := ParseDurationEnv("MOODPIPE_TEST_DURATION", time.Second); got != time.Second {
			t.Errorf("ParseDurationEnv(%q) = %v, want default 1s", bad, got)
		}
	}
}
