package util

import (
	"strings"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("OUTLINEBOT_TEST_STR", "  value  ")
	if got := GetEnv("OUTLINEBOT_TEST_STR", "def"); got != "value" {
		t.Errorf("GetEnv() = %q, want %q", got, "value")
	}
	t.Setenv("OUTLINEBOT_TEST_STR", "   ")
	if got := GetEnv("OUTLINEBOT_TEST_STR", "def"); got != "def" {
		t.Errorf("GetEnv() blank = %q, want default", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"1", false, true},
		{"false", true, false},
		{"off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("OUTLINEBOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("OUTLINEBOT_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	def := 5 * time.Second
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", def},
		{"10s", 10 * time.Second},
		{"1m30s", 90 * time.Second},
		{"7", 7 * time.Second},
		{"0", 0},
		{"-1", def},
		{"-5s", def},
		{"soon", def},
	}
	for _, tt := range tests {
		t.Setenv("OUTLINEBOT_TEST_DUR", tt.value)
		if got := ParseDurationEnv("OUTLINEBOT_TEST_DUR", def); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("OUTLINEBOT_TEST_INT", "42")
	if got := ParseIntEnv("OUTLINEBOT_TEST_INT", 3); got != 42 {
		t.Errorf("ParseIntEnv() = %d, want 42", got)
	}
	t.Setenv("OUTLINEBOT_TEST_INT", "many")
	if got := ParseIntEnv("OUTLINEBOT_TEST_INT", 3); got != 3 {
		t.Errorf("ParseIntEnv() invalid = %d, want default", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("OUTLINEBOT_TEST_FLOAT", " 0.2 ")
	if got := ParseFloatEnv("OUTLINEBOT_TEST_FLOAT", 0.7); got != 0.2 {
		t.Errorf("ParseFloatEnv() = %v, want 0.2", got)
	}
	t.Setenv("OUTLINEBOT_TEST_FLOAT", "warm")
	if got := ParseFloatEnv("OUTLINEBOT_TEST_FLOAT", 0.7); got != 0.7 {
		t.Errorf("ParseFloatEnv() invalid = %v, want default", got)
	}
}

func TestNewTraceID(t *testing.T) {
	id := NewTraceID("m_")
	if !strings.HasPrefix(id, "m_") {
		t.Fatalf("NewTraceID() = %q, want prefix m_", id)
	}
	hex := strings.TrimPrefix(id, "m_")
	if len(hex) != TraceIDLength {
		t.Errorf("hex part length = %d, want %d", len(hex), TraceIDLength)
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %q", c, id)
		}
	}
	if randomHex(0) != "" {
		t.Error("randomHex(0) should be empty")
	}
}
