package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("test")
	id2 := GenerateID("test")

	if id1 == id2 {
		t.Error("expected different IDs")
	}
	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("expected prefix 'test_', got %s", id1)
	}
}

func TestGenerateMeshPeerID(t *testing.T) {
	a := GenerateMeshPeerID()
	b := GenerateMeshPeerID()
	if a == b {
		t.Error("expected unique mesh peer IDs")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{42 * time.Second, "0:42"},
		{42*time.Second + 900*time.Millisecond, "0:42"},
		{61 * time.Second, "1:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{-time.Second, "0:00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.in); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSystemClockFollowsNow(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	orig := Now
	Now = func() time.Time { return fixed }
	defer func() { Now = orig }()

	clock := SystemClock()
	if !clock().Equal(fixed) {
		t.Errorf("SystemClock() = %v, want %v", clock(), fixed)
	}
	if !IsExpired(fixed.Add(-time.Minute), 30*time.Second) {
		t.Error("expected timestamp to be expired")
	}
}
