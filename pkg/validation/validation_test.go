package validation

import (
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"valid", "user123", false},
		{"valid uuid", "6f1c2b1e-9d4a-4f7e-8a57-0d5b2b3c4d5e", false},
		{"valid with dot", "alice.smith", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"space", "user name", true},
		{"slash", "user/name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGroupID(t *testing.T) {
	if err := ValidateGroupID("team-standup"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateGroupID(""); err == nil {
		t.Error("expected error for empty group ID")
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "Alice", false},
		{"unicode", "Zoë Ørsted", false},
		{"blank", "   ", true},
		{"too long", strings.Repeat("x", 101), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateHistoryLimit(t *testing.T) {
	if err := ValidateHistoryLimit(50); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateHistoryLimit(0); err == nil {
		t.Error("expected error for zero limit")
	}
	if err := ValidateHistoryLimit(501); err == nil {
		t.Error("expected error for limit above max")
	}
}
