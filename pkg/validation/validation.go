package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex validates user, peer and group identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

func validateID(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", field)
	}
	if !IDRegex.MatchString(value) {
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

// ValidateUserID validates a user ID used as a call target
func ValidateUserID(userID string) error {
	return validateID(userID, "user ID")
}

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	return validateID(peerID, "peer ID")
}

// ValidateGroupID validates a group call ID
func ValidateGroupID(groupID string) error {
	return validateID(groupID, "group ID")
}

// ValidateDisplayName validates the name shown to the callee
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("display name is too long (max 100 characters)")
	}
	return nil
}

// ValidateHistoryLimit validates the page size of a history query
func ValidateHistoryLimit(limit int) error {
	if limit < 1 {
		return fmt.Errorf("limit must be at least 1")
	}
	if limit > 500 {
		return fmt.Errorf("limit is too high (max 500)")
	}
	return nil
}
