package validation

import (
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSessionID validates session ID format
func ValidateSessionID(id string) error {
	if len(id) == 0 || len(id) > 64 {
		return fmt.Errorf("session ID must be 1-64 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("session ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateEntityID validates character, campaign, quest and NPC ID format
func ValidateEntityID(id string) error {
	if len(id) == 0 || len(id) > 128 {
		return fmt.Errorf("entity ID must be 1-128 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("entity ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateName validates player-supplied display names
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > 100 {
		return fmt.Errorf("name must be 1-100 characters")
	}
	return nil
}

// ValidateAbilityScore validates one ability score
func ValidateAbilityScore(score int) error {
	if score < 1 || score > 30 {
		return fmt.Errorf("ability score must be between 1 and 30")
	}
	return nil
}

// ValidateLevel validates a character level
func ValidateLevel(level int) error {
	if level < 1 || level > 20 {
		return fmt.Errorf("level must be between 1 and 20")
	}
	return nil
}

// ValidateHPDelta validates a damage or healing amount
func ValidateHPDelta(delta int) error {
	if delta < 0 || delta > 1000 {
		return fmt.Errorf("amount must be between 0 and 1000")
	}
	return nil
}

// ValidateResponseText validates pasted GM response text
func ValidateResponseText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("response text is required")
	}
	if len(text) > 512*1024 {
		return fmt.Errorf("response text too large")
	}
	return nil
}
