package idgen

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// New returns a UUIDv7 identifier string.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var commandIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]*[a-zA-Z0-9])?$`)

// ValidateCommandID checks that id is a valid caller-supplied command ID.
// Rules: letters, digits, dashes and underscores; must start and end with a
// letter or digit; max 64 characters.
func ValidateCommandID(id string) error {
	if id == "" {
		return fmt.Errorf("command id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("command id too long (max 64 characters)")
	}
	if !commandIDPattern.MatchString(id) {
		return fmt.Errorf("command id %q is invalid: must match %s", id, commandIDPattern.String())
	}
	return nil
}
