package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// NewHex generates a 32 character identifier without dashes, the format
// used for account ids.
func NewHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValid checks if a string is a valid UUID, with or without dashes.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
