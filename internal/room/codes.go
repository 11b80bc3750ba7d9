package room

import (
	"errors"
	"math/rand"
	"strings"
)

// GenerateRoomID returns a 4-letter A-Z id not present in used.
func GenerateRoomID(used func(string) bool) string {
	for {
		code := make([]byte, 4)
		for i := range code {
			code[i] = 'A' + byte(rand.Intn(26))
		}
		id := string(code)
		if !used(id) {
			return id
		}
	}
}

// ValidateRoomID checks length and alphabet. It expects a normalized id.
func ValidateRoomID(id string) error {
	if len(id) != 4 {
		return errors.New("Room id must be exactly 4 characters")
	}
	for _, ch := range strings.ToUpper(id) {
		if ch < 'A' || ch > 'Z' {
			return errors.New("Room id must contain only letters A-Z")
		}
	}
	return nil
}

// NormalizeRoomID trims and upper-cases a user supplied room id.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
