package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomIDFormat(t *testing.T) {
	assert := assert.New(t)
	none := func(string) bool { return false }

	for range 100 {
		id := GenerateRoomID(none)
		assert.Len(id, 4)
		assert.NoError(ValidateRoomID(id))
	}
}

func TestGenerateRoomIDAvoidsUsed(t *testing.T) {
	used := map[string]bool{"AAAA": true, "ZZZZ": true, "TEST": true}
	generated := make(map[string]bool)

	for range 1000 {
		id := GenerateRoomID(func(s string) bool { return used[s] || generated[s] })
		assert.False(t, used[id])
		assert.False(t, generated[id], "id %s was generated twice", id)
		generated[id] = true
	}
}

func TestValidateRoomID(t *testing.T) {
	for _, id := range []string{"BEAR", "game", "PlAy"} {
		assert.NoError(t, ValidateRoomID(id), id)
	}

	err := ValidateRoomID("ABC")
	assert.ErrorContains(t, err, "exactly 4 characters")

	err = ValidateRoomID("AB1D")
	assert.ErrorContains(t, err, "only letters A-Z")
}

func TestNormalizeRoomID(t *testing.T) {
	assert.Equal(t, "ABCD", NormalizeRoomID(" abcd "))
}
