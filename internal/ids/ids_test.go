package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNewUIDIsLowerCaseULID(t *testing.T) {
	uid := NewUID()
	assert.Len(t, uid, 26)
	assert.Equal(t, strings.ToLower(uid), uid)
	assert.True(t, Valid(uid))
	assert.False(t, Valid("not-a-ulid"))
}
