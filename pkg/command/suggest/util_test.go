package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, Score("ki", "kick"))
	assert.Equal(t, 1.0, Score("KI", "kick"))
	assert.Equal(t, 0.5, Score("kick", "ki"))
	assert.Equal(t, 0.0, Score("zz", "kick"))
	assert.Equal(t, 0.5, Score("kc", "kick"))
}

func TestRank(t *testing.T) {
	got := Rank("de_", []string{"office", "de_inferno", "de_dust2"}, DefaultMinimumSimilarityScore)
	assert.Equal(t, []string{"de_inferno", "de_dust2"}, got)

	got = Rank("de_x", []string{"de_dust2", "de_x"}, 0)
	assert.Equal(t, []string{"de_x", "de_dust2"}, got)
	assert.Empty(t, Rank("zz", []string{"kick"}, 0.1))
}

func TestClosest(t *testing.T) {
	got, ok := Closest("moderater", []string{"admin", "moderator"})
	assert.True(t, ok)
	assert.Equal(t, "moderator", got)

	got, ok = Closest("ADMIN", []string{"admin"})
	assert.True(t, ok)
	assert.Equal(t, "admin", got)

	_, ok = Closest("zzz", []string{"admin", "moderator"})
	assert.False(t, ok)
}
