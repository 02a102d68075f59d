package service

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOnlineAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	threshold := 60 * time.Second

	tests := []struct {
		name       string
		lastActive time.Time
		want       bool
	}{
		{"fresh", now.Add(-59 * time.Second), true},
		{"exactly at threshold", now.Add(-60 * time.Second), false},
		{"stale", now.Add(-61 * time.Second), false},
		{"never active", time.Time{}, false},
		{"just now", now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOnlineAt(now, tt.lastActive, threshold))
		})
	}
}

func TestSanitizeTopicName(t *testing.T) {
	assert.Equal(t, "coffee", SanitizeTopicName("Coffee"))
	assert.Equal(t, "coffee_tea", SanitizeTopicName("  Coffee & Tea  "))
	assert.Equal(t, "rock_n_roll_", SanitizeTopicName("Rock-n-Roll!!"))
	assert.Equal(t, "caf_", SanitizeTopicName("Café"))
	assert.Equal(t, "a_b", SanitizeTopicName("a__b"))
	assert.Equal(t, SanitizeTopicName("coffee"), SanitizeTopicName("COFFEE"))
}

func TestDistanceKm(t *testing.T) {
	d, err := DistanceKm(0, 0, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, d)

	// Paris to London is about 344 km.
	d, err = DistanceKm(48.8566, 2.3522, 51.5074, -0.1278)
	require.NoError(t, err)
	assert.InDelta(t, 344, d, 2)

	_, err = DistanceKm(91, 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)

	_, err = DistanceKm(math.NaN(), 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}
