package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystem_IsUTC(t *testing.T) {
	now := System{}.Now()
	require.Equal(t, time.UTC, now.Location())
	require.Zero(t, now.Nanosecond()%int(time.Millisecond))
}

func TestFake_SetAndAdvance(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	f := NewFake(start)
	require.True(t, f.Now().Equal(start))
	require.Equal(t, time.UTC, f.Now().Location())

	f.Advance(time.Hour)
	require.True(t, f.Now().Equal(start.Add(time.Hour)))

	f.Set(start)
	require.True(t, f.Now().Equal(start))
}
