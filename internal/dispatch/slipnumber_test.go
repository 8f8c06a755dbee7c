package dispatch

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlipNumberFormat(t *testing.T) {
	gen := &SlipNumberGenerator{
		now:  func() time.Time { return time.Date(2026, 1, 5, 23, 59, 0, 0, time.UTC) },
		intN: func(int) int { return 3 },
	}
	require.Equal(t, "PS-20260105-003", gen.Generate())
}

func TestSlipNumberMatchesPattern(t *testing.T) {
	gen := NewSlipNumberGenerator()
	pattern := regexp.MustCompile(`^PS-\d{8}-\d{3}$`)
	for i := 0; i < 50; i++ {
		require.Regexp(t, pattern, gen.Generate())
	}
}
