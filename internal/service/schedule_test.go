package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "0 9 * * *"},
		{expr: "*/15 * * * *"},
		{expr: "30 0 9 * * MON-FRI"},
		{expr: "@daily"},
		{expr: "@every 90m"},
		{expr: "", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
		{expr: "every day", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTask))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextRunsUsesLocation(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	from := time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC) // 08:00 in MSK

	runs, err := NextRuns("0 9 * * *", from, moscow, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), runs[0])
	assert.Equal(t, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC), runs[1])
	assert.Equal(t, time.UTC, runs[0].Location())
}

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 5, 1, 10, 7, 0, 0, time.UTC)
	next, err := NextRun("*/15 * * * *", from, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), next)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
	assert.Equal(t, time.UTC, loc)
}
