package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"14:00", "14:00"},
		{"08:05", "08:05"},
		{"14:00:59", "14:00"},
		{"9:30 am", "09:30"},
		{"9:30PM", "21:30"},
		{"3 pm", "15:00"},
		{"12AM", "00:00"},
		{"  07:15 ", "07:15"},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseTime(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"", "25:00", "noon", "10h30"} {
		_, err := ParseTime(bad)
		assert.ErrorIs(t, err, ErrBadTime, bad)
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("10:00", "11:30")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = Duration("23:00", "01:00")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	_, err = Duration("10:00", "later")
	assert.ErrorIs(t, err, ErrBadTime)
}
