package flush

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecNow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	d, err := ParseSpec("now", now)
	require.NoError(t, err)
	assert.Equal(t, KindOnce, d.Kind)
	assert.Equal(t, now.Add(time.Second), d.At)
}

func TestParseSpecOnce(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// later today
	d, err := ParseSpec("18:30", now)
	require.NoError(t, err)
	assert.Equal(t, KindOnce, d.Kind)
	assert.Equal(t, time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC), d.At)

	// already passed, rolls over to tomorrow
	d, err = ParseSpec("09:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC), d.At)
}

func TestParseSpecRecurring(t *testing.T) {
	now := time.Now()

	tests := []struct {
		in   string
		want Descriptor
	}{
		{"daily 23:59", Descriptor{Kind: KindDaily, Hour: 23, Minute: 59}},
		{"d 08:15", Descriptor{Kind: KindDaily, Hour: 8, Minute: 15}},
		{"DAILY 10:00", Descriptor{Kind: KindDaily, Hour: 10}},
		{"weekly mon 10:00", Descriptor{Kind: KindWeekly, Weekday: time.Monday, Hour: 10}},
		{"w sunday 23:45", Descriptor{Kind: KindWeekly, Weekday: time.Sunday, Hour: 23, Minute: 45}},
		{"monthly 01 23:59", Descriptor{Kind: KindMonthly, Day: 1, Hour: 23, Minute: 59}},
		{"m 15 06:30", Descriptor{Kind: KindMonthly, Day: 15, Hour: 6, Minute: 30}},
	}

	for _, tt := range tests {
		d, err := ParseSpec(tt.in, now)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, d, "input %q", tt.in)
	}
}

func TestParseSpecInvalid(t *testing.T) {
	now := time.Now()

	for _, in := range []string{
		"",
		"tomorrow",
		"25:00",
		"12:61",
		"daily",
		"weekly funday 10:00",
		"monthly 32 10:00",
		"monthly 00 10:00",
	} {
		_, err := ParseSpec(in, now)
		assert.ErrorIs(t, err, ErrInvalidSpec, "input %q", in)
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	descriptors := []Descriptor{
		{Kind: KindNone},
		{Kind: KindOnce, At: time.Date(2025, 6, 15, 23, 59, 0, 0, time.UTC)},
		{Kind: KindDaily, Hour: 23, Minute: 59},
		{Kind: KindWeekly, Weekday: time.Friday, Hour: 7, Minute: 5},
		{Kind: KindMonthly, Day: 28, Hour: 0, Minute: 0},
	}

	for _, d := range descriptors {
		restored, err := ParseDescriptor(d.String())
		require.NoError(t, err, "descriptor %q", d.String())
		assert.Equal(t, d, restored, "descriptor %q", d.String())
	}
}

func TestParseDescriptorEmpty(t *testing.T) {
	d, err := ParseDescriptor("")
	require.NoError(t, err)
	assert.Equal(t, KindNone, d.Kind)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "every day at 23:59", Descriptor{Kind: KindDaily, Hour: 23, Minute: 59}.Describe())
	assert.Equal(t, "never", Descriptor{}.Describe())
	assert.Equal(t, "on day 15 of every month at 06:30", Descriptor{Kind: KindMonthly, Day: 15, Hour: 6, Minute: 30}.Describe())
}
