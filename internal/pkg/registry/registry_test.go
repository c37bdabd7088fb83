package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/mijia-clock/internal/pkg/config"
	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

func tz(s string) *string {
	return &s
}

var fixedNow = func() time.Time {
	return time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)
}

func TestNew_Timezones(t *testing.T) {
	tests := map[string]struct {
		timezone  string
		wantHours int8
		wantErr   bool
	}{
		"fixed whole hour":       {timezone: "+09:00", wantHours: 9},
		"fixed negative":         {timezone: "-8", wantHours: -8},
		"utc prefix":             {timezone: "UTC+9", wantHours: 9},
		"iana whole hour":        {timezone: "Asia/Seoul", wantHours: 9},
		"iana winter offset":     {timezone: "US/Pacific", wantHours: -8},
		"utc":                    {timezone: "UTC", wantHours: 0},
		"fixed half hour":        {timezone: "+5:30", wantErr: true},
		"fixed half hour colon":  {timezone: "+05:30", wantErr: true},
		"iana half hour":         {timezone: "Asia/Kolkata", wantErr: true},
		"iana quarter hour":      {timezone: "Asia/Kathmandu", wantErr: true},
		"unknown zone":           {timezone: "Mars/Olympus", wantErr: true},
		"fixed offset too large": {timezone: "+15", wantErr: true},
		"empty":                  {timezone: "", wantErr: true},
		"blank":                  {timezone: "   ", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := New([]config.DeviceEntry{{
				Address:  "11:22:33:44:55:66",
				Name:     "bedroom",
				Timezone: tz(tt.timezone),
			}}, WithClock(fixedNow))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), "device[0] (bedroom)")
				return
			}
			require.NoError(t, err)
			d, ok := r.Lookup(model.MustParseAddress("11:22:33:44:55:66"))
			require.True(t, ok)
			assert.Equal(t, tt.wantHours, d.TZOffsetHours)
			assert.Equal(t, tt.timezone, d.Timezone)
		})
	}
}

func TestNew_InvalidEntries(t *testing.T) {
	tests := map[string]struct {
		entries []config.DeviceEntry
		wantMsg string
	}{
		"bad address": {
			entries: []config.DeviceEntry{{Address: "11:22:33", Timezone: tz("UTC")}},
			wantMsg: "device[0]",
		},
		"duplicate address": {
			entries: []config.DeviceEntry{
				{Address: "11:22:33:44:55:66", Name: "a", Timezone: tz("UTC")},
				{Address: "112233445566", Name: "b", Timezone: tz("UTC")},
			},
			wantMsg: "device[1] (b): duplicate address 11:22:33:44:55:66",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(tt.entries, WithClock(fixedNow))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNew_HostZone(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	entries := []config.DeviceEntry{{Address: "11:22:33:44:55:66"}}

	r, err := New(entries, WithClock(fixedNow), WithLocalZone(seoul))
	require.NoError(t, err)
	d, _ := r.Lookup(model.MustParseAddress("11:22:33:44:55:66"))
	assert.Equal(t, int8(9), d.TZOffsetHours)
	assert.Empty(t, d.Timezone)

	_, err = New(entries, WithClock(fixedNow), WithLocalZone(kolkata))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// omitted devices never need the host zone
	_, err = New([]config.DeviceEntry{{Address: "11:22:33:44:55:66", Omit: true}}, WithClock(fixedNow), WithLocalZone(kolkata))
	assert.NoError(t, err)

	// nor do devices with their own timezone
	_, err = New([]config.DeviceEntry{{Address: "11:22:33:44:55:66", Timezone: tz("+9")}}, WithClock(fixedNow), WithLocalZone(kolkata))
	assert.NoError(t, err)
}

func TestRegistry_Queries(t *testing.T) {
	r, err := New([]config.DeviceEntry{
		{Address: "11:22:33:44:55:66", Name: "Bedroom", Timezone: tz("+9")},
		{Address: "AA:BB:CC:DD:EE:FF", Name: "garage", Omit: true},
		{Address: "010203040506", Timezone: tz("-3")},
	}, WithClock(fixedNow))
	require.NoError(t, err)

	bedroom := model.MustParseAddress("11:22:33:44:55:66")
	garage := model.MustParseAddress("AA:BB:CC:DD:EE:FF")
	unnamed := model.MustParseAddress("01:02:03:04:05:06")
	unknown := model.MustParseAddress("66:55:44:33:22:11")

	assert.Equal(t, "Bedroom", r.DisplayName(bedroom))
	assert.Equal(t, "01:02:03:04:05:06", r.DisplayName(unnamed))
	assert.Equal(t, "66:55:44:33:22:11", r.DisplayName(unknown))

	assert.True(t, r.EligibleForSync(bedroom))
	assert.False(t, r.EligibleForSync(garage))
	assert.True(t, r.EligibleForSync(unnamed))
	assert.False(t, r.EligibleForSync(unknown))

	_, ok := r.Lookup(unknown)
	assert.False(t, ok)

	eligible := r.Eligible()
	require.Len(t, eligible, 2)
	assert.Equal(t, bedroom, eligible[0].Address)
	assert.Equal(t, unnamed, eligible[1].Address)

	omitted := r.Omitted()
	require.Len(t, omitted, 1)
	assert.Equal(t, garage, omitted[0].Address)

	d, ok := r.ByName("bedroom")
	require.True(t, ok)
	assert.Equal(t, bedroom, d.Address)
	_, ok = r.ByName("kitchen")
	assert.False(t, ok)

	assert.Equal(t, 3, r.Len())
	devices := r.Devices()
	devices[0].Name = "changed"
	assert.Equal(t, "Bedroom", r.DisplayName(bedroom))
}
