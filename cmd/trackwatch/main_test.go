package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofence-tracker-backend/internal/alarm"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-home-lat", "52.5", "-home-lng", "13.4", "-radius", "250", "-start", "22:00", "-end", "06:30", "-tick", "10s"})
	require.NoError(t, err)
	assert.Equal(t, 52.5, o.lat)
	assert.Equal(t, 10*time.Second, o.tick)

	cfg, err := o.alarmConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Home)
	assert.Equal(t, alarm.Coordinate{Latitude: 52.5, Longitude: 13.4}, *cfg.Home)
	require.NotNil(t, cfg.MaxRadius)
	assert.Equal(t, 250.0, *cfg.MaxRadius)
	require.NotNil(t, cfg.Window)
	assert.True(t, cfg.Window.Wraps())
	assert.True(t, cfg.Armed())
}

func TestAlarmConfigPartial(t *testing.T) {
	o, err := parseFlags(nil)
	require.NoError(t, err)

	cfg, err := o.alarmConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg.Home, "no home flags means no home")
	assert.Nil(t, cfg.MaxRadius)
	assert.Nil(t, cfg.Window)
	assert.False(t, cfg.Armed())
	assert.Equal(t, "Not Set", describe(cfg.Window))
}

func TestHomeAtOrigin(t *testing.T) {
	o, err := parseFlags([]string{"-home-lat", "0", "-home-lng", "0", "-radius", "100", "-start", "00:00", "-end", "00:00"})
	require.NoError(t, err)

	cfg, err := o.alarmConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Home)
	assert.Equal(t, alarm.Coordinate{}, *cfg.Home)
	assert.True(t, cfg.Armed())
}

func TestUnconfiguredHomeNeverTriggers(t *testing.T) {
	o, err := parseFlags([]string{"-radius", "100", "-start", "00:00", "-end", "00:00"})
	require.NoError(t, err)
	cfg, err := o.alarmConfig()
	require.NoError(t, err)

	a := alarm.New(cfg)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, alarm.None, a.Evaluate(alarm.Coordinate{Latitude: 10, Longitude: 10}, now))
	assert.Equal(t, alarm.Idle, a.State())
}

func TestParseFlagsRejects(t *testing.T) {
	_, err := parseFlags([]string{"-radius", "-5"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-home-lat", "52.5"})
	assert.Error(t, err)

	o, err := parseFlags([]string{"-start", "25:00", "-end", "06:00"})
	require.NoError(t, err)
	_, err = o.alarmConfig()
	assert.ErrorIs(t, err, alarm.ErrBadTimeOfDay)

	o, err = parseFlags([]string{"-start", "22:00"})
	require.NoError(t, err)
	_, err = o.alarmConfig()
	assert.Error(t, err)
}
