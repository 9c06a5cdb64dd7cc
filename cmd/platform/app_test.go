package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhymesoflife/platform/internal/shared/config"
)

func TestSchedulerConfig(t *testing.T) {
	sc, err := schedulerConfig(config.ReminderConfig{
		Interval:   30 * time.Second,
		DefaultTZ:  "Europe/Moscow",
		BatchLimit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", sc.DefaultLocation.String())
	assert.Equal(t, 30*time.Second, sc.Interval)
	assert.Equal(t, 100, sc.BatchSize)
}

func TestSchedulerConfigRejectsUnknownZone(t *testing.T) {
	_, err := schedulerConfig(config.ReminderConfig{DefaultTZ: "Europe/Moskow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMINDER_DEFAULT_TZ")
}
