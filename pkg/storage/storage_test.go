package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/raterudder/idracpower/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

// testDatabase runs the behavior every provider must share.
func testDatabase(t *testing.T, db Database, deviceID string) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()

	t.Run("Not Found", func(t *testing.T) {
		_, err := db.GetEnergyTotal(ctx, deviceID+"-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Set And Get", func(t *testing.T) {
		require.NoError(t, db.SetEnergyTotal(ctx, deviceID, 1234.5, now))
		total, err := db.GetEnergyTotal(ctx, deviceID)
		require.NoError(t, err)
		assert.Equal(t, 1234.5, total)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, db.SetEnergyTotal(ctx, deviceID, 1500, now.Add(time.Minute)))
		total, err := db.GetEnergyTotal(ctx, deviceID)
		require.NoError(t, err)
		assert.Equal(t, 1500.0, total)
	})

	t.Run("Devices Are Independent", func(t *testing.T) {
		require.NoError(t, db.SetEnergyTotal(ctx, deviceID+"-other", 7, now))
		total, err := db.GetEnergyTotal(ctx, deviceID)
		require.NoError(t, err)
		assert.Equal(t, 1500.0, total)
	})

	t.Run("Empty Device ID", func(t *testing.T) {
		_, err := db.GetEnergyTotal(ctx, "")
		assert.ErrorContains(t, err, "deviceID cannot be empty")
		assert.ErrorContains(t, db.SetEnergyTotal(ctx, "", 1, now), "deviceID cannot be empty")
	})
}

func TestMemoryProvider(t *testing.T) {
	m := NewMemoryProvider()
	defer m.Close()
	testDatabase(t, m, "ABC123_R740")
}
