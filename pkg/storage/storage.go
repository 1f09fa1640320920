package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no total was ever stored for a device.
var ErrNotFound = errors.New("energy total not found")

// Database persists the running energy total of each device. Only the total
// is durable; the last sample is deliberately lost across restarts.
type Database interface {
	// GetEnergyTotal returns the last stored total in watt-hours.
	GetEnergyTotal(ctx context.Context, deviceID string) (float64, error)
	// SetEnergyTotal stores the total in watt-hours, replacing any previous value.
	SetEnergyTotal(ctx context.Context, deviceID string, totalWattHours float64, ts time.Time) error

	// Lifecycle
	Close() error
}
