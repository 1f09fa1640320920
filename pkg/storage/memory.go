package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider keeps totals in process memory. Totals are lost on exit.
type MemoryProvider struct {
	mu     sync.Mutex
	totals map[string]float64
}

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{totals: map[string]float64{}}
}

// GetEnergyTotal returns the stored total for deviceID.
func (m *MemoryProvider) GetEnergyTotal(ctx context.Context, deviceID string) (float64, error) {
	if deviceID == "" {
		return 0, fmt.Errorf("deviceID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	total, ok := m.totals[deviceID]
	if !ok {
		return 0, ErrNotFound
	}
	return total, nil
}

// SetEnergyTotal stores the total for deviceID.
func (m *MemoryProvider) SetEnergyTotal(ctx context.Context, deviceID string, totalWattHours float64, ts time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("deviceID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[deviceID] = totalWattHours
	return nil
}

// Close is a no-op.
func (m *MemoryProvider) Close() error {
	return nil
}
