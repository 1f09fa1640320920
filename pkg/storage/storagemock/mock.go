package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/idracpower/pkg/storage"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetEnergyTotal(ctx context.Context, deviceID string) (float64, error) {
	args := m.Called(ctx, deviceID)
	if len(args) > 0 {
		return args.Get(0).(float64), args.Error(1)
	}
	return 0, storage.ErrNotFound
}

func (m *MockDatabase) SetEnergyTotal(ctx context.Context, deviceID string, totalWattHours float64, ts time.Time) error {
	args := m.Called(ctx, deviceID, totalWattHours, ts)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
