package server

import (
	"context"

	"github.com/raterudder/idracpower/pkg/monitor"
	"github.com/raterudder/idracpower/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockClient struct {
	mock.Mock
	host string
}

var _ monitor.Client = (*mockClient)(nil)

func (m *mockClient) Host() string {
	return m.host
}

func (m *mockClient) GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.DeviceInfo), args.Error(1)
}

func (m *mockClient) GetFirmwareVersion(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockClient) ReadPower(ctx context.Context) (types.PowerReading, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.PowerReading), args.Error(1)
}
