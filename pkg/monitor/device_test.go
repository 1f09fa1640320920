package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/idracpower/pkg/energy"
	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/redfish"
	"github.com/raterudder/idracpower/pkg/storage"
	"github.com/raterudder/idracpower/pkg/storage/storagemock"
	"github.com/raterudder/idracpower/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type reading struct {
	seconds int
	watts   float64
	err     error
}

// fakeClient returns a fixed identity and replays scripted power readings.
type fakeClient struct {
	mu       sync.Mutex
	host     string
	info     types.DeviceInfo
	infoErr  error
	firmware string
	readings []reading
	calls    int

	// when set, ReadPower closes started and waits on block
	started chan struct{}
	block   chan struct{}
}

func newFakeClient(readings ...reading) *fakeClient {
	return &fakeClient{
		host: "idrac-1.lan",
		info: types.DeviceInfo{
			Name:         "srv1",
			Manufacturer: "Dell Inc.",
			Model:        "PowerEdge R740",
			SerialNumber: "ABC123",
		},
		firmware: "6.10.30.00",
		readings: readings,
	}
}

func (c *fakeClient) Host() string {
	return c.host
}

func (c *fakeClient) GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, c.infoErr
}

func (c *fakeClient) GetFirmwareVersion(ctx context.Context) (string, error) {
	return c.firmware, nil
}

func (c *fakeClient) ReadPower(ctx context.Context) (types.PowerReading, error) {
	if c.block != nil {
		close(c.started)
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.readings[c.calls]
	c.calls++
	if r.err != nil {
		return types.PowerReading{}, r.err
	}
	return types.PowerReading{Watts: r.watts, Timestamp: t0.Add(time.Duration(r.seconds) * time.Second)}, nil
}

const testID = "ABC123_PowerEdge R740"

func TestDeviceSetup(t *testing.T) {
	ctx := context.Background()

	t.Run("Identity", func(t *testing.T) {
		d := NewDevice(newFakeClient(), storage.NewMemoryProvider(), types.KilowattHours, types.RestorePolicyRestore)
		assert.False(t, d.Ready())
		assert.Empty(t, d.ID())

		require.NoError(t, d.Setup(ctx))
		assert.True(t, d.Ready())
		assert.Equal(t, testID, d.ID())
		assert.Equal(t, "PowerEdge R740", d.Name())
		assert.Equal(t, "idrac-1.lan", d.Host())

		s := d.Status()
		assert.Equal(t, testID, s.ID)
		assert.Equal(t, "6.10.30.00", s.FirmwareVersion)
		assert.Equal(t, "Dell Inc.", s.Info.Manufacturer)
		assert.Equal(t, types.KilowattHours, s.Unit)
		assert.Nil(t, s.Power)
	})

	t.Run("Failure Prevents Polling", func(t *testing.T) {
		c := newFakeClient()
		c.infoErr = &redfish.Error{Kind: redfish.ErrInvalidAuth, StatusCode: 401}
		d := NewDevice(c, storage.NewMemoryProvider(), types.KilowattHours, types.RestorePolicyRestore)

		err := d.Setup(ctx)
		assert.ErrorIs(t, err, redfish.ErrInvalidAuth)
		assert.False(t, d.Ready())

		_, err = d.TotalEnergy(ctx)
		assert.ErrorIs(t, err, ErrNotReady)
		_, err = d.CurrentPower(ctx)
		assert.ErrorIs(t, err, ErrNotReady)
		assert.Zero(t, c.calls)
	})

	t.Run("Restores Persisted Total", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		require.NoError(t, db.SetEnergyTotal(ctx, testID, 2500, t0))

		d := NewDevice(newFakeClient(), db, types.KilowattHours, types.RestorePolicyRestore)
		require.NoError(t, d.Setup(ctx))
		assert.Equal(t, 2.5, d.Status().TotalEnergy)
	})

	t.Run("Reset Policy Ignores Persisted Total", func(t *testing.T) {
		db := new(storagemock.MockDatabase)
		d := NewDevice(newFakeClient(), db, types.KilowattHours, types.RestorePolicyReset)
		require.NoError(t, d.Setup(ctx))
		assert.Zero(t, d.Status().TotalEnergy)
		db.AssertNotCalled(t, "GetEnergyTotal", mock.Anything, mock.Anything)
	})

	t.Run("Storage Failure Fails Setup", func(t *testing.T) {
		db := new(storagemock.MockDatabase)
		db.On("GetEnergyTotal", mock.Anything, testID).Return(0.0, errors.New("unavailable"))

		d := NewDevice(newFakeClient(), db, types.KilowattHours, types.RestorePolicyRestore)
		assert.ErrorContains(t, d.Setup(ctx), "failed to restore energy total")
		assert.False(t, d.Ready())
		db.AssertExpectations(t)
	})
}

func TestDeviceTotalEnergy(t *testing.T) {
	ctx := context.Background()

	t.Run("Integrates And Persists", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		d := NewDevice(newFakeClient(
			reading{seconds: 0, watts: 100},
			reading{seconds: 3600, watts: 200},
		), db, types.WattHours, types.RestorePolicyRestore)
		require.NoError(t, d.Setup(ctx))

		total, err := d.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.Zero(t, total)

		total, err = d.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.Equal(t, 150.0, total)

		stored, err := db.GetEnergyTotal(ctx, testID)
		require.NoError(t, err)
		assert.Equal(t, 150.0, stored)

		s := d.Status()
		require.NotNil(t, s.Power)
		assert.Equal(t, 200.0, s.Power.Watts)
		assert.Empty(t, s.LastErrorKind)
	})

	t.Run("Failed Poll Keeps Total", func(t *testing.T) {
		db := new(storagemock.MockDatabase)
		db.On("GetEnergyTotal", mock.Anything, testID).Return(0.0, storage.ErrNotFound)
		db.On("SetEnergyTotal", mock.Anything, testID, mock.Anything, mock.Anything).Return(nil)

		d := NewDevice(newFakeClient(
			reading{seconds: 0, watts: 50},
			reading{err: &redfish.Error{Kind: redfish.ErrCannotConnect, StatusCode: 503}},
			reading{seconds: 1800, watts: 50},
		), db, types.WattHours, types.RestorePolicyRestore)
		require.NoError(t, d.Setup(ctx))

		_, err := d.TotalEnergy(ctx)
		require.NoError(t, err)

		total, err := d.TotalEnergy(ctx)
		assert.ErrorIs(t, err, redfish.ErrCannotConnect)
		assert.Zero(t, total)
		assert.Equal(t, KindCannotConnect, d.Status().LastErrorKind)

		total, err = d.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.Equal(t, 25.0, total)
		assert.Empty(t, d.Status().LastErrorKind)

		db.AssertNumberOfCalls(t, "SetEnergyTotal", 2)
		db.AssertCalled(t, "SetEnergyTotal", mock.Anything, testID, 25.0, t0.Add(1800*time.Second))
	})

	t.Run("Invalid Interval Is Skipped", func(t *testing.T) {
		d := NewDevice(newFakeClient(
			reading{seconds: 600, watts: 100},
			reading{seconds: 0, watts: 100},
			reading{seconds: 4200, watts: 100},
		), storage.NewMemoryProvider(), types.WattHours, types.RestorePolicyRestore)
		require.NoError(t, d.Setup(ctx))

		_, err := d.TotalEnergy(ctx)
		require.NoError(t, err)

		_, err = d.TotalEnergy(ctx)
		assert.ErrorIs(t, err, energy.ErrInvalidInterval)
		assert.Equal(t, KindInvalidInterval, d.Status().LastErrorKind)

		total, err := d.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100.0, total)
	})

	t.Run("Persist Failure Is Not Fatal", func(t *testing.T) {
		db := new(storagemock.MockDatabase)
		db.On("GetEnergyTotal", mock.Anything, testID).Return(0.0, storage.ErrNotFound)
		db.On("SetEnergyTotal", mock.Anything, testID, mock.Anything, mock.Anything).Return(errors.New("disk full"))

		d := NewDevice(newFakeClient(
			reading{seconds: 0, watts: 100},
			reading{seconds: 3600, watts: 100},
		), db, types.WattHours, types.RestorePolicyRestore)
		require.NoError(t, d.Setup(ctx))

		_, err := d.TotalEnergy(ctx)
		require.NoError(t, err)
		total, err := d.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100.0, total)
	})

	t.Run("Restart Round Trip", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		first := NewDevice(newFakeClient(
			reading{seconds: 0, watts: 100},
			reading{seconds: 3600, watts: 200},
		), db, types.KilowattHours, types.RestorePolicyRestore)
		require.NoError(t, first.Setup(ctx))
		_, err := first.TotalEnergy(ctx)
		require.NoError(t, err)
		_, err = first.TotalEnergy(ctx)
		require.NoError(t, err)

		// the downtime between 3600 and 7200 is not integrated
		second := NewDevice(newFakeClient(
			reading{seconds: 7200, watts: 1000},
			reading{seconds: 10800, watts: 1000},
		), db, types.KilowattHours, types.RestorePolicyRestore)
		require.NoError(t, second.Setup(ctx))
		total, err := second.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.15, total, 1e-12)

		total, err = second.TotalEnergy(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 1.15, total, 1e-12)
	})
}

func TestDeviceCurrentPower(t *testing.T) {
	ctx := context.Background()
	d := NewDevice(newFakeClient(
		reading{seconds: 0, watts: 212},
		reading{err: redfish.ErrInvalidAuth},
	), storage.NewMemoryProvider(), types.WattHours, types.RestorePolicyRestore)
	require.NoError(t, d.Setup(ctx))

	w, err := d.CurrentPower(ctx)
	require.NoError(t, err)
	assert.Equal(t, 212.0, w)
	assert.Zero(t, d.Status().TotalEnergy, "current power does not integrate")

	_, err = d.CurrentPower(ctx)
	assert.ErrorIs(t, err, redfish.ErrInvalidAuth)
	s := d.Status()
	assert.Equal(t, KindInvalidAuth, s.LastErrorKind)
	require.NotNil(t, s.Power, "last good reading is kept")
	assert.Equal(t, 212.0, s.Power.Watts)
}

func TestDeviceCurrentReading(t *testing.T) {
	ctx := context.Background()
	d := NewDevice(newFakeClient(
		reading{seconds: 30, watts: 180},
	), storage.NewMemoryProvider(), types.WattHours, types.RestorePolicyRestore)
	require.NoError(t, d.Setup(ctx))

	r, err := d.CurrentReading(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PowerReading{Watts: 180, Timestamp: t0.Add(30 * time.Second)}, r)
	require.NotNil(t, d.Status().Power)
	assert.Equal(t, r, *d.Status().Power)
}

func TestDeviceStatusDuringPoll(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(reading{seconds: 0, watts: 100})
	d := NewDevice(c, storage.NewMemoryProvider(), types.WattHours, types.RestorePolicyRestore)
	require.NoError(t, d.Setup(ctx))

	c.started = make(chan struct{})
	c.block = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := d.TotalEnergy(ctx)
		assert.NoError(t, err)
	}()
	<-c.started

	status := make(chan types.DeviceStatus, 1)
	go func() {
		assert.True(t, d.Ready())
		assert.Equal(t, testID, d.ID())
		status <- d.Status()
	}()
	select {
	case s := <-status:
		assert.Equal(t, testID, s.ID)
	case <-time.After(time.Second):
		t.Fatal("Status blocked on an outstanding controller request")
	}

	close(c.block)
	<-done
	require.NotNil(t, d.Status().Power)
	assert.Equal(t, 100.0, d.Status().Power.Watts)
}

func TestDeviceReset(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemoryProvider()
	require.NoError(t, db.SetEnergyTotal(ctx, testID, 900, t0))

	d := NewDevice(newFakeClient(), db, types.WattHours, types.RestorePolicyRestore)
	assert.ErrorIs(t, d.Reset(ctx), ErrNotReady)
	require.NoError(t, d.Setup(ctx))
	assert.Equal(t, 900.0, d.Status().TotalEnergy)

	require.NoError(t, d.Reset(ctx))
	assert.Zero(t, d.Status().TotalEnergy)
	stored, err := db.GetEnergyTotal(ctx, testID)
	require.NoError(t, err)
	assert.Zero(t, stored)
}
