// Package monitor pairs a Redfish client with an energy accumulator for each
// monitored controller and keeps their totals in storage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/idracpower/pkg/energy"
	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/redfish"
	"github.com/raterudder/idracpower/pkg/storage"
	"github.com/raterudder/idracpower/pkg/types"
)

var (
	// ErrNotReady is returned by polls on a device whose setup has not succeeded.
	ErrNotReady = errors.New("device setup has not completed")
	// ErrDuplicateDevice means another configured controller already reported
	// the same serial number and model.
	ErrDuplicateDevice = errors.New("device is already monitored")
)

// TelemetrySource is what the host polls for each device.
type TelemetrySource interface {
	// CurrentPower returns the instantaneous power draw in watts.
	CurrentPower(ctx context.Context) (float64, error)
	// TotalEnergy samples power, integrates it and returns the running total
	// in the configured unit.
	TotalEnergy(ctx context.Context) (float64, error)
}

// Client is the subset of redfish.Client a Device needs.
type Client interface {
	Host() string
	GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error)
	GetFirmwareVersion(ctx context.Context) (string, error)
	ReadPower(ctx context.Context) (types.PowerReading, error)
}

var _ Client = (*redfish.Client)(nil)
var _ TelemetrySource = (*Device)(nil)

// Device is one monitored controller.
type Device struct {
	// pollMu serializes requests to the controller so readings are applied in
	// the order they were issued. mu guards the fields below it and is never
	// held across a request.
	pollMu sync.Mutex
	// claim reserves the device ID during Setup. Set by Map.Add.
	claim func(id string, d *Device) error

	client  Client
	db      storage.Database
	restore types.RestorePolicy
	now     func() time.Time

	mu       sync.Mutex
	acc      *energy.Accumulator
	ready    bool
	info     types.DeviceInfo
	firmware string
	power    *types.PowerReading
	lastPoll time.Time
	lastErr  error
}

// NewDevice returns a device that still needs Setup.
func NewDevice(client Client, db storage.Database, unit types.EnergyUnit, restore types.RestorePolicy) *Device {
	return &Device{
		client:  client,
		db:      db,
		acc:     energy.New(client, energy.WithUnit(unit)),
		restore: restore,
		now:     time.Now,
	}
}

func deviceID(info types.DeviceInfo) string {
	return info.SerialNumber + "_" + info.Model
}

// Setup fetches the identity of the controller and restores the persisted
// total. A device whose Setup fails must not be polled. Setup does nothing
// once the device is ready.
func (d *Device) Setup(ctx context.Context) error {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	if d.Ready() {
		return nil
	}
	err := d.setup(ctx)
	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
	}
	return err
}

func (d *Device) setup(ctx context.Context) error {
	info, err := d.client.GetDeviceInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device info: %w", err)
	}
	firmware, err := d.client.GetFirmwareVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get firmware version: %w", err)
	}
	id := deviceID(info)
	ctx = log.WithDevice(ctx, id, d.client.Host())

	if d.claim != nil {
		if err := d.claim(id, d); err != nil {
			return err
		}
	}

	var (
		total    float64
		restored bool
	)
	switch d.restore {
	case types.RestorePolicyReset:
		log.Ctx(ctx).InfoContext(ctx, "starting energy total at zero")
	default:
		total, err = d.db.GetEnergyTotal(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Ctx(ctx).InfoContext(ctx, "no persisted energy total")
		case err != nil:
			// starting from zero would overwrite the stored total
			return fmt.Errorf("failed to restore energy total: %w", err)
		default:
			restored = true
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.acc.Reset()
	if restored {
		if err := d.acc.Restore(total); err != nil {
			return fmt.Errorf("failed to restore energy total: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "restored energy total", slog.Float64("totalWattHours", total))
	}
	d.info = info
	d.firmware = firmware
	d.lastErr = nil
	d.ready = true
	log.Ctx(ctx).InfoContext(
		ctx,
		"device ready",
		slog.String("name", info.Name),
		slog.String("model", info.Model),
		slog.String("firmware", firmware),
	)
	return nil
}

// Ready returns true once Setup succeeded.
func (d *Device) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// ID returns "{serial}_{model}". It is empty until Setup succeeds.
func (d *Device) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return ""
	}
	return deviceID(d.info)
}

// Name returns the model, which prefixes every entity of the device.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.Model
}

// Host returns the controller address.
func (d *Device) Host() string {
	return d.client.Host()
}

// pollContext returns a device scoped logging context and the device ID, or
// false when the device is not ready.
func (d *Device) pollContext(ctx context.Context) (context.Context, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		return ctx, "", false
	}
	id := deviceID(d.info)
	return log.WithDevice(ctx, id, d.client.Host()), id, true
}

// CurrentPower reads the power draw directly from the controller.
func (d *Device) CurrentPower(ctx context.Context) (float64, error) {
	reading, err := d.CurrentReading(ctx)
	if err != nil {
		return 0, err
	}
	return reading.Watts, nil
}

// CurrentReading reads the power draw directly from the controller without
// integrating it.
func (d *Device) CurrentReading(ctx context.Context) (types.PowerReading, error) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	ctx, _, ok := d.pollContext(ctx)
	if !ok {
		return types.PowerReading{}, ErrNotReady
	}

	reading, err := d.client.ReadPower(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPoll = d.now()
	d.lastErr = err
	if err != nil {
		return types.PowerReading{}, err
	}
	d.power = &reading
	return reading, nil
}

// TotalEnergy samples power and integrates it into the running total, which is
// then persisted. Persistence failures are logged and do not fail the poll. A
// reading that is not after the previous one is skipped and the unchanged
// total returned along with energy.ErrInvalidInterval.
func (d *Device) TotalEnergy(ctx context.Context) (float64, error) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	ctx, id, ok := d.pollContext(ctx)
	if !ok {
		return 0, ErrNotReady
	}

	reading, err := d.client.ReadPower(ctx)

	d.mu.Lock()
	d.lastPoll = d.now()
	d.lastErr = err
	if err != nil {
		total := d.acc.Total()
		d.mu.Unlock()
		log.Ctx(ctx).WarnContext(ctx, "failed to read power", slog.String("kind", ErrorKind(err)), slog.Any("error", err))
		return total, err
	}
	d.power = &reading
	inc, err := d.acc.Add(reading)
	if err != nil {
		d.lastErr = err
	}
	total := d.acc.Total()
	totalWh := d.acc.TotalWattHours()
	d.mu.Unlock()

	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping power reading", slog.String("kind", ErrorKind(err)), slog.Any("error", err))
		return total, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"integrated power reading",
		slog.Float64("watts", reading.Watts),
		slog.Float64("incrementWattHours", inc),
		slog.Float64("totalWattHours", totalWh),
	)

	// still under pollMu so totals reach storage in order
	if err := d.db.SetEnergyTotal(ctx, id, totalWh, reading.Timestamp); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist energy total", slog.Any("error", err))
	}
	return total, nil
}

// Reset zeroes the running total and persists the zero.
func (d *Device) Reset(ctx context.Context) error {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	ctx, id, ok := d.pollContext(ctx)
	if !ok {
		return ErrNotReady
	}

	d.mu.Lock()
	d.acc.Reset()
	d.mu.Unlock()

	if err := d.db.SetEnergyTotal(ctx, id, 0, d.now()); err != nil {
		return fmt.Errorf("failed to persist reset energy total: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "energy total reset")
	return nil
}

// Status returns a snapshot for the API. It never waits on the controller.
func (d *Device) Status() types.DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := types.DeviceStatus{
		Name:            d.info.Model,
		Host:            d.client.Host(),
		Info:            d.info,
		FirmwareVersion: d.firmware,
		TotalEnergy:     d.acc.Total(),
		Unit:            d.acc.Unit(),
		LastPoll:        d.lastPoll,
	}
	if d.ready {
		s.ID = deviceID(d.info)
	}
	if d.power != nil {
		p := *d.power
		s.Power = &p
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
		s.LastErrorKind = ErrorKind(d.lastErr)
	}
	return s
}
