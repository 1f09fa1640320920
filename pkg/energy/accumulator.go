// Package energy integrates instantaneous power readings into an energy total.
//
// The total is kept in watt-hours and converted to the configured unit only
// when read. An Accumulator is not safe for concurrent use: readings must be
// applied in the order they were taken.
package energy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raterudder/idracpower/pkg/types"
)

var (
	// ErrInvalidInterval means a reading was not taken after the previous
	// one, usually because the clock moved backwards. The reading is skipped.
	ErrInvalidInterval = errors.New("reading is not after the previous sample")
	// ErrInvalidReading means the reading had a negative or non-finite power.
	ErrInvalidReading = errors.New("invalid power reading")
	// ErrAlreadySampling is returned when restoring a total after live
	// samples were already integrated.
	ErrAlreadySampling = errors.New("cannot restore after sampling started")
)

// PowerSource produces power readings. redfish.Client implements it.
type PowerSource interface {
	ReadPower(ctx context.Context) (types.PowerReading, error)
}

// Accumulator integrates power readings with the trapezoidal rule.
type Accumulator struct {
	source PowerSource
	unit   types.EnergyUnit
	state  types.EnergyState
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithUnit sets the unit Total reports in. Defaults to watt-hours.
func WithUnit(unit types.EnergyUnit) Option {
	return func(a *Accumulator) {
		a.unit = unit
	}
}

// New returns an accumulator with no prior samples.
func New(source PowerSource, opts ...Option) *Accumulator {
	a := &Accumulator{
		source: source,
		unit:   types.WattHours,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Unit returns the unit Total reports in.
func (a *Accumulator) Unit() types.EnergyUnit {
	return a.unit
}

// Restore seeds the total with a previously persisted value. The last power
// and sample time stay unset, so the interval across the downtime contributes
// nothing.
func (a *Accumulator) Restore(totalWattHours float64) error {
	if a.state.Running() {
		return ErrAlreadySampling
	}
	if totalWattHours < 0 || math.IsNaN(totalWattHours) || math.IsInf(totalWattHours, 0) {
		return fmt.Errorf("invalid energy total %v", totalWattHours)
	}
	a.state.TotalWattHours = totalWattHours
	return nil
}

// RestoreString restores a total persisted by the host as text in unit. An
// empty, "unknown" or "unavailable" value leaves the total untouched and
// returns false.
func (a *Accumulator) RestoreString(value string, unit types.EnergyUnit) (bool, error) {
	wh, ok, err := ParseTotal(value, unit)
	if err != nil || !ok {
		return false, err
	}
	if err := a.Restore(wh); err != nil {
		return false, err
	}
	return true, nil
}

// ParseTotal parses a persisted total expressed in unit and returns it in
// watt-hours.
func ParseTotal(value string, unit types.EnergyUnit) (float64, bool, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "unknown", "unavailable", "none":
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid energy total %q: %w", value, err)
	}
	return unit.ToWattHours(v), true, nil
}

// Sample reads power from the source and integrates it. It returns the total
// in the configured unit. When the source fails the state is left untouched
// and the source's error is returned as is.
func (a *Accumulator) Sample(ctx context.Context) (float64, error) {
	if a.source == nil {
		return a.Total(), errors.New("accumulator has no power source")
	}
	reading, err := a.source.ReadPower(ctx)
	if err != nil {
		return a.Total(), err
	}
	if _, err := a.Add(reading); err != nil {
		return a.Total(), err
	}
	return a.Total(), nil
}

// Add integrates one reading and returns the energy it contributed in
// watt-hours. The first reading after construction or Restore only records
// the sample and contributes zero.
func (a *Accumulator) Add(reading types.PowerReading) (float64, error) {
	if reading.Watts < 0 || math.IsNaN(reading.Watts) || math.IsInf(reading.Watts, 0) {
		return 0, fmt.Errorf("%w: %v W", ErrInvalidReading, reading.Watts)
	}

	if !a.state.Running() {
		a.record(reading)
		return 0, nil
	}

	if !reading.Timestamp.After(a.state.LastSampleTime) {
		return 0, fmt.Errorf(
			"%w: %s is not after %s",
			ErrInvalidInterval,
			reading.Timestamp.Format(time.RFC3339Nano),
			a.state.LastSampleTime.Format(time.RFC3339Nano),
		)
	}

	increment := Trapezoid(*a.state.LastPowerWatts, reading.Watts, reading.Timestamp.Sub(a.state.LastSampleTime))
	a.state.TotalWattHours += increment
	a.record(reading)
	return increment, nil
}

func (a *Accumulator) record(reading types.PowerReading) {
	w := reading.Watts
	a.state.LastPowerWatts = &w
	a.state.LastSampleTime = reading.Timestamp
}

// Trapezoid returns the watt-hours between two power samples elapsed apart.
func Trapezoid(fromWatts, toWatts float64, elapsed time.Duration) float64 {
	return (fromWatts + toWatts) / 2 * elapsed.Hours()
}

// Total returns the accumulated energy in the configured unit.
func (a *Accumulator) Total() float64 {
	return a.unit.FromWattHours(a.state.TotalWattHours)
}

// TotalWattHours returns the accumulated energy in watt-hours.
func (a *Accumulator) TotalWattHours() float64 {
	return a.state.TotalWattHours
}

// State returns a copy of the integration state.
func (a *Accumulator) State() types.EnergyState {
	s := a.state
	if s.LastPowerWatts != nil {
		w := *s.LastPowerWatts
		s.LastPowerWatts = &w
	}
	return s
}

// Reset zeroes the total and forgets the last sample.
func (a *Accumulator) Reset() {
	a.state = types.EnergyState{}
}
