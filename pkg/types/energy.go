package types

import (
	"fmt"
	"strings"
	"time"
)

// EnergyState is the integration state of an energy accumulator.
type EnergyState struct {
	// TotalWattHours only increases during normal operation.
	TotalWattHours float64 `json:"totalWattHours"`
	// LastPowerWatts is nil until the first live sample.
	LastPowerWatts *float64 `json:"lastPowerWatts,omitempty"`
	// LastSampleTime is the zero time until the first live sample.
	LastSampleTime time.Time `json:"lastSampleTime"`
}

// Running returns true once a live sample has been recorded.
func (s EnergyState) Running() bool {
	return s.LastPowerWatts != nil && !s.LastSampleTime.IsZero()
}

// EnergyUnit is the unit energy totals are reported in.
type EnergyUnit string

const (
	WattHours     EnergyUnit = "Wh"
	KilowattHours EnergyUnit = "kWh"
)

// ParseEnergyUnit parses a unit name, accepting any casing.
func ParseEnergyUnit(s string) (EnergyUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wh":
		return WattHours, nil
	case "kwh":
		return KilowattHours, nil
	default:
		return "", fmt.Errorf("unknown energy unit: %q", s)
	}
}

// scale is the number of watt-hours in one unit.
func (u EnergyUnit) scale() float64 {
	if u == KilowattHours {
		return 1000
	}
	return 1
}

// FromWattHours converts a watt-hour value into u.
func (u EnergyUnit) FromWattHours(wh float64) float64 {
	return wh / u.scale()
}

// ToWattHours converts a value expressed in u into watt-hours.
func (u EnergyUnit) ToWattHours(v float64) float64 {
	return v * u.scale()
}

// RestorePolicy decides what happens to the energy total on startup.
type RestorePolicy string

const (
	// RestorePolicyRestore continues from the last persisted total.
	RestorePolicyRestore RestorePolicy = "restore"
	// RestorePolicyReset starts every run at zero.
	RestorePolicyReset RestorePolicy = "reset"
)

// ParseRestorePolicy parses a restore policy name.
func ParseRestorePolicy(s string) (RestorePolicy, error) {
	switch RestorePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case RestorePolicyRestore:
		return RestorePolicyRestore, nil
	case RestorePolicyReset:
		return RestorePolicyReset, nil
	default:
		return "", fmt.Errorf("unknown restore policy: %q", s)
	}
}
