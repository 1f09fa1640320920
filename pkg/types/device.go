package types

import "time"

// DeviceInfo identifies the monitored server as reported by its chassis resource.
type DeviceInfo struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber"`
}

// PowerReading is a single instantaneous power sample.
type PowerReading struct {
	Watts     float64   `json:"watts"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatus is the externally visible view of a monitored device.
type DeviceStatus struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Host            string        `json:"host"`
	Info            DeviceInfo    `json:"info"`
	FirmwareVersion string        `json:"firmwareVersion"`
	Power           *PowerReading `json:"power,omitempty"` // nil until the first successful poll
	TotalEnergy     float64       `json:"totalEnergy"`     // in Unit
	Unit            EnergyUnit    `json:"unit"`
	LastPoll        time.Time     `json:"lastPoll"`
	LastError       string        `json:"lastError,omitempty"`
	LastErrorKind   string        `json:"lastErrorKind,omitempty"`
}
