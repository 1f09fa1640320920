package types

import (
	"errors"
	"time"
)

// DeviceConfig describes one monitored controller. Empty Unit and Restore
// fields fall back to the process wide defaults.
type DeviceConfig struct {
	Host     string `yaml:"host" json:"host"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`

	InsecureSkipVerify bool `yaml:"insecureSkipVerify" json:"insecureSkipVerify"`
	// PinnedCertFile is a PEM file holding the certificate the controller
	// must present.
	PinnedCertFile string `yaml:"pinnedCertFile" json:"pinnedCertFile,omitempty"`

	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	Unit    EnergyUnit    `yaml:"unit" json:"unit,omitempty"`
	Restore RestorePolicy `yaml:"restore" json:"restore,omitempty"`
}

// Validate checks the fields that have no default.
func (c DeviceConfig) Validate() error {
	if c.Host == "" {
		return errors.New("missing host")
	}
	if c.Username == "" {
		return errors.New("missing username")
	}
	if c.InsecureSkipVerify && c.PinnedCertFile != "" {
		return errors.New("insecureSkipVerify and pinnedCertFile are mutually exclusive")
	}
	if c.Unit != "" {
		if _, err := ParseEnergyUnit(string(c.Unit)); err != nil {
			return err
		}
	}
	if c.Restore != "" {
		if _, err := ParseRestorePolicy(string(c.Restore)); err != nil {
			return err
		}
	}
	return nil
}
