package monitor

import (
	"errors"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/idracpower/pkg/redfish"
	"github.com/raterudder/idracpower/pkg/storage"
	"github.com/raterudder/idracpower/pkg/types"
	"gopkg.in/yaml.v3"
)

// Defaults apply to every device that does not override them.
type Defaults struct {
	Unit    types.EnergyUnit
	Restore types.RestorePolicy
}

// devicesFile is the layout of the -devices-file YAML document.
type devicesFile struct {
	Devices []types.DeviceConfig `yaml:"devices"`
}

// ConfiguredDevice registers the flags describing a single controller and
// returns a pointer that is filled in once flags are parsed. Host is empty
// when no controller was given on the command line.
func ConfiguredDevice() *types.DeviceConfig {
	host := lflag.String("idrac-host", "", "Address of the iDRAC (host or host:port)")
	username := lflag.String("idrac-username", "root", "iDRAC username")
	password := lflag.String("idrac-password", "", "iDRAC password")
	insecure := lflag.Bool("idrac-insecure-skip-verify", false, "Skip TLS certificate verification for the iDRAC")
	pinnedCert := lflag.String("idrac-pinned-cert", "", "PEM file with the certificate the iDRAC must present")
	timeout := lflag.Duration("idrac-timeout", redfish.DefaultTimeout, "Timeout for each request to the iDRAC")

	c := &types.DeviceConfig{}

	lflag.Do(func() {
		*c = types.DeviceConfig{
			Host:               *host,
			Username:           *username,
			Password:           *password,
			InsecureSkipVerify: *insecure,
			PinnedCertFile:     *pinnedCert,
			Timeout:            *timeout,
		}
	})

	return c
}

// ConfiguredDefaults registers the energy flags shared by every device.
func ConfiguredDefaults() *Defaults {
	unit := lflag.String("energy-unit", string(types.KilowattHours), "Unit energy totals are reported in (Wh or kWh)")
	restore := lflag.String("energy-restore", string(types.RestorePolicyRestore), "What to do with the persisted total on startup (restore or reset)")

	d := &Defaults{}

	lflag.Do(func() {
		var err error
		if d.Unit, err = types.ParseEnergyUnit(*unit); err != nil {
			panic(fmt.Sprintf("invalid energy-unit: %v", err))
		}
		if d.Restore, err = types.ParseRestorePolicy(*restore); err != nil {
			panic(fmt.Sprintf("invalid energy-restore: %v", err))
		}
	})

	return d
}

// Configured sets up the device Map from flags. Devices come from the
// -idrac-* flags and from -devices-file; at least one is required.
func Configured(db storage.Database) *Map {
	devicesPath := lflag.String("devices-file", "", "YAML file listing the iDRACs to monitor")

	single := ConfiguredDevice()
	defaults := ConfiguredDefaults()

	m := NewMap()

	lflag.Do(func() {
		var configs []types.DeviceConfig
		if single.Host != "" {
			configs = append(configs, *single)
		}
		if *devicesPath != "" {
			fromFile, err := LoadDevicesFile(*devicesPath)
			if err != nil {
				panic(fmt.Sprintf("failed to load devices file: %v", err))
			}
			configs = append(configs, fromFile...)
		}
		if len(configs) == 0 {
			panic("no devices configured: set -idrac-host or -devices-file")
		}

		for i, cfg := range configs {
			d, err := NewDeviceFromConfig(cfg, db, *defaults)
			if err != nil {
				panic(fmt.Sprintf("invalid device %d (%s): %v", i, cfg.Host, err))
			}
			m.Add(d)
		}
	})

	return m
}

// LoadDevicesFile reads a YAML document of the form:
//
//	devices:
//	  - host: idrac-1.lan
//	    username: root
//	    password: calvin
//	    pinnedCertFile: /etc/idracpower/idrac-1.pem
func LoadDevicesFile(path string) ([]types.DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices file: %w", err)
	}

	var f devicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal devices file: %w", err)
	}
	if len(f.Devices) == 0 {
		return nil, errors.New("devices file lists no devices")
	}
	for i, d := range f.Devices {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
	}
	return f.Devices, nil
}

// ClientFromConfig builds the Redfish client for cfg, loading the pinned
// certificate if one is configured.
func ClientFromConfig(cfg types.DeviceConfig) (*redfish.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn := redfish.ConnectionConfig{
		Host:               cfg.Host,
		Username:           cfg.Username,
		Password:           cfg.Password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Timeout:            cfg.Timeout,
	}
	if cfg.PinnedCertFile != "" {
		data, err := os.ReadFile(cfg.PinnedCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read pinned certificate: %w", err)
		}
		der, err := redfish.ParseCertificatePEM(data)
		if err != nil {
			return nil, fmt.Errorf("invalid pinned certificate %s: %w", cfg.PinnedCertFile, err)
		}
		conn.PinnedCertificate = der
	}
	return redfish.NewClient(conn)
}

// NewDeviceFromConfig builds a Device for cfg, filling unset fields from defaults.
func NewDeviceFromConfig(cfg types.DeviceConfig, db storage.Database, defaults Defaults) (*Device, error) {
	client, err := ClientFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	unit := defaults.Unit
	if cfg.Unit != "" {
		// already validated
		unit, _ = types.ParseEnergyUnit(string(cfg.Unit))
	}
	restore := defaults.Restore
	if cfg.Restore != "" {
		restore, _ = types.ParseRestorePolicy(string(cfg.Restore))
	}
	if unit == "" {
		unit = types.KilowattHours
	}
	if restore == "" {
		restore = types.RestorePolicyRestore
	}
	return NewDevice(client, db, unit, restore), nil
}
