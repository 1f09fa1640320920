package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/monitor"
	"github.com/raterudder/idracpower/pkg/storage"
	"github.com/raterudder/idracpower/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

const deviceID = "ABC123_R740"

func newIDRAC(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "root" || pass != "calvin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/redfish/v1/Chassis/System.Embedded.1/Power/PowerControl":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"PowerConsumedWatts": 212,
			})
		case "/redfish/v1/Chassis/System.Embedded.1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"Name":         "srv1",
				"Manufacturer": "Dell",
				"Model":        "R740",
				"SerialNumber": "ABC123",
			})
		case "/redfish/v1/Managers/iDRAC.Embedded.1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"FirmwareVersion": "6.10.30.00",
			})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testOptions(ts *httptest.Server) options {
	return options{
		device: types.DeviceConfig{
			Host:               strings.TrimPrefix(ts.URL, "https://"),
			Username:           "root",
			Password:           "calvin",
			InsecureSkipVerify: true,
			Timeout:            5 * time.Second,
		},
		defaults: monitor.Defaults{
			Unit:    types.KilowattHours,
			Restore: types.RestorePolicyRestore,
		},
	}
}

func runCheck(t *testing.T, opts options, db storage.Database) (types.DeviceStatus, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := check(context.Background(), opts, db, &stdout, &stderr)
	var status types.DeviceStatus
	if err == nil {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &status))
	}
	return status, err
}

func TestCheck(t *testing.T) {
	ts := newIDRAC(t)
	ctx := context.Background()

	t.Run("Status", func(t *testing.T) {
		status, err := runCheck(t, testOptions(ts), storage.NewMemoryProvider())
		require.NoError(t, err)
		assert.Equal(t, deviceID, status.ID)
		assert.Equal(t, "6.10.30.00", status.FirmwareVersion)
		require.NotNil(t, status.Power)
		assert.Equal(t, 212.0, status.Power.Watts)
	})

	t.Run("Seed With Reset Policy", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		opts := testOptions(ts)
		opts.defaults.Restore = types.RestorePolicyReset
		opts.seedTotal = "2500"
		opts.seedUnit = "Wh"

		status, err := runCheck(t, opts, db)
		require.NoError(t, err)
		assert.Equal(t, 2.5, status.TotalEnergy)
		assert.Equal(t, types.KilowattHours, status.Unit)

		stored, err := db.GetEnergyTotal(ctx, deviceID)
		require.NoError(t, err)
		assert.Equal(t, 2500.0, stored)
	})

	t.Run("Reset", func(t *testing.T) {
		db := storage.NewMemoryProvider()
		require.NoError(t, db.SetEnergyTotal(ctx, deviceID, 900, time.Now()))
		opts := testOptions(ts)
		opts.resetTotal = true

		status, err := runCheck(t, opts, db)
		require.NoError(t, err)
		assert.Zero(t, status.TotalEnergy)
		stored, err := db.GetEnergyTotal(ctx, deviceID)
		require.NoError(t, err)
		assert.Zero(t, stored)
	})

	t.Run("Invalid Auth", func(t *testing.T) {
		opts := testOptions(ts)
		opts.device.Password = "wrong"

		_, err := runCheck(t, opts, storage.NewMemoryProvider())
		var cerr *checkError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, monitor.KindInvalidAuth, cerr.kind)
	})

	t.Run("Conflicting Flags", func(t *testing.T) {
		opts := testOptions(ts)
		opts.resetTotal = true
		opts.seedTotal = "1"
		_, err := runCheck(t, opts, storage.NewMemoryProvider())
		assert.ErrorContains(t, err, "mutually exclusive")
	})

	t.Run("Missing Host", func(t *testing.T) {
		_, err := runCheck(t, options{}, storage.NewMemoryProvider())
		assert.ErrorContains(t, err, "missing -idrac-host")
	})
}
