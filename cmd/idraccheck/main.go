// Command idraccheck validates the connection to a single iDRAC the same way
// the daemon does at startup and reports what went wrong. It can also print
// the controller certificate for pinning and seed or reset the stored total.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/idracpower/pkg/energy"
	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/monitor"
	"github.com/raterudder/idracpower/pkg/redfish"
	"github.com/raterudder/idracpower/pkg/storage"
	"github.com/raterudder/idracpower/pkg/types"
)

type options struct {
	device     types.DeviceConfig
	defaults   monitor.Defaults
	printCert  bool
	seedTotal  string
	seedUnit   string
	resetTotal bool
}

// checkError carries the error kind the daemon would report.
type checkError struct {
	kind string
	err  error
}

func (e *checkError) Error() string {
	return e.err.Error()
}

func (e *checkError) Unwrap() error {
	return e.err
}

func withKind(err error) error {
	return &checkError{kind: monitor.ErrorKind(err), err: err}
}

func main() {
	s := storage.Configured()
	cfg := monitor.ConfiguredDevice()
	defaults := monitor.ConfiguredDefaults()

	printCert := lflag.Bool("print-cert", false, "Print the certificate presented by the iDRAC as PEM and exit")
	seedTotal := lflag.String("seed-total", "", "Store this energy total (in -seed-unit) for the device")
	seedUnit := lflag.String("seed-unit", "", "Unit of -seed-total, defaults to -energy-unit")
	resetTotal := lflag.Bool("reset-total", false, "Reset the stored energy total of the device to zero")

	lflag.Configure()

	level, err := log.LevelFromLLog()
	if err != nil {
		panic(err)
	}
	log.Configure(level)

	err = check(context.Background(), options{
		device:     *cfg,
		defaults:   *defaults,
		printCert:  *printCert,
		seedTotal:  *seedTotal,
		seedUnit:   *seedUnit,
		resetTotal: *resetTotal,
	}, s, os.Stdout, os.Stderr)
	if cerr := s.Close(); cerr != nil {
		slog.Warn("failed to close storage", slog.Any("error", cerr))
	}
	if err != nil {
		var cerr *checkError
		if errors.As(err, &cerr) && cerr.kind != "" {
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", cerr.kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		os.Exit(1)
	}
}

// check connects to the controller in opts, applies the requested seed or
// reset and writes the resulting device status to stdout as JSON.
func check(ctx context.Context, opts options, s storage.Database, stdout, stderr io.Writer) error {
	if opts.device.Host == "" {
		return &checkError{err: errors.New("missing -idrac-host")}
	}
	if opts.resetTotal && opts.seedTotal != "" {
		return &checkError{err: errors.New("-seed-total and -reset-total are mutually exclusive")}
	}

	if opts.printCert {
		der, err := redfish.FetchCertificate(ctx, opts.device.Host, opts.device.Timeout)
		if err != nil {
			return withKind(err)
		}
		if _, err := stdout.Write(redfish.EncodeCertificatePEM(der)); err != nil {
			return &checkError{err: err}
		}
		fmt.Fprintf(stderr, "SHA-256 fingerprint: %s\n", redfish.Fingerprint(der))
		return nil
	}

	client, err := monitor.ClientFromConfig(opts.device)
	if err != nil {
		return &checkError{err: err}
	}
	d := monitor.NewDevice(client, s, opts.defaults.Unit, opts.defaults.Restore)
	if err := d.Setup(ctx); err != nil {
		return withKind(err)
	}
	if _, err := d.CurrentPower(ctx); err != nil {
		return withKind(err)
	}

	switch {
	case opts.resetTotal:
		if err := d.Reset(ctx); err != nil {
			return &checkError{err: err}
		}
	case opts.seedTotal != "":
		unit := opts.defaults.Unit
		if opts.seedUnit != "" {
			if unit, err = types.ParseEnergyUnit(opts.seedUnit); err != nil {
				return &checkError{err: err}
			}
		}
		wh, ok, err := energy.ParseTotal(opts.seedTotal, unit)
		if err != nil || !ok {
			return &checkError{err: fmt.Errorf("invalid -seed-total %q", opts.seedTotal)}
		}
		if err := s.SetEnergyTotal(ctx, d.ID(), wh, time.Now()); err != nil {
			return &checkError{err: err}
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded energy total", slog.String("device", d.ID()), slog.Float64("totalWattHours", wh))

		// read the seed back regardless of -energy-restore
		d = monitor.NewDevice(client, s, opts.defaults.Unit, types.RestorePolicyRestore)
		if err := d.Setup(ctx); err != nil {
			return withKind(err)
		}
		if _, err := d.CurrentPower(ctx); err != nil {
			return withKind(err)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.Status()); err != nil {
		return &checkError{err: err}
	}
	return nil
}
