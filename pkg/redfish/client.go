// Package redfish reads power telemetry and identity from a server management
// controller over the Redfish REST API.
//
// Calls are synchronous and block for the duration of the HTTP round trip.
// Callers running inside an event loop must run them on a separate goroutine.
// The client never retries; retry cadence belongs to whoever schedules polls.
package redfish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/idracpower/pkg/common"
	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/types"
)

// DefaultTimeout bounds every request when the config does not set one.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response is read.
const maxBodySize = 1 << 20

// ConnectionConfig holds everything needed to reach one controller.
type ConnectionConfig struct {
	Host     string
	Username string
	Password string

	// InsecureSkipVerify disables certificate authority and hostname
	// validation. Only meant for controllers on a trusted management network
	// that present a self-signed certificate.
	InsecureSkipVerify bool
	// PinnedCertificate is the DER encoded certificate the controller must
	// present. It replaces chain validation with an exact match.
	PinnedCertificate []byte

	Timeout time.Duration
	// Resources defaults to IDRACResources when empty.
	Resources ResourceTable
}

// Client talks to a single controller. It holds no mutable state and can be
// shared, but each controller should have its own Client.
type Client struct {
	client    *http.Client
	baseURL   string
	username  string
	password  string
	resources ResourceTable
	now       func() time.Time
}

// NewClient builds a client from cfg.
func NewClient(cfg ConnectionConfig) (*Client, error) {
	host := strings.TrimSuffix(strings.TrimPrefix(cfg.Host, "https://"), "/")
	if host == "" {
		return nil, errors.New("missing host")
	}
	if cfg.Username == "" {
		return nil, errors.New("missing username")
	}

	resources := cfg.Resources
	if resources.Power.Path == "" && resources.Chassis.Path == "" && resources.Manager.Path == "" {
		resources = IDRACResources()
	}
	if err := resources.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resource table: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		client:    common.HTTPClient(timeout, tlsConfig(cfg)),
		baseURL:   "https://" + host,
		username:  cfg.Username,
		password:  cfg.Password,
		resources: resources,
		now:       time.Now,
	}, nil
}

// Host returns the controller address the client was built for.
func (c *Client) Host() string {
	return strings.TrimPrefix(c.baseURL, "https://")
}

// GetPowerUsage returns the instantaneous power draw in watts.
func (c *Client) GetPowerUsage(ctx context.Context) (float64, error) {
	res := c.resources.Power
	body, err := c.get(ctx, res)
	if err != nil {
		return 0, err
	}

	watts, err := floatField(body, res, FieldPowerConsumedWatts)
	if err != nil {
		return 0, err
	}
	if watts < 0 {
		return 0, &Error{Kind: ErrCannotConnect, Path: res.Path, Err: fmt.Errorf("negative power reading %v", watts)}
	}
	log.Ctx(ctx).DebugContext(ctx, "redfish power usage", slog.Float64("watts", watts))
	return watts, nil
}

// ReadPower returns the power draw stamped with the time the response arrived.
func (c *Client) ReadPower(ctx context.Context) (types.PowerReading, error) {
	watts, err := c.GetPowerUsage(ctx)
	if err != nil {
		return types.PowerReading{}, err
	}
	return types.PowerReading{Watts: watts, Timestamp: c.now()}, nil
}

// GetDeviceInfo returns the identity of the chassis.
func (c *Client) GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	res := c.resources.Chassis
	body, err := c.get(ctx, res)
	if err != nil {
		return types.DeviceInfo{}, err
	}

	var info types.DeviceInfo
	for _, f := range []struct {
		field Field
		dest  *string
	}{
		{FieldName, &info.Name},
		{FieldManufacturer, &info.Manufacturer},
		{FieldModel, &info.Model},
		{FieldSerialNumber, &info.SerialNumber},
	} {
		v, err := stringField(body, res, f.field)
		if err != nil {
			return types.DeviceInfo{}, err
		}
		*f.dest = v
	}
	return info, nil
}

// GetFirmwareVersion returns the controller's firmware version.
func (c *Client) GetFirmwareVersion(ctx context.Context) (string, error) {
	res := c.resources.Manager
	body, err := c.get(ctx, res)
	if err != nil {
		return "", err
	}
	return stringField(body, res, FieldFirmwareVersion)
}

func (c *Client) newGetRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// get fetches res and returns its top level JSON properties.
func (c *Client) get(ctx context.Context, res Resource) (map[string]json.RawMessage, error) {
	req, err := c.newGetRequest(ctx, res.Path)
	if err != nil {
		return nil, &Error{Kind: ErrCannotConnect, Path: res.Path, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "redfish request failed", slog.String("path", res.Path), slog.Any("error", err))
		return nil, &Error{Kind: ErrCannotConnect, Path: res.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{Kind: ErrCannotConnect, Path: res.Path, StatusCode: resp.StatusCode, Err: err}
	}

	if err := classify(res.Path, resp.StatusCode, body); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "redfish error response", slog.String("path", res.Path), slog.Int("status", resp.StatusCode), slog.Any("error", err))
		return nil, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode redfish response", slog.String("path", res.Path), slog.Any("error", err), slog.String("body", string(body)))
		return nil, &Error{Kind: ErrCannotConnect, Path: res.Path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return obj, nil
}

// classify maps a non-200 response onto the error taxonomy.
func classify(path string, status int, body []byte) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return &Error{Kind: ErrInvalidAuth, Path: path, StatusCode: status}
	case http.StatusNotFound:
		var er errorResponse
		if err := json.Unmarshal(body, &er); err == nil && er.redfishDisabled() {
			return &Error{Kind: ErrRedfishConfig, Path: path, StatusCode: status}
		}
	}
	return &Error{Kind: ErrCannotConnect, Path: path, StatusCode: status, Body: strings.TrimSpace(string(body))}
}

func rawField(obj map[string]json.RawMessage, res Resource, field Field) (json.RawMessage, string, error) {
	name := res.Fields[field]
	raw, ok := obj[name]
	if !ok || string(raw) == "null" {
		return nil, name, &Error{Kind: ErrCannotConnect, Path: res.Path, Err: fmt.Errorf("response missing field %s", name)}
	}
	return raw, name, nil
}

func stringField(obj map[string]json.RawMessage, res Resource, field Field) (string, error) {
	raw, name, err := rawField(obj, res, field)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", &Error{Kind: ErrCannotConnect, Path: res.Path, Err: fmt.Errorf("field %s is not a string: %w", name, err)}
	}
	return v, nil
}

func floatField(obj map[string]json.RawMessage, res Resource, field Field) (float64, error) {
	raw, name, err := rawField(obj, res, field)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, &Error{Kind: ErrCannotConnect, Path: res.Path, Err: fmt.Errorf("field %s is not a number: %w", name, err)}
	}
	return v, nil
}
