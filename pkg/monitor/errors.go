package monitor

import (
	"errors"

	"github.com/raterudder/idracpower/pkg/energy"
	"github.com/raterudder/idracpower/pkg/redfish"
)

// Error kinds, stable for use as API values and metric labels.
const (
	KindInvalidAuth     = "invalid_auth"
	KindRedfishConfig   = "redfish_config"
	KindCannotConnect   = "cannot_connect"
	KindInvalidInterval = "invalid_interval"
	KindInvalidReading  = "invalid_reading"
	KindDuplicate       = "duplicate_device"
	KindNotReady        = "not_ready"
	KindUnknown         = "unknown"
)

// ErrorKind maps err onto one of the Kind constants. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, redfish.ErrInvalidAuth):
		return KindInvalidAuth
	case errors.Is(err, redfish.ErrRedfishConfig):
		return KindRedfishConfig
	case errors.Is(err, redfish.ErrCannotConnect):
		return KindCannotConnect
	case errors.Is(err, energy.ErrInvalidInterval):
		return KindInvalidInterval
	case errors.Is(err, energy.ErrInvalidReading):
		return KindInvalidReading
	case errors.Is(err, ErrDuplicateDevice):
		return KindDuplicate
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	default:
		return KindUnknown
	}
}
