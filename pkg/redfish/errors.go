package redfish

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAuth means the controller rejected the credentials. Retrying
	// without user action will not help.
	ErrInvalidAuth = errors.New("invalid credentials")
	// ErrRedfishConfig means the Redfish API is administratively disabled on
	// the controller.
	ErrRedfishConfig = errors.New("redfish api is disabled on the controller")
	// ErrCannotConnect covers transport failures, unexpected statuses and
	// malformed responses. It is safe to retry on the next poll.
	ErrCannotConnect = errors.New("cannot connect to controller")
)

// redfishDisabledMessage appears in the extended info of the 404 an iDRAC
// returns when its Redfish attribute is turned off.
const redfishDisabledMessage = "RedFish attribute is disabled"

// Error carries the details of a failed request. errors.Is matches it against
// its Kind as well as the underlying error.
type Error struct {
	Kind       error
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Path != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Path)
		sb.WriteString(")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Body)
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// errorResponse is the Redfish error body.
type errorResponse struct {
	Error struct {
		Code         string `json:"code"`
		ExtendedInfo []struct {
			Message string `json:"Message"`
		} `json:"@Message.ExtendedInfo"`
	} `json:"error"`
}

func (r errorResponse) redfishDisabled() bool {
	for _, info := range r.Error.ExtendedInfo {
		if strings.Contains(info.Message, redfishDisabledMessage) {
			return true
		}
	}
	return false
}
