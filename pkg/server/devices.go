package server

import (
	"log/slog"
	"net/http"

	"github.com/raterudder/idracpower/pkg/log"
	"github.com/raterudder/idracpower/pkg/monitor"
	"github.com/raterudder/idracpower/pkg/types"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.Devices()
	statuses := make([]types.DeviceStatus, 0, len(devices))
	for _, d := range devices {
		statuses = append(statuses, d.Status())
	}
	writeJSON(w, statuses)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.devices.Device(r.PathValue("id"))
	if !ok {
		writeJSONError(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, d.Status())
}

// handleDevicePower reads the power draw live from the controller without
// touching the energy total.
func (s *Server) handleDevicePower(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, ok := s.devices.Device(r.PathValue("id"))
	if !ok {
		writeJSONError(w, "device not found", http.StatusNotFound)
		return
	}

	reading, err := d.CurrentReading(ctx)
	if err != nil {
		kind := monitor.ErrorKind(err)
		s.metrics.recordError(d.ID(), kind)
		log.Ctx(ctx).WarnContext(ctx, "failed to read current power", slog.String("device", d.ID()), slog.String("kind", kind), slog.Any("error", err))
		writeJSONError(w, kind, http.StatusBadGateway)
		return
	}
	s.metrics.recordStatus(d.Status())

	writeJSON(w, struct {
		ID string `json:"id"`
		types.PowerReading
	}{
		ID:           d.ID(),
		PowerReading: reading,
	})
}
