package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/raterudder/idracpower/pkg/log"
)

// Map holds every configured device, ready or not.
type Map struct {
	mu      sync.Mutex
	devices []*Device
	owners  map[string]*Device
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{owners: map[string]*Device{}}
}

// Add registers a device. It is only polled once its Setup succeeds. A device
// that resolves to the ID of another registered device stays pending with
// ErrDuplicateDevice.
func (m *Map) Add(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.claim = m.claim
	m.devices = append(m.devices, d)
}

func (m *Map) claim(id string, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.owners[id]; ok && owner != d {
		return fmt.Errorf("%w: %s is served by %s", ErrDuplicateDevice, id, owner.Host())
	}
	m.owners[id] = d
	return nil
}

// SetupDevice runs Setup on d and logs a failure.
func (m *Map) SetupDevice(ctx context.Context, d *Device) error {
	err := d.Setup(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"device setup failed",
			slog.String("host", d.Host()),
			slog.String("kind", ErrorKind(err)),
			slog.Any("error", err),
		)
		return fmt.Errorf("%s: %w", d.Host(), err)
	}
	return nil
}

// Setup runs Setup concurrently on every device that is not ready yet and
// returns the joined errors. Devices that fail stay registered and are retried
// on the next call.
func (m *Map) Setup(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range m.All() {
		if d.Ready() {
			continue
		}
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			if err := m.SetupDevice(ctx, d); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// All returns every registered device in the order they were added.
func (m *Map) All() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Device(nil), m.devices...)
}

// Device returns the ready device with the given ID.
func (m *Map) Device(id string) (*Device, bool) {
	for _, d := range m.All() {
		if id != "" && d.ID() == id {
			return d, true
		}
	}
	return nil, false
}

// Devices returns the ready devices sorted by ID.
func (m *Map) Devices() []*Device {
	var ready []*Device
	for _, d := range m.All() {
		if d.Ready() {
			ready = append(ready, d)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].ID() < ready[j].ID()
	})
	return ready
}

// Pending returns the number of devices still waiting for a successful Setup.
func (m *Map) Pending() int {
	var n int
	for _, d := range m.All() {
		if !d.Ready() {
			n++
		}
	}
	return n
}
