package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stagesim/pioneer/internal/device"
	"github.com/stagesim/pioneer/internal/localize"
)

var (
	// ErrUnknownDevice is returned when a request names a device that is not registered.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrDuplicateDevice is returned when a device id is registered twice.
	ErrDuplicateDevice = errors.New("device already registered")
)

// DeviceEntry groups a body with the interfaces served on top of it.
type DeviceEntry struct {
	Device   *device.Pioneer
	Localize *localize.Adapter
}

// DeviceCache holds the simulated devices keyed by id.
// Lookups happen on every front-end request, so they must not touch storage.
type DeviceCache struct {
	m       sync.RWMutex
	devices map[string]DeviceEntry
	order   []string
}

func NewDeviceCache() *DeviceCache {
	return &DeviceCache{
		devices: make(map[string]DeviceEntry),
	}
}

// Add registers an entry under its device id.
func (c *DeviceCache) Add(e DeviceEntry) error {
	id := e.Device.ID()
	c.m.Lock()
	defer c.m.Unlock()
	if _, ok := c.devices[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
	}
	c.devices[id] = e
	c.order = append(c.order, id)
	return nil
}

func (c *DeviceCache) Get(id string) (DeviceEntry, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	e, ok := c.devices[id]
	return e, ok
}

// Lookup is Get with an ErrUnknownDevice error for missing ids.
func (c *DeviceCache) Lookup(id string) (DeviceEntry, error) {
	e, ok := c.Get(id)
	if !ok {
		return DeviceEntry{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return e, nil
}

// Entries returns all entries in registration order.
func (c *DeviceCache) Entries() []DeviceEntry {
	c.m.RLock()
	defer c.m.RUnlock()
	out := make([]DeviceEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.devices[id])
	}
	return out
}

func (c *DeviceCache) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.devices)
}
