package devices

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"netdevd/internal/store"
)

// DeviceType classifies a managed network device.
type DeviceType string

const (
	TypeCellular DeviceType = "cellular"
	TypeWifi     DeviceType = "wifi"
	TypeEthernet DeviceType = "ethernet"
)

// Device is one bus-addressable network device. All fields are set at
// registration and never reassigned, so a *Device handed out by Lookup
// is safe to read without holding the registry lock. Mutable state
// lives in the property store, which locks internally.
type Device struct {
	Path       string
	Type       DeviceType
	Properties *PropertyStore
}

// Name returns the device's friendly name, or "" when none is known.
// The name is an ordinary property and may be refreshed by an upsert.
func (d *Device) Name() string {
	v, ok := d.Properties.Get(PropertyName)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}

// Registry is the source of truth for device existence. Membership is
// mutated by the bus-event collaborator (and by store hydration at
// startup), not by facade operations.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	st     store.Store // optional write-through cache
	events *EventBus   // optional
	logger *slog.Logger
}

// NewRegistry creates a registry. st and events may be nil; with a
// store attached, membership and property changes are written through.
func NewRegistry(st store.Store, events *EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		st:      st,
		events:  events,
		logger:  logger.With("component", "registry"),
	}
}

// Lookup returns the device registered under path. Pure read.
func (r *Registry) Lookup(path string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[path]
	return dev, ok
}

// List returns all registered devices.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		list = append(list, dev)
	}
	return list
}

// Upsert registers a device or refreshes an existing one. A path still
// registered under a different device type is never reused; such an
// upsert is rejected.
func (r *Registry) Upsert(path string, devType DeviceType, name string) error {
	if path == "" {
		return fmt.Errorf("upsert: empty device path")
	}

	r.mu.Lock()
	dev, exists := r.devices[path]
	if exists && dev.Type != devType {
		r.mu.Unlock()
		return fmt.Errorf("upsert %s: registered as %s, refused %s", path, dev.Type, devType)
	}
	if !exists {
		dev = &Device{Path: path, Type: devType, Properties: NewPropertyStore()}
		r.devices[path] = dev
	}
	r.mu.Unlock()

	// Type and Name are visible as ordinary properties too.
	if err := dev.Properties.Set(PropertyType, string(devType)); err != nil {
		r.logger.Warn("seed type property", "path", path, "err", err)
	}
	if name != "" {
		if err := dev.Properties.Set(PropertyName, name); err != nil {
			r.logger.Warn("seed name property", "path", path, "err", err)
		}
	}

	r.persist(dev)
	if r.events != nil && !exists {
		r.events.Emit(Event{Type: EventDeviceAdded, Data: map[string]any{
			"path": path,
			"type": string(devType),
			"name": name,
		}})
	}
	return nil
}

// Remove drops the device registered under path. Removing an unknown
// path is a no-op.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	dev, ok := r.devices[path]
	delete(r.devices, path)
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.st != nil {
		if err := r.st.DeleteDevice(path); err != nil {
			r.logger.Error("delete device", "path", path, "err", err)
		}
	}
	if r.events != nil {
		r.events.Emit(Event{Type: EventDeviceRemoved, Data: map[string]any{
			"path": path,
			"type": string(dev.Type),
		}})
	}
}

// ApplyPropertyChange records a bus-pushed property update on the
// device registered under path.
func (r *Registry) ApplyPropertyChange(path, name string, value any) error {
	dev, ok := r.Lookup(path)
	if !ok {
		return fmt.Errorf("property change %s: %w", path, store.ErrNotFound)
	}
	if err := dev.Properties.Set(name, value); err != nil {
		return fmt.Errorf("property change %s: %w", path, err)
	}

	r.persist(dev)
	if r.events != nil {
		r.events.Emit(Event{Type: EventPropertyUpdate, Data: map[string]any{
			"path":     path,
			"property": name,
			"value":    value,
		}})
	}
	return nil
}

// Hydrate loads previously cached devices from the store. Devices
// already registered keep their in-memory state.
func (r *Registry) Hydrate() error {
	if r.st == nil {
		return nil
	}
	cached, err := r.st.ListDevices()
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	for _, rec := range cached {
		r.mu.Lock()
		if _, exists := r.devices[rec.Path]; exists {
			r.mu.Unlock()
			continue
		}
		dev := &Device{
			Path:       rec.Path,
			Type:       DeviceType(rec.Type),
			Properties: NewPropertyStore(),
		}
		r.devices[rec.Path] = dev
		r.mu.Unlock()

		if rec.Name != "" {
			if err := dev.Properties.Set(PropertyName, rec.Name); err != nil {
				r.logger.Warn("hydrate name property", "path", rec.Path, "err", err)
			}
		}
		for name, value := range rec.Properties {
			if err := dev.Properties.Set(name, value); err != nil {
				r.logger.Warn("hydrate property", "path", rec.Path, "property", name, "err", err)
			}
		}
	}
	r.logger.Info("registry hydrated", "devices", len(cached))
	return nil
}

func (r *Registry) persist(dev *Device) {
	if r.st == nil {
		return
	}
	now := time.Now().UTC()
	rec := &store.Device{
		Path:       dev.Path,
		Type:       string(dev.Type),
		Name:       dev.Name(),
		Properties: dev.Properties.GetAll(),
		AddedAt:    now,
		UpdatedAt:  now,
	}
	err := r.st.UpdateDevice(dev.Path, func(d *store.Device) error {
		d.Type = rec.Type
		d.Name = rec.Name
		d.Properties = rec.Properties
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// First sighting of this device.
		err = r.st.SaveDevice(rec)
	}
	if err != nil {
		r.logger.Error("persist device", "path", dev.Path, "err", err)
	}
}
