// Package devices implements the asynchronous device-property client:
// a registry of bus-addressable network devices, a dispatcher tracking
// in-flight bus calls, and the operation facade the rest of the system
// talks to. Every operation terminates with exactly one Outcome,
// delivered asynchronously.
package devices

import (
	"log/slog"

	"netdevd/internal/bus"
)

// Handler is the public surface for device operations. Each operation
// validates the device path against the registry, then delegates to the
// dispatcher; an unregistered path fails with DeviceNotFound without
// the bus ever being contacted.
type Handler struct {
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewHandler wires a handler to the given bus. It owns the dispatcher
// it creates and subscribes the registry to the bus's membership and
// property events.
func NewHandler(b bus.Bus, registry *Registry, opts Options, logger *slog.Logger) *Handler {
	h := &Handler{
		registry:   registry,
		dispatcher: NewDispatcher(b, opts, logger),
		logger:     logger.With("component", "devices"),
	}
	h.registerBusHandlers(b)
	return h
}

// Registry returns the device registry.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Close cancels all outstanding operations. Their callbacks are never
// invoked after Close returns.
func (h *Handler) Close() {
	h.dispatcher.Close()
}

func (h *Handler) registerBusHandlers(b bus.Bus) {
	b.OnDeviceAdded(func(evt bus.DeviceEvent) {
		if err := h.registry.Upsert(evt.DevicePath, DeviceType(evt.Type), evt.Name); err != nil {
			h.logger.Error("device added", "path", evt.DevicePath, "err", err)
		}
	})
	b.OnDeviceRemoved(func(evt bus.DeviceEvent) {
		h.registry.Remove(evt.DevicePath)
	})
	b.OnPropertyChanged(func(evt bus.PropertyEvent) {
		if err := h.registry.ApplyPropertyChange(evt.DevicePath, evt.Property, evt.Value); err != nil {
			h.logger.Warn("property change", "path", evt.DevicePath, "property", evt.Property, "err", err)
		}
	})
}

// checkDevice resolves devicePath. On a miss it delivers DeviceNotFound
// through cb (asynchronously, like every other outcome) and reports
// false.
func (h *Handler) checkDevice(devicePath string, cb Callback) bool {
	if _, ok := h.registry.Lookup(devicePath); ok {
		return true
	}
	h.dispatcher.fail(devicePath, cb, newOpError(ErrorDeviceNotFound, "device %q is not registered", devicePath))
	return false
}

// GetDeviceProperties fetches the device's full property set. The
// outcome carries the device path and a snapshot of the properties.
func (h *Handler) GetDeviceProperties(devicePath string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodGetProperties, nil, cb)
}

// SetDeviceProperty sets one property on the device. The bus rejects a
// value whose type disagrees with the property's recorded type.
func (h *Handler) SetDeviceProperty(devicePath, name string, value any, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodSetProperty, []any{name, value}, cb)
}

// RequestRefreshIPConfigs asks the device to renew its IP configs.
func (h *Handler) RequestRefreshIPConfigs(devicePath string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodRequestRefreshIPConfigs, nil, cb)
}

// SetCarrier selects the cellular carrier on the device.
func (h *Handler) SetCarrier(devicePath, carrier string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodSetCarrier, []any{carrier}, cb)
}
