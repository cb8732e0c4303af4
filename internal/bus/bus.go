// Package bus defines the boundary with the external device bus: the
// transport-agnostic request/resolution contract for device operations,
// plus the pushed membership and property events that drive the device
// registry. Backends: MQTT (production), in-memory fakes (tests).
package bus

// Method names one operation executable against a device.
type Method string

const (
	MethodGetProperties           Method = "GetProperties"
	MethodSetProperty             Method = "SetProperty"
	MethodRequestRefreshIPConfigs Method = "RequestRefreshIPConfigs"
	MethodSetCarrier              Method = "SetCarrier"
	MethodRequirePin              Method = "RequirePin"
	MethodEnterPin                Method = "EnterPin"
	MethodUnblockPin              Method = "UnblockPin"
	MethodChangePin               Method = "ChangePin"
)

// Failure kinds a bus backend may report in a Resolution. Anything else
// is treated as a generic bus failure by the dispatcher.
const (
	KindBusFailure   = "BusFailure"
	KindTypeMismatch = "TypeMismatch"
)

// Request is one outbound device operation. CallID is an opaque token
// allocated by the dispatcher; the backend echoes it in the Resolution.
type Request struct {
	DevicePath string
	Method     Method
	Args       []any
	CallID     uint64
}

// Failure is a method-level error reported by the bus.
type Failure struct {
	Kind   string
	Detail string
}

// Resolution is the single terminal reply for one Request.
// Exactly one of Value/Err carries the outcome; Err nil means success.
type Resolution struct {
	CallID uint64
	Value  any
	Err    *Failure
}

// DeviceEvent announces a device appearing on or leaving the bus.
type DeviceEvent struct {
	DevicePath string
	Type       string
	Name       string
}

// PropertyEvent announces a bus-side change to one device property.
type PropertyEvent struct {
	DevicePath string
	Property   string
	Value      any
}

// Bus is the abstract device bus backend. Send must not block on the
// reply; the backend delivers it later through the resolution handler.
// Handlers are registered once during wiring, before any Send.
type Bus interface {
	Send(req Request) error

	// Resolution and event delivery. Handlers may be invoked from
	// backend-owned goroutines.
	OnResolution(handler func(Resolution))
	OnDeviceAdded(handler func(DeviceEvent))
	OnDeviceRemoved(handler func(DeviceEvent))
	OnPropertyChanged(handler func(PropertyEvent))

	Close() error
}
