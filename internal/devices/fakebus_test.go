package devices

import (
	"fmt"
	"sync"

	"netdevd/internal/bus"
)

// fakeBus implements bus.Bus in memory. It keeps its own device table
// the way the real bus side would, executes requests on Send, and
// resolves them through the registered resolution handler. Tests seed
// devices, simulate SIM locks, push device events, or swallow requests
// entirely for timeout tests.
type fakeBus struct {
	mu           sync.Mutex
	onResolution func(bus.Resolution)
	onAdded      func(bus.DeviceEvent)
	onRemoved    func(bus.DeviceEvent)
	onProperty   func(bus.PropertyEvent)

	devices map[string]*fakeDevice
	sent    []bus.Request

	failNext *bus.Failure // consumed by the next Send
	sendErr  error        // consumed by the next Send
	silent   bool         // record requests but never resolve them
	closed   bool
}

type fakeDevice struct {
	props *PropertyStore

	// Simulated SIM lock state. Empty pin means no lock configured and
	// every PIN operation trivially succeeds.
	pin     string
	puk     string
	retries int
	blocked bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{devices: make(map[string]*fakeDevice)}
}

// AddDevice seeds a device on the bus side and announces it, so a wired
// registry registers it. Type and Name become ordinary properties.
func (f *fakeBus) AddDevice(path, devType, name string) {
	f.mu.Lock()
	dev := &fakeDevice{props: NewPropertyStore()}
	_ = dev.props.Set(PropertyType, devType)
	_ = dev.props.Set(PropertyName, name)
	f.devices[path] = dev
	onAdded := f.onAdded
	f.mu.Unlock()

	if onAdded != nil {
		onAdded(bus.DeviceEvent{DevicePath: path, Type: devType, Name: name})
	}
}

// RemoveDevice drops a device and announces its removal.
func (f *fakeBus) RemoveDevice(path string) {
	f.mu.Lock()
	delete(f.devices, path)
	onRemoved := f.onRemoved
	f.mu.Unlock()

	if onRemoved != nil {
		onRemoved(bus.DeviceEvent{DevicePath: path})
	}
}

// SeedProperty writes a property directly into the fake's device table,
// bypassing type checks and events.
func (f *fakeBus) SeedProperty(path, name string, value any) {
	f.mu.Lock()
	dev := f.devices[path]
	f.mu.Unlock()
	if dev == nil {
		panic(fmt.Sprintf("fakeBus: seed property on unknown device %q", path))
	}
	if err := dev.props.Set(name, value); err != nil {
		panic(fmt.Sprintf("fakeBus: seed %s on %s: %v", name, path, err))
	}
}

// PushPropertyChange announces a bus-side property change.
func (f *fakeBus) PushPropertyChange(path, name string, value any) {
	f.mu.Lock()
	onProperty := f.onProperty
	f.mu.Unlock()
	if onProperty != nil {
		onProperty(bus.PropertyEvent{DevicePath: path, Property: name, Value: value})
	}
}

// SetSimLock arms the simulated SIM lock on a device.
func (f *fakeBus) SetSimLock(path, pin, puk string, retries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev := f.devices[path]
	if dev == nil {
		panic(fmt.Sprintf("fakeBus: sim lock on unknown device %q", path))
	}
	dev.pin = pin
	dev.puk = puk
	dev.retries = retries
}

// FailNext makes the next request fail with the given bus failure.
func (f *fakeBus) FailNext(kind, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = &bus.Failure{Kind: kind, Detail: detail}
}

// ErrNext makes the next Send return an error without resolving.
func (f *fakeBus) ErrNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// Silence makes the fake swallow requests without ever resolving them.
func (f *fakeBus) Silence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = true
}

// SentCount reports how many requests reached the bus.
func (f *fakeBus) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// LastCallID returns the call ID of the most recent request.
func (f *fakeBus) LastCallID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		panic("fakeBus: no requests sent")
	}
	return f.sent[len(f.sent)-1].CallID
}

// ResolveRaw invokes the resolution handler directly, letting tests
// deliver stray or late replies.
func (f *fakeBus) ResolveRaw(res bus.Resolution) {
	f.mu.Lock()
	handler := f.onResolution
	f.mu.Unlock()
	if handler != nil {
		handler(res)
	}
}

func (f *fakeBus) Send(req bus.Request) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		f.mu.Unlock()
		return err
	}
	if f.silent {
		f.mu.Unlock()
		return nil
	}
	res := f.execute(req)
	handler := f.onResolution
	f.mu.Unlock()

	if handler != nil {
		handler(res)
	}
	return nil
}

// execute runs one request against the fake device table. Caller holds
// f.mu.
func (f *fakeBus) execute(req bus.Request) bus.Resolution {
	res := bus.Resolution{CallID: req.CallID}

	if f.failNext != nil {
		res.Err = f.failNext
		f.failNext = nil
		return res
	}

	dev := f.devices[req.DevicePath]
	if dev == nil {
		res.Err = &bus.Failure{Kind: bus.KindBusFailure, Detail: "no such device " + req.DevicePath}
		return res
	}

	switch req.Method {
	case bus.MethodGetProperties:
		res.Value = dev.props.GetAll()

	case bus.MethodSetProperty:
		name, _ := req.Args[0].(string)
		if err := dev.props.Set(name, req.Args[1]); err != nil {
			res.Err = &bus.Failure{Kind: bus.KindTypeMismatch, Detail: err.Error()}
		}

	case bus.MethodRequestRefreshIPConfigs, bus.MethodSetCarrier:
		// Accepted for any known device.

	case bus.MethodRequirePin:
		pin, _ := req.Args[1].(string)
		if dev.pin != "" && pin != dev.pin {
			res.Err = &bus.Failure{Kind: bus.KindBusFailure, Detail: "incorrect-pin"}
		}

	case bus.MethodEnterPin:
		res.Err = dev.enterPin(req.Args[0])

	case bus.MethodUnblockPin:
		res.Err = dev.unblockPin(req.Args[0], req.Args[1])

	case bus.MethodChangePin:
		res.Err = dev.changePin(req.Args[0], req.Args[1])

	default:
		res.Err = &bus.Failure{Kind: bus.KindBusFailure, Detail: "unknown method " + string(req.Method)}
	}
	return res
}

func (d *fakeDevice) enterPin(pinArg any) *bus.Failure {
	pin, _ := pinArg.(string)
	if d.pin == "" {
		return nil
	}
	if d.blocked {
		return &bus.Failure{Kind: bus.KindBusFailure, Detail: "sim-puk-required"}
	}
	if pin != d.pin {
		d.retries--
		if d.retries <= 0 {
			d.blocked = true
			return &bus.Failure{Kind: bus.KindBusFailure, Detail: "sim-blocked"}
		}
		return &bus.Failure{Kind: bus.KindBusFailure, Detail: "incorrect-pin"}
	}
	return nil
}

func (d *fakeDevice) unblockPin(pinArg, pukArg any) *bus.Failure {
	newPin, _ := pinArg.(string)
	puk, _ := pukArg.(string)
	if d.pin == "" {
		return nil
	}
	if puk != d.puk {
		return &bus.Failure{Kind: bus.KindBusFailure, Detail: "incorrect-puk"}
	}
	d.blocked = false
	d.pin = newPin
	d.retries = 3
	return nil
}

func (d *fakeDevice) changePin(oldArg, newArg any) *bus.Failure {
	oldPin, _ := oldArg.(string)
	newPin, _ := newArg.(string)
	if d.pin == "" {
		return nil
	}
	if d.blocked {
		return &bus.Failure{Kind: bus.KindBusFailure, Detail: "sim-puk-required"}
	}
	if oldPin != d.pin {
		return &bus.Failure{Kind: bus.KindBusFailure, Detail: "incorrect-pin"}
	}
	d.pin = newPin
	return nil
}

func (f *fakeBus) OnResolution(handler func(bus.Resolution)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResolution = handler
}

func (f *fakeBus) OnDeviceAdded(handler func(bus.DeviceEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAdded = handler
}

func (f *fakeBus) OnDeviceRemoved(handler func(bus.DeviceEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRemoved = handler
}

func (f *fakeBus) OnPropertyChanged(handler func(bus.PropertyEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onProperty = handler
}

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
