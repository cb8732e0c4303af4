package devices

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"netdevd/internal/bus"
)

// Outcome is the single terminal result of one asynchronous device
// operation. Properties is set only for GetDeviceProperties successes;
// every other operation is signal-only. Err nil means success.
type Outcome struct {
	DevicePath string
	Properties map[string]any
	Err        *OpError
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Callback receives an Outcome. It is invoked exactly once per issued
// operation, on a separate goroutine, never before the issuing call has
// returned.
type Callback func(Outcome)

// Options configures a Dispatcher.
type Options struct {
	// Timeout, when non-zero, bounds how long a dispatched call may stay
	// pending before it is rejected with ErrorTimeout. A late bus reply
	// for a timed-out call is discarded.
	Timeout time.Duration

	// Strict makes a resolution for an unknown or already-resolved call
	// panic instead of being logged and ignored. Enabled in tests.
	Strict bool
}

type pendingCall struct {
	devicePath string
	method     bus.Method
	callback   Callback
	issuedAt   time.Time
	timer      *time.Timer
}

// defaultTombstoneTTL bounds how long a timed-out call ID is remembered
// so its late reply can be discarded. Most timed-out calls never get a
// reply at all (dead bus, crashed device service), so tombstones must
// not accumulate for the life of the daemon.
const defaultTombstoneTTL = time.Minute

// Dispatcher tracks in-flight bus calls. It guarantees that every
// dispatched call terminates with exactly one Outcome: a bus reply, a
// timeout, or cancellation at Close (which delivers nothing).
type Dispatcher struct {
	bus    bus.Bus
	opts   Options
	logger *slog.Logger

	nextID atomic.Uint64

	mu           sync.Mutex
	pending      map[uint64]*pendingCall
	timedOut     map[uint64]struct{} // await one late reply each, to discard it
	tombstoneTTL time.Duration
	closed       bool

	wg sync.WaitGroup // in-flight callback deliveries
}

// NewDispatcher creates a dispatcher bound to b and registers itself as
// b's resolution handler.
func NewDispatcher(b bus.Bus, opts Options, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		bus:          b,
		opts:         opts,
		logger:       logger.With("component", "dispatcher"),
		pending:      make(map[uint64]*pendingCall),
		timedOut:     make(map[uint64]struct{}),
		tombstoneTTL: defaultTombstoneTTL,
	}
	b.OnResolution(d.handleResolution)
	return d
}

// Dispatch issues method against devicePath on the bus. It performs no
// validation of its own and returns as soon as the request is on its
// way; cb fires later with the terminal outcome. Retry policy, if any,
// belongs to the caller.
func (d *Dispatcher) Dispatch(devicePath string, method bus.Method, args []any, cb Callback) {
	id := d.nextID.Add(1)
	call := &pendingCall{
		devicePath: devicePath,
		method:     method,
		callback:   cb,
		issuedAt:   time.Now(),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatch after close", "device", devicePath, "method", method)
		return
	}
	d.pending[id] = call
	if d.opts.Timeout > 0 {
		call.timer = time.AfterFunc(d.opts.Timeout, func() { d.timeout(id) })
	}
	d.mu.Unlock()

	d.logger.Debug("dispatch", "call_id", id, "device", devicePath, "method", method)

	if err := d.bus.Send(bus.Request{DevicePath: devicePath, Method: method, Args: args, CallID: id}); err != nil {
		d.Reject(id, string(ErrorBusFailure), fmt.Sprintf("send %s: %v", method, err))
	}
}

// Resolve delivers a successful bus reply for callID.
func (d *Dispatcher) Resolve(callID uint64, value any) {
	call, ok := d.take(callID)
	if !ok {
		return
	}
	out := Outcome{DevicePath: call.devicePath}
	if props, isMap := value.(map[string]any); isMap {
		out.Properties = props
	} else if value != nil {
		d.logger.Debug("ignoring non-map resolution payload",
			"call_id", callID, "method", call.method, "type", fmt.Sprintf("%T", value))
	}
	d.deliver(call, out)
}

// Reject delivers a failed bus reply for callID.
func (d *Dispatcher) Reject(callID uint64, kind, detail string) {
	call, ok := d.take(callID)
	if !ok {
		return
	}
	d.deliver(call, Outcome{DevicePath: call.devicePath, Err: toOpError(kind, detail)})
}

// Pending reports the number of in-flight calls.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels all outstanding calls. Their callbacks are never
// invoked; late bus replies arriving afterwards are discarded silently.
// Close blocks until callbacks already in flight have returned.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for id, call := range d.pending {
		if call.timer != nil {
			call.timer.Stop()
		}
		delete(d.pending, id)
	}
	clear(d.timedOut)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) handleResolution(res bus.Resolution) {
	if res.Err != nil {
		d.Reject(res.CallID, res.Err.Kind, res.Err.Detail)
		return
	}
	d.Resolve(res.CallID, res.Value)
}

// take removes and returns the pending call for callID, claiming the
// right to deliver its outcome. The winner between a bus reply and the
// timeout timer is decided here, under the mutex.
func (d *Dispatcher) take(callID uint64) (*pendingCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}
	if _, wasTimedOut := d.timedOut[callID]; wasTimedOut {
		delete(d.timedOut, callID)
		d.logger.Debug("discarding late reply for timed-out call", "call_id", callID)
		return nil, false
	}
	call, ok := d.pending[callID]
	if !ok {
		if d.opts.Strict {
			panic(fmt.Sprintf("devices: resolution for unknown call %d", callID))
		}
		d.logger.Error("resolution for unknown call", "call_id", callID)
		return nil, false
	}
	delete(d.pending, callID)
	if call.timer != nil {
		call.timer.Stop()
	}
	d.wg.Add(1)
	return call, true
}

// timeout fires from the per-call timer. If the call is still pending
// it delivers a Timeout outcome and leaves a tombstone so a late reply
// is dropped without being mistaken for a stray resolution. The
// tombstone itself expires after a grace window — most timed-out calls
// never get a reply, and an unbounded set would leak one entry per
// timeout for the life of the process. A reply arriving after the
// window is treated like any other stray resolution.
func (d *Dispatcher) timeout(callID uint64) {
	d.mu.Lock()
	call, ok := d.pending[callID]
	if d.closed || !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, callID)
	d.timedOut[callID] = struct{}{}
	time.AfterFunc(d.tombstoneTTL, func() { d.expireTombstone(callID) })
	d.wg.Add(1)
	d.mu.Unlock()

	d.logger.Warn("call timed out",
		"call_id", callID, "device", call.devicePath, "method", call.method,
		"after", time.Since(call.issuedAt))
	d.deliver(call, Outcome{
		DevicePath: call.devicePath,
		Err:        newOpError(ErrorTimeout, "%s: no reply within %s", call.method, d.opts.Timeout),
	})
}

func (d *Dispatcher) expireTombstone(callID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	delete(d.timedOut, callID)
}

// fail delivers a locally raised error without contacting the bus, with
// the same asynchronous, exactly-once semantics as a dispatched call.
func (d *Dispatcher) fail(devicePath string, cb Callback, err *OpError) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		cb(Outcome{DevicePath: devicePath, Err: err})
	}()
}

// deliver runs the callback on its own goroutine. Callers must have
// claimed the call via take (or incremented wg themselves).
func (d *Dispatcher) deliver(call *pendingCall, out Outcome) {
	go func() {
		defer d.wg.Done()
		call.callback(out)
	}()
}
