package devices

import "netdevd/internal/bus"

// SIM PIN/PUK operations. Each is a single atomic request-response on
// the bus; none inspects the result of a previous PIN operation, since
// lock state lives on the physical modem, not in this client. The bus
// does not enforce ordering between calls — a caller that needs
// sequencing must wait for one outcome before issuing the next call.

// RequirePin enables or disables the SIM PIN requirement.
func (h *Handler) RequirePin(devicePath string, required bool, pin string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodRequirePin, []any{required, pin}, cb)
}

// EnterPin supplies the SIM PIN to unlock the modem.
func (h *Handler) EnterPin(devicePath, pin string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodEnterPin, []any{pin}, cb)
}

// UnblockPin clears a blocked SIM with the PUK and sets a new PIN.
func (h *Handler) UnblockPin(devicePath, pin, puk string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodUnblockPin, []any{pin, puk}, cb)
}

// ChangePin replaces the SIM PIN. The modem rejects a wrong oldPin.
func (h *Handler) ChangePin(devicePath, oldPin, newPin string, cb Callback) {
	if !h.checkDevice(devicePath, cb) {
		return
	}
	h.dispatcher.Dispatch(devicePath, bus.MethodChangePin, []any{oldPin, newPin}, cb)
}
