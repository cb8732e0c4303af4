package bus

import (
	"encoding/json"
	"fmt"
)

// Wire format for the MQTT transport. Property values are tagged with
// their kind so integers, booleans and string lists survive JSON
// round-trips intact (plain JSON would widen every number to float64).

type wireValue struct {
	Type string               `json:"type"`
	B    bool                 `json:"b,omitempty"`
	S    string               `json:"s,omitempty"`
	I    int64                `json:"i,omitempty"`
	L    []string             `json:"l,omitempty"`
	M    map[string]wireValue `json:"m,omitempty"`
}

type wireRequest struct {
	DevicePath string      `json:"device_path"`
	Method     string      `json:"method"`
	Args       []wireValue `json:"args,omitempty"`
	CallID     uint64      `json:"call_id"`
	ReplyTo    string      `json:"reply_to"`
}

type wireFailure struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

type wireResolution struct {
	CallID uint64       `json:"call_id"`
	Value  *wireValue   `json:"value,omitempty"`
	Error  *wireFailure `json:"error,omitempty"`
}

const (
	wireEventAdded    = "device_added"
	wireEventRemoved  = "device_removed"
	wireEventProperty = "property_changed"
)

type wireEvent struct {
	Event      string     `json:"event"`
	DevicePath string     `json:"device_path"`
	Type       string     `json:"type,omitempty"`
	Name       string     `json:"name,omitempty"`
	Property   string     `json:"property,omitempty"`
	Value      *wireValue `json:"value,omitempty"`
}

func encodeValue(v any) (wireValue, error) {
	switch t := v.(type) {
	case bool:
		return wireValue{Type: "bool", B: t}, nil
	case string:
		return wireValue{Type: "string", S: t}, nil
	case int:
		return wireValue{Type: "int", I: int64(t)}, nil
	case int64:
		return wireValue{Type: "int", I: t}, nil
	case []string:
		l := make([]string, len(t))
		copy(l, t)
		return wireValue{Type: "strings", L: l}, nil
	case map[string]any:
		m := make(map[string]wireValue, len(t))
		for k, mv := range t {
			enc, err := encodeValue(mv)
			if err != nil {
				return wireValue{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = enc
		}
		return wireValue{Type: "map", M: m}, nil
	}
	return wireValue{}, fmt.Errorf("unsupported value type %T", v)
}

func decodeValue(w wireValue) (any, error) {
	switch w.Type {
	case "bool":
		return w.B, nil
	case "string":
		return w.S, nil
	case "int":
		return w.I, nil
	case "strings":
		l := make([]string, len(w.L))
		copy(l, w.L)
		return l, nil
	case "map":
		m := make(map[string]any, len(w.M))
		for k, wv := range w.M {
			dec, err := decodeValue(wv)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = dec
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown wire value type %q", w.Type)
}

func marshalRequest(req Request, replyTo string) ([]byte, error) {
	wr := wireRequest{
		DevicePath: req.DevicePath,
		Method:     string(req.Method),
		CallID:     req.CallID,
		ReplyTo:    replyTo,
	}
	for i, arg := range req.Args {
		enc, err := encodeValue(arg)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", req.Method, i, err)
		}
		wr.Args = append(wr.Args, enc)
	}
	return json.Marshal(wr)
}

func unmarshalResolution(data []byte) (Resolution, error) {
	var wr wireResolution
	if err := json.Unmarshal(data, &wr); err != nil {
		return Resolution{}, fmt.Errorf("decode resolution: %w", err)
	}
	res := Resolution{CallID: wr.CallID}
	if wr.Error != nil {
		res.Err = &Failure{Kind: wr.Error.Kind, Detail: wr.Error.Detail}
		return res, nil
	}
	if wr.Value != nil {
		v, err := decodeValue(*wr.Value)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolution call %d: %w", wr.CallID, err)
		}
		res.Value = v
	}
	return res, nil
}

func unmarshalEvent(data []byte) (wireEvent, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return wireEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return we, nil
}
