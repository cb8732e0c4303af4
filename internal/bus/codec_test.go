package bus

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEncodeValueRejectsUnsupportedTypes(t *testing.T) {
	for _, v := range []any{3.14, []int{1}, struct{}{}, nil} {
		if _, err := encodeValue(v); err == nil {
			t.Errorf("encodeValue(%T) succeeded", v)
		}
	}
}

func TestValueRoundTripKeepsKinds(t *testing.T) {
	// A GetProperties payload exercises every kind, including the nested
	// map, in one pass. JSON alone would widen the int to float64.
	in := map[string]any{
		"Type":         "wifi",
		"Powered":      true,
		"ScanInterval": int64(180),
		"IPConfigs":    []string{"ip_config1", "ip_config2"},
	}

	enc, err := encodeValue(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeValue(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %#v, want %#v", out, in)
	}
}

func TestRequestResolutionWire(t *testing.T) {
	req := Request{
		DevicePath: "stub_cellular_device",
		Method:     MethodSetProperty,
		Args:       []any{"AllowRoaming", true},
		CallID:     7,
	}

	payload, err := marshalRequest(req, "netdev/reply/netdevd")
	if err != nil {
		t.Fatal(err)
	}

	// The bus side answers with a failure; the reply topic and call ID
	// tie it back to the request.
	var wr wireRequest
	if err := json.Unmarshal(payload, &wr); err != nil {
		t.Fatal(err)
	}
	if wr.ReplyTo != "netdev/reply/netdevd" {
		t.Errorf("reply_to = %q", wr.ReplyTo)
	}
	if wr.CallID != 7 || wr.Method != "SetProperty" {
		t.Errorf("wire request = %+v", wr)
	}
	if len(wr.Args) != 2 || wr.Args[0].S != "AllowRoaming" || wr.Args[1].B != true {
		t.Errorf("wire args = %+v", wr.Args)
	}

	res, err := unmarshalResolution([]byte(`{"call_id":7,"error":{"kind":"TypeMismatch","detail":"recorded type bool"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.CallID != 7 || res.Err == nil || res.Err.Kind != "TypeMismatch" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestUnmarshalResolutionValue(t *testing.T) {
	res, err := unmarshalResolution([]byte(
		`{"call_id":3,"value":{"type":"map","m":{"Type":{"type":"string","s":"cellular"},"AllowRoaming":{"type":"bool","b":true}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	props, ok := res.Value.(map[string]any)
	if !ok {
		t.Fatalf("value = %T, want map", res.Value)
	}
	if props["Type"] != "cellular" || props["AllowRoaming"] != true {
		t.Errorf("props = %#v", props)
	}
}

func TestUnmarshalEvent(t *testing.T) {
	evt, err := unmarshalEvent([]byte(
		`{"event":"property_changed","device_path":"stub_wifi_device","property":"Scanning","value":{"type":"bool","b":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Event != wireEventProperty || evt.DevicePath != "stub_wifi_device" || evt.Property != "Scanning" {
		t.Errorf("event = %+v", evt)
	}
	v, err := decodeValue(*evt.Value)
	if err != nil || v != true {
		t.Errorf("value = %v, err = %v", v, err)
	}
}
