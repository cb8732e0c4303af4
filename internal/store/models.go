package store

import "time"

// Device is the persisted record of one bus-addressable network device.
// Property values are restricted to bool, string, int64 and []string;
// the Bolt implementation normalizes them back to those kinds when
// loading (plain JSON decoding would widen integers to float64).
type Device struct {
	Path       string         `json:"path"`
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	AddedAt    time.Time      `json:"added_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
