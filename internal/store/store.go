// Package store persists the device cache: every registered device and
// its last-known properties, so the registry can rehydrate after a
// restart without waiting for the bus to re-announce each device.
package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	SaveDevice(dev *Device) error
	GetDevice(path string) (*Device, error)
	DeleteDevice(path string) error
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a
	// single transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(path string, fn func(dev *Device) error) error

	Close() error
}
