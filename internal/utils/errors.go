package utils

import (
	"errors"
)

var (
	// ErrNotFound is returned when a referenced device, store, campaign or
	// attempt does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedOperation rejects lifecycle transitions that cannot take
	// effect, such as starting a campaign whose total ceiling is exhausted.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	ErrQueueFull = errors.New("delivery queue is full")

	// ErrDeviceBusy is returned when another clustering pass holds the
	// device.
	ErrDeviceBusy = errors.New("device is being clustered")

	// ErrLockLost is returned when a device lock expired or changed hands
	// while a clustering pass was still running.
	ErrLockLost = errors.New("device lock lost")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDeviceBusy(err error) bool {
	return errors.Is(err, ErrDeviceBusy)
}

func IsUnsupportedOperation(err error) bool {
	return errors.Is(err, ErrUnsupportedOperation)
}
