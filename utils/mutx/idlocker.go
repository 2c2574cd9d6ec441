package mutx

import (
	"errors"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// ErrDeviceBusy is returned when another mutation already holds the device.
var ErrDeviceBusy = errors.New("device is busy with another operation")

// DeviceLocks serializes mutations (partition, format, check, resize, rescan)
// per device. Reads never take these locks.
type DeviceLocks struct {
	locks sets.String
	mux   sync.Mutex
}

func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{
		locks: sets.NewString(),
	}
}

// TryAcquire returns true if the caller now owns device.
func (dl *DeviceLocks) TryAcquire(device string) bool {
	dl.mux.Lock()
	defer dl.mux.Unlock()
	if dl.locks.Has(device) {
		return false
	}
	dl.locks.Insert(device)
	return true
}

func (dl *DeviceLocks) Release(device string) {
	dl.mux.Lock()
	defer dl.mux.Unlock()
	dl.locks.Delete(device)
}

// With runs f while holding device, or returns ErrDeviceBusy.
func (dl *DeviceLocks) With(device string, f func() error) error {
	if !dl.TryAcquire(device) {
		return ErrDeviceBusy
	}
	defer dl.Release(device)
	return f()
}

// Held lists the devices currently locked, sorted.
func (dl *DeviceLocks) Held() []string {
	dl.mux.Lock()
	defer dl.mux.Unlock()
	return dl.locks.List()
}
