//go:build !mips && !mipsle
// +build !mips,!mipsle

package probe

import (
	"context"
	"time"

	"github.com/google/gousb"
)

// AndroidVendorIDs is a small set of VIDs the hotplug watcher reacts to;
// it is a presence signal only, never used to identify a codename.
var AndroidVendorIDs = []gousb.ID{0x18d1, 0x04e8, 0x22b8} // Google, Samsung, Motorola

// Watcher polls USB bus topology at a fixed cadence and reports attach/
// detach transitions. Its Events channel is wired into Prober.Hotplug, so
// WaitForMode can re-check the device list without waiting for its next
// poll tick.
type Watcher struct {
	ctx    *gousb.Context
	events chan struct{}
}

// NewWatcher opens a USB context. Callers must call Close.
func NewWatcher() *Watcher {
	return &Watcher{
		ctx:    gousb.NewContext(),
		events: make(chan struct{}, 1),
	}
}

// Events yields a (coalesced) signal whenever the set of attached devices
// matching AndroidVendorIDs changes. It never blocks a sender — a pending
// signal is dropped if the channel is already full, since consumers only
// care that something changed, not how many times.
func (w *Watcher) Events() <-chan struct{} { return w.events }

// Run polls until ctx is cancelled. It is meant to be started in its own
// goroutine by the daemon.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	last := w.snapshot()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := w.snapshot()
			if cur != last {
				last = cur
				select {
				case w.events <- struct{}{}:
				default:
				}
			}
		}
	}
}

// snapshot counts attached devices matching AndroidVendorIDs. The count,
// not device identity, is the change signal — identity comes from the next
// ListDevices call via the CLIs, which is authoritative.
func (w *Watcher) snapshot() int {
	devices, err := w.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, vid := range AndroidVendorIDs {
			if desc.Vendor == vid {
				return true
			}
		}
		return false
	})
	if err != nil {
		return -1
	}
	for _, d := range devices {
		d.Close()
	}
	return len(devices)
}

func (w *Watcher) Close() error {
	return w.ctx.Close()
}
