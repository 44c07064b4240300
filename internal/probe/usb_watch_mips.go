//go:build mips || mipsle
// +build mips mipsle

package probe

import (
	"context"
	"time"
)

// Watcher is a no-op on MIPS builds, where gousb's cgo-free but still
// libusb-backed bus access is not worth carrying. Callers still get a
// working (silent) channel; ListDevices remains the source of truth there.
type Watcher struct {
	events chan struct{}
}

func NewWatcher() *Watcher {
	return &Watcher{events: make(chan struct{})}
}

func (w *Watcher) Events() <-chan struct{} { return w.events }

func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	<-ctx.Done()
}

func (w *Watcher) Close() error { return nil }
