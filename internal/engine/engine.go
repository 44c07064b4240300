// Package engine is the flashing engine: the finite-state machine that
// drives one device from its current state to a fully installed OS, or to
// a well-reported failure. It is the core of flashkit; every other package
// exists to serve it.
package engine

import (
	"context"
	"fmt"
	"time"

	"flashkit/internal/model"
	"flashkit/internal/toolrun"
)

// State is one node of the flashing state machine.
type State string

const (
	StateInit            State = "INIT"
	StatePreflight       State = "PREFLIGHT"
	StateUnlock          State = "UNLOCK"
	StateEnterFastboot   State = "ENTER_FASTBOOT"
	StateFastbootFlash   State = "FASTBOOT_FLASH"
	StateEnterFastbootd  State = "ENTER_FASTBOOTD"
	StateFastbootdFlash  State = "FASTBOOTD_FLASH"
	StateFinal           State = "FINAL"
	StateDone            State = "DONE"
	StateError           State = "ERROR"
	StateCancelled       State = "CANCELLED"
)

// Per-call timeouts. Mode-transition waits get the longest budget since
// USB re-enumeration across a reboot can take tens of seconds; getvar/devices
// calls get the shortest, since they should answer almost immediately when
// the device is actually present.
const (
	timeoutDevicesGetvar  = 10 * time.Second
	timeoutFlashBootRadio = 120 * time.Second
	timeoutFlashCore      = 120 * time.Second
	timeoutFlashSuper     = 300 * time.Second
	timeoutModeWait       = 90 * time.Second
	timeoutUnlockPoll     = 5 * time.Minute
	pollInterval          = 500 * time.Millisecond
	unlockPollInterval    = 2 * time.Second
)

// DeviceProber is the subset of internal/probe that the engine depends on.
type DeviceProber interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
	Identify(ctx context.Context, serial string) (string, error)
	WaitForMode(ctx context.Context, serial string, mode model.Mode, timeout time.Duration) (bool, error)
	OEMUnlockAllowed(ctx context.Context, serial string) (bool, error)
}

// BundleResolver is the subset of internal/bundle that the engine depends
// on: resolving a usable Bundle either from a direct path or "latest for
// codename", downloading on demand.
type BundleResolver interface {
	VerifyPath(ctx context.Context, path string) (model.Bundle, error)
	Latest(ctx context.Context, codename string) (string, error)
	Get(ctx context.Context, codename, version string, progress func(pct int)) (model.Bundle, error)
}

// EventSink receives every event the engine emits. A Job is the production
// implementation; the engine never buffers events itself — it is a pure
// writer into whatever sink it is given.
type EventSink interface {
	Emit(step string, partition model.PartitionKind, level model.Level, message string, progress *model.Progress)
}

// Engine drives a single flashing run. One Engine value is used for exactly
// one job — it holds no state that would be meaningful to reuse across
// runs.
type Engine struct {
	Runner  toolrun.Runner
	Prober  DeviceProber
	Bundles BundleResolver
	Sink    EventSink

	req model.JobRequest

	serial          string
	codename        string
	bundle          model.Bundle
	bootloaderFlashed map[string]bool // slot -> flashed, guards the "exactly once per slot" rule
}

// New constructs an Engine for one run of req.
func New(runner toolrun.Runner, prober DeviceProber, bundles BundleResolver, sink EventSink, req model.JobRequest) *Engine {
	return &Engine{
		Runner:            runner,
		Prober:            prober,
		Bundles:           bundles,
		Sink:              sink,
		req:               req,
		bootloaderFlashed: make(map[string]bool),
	}
}

// Run drives the state machine to a terminal state and returns the error
// that put it there, or nil on DONE. Run itself never panics on a fatal
// FlashError — it is always returned, never just logged.
func (e *Engine) Run(ctx context.Context) (State, *FlashError) {
	state := StateInit

	for {
		if err := ctxErr(ctx); err != nil {
			e.emit(string(state), "", model.LevelInfo, "aborting current command")
			e.emitTerminal(ErrCancelled, "cancellation requested")
			return StateCancelled, newErr(ErrCancelled, "job cancelled by operator")
		}

		switch state {
		case StateInit:
			state = StatePreflight

		case StatePreflight:
			next, ferr := e.preflight(ctx)
			if ferr != nil {
				e.emitTerminal(ferr.Kind, ferr.Error())
				return StateError, ferr
			}
			state = next

		case StateUnlock:
			if ferr := e.unlock(ctx); ferr != nil {
				if ferr.Kind == ErrCancelled {
					return StateCancelled, ferr
				}
				e.emitTerminal(ferr.Kind, ferr.Error())
				return StateError, ferr
			}
			state = StateEnterFastboot

		case StateEnterFastboot:
			if ferr := e.enterFastboot(ctx); ferr != nil {
				if ferr.Kind == ErrCancelled {
					return StateCancelled, ferr
				}
				e.emitTerminal(ferr.Kind, ferr.Error())
				return StateError, ferr
			}
			state = StateFastbootFlash

		case StateFastbootFlash:
			if ferr := e.fastbootFlash(ctx); ferr != nil {
				if ferr.Kind == ErrCancelled {
					return StateCancelled, ferr
				}
				e.emitTerminal(ferr.Kind, ferr.Error())
				return StateError, ferr
			}
			state = StateEnterFastbootd

		case StateEnterFastbootd:
			if ferr := e.enterFastbootd(ctx); ferr != nil {
				if ferr.Kind == ErrCancelled {
					return StateCancelled, ferr
				}
				e.emitTerminal(ferr.Kind, ferr.Error())
				return StateError, ferr
			}
			state = StateFastbootdFlash

		case StateFastbootdFlash:
			if ferr := e.fastbootdFlash(ctx); ferr != nil {
				if ferr.Kind == ErrCancelled {
					return StateCancelled, ferr
				}
				e.emitTerminal(ferr.Kind, ferr.Error())
				return StateError, ferr
			}
			state = StateFinal

		case StateFinal:
			e.final(ctx)
			e.emit("final", "", model.LevelSuccess, "flashing completed")
			return StateDone, nil

		default:
			panic(fmt.Sprintf("engine: unreachable state %s", state))
		}
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (e *Engine) emit(step string, partition model.PartitionKind, level model.Level, message string) {
	e.Sink.Emit(step, partition, level, message, nil)
}

func (e *Engine) emitProgress(step string, partition model.PartitionKind, level model.Level, message string, percent, index, total int) {
	idx, tot := index, total
	e.Sink.Emit(step, partition, level, message, &model.Progress{Percent: percent, Index: &idx, Total: &tot})
}

func (e *Engine) emitTerminal(kind FlashErrorKind, message string) {
	e.Sink.Emit("terminal", "", model.LevelError, fmt.Sprintf("%s: %s", kind, message), nil)
}
