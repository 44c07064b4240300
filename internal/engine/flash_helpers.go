package engine

import (
	"context"
	"time"

	"flashkit/internal/model"
)

// flashOne issues "flash <partition> <path>" for a single image, streaming
// its output as events and classifying any failure. It is shared by
// FASTBOOT_FLASH and FASTBOOTD_FLASH — the same bootloader protocol handles
// both.
func (e *Engine) flashOne(ctx context.Context, kind model.PartitionKind, path string, timeout time.Duration) *FlashError {
	return e.flashOneArgs(ctx, kind, []string{"flash", string(kind), path}, timeout)
}

// flashOneArgs is flashOne generalized to a caller-supplied fastboot
// argument list, so the bootloader-to-other-slot flash can pass "--slot
// other" while everything else keeps the plain "flash <kind> <path>" form.
func (e *Engine) flashOneArgs(ctx context.Context, kind model.PartitionKind, args []string, timeout time.Duration) *FlashError {
	if err := ctxErr(ctx); err != nil {
		return newErr(ErrCancelled, "cancelled before flashing "+string(kind))
	}

	e.emit("flash", kind, model.LevelCommand, "flashing "+string(kind))

	onLine := func(line string) {
		e.emit("flash", kind, model.LevelOutput, line)
	}

	res, err := e.Runner.StreamFastboot(ctx, e.serial, args, timeout, onLine)
	if err != nil {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled flashing "+string(kind))
		}
		if isTimeout(err) {
			return newErr(ErrToolTimeout, "timed out flashing "+string(kind), res.Output)
		}
		return newErr(ErrToolFailure, "failed to flash "+string(kind), err.Error())
	}
	if res.ExitCode != 0 {
		return newErr(ErrToolFailure, "flashing "+string(kind)+" exited non-zero", res.Output)
	}

	e.emit("flash", kind, model.LevelSuccess, string(kind)+" flashed")
	return nil
}
