package engine

import (
	"context"

	"flashkit/internal/model"
)

// enterFastboot ensures the device is in bootloader-fastboot, rebooting it
// there from whichever mode it is currently observed in (debug via the
// debug CLI, userspace fastboot via the bootloader CLI's own
// reboot-bootloader), or doing nothing if it is already there.
func (e *Engine) enterFastboot(ctx context.Context) *FlashError {
	devices, err := e.Prober.ListDevices(ctx)
	if err != nil {
		return newErr(ErrToolFailure, "failed to probe device before entering bootloader mode", err.Error())
	}

	var mode model.Mode
	for _, d := range devices {
		if d.Serial == e.serial {
			mode = d.Mode
			break
		}
	}

	switch mode {
	case model.ModeBootloaderFastboot:
		e.emit("enter_fastboot", "", model.LevelInfo, "device already in bootloader-fastboot mode")
		return nil
	case model.ModeUserspaceFastboot:
		return e.rebootToBootloaderFromFastbootd(ctx)
	default:
		return e.rebootToBootloaderFromDebug(ctx)
	}
}

// rebootToBootloaderFromFastbootd issues reboot-bootloader via the
// bootloader protocol CLI itself, since a device already visible to
// fastboot never needs the debug CLI to change modes.
func (e *Engine) rebootToBootloaderFromFastbootd(ctx context.Context) *FlashError {
	e.emit("enter_fastboot", "", model.LevelCommand, "rebooting from fastbootd to bootloader")
	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"reboot-bootloader"}, timeoutModeWait); err != nil && !isTimeout(err) {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled rebooting from fastbootd to bootloader")
		}
		return newErr(ErrToolFailure, "failed to reboot from fastbootd to bootloader", err.Error())
	}
	ok, err := e.Prober.WaitForMode(ctx, e.serial, model.ModeBootloaderFastboot, timeoutModeWait)
	if err != nil && isCancel(err) {
		return newErr(ErrCancelled, "cancelled waiting for bootloader mode from fastbootd")
	}
	if !ok {
		return newErr(ErrToolTimeout, "device did not return to bootloader-fastboot mode from fastbootd")
	}
	return nil
}
