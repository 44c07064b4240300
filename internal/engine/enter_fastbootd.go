package engine

import (
	"context"

	"flashkit/internal/model"
)

// enterFastbootd reboots from bootloader-fastboot into the userspace
// fastboot (fastbootd) environment that serves the dynamic super
// partition.
func (e *Engine) enterFastbootd(ctx context.Context) *FlashError {
	e.emit("enter_fastbootd", "", model.LevelCommand, "rebooting to fastbootd")
	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"reboot", "fastboot"}, timeoutModeWait); err != nil && !isTimeout(err) {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled rebooting to fastbootd")
		}
		return newErr(ErrToolFailure, "failed to reboot into fastbootd", err.Error())
	}

	ok, err := e.Prober.WaitForMode(ctx, e.serial, model.ModeUserspaceFastboot, timeoutModeWait)
	if err != nil && isCancel(err) {
		return newErr(ErrCancelled, "cancelled waiting for fastbootd mode")
	}
	if !ok {
		return newErr(ErrToolTimeout, "device did not appear in fastbootd mode")
	}

	e.emit("enter_fastbootd", "", model.LevelSuccess, "device is in fastbootd")
	return nil
}
