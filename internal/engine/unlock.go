package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"flashkit/internal/model"
	"flashkit/internal/toolrun"
)

// unlock is entered when preflight found the device in debug mode and
// skip_unlock was not requested. Preflight does not read the bootloader's
// lock state; unlock reads the "unlocked" variable after rebooting into
// bootloader-fastboot and skips the unlock command when it is already "yes".
func (e *Engine) unlock(ctx context.Context) *FlashError {
	if err := e.rebootToBootloaderFromDebug(ctx); err != nil {
		return err
	}

	unlocked, err := e.getvar(ctx, "unlocked")
	if err == nil && unlocked == "yes" {
		e.emit("unlock", "", model.LevelInfo, "bootloader already unlocked")
		return e.reenterBootloaderFastboot(ctx)
	}

	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"flashing", "unlock"}, timeoutDevicesGetvar); err != nil {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled issuing unlock command")
		}
		// The unlock command itself is never retried — a failure here still
		// proceeds to the confirmation poll, since some bootloaders return
		// non-zero until the operator confirms on-device.
	}
	e.emit("unlock", "", model.LevelWarning, "Action required on device — confirm with Volume+Power")

	deadline := time.Now().Add(timeoutUnlockPoll)
	for time.Now().Before(deadline) {
		if err := ctxErr(ctx); err != nil {
			return newErr(ErrCancelled, "cancelled waiting for unlock confirmation")
		}

		val, err := e.getvar(ctx, "unlocked")
		if err != nil {
			// Transient USB re-enumeration during unlock is expected, not
			// an error — the poll loop is the only retry.
			time.Sleep(unlockPollInterval)
			continue
		}
		if val == "yes" {
			e.emit("unlock", "", model.LevelSuccess, "bootloader unlock confirmed")
			return e.reenterBootloaderFastboot(ctx)
		}
		time.Sleep(unlockPollInterval)
	}

	return newErr(ErrUnlockNotConfirmed, "operator did not confirm unlock within the allotted window")
}

// rebootToBootloaderFromDebug reboots a debug-mode device into
// bootloader-fastboot and waits for it to appear there.
func (e *Engine) rebootToBootloaderFromDebug(ctx context.Context) *FlashError {
	e.emit("unlock", "", model.LevelCommand, "rebooting to bootloader")
	if _, err := e.Runner.RunDebug(ctx, e.serial, []string{"reboot", "bootloader"}, timeoutModeWait); err != nil && !isTimeout(err) {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled rebooting to bootloader")
		}
		return newErr(ErrToolFailure, "failed to reboot device to bootloader", err.Error())
	}
	ok, err := e.Prober.WaitForMode(ctx, e.serial, model.ModeBootloaderFastboot, timeoutModeWait)
	if err != nil && isCancel(err) {
		return newErr(ErrCancelled, "cancelled waiting for bootloader mode")
	}
	if !ok {
		return newErr(ErrToolTimeout, "device did not appear in bootloader-fastboot mode")
	}
	return nil
}

// reenterBootloaderFastboot re-enters bootloader-fastboot after an unlock,
// since the device may have rebooted back into the OS once confirmed.
func (e *Engine) reenterBootloaderFastboot(ctx context.Context) *FlashError {
	devices, err := e.Prober.ListDevices(ctx)
	if err != nil {
		return newErr(ErrToolFailure, "failed to re-probe device after unlock", err.Error())
	}
	for _, d := range devices {
		if d.Serial == e.serial && d.Mode == model.ModeBootloaderFastboot {
			return nil
		}
	}
	return e.rebootToBootloaderFromDebug(ctx)
}

// getvar reads one bootloader variable, trimming the "name: value" shape
// most fastboot implementations emit.
func (e *Engine) getvar(ctx context.Context, name string) (string, error) {
	res, err := e.Runner.RunFastboot(ctx, e.serial, []string{"getvar", name}, timeoutDevicesGetvar)
	if err != nil {
		return "", err
	}
	return parseGetvar(res.Output, name), nil
}

func parseGetvar(output, name string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		prefix := name + ":"
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return strings.TrimSpace(output)
}

func isTimeout(err error) bool {
	return errors.Is(err, toolrun.ErrToolTimeout)
}

func isCancel(err error) bool {
	return errors.Is(err, toolrun.ErrCancelled)
}
