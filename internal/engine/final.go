package engine

import (
	"context"

	"flashkit/internal/model"
)

// final optionally re-locks the bootloader, then reboots into the freshly
// flashed OS. Both steps are best-effort — by this point every partition
// has already been written successfully, so a failure here is reported as
// a warning rather than failing the whole job.
func (e *Engine) final(ctx context.Context) {
	if e.req.Options.LockAfter {
		e.emit("final", "", model.LevelCommand, "locking bootloader")
		if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"flashing", "lock"}, timeoutDevicesGetvar); err != nil {
			e.emit("final", "", model.LevelWarning, "failed to lock bootloader: "+err.Error())
		}
	}

	e.emit("final", "", model.LevelCommand, "rebooting device")
	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"reboot"}, timeoutModeWait); err != nil {
		e.emit("final", "", model.LevelWarning, "failed to issue final reboot: "+err.Error())
	}
}
