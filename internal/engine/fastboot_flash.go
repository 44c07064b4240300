package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"flashkit/internal/model"
)

// fastbootFlash writes the bootloader, the radio, best-effort bootloader
// housekeeping, the core images in fixed order, and the final
// userdata/metadata erase, in that order. The device is assumed to already
// be in bootloader-fastboot mode on entry.
func (e *Engine) fastbootFlash(ctx context.Context) *FlashError {
	if ferr := e.flashBootloaderOnce(ctx); ferr != nil {
		return ferr
	}

	if ferr := e.flashRadio(ctx); ferr != nil {
		return ferr
	}

	e.bootloaderHousekeeping(ctx)

	if ferr := e.flashCoreImages(ctx); ferr != nil {
		return ferr
	}

	if ferr := e.eraseUserdataAndMetadata(ctx); ferr != nil {
		return ferr
	}

	return nil
}

// flashBootloaderOnce flashes the bootloader image to the inactive ("other")
// slot and activates it there, guarded so that a given slot is never
// flashed twice within one run: a second attempt to flash the same slot's
// bootloader activates hardware self-protection on affected devices. It
// then reboots into bootloader-fastboot again so the newly flashed
// bootloader takes effect before anything else is written.
func (e *Engine) flashBootloaderOnce(ctx context.Context) *FlashError {
	pf, ok := e.bundle.Find(model.PartitionBootloader)
	if !ok || pf.Path == "" {
		return newErr(ErrBundleIncomplete, "bundle is missing the bootloader image")
	}

	slot, err := e.getvar(ctx, "current-slot")
	if err != nil {
		slot = "" // some bootloaders are non-A/B and report no slot; that's fine
	}
	if e.bootloaderFlashed[slot] {
		e.emit("fastboot_flash", model.PartitionBootloader, model.LevelInfo, "bootloader already flashed this run, skipping")
		return nil
	}

	if ferr := e.flashOneArgs(ctx, model.PartitionBootloader,
		[]string{"flash", "--slot", "other", string(model.PartitionBootloader), pf.Path}, timeoutFlashBootRadio); ferr != nil {
		return ferr
	}
	e.bootloaderFlashed[slot] = true

	e.emit("fastboot_flash", model.PartitionBootloader, model.LevelCommand, "activating other slot")
	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"set_active", "other"}, timeoutDevicesGetvar); err != nil && !isTimeout(err) {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled activating other slot after bootloader flash")
		}
		return newErr(ErrToolFailure, "failed to activate other slot after bootloader flash", err.Error())
	}

	e.emit("fastboot_flash", model.PartitionBootloader, model.LevelCommand, "rebooting to apply bootloader")
	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"reboot-bootloader"}, timeoutModeWait); err != nil && !isTimeout(err) {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled rebooting after bootloader flash")
		}
		return newErr(ErrToolFailure, "failed to reboot after flashing bootloader", err.Error())
	}
	ok2, err := e.Prober.WaitForMode(ctx, e.serial, model.ModeBootloaderFastboot, timeoutModeWait)
	if err != nil && isCancel(err) {
		return newErr(ErrCancelled, "cancelled waiting for bootloader mode after bootloader flash")
	}
	if !ok2 {
		return newErr(ErrToolTimeout, "device did not return to bootloader-fastboot mode after bootloader flash")
	}
	return nil
}

func (e *Engine) flashRadio(ctx context.Context) *FlashError {
	pf, ok := e.bundle.Find(model.PartitionRadio)
	if !ok || pf.Path == "" {
		return newErr(ErrBundleIncomplete, "bundle is missing the radio image")
	}

	if ferr := e.flashOne(ctx, model.PartitionRadio, pf.Path, timeoutFlashBootRadio); ferr != nil {
		return ferr
	}

	e.emit("fastboot_flash", model.PartitionRadio, model.LevelCommand, "rebooting to apply radio")
	if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"reboot-bootloader"}, timeoutModeWait); err != nil && !isTimeout(err) {
		if isCancel(err) {
			return newErr(ErrCancelled, "cancelled rebooting after radio flash")
		}
		return newErr(ErrToolFailure, "failed to reboot after flashing radio", err.Error())
	}
	ok2, err := e.Prober.WaitForMode(ctx, e.serial, model.ModeBootloaderFastboot, timeoutModeWait)
	if err != nil && isCancel(err) {
		return newErr(ErrCancelled, "cancelled waiting for bootloader mode after radio flash")
	}
	if !ok2 {
		return newErr(ErrToolTimeout, "device did not return to bootloader-fastboot mode after radio flash")
	}
	return nil
}

// bootloaderHousekeeping issues the fixed set of post-bootloader commands:
// erasing the AVB custom key, reflashing it from the bundle, disabling
// UART, erasing the FIPS/DPM partitions, and validating the bundle's
// android-info.zip against the freshly flashed bootloader. Every step here
// is best-effort: a failure is reported as a warning event and flashing
// continues, never aborting the job.
func (e *Engine) bootloaderHousekeeping(ctx context.Context) {
	warn := func(label string, err error) {
		e.emit("fastboot_flash", "", model.LevelWarning, fmt.Sprintf("%s failed, continuing: %v", label, err))
	}
	run := func(label string, args []string) {
		if err := ctxErr(ctx); err != nil {
			return
		}
		res, err := e.Runner.RunFastboot(ctx, e.serial, args, timeoutDevicesGetvar)
		if err != nil {
			warn(label, err)
			return
		}
		if res.ExitCode != 0 {
			warn(label, fmt.Errorf("exit code %d: %s", res.ExitCode, res.Output))
		}
	}

	run("erase avb_custom_key", []string{"erase", "avb_custom_key"})

	if pf, ok := e.bundle.Find(model.PartitionAvbCustomKey); ok && pf.Path != "" {
		run("flash avb_custom_key", []string{"flash", "avb_custom_key", pf.Path})
	} else {
		e.emit("fastboot_flash", model.PartitionAvbCustomKey, model.LevelInfo, "no avb_custom_key image in bundle, skipping flash")
	}

	run("oem uart disable", []string{"oem", "uart", "disable"})
	run("erase fips", []string{"erase", "fips"})
	run("erase dpm_a", []string{"erase", "dpm_a"})
	run("erase dpm_b", []string{"erase", "dpm_b"})

	infoZip := filepath.Join(e.bundle.InstallDir, "android-info.zip")
	run("validate android-info.zip", []string{"update", "--skip-reboot", "--disable-super-optimization", infoZip})
}

// flashCoreImages flashes model.CoreImageOrder in the fixed order with no
// reboot in between, skipping optional images whose file is absent.
func (e *Engine) flashCoreImages(ctx context.Context) *FlashError {
	for _, kind := range model.CoreImageOrder() {
		pf, ok := e.bundle.Find(kind)
		if !ok || pf.Path == "" {
			if model.IsOptional(kind) {
				e.emit("fastboot_flash", kind, model.LevelInfo, "optional image not present in bundle, skipping")
				continue
			}
			return newErr(ErrBundleIncomplete, fmt.Sprintf("bundle is missing required image %s", kind))
		}
		if ferr := e.flashOne(ctx, kind, pf.Path, timeoutFlashCore); ferr != nil {
			return ferr
		}
	}
	return nil
}

func (e *Engine) eraseUserdataAndMetadata(ctx context.Context) *FlashError {
	for _, part := range []string{"userdata", "metadata"} {
		if err := ctxErr(ctx); err != nil {
			return newErr(ErrCancelled, "cancelled before erase "+part)
		}
		e.emit("fastboot_flash", model.PartitionKind(part), model.LevelCommand, "erasing "+part)
		if _, err := e.Runner.RunFastboot(ctx, e.serial, []string{"erase", part}, timeoutFlashCore); err != nil {
			if isCancel(err) {
				return newErr(ErrCancelled, "cancelled erasing "+part)
			}
			if isTimeout(err) {
				return newErr(ErrToolTimeout, "timed out erasing "+part)
			}
			return newErr(ErrToolFailure, "failed to erase "+part, err.Error())
		}
	}
	return nil
}

