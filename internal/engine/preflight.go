package engine

import (
	"context"
	"fmt"

	"flashkit/internal/model"
)

// preflight resolves the target device, cross-checks its codename against
// the requested/bundle codename, checks OEM-unlock eligibility when
// relevant, and resolves a usable bundle. It never issues a flash command.
func (e *Engine) preflight(ctx context.Context) (State, *FlashError) {
	e.emit("preflight", "", model.LevelInfo, "starting preflight checks")

	if _, err := e.Runner.RunDebug(ctx, "", []string{"version"}, timeoutDevicesGetvar); err != nil {
		return "", newErr(ErrConfigError, "debug protocol CLI is not runnable", err.Error())
	}
	if _, err := e.Runner.RunFastboot(ctx, "", []string{"--version"}, timeoutDevicesGetvar); err != nil {
		return "", newErr(ErrConfigError, "bootloader protocol CLI is not runnable", err.Error())
	}

	devices, err := e.Prober.ListDevices(ctx)
	if err != nil {
		return "", newErr(ErrNoDevice, "failed to list attached devices", err.Error())
	}

	device, ferr := selectDevice(devices, e.req.Serial)
	if ferr != nil {
		return "", ferr
	}
	e.serial = device.Serial

	codename, err := e.Prober.Identify(ctx, e.serial)
	if err != nil || codename == "" {
		return "", newErr(ErrNoDevice, "failed to identify device codename", fmt.Sprint(err))
	}
	e.codename = codename

	if e.req.Codename != "" && e.req.Codename != codename {
		return "", newErr(ErrDeviceMismatch, fmt.Sprintf("requested codename %q does not match observed device codename %q", e.req.Codename, codename))
	}

	needsUnlock := device.Mode == model.ModeDebug && !e.req.Options.SkipUnlock
	if device.Mode == model.ModeDebug && !e.req.Options.SkipUnlock {
		allowed, err := e.Prober.OEMUnlockAllowed(ctx, e.serial)
		if err != nil || !allowed {
			return "", &FlashError{
				Kind:    ErrOemUnlockDisabled,
				Message: "OEM unlocking is not enabled on this device",
				Detail:  "Enable it under Settings > System > Developer options > OEM unlocking, then retry",
			}
		}
	}

	bundle, ferr := e.resolveBundle(ctx)
	if ferr != nil {
		return "", ferr
	}
	e.bundle = bundle

	if bundle.Codename != "" && bundle.Codename != codename {
		return "", newErr(ErrDeviceMismatch, fmt.Sprintf("bundle codename %q does not match observed device codename %q", bundle.Codename, codename))
	}

	if !bundle.Usable() {
		return "", newErr(ErrBundleIncomplete, "bundle is missing one or more required partition images")
	}

	e.emit("preflight", "", model.LevelSuccess, "preflight checks passed")

	if needsUnlock {
		return StateUnlock, nil
	}
	return StateEnterFastboot, nil
}

func selectDevice(devices []model.Device, wantSerial string) (model.Device, *FlashError) {
	if wantSerial != "" {
		for _, d := range devices {
			if d.Serial == wantSerial {
				return d, nil
			}
		}
		return model.Device{}, newErr(ErrNoDevice, fmt.Sprintf("device %q is not attached", wantSerial))
	}
	if len(devices) == 1 {
		return devices[0], nil
	}
	if len(devices) == 0 {
		return model.Device{}, newErr(ErrNoDevice, "no device attached")
	}
	return model.Device{}, newErr(ErrNoDevice, fmt.Sprintf("%d devices attached; --device-serial is required", len(devices)))
}

func (e *Engine) resolveBundle(ctx context.Context) (model.Bundle, *FlashError) {
	if e.req.BundlePath != "" {
		b, err := e.Bundles.VerifyPath(ctx, e.req.BundlePath)
		if err != nil {
			return model.Bundle{}, newErr(ErrBundleDigestMismatch, "bundle verification failed", err.Error())
		}
		return b, nil
	}

	codename := e.req.Codename
	if codename == "" {
		codename = e.codename
	}

	version, err := e.Bundles.Latest(ctx, codename)
	if err != nil {
		return model.Bundle{}, newErr(ErrBundleDownloadFailed, "no bundle available for codename "+codename, err.Error())
	}

	b, err := e.Bundles.Get(ctx, codename, version, func(pct int) {
		e.emitProgress("preflight:download", "", model.LevelInfo, "downloading bundle", pct, pct, 100)
	})
	if err != nil {
		return model.Bundle{}, newErr(ErrBundleDownloadFailed, "failed to obtain bundle", err.Error())
	}
	return b, nil
}
