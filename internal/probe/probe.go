// Package probe is the device probe: it turns the two host-side CLIs into
// the engine.DeviceProber contract, translating raw command output into
// model.Device observations. It never assumes a mode persists between
// probes — every answer comes from a fresh command.
package probe

import (
	"bufio"
	"context"
	"strings"
	"time"

	"flashkit/internal/model"
	"flashkit/internal/toolrun"
)

const (
	callTimeout  = 10 * time.Second
	pollInterval = 500 * time.Millisecond
)

// Prober is the production engine.DeviceProber, backed by toolrun.Runner.
type Prober struct {
	Runner toolrun.Runner

	// Hotplug, when set, carries a signal whenever a Watcher observes the
	// attached-device topology change. WaitForMode treats it purely as a
	// "check early" hint — it never replaces the fixed poll cadence, since
	// the hint is a coarse device-count signal, not a mode observation.
	Hotplug <-chan struct{}
}

func New(runner toolrun.Runner) *Prober {
	return &Prober{Runner: runner}
}

// ListDevices merges the debug protocol's device list with the bootloader
// protocol's, since a device is only ever visible to exactly one of the two
// at a time. A device fastboot reports is further split into
// bootloader-fastboot vs userspace-fastboot by querying its "is-userspace"
// bootloader variable, since the device list alone can't tell the two apart.
func (p *Prober) ListDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device

	debugRes, debugErr := p.Runner.RunDebug(ctx, "", []string{"devices", "-l"}, callTimeout)
	if debugErr == nil {
		devices = append(devices, parseDebugDevices(debugRes.Output)...)
	}

	bootRes, bootErr := p.Runner.RunFastboot(ctx, "", []string{"devices", "-l"}, callTimeout)
	if bootErr == nil {
		for _, serial := range parseFastbootSerials(bootRes.Output) {
			devices = append(devices, model.Device{Serial: serial, Mode: p.classifyFastbootDevice(ctx, serial)})
		}
	}

	// A device appearing in neither listing yet is not an error — it may be
	// mid re-enumeration between modes.
	return devices, nil
}

// classifyFastbootDevice resolves whether a device fastboot can see is
// running the bootloader's built-in fastboot or userspace fastbootd, per the
// "is-userspace" bootloader variable. A read failure defaults to
// bootloader-fastboot, the far more common mode.
func (p *Prober) classifyFastbootDevice(ctx context.Context, serial string) model.Mode {
	res, err := p.Runner.RunFastboot(ctx, serial, []string{"getvar", "is-userspace"}, callTimeout)
	if err != nil {
		return model.ModeBootloaderFastboot
	}
	if parseGetvarLine(res.Output, "is-userspace") == "yes" {
		return model.ModeUserspaceFastboot
	}
	return model.ModeBootloaderFastboot
}

// Identify resolves a device's codename. For a debug-mode device this reads
// the board codename property; for a bootloader-mode device it reads the
// equivalent bootloader variable.
func (p *Prober) Identify(ctx context.Context, serial string) (string, error) {
	res, err := p.Runner.RunDebug(ctx, serial, []string{"shell", "getprop", "ro.product.board"}, callTimeout)
	if err == nil {
		if codename := strings.TrimSpace(res.Output); codename != "" {
			return codename, nil
		}
	}

	res, err = p.Runner.RunFastboot(ctx, serial, []string{"getvar", "product"}, callTimeout)
	if err != nil {
		return "", err
	}
	return parseGetvarLine(res.Output, "product"), nil
}

// WaitForMode polls ListDevices at a fixed cadence until serial is observed
// in mode or timeout elapses. A device that transiently disappears (USB
// re-enumeration during a mode transition) is tolerated, not treated as an
// error — only the overall deadline is fatal.
func (p *Prober) WaitForMode(ctx context.Context, serial string, mode model.Mode, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		devices, err := p.ListDevices(ctx)
		if err == nil {
			for _, d := range devices {
				if d.Serial == serial && d.Mode == mode {
					return true, nil
				}
			}
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		case <-p.Hotplug:
			// A nil channel here blocks forever in a select, which is exactly
			// the desired no-op when no Watcher is wired in.
		}
	}
}

// OEMUnlockAllowed reports whether the device's OEM unlock toggle is on,
// checked only for debug-mode devices.
func (p *Prober) OEMUnlockAllowed(ctx context.Context, serial string) (bool, error) {
	res, err := p.Runner.RunDebug(ctx, serial, []string{"shell", "getprop", "sys.oem_unlock_allowed"}, callTimeout)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Output) == "1", nil
}

func parseDebugDevices(output string) []model.Device {
	var out []model.Device
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		mode := model.ModeDebug
		switch fields[1] {
		case "unauthorized":
			mode = model.ModeUnauthorised
		case "offline":
			mode = model.ModeOffline
		case "device":
			mode = model.ModeDebug
		default:
			continue
		}
		out = append(out, model.Device{Serial: fields[0], Mode: mode})
	}
	return out
}

// parseFastbootSerials extracts bare serials from "fastboot devices -l"
// output; mode classification happens separately via is-userspace, since
// fastboot's own listing does not distinguish bootloader-fastboot from
// fastbootd.
func parseFastbootSerials(output string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}

func parseGetvarLine(output, name string) string {
	prefix := name + ":"
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
