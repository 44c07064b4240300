package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashkit/internal/model"
	"flashkit/internal/toolrun"
)

type fakeProber struct {
	mode           model.Mode
	codename       string
	unlockAllowed  bool
	identifyErr    error
	waitForModeErr error
}

func (f *fakeProber) ListDevices(ctx context.Context) ([]model.Device, error) {
	return []model.Device{{Serial: "SERIAL1", Mode: f.mode, Codename: f.codename}}, nil
}

func (f *fakeProber) Identify(ctx context.Context, serial string) (string, error) {
	return f.codename, f.identifyErr
}

func (f *fakeProber) WaitForMode(ctx context.Context, serial string, mode model.Mode, timeout time.Duration) (bool, error) {
	if f.waitForModeErr != nil {
		return false, f.waitForModeErr
	}
	f.mode = mode
	return true, nil
}

func (f *fakeProber) OEMUnlockAllowed(ctx context.Context, serial string) (bool, error) {
	return f.unlockAllowed, nil
}

type fakeBundles struct {
	bundle  model.Bundle
	verrErr error
}

func (f *fakeBundles) VerifyPath(ctx context.Context, path string) (model.Bundle, error) {
	return f.bundle, f.verrErr
}

func (f *fakeBundles) Latest(ctx context.Context, codename string) (string, error) {
	return "1.0", nil
}

func (f *fakeBundles) Get(ctx context.Context, codename, version string, progress func(pct int)) (model.Bundle, error) {
	return f.bundle, nil
}

type recordingSink struct {
	events []model.Event
}

func (r *recordingSink) Emit(step string, partition model.PartitionKind, level model.Level, message string, progress *model.Progress) {
	r.events = append(r.events, model.Event{Step: step, Partition: partition, Level: level, Message: message, Progress: progress})
}

func fullBundle(codename string) model.Bundle {
	part := func(k model.PartitionKind) model.PartitionFile {
		return model.PartitionFile{Kind: k, Path: "/bundle/" + string(k) + ".img", Required: true}
	}
	return model.Bundle{
		Codename: codename,
		Version:  "1.0",
		Verified: true,
		Partitions: []model.PartitionFile{
			part(model.PartitionBootloader),
			part(model.PartitionRadio),
			part(model.PartitionBoot),
			part(model.PartitionDtbo),
			part(model.PartitionVendorKernelBoot),
			part(model.PartitionVendorBoot),
			part(model.PartitionVbmeta),
			{Kind: model.PartitionSuper, Required: true, Splits: []model.SuperSplit{
				{Index: 1, Path: "/bundle/super.img_sparsechunk.1"},
				{Index: 2, Path: "/bundle/super.img_sparsechunk.2"},
			}},
		},
	}
}

func TestEngineRunHappyPath(t *testing.T) {
	mock := toolrun.NewMock()
	prober := &fakeProber{mode: model.ModeDebug, codename: "cheetah", unlockAllowed: true}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	req := model.JobRequest{
		Serial:     "SERIAL1",
		BundlePath: "/bundle.zip",
		Options:    model.JobOptions{SkipUnlock: true},
	}

	eng := New(mock, prober, bundles, sink, req)
	state, ferr := eng.Run(context.Background())

	require.Nil(t, ferr)
	assert.Equal(t, StateDone, state)

	var sawSuccess bool
	for _, ev := range sink.events {
		if ev.Step == "final" && ev.Level == model.LevelSuccess {
			sawSuccess = true
		}
	}
	assert.True(t, sawSuccess, "expected a final success event")
}

func TestEngineRunDeviceMismatch(t *testing.T) {
	mock := toolrun.NewMock()
	prober := &fakeProber{mode: model.ModeBootloaderFastboot, codename: "cheetah"}
	bundles := &fakeBundles{bundle: fullBundle("panther")}
	sink := &recordingSink{}

	req := model.JobRequest{
		BundlePath: "/bundle.zip",
		Options:    model.JobOptions{SkipUnlock: true},
	}

	eng := New(mock, prober, bundles, sink, req)
	state, ferr := eng.Run(context.Background())

	require.NotNil(t, ferr)
	assert.Equal(t, StateError, state)
	assert.Equal(t, ErrDeviceMismatch, ferr.Kind)
}

func TestEngineRunOemUnlockDisabled(t *testing.T) {
	mock := toolrun.NewMock()
	prober := &fakeProber{mode: model.ModeDebug, codename: "cheetah", unlockAllowed: false}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	req := model.JobRequest{BundlePath: "/bundle.zip"}

	eng := New(mock, prober, bundles, sink, req)
	state, ferr := eng.Run(context.Background())

	require.NotNil(t, ferr)
	assert.Equal(t, StateError, state)
	assert.Equal(t, ErrOemUnlockDisabled, ferr.Kind)
}

func TestEngineRunBundleIncomplete(t *testing.T) {
	mock := toolrun.NewMock()
	prober := &fakeProber{mode: model.ModeBootloaderFastboot, codename: "cheetah"}
	incomplete := fullBundle("cheetah")
	incomplete.Partitions = incomplete.Partitions[:1] // drop everything but bootloader
	bundles := &fakeBundles{bundle: incomplete}
	sink := &recordingSink{}

	req := model.JobRequest{BundlePath: "/bundle.zip", Options: model.JobOptions{SkipUnlock: true}}

	eng := New(mock, prober, bundles, sink, req)
	state, ferr := eng.Run(context.Background())

	require.NotNil(t, ferr)
	assert.Equal(t, StateError, state)
	assert.Equal(t, ErrBundleIncomplete, ferr.Kind)
}

func TestEngineRunCancellationBeforeStart(t *testing.T) {
	mock := toolrun.NewMock()
	prober := &fakeProber{mode: model.ModeBootloaderFastboot, codename: "cheetah"}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := model.JobRequest{BundlePath: "/bundle.zip", Options: model.JobOptions{SkipUnlock: true}}
	eng := New(mock, prober, bundles, sink, req)
	state, ferr := eng.Run(ctx)

	require.NotNil(t, ferr)
	assert.Equal(t, StateCancelled, state)
	assert.Equal(t, ErrCancelled, ferr.Kind)
}

func TestFlashBootloaderOnlyOncePerSlot(t *testing.T) {
	mock := toolrun.NewMock()
	mock.On("getvar current-slot", toolrun.Script{Result: toolrun.Result{Output: "current-slot: a"}})
	mock.On("getvar current-slot", toolrun.Script{Result: toolrun.Result{Output: "current-slot: a"}})
	prober := &fakeProber{mode: model.ModeBootloaderFastboot, codename: "cheetah"}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	req := model.JobRequest{BundlePath: "/bundle.zip", Options: model.JobOptions{SkipUnlock: true}}
	eng := New(mock, prober, bundles, sink, req)
	eng.bundle = bundles.bundle

	assert.Nil(t, eng.flashBootloaderOnce(context.Background()))
	assert.Nil(t, eng.flashBootloaderOnce(context.Background()))

	flashCalls := 0
	for _, c := range mock.Calls() {
		if len(c.Args) >= 1 && c.Args[0] == "flash" && c.Args[len(c.Args)-2] == string(model.PartitionBootloader) {
			flashCalls++
		}
	}
	assert.Equal(t, 1, flashCalls, "bootloader must be flashed exactly once per slot")
}

func TestFlashBootloaderOnceTargetsOtherSlotAndActivatesIt(t *testing.T) {
	mock := toolrun.NewMock()
	mock.On("getvar current-slot", toolrun.Script{Result: toolrun.Result{Output: "current-slot: a"}})
	prober := &fakeProber{mode: model.ModeBootloaderFastboot, codename: "cheetah"}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	req := model.JobRequest{BundlePath: "/bundle.zip", Options: model.JobOptions{SkipUnlock: true}}
	eng := New(mock, prober, bundles, sink, req)
	eng.bundle = bundles.bundle

	require.Nil(t, eng.flashBootloaderOnce(context.Background()))

	var sawSlotFlash, sawActivate bool
	for _, c := range mock.Calls() {
		if len(c.Args) >= 3 && c.Args[0] == "flash" && c.Args[1] == "--slot" && c.Args[2] == "other" {
			sawSlotFlash = true
		}
		if len(c.Args) == 2 && c.Args[0] == "set_active" && c.Args[1] == "other" {
			sawActivate = true
		}
	}
	assert.True(t, sawSlotFlash, "bootloader must be flashed to the other slot")
	assert.True(t, sawActivate, "the other slot must be activated after the bootloader flash")
}

func TestBootloaderHousekeepingIssuesFixedCommandSetAndNeverFails(t *testing.T) {
	mock := toolrun.NewMock()
	mock.On("erase avb_custom_key", toolrun.Script{Result: toolrun.Result{ExitCode: 1, Output: "could not clear partition"}})
	prober := &fakeProber{mode: model.ModeBootloaderFastboot, codename: "cheetah"}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	req := model.JobRequest{BundlePath: "/bundle.zip", Options: model.JobOptions{SkipUnlock: true}}
	eng := New(mock, prober, bundles, sink, req)

	eng.bootloaderHousekeeping(context.Background())

	wantCalls := [][]string{
		{"erase", "avb_custom_key"},
		{"oem", "uart", "disable"},
		{"erase", "fips"},
		{"erase", "dpm_a"},
		{"erase", "dpm_b"},
	}
	calls := mock.Calls()
	for _, want := range wantCalls {
		var found bool
		for _, c := range calls {
			if len(c.Args) == len(want) {
				match := true
				for i := range want {
					if c.Args[i] != want[i] {
						match = false
						break
					}
				}
				if match {
					found = true
					break
				}
			}
		}
		assert.True(t, found, "expected housekeeping call %v", want)
	}

	var sawWarning bool
	for _, ev := range sink.events {
		if ev.Level == model.LevelWarning {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "a failed housekeeping command must be reported as a warning, not abort the run")
}

func TestEnterFastbootFromFastbootdUsesFastbootReboot(t *testing.T) {
	mock := toolrun.NewMock()
	prober := &fakeProber{mode: model.ModeUserspaceFastboot, codename: "cheetah"}
	bundles := &fakeBundles{bundle: fullBundle("cheetah")}
	sink := &recordingSink{}

	req := model.JobRequest{BundlePath: "/bundle.zip", Options: model.JobOptions{SkipUnlock: true}}
	eng := New(mock, prober, bundles, sink, req)
	eng.serial = "SERIAL1"

	require.Nil(t, eng.enterFastboot(context.Background()))

	var sawRebootBootloader bool
	for _, c := range mock.Calls() {
		if c.Kind == "fastboot" && len(c.Args) == 1 && c.Args[0] == "reboot-bootloader" {
			sawRebootBootloader = true
		}
	}
	assert.True(t, sawRebootBootloader, "a device in fastbootd must be returned to bootloader via the fastboot CLI's own reboot-bootloader")
}
