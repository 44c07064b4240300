// Command flashkit drives a single factory-image flashing run against one
// attached device. It is the one-shot CLI counterpart to flashkitd's
// long-running HTTP daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"flashkit/internal/bundle"
	"flashkit/internal/config"
	"flashkit/internal/engine"
	"flashkit/internal/job"
	"flashkit/internal/model"
	"flashkit/internal/probe"
	"flashkit/internal/toolrun"
	"flashkit/internal/tui"
)

// Exit codes, one per failure category a caller might want to script
// against.
const (
	exitDone          = 0
	exitConfigError   = 2
	exitDeviceError   = 3
	exitBundleError   = 4
	exitFlashingError = 5
	exitCancelled     = 6
)

var (
	debugCLIPath    = flag.String("debug-cli-path", "", "path to the debug-protocol CLI (overrides config/env default)")
	fastbootCLIPath = flag.String("fastboot-cli-path", "", "path to the bootloader-protocol CLI (overrides config/env default)")
	bundlePath      = flag.String("bundle-path", "", "path to a local bundle archive; mutually exclusive with --codename")
	codename        = flag.String("codename", "", "device codename to resolve the latest bundle for")
	deviceSerial    = flag.String("device-serial", "", "serial of the device to flash; required if more than one is attached")
	skipUnlock      = flag.Bool("skip-unlock", false, "skip the UNLOCK state even if the device is in debug mode")
	lockAfter       = flag.Bool("lock-after", false, "re-lock the bootloader in the FINAL state")
	confirmFlag     = flag.Bool("confirm", false, "proceed without an interactive confirmation prompt")
	jsonOutput      = flag.Bool("json", false, "emit newline-delimited JSON events instead of the interactive TUI")
	bundleRootFlag  = flag.String("bundle-root", "", "override the on-disk bundle cache root")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	applyFlagOverrides(&cfg)

	req := model.JobRequest{
		Serial:     *deviceSerial,
		Codename:   *codename,
		BundlePath: *bundlePath,
		Options: model.JobOptions{
			SkipUnlock: *skipUnlock,
			LockAfter:  *lockAfter,
		},
	}

	if req.BundlePath != "" && req.Codename != "" {
		fmt.Fprintln(os.Stderr, "flashkit: --bundle-path and --codename are mutually exclusive")
		os.Exit(exitConfigError)
	}

	if !*confirmFlag {
		if !promptConfirm(req) {
			fmt.Fprintln(os.Stderr, "flashkit: aborted, pass --confirm to skip this prompt")
			os.Exit(exitCancelled)
		}
	}

	runner := toolrun.New(toolrun.Config{
		DebugCLIPath:    cfg.DebugCLIPath,
		FastbootCLIPath: cfg.FastbootCLIPath,
	})
	prober := probe.New(runner)
	downloader := bundle.NewHTTPDownloader(cfg.DistributionURL)
	store := bundle.New(cfg.BundleRoot, downloader)

	watcher := probe.NewWatcher()
	defer watcher.Close()
	prober.Hotplug = watcher.Events()

	manager := job.NewManager(func(r model.JobRequest, sink engine.EventSink) job.EngineRunner {
		return engine.New(runner, prober, store, sink, r)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go watcher.Run(ctx, 250*time.Millisecond)

	jobID, err := manager.Start(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flashkit: %v\n", err)
		os.Exit(exitDeviceError)
	}
	j, _ := manager.Get(jobID)

	code := run(j)
	os.Exit(code)
}

func applyFlagOverrides(cfg *config.Config) {
	if *debugCLIPath != "" {
		cfg.DebugCLIPath = *debugCLIPath
	}
	if *fastbootCLIPath != "" {
		cfg.FastbootCLIPath = *fastbootCLIPath
	}
	if *bundleRootFlag != "" {
		cfg.BundleRoot = *bundleRootFlag
	}
}

func promptConfirm(req model.JobRequest) bool {
	target := req.Serial
	if target == "" {
		target = "the attached device"
	}
	fmt.Printf("This will flash %s. Type 'yes' to continue: ", target)
	var answer string
	fmt.Scanln(&answer)
	return answer == "yes"
}

// run drains the job's events to either a JSON-lines stream or the bubbletea
// TUI, and maps the terminal engine error kind to an exit code.
func run(j *job.Job) int {
	ch, unsubscribe := j.Subscribe()
	defer unsubscribe()

	if *jsonOutput || !isTerminal() {
		return runJSON(ch, j)
	}
	return runTUI(ch, j)
}

func runJSON(ch <-chan model.Event, j *job.Job) int {
	enc := json.NewEncoder(os.Stdout)
	for ev := range ch {
		_ = enc.Encode(ev)
	}
	return exitCodeFor(j.Snapshot())
}

func runTUI(ch <-chan model.Event, j *job.Job) int {
	m := tui.New(j.Snapshot().ID)
	p := tea.NewProgram(m)

	go func() {
		for ev := range ch {
			p.Send(tui.EventMsg(ev))
		}
		snap := j.Snapshot()
		p.Send(tui.DoneMsg{Err: terminalErr(snap)})
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "flashkit: TUI error: %v\n", err)
	}
	return exitCodeFor(j.Snapshot())
}

func terminalErr(snap model.JobSnapshot) error {
	if snap.State == model.JobCompleted {
		return nil
	}
	return fmt.Errorf("job ended in state %s", snap.State)
}

func exitCodeFor(snap model.JobSnapshot) int {
	switch snap.State {
	case model.JobCompleted:
		return exitDone
	case model.JobCancelled:
		return exitCancelled
	case model.JobFailed:
		return exitCodeForFailure(snap)
	default:
		return exitFlashingError
	}
}

// exitCodeForFailure inspects the terminal event's message, which the
// engine always prefixes with its FlashErrorKind, to pick the exit code
// that matches the failure category.
func exitCodeForFailure(snap model.JobSnapshot) int {
	if len(snap.Events) == 0 {
		return exitFlashingError
	}
	last := snap.Events[len(snap.Events)-1]
	switch {
	case hasPrefix(last.Message, "ConfigError"):
		return exitConfigError
	case hasPrefix(last.Message, "NoDevice"), hasPrefix(last.Message, "DeviceMismatch"),
		hasPrefix(last.Message, "OemUnlockDisabled"), hasPrefix(last.Message, "UnlockNotConfirmed"):
		return exitDeviceError
	case hasPrefix(last.Message, "BundleDigestMismatch"), hasPrefix(last.Message, "BundleIncomplete"),
		hasPrefix(last.Message, "BundleDownloadFailed"):
		return exitBundleError
	default:
		return exitFlashingError
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
