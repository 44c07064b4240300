// Command flashkitd is the long-running HTTP daemon exposing the flashing
// engine's endpoints over internal/api, backed by the same internal/job
// Manager that cmd/flashkit uses for one-shot runs.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flashkit/internal/api"
	"flashkit/internal/bundle"
	"flashkit/internal/config"
	"flashkit/internal/engine"
	"flashkit/internal/job"
	"flashkit/internal/model"
	"flashkit/internal/probe"
	"flashkit/internal/toolrun"
)

var (
	listenAddr      = flag.String("listen-addr", "", "address to listen on (overrides config/env default)")
	debugCLIPath    = flag.String("debug-cli-path", "", "path to the debug-protocol CLI (overrides config/env default)")
	fastbootCLIPath = flag.String("fastboot-cli-path", "", "path to the bootloader-protocol CLI (overrides config/env default)")
	bundleRootFlag  = flag.String("bundle-root", "", "override the on-disk bundle cache root")
)

func main() {
	flag.Parse()

	cfg := config.Load()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *debugCLIPath != "" {
		cfg.DebugCLIPath = *debugCLIPath
	}
	if *fastbootCLIPath != "" {
		cfg.FastbootCLIPath = *fastbootCLIPath
	}
	if *bundleRootFlag != "" {
		cfg.BundleRoot = *bundleRootFlag
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
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go watcher.Run(watchCtx, 250*time.Millisecond)

	manager := job.NewManager(func(req model.JobRequest, sink engine.EventSink) job.EngineRunner {
		return engine.New(runner, prober, store, sink, req)
	})

	server := api.New(manager, prober, store)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("flashkitd listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("flashkitd: server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("flashkitd: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("flashkitd: shutdown error: %v", err)
	}
}
