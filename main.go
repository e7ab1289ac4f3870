package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"terra-imagery/internal/analytics"
	"terra-imagery/internal/cache"
	"terra-imagery/internal/config"
	"terra-imagery/internal/gibs"
	"terra-imagery/internal/handlers/api"
	"terra-imagery/internal/imagery"
	"terra-imagery/internal/metrics"
	"terra-imagery/internal/ratelimit"
	"terra-imagery/internal/sequence"
	"terra-imagery/internal/storage"
	"terra-imagery/internal/taskqueue"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: "+config.DefaultPath()+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Init(cfg.MetricsNamespace)

	rateLimits := ratelimit.NewHandler(nil)
	defer rateLimits.Close()
	rateLimits.SetOnRateLimit(func(event ratelimit.Event) {
		m.SetRateLimited(true)
	})
	rateLimits.SetOnRecovered(func(provider string) {
		m.SetRateLimited(false)
	})

	tileClient := gibs.NewClient(rateLimits)

	// Check the built-in catalog against the live capabilities document in
	// the background; a stale catalog is worth a log line, not a refusal
	// to start.
	go func() {
		checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		missing, err := gibs.VerifyCatalog(checkCtx, nil)
		if err != nil {
			log.Printf("Catalog verification skipped: %v", err)
			return
		}
		if len(missing) > 0 {
			log.Printf("Catalog layers no longer advertised by GIBS: %v", missing)
		} else {
			log.Printf("Catalog verified against GIBS capabilities")
		}
	}()

	tileCache, err := cache.NewTileCache(cfg.CacheDir, int(cfg.CacheMaxSizeMB), cfg.CacheTTLDays)
	if err != nil {
		log.Printf("Failed to initialize tile cache, continuing without: %v", err)
		tileCache = nil
	} else {
		defer tileCache.Close()
	}

	frameStore, err := storage.NewFrameStore(ctx, cfg.FrameBucketURL, "")
	if err != nil {
		log.Printf("Failed to open frame store %s, persistence disabled: %v",
			cfg.FrameBucketURL, err)
		frameStore = nil
	} else {
		defer frameStore.Close()
	}

	var store sequence.FrameStore
	if frameStore != nil {
		store = frameStore
	}
	fetcher := sequence.NewFetcher(tileClient, store, m)

	builder := imagery.NewFrameBuilder(cfg.FetchWorkers, tileClient, tileCache)

	tracker := analytics.New(cfg.PostHogKey, cfg.PostHogHost, "terra-imagery-server")
	defer tracker.Close()

	queue := taskqueue.NewQueueManager(cfg.QueueDir)
	defer queue.Close()
	queue.SetExecutor(taskqueue.NewAnimationExecutor(builder, cfg.OutputDir, cfg.FontPath))
	queue.SetOnTaskComplete(func(taskID string, success bool, err error) {
		task, getErr := queue.GetTask(taskID)
		if getErr != nil {
			return
		}
		m.ObserveAnimation(success, taskDuration(task))
		tracker.AnimationFinished(task.Layer, task.Video.OutputFormat,
			task.Progress.TotalFrames, success)
	})
	if err := queue.StartQueue(); err != nil {
		log.Printf("Failed to start task queue: %v", err)
	}

	server := api.NewServer(api.Options{
		Tiles:              tileClient,
		Fetcher:            fetcher,
		Frames:             builder,
		Queue:              queue,
		RateLimits:         rateLimits,
		Tracker:            tracker,
		Cache:              tileCache,
		DefaultConcurrency: cfg.DefaultConcurrency,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// taskDuration derives the wall time of a finished task from its timestamps
func taskDuration(task *taskqueue.AnimationTask) time.Duration {
	started, err := time.Parse(time.RFC3339, task.StartedAt)
	if err != nil {
		return 0
	}
	completed, err := time.Parse(time.RFC3339, task.CompletedAt)
	if err != nil {
		return 0
	}
	return completed.Sub(started)
}
