// Command hlbench-run executes one plan against a venue transport,
// persisting a full artifact bundle and optionally serving live status
// over HTTP.
//
// Wiring follows the teacher's cmd/server/main.go: config load, service
// construction, then a goroutine-served HTTP surface torn down on
// SIGINT/SIGTERM with a bounded shutdown context.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sigridjineth/hlbench/internal/artifact"
	"github.com/sigridjineth/hlbench/internal/config"
	"github.com/sigridjineth/hlbench/internal/correlator"
	"github.com/sigridjineth/hlbench/internal/executor"
	"github.com/sigridjineth/hlbench/internal/plan"
	"github.com/sigridjineth/hlbench/internal/statusserver"
	"github.com/sigridjineth/hlbench/internal/statusserver/redisstatus"
	"github.com/sigridjineth/hlbench/internal/transport"
	"github.com/sigridjineth/hlbench/internal/transport/demo"
	"github.com/sigridjineth/hlbench/internal/transport/hyperliquid"
)

// newLogger builds the run's structured logger at the level configured by
// HLBENCH_LOG_LEVEL / config.yaml's log.level, defaulting to info for any
// unrecognized value.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	planFlag := flag.String("plan", "", "path to a plan file, optionally \"path:N\" for a line-delimited plan set")
	demoFlag := flag.Bool("demo", false, "use the in-memory demo transport instead of the live venue")
	outDirFlag := flag.String("out-dir", "", "override the configured run output directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := newLogger(cfg.Log.Level)

	if *planFlag == "" {
		*planFlag = cfg.Run.PlanPath
	}
	if *planFlag == "" {
		log.Fatal("no plan specified: pass -plan or set HLBENCH_RUN_PLAN_PATH")
	}
	outDir := cfg.Run.OutDir
	if *outDirFlag != "" {
		outDir = *outDirFlag
	}
	demoMode := cfg.Run.Demo || *demoFlag

	p, raw, err := plan.Load(*planFlag)
	if err != nil {
		log.Fatalf("load plan: %v", err)
	}
	if err := p.Validate(); err != nil {
		log.Fatalf("validate plan: %v", err)
	}

	var tp transport.Transport
	if demoMode {
		lg.Info("using demo transport")
		tp = demo.New()
	} else {
		privateKey := os.Getenv(cfg.Venue.PrivateKeyEnv)
		if privateKey == "" {
			log.Fatalf("no private key found in env var %s", cfg.Venue.PrivateKeyEnv)
		}
		client, err := hyperliquid.NewClient(hyperliquid.Config{
			BaseURL:       cfg.Venue.BaseURL,
			WalletAddress: cfg.Venue.WalletAddress,
			PrivateKeyHex: privateKey,
			ChainID:       cfg.Venue.ChainID,
			BuilderCode:   cfg.Venue.BuilderCode,
		})
		if err != nil {
			log.Fatalf("build hyperliquid client: %v", err)
		}
		tp = client
	}

	writer, err := artifact.Create(outDir, p, raw, cfg.Run.WindowMs)
	if err != nil {
		log.Fatalf("create run artifacts: %v", err)
	}
	defer writer.Close()

	if err := writer.WriteMeta(artifact.RunMeta{
		Network:         cfg.Run.Network,
		EffectTimeoutMs: int64(cfg.Run.EffectTimeoutMs),
		WindowMs:        cfg.Run.WindowMs,
		WalletAddress:   cfg.Venue.WalletAddress,
		BuilderCode:     cfg.Venue.BuilderCode,
		BenchVersion:    "hlbench-0",
		DemoMode:        demoMode,
	}); err != nil {
		lg.Error("write run_meta.json", "error", err)
	}

	corr := correlator.New()
	exec := executor.New(tp, corr, writer, time.Duration(cfg.Run.EffectTimeoutMs)*time.Millisecond, 2*time.Second, cfg.Venue.BuilderCode, lg)

	var store statusserver.Store = statusserver.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		redisStore, err := redisstatus.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Error("connect to redis for status store, falling back to memory", "error", err)
		} else {
			store = redisStore
		}
	}
	exec.SetStatusStore(store)

	statusSrv := statusserver.New(":"+cfg.Server.Port, store, lg)
	statusSrv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fatal, err := exec.Subscribe(ctx)
	if err != nil {
		log.Fatalf("subscribe to venue events: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- exec.Run(ctx, p) }()

	select {
	case err := <-fatal:
		lg.Error("fatal condition, aborting run", "error", err)
	case err := <-runErr:
		if err != nil {
			lg.Error("run exited with error", "error", err)
		} else {
			lg.Info("run complete", "dir", writer.Dir())
		}
	case <-ctx.Done():
		lg.Info("interrupted, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		lg.Error("status server shutdown", "error", err)
	}
}
