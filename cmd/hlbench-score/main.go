// Command hlbench-score runs the Scoring Engine over one run's
// per_action.jsonl, writing eval_per_action.jsonl and score_report.json
// into --out-dir. It exits nonzero when the input or domain policy cannot
// be read or parsed, or an output cannot be written; a single malformed
// per_action.jsonl line is skipped and counted in the report's
// normalization_errors instead.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sigridjineth/hlbench/internal/domain"
	"github.com/sigridjineth/hlbench/internal/pkg/metrics"
	"github.com/sigridjineth/hlbench/internal/reportstore"
	"github.com/sigridjineth/hlbench/internal/scoring"

	"context"
	"net/http"
)

// newLogger builds the scoring run's structured logger at the level given
// by -log-level, defaulting to info for any unrecognized value.
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
	inputFlag := flag.String("input", "", "path to per_action.jsonl")
	domainsFlag := flag.String("domains", "", "path to a domain policy YAML file (default policy if unset)")
	outDirFlag := flag.String("out-dir", ".", "directory to write eval_per_action.jsonl and score_report.json into")
	windowMsFlag := flag.Int64("window-ms", 0, "override the per-action window in milliseconds")
	capFlag := flag.Uint("cap-per-sig", 0, "override the per-signature cap")
	runDirFlag := flag.String("run-dir", "", "run directory recorded in the report's metadata")
	archiveDSNFlag := flag.String("archive-dsn", "", "postgres DSN to archive the report into (optional)")
	metricsAddrFlag := flag.String("metrics-addr", "", "if set, serve /metrics on this address from after archival until the score is printed")
	logLevelFlag := flag.String("log-level", "info", "log level: debug, info, warn, or error")
	flag.Parse()

	lg := newLogger(*logLevelFlag)

	if *inputFlag == "" {
		fmt.Fprintln(os.Stderr, "hlbench-score: -input is required")
		os.Exit(2)
	}

	policy := domain.DefaultPolicy()
	if *domainsFlag != "" {
		data, err := os.ReadFile(*domainsFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hlbench-score: read domain policy: %v\n", err)
			os.Exit(1)
		}
		policy, err = domain.LoadPolicy(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hlbench-score: parse domain policy: %v\n", err)
			os.Exit(1)
		}
	}

	in, err := os.Open(*inputFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-score: open input: %v\n", err)
		os.Exit(1)
	}
	defer in.Close()

	if err := os.MkdirAll(*outDirFlag, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-score: create out-dir: %v\n", err)
		os.Exit(1)
	}
	evalPath := filepath.Join(*outDirFlag, "eval_per_action.jsonl")
	evalOut, err := os.Create(evalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-score: create %s: %v\n", evalPath, err)
		os.Exit(1)
	}
	defer evalOut.Close()

	lg.Info("scoring run", "input", *inputFlag, "domains", *domainsFlag)

	report, err := scoring.Score(in, evalOut, scoring.Options{
		Policy:           policy,
		WindowMsOverride: *windowMsFlag,
		CapOverride:      uint32(*capFlag),
		RunDir:           *runDirFlag,
		BenchVersion:     "hlbench-0",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-score: %v\n", err)
		os.Exit(1)
	}
	metrics.ScoreFinal.Set(report.FinalScore)

	reportPath := filepath.Join(*outDirFlag, "score_report.json")
	reportBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-score: marshal report: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(reportPath, reportBytes, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-score: write %s: %v\n", reportPath, err)
		os.Exit(1)
	}

	if *archiveDSNFlag != "" {
		store, err := reportstore.New(*archiveDSNFlag)
		if err != nil {
			lg.Error("archive score report, continuing without it", "error", err)
		} else {
			id, err := store.Insert(context.Background(), *runDirFlag, report)
			if err != nil {
				lg.Error("insert score report", "error", err)
			} else {
				lg.Info("archived score report", "id", id)
			}
			store.Close()
		}
	}

	if *metricsAddrFlag != "" {
		lg.Info("serving /metrics", "addr", *metricsAddrFlag)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddrFlag, nil); err != nil {
				lg.Error("metrics server exited", "error", err)
			}
		}()
	}

	lg.Info("scoring complete", "finalScore", report.FinalScore)
	fmt.Printf("FINAL_SCORE=%.3f\n", report.FinalScore)
}
