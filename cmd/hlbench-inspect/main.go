// Command hlbench-inspect prints a summary of one run directory: its
// run_meta.json fingerprint, per-step action counts, and ack outcome
// tallies from per_action.jsonl.
//
// The teacher's own cmd/inspector used reflection to dump a Polymarket SDK
// client's method/field set — a one-off exploration tool with no logic to
// carry forward once that SDK is dropped (see DESIGN.md). This binary
// keeps the teacher's role (a small standalone diagnostic entrypoint under
// cmd/) but inspects this benchmark's own run artifacts instead.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigridjineth/hlbench/internal/artifact"
)

func main() {
	runDirFlag := flag.String("run-dir", "", "run directory to inspect")
	flag.Parse()

	if *runDirFlag == "" {
		fmt.Fprintln(os.Stderr, "hlbench-inspect: -run-dir is required")
		os.Exit(2)
	}

	metaPath := filepath.Join(*runDirFlag, "run_meta.json")
	if metaBytes, err := os.ReadFile(metaPath); err == nil {
		var meta artifact.RunMeta
		if err := json.Unmarshal(metaBytes, &meta); err == nil {
			fmt.Printf("network:        %s\n", meta.Network)
			fmt.Printf("demoMode:       %v\n", meta.DemoMode)
			fmt.Printf("walletAddress:  %s\n", meta.WalletAddress)
			fmt.Printf("builderCode:    %s\n", meta.BuilderCode)
			fmt.Printf("effectTimeout:  %dms\n", meta.EffectTimeoutMs)
			fmt.Printf("windowMs:       %d\n", meta.WindowMs)
		}
	} else {
		fmt.Fprintf(os.Stderr, "hlbench-inspect: no run_meta.json in %s\n", *runDirFlag)
	}

	actionPath := filepath.Join(*runDirFlag, "per_action.jsonl")
	f, err := os.Open(actionPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hlbench-inspect: open %s: %v\n", actionPath, err)
		os.Exit(1)
	}
	defer f.Close()

	byAction := map[string]int{}
	byAckStatus := map[string]int{}
	total := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec artifact.ActionLogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		total++
		byAction[rec.Action]++
		if rec.Ack != nil {
			byAckStatus[string(rec.Ack.Status)]++
		} else {
			byAckStatus["none"]++
		}
	}

	fmt.Printf("\nsteps recorded: %d\n", total)
	fmt.Println("by action:")
	for k, v := range byAction {
		fmt.Printf("  %-20s %d\n", k, v)
	}
	fmt.Println("by ack status:")
	for k, v := range byAckStatus {
		fmt.Printf("  %-20s %d\n", k, v)
	}
}
