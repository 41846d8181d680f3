// Package scoring implements the streaming Scoring Engine of spec.md §4.6.
//
// original_source/crates/hl-evaluator's own scoring module (coverage.rs)
// was not part of the retrieved corpus — only its declaration and a
// "FINAL_SCORE={:.3}" print survive in main.rs — so this package is a
// direct, from-specification port rather than a translation of Rust
// source. Streaming, single-pass, bounded-state design follows spec.md
// §5's "Scoring Engine" concurrency note; JSON/CSV handling follows the
// teacher's stdlib-only approach for the same concerns elsewhere in this
// module (internal/artifact).
package scoring

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/sigridjineth/hlbench/internal/artifact"
	"github.com/sigridjineth/hlbench/internal/domain"
	"github.com/sigridjineth/hlbench/internal/pkg/apperrors"
	"github.com/sigridjineth/hlbench/internal/signature"
)

const bonusPerExtraSignature = 0.25

// DomainReport is one entry of the report's per_domain list.
type DomainReport struct {
	Name             string   `json:"name"`
	Weight           float64  `json:"weight"`
	UniqueSignatures []string `json:"unique_signatures"`
	UniqueCount      int      `json:"unique_count"`
	Contribution     float64  `json:"contribution"`
}

// Metadata is the report's diagnostic and provenance footer.
type Metadata struct {
	BenchVersion        string   `json:"bench_version"`
	DomainsHash         string   `json:"domains_hash"`
	RunDir              string   `json:"run_dir"`
	NormalizationErrors int      `json:"normalization_errors"`
	UnmappedSignatures  []string `json:"unmapped_signatures,omitempty"`
}

// Report is the Scoring Engine's output, per spec.md §4.6's schema.
type Report struct {
	FinalScore         float64        `json:"final_score"`
	Base               float64        `json:"base"`
	Bonus              float64        `json:"bonus"`
	Penalty            float64        `json:"penalty"`
	PerDomain          []DomainReport `json:"per_domain"`
	UniqueSignatures   []string       `json:"unique_signatures"`
	PerSignatureCounts map[string]int `json:"per_signature_counts"`
	CapPerSignature    uint32         `json:"cap_per_signature"`
	WindowMs           int64          `json:"window_ms"`
	Metadata           Metadata       `json:"metadata"`
}

// EvalRecord is one line of eval_per_action.jsonl: the normalized view of
// an input ActionLogRecord.
type EvalRecord struct {
	StepIdx     int      `json:"stepIdx"`
	WindowKeyMs int64    `json:"windowKeyMs"`
	Signatures  []string `json:"signatures"`
	IsNoop      bool     `json:"isNoop"`
	Ignored     bool     `json:"ignored"`
}

// Options configures a scoring run. WindowMsOverride, when non-zero,
// recomputes window_key_ms from submit_ts_ms instead of trusting the
// runner's stored value (spec.md §4.6 step 1).
type Options struct {
	Policy           domain.Policy
	WindowMsOverride int64
	CapOverride      uint32
	RunDir           string
	BenchVersion     string
}

// Score streams input (one ActionLogRecord per line), writes its
// normalized per-step view to evalOut, and returns the aggregated Report.
func Score(input io.Reader, evalOut io.Writer, opts Options) (Report, error) {
	sigCap := opts.Policy.PerSignatureCap
	if opts.CapOverride > 0 {
		sigCap = opts.CapOverride
	}
	windowMs := opts.Policy.PerActionWindowMs
	if opts.WindowMsOverride > 0 {
		windowMs = opts.WindowMsOverride
	}
	matcher := domain.NewMatcher(opts.Policy)

	globalCount := make(map[string]int)
	domainUnique := make(map[string]map[string]bool)
	windowSets := make(map[int64]map[string]bool)
	unmappedSet := make(map[string]bool)
	normalizationErrors := 0

	evalWriter := bufio.NewWriter(evalOut)
	defer evalWriter.Flush()

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	stepIdx := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec artifact.ActionLogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			normErr := apperrors.NewNormalizationError(err.Error())
			slog.Warn("skipping malformed action record", "error", normErr, "line", lineNo)
			normalizationErrors++
			continue
		}
		stepIdx = rec.StepIdx

		windowKey := rec.WindowKeyMs
		if opts.WindowMsOverride > 0 {
			windowKey = artifact.WindowStartMs(rec.SubmitTsMs, windowMs)
		}

		sigs, isNoop := signature.Normalize(rec)
		evalRec := EvalRecord{StepIdx: stepIdx, WindowKeyMs: windowKey, IsNoop: isNoop}
		if isNoop {
			if err := writeEvalRecord(evalWriter, evalRec); err != nil {
				return Report{}, err
			}
			continue
		}

		windowSet := windowSets[windowKey]
		if windowSet == nil {
			windowSet = make(map[string]bool)
			windowSets[windowKey] = windowSet
		}

		for _, sig := range sigs {
			s := string(sig)
			evalRec.Signatures = append(evalRec.Signatures, s)
			globalCount[s]++
			windowSet[s] = true

			if uint32(globalCount[s]) <= sigCap {
				name, _, ok := matcher.Classify(s)
				if !ok {
					unmappedSet[s] = true
					evalRec.Ignored = true
					continue
				}
				set := domainUnique[name]
				if set == nil {
					set = make(map[string]bool)
					domainUnique[name] = set
				}
				set[s] = true
			}
		}
		if err := writeEvalRecord(evalWriter, evalRec); err != nil {
			return Report{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Report{}, fmt.Errorf("read per_action.jsonl: %w", err)
	}

	return buildReport(opts, matcher, domainUnique, globalCount, windowSets, unmappedSet, sigCap, windowMs, normalizationErrors), nil
}

func writeEvalRecord(w *bufio.Writer, rec EvalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal eval record: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func buildReport(opts Options, matcher *domain.Matcher, domainUnique map[string]map[string]bool, globalCount map[string]int, windowSets map[int64]map[string]bool, unmapped map[string]bool, sigCap uint32, windowMs int64, normErrs int) Report {
	var base float64
	perDomain := make([]DomainReport, 0, len(opts.Policy.Order()))
	for _, name := range opts.Policy.Order() {
		rule := opts.Policy.Domains[name]
		sigs := sortedKeys(domainUnique[name])
		contribution := rule.Weight * float64(len(sigs))
		base += contribution
		perDomain = append(perDomain, DomainReport{
			Name: name, Weight: rule.Weight, UniqueSignatures: sigs,
			UniqueCount: len(sigs), Contribution: contribution,
		})
	}

	var bonus float64
	windowKeys := make([]int64, 0, len(windowSets))
	for k := range windowSets {
		windowKeys = append(windowKeys, k)
	}
	sort.Slice(windowKeys, func(i, j int) bool { return windowKeys[i] < windowKeys[j] })
	for _, k := range windowKeys {
		distinct := len(windowSets[k])
		if distinct > 1 {
			bonus += bonusPerExtraSignature * float64(distinct-1)
		}
	}

	var penalty float64
	for _, count := range globalCount {
		if over := count - int(sigCap); over > 0 {
			penalty += opts.Policy.PenaltyFactor * float64(over)
		}
	}

	global := make(map[string]bool, len(globalCount))
	for s := range globalCount {
		global[s] = true
	}

	return Report{
		FinalScore:         base + bonus - penalty,
		Base:               base,
		Bonus:              bonus,
		Penalty:            penalty,
		PerDomain:          perDomain,
		UniqueSignatures:   sortedKeys(global),
		PerSignatureCounts: globalCount,
		CapPerSignature:    sigCap,
		WindowMs:           windowMs,
		Metadata: Metadata{
			BenchVersion:        opts.BenchVersion,
			DomainsHash:         opts.Policy.Hash(),
			RunDir:              opts.RunDir,
			NormalizationErrors: normErrs,
			UnmappedSignatures:  sortedKeys(unmapped),
		},
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
