package artifact

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Writer persists the four run artifacts (per_action.jsonl, ws_stream.jsonl,
// orders_routed.csv, run_meta.json) plus the resolved plan.json, and
// optionally plan_raw.txt.
//
// Adapted from the teacher's internal/service/audit_service.go file-handling
// idiom, but synchronous rather than channel-buffered: the Plan Executor is
// single-threaded and cooperative (spec §5), and every write must be durable
// before the executor advances to the next step.
type Writer struct {
	dir string

	perAction  *bufio.Writer
	perActionF *os.File
	wsStream   *bufio.Writer
	wsStreamF  *os.File
	routedCSV  *csv.Writer
	routedCSVF *os.File
	metaPath   string
	windowMs   int64
}

// Create makes the run directory and all artifact files, writing plan.json
// (and plan_raw.txt, if rawPlan is non-empty) immediately.
func Create(dir string, resolvedPlan any, rawPlan string, windowMs int64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", dir, err)
	}

	perActionF, err := os.Create(filepath.Join(dir, "per_action.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("create per_action.jsonl: %w", err)
	}
	wsStreamF, err := os.Create(filepath.Join(dir, "ws_stream.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("create ws_stream.jsonl: %w", err)
	}
	routedF, err := os.Create(filepath.Join(dir, "orders_routed.csv"))
	if err != nil {
		return nil, fmt.Errorf("create orders_routed.csv: %w", err)
	}

	routedCSV := csv.NewWriter(routedF)
	if err := routedCSV.Write([]string{"ts", "oid", "coin", "side", "px", "sz", "tif", "reduceOnly", "builderCode"}); err != nil {
		return nil, fmt.Errorf("write orders_routed.csv header: %w", err)
	}
	routedCSV.Flush()

	planPath := filepath.Join(dir, "plan.json")
	planBytes, err := json.MarshalIndent(resolvedPlan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal plan.json: %w", err)
	}
	if err := os.WriteFile(planPath, planBytes, 0o644); err != nil {
		return nil, fmt.Errorf("write plan.json: %w", err)
	}
	if rawPlan != "" {
		if err := os.WriteFile(filepath.Join(dir, "plan_raw.txt"), []byte(rawPlan), 0o644); err != nil {
			return nil, fmt.Errorf("write plan_raw.txt: %w", err)
		}
	}

	return &Writer{
		dir:        dir,
		perAction:  bufio.NewWriter(perActionF),
		perActionF: perActionF,
		wsStream:   bufio.NewWriter(wsStreamF),
		wsStreamF:  wsStreamF,
		routedCSV:  routedCSV,
		routedCSVF: routedF,
		metaPath:   filepath.Join(dir, "run_meta.json"),
		windowMs:   windowMs,
	}, nil
}

// Dir returns the run directory.
func (w *Writer) Dir() string { return w.dir }

// MakeActionRecord derives window_key_ms from submitTsMs and assembles an
// ActionLogRecord, mirroring RunArtifacts::make_action_record.
func (w *Writer) MakeActionRecord(stepIdx int, action string, submitTsMs int64, request json.RawMessage, ack *Ack, observed json.RawMessage, notes string) ActionLogRecord {
	return ActionLogRecord{
		StepIdx:     stepIdx,
		Action:      action,
		SubmitTsMs:  submitTsMs,
		WindowKeyMs: WindowStartMs(submitTsMs, w.windowMs),
		Request:     request,
		Ack:         ack,
		Observed:    observed,
		Notes:       notes,
	}
}

// LogAction appends one ActionLogRecord and flushes immediately: the next
// plan step must not begin until this record is durable.
func (w *Writer) LogAction(record ActionLogRecord) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	if _, err := w.perAction.Write(b); err != nil {
		return fmt.Errorf("write per_action.jsonl: %w", err)
	}
	if err := w.perAction.WriteByte('\n'); err != nil {
		return err
	}
	return w.perAction.Flush()
}

// LogWSEvent appends a raw venue event to ws_stream.jsonl and flushes
// immediately, so events survive a process kill between steps.
func (w *Writer) LogWSEvent(raw json.RawMessage) error {
	if _, err := w.wsStream.Write(raw); err != nil {
		return fmt.Errorf("write ws_stream.jsonl: %w", err)
	}
	if err := w.wsStream.WriteByte('\n'); err != nil {
		return err
	}
	return w.wsStream.Flush()
}

// LogRoutedOrder appends one row to orders_routed.csv and flushes.
func (w *Writer) LogRoutedOrder(r RoutedOrderRecord) error {
	oid := ""
	if r.Oid != nil {
		oid = fmt.Sprintf("%d", *r.Oid)
	}
	row := []string{
		fmt.Sprintf("%d", r.TsMs),
		oid,
		r.Coin,
		r.Side,
		r.Px,
		r.Sz,
		r.Tif,
		fmt.Sprintf("%t", r.ReduceOnly),
		r.BuilderCode,
	}
	if err := w.routedCSV.Write(row); err != nil {
		return fmt.Errorf("write orders_routed.csv row: %w", err)
	}
	w.routedCSV.Flush()
	return w.routedCSV.Error()
}

// WriteMeta writes run_meta.json, overwriting any prior contents.
func (w *Writer) WriteMeta(meta RunMeta) error {
	f, err := os.Create(w.metaPath)
	if err != nil {
		return fmt.Errorf("create run_meta.json: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// Close flushes and closes every open file. Safe to call once, at the end
// of a run or on the terminating error path — the durability guarantee (§5)
// is that everything already logged via LogAction/LogWSEvent/LogRoutedOrder
// is flushed as it is written, so Close never needs to recover unflushed
// data; it only releases file descriptors.
func (w *Writer) Close() error {
	w.perAction.Flush()
	w.wsStream.Flush()
	w.routedCSV.Flush()
	var firstErr error
	for _, f := range []*os.File{w.perActionF, w.wsStreamF, w.routedCSVF} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
