package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/artifact"
	"github.com/sigridjineth/hlbench/internal/correlator"
	"github.com/sigridjineth/hlbench/internal/plan"
	"github.com/sigridjineth/hlbench/internal/transport/demo"
)

func newTestExecutor(t *testing.T) (*Executor, *artifact.Writer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "run")
	w, err := artifact.Create(dir, plan.Plan{}, "", 200)
	if err != nil {
		t.Fatalf("artifact.Create: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	tp := demo.New()
	corr := correlator.New()
	e := New(tp, corr, w, 200*time.Millisecond, time.Second, "bench", nil)

	fatal, err := e.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	go func() {
		if err, ok := <-fatal; ok && err != nil {
			t.Logf("event stream ended: %v", err)
		}
	}()
	return e, w, dir
}

func readActionRecords(t *testing.T, dir string) []artifact.ActionLogRecord {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "per_action.jsonl"))
	if err != nil {
		t.Fatalf("open per_action.jsonl: %v", err)
	}
	defer f.Close()

	var out []artifact.ActionLogRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec artifact.ActionLogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestExecutor_PerpOrdersRecordsAckAndObserved(t *testing.T) {
	e, w, dir := newTestExecutor(t)
	p := plan.Plan{Steps: []plan.Step{
		{Kind: plan.StepPerpOrders, Orders: []plan.Order{
			{Coin: "ETH", Side: plan.Buy, Sz: decimal.NewFromFloat(0.1), Tif: "GTC", Px: plan.PriceSpec{Absolute: false}},
		}},
	}}
	if err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	records := readActionRecords(t, dir)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Action != "perp_orders" {
		t.Fatalf("unexpected action: %s", rec.Action)
	}
	if rec.Ack == nil || rec.Ack.Status != artifact.AckOK {
		t.Fatalf("expected ok ack, got %+v", rec.Ack)
	}
	if len(rec.Observed) == 0 {
		t.Fatalf("expected observed confirmation for demo transport's immediate resting event")
	}
}

func TestExecutor_CancelLastWithNoTrackedOrderRecordsNilAck(t *testing.T) {
	e, w, dir := newTestExecutor(t)
	p := plan.Plan{Steps: []plan.Step{
		{Kind: plan.StepCancelLast, Coin: "ETH"},
	}}
	if err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	records := readActionRecords(t, dir)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Ack != nil {
		t.Fatalf("expected no ack when nothing was tracked to cancel, got %+v", records[0].Ack)
	}
	if !strings.Contains(records[0].Notes, "no tracked order") {
		t.Fatalf("expected explanatory note, got %q", records[0].Notes)
	}
}

func TestExecutor_PlaceThenCancelLastTracksResting(t *testing.T) {
	e, w, dir := newTestExecutor(t)
	p := plan.Plan{Steps: []plan.Step{
		{Kind: plan.StepPerpOrders, Orders: []plan.Order{
			{Coin: "ETH", Side: plan.Buy, Sz: decimal.NewFromFloat(0.1), Tif: "GTC", Px: plan.PriceSpec{Absolute: false}},
		}},
		{Kind: plan.StepCancelLast, Coin: "ETH"},
	}}
	if err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	records := readActionRecords(t, dir)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	cancelRec := records[1]
	if cancelRec.Ack == nil || cancelRec.Ack.Status != artifact.AckOK {
		t.Fatalf("expected cancel_last to succeed against a tracked order, got %+v", cancelRec.Ack)
	}
	if len(e.placed) != 0 {
		t.Fatalf("expected tracked order to be removed after cancel_last")
	}
}

func TestExecutor_PlaceThenUnscopedCancelLastTracksResting(t *testing.T) {
	e, w, dir := newTestExecutor(t)
	p := plan.Plan{Steps: []plan.Step{
		{Kind: plan.StepPerpOrders, Orders: []plan.Order{
			{Coin: "ETH", Side: plan.Buy, Sz: decimal.NewFromFloat(0.1), Tif: "GTC", Px: plan.PriceSpec{Absolute: false}},
		}},
		{Kind: plan.StepPerpOrders, Orders: []plan.Order{
			{Coin: "BTC", Side: plan.Buy, Sz: decimal.NewFromFloat(0.01), Tif: "GTC", Px: plan.PriceSpec{Absolute: false}},
		}},
		{Kind: plan.StepCancelLast},
	}}
	if err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	records := readActionRecords(t, dir)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	cancelRec := records[2]
	if cancelRec.Ack == nil || cancelRec.Ack.Status != artifact.AckOK {
		t.Fatalf("expected unscoped cancel_last to succeed against the most recently placed order, got %+v", cancelRec.Ack)
	}
	if len(cancelRec.Observed) == 0 {
		t.Fatalf("expected a canceled confirmation from the demo transport, got none (notes: %q)", cancelRec.Notes)
	}
	if len(e.placed) != 1 || e.placed[0].coin != "ETH" {
		t.Fatalf("expected only the ETH order to remain tracked, got %+v", e.placed)
	}
}

func TestExecutor_SleepMsEmitsNoRecord(t *testing.T) {
	e, w, dir := newTestExecutor(t)
	p := plan.Plan{Steps: []plan.Step{{Kind: plan.StepSleepMs, DurationMs: 5}}}
	if err := e.Run(context.Background(), p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	records := readActionRecords(t, dir)
	if len(records) != 0 {
		t.Fatalf("expected sleep_ms to emit no ActionLogRecord, got %d", len(records))
	}
}

func TestExecutor_SetLeverageNoOpDoesNotBlockOnCorrelator(t *testing.T) {
	e, w, dir := newTestExecutor(t)
	p := plan.Plan{Steps: []plan.Step{{Kind: plan.StepSetLeverage, Coin: "ETH", Leverage: 5, Cross: true}}}

	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), p)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("set_leverage must not wait for a stream confirmation")
	}
	w.Close()

	records := readActionRecords(t, dir)
	if len(records) != 1 || records[0].Ack.Status != artifact.AckOK {
		t.Fatalf("unexpected records: %+v", records)
	}
}
