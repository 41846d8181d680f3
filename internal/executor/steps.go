package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/artifact"
	"github.com/sigridjineth/hlbench/internal/correlator"
	"github.com/sigridjineth/hlbench/internal/pkg/metrics"
	"github.com/sigridjineth/hlbench/internal/plan"
	"github.com/sigridjineth/hlbench/internal/transport"
)

// resolvePrice returns an absolute price unchanged and resolves a
// mid-relative price against a cached mid-price snapshot, per spec.md §4.4
// responsibility 1: a stale mid is refreshed, and a step whose mid cannot
// be obtained aborts with a recorded error rather than guessing.
func (e *Executor) resolvePrice(ctx context.Context, coin string, px plan.PriceSpec) (decimal.Decimal, error) {
	if px.Absolute {
		return px.Value, nil
	}
	snap, ok := e.midCache[coin]
	if !ok || time.Since(snap.fetched) > e.midRefresh {
		mid, err := e.transport.MidPrice(ctx, coin)
		if err != nil {
			return decimal.Zero, fmt.Errorf("no mid-price available for %s: %w", coin, err)
		}
		snap = midSnapshot{value: mid.Value, fetched: time.Now()}
		e.midCache[coin] = snap
	}
	return px.Resolve(snap.value), nil
}

type requestOrder struct {
	Coin        string `json:"coin"`
	Side        string `json:"side"`
	Sz          string `json:"sz"`
	Tif         string `json:"tif"`
	ReduceOnly  bool   `json:"reduceOnly"`
	Px          string `json:"px"`
	ResolvedPx  string `json:"resolvedPx,omitempty"`
	Cloid       string `json:"cloid,omitempty"`
	BuilderCode string `json:"builderCode,omitempty"`
}

type perpOrdersRequest struct {
	Orders      []requestOrder `json:"orders"`
	BuilderCode string         `json:"builderCode,omitempty"`
}

type orderStatusJSON struct {
	Kind string  `json:"kind"`
	Oid  *uint64 `json:"oid,omitempty"`
	Err  string  `json:"err,omitempty"`
}

func (e *Executor) executePerpOrders(ctx context.Context, idx int, step plan.Step) error {
	if len(step.Orders) == 0 {
		return nil
	}
	submitTs := nowMs()
	builderCode := step.BuilderCode
	if builderCode == "" {
		builderCode = e.builderCode
	}

	resolved := make([]plan.Order, len(step.Orders))
	echo := perpOrdersRequest{BuilderCode: builderCode}
	for i, o := range step.Orders {
		px, err := e.resolvePrice(ctx, o.Coin, o.Px)
		if err != nil {
			return e.logAndContinue(idx, string(plan.StepPerpOrders), submitTs, marshalOrErr(perpOrdersRequest{Orders: nil, BuilderCode: builderCode}), errAck(err), nil, err.Error())
		}
		resolved[i] = o.WithCloid()
		resolved[i].Px = plan.PriceSpec{Absolute: true, Value: px}
		echo.Orders = append(echo.Orders, requestOrder{
			Coin: o.Coin, Side: string(o.Side), Sz: o.Sz.String(), Tif: o.Tif,
			ReduceOnly: o.ReduceOnly, Px: o.Px.Label(), ResolvedPx: px.String(),
			Cloid: resolved[i].Cloid, BuilderCode: o.BuilderCode,
		})
	}
	requestJSON := marshalOrErr(echo)

	batchAck, err := e.transport.SubmitOrderBatch(ctx, resolved, builderCode)
	if err != nil {
		return e.logAndContinue(idx, string(plan.StepPerpOrders), submitTs, requestJSON, errAck(err), nil, "")
	}

	statuses := make([]orderStatusJSON, len(batchAck.PerOrder))
	var oids []uint64
	for i, outcome := range batchAck.PerOrder {
		statuses[i] = orderStatusJSON{Kind: string(outcome.Kind), Oid: outcome.Oid, Err: outcome.Err}
		if outcome.Oid != nil && outcome.Kind != transport.OrderError {
			e.placed = append(e.placed, placedOrder{coin: step.Orders[i].Coin, oid: *outcome.Oid})
			oids = append(oids, *outcome.Oid)
		}
	}
	for i, outcome := range batchAck.PerOrder {
		if i >= len(step.Orders) || outcome.Oid == nil {
			continue
		}
		e.logRoutedOrder(submitTs, outcome.Oid, step.Orders[i], echo.Orders[i].ResolvedPx, builderCode)
	}

	ack := &artifact.Ack{Status: artifact.AckOK, Data: marshalOrErr(struct {
		Statuses []orderStatusJSON `json:"statuses"`
	}{statuses})}
	if batchAck.Status == transport.AckError {
		ack = errAck(fmt.Errorf("%s", batchAck.Err))
	}

	observed, notes := e.awaitOrderConfirmations(ctx, oids)
	return e.logAndContinue(idx, string(plan.StepPerpOrders), submitTs, requestJSON, ack, observed, notes)
}

func (e *Executor) logRoutedOrder(submitTs int64, oid *uint64, o plan.Order, resolvedPx, fallbackBuilder string) {
	builder := o.BuilderCode
	if builder == "" {
		builder = fallbackBuilder
	}
	if err := e.writer.LogRoutedOrder(artifact.RoutedOrderRecord{
		TsMs: submitTs, Oid: oid, Coin: o.Coin, Side: string(o.Side),
		Px: resolvedPx, Sz: o.Sz.String(), Tif: o.Tif, ReduceOnly: o.ReduceOnly, BuilderCode: builder,
	}); err != nil {
		e.log.Error("write orders_routed.csv", "error", err)
	}
}

func (e *Executor) awaitOrderConfirmations(ctx context.Context, oids []uint64) (json.RawMessage, string) {
	if len(oids) == 0 {
		return nil, ""
	}
	start := time.Now()
	events, missing := e.correlator.AwaitOrderOids(ctx, oids, e.timeout)
	metrics.CorrelatorWaitSeconds.WithLabelValues(string(plan.StepPerpOrders)).Observe(time.Since(start).Seconds())
	observed := eventsToJSON(events)
	notes := ""
	if len(missing) > 0 {
		notes = fmt.Sprintf("missing confirmations for oids %v", missing)
	}
	return observed, notes
}

func eventsToJSON(events []correlator.Event) json.RawMessage {
	if len(events) == 0 {
		return nil
	}
	type ev struct {
		Oid    uint64 `json:"oid"`
		Status string `json:"status"`
	}
	out := make([]ev, len(events))
	for i, e := range events {
		out[i] = ev{Oid: e.Oid, Status: string(e.Status)}
	}
	return marshalOrErr(out)
}

type cancelLastRequest struct {
	Coin string `json:"coin,omitempty"`
}

func (e *Executor) executeCancelLast(ctx context.Context, idx int, step plan.Step) error {
	submitTs := nowMs()
	requestJSON := marshalOrErr(cancelLastRequest{Coin: step.Coin})

	target, foundIdx := -1, -1
	for i := len(e.placed) - 1; i >= 0; i-- {
		if step.Coin == "" || e.placed[i].coin == step.Coin {
			target = int(e.placed[i].oid)
			foundIdx = i
			break
		}
	}
	if foundIdx < 0 {
		return e.logAndContinue(idx, string(plan.StepCancelLast), submitTs, requestJSON, nil, nil, "no tracked order available for cancel_last")
	}
	oid := uint64(target)

	ack, err := e.transport.SubmitCancel(ctx, transport.CancelLast, step.Coin, []uint64{oid})
	if err != nil {
		return e.logAndContinue(idx, string(plan.StepCancelLast), submitTs, requestJSON, errAck(err), nil, "")
	}
	if ack.Status != transport.AckAccepted {
		return e.logAndContinue(idx, string(plan.StepCancelLast), submitTs, requestJSON, errAck(fmt.Errorf("%s", ack.Err)), nil, "")
	}
	e.placed = append(e.placed[:foundIdx], e.placed[foundIdx+1:]...)

	observed, notes := e.awaitCancelConfirmations(ctx, []uint64{oid})
	return e.logAndContinue(idx, string(plan.StepCancelLast), submitTs, requestJSON, &artifact.Ack{Status: artifact.AckOK}, observed, notes)
}

type cancelOidsRequest struct {
	Coin string   `json:"coin,omitempty"`
	Oids []uint64 `json:"oids"`
}

func (e *Executor) executeCancelOids(ctx context.Context, idx int, step plan.Step) error {
	if len(step.Oids) == 0 {
		return nil
	}
	submitTs := nowMs()
	requestJSON := marshalOrErr(cancelOidsRequest{Coin: step.Coin, Oids: step.Oids})

	ack, err := e.transport.SubmitCancel(ctx, transport.CancelOids, step.Coin, step.Oids)
	if err != nil {
		return e.logAndContinue(idx, string(plan.StepCancelOids), submitTs, requestJSON, errAck(err), nil, "")
	}
	if ack.Status != transport.AckAccepted {
		return e.logAndContinue(idx, string(plan.StepCancelOids), submitTs, requestJSON, errAck(fmt.Errorf("%s", ack.Err)), nil, "")
	}
	e.untrack(step.Oids)

	observed, notes := e.awaitCancelConfirmations(ctx, step.Oids)
	return e.logAndContinue(idx, string(plan.StepCancelOids), submitTs, requestJSON, &artifact.Ack{Status: artifact.AckOK}, observed, notes)
}

type cancelAllRequest struct {
	Coin string `json:"coin,omitempty"`
}

func (e *Executor) executeCancelAll(ctx context.Context, idx int, step plan.Step) error {
	submitTs := nowMs()
	requestJSON := marshalOrErr(cancelAllRequest{Coin: step.Coin})

	var targets []uint64
	for _, p := range e.placed {
		if step.Coin == "" || p.coin == step.Coin {
			targets = append(targets, p.oid)
		}
	}

	ack, err := e.transport.SubmitCancel(ctx, transport.CancelAll, step.Coin, nil)
	if err != nil {
		return e.logAndContinue(idx, string(plan.StepCancelAll), submitTs, requestJSON, errAck(err), nil, "")
	}
	if ack.Status != transport.AckAccepted {
		return e.logAndContinue(idx, string(plan.StepCancelAll), submitTs, requestJSON, errAck(fmt.Errorf("%s", ack.Err)), nil, "")
	}
	e.untrack(targets)

	// cancel_all's Correlator predicate is ack-level-only for targets it
	// cannot enumerate ahead of time, per spec.md §9's resolved Open
	// Question; targets tracked locally still get awaited like cancel_oids.
	observed, notes := e.awaitCancelConfirmations(ctx, targets)
	return e.logAndContinue(idx, string(plan.StepCancelAll), submitTs, requestJSON, &artifact.Ack{Status: artifact.AckOK}, observed, notes)
}

func (e *Executor) awaitCancelConfirmations(ctx context.Context, oids []uint64) (json.RawMessage, string) {
	if len(oids) == 0 {
		return nil, ""
	}
	start := time.Now()
	events, missing := e.correlator.AwaitCancelOids(ctx, oids, e.timeout)
	metrics.CorrelatorWaitSeconds.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	observed := eventsToJSON(events)
	notes := ""
	if len(missing) > 0 {
		notes = fmt.Sprintf("missing cancel confirmations for oids %v", missing)
	}
	return observed, notes
}

func (e *Executor) untrack(oids []uint64) {
	if len(oids) == 0 {
		return
	}
	remove := make(map[uint64]bool, len(oids))
	for _, oid := range oids {
		remove[oid] = true
	}
	kept := e.placed[:0]
	for _, p := range e.placed {
		if !remove[p.oid] {
			kept = append(kept, p)
		}
	}
	e.placed = kept
}

type transferRequest struct {
	ToPerp bool   `json:"toPerp"`
	Usdc   string `json:"usdc"`
}

func (e *Executor) executeTransfer(ctx context.Context, idx int, step plan.Step) error {
	submitTs := nowMs()
	requestJSON := marshalOrErr(transferRequest{ToPerp: step.ToPerp, Usdc: step.Usdc.String()})

	ack, err := e.transport.SubmitTransfer(ctx, step.ToPerp, step.Usdc)
	if err != nil {
		return e.logAndContinue(idx, string(plan.StepUsdClassTransfer), submitTs, requestJSON, errAck(err), nil, "")
	}
	if ack.Status != transport.AckAccepted {
		return e.logAndContinue(idx, string(plan.StepUsdClassTransfer), submitTs, requestJSON, errAck(fmt.Errorf("%s", ack.Err)), nil, "")
	}

	var observed json.RawMessage
	notes := ""
	if ev, ok := e.correlator.AwaitTransfer(ctx, step.ToPerp, step.Usdc, e.timeout); ok {
		observed = ev.Raw
	} else {
		notes = "no ledger confirmation for usd class transfer"
	}
	return e.logAndContinue(idx, string(plan.StepUsdClassTransfer), submitTs, requestJSON, &artifact.Ack{Status: artifact.AckOK}, observed, notes)
}

type leverageRequest struct {
	Coin     string `json:"coin"`
	Leverage uint32 `json:"leverage"`
	Cross    bool   `json:"cross,omitempty"`
}

func (e *Executor) executeLeverage(ctx context.Context, idx int, step plan.Step) error {
	submitTs := nowMs()
	requestJSON := marshalOrErr(leverageRequest{Coin: step.Coin, Leverage: step.Leverage, Cross: step.Cross})

	ack, err := e.transport.SubmitLeverage(ctx, step.Coin, step.Leverage, step.Cross)
	if err != nil {
		return e.logAndContinue(idx, string(plan.StepSetLeverage), submitTs, requestJSON, errAck(err), nil, "")
	}
	resultAck := &artifact.Ack{Status: artifact.AckOK}
	if ack.Status != transport.AckAccepted {
		resultAck = errAck(fmt.Errorf("%s", ack.Err))
	}
	// Set leverage requires no stream confirmation; the HTTP ack suffices
	// per spec.md §4.3's predicate table.
	return e.logAndContinue(idx, string(plan.StepSetLeverage), submitTs, requestJSON, resultAck, nil, "")
}

func (e *Executor) executeSleep(ctx context.Context, step plan.Step) {
	select {
	case <-time.After(time.Duration(step.DurationMs) * time.Millisecond):
	case <-ctx.Done():
	}
}

// logAndContinue assembles and persists an ActionLogRecord, returning nil
// always — every path here is a per-step outcome, never fatal.
func (e *Executor) logAndContinue(idx int, action string, submitTs int64, request json.RawMessage, ack *artifact.Ack, observed json.RawMessage, notes string) error {
	record := e.writer.MakeActionRecord(idx, action, submitTs, request, ack, observed, notes)
	if err := e.writer.LogAction(record); err != nil {
		e.log.Error("write per_action.jsonl", "error", err, "stepIdx", idx)
	}
	ackStatus := "none"
	if ack != nil {
		ackStatus = string(ack.Status)
	}
	metrics.StepsTotal.WithLabelValues(action, ackStatus).Inc()
	return nil
}
