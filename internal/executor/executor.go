// Package executor drives a Plan through a Transport, correlating each
// step's acknowledgement with venue confirmations and persisting the
// resulting record before advancing to the next step.
//
// Grounded on original_source/crates/hl-runner/src/main.rs's execute_plan
// and its execute_perp_orders/execute_cancel_last/execute_cancel_oids/
// execute_cancel_all/execute_class_transfer/execute_set_leverage helpers;
// reworked into a single-threaded, cooperative state machine per spec.md
// §4.4/§5 instead of the Rust original's tokio broadcast-subscriber
// pattern, since the Correlator (internal/correlator) already gives this
// module a passive per-action wait primitive.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/artifact"
	"github.com/sigridjineth/hlbench/internal/correlator"
	"github.com/sigridjineth/hlbench/internal/pkg/apperrors"
	"github.com/sigridjineth/hlbench/internal/plan"
	"github.com/sigridjineth/hlbench/internal/statusserver"
	"github.com/sigridjineth/hlbench/internal/transport"
)

// FatalError wraps a condition that must terminate the run: loss of the
// event stream or a credential/authentication failure. Anything else a
// step can raise is captured into that step's ack instead. Cause is
// typically an *apperrors.AppError classified as apperrors.ErrFatal.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Cause) }
func (e *FatalError) Unwrap() error { return e.Cause }

type placedOrder struct {
	coin string
	oid  uint64
}

type midSnapshot struct {
	value   decimal.Decimal
	fetched time.Time
}

// Executor sequentially submits a Plan's steps to a Transport, using a
// Correlator to await venue confirmation and an artifact.Writer to persist
// each step's record before the next step begins.
type Executor struct {
	transport   transport.Transport
	correlator  *correlator.Correlator
	writer      *artifact.Writer
	log         *slog.Logger
	timeout     time.Duration
	builderCode string
	midRefresh  time.Duration

	placed   []placedOrder
	midCache map[string]midSnapshot

	status    statusserver.Store
	startedAt time.Time
}

// SetStatusStore attaches a statusserver.Store that Run publishes progress
// to after every step. Optional: a nil store (the default) means Run never
// publishes.
func (e *Executor) SetStatusStore(s statusserver.Store) { e.status = s }

// New builds an Executor. effectTimeout bounds every per-action
// confirmation wait; midRefresh bounds how long a cached mid-price
// snapshot may be reused before a fresh quote is required.
func New(tp transport.Transport, corr *correlator.Correlator, w *artifact.Writer, effectTimeout, midRefresh time.Duration, defaultBuilderCode string, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		transport:   tp,
		correlator:  corr,
		writer:      w,
		log:         log,
		timeout:     effectTimeout,
		builderCode: defaultBuilderCode,
		midRefresh:  midRefresh,
		midCache:    make(map[string]midSnapshot),
	}
}

// Subscribe starts a background task consuming the transport's event
// stream, feeding it to the Correlator and to ws_stream.jsonl. It must
// return before the first step is submitted (spec.md §4.3): the returned
// channel signals a fatal condition if the underlying stream closes
// before ctx is canceled.
func (e *Executor) Subscribe(ctx context.Context) (<-chan error, error) {
	events, err := e.transport.SubscribeEvents(ctx)
	if err != nil {
		return nil, &FatalError{Cause: apperrors.NewFatalError("subscribe to venue events", err)}
	}

	fatal := make(chan error, 1)
	go func() {
		for ev := range events {
			e.correlator.Feed(toCorrelatorEvent(ev))
			if len(ev.Raw) > 0 {
				if err := e.writer.LogWSEvent(ev.Raw); err != nil {
					e.log.Error("write ws_stream.jsonl", "error", err)
				}
			}
		}
		select {
		case <-ctx.Done():
			// A clean shutdown already closed the event stream; the caller's
			// own ctx.Done() case fires instead, so fatal is left open and
			// unclosed rather than raced into a spurious nil-error receive.
		default:
			fatal <- apperrors.NewFatalError("venue event stream closed unexpectedly", nil)
			close(fatal)
		}
	}()
	return fatal, nil
}

func toCorrelatorEvent(ev transport.VenueEvent) correlator.Event {
	switch ev.Channel {
	case transport.ChannelUserNonFundingLedgerUpdates:
		return correlator.Event{Kind: correlator.EventLedgerTransfer, Raw: ev.Raw, ToPerp: ev.ToPerp, Usdc: ev.Usdc}
	case transport.ChannelUserFills:
		return correlator.Event{Kind: correlator.EventUserFill, Raw: ev.Raw, Oid: ev.Oid, Status: correlator.OrderStatusKind(ev.Status)}
	default:
		return correlator.Event{Kind: correlator.EventOrderUpdate, Raw: ev.Raw, Oid: ev.Oid, Status: correlator.OrderStatusKind(ev.Status)}
	}
}

// Run submits p's steps in order. It returns a non-nil error only for a
// FatalError; per-step transport errors are captured into that step's
// record and execution continues.
func (e *Executor) Run(ctx context.Context, p plan.Plan) error {
	e.startedAt = time.Now()
	for idx, step := range p.Steps {
		if ctx.Err() != nil {
			return nil
		}
		switch step.Kind {
		case plan.StepPerpOrders:
			_ = e.executePerpOrders(ctx, idx, step)
		case plan.StepCancelLast:
			_ = e.executeCancelLast(ctx, idx, step)
		case plan.StepCancelOids:
			_ = e.executeCancelOids(ctx, idx, step)
		case plan.StepCancelAll:
			_ = e.executeCancelAll(ctx, idx, step)
		case plan.StepUsdClassTransfer:
			_ = e.executeTransfer(ctx, idx, step)
		case plan.StepSetLeverage:
			_ = e.executeLeverage(ctx, idx, step)
		case plan.StepSleepMs:
			e.executeSleep(ctx, step)
		default:
			e.log.Warn("skipping step with unrecognized kind", "idx", idx, "kind", step.Kind)
		}
		e.publishStatus(idx, len(p.Steps), string(step.Kind), false)
	}
	e.publishStatus(len(p.Steps)-1, len(p.Steps), "", true)
	return nil
}

func (e *Executor) publishStatus(stepIdx, total int, lastAction string, done bool) {
	if e.status == nil {
		return
	}
	status := statusserver.RunStatus{
		StepIdx:    stepIdx,
		TotalSteps: total,
		LastAction: lastAction,
		StartedAt:  e.startedAt,
		UpdatedAt:  time.Now(),
		Done:       done,
	}
	if err := e.status.Publish(status); err != nil {
		e.log.Error("publish run status", "error", err)
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func marshalOrErr(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// errAck classifies a step-level failure as a transport error — a rejected
// order, a failed cancel, or a network error talking to the venue — and
// persists that classification in the step's ack.data.
func errAck(err error) *artifact.Ack {
	return &artifact.Ack{Status: artifact.AckErr, Data: marshalOrErr(apperrors.NewTransportError(err.Error(), err))}
}
