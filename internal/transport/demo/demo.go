// Package demo implements an in-memory transport that fabricates
// synchronous acknowledgements and matching venue events without any
// network I/O, for tests and dry-run plan validation.
//
// Grounded on original_source/crates/hl-runner/src/main.rs's run_demo_*
// family: fixed per-coin mid prices, monotonically increasing synthetic
// OIDs, and a "resting" event emitted immediately after each accepted
// order — but reworked around this module's Transport interface and
// pushed through a real channel instead of a fire-and-forget broadcaster,
// so the demo transport exercises the same Correlator subscription path
// production traffic does.
package demo

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/plan"
	"github.com/sigridjineth/hlbench/internal/transport"
)

var fixedMids = map[string]decimal.Decimal{
	"BTC": decimal.NewFromInt(60000),
	"ETH": decimal.NewFromInt(3500),
	"SOL": decimal.NewFromInt(180),
	"APT": decimal.NewFromInt(10),
}

func midForCoin(coin string) decimal.Decimal {
	if v, ok := fixedMids[coin]; ok {
		return v
	}
	return decimal.NewFromInt(100)
}

type restingOrder struct {
	oid  uint64
	coin string
}

// Transport is a synchronous, in-process stand-in for the real venue.
type Transport struct {
	mu       sync.Mutex
	nextOid  uint64
	resting  []restingOrder
	events   chan transport.VenueEvent
}

// New returns a demo Transport with its own isolated order book.
func New() *Transport {
	return &Transport{
		nextOid: 1,
		events:  make(chan transport.VenueEvent, 256),
	}
}

func (t *Transport) emit(ev transport.VenueEvent) {
	select {
	case t.events <- ev:
	default:
	}
}

// SubmitOrderBatch fabricates a "resting" status and a resting OID for
// every order, mirroring run_demo_perp_orders. Triggered orders are
// rejected since the demo transport does not model trigger conditions.
func (t *Transport) SubmitOrderBatch(_ context.Context, orders []plan.Order, _ string) (transport.BatchOrderAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ack := transport.BatchOrderAck{Status: transport.AckAccepted}
	for _, o := range orders {
		if o.TriggerOrNone().Kind != plan.TriggerNone {
			return transport.BatchOrderAck{}, fmt.Errorf("demo transport does not support triggered orders")
		}
		oid := t.nextOid
		t.nextOid++
		t.resting = append(t.resting, restingOrder{oid: oid, coin: o.Coin})

		ack.PerOrder = append(ack.PerOrder, transport.OrderOutcome{Kind: transport.OrderResting, Oid: &oid})
		t.emit(transport.VenueEvent{
			Channel: transport.ChannelOrderUpdates,
			Oid:     oid,
			Status:  "resting",
		})
	}
	return ack, nil
}

// SubmitCancel removes matching resting orders and emits a canceled event
// for each, mirroring run_demo_cancel_last/oids/all.
func (t *Transport) SubmitCancel(_ context.Context, kind transport.CancelKind, coin string, oids []uint64) (transport.CancelAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var canceled []uint64
	switch kind {
	case transport.CancelLast, transport.CancelOids:
		// The caller (internal/executor/steps.go) already resolves which
		// oid(s) cancel_last/cancel_oids target — via its own placed-order
		// bookkeeping for cancel_last, directly from the step for
		// cancel_oids — so both trust the passed-in oids rather than
		// re-deriving them from coin, which is empty for unscoped
		// cancel_last and would never match a resting order's coin.
		want := make(map[uint64]bool, len(oids))
		for _, oid := range oids {
			want[oid] = true
		}
		kept := t.resting[:0]
		for _, r := range t.resting {
			if want[r.oid] {
				canceled = append(canceled, r.oid)
				continue
			}
			kept = append(kept, r)
		}
		t.resting = kept
	case transport.CancelAll:
		kept := t.resting[:0]
		for _, r := range t.resting {
			if coin == "" || r.coin == coin {
				canceled = append(canceled, r.oid)
				continue
			}
			kept = append(kept, r)
		}
		t.resting = kept
	}

	for _, oid := range canceled {
		t.emit(transport.VenueEvent{Channel: transport.ChannelOrderUpdates, Oid: oid, Status: "canceled"})
	}
	ack := transport.CancelAck{Status: transport.AckAccepted}
	for range canceled {
		ack.PerTarget = append(ack.PerTarget, transport.CancelTargetOutcome{Kind: "canceled"})
	}
	return ack, nil
}

// SubmitTransfer always succeeds and emits a matching ledger event.
func (t *Transport) SubmitTransfer(_ context.Context, toPerp bool, usdc decimal.Decimal) (transport.SimpleAck, error) {
	t.emit(transport.VenueEvent{Channel: transport.ChannelUserNonFundingLedgerUpdates, ToPerp: toPerp, Usdc: usdc})
	return transport.SimpleAck{Status: transport.AckAccepted}, nil
}

// SubmitLeverage always succeeds; no stream confirmation is modeled since
// the venue's real ack is authoritative for this action (spec §4.3).
func (t *Transport) SubmitLeverage(_ context.Context, _ string, _ uint32, _ bool) (transport.SimpleAck, error) {
	return transport.SimpleAck{Status: transport.AckAccepted}, nil
}

// MidPrice returns the fixed per-coin mid used by the original demo mode.
func (t *Transport) MidPrice(_ context.Context, coin string) (transport.MidPrice, error) {
	return transport.MidPrice{Coin: coin, Value: midForCoin(coin)}, nil
}

// SubscribeEvents returns the channel every Submit* call already writes
// into. It never errors: the demo transport has no network layer to lose.
func (t *Transport) SubscribeEvents(_ context.Context) (<-chan transport.VenueEvent, error) {
	return t.events, nil
}
