// Package transport defines the venue abstraction consumed by the Plan
// Executor: three request capabilities plus an event subscription, per
// spec.md §6. Two implementations exist: transport/hyperliquid (the real
// venue, EIP-712 signed) and transport/demo (an in-memory stand-in used by
// tests and dry runs).
package transport

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/plan"
)

// AckOutcome is the transport-level status of a submitted request, before
// any venue-side per-order detail is inspected.
type AckOutcome string

const (
	AckAccepted AckOutcome = "ok"
	AckError    AckOutcome = "err"
)

// OrderOutcomeKind mirrors the per-order status kinds the venue reports
// synchronously in a batch-order acknowledgement.
type OrderOutcomeKind string

const (
	OrderResting            OrderOutcomeKind = "resting"
	OrderFilled             OrderOutcomeKind = "filled"
	OrderWaitingForFill     OrderOutcomeKind = "waitingForFill"
	OrderWaitingForTrigger  OrderOutcomeKind = "waitingForTrigger"
	OrderError              OrderOutcomeKind = "error"
)

// OrderOutcome is one entry of a batch-order acknowledgement's per_order list.
type OrderOutcome struct {
	Kind OrderOutcomeKind `json:"kind"`
	Oid  *uint64          `json:"oid,omitempty"`
	Err  string           `json:"err,omitempty"`
}

// BatchOrderAck is the synchronous response to submitting a batch of orders.
type BatchOrderAck struct {
	Status   AckOutcome     `json:"status"`
	PerOrder []OrderOutcome `json:"perOrder,omitempty"`
	Err      string         `json:"err,omitempty"`
}

// CancelKind selects which cancel_* request shape is being submitted.
type CancelKind string

const (
	CancelLast CancelKind = "last"
	CancelOids CancelKind = "oids"
	CancelAll  CancelKind = "all"
)

// CancelTargetOutcome is one entry of a cancel acknowledgement's per_target
// list.
type CancelTargetOutcome struct {
	Kind string `json:"kind"`
}

// CancelAck is the synchronous response to a cancel request.
type CancelAck struct {
	Status    AckOutcome            `json:"status"`
	PerTarget []CancelTargetOutcome `json:"perTarget,omitempty"`
	Err       string                `json:"err,omitempty"`
}

// SimpleAck is the synchronous response shape shared by transfer and
// leverage requests, which carry no per-item detail.
type SimpleAck struct {
	Status AckOutcome `json:"status"`
	Err    string     `json:"err,omitempty"`
}

// EventChannel names one of the venue's push-event channels.
type EventChannel string

const (
	ChannelOrderUpdates              EventChannel = "orderUpdates"
	ChannelUserFills                 EventChannel = "userFills"
	ChannelUserNonFundingLedgerUpdates EventChannel = "userNonFundingLedgerUpdates"
)

// VenueEvent is one decoded push event from the venue's event stream.
type VenueEvent struct {
	Channel    EventChannel
	IsSnapshot bool
	Raw        json.RawMessage

	// present on order-related events
	Oid    uint64
	Status string // e.g. "resting", "filled", "canceled"

	// present on ledger-transfer events
	ToPerp bool
	Usdc   decimal.Decimal
}

// MidPrice reports a coin's mid-price snapshot.
type MidPrice struct {
	Coin  string
	Value decimal.Decimal
}

// Transport is the venue abstraction of spec.md §6. Every method may return
// a transport error (network, authentication) which the Executor captures
// as ack.status = err without terminating the run; SubscribeEvents failing
// or terminating mid-run is the one fatal condition transports can raise.
type Transport interface {
	// SubmitOrderBatch places orders, optionally tagged with a builder code.
	SubmitOrderBatch(ctx context.Context, orders []plan.Order, builderCode string) (BatchOrderAck, error)

	// SubmitCancel cancels resting orders by last-per-coin, explicit OIDs, or
	// all orders for a coin (or account-wide when coin is empty).
	SubmitCancel(ctx context.Context, kind CancelKind, coin string, oids []uint64) (CancelAck, error)

	// SubmitTransfer moves USDC between the spot and perp account classes.
	SubmitTransfer(ctx context.Context, toPerp bool, usdc decimal.Decimal) (SimpleAck, error)

	// SubmitLeverage sets a coin's leverage mode and multiplier.
	SubmitLeverage(ctx context.Context, coin string, leverage uint32, cross bool) (SimpleAck, error)

	// MidPrice returns a recent mid-price snapshot for coin.
	MidPrice(ctx context.Context, coin string) (MidPrice, error)

	// SubscribeEvents starts the background event stream and returns a
	// channel of decoded events. The channel closes when the stream ends;
	// a closed channel before ctx is done is a fatal condition for callers
	// per spec.md §7. Subscription must be confirmed active before this
	// method returns, so no event racing an in-flight submission is missed.
	SubscribeEvents(ctx context.Context) (<-chan VenueEvent, error)
}
