// Package plan defines the benchmark's declarative action-plan schema and
// loads it from the "path" or "path:N" file forms of spec.md §6.
//
// Grounded on original_source/crates/hl-common/src/plan.rs: the seven step
// variants, the Order/PriceSpec shapes, and the load_plan_from_spec
// path-selector convention are ported directly; JSON tags follow the
// camelCase wire shapes exercised by original_source/crates/hl-evaluator's
// hian.rs fixtures.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a perp order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// TriggerKind is the trigger segment of an order. Only "none" is supported
// in this release (spec §9 Open Question — resolved): any other kind is
// rejected at load time so the signature grammar's reserved segment stays
// meaningfully extensible without silently mis-scoring unknown behavior.
type TriggerKind string

const TriggerNone TriggerKind = "none"

// Trigger is an order's trigger condition.
type Trigger struct {
	Kind TriggerKind `json:"kind"`
}

// PriceSpec is either an absolute price or a mid-relative offset ("mid",
// "mid+1%", "mid-0.5%"). OffsetPct is zero and Absolute is false for the
// bare "mid" literal, per spec.md §9's resolved Open Question.
type PriceSpec struct {
	Absolute  bool
	Value     decimal.Decimal // meaningful iff Absolute
	OffsetPct decimal.Decimal // meaningful iff !Absolute
}

// Resolve computes an absolute price given a mid-price snapshot.
func (p PriceSpec) Resolve(mid decimal.Decimal) decimal.Decimal {
	if p.Absolute {
		return p.Value
	}
	factor := decimal.NewFromInt(1).Add(p.OffsetPct.Div(decimal.NewFromInt(100)))
	return mid.Mul(factor)
}

// Label renders the PriceSpec back to its wire string, for request echoes.
func (p PriceSpec) Label() string {
	if p.Absolute {
		return p.Value.String()
	}
	if p.OffsetPct.IsZero() {
		return "mid"
	}
	sign := "+"
	if p.OffsetPct.IsNegative() {
		sign = ""
	}
	return "mid" + sign + p.OffsetPct.String() + "%"
}

// UnmarshalJSON parses a PriceSpec from either a JSON number or one of the
// string forms "mid", "mid+X%", "mid-X%".
func (p *PriceSpec) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		d, err := decimal.NewFromString(num.String())
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		*p = PriceSpec{Absolute: true, Value: d}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("price: expected number or string, got %s", data)
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "mid") {
		return fmt.Errorf("price: unrecognized symbolic form %q", s)
	}
	rest := strings.TrimPrefix(s, "mid")
	if rest == "" {
		*p = PriceSpec{Absolute: false, OffsetPct: decimal.Zero}
		return nil
	}
	rest = strings.TrimSuffix(rest, "%")
	offset, err := decimal.NewFromString(rest)
	if err != nil {
		return fmt.Errorf("price: unrecognized offset in %q: %w", s, err)
	}
	*p = PriceSpec{Absolute: false, OffsetPct: offset}
	return nil
}

// MarshalJSON renders a PriceSpec as a number if absolute, else its
// symbolic string form.
func (p PriceSpec) MarshalJSON() ([]byte, error) {
	if p.Absolute {
		return json.Marshal(p.Value)
	}
	return json.Marshal(p.Label())
}

// Order is one leg of a PerpOrders step. JSON tags follow the wire shape of
// original_source/crates/hl-common/src/plan.rs's PerpOrder (rename_all =
// camelCase).
type Order struct {
	Coin        string          `json:"coin"`
	Side        Side            `json:"side"`
	Sz          decimal.Decimal `json:"sz"`
	Tif         string          `json:"tif,omitempty"`
	ReduceOnly  bool            `json:"reduceOnly,omitempty"`
	Px          PriceSpec       `json:"px"`
	Trigger     *Trigger        `json:"trigger,omitempty"`
	Cloid       string          `json:"cloid,omitempty"`
	BuilderCode string          `json:"builderCode,omitempty"`
}

// TriggerOrNone returns o.Trigger, defaulting to {Kind: none} when absent —
// PerpOrder.trigger is an optional field in the wire schema.
func (o Order) TriggerOrNone() Trigger {
	if o.Trigger == nil {
		return Trigger{Kind: TriggerNone}
	}
	return *o.Trigger
}

// Validate rejects orders this release cannot express, per spec §9.
func (o Order) Validate() error {
	trig := o.TriggerOrNone()
	if trig.Kind != "" && trig.Kind != TriggerNone {
		return fmt.Errorf("order for %s: unsupported trigger kind %q", o.Coin, trig.Kind)
	}
	if o.Sz.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order for %s: size must be positive, got %s", o.Coin, o.Sz)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("order for %s: side must be buy or sell, got %q", o.Coin, o.Side)
	}
	return nil
}

// WithCloid returns a copy of o with a generated client order ID if one was
// not already supplied by the plan.
func (o Order) WithCloid() Order {
	if o.Cloid == "" {
		o.Cloid = uuid.NewString()
	}
	return o
}

// StepKind names one of the seven tagged plan-step variants.
type StepKind string

const (
	StepPerpOrders       StepKind = "perp_orders"
	StepCancelLast       StepKind = "cancel_last"
	StepCancelOids       StepKind = "cancel_oids"
	StepCancelAll        StepKind = "cancel_all"
	StepUsdClassTransfer StepKind = "usd_class_transfer"
	StepSetLeverage      StepKind = "set_leverage"
	StepSleepMs          StepKind = "sleep_ms"
)

// Step is one tagged plan-step variant. On the wire each step is a
// single-key object whose key names the variant, mirroring
// original_source/crates/hl-common/src/plan.rs's ActionStep — an untagged
// Rust enum whose variants are themselves single-field structs named
// perp_orders/cancel_last/cancel_oids/cancel_all/usd_class_transfer/
// set_leverage/sleep_ms. Exactly the fields relevant to Kind are populated.
type Step struct {
	Kind StepKind

	// perp_orders
	Orders      []Order `json:"orders,omitempty"`
	BuilderCode string  `json:"builderCode,omitempty"`

	// cancel_last / cancel_oids / cancel_all
	Coin string   `json:"coin,omitempty"`
	Oids []uint64 `json:"oids,omitempty"`

	// usd_class_transfer
	ToPerp bool            `json:"toPerp,omitempty"`
	Usdc   decimal.Decimal `json:"usdc,omitempty"`

	// set_leverage
	Leverage uint32 `json:"leverage,omitempty"`
	Cross    bool   `json:"cross,omitempty"`

	// sleep_ms
	DurationMs uint64 `json:"durationMs,omitempty"`
}

type perpOrdersStep struct {
	Orders      []Order `json:"orders"`
	BuilderCode string  `json:"builderCode,omitempty"`
}

type cancelLastStep struct {
	Coin string `json:"coin,omitempty"`
}

type cancelOidsStep struct {
	Coin string   `json:"coin"`
	Oids []uint64 `json:"oids"`
}

type cancelAllStep struct {
	Coin string `json:"coin,omitempty"`
}

type usdClassTransferStep struct {
	ToPerp bool            `json:"toPerp"`
	Usdc   decimal.Decimal `json:"usdc"`
}

type setLeverageStep struct {
	Coin     string `json:"coin"`
	Leverage uint32 `json:"leverage"`
	Cross    bool   `json:"cross,omitempty"`
}

type sleepMsStep struct {
	DurationMs uint64 `json:"durationMs"`
	Ms         uint64 `json:"ms"`
	DurationMs2 uint64 `json:"duration_ms"`
}

type stepWrapper struct {
	PerpOrders        *perpOrdersStep       `json:"perp_orders"`
	CancelLast        *cancelLastStep       `json:"cancel_last"`
	CancelOids        *cancelOidsStep       `json:"cancel_oids"`
	CancelAll         *cancelAllStep        `json:"cancel_all"`
	UsdClassTransfer  *usdClassTransferStep `json:"usd_class_transfer"`
	SetLeverage       *setLeverageStep      `json:"set_leverage"`
	SleepMs           *sleepMsStep          `json:"sleep_ms"`
}

// UnmarshalJSON discriminates the tagged step variant by which single key
// is present in the wrapper object, matching plan.rs's ActionStep exactly.
func (s *Step) UnmarshalJSON(data []byte) error {
	var w stepWrapper
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}

	switch {
	case w.PerpOrders != nil:
		s.Kind = StepPerpOrders
		s.Orders = w.PerpOrders.Orders
		s.BuilderCode = w.PerpOrders.BuilderCode
	case w.CancelLast != nil:
		s.Kind = StepCancelLast
		s.Coin = w.CancelLast.Coin
	case w.CancelOids != nil:
		s.Kind = StepCancelOids
		s.Coin = w.CancelOids.Coin
		s.Oids = w.CancelOids.Oids
	case w.CancelAll != nil:
		s.Kind = StepCancelAll
		s.Coin = w.CancelAll.Coin
	case w.UsdClassTransfer != nil:
		s.Kind = StepUsdClassTransfer
		s.ToPerp = w.UsdClassTransfer.ToPerp
		s.Usdc = w.UsdClassTransfer.Usdc
	case w.SetLeverage != nil:
		s.Kind = StepSetLeverage
		s.Coin = w.SetLeverage.Coin
		s.Leverage = w.SetLeverage.Leverage
		s.Cross = w.SetLeverage.Cross
	case w.SleepMs != nil:
		s.Kind = StepSleepMs
		switch {
		case w.SleepMs.DurationMs != 0:
			s.DurationMs = w.SleepMs.DurationMs
		case w.SleepMs.Ms != 0:
			s.DurationMs = w.SleepMs.Ms
		default:
			s.DurationMs = w.SleepMs.DurationMs2
		}
	default:
		return fmt.Errorf("step has no recognized action key: %s", data)
	}
	return nil
}

// MarshalJSON re-wraps the step in its single-key discriminated form.
func (s Step) MarshalJSON() ([]byte, error) {
	w := stepWrapper{}
	switch s.Kind {
	case StepPerpOrders:
		w.PerpOrders = &perpOrdersStep{Orders: s.Orders, BuilderCode: s.BuilderCode}
	case StepCancelLast:
		w.CancelLast = &cancelLastStep{Coin: s.Coin}
	case StepCancelOids:
		w.CancelOids = &cancelOidsStep{Coin: s.Coin, Oids: s.Oids}
	case StepCancelAll:
		w.CancelAll = &cancelAllStep{Coin: s.Coin}
	case StepUsdClassTransfer:
		w.UsdClassTransfer = &usdClassTransferStep{ToPerp: s.ToPerp, Usdc: s.Usdc}
	case StepSetLeverage:
		w.SetLeverage = &setLeverageStep{Coin: s.Coin, Leverage: s.Leverage, Cross: s.Cross}
	case StepSleepMs:
		w.SleepMs = &sleepMsStep{DurationMs: s.DurationMs}
	default:
		return nil, fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return json.Marshal(w)
}

// Plan is an ordered sequence of steps.
type Plan struct {
	Steps []Step `json:"steps"`
}

// splitPathSelector splits a "path:N" spec into (path, N, hasSelector),
// mirroring load_plan_from_spec's use of rsplitn(2, ':').
func splitPathSelector(spec string) (path string, idx int, hasSelector bool) {
	i := strings.LastIndex(spec, ":")
	if i < 0 {
		return spec, 0, false
	}
	n, err := strconv.Atoi(spec[i+1:])
	if err != nil || n < 1 {
		return spec, 0, false
	}
	return spec[:i], n, true
}

// Load reads a plan from spec, which is either a plain JSON file (a single
// Plan) or a "path:N" selector into a line-delimited JSON file where each
// line is one Plan and N is 1-based.
func Load(spec string) (Plan, string, error) {
	path, idx, hasSelector := splitPathSelector(spec)
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, "", fmt.Errorf("read plan file %s: %w", path, err)
	}

	if !hasSelector {
		var p Plan
		if err := json.Unmarshal(data, &p); err != nil {
			return Plan{}, "", fmt.Errorf("parse plan file %s: %w", path, err)
		}
		return p, string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	nonEmpty := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonEmpty++
		if nonEmpty != idx {
			continue
		}
		var p Plan
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return Plan{}, "", fmt.Errorf("parse plan %d in %s: %w", idx, path, err)
		}
		return p, line, nil
	}
	return Plan{}, "", fmt.Errorf("plan file %s has fewer than %d entries", path, idx)
}

// Validate checks every order in every perp_orders step.
func (p Plan) Validate() error {
	for i, step := range p.Steps {
		if step.Kind != StepPerpOrders {
			continue
		}
		for _, o := range step.Orders {
			if err := o.Validate(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}
