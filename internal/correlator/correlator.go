// Package correlator implements the Effect Correlator: a per-action waiter
// arena keyed by OID or ledger fingerprint, with deadline-bounded waits.
//
// Grounded on spec.md §9's explicit design guidance ("a simple passive
// index + timed wait" instead of "callback chains or coroutine graphs"),
// which supersedes the broadcast+filter loop of
// original_source/crates/hl-runner/src/main.rs's
// wait_for_order_event/wait_for_ledger_event. Locking discipline (one
// mutex, held for microseconds) is grounded on the teacher's
// internal/market/orderbook.go sync.RWMutex usage.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names the venue event channels the Correlator understands.
type EventKind string

const (
	EventOrderUpdate    EventKind = "orderUpdate"
	EventUserFill       EventKind = "userFill"
	EventLedgerTransfer EventKind = "ledgerTransfer"
)

// OrderStatusKind is the per-order status carried by an order-update event.
type OrderStatusKind string

const (
	StatusResting  OrderStatusKind = "resting"
	StatusFilled   OrderStatusKind = "filled"
	StatusCanceled OrderStatusKind = "canceled"
)

// Event is a decoded venue event, already classified by the caller (the
// event-ingest task described in spec.md §5).
type Event struct {
	Kind EventKind
	Raw  json.RawMessage

	// EventOrderUpdate / EventUserFill
	Oid    uint64
	Status OrderStatusKind

	// EventLedgerTransfer
	ToPerp bool
	Usdc   decimal.Decimal
}

// transferFingerprint rounds usdc to avoid float/decimal noise in the
// lookup key, per spec.md §9's "(to_perp, round(usdc, ε))" fingerprint.
func transferFingerprint(toPerp bool, usdc decimal.Decimal) string {
	return fmt.Sprintf("xfer:%t:%s", toPerp, usdc.Round(6).String())
}

func orderKey(oid uint64) string {
	return fmt.Sprintf("oid:%d", oid)
}

type waiter struct {
	ch chan Event
}

// Correlator multiplexes a single venue event stream to per-action waiters.
//
// A per-action waiter is necessarily registered after its action is
// submitted (the wait key is derived from the ack, e.g. an OID). A fast
// transport can publish the matching event before that registration
// happens, so Feed also retains a short per-key replay buffer that
// register drains into any waiter created afterward — otherwise the very
// first event for a key would race the waiter that wants it.
type Correlator struct {
	mu      sync.Mutex
	waiters map[string][]*waiter
	recent  map[string][]Event
}

const recentEventsPerKey = 8

// New returns an empty Correlator. Subscribe the event stream and confirm
// it is running before submitting any action to the transport — per
// spec.md §4.3's concurrency requirement, the Correlator must not drop
// events observed between submission and subscription.
func New() *Correlator {
	return &Correlator{waiters: make(map[string][]*waiter), recent: make(map[string][]Event)}
}

// register creates and indexes a waiter for key, immediately replaying any
// event fed for that key before this waiter existed, and returning a
// function that removes it. Callers must release every waiter they
// register, or a long-running process leaks waiter slots for actions that
// never confirm.
func (c *Correlator) register(key string) (*waiter, func()) {
	w := &waiter{ch: make(chan Event, 8)}
	c.mu.Lock()
	for _, ev := range c.recent[key] {
		select {
		case w.ch <- ev:
		default:
		}
	}
	delete(c.recent, key)
	c.waiters[key] = append(c.waiters[key], w)
	c.mu.Unlock()
	return w, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ws := c.waiters[key]
		for i, existing := range ws {
			if existing == w {
				c.waiters[key] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		if len(c.waiters[key]) == 0 {
			delete(c.waiters, key)
		}
	}
}

// Feed delivers event to every waiter registered under its key; when no
// waiter is registered for that key yet, it retains the event in the key's
// replay buffer for a waiter that registers afterward. It never blocks: waiter channels are buffered and a full
// channel silently drops the event for that waiter — the waiter's own
// deadline fires a "missing confirmation" note instead of hanging
// indefinitely.
func (c *Correlator) Feed(ev Event) {
	var key string
	switch ev.Kind {
	case EventOrderUpdate, EventUserFill:
		key = orderKey(ev.Oid)
	case EventLedgerTransfer:
		key = transferFingerprint(ev.ToPerp, ev.Usdc)
	default:
		return
	}

	c.mu.Lock()
	ws := append([]*waiter(nil), c.waiters[key]...)
	if len(ws) == 0 {
		buf := c.recent[key]
		buf = append(buf, ev)
		if len(buf) > recentEventsPerKey {
			buf = buf[len(buf)-recentEventsPerKey:]
		}
		c.recent[key] = buf
	}
	c.mu.Unlock()

	for _, w := range ws {
		select {
		case w.ch <- ev:
		default:
		}
	}
}

// AwaitOrderOids blocks until every oid has an order-update or user-fill
// event, or until the deadline elapses. It returns the events observed
// (possibly a subset of oids) and the oids that never confirmed.
func (c *Correlator) AwaitOrderOids(ctx context.Context, oids []uint64, timeout time.Duration) (observed []Event, missing []uint64) {
	return c.awaitOids(ctx, oids, timeout, func(ev Event) bool {
		return ev.Kind == EventOrderUpdate || ev.Kind == EventUserFill
	})
}

// AwaitCancelOids blocks until every oid has an order-update event with a
// canceled status, or until the deadline elapses.
func (c *Correlator) AwaitCancelOids(ctx context.Context, oids []uint64, timeout time.Duration) (observed []Event, missing []uint64) {
	return c.awaitOids(ctx, oids, timeout, func(ev Event) bool {
		return ev.Kind == EventOrderUpdate && ev.Status == StatusCanceled
	})
}

// awaitOids registers one waiter per oid up front (so no event arriving
// during the wait is missed), then fans every waiter's channel into a
// single merged channel for the duration of the wait.
func (c *Correlator) awaitOids(ctx context.Context, oids []uint64, timeout time.Duration, accept func(Event) bool) (observed []Event, missing []uint64) {
	if len(oids) == 0 {
		return nil, nil
	}

	type arrival struct {
		ev  Event
		oid uint64
	}

	stop := make(chan struct{})
	merged := make(chan arrival, len(oids)*4)
	var wg sync.WaitGroup

	releases := make([]func(), 0, len(oids))
	remaining := make(map[uint64]bool, len(oids))
	for _, oid := range oids {
		remaining[oid] = true
		w, release := c.register(orderKey(oid))
		releases = append(releases, release)

		wg.Add(1)
		go func(oid uint64, w *waiter) {
			defer wg.Done()
			for {
				select {
				case ev := <-w.ch:
					select {
					case merged <- arrival{ev: ev, oid: oid}:
					case <-stop:
						return
					}
				case <-stop:
					return
				}
			}
		}(oid, w)
	}
	defer func() {
		close(stop)
		wg.Wait()
		for _, release := range releases {
			release()
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(remaining) > 0 {
		select {
		case a := <-merged:
			if !remaining[a.oid] {
				continue
			}
			if accept(a.ev) {
				observed = append(observed, a.ev)
				delete(remaining, a.oid)
			}
		case <-timer.C:
			for oid := range remaining {
				missing = append(missing, oid)
			}
			return observed, missing
		case <-ctx.Done():
			for oid := range remaining {
				missing = append(missing, oid)
			}
			return observed, missing
		}
	}
	return observed, nil
}

// AwaitTransfer blocks until a ledger-transfer event matching (toPerp,
// usdc) arrives, or until the deadline elapses.
func (c *Correlator) AwaitTransfer(ctx context.Context, toPerp bool, usdc decimal.Decimal, timeout time.Duration) (Event, bool) {
	w, release := c.register(transferFingerprint(toPerp, usdc))
	defer release()

	select {
	case ev := <-w.ch:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}
