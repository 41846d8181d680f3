package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAwaitOrderOids_ObservesWithinTimeout(t *testing.T) {
	c := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Feed(Event{Kind: EventOrderUpdate, Oid: 1, Status: StatusResting})
		c.Feed(Event{Kind: EventOrderUpdate, Oid: 2, Status: StatusResting})
	}()

	observed, missing := c.AwaitOrderOids(context.Background(), []uint64{1, 2}, 200*time.Millisecond)
	if len(missing) != 0 {
		t.Fatalf("expected no missing oids, got %v", missing)
	}
	if len(observed) != 2 {
		t.Fatalf("expected 2 observed events, got %d", len(observed))
	}
}

func TestAwaitOrderOids_PartialTimeoutReportsMissing(t *testing.T) {
	c := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Feed(Event{Kind: EventOrderUpdate, Oid: 1, Status: StatusResting})
	}()

	observed, missing := c.AwaitOrderOids(context.Background(), []uint64{1, 2}, 40*time.Millisecond)
	if len(observed) != 1 || observed[0].Oid != 1 {
		t.Fatalf("expected oid 1 observed, got %+v", observed)
	}
	if len(missing) != 1 || missing[0] != 2 {
		t.Fatalf("expected oid 2 missing, got %v", missing)
	}
}

func TestAwaitCancelOids_IgnoresNonCanceledStatus(t *testing.T) {
	c := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Feed(Event{Kind: EventOrderUpdate, Oid: 7, Status: StatusResting})
		time.Sleep(5 * time.Millisecond)
		c.Feed(Event{Kind: EventOrderUpdate, Oid: 7, Status: StatusCanceled})
	}()

	observed, missing := c.AwaitCancelOids(context.Background(), []uint64{7}, 200*time.Millisecond)
	if len(missing) != 0 {
		t.Fatalf("expected oid 7 to confirm cancel, missing=%v", missing)
	}
	if len(observed) != 1 || observed[0].Status != StatusCanceled {
		t.Fatalf("expected canceled event, got %+v", observed)
	}
}

func TestAwaitTransfer_MatchesFingerprint(t *testing.T) {
	c := New()
	amount := decimal.NewFromFloat(12.5)
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Feed(Event{Kind: EventLedgerTransfer, ToPerp: true, Usdc: amount})
	}()

	ev, ok := c.AwaitTransfer(context.Background(), true, amount, 200*time.Millisecond)
	if !ok {
		t.Fatalf("expected transfer to be observed")
	}
	if !ev.Usdc.Equal(amount) || !ev.ToPerp {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestAwaitTransfer_TimesOutWithoutMatchingFingerprint(t *testing.T) {
	c := New()
	c.Feed(Event{Kind: EventLedgerTransfer, ToPerp: false, Usdc: decimal.NewFromInt(5)})

	_, ok := c.AwaitTransfer(context.Background(), true, decimal.NewFromInt(5), 20*time.Millisecond)
	if ok {
		t.Fatalf("expected no match for a differently-directioned transfer")
	}
}

func TestCorrelator_DoesNotDropEventsObservedBeforeAwaitReturns(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		// Feed fires immediately, racing the registration inside awaitOids.
		// Events fed before the waiter exists land in the replay buffer and
		// are drained into it on registration, so a fast producer must not
		// starve the waiter.
		for i := 0; i < 50; i++ {
			c.Feed(Event{Kind: EventOrderUpdate, Oid: 99, Status: StatusResting})
		}
	}()

	observed, missing := c.AwaitOrderOids(context.Background(), []uint64{99}, 200*time.Millisecond)
	wg.Wait()
	if len(missing) != 0 {
		t.Fatalf("expected oid to be observed, missing=%v", missing)
	}
	if len(observed) != 1 {
		t.Fatalf("expected exactly one accepted event, got %d", len(observed))
	}
}

func TestCorrelator_ReplaysEventFedBeforeWaiterExisted(t *testing.T) {
	c := New()
	// A synchronous transport can publish the confirming event before the
	// caller has even received the ack it needs to register a waiter.
	c.Feed(Event{Kind: EventOrderUpdate, Oid: 42, Status: StatusResting})

	observed, missing := c.AwaitOrderOids(context.Background(), []uint64{42}, 50*time.Millisecond)
	if len(missing) != 0 {
		t.Fatalf("expected the pre-fed event to be replayed, missing=%v", missing)
	}
	if len(observed) != 1 || observed[0].Oid != 42 {
		t.Fatalf("unexpected observed events: %+v", observed)
	}
}
