package hyperliquid

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/transport"
)

func TestDecodeFrame_OrderUpdateCarriesOid(t *testing.T) {
	raw := []byte(`{"channel":"orderUpdates","data":[{"order":{"coin":"ETH","oid":42},"status":"resting"}]}`)
	events := decodeFrame(raw)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Oid != 42 || events[0].Status != "resting" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestDecodeFrame_UserFillsEmitsOnePerFillWithOid(t *testing.T) {
	raw := []byte(`{"channel":"userFills","data":{"isSnapshot":false,"fills":[
		{"oid":7,"coin":"ETH","side":"B"},
		{"oid":8,"coin":"BTC","side":"A"}
	]}}`)
	events := decodeFrame(raw)
	if len(events) != 2 {
		t.Fatalf("expected 2 events (one per fill), got %d", len(events))
	}
	if events[0].Oid != 7 || events[1].Oid != 8 {
		t.Fatalf("expected fills to carry their own oid, got %+v", events)
	}
	for _, ev := range events {
		if ev.Status != string(transport.OrderFilled) {
			t.Fatalf("expected filled status, got %q", ev.Status)
		}
		if ev.Channel != transport.ChannelUserFills {
			t.Fatalf("expected userFills channel, got %q", ev.Channel)
		}
	}
}

func TestDecodeFrame_UserFillsEmptyFillsIgnored(t *testing.T) {
	raw := []byte(`{"channel":"userFills","data":{"isSnapshot":true,"fills":[]}}`)
	if events := decodeFrame(raw); events != nil {
		t.Fatalf("expected no events for an empty fills snapshot, got %+v", events)
	}
}

func TestDecodeFrame_LedgerUpdateParsesUsdc(t *testing.T) {
	raw := []byte(`{"channel":"userNonFundingLedgerUpdates","data":[{"delta":{"type":"accountClassTransfer","usdc":"100.5","toPerp":true}}]}`)
	events := decodeFrame(raw)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	want := decimal.NewFromFloat(100.5)
	if !events[0].ToPerp || !events[0].Usdc.Equal(want) {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestDecodeFrame_UnknownChannelIgnored(t *testing.T) {
	raw := []byte(`{"channel":"somethingElse","data":{}}`)
	if events := decodeFrame(raw); events != nil {
		t.Fatalf("expected no events for an unrecognized channel, got %+v", events)
	}
}
