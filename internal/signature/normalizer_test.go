package signature

import (
	"encoding/json"
	"testing"

	"github.com/sigridjineth/hlbench/internal/artifact"
)

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestNormalize_SingleAcceptedOrder(t *testing.T) {
	req := mustRaw(t, map[string]any{
		"orders": []map[string]any{
			{"coin": "ETH", "tif": "ALO", "reduceOnly": false},
		},
	})
	ack := &artifact.Ack{
		Status: artifact.AckOK,
		Data: mustRaw(t, map[string]any{
			"statuses": []map[string]any{{"kind": "resting", "oid": 1}},
		}),
	}
	rec := artifact.ActionLogRecord{Action: "perp_orders", Request: req, Ack: ack}

	sigs, noop := Normalize(rec)
	if noop {
		t.Fatalf("expected non-noop")
	}
	if len(sigs) != 1 || sigs[0] != "perp.order.ALO:false:none" {
		t.Fatalf("unexpected signatures: %v", sigs)
	}
}

func TestNormalize_ErrorStatusDropped(t *testing.T) {
	req := mustRaw(t, map[string]any{
		"orders": []map[string]any{
			{"coin": "ETH", "tif": "GTC", "reduceOnly": false},
		},
	})
	ack := &artifact.Ack{
		Status: artifact.AckOK,
		Data: mustRaw(t, map[string]any{
			"statuses": []map[string]any{{"kind": "error"}},
		}),
	}
	rec := artifact.ActionLogRecord{Action: "perp_orders", Request: req, Ack: ack}

	sigs, _ := Normalize(rec)
	if len(sigs) != 0 {
		t.Fatalf("expected error status to be silently dropped, got %v", sigs)
	}
}

func TestNormalize_UnmatchedOrderInheritsAckStatus(t *testing.T) {
	req := mustRaw(t, map[string]any{
		"orders": []map[string]any{
			{"coin": "ETH", "tif": "IOC", "reduceOnly": true},
			{"coin": "ETH", "tif": "GTC", "reduceOnly": false},
		},
	})
	ack := &artifact.Ack{
		Status: artifact.AckOK,
		Data: mustRaw(t, map[string]any{
			"statuses": []map[string]any{{"kind": "resting", "oid": 1}},
		}),
	}
	rec := artifact.ActionLogRecord{Action: "perp_orders", Request: req, Ack: ack}

	sigs, _ := Normalize(rec)
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %v", sigs)
	}
	if sigs[1] != "perp.order.GTC:false:none" {
		t.Fatalf("unmatched order should inherit ok ack status, got %v", sigs[1])
	}
}

func TestNormalize_CancelRequiresOK(t *testing.T) {
	rec := artifact.ActionLogRecord{
		Action: "cancel_last",
		Ack:    &artifact.Ack{Status: artifact.AckErr},
	}
	sigs, noop := Normalize(rec)
	if len(sigs) != 0 {
		t.Fatalf("expected no signature on failed cancel, got %v", sigs)
	}
	if !noop {
		t.Fatalf("expected noop when ack failed and nothing observed")
	}
}

func TestNormalize_TransferDirection(t *testing.T) {
	toPerp := artifact.ActionLogRecord{
		Action:  "usd_class_transfer",
		Request: mustRaw(t, map[string]any{"toPerp": true}),
		Ack:     &artifact.Ack{Status: artifact.AckOK},
	}
	fromPerp := artifact.ActionLogRecord{
		Action:  "usd_class_transfer",
		Request: mustRaw(t, map[string]any{"toPerp": false}),
		Ack:     &artifact.Ack{Status: artifact.AckOK},
	}

	sigs1, _ := Normalize(toPerp)
	sigs2, _ := Normalize(fromPerp)
	if sigs1[0] != "account.usdClassTransfer.toPerp" {
		t.Fatalf("unexpected: %v", sigs1)
	}
	if sigs2[0] != "account.usdClassTransfer.fromPerp" {
		t.Fatalf("unexpected: %v", sigs2)
	}
}

func TestNormalize_LeverageUppercasesCoin(t *testing.T) {
	rec := artifact.ActionLogRecord{
		Action:  "set_leverage",
		Request: mustRaw(t, map[string]any{"coin": "eth"}),
		Ack:     &artifact.Ack{Status: artifact.AckOK},
	}
	sigs, _ := Normalize(rec)
	if sigs[0] != "risk.setLeverage.ETH" {
		t.Fatalf("unexpected: %v", sigs)
	}
}

func TestNormalizeTIF_DefaultsToGTC(t *testing.T) {
	cases := map[string]string{"alo": "ALO", "IOC": "IOC", "weird": "GTC", "": "GTC"}
	for in, want := range cases {
		if got := NormalizeTIF(in); got != want {
			t.Errorf("NormalizeTIF(%q) = %q, want %q", in, got, want)
		}
	}
}
