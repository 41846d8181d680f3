// Package signature implements the canonical action-signature grammar.
//
// Grounded on original_source/crates/hl-common/src/sig.rs: the four
// signature grammars and the tif/trigger normalization rules are ported
// from Signature::perp_order/perp_cancel/account_usd_class_transfer/
// risk_set_leverage, normalize_tif, and normalize_trigger.
package signature

import (
	"encoding/json"
	"strings"

	"github.com/sigridjineth/hlbench/internal/artifact"
)

// Signature is an immutable, dot-segmented canonical action string.
type Signature string

const (
	kindResting          = "resting"
	kindFilled           = "filled"
	kindSuccess          = "success"
	kindWaitingForFill   = "waitingForFill"
	kindWaitingForTrigger = "waitingForTrigger"
)

var acceptedOrderStatusKinds = map[string]bool{
	kindResting:           true,
	kindFilled:            true,
	kindSuccess:           true,
	kindWaitingForFill:    true,
	kindWaitingForTrigger: true,
}

// perpOrderEcho is the shape of ActionLogRecord.Request when Action ==
// "perp_orders": one entry per order in the batch, in submission order.
type perpOrderEcho struct {
	Orders []struct {
		Coin       string `json:"coin"`
		Tif        string `json:"tif"`
		ReduceOnly bool   `json:"reduceOnly"`
	} `json:"orders"`
}

type transferEcho struct {
	ToPerp bool `json:"toPerp"`
}

type leverageEcho struct {
	Coin string `json:"coin"`
}

type orderStatus struct {
	Kind string  `json:"kind"`
	Oid  *uint64 `json:"oid,omitempty"`
}

type ackData struct {
	Statuses []orderStatus `json:"statuses"`
}

// Normalize maps an ActionLogRecord to zero-or-more canonical signatures and
// reports whether the record was a no-op (spec §3, §4.1).
func Normalize(r artifact.ActionLogRecord) (sigs []Signature, isNoop bool) {
	ackOK := r.Ack != nil && r.Ack.Status == artifact.AckOK

	switch r.Action {
	case "perp_orders":
		sigs = normalizePerpOrders(r, ackOK)
	case "cancel_last":
		if ackOK {
			sigs = append(sigs, Signature("perp.cancel.last"))
		}
	case "cancel_oids":
		if ackOK {
			sigs = append(sigs, Signature("perp.cancel.oids"))
		}
	case "cancel_all":
		if ackOK {
			sigs = append(sigs, Signature("perp.cancel.all"))
		}
	case "usd_class_transfer":
		if ackOK {
			var echo transferEcho
			if json.Unmarshal(r.Request, &echo) == nil {
				direction := "fromPerp"
				if echo.ToPerp {
					direction = "toPerp"
				}
				sigs = append(sigs, Signature("account.usdClassTransfer."+direction))
			}
		}
	case "set_leverage":
		if ackOK {
			var echo leverageEcho
			if json.Unmarshal(r.Request, &echo) == nil && echo.Coin != "" {
				sigs = append(sigs, Signature("risk.setLeverage."+strings.ToUpper(echo.Coin)))
			}
		}
	}

	hasObserved := len(r.Observed) > 0 && string(r.Observed) != "null"
	isNoop = len(sigs) == 0 && !ackOK && !hasObserved
	return sigs, isNoop
}

func normalizePerpOrders(r artifact.ActionLogRecord, ackOK bool) []Signature {
	var echo perpOrderEcho
	if err := json.Unmarshal(r.Request, &echo); err != nil {
		return nil
	}

	var statuses []orderStatus
	if r.Ack != nil && len(r.Ack.Data) > 0 {
		var d ackData
		if json.Unmarshal(r.Ack.Data, &d) == nil {
			statuses = d.Statuses
		}
	}

	var out []Signature
	for i, order := range echo.Orders {
		accepted := false
		dropped := false
		if i < len(statuses) {
			switch statuses[i].Kind {
			case "error":
				dropped = true
			default:
				accepted = acceptedOrderStatusKinds[statuses[i].Kind]
			}
		} else {
			// More orders than statuses: unmatched orders inherit the
			// step-level ack status.
			accepted = ackOK
		}
		if dropped || !accepted {
			continue
		}
		tif := NormalizeTIF(order.Tif)
		out = append(out, Signature("perp.order."+tif+":"+boolStr(order.ReduceOnly)+":none"))
	}
	return out
}

// NormalizeTIF maps a raw time-in-force string to one of ALO/IOC/GTC,
// defaulting to GTC for anything unrecognized (mirrors normalize_tif).
func NormalizeTIF(raw string) string {
	switch strings.ToUpper(raw) {
	case "ALO":
		return "ALO"
	case "IOC":
		return "IOC"
	default:
		return "GTC"
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
