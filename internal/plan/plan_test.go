package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoad_PlainJSONFile(t *testing.T) {
	path := writeTemp(t, "plan.json", `{"steps":[{"sleep_ms":{"durationMs":50}}]}`)

	p, raw, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if raw == "" {
		t.Fatalf("expected raw content")
	}
	if len(p.Steps) != 1 || p.Steps[0].Kind != StepSleepMs || p.Steps[0].DurationMs != 50 {
		t.Fatalf("unexpected plan: %+v", p)
	}
}

func TestLoad_JSONLSelector(t *testing.T) {
	content := "{\"steps\":[{\"cancel_all\":{}}]}\n{\"steps\":[{\"cancel_last\":{\"coin\":\"ETH\"}}]}\n"
	path := writeTemp(t, "plans.jsonl", content)

	p, _, err := Load(path + ":2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Steps) != 1 || p.Steps[0].Kind != StepCancelLast || p.Steps[0].Coin != "ETH" {
		t.Fatalf("unexpected plan: %+v", p)
	}
}

func TestLoad_JSONLSelectorOutOfRange(t *testing.T) {
	path := writeTemp(t, "plans.jsonl", "{\"steps\":[]}\n")
	if _, _, err := Load(path + ":5"); err == nil {
		t.Fatalf("expected error for out-of-range selector")
	}
}

func TestStep_PerpOrdersRoundTrip(t *testing.T) {
	raw := `{"perp_orders":{"orders":[{"coin":"ETH","side":"buy","sz":"0.01","tif":"ALO","px":"mid-1%"}],"builderCode":"abc"}}`
	var s Step
	if err := jsonUnmarshalStep(raw, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Kind != StepPerpOrders {
		t.Fatalf("expected perp_orders kind, got %v", s.Kind)
	}
	if len(s.Orders) != 1 {
		t.Fatalf("expected 1 order")
	}
	o := s.Orders[0]
	if o.Coin != "ETH" || o.Side != Buy || o.Tif != "ALO" {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.Px.Absolute {
		t.Fatalf("expected mid-relative price")
	}
	if !o.Px.OffsetPct.Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("expected offset -1, got %s", o.Px.OffsetPct)
	}
}

func TestPriceSpec_BareMidIsZeroOffset(t *testing.T) {
	var s Step
	raw := `{"perp_orders":{"orders":[{"coin":"ETH","side":"sell","sz":"1","px":"mid"}]}}`
	if err := jsonUnmarshalStep(raw, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	px := s.Orders[0].Px
	if px.Absolute || !px.OffsetPct.IsZero() {
		t.Fatalf("bare 'mid' should resolve to mid+0%%, got %+v", px)
	}
}

func TestOrder_ValidateRejectsUnknownTrigger(t *testing.T) {
	tp := Trigger{Kind: "tp"}
	o := Order{Coin: "ETH", Side: Buy, Sz: decimal.NewFromInt(1), Trigger: &tp}
	if err := o.Validate(); err == nil {
		t.Fatalf("expected validation error for unsupported trigger kind")
	}
}

func jsonUnmarshalStep(raw string, s *Step) error {
	return s.UnmarshalJSON([]byte(raw))
}
