package domain

import "testing"

func TestLoadPolicy_PreservesDeclarationOrder(t *testing.T) {
	yamlData := []byte(`
version: "1"
domains:
  risk:
    weight: 1.0
    allow: ["risk.*.*"]
  perp:
    weight: 2.0
    allow: ["perp.order.*", "perp.cancel.*"]
  account:
    weight: 1.5
    allow: ["account.*.*"]
`)
	p, err := LoadPolicy(yamlData)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	want := []string{"risk", "perp", "account"}
	got := p.Order()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if p.PerActionWindowMs != defaultWindowMs {
		t.Errorf("expected default window, got %d", p.PerActionWindowMs)
	}
}

func TestLoadPolicy_PenaltyFactorDefaultsWhenOmitted(t *testing.T) {
	p, err := LoadPolicy([]byte(`
domains:
  perp:
    weight: 1.0
    allow: ["perp.*.*"]
`))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.PenaltyFactor != defaultPenaltyFactor {
		t.Fatalf("expected default penalty factor %v, got %v", defaultPenaltyFactor, p.PenaltyFactor)
	}
}

func TestLoadPolicy_ExplicitZeroPenaltyFactorIsHonored(t *testing.T) {
	p, err := LoadPolicy([]byte(`
penalty_factor: 0
domains:
  perp:
    weight: 1.0
    allow: ["perp.*.*"]
`))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.PenaltyFactor != 0 {
		t.Fatalf("expected explicit penalty_factor: 0 to be preserved, not defaulted, got %v", p.PenaltyFactor)
	}
}

func TestMatcher_FirstDeclaredDomainWins(t *testing.T) {
	yamlData := []byte(`
domains:
  narrow:
    weight: 5.0
    allow: ["perp.order.*"]
  wide:
    weight: 1.0
    allow: ["*.*.*"]
`)
	p, err := LoadPolicy(yamlData)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	m := NewMatcher(p)

	name, weight, ok := m.Classify("perp.order.GTC:false:none")
	if !ok {
		t.Fatalf("expected match")
	}
	if name != "narrow" || weight != 5.0 {
		t.Fatalf("expected first-declared domain 'narrow' to win, got %q/%v", name, weight)
	}
}

func TestMatcher_SegmentCountMustMatch(t *testing.T) {
	p := DefaultPolicy()
	p.Domains["perp"] = Rule{Weight: 1.0, Allow: []string{"perp.order"}}
	m := NewMatcher(p)

	_, _, ok := m.Classify("perp.order.GTC:false:none")
	if ok {
		t.Fatalf("pattern with fewer segments than signature must not match")
	}
}

func TestMatcher_Unmatched(t *testing.T) {
	p := DefaultPolicy()
	p.Domains["perp"] = Rule{Weight: 1.0, Allow: []string{"perp.order.*"}}
	m := NewMatcher(p)

	_, _, ok := m.Classify("account.usdClassTransfer.toPerp")
	if ok {
		t.Fatalf("expected no match for a signature outside every domain's allow-list")
	}
}

func TestPolicy_HashStableAcrossDeclarationOrderOfDomainMap(t *testing.T) {
	a, _ := LoadPolicy([]byte(`
domains:
  perp:
    weight: 1.0
    allow: ["perp.*.*"]
`))
	b, _ := LoadPolicy([]byte(`
domains:
  perp:
    weight: 1.0
    allow: ["perp.*.*"]
`))
	if a.Hash() != b.Hash() {
		t.Fatalf("identical policies must hash identically")
	}
}
