// Package domain classifies canonical signatures into weighted domains via
// segment-wildcard patterns, and loads the domain policy that drives the
// Scoring Engine.
//
// Grounded on spec.md §4.2 for the matching algorithm; the policy file
// shape follows the teacher's internal/config/config.go viper idiom, since
// a domain policy is itself small human-edited configuration.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sigridjineth/hlbench/internal/pkg/apperrors"
)

// Rule is one named, weighted collection of allow-patterns.
type Rule struct {
	Weight float64  `yaml:"weight" json:"weight"`
	Allow  []string `yaml:"allow" json:"allow"`
}

// Policy is the domain policy of spec.md §3: an ordered set of named rules
// plus the scoring knobs that ride along with it.
type Policy struct {
	Version           string           `yaml:"version" json:"version"`
	PerActionWindowMs int64            `yaml:"per_action_window_ms" json:"perActionWindowMs"`
	PerSignatureCap   uint32           `yaml:"per_signature_cap" json:"perSignatureCap"`
	PenaltyFactor     float64          `yaml:"penalty_factor" json:"penaltyFactor"`
	Domains           map[string]Rule  `yaml:"domains" json:"domains"`
	order             []string         // declaration order, since map iteration is unordered
}

const (
	defaultWindowMs      = 200
	defaultCap           = 3
	defaultPenaltyFactor = 0.1
)

// DefaultPolicy returns the single-domain "perp" policy used throughout
// spec.md's worked examples. Every canonical signature (perp.order.*,
// perp.cancel.*, account.usdClassTransfer.*, risk.setLeverage.*) has
// exactly three dot-segments, since the signature grammar's third segment
// joins TIF/reduce_only/trigger (or a coin, or a direction) with colons
// rather than further dots.
func DefaultPolicy() Policy {
	return Policy{
		Version:           "1",
		PerActionWindowMs: defaultWindowMs,
		PerSignatureCap:   defaultCap,
		PenaltyFactor:     defaultPenaltyFactor,
		Domains: map[string]Rule{
			"perp": {Weight: 1.0, Allow: []string{"*.*.*"}},
		},
		order: []string{"perp"},
	}
}

// LoadPolicy reads a YAML domain policy file, applying the documented
// defaults (window 200ms, cap 3, penalty factor 0.1) for any field the file
// omits. Declaration order is recovered from a raw yaml.Node pass, since
// Go's map has no inherent order and first-match-wins domain classification
// depends on it (spec §4.2).
func LoadPolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, apperrors.NewPolicyError("parse domain policy", err)
	}
	if p.PerActionWindowMs == 0 {
		p.PerActionWindowMs = defaultWindowMs
	}
	if p.PerSignatureCap == 0 {
		p.PerSignatureCap = defaultCap
	}

	var raw struct {
		PenaltyFactor *float64  `yaml:"penalty_factor"`
		Domains       yaml.Node `yaml:"domains"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, apperrors.NewPolicyError("parse domain policy order", err)
	}
	// penalty_factor's zero value is a valid, explicit setting (the
	// documented initial-release behavior), so presence in the file is
	// checked via a *float64 rather than yaml.Unmarshal's zero-value
	// defaulting used for the other fields above.
	if raw.PenaltyFactor != nil {
		p.PenaltyFactor = *raw.PenaltyFactor
	} else {
		p.PenaltyFactor = defaultPenaltyFactor
	}
	order := make([]string, 0, len(p.Domains))
	for i := 0; i+1 < len(raw.Domains.Content); i += 2 {
		order = append(order, raw.Domains.Content[i].Value)
	}
	p.order = order
	return p, nil
}

// Order returns domain names in declaration order.
func (p Policy) Order() []string { return p.order }

// Hash returns a stable content hash of the policy, embedded in every Score
// Report so that two reports produced under the same hash are comparable.
func (p Policy) Hash() string {
	// Marshal domains in declaration order for a deterministic digest.
	type orderedDomain struct {
		Name   string   `json:"name"`
		Weight float64  `json:"weight"`
		Allow  []string `json:"allow"`
	}
	ordered := make([]orderedDomain, 0, len(p.order))
	for _, name := range p.order {
		r := p.Domains[name]
		ordered = append(ordered, orderedDomain{Name: name, Weight: r.Weight, Allow: r.Allow})
	}
	payload, _ := json.Marshal(struct {
		Version           string          `json:"version"`
		PerActionWindowMs int64           `json:"perActionWindowMs"`
		PerSignatureCap   uint32          `json:"perSignatureCap"`
		PenaltyFactor     float64         `json:"penaltyFactor"`
		Domains           []orderedDomain `json:"domains"`
	}{p.Version, p.PerActionWindowMs, p.PerSignatureCap, p.PenaltyFactor, ordered})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Matcher classifies signatures against a Policy's rules.
type Matcher struct {
	policy Policy
}

// NewMatcher builds a Matcher over the given policy.
func NewMatcher(p Policy) *Matcher {
	return &Matcher{policy: p}
}

// Classify returns the first domain (in declaration order) whose allow-list
// contains a pattern matching sig, and that domain's weight. ok is false if
// no domain matches.
func (m *Matcher) Classify(sig string) (name string, weight float64, ok bool) {
	sigSegs := strings.Split(sig, ".")
	for _, name := range m.policy.order {
		rule := m.policy.Domains[name]
		for _, pattern := range rule.Allow {
			if matchPattern(pattern, sigSegs) {
				return name, rule.Weight, true
			}
		}
	}
	return "", 0, false
}

func matchPattern(pattern string, sigSegs []string) bool {
	patSegs := strings.Split(pattern, ".")
	if len(patSegs) != len(sigSegs) {
		return false
	}
	for i, p := range patSegs {
		if p == "*" {
			continue
		}
		if p != sigSegs[i] {
			return false
		}
	}
	return true
}
