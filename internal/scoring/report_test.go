package scoring

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sigridjineth/hlbench/internal/domain"
)

func policyFixture(t *testing.T) domain.Policy {
	t.Helper()
	p, err := domain.LoadPolicy([]byte(`
per_signature_cap: 2
domains:
  perp:
    weight: 1.0
    allow: ["perp.*.*"]
  account:
    weight: 2.0
    allow: ["account.*.*"]
`))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	return p
}

func TestScore_BaseCountsUniqueSignaturesPerDomain(t *testing.T) {
	input := strings.Join([]string{
		`{"stepIdx":0,"action":"perp_orders","submitTsMs":1000,"windowKeyMs":1000,"request":{"orders":[{"coin":"ETH","tif":"GTC","reduceOnly":false}]},"ack":{"status":"ok","data":{"statuses":[{"kind":"resting","oid":1}]}}}`,
		`{"stepIdx":1,"action":"perp_orders","submitTsMs":1010,"windowKeyMs":1000,"request":{"orders":[{"coin":"ETH","tif":"GTC","reduceOnly":false}]},"ack":{"status":"ok","data":{"statuses":[{"kind":"resting","oid":2}]}}}`,
	}, "\n")

	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(input), &evalOut, Options{Policy: policyFixture(t), BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(report.UniqueSignatures) != 1 {
		t.Fatalf("expected 1 unique signature (identical repeats), got %v", report.UniqueSignatures)
	}
	if report.Base != 1.0 {
		t.Fatalf("expected base 1.0 (perp weight 1.0 * 1 unique), got %v", report.Base)
	}
	if strings.Count(evalOut.String(), "\n") != 2 {
		t.Fatalf("expected one eval record per input line")
	}
}

func TestScore_BonusRewardsMultipleDistinctSignaturesInSameWindow(t *testing.T) {
	input := strings.Join([]string{
		`{"stepIdx":0,"action":"perp_orders","submitTsMs":1000,"windowKeyMs":1000,"request":{"orders":[{"coin":"ETH","tif":"GTC","reduceOnly":false}]},"ack":{"status":"ok","data":{"statuses":[{"kind":"resting","oid":1}]}}}`,
		`{"stepIdx":1,"action":"perp_orders","submitTsMs":1010,"windowKeyMs":1000,"request":{"orders":[{"coin":"ETH","tif":"IOC","reduceOnly":false}]},"ack":{"status":"ok","data":{"statuses":[{"kind":"resting","oid":2}]}}}`,
	}, "\n")

	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(input), &evalOut, Options{Policy: policyFixture(t), BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.Bonus != 0.25 {
		t.Fatalf("expected bonus 0.25 for a second distinct signature in the same window, got %v", report.Bonus)
	}
}

func TestScore_PenaltyChargesOverCapOccurrences(t *testing.T) {
	var lines []string
	for i := 0; i < 4; i++ {
		lines = append(lines, `{"stepIdx":0,"action":"cancel_all","submitTsMs":1000,"windowKeyMs":1000,"ack":{"status":"ok"}}`)
	}
	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(strings.Join(lines, "\n")), &evalOut, Options{Policy: policyFixture(t), BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// cap is 2; 4 occurrences of the same signature => 2 over cap.
	if report.Penalty != 0.2 {
		t.Fatalf("expected penalty 0.2, got %v", report.Penalty)
	}
	if report.PerSignatureCounts["perp.cancel.all"] != 4 {
		t.Fatalf("expected global count of 4, got %v", report.PerSignatureCounts)
	}
}

func TestScore_ZeroPenaltyFactorReproducesInitialReleaseBehavior(t *testing.T) {
	p, err := domain.LoadPolicy([]byte(`
per_signature_cap: 2
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
		t.Fatalf("expected explicit penalty_factor: 0 to be honored, got %v", p.PenaltyFactor)
	}

	var lines []string
	for i := 0; i < 4; i++ {
		lines = append(lines, `{"stepIdx":0,"action":"cancel_all","submitTsMs":1000,"windowKeyMs":1000,"ack":{"status":"ok"}}`)
	}
	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(strings.Join(lines, "\n")), &evalOut, Options{Policy: p, BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.Penalty != 0 {
		t.Fatalf("expected zero penalty with penalty_factor: 0, got %v", report.Penalty)
	}
}

func TestScore_NoopRecordsSkipped(t *testing.T) {
	input := `{"stepIdx":0,"action":"perp_orders","submitTsMs":1000,"windowKeyMs":1000,"request":{"orders":[]}}`
	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(input), &evalOut, Options{Policy: policyFixture(t), BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.Base != 0 || len(report.UniqueSignatures) != 0 {
		t.Fatalf("expected no-op record to contribute nothing, got base=%v sigs=%v", report.Base, report.UniqueSignatures)
	}
	if !strings.Contains(evalOut.String(), `"isNoop":true`) {
		t.Fatalf("expected eval record to flag the no-op")
	}
}

func TestScore_UnmatchedSignatureRecordedAsUnmappedNotError(t *testing.T) {
	p, err := domain.LoadPolicy([]byte(`
domains:
  perp:
    weight: 1.0
    allow: ["perp.order.*"]
`))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	input := `{"stepIdx":0,"action":"set_leverage","submitTsMs":1000,"windowKeyMs":1000,"request":{"coin":"ETH"},"ack":{"status":"ok"}}`
	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(input), &evalOut, Options{Policy: p, BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.Base != 0 {
		t.Fatalf("expected unmatched signature to contribute no base score")
	}
	if len(report.Metadata.UnmappedSignatures) != 1 || report.Metadata.UnmappedSignatures[0] != "risk.setLeverage.ETH" {
		t.Fatalf("expected the signature to be recorded as unmapped, got %v", report.Metadata.UnmappedSignatures)
	}
}

func TestScore_MalformedLineCountsAsNormalizationError(t *testing.T) {
	input := "not-json\n" + `{"stepIdx":0,"action":"cancel_all","submitTsMs":1000,"windowKeyMs":1000,"ack":{"status":"ok"}}`
	var evalOut bytes.Buffer
	report, err := Score(strings.NewReader(input), &evalOut, Options{Policy: policyFixture(t), BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if report.Metadata.NormalizationErrors != 1 {
		t.Fatalf("expected 1 normalization error, got %d", report.Metadata.NormalizationErrors)
	}
}

func TestScore_WindowOverrideRecomputesWindowKey(t *testing.T) {
	input := `{"stepIdx":0,"action":"cancel_all","submitTsMs":1450,"windowKeyMs":1000,"ack":{"status":"ok"}}`
	var evalOut bytes.Buffer
	_, err := Score(strings.NewReader(input), &evalOut, Options{Policy: policyFixture(t), WindowMsOverride: 500, BenchVersion: "test"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !strings.Contains(evalOut.String(), `"windowKeyMs":1000`) {
		t.Fatalf("expected recomputed window key floor(1450/500)*500=1000, got %s", evalOut.String())
	}
}
