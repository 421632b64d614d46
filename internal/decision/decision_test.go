package decision

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelIndependentOfThreshold(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{0, LevelAllow},
		{29, LevelAllow},
		{30, LevelWarn},
		{59, LevelWarn},
		{60, LevelBlock},
		{100, LevelBlock},
	}
	for _, tc := range cases {
		for _, threshold := range []int{0, 25, 50, 75, 100} {
			d := Decide(tc.score, threshold)
			if d.Level != tc.want {
				t.Errorf("Decide(%d, %d).Level = %s, want %s", tc.score, threshold, d.Level, tc.want)
			}
			if d.Allowed != (tc.want != LevelBlock) {
				t.Errorf("Decide(%d, %d).Allowed = %v for level %s", tc.score, threshold, d.Allowed, d.Level)
			}
		}
	}
}

func TestConfidenceBands(t *testing.T) {
	cases := []struct {
		score, threshold int
		want             Confidence
	}{
		{100, 50, ConfidenceHigh},   // distance 50
		{81, 50, ConfidenceHigh},    // distance 31
		{80, 50, ConfidenceMedium},  // distance 30
		{66, 50, ConfidenceMedium},  // distance 16
		{65, 50, ConfidenceLow},     // distance 15
		{50, 50, ConfidenceLow},     // distance 0
		{20, 70, ConfidenceHigh},    // distance below threshold counts too
	}
	for _, tc := range cases {
		d := Decide(tc.score, tc.threshold)
		if d.Confidence != tc.want {
			t.Errorf("Decide(%d, %d).Confidence = %s, want %s", tc.score, tc.threshold, d.Confidence, tc.want)
		}
	}
}

func TestInputsClamped(t *testing.T) {
	d := Decide(150, -10)
	if d.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want clamped 100", d.RiskScore)
	}
	if d.Level != LevelBlock {
		t.Errorf("Level = %s, want BLOCK", d.Level)
	}
	// distance |100 - 0| = 100
	if d.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %s, want high", d.Confidence)
	}
}

func TestDeterministic(t *testing.T) {
	a := Decide(42, 60)
	b := Decide(42, 60)
	if a.Level != b.Level || a.Confidence != b.Confidence || a.Reasoning != b.Reasoning {
		t.Errorf("identical inputs produced different decisions: %+v vs %+v", a, b)
	}
}

func TestRecommendedAction(t *testing.T) {
	if got := RecommendedAction(LevelAllow); got != "proceed" {
		t.Errorf("allow action = %q", got)
	}
	if got := RecommendedAction(LevelBlock); got != "do not interact" {
		t.Errorf("block action = %q", got)
	}
}

func TestDecisionJSONFieldNames(t *testing.T) {
	raw, err := json.Marshal(Decide(85, 60))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"riskScore":85`) {
		t.Errorf("expected riskScore field, got %s", raw)
	}
	if strings.Contains(string(raw), "risk_score") {
		t.Errorf("unexpected snake_case field: %s", raw)
	}
}
