// Package decision maps a risk score and a caller threshold to an
// allow/warn/block decision. It is pure: no state, no I/O, identical inputs
// always produce identical output (timestamps aside).
package decision

import (
	"fmt"
	"time"
)

// Level is the decision severity.
type Level string

const (
	LevelAllow Level = "ALLOW"
	LevelWarn  Level = "WARN"
	LevelBlock Level = "BLOCK"
)

// Confidence expresses how far the score sits from the caller's threshold.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Level boundaries. The level depends on the score alone; the threshold only
// shapes confidence and reasoning.
const (
	allowBelow = 30
	warnBelow  = 60
)

// Confidence distance cutoffs on |score - threshold|.
const (
	highConfidenceDistance   = 30
	mediumConfidenceDistance = 15
)

// Decision is the derived verdict for one (score, threshold) pair.
type Decision struct {
	Level      Level      `json:"level"`
	Allowed    bool       `json:"allowed"`
	Confidence Confidence `json:"confidence"`
	RiskScore  int        `json:"riskScore"`
	Reasoning  string     `json:"reasoning"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Decide evaluates a risk score against a threshold. Both inputs are clamped
// to [0,100] before use.
func Decide(score, threshold int) Decision {
	score = clamp(score)
	threshold = clamp(threshold)

	level := LevelBlock
	switch {
	case score < allowBelow:
		level = LevelAllow
	case score < warnBelow:
		level = LevelWarn
	}

	distance := score - threshold
	if distance < 0 {
		distance = -distance
	}
	confidence := ConfidenceLow
	switch {
	case distance > highConfidenceDistance:
		confidence = ConfidenceHigh
	case distance > mediumConfidenceDistance:
		confidence = ConfidenceMedium
	}

	return Decision{
		Level:      level,
		Allowed:    level != LevelBlock,
		Confidence: confidence,
		RiskScore:  score,
		Reasoning:  reasoning(level, score, threshold),
		Timestamp:  time.Now().UTC(),
	}
}

func reasoning(level Level, score, threshold int) string {
	switch level {
	case LevelAllow:
		return fmt.Sprintf("risk score %d is well below concerning levels (threshold %d)", score, threshold)
	case LevelWarn:
		return fmt.Sprintf("risk score %d warrants caution relative to threshold %d", score, threshold)
	default:
		return fmt.Sprintf("risk score %d exceeds acceptable levels (threshold %d)", score, threshold)
	}
}

// RecommendedAction is a short imperative derived from the level, used by the
// request-gate response.
func RecommendedAction(level Level) string {
	switch level {
	case LevelAllow:
		return "proceed"
	case LevelWarn:
		return "proceed with caution"
	default:
		return "do not interact"
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
