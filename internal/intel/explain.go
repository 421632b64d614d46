package intel

import (
	"fmt"
	"sort"
)

// Score bands for summary and recommendation selection.
const (
	bandMinimal  = 20
	bandLow      = 40
	bandModerate = 60
	bandHigh     = 80
)

// explain builds the human-readable explanation from a composed result.
func explain(res *Result) Explanation {
	score := res.Calculation.FinalScore

	ex := Explanation{
		Summary:         summaryFor(res.Address, res.AddressType, score),
		Recommendations: recommendationsFor(score),
	}

	// Top findings: non-info flags sorted by weight, capped at five.
	flags := allFlags(res)
	ranked := make([]Flag, 0, len(flags))
	for _, f := range flags {
		if f.Severity != SeverityInfo {
			ranked = append(ranked, f)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RiskWeight > ranked[j].RiskWeight
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	for _, f := range ranked {
		ex.KeyFindings = append(ex.KeyFindings,
			fmt.Sprintf("%s: %s (%s)", f.Name, f.Description, f.Evidence))
	}

	for _, f := range flags {
		ex.RiskFactors = append(ex.RiskFactors, f.ID)
	}

	return ex
}

func summaryFor(address string, at AddressType, score int) string {
	switch {
	case score < bandMinimal:
		return fmt.Sprintf("%s %s shows minimal risk indicators (score %d/100).", at, address, score)
	case score < bandLow:
		return fmt.Sprintf("%s %s shows low risk with a few indicators worth noting (score %d/100).", at, address, score)
	case score < bandModerate:
		return fmt.Sprintf("%s %s shows moderate risk; review the findings before interacting (score %d/100).", at, address, score)
	case score < bandHigh:
		return fmt.Sprintf("%s %s shows high risk across multiple analyzers (score %d/100).", at, address, score)
	default:
		return fmt.Sprintf("%s %s shows critical risk; interaction is strongly discouraged (score %d/100).", at, address, score)
	}
}

func recommendationsFor(score int) []string {
	switch {
	case score < bandMinimal:
		return []string{
			"No special precautions required.",
			"Re-check before large transfers.",
		}
	case score < bandLow:
		return []string{
			"Proceed with normal caution.",
			"Verify the counterparty through an independent channel.",
		}
	case score < bandModerate:
		return []string{
			"Limit exposure to small amounts.",
			"Review the key findings before interacting.",
			"Add the address to a watchlist for ongoing monitoring.",
		}
	case score < bandHigh:
		return []string{
			"Avoid transferring funds to this address.",
			"If interaction is unavoidable, use a dedicated wallet with minimal balance.",
			"Monitor the address for further deterioration.",
		}
	default:
		return []string{
			"Do not interact with this address.",
			"Report the address to relevant scam databases.",
			"Warn affected counterparties.",
		}
	}
}
