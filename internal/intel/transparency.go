package intel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/reposearch"
)

// Transparency analyzer condition weights.
const (
	weightAnonymousContract   = 20
	weightNoPublicRepo        = 25
	weightLowCommunityTrust   = 10
	weightSingleMaintainer    = 15
	weightStaleRepository     = 10
	weightSparseDocumentation = 5

	transparencyFallbackScore = 10

	staleRepoAge   = 180 * 24 * time.Hour
	minReadmeBytes = 500
)

// TransparencyAnalyzer measures how publicly accountable a project is.
type TransparencyAnalyzer struct {
	repos  RepoSearcher
	logger *slog.Logger
}

// NewTransparencyAnalyzer creates a transparency analyzer.
func NewTransparencyAnalyzer(repos RepoSearcher, logger *slog.Logger) *TransparencyAnalyzer {
	return &TransparencyAnalyzer{repos: repos, logger: logger}
}

// Analyze scores transparency risk using context from phase 1 (contract name
// or token symbol). Provider failures degrade to a fallback score; this
// method never returns an error.
func (a *TransparencyAnalyzer) Analyze(ctx context.Context, address string, tc TransparencyContext) TransparencyResult {
	query := tc.ContractName
	if query == "" {
		query = tc.TokenSymbol
	}

	res := TransparencyResult{}
	if query == "" {
		res.Flags = append(res.Flags, Flag{
			ID:          "anonymous_contract",
			Name:        "No public identity",
			Severity:    SeverityMedium,
			Description: "No contract name or token symbol to trace to a project.",
			Evidence:    fmt.Sprintf("no name context for %s", address),
			Category:    "transparency",
			RiskWeight:  weightAnonymousContract,
		})
		res.Score = clampScore(weightAnonymousContract)
		return res
	}

	repo, err := a.repos.Search(ctx, query)
	if err != nil {
		if errors.Is(err, reposearch.ErrNoRepo) {
			res.Flags = append(res.Flags, Flag{
				ID:          "no_public_repo",
				Name:        "No public repository",
				Severity:    SeverityMedium,
				Description: "No public source repository found for the project.",
				Evidence:    fmt.Sprintf("search %q returned no results", query),
				Category:    "transparency",
				RiskWeight:  weightNoPublicRepo,
			})
			res.Score = clampScore(weightNoPublicRepo)
			return res
		}

		a.logger.Warn("transparency analysis degraded", "address", address, "error", err)
		metrics.AnalyzerFailuresTotal.WithLabelValues("transparency").Inc()
		return TransparencyResult{
			Flags: []Flag{{
				ID:          "analysis_error",
				Name:        "Transparency analysis unavailable",
				Severity:    SeverityLow,
				Description: "Repository search failed; transparency is unknown.",
				Evidence:    err.Error(),
				Category:    "transparency",
				RiskWeight:  transparencyFallbackScore,
			}},
			Score: transparencyFallbackScore,
		}
	}

	res.RepoFound = true
	res.RepoName = repo.FullName
	score := 0

	if repo.Stars < 5 {
		res.Flags = append(res.Flags, Flag{
			ID:          "low_community_trust",
			Name:        "Low community trust",
			Severity:    SeverityLow,
			Description: "Repository has almost no community following.",
			Evidence:    fmt.Sprintf("%d stars on %s", repo.Stars, repo.FullName),
			Source:      repo.FullName,
			Category:    "transparency",
			RiskWeight:  weightLowCommunityTrust,
		})
		score += weightLowCommunityTrust
	}

	if repo.Contributors <= 1 {
		res.Flags = append(res.Flags, Flag{
			ID:          "single_maintainer",
			Name:        "Single maintainer",
			Severity:    SeverityMedium,
			Description: "Project is maintained by a single account.",
			Evidence:    fmt.Sprintf("%d contributors", repo.Contributors),
			Source:      repo.FullName,
			Category:    "transparency",
			RiskWeight:  weightSingleMaintainer,
		})
		score += weightSingleMaintainer
	}

	if !repo.PushedAt.IsZero() && time.Since(repo.PushedAt) > staleRepoAge {
		res.Flags = append(res.Flags, Flag{
			ID:          "stale_repository",
			Name:        "Stale repository",
			Severity:    SeverityLow,
			Description: "No development activity for an extended period.",
			Evidence:    fmt.Sprintf("last push %s", repo.PushedAt.Format(time.RFC3339)),
			Source:      repo.FullName,
			Category:    "transparency",
			RiskWeight:  weightStaleRepository,
		})
		score += weightStaleRepository
	}

	if repo.ReadmeBytes < minReadmeBytes {
		res.Flags = append(res.Flags, Flag{
			ID:          "sparse_documentation",
			Name:        "Sparse documentation",
			Severity:    SeverityInfo,
			Description: "Project README is missing or minimal.",
			Evidence:    fmt.Sprintf("README is %d bytes", repo.ReadmeBytes),
			Source:      repo.FullName,
			Category:    "transparency",
			RiskWeight:  weightSparseDocumentation,
		})
		score += weightSparseDocumentation
	}

	res.Score = clampScore(score)
	return res
}
