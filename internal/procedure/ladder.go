// Package procedure implements the extraction procedures and the
// confidence-gated retry chains they run on.
package procedure

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/resilience"
)

// Fixed confidence bands. A result's confidence is determined by the tier
// that produced it, not by the content.
const (
	Tier1Confidence = 0.95
	Tier2Confidence = 0.80
	Tier3Confidence = 0.70
)

// ErrAllTiersFailed is returned when every tier of a chain failed.
var ErrAllTiersFailed = eris.New("procedure: all extraction tiers failed")

// TierResult is the raw product of one tier attempt.
type TierResult struct {
	Content    string
	Structured map[string]any
}

// Tier is one rung of a retry chain. Tiers run strictly in order; the first
// tier to produce non-empty content wins and assigns its confidence band.
type Tier struct {
	Name       string
	Confidence float64
	Timeout    time.Duration
	Run        func(ctx context.Context) (*TierResult, error)
}

// LadderResult is the outcome of a chain run.
type LadderResult struct {
	Content    string
	Structured map[string]any
	Confidence float64
	TierName   string
	// Warnings records one entry per tier that failed before the winner.
	Warnings []string
}

// RunLadder executes tiers in order until one succeeds. Transient failures
// inside a tier are retried with backoff before the chain escalates to the
// next tier. Returns ErrAllTiersFailed (wrapped) when no tier produced
// content.
func RunLadder(ctx context.Context, fileID string, tiers []Tier) (*LadderResult, error) {
	if len(tiers) == 0 {
		return nil, eris.New("procedure: empty tier chain")
	}

	var warnings []string
	for _, tier := range tiers {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "procedure: chain cancelled")
		}

		tierCtx := ctx
		var cancel context.CancelFunc
		if tier.Timeout > 0 {
			tierCtx, cancel = context.WithTimeout(ctx, tier.Timeout)
		}

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.OnRetry = resilience.RetryLogger("extraction", tier.Name)
		res, err := resilience.DoVal(tierCtx, retryCfg, tier.Run)
		if cancel != nil {
			cancel()
		}

		if err == nil && res != nil && res.Content != "" {
			zap.L().Debug("tier succeeded",
				zap.String("file_id", fileID),
				zap.String("tier", tier.Name),
				zap.Float64("confidence", tier.Confidence),
			)
			return &LadderResult{
				Content:    res.Content,
				Structured: res.Structured,
				Confidence: tier.Confidence,
				TierName:   tier.Name,
				Warnings:   warnings,
			}, nil
		}

		reason := "empty content"
		if err != nil {
			reason = err.Error()
		}
		warnings = append(warnings, tier.Name+": "+reason)
		zap.L().Warn("tier failed, escalating",
			zap.String("file_id", fileID),
			zap.String("tier", tier.Name),
			zap.String("reason", reason),
		)
	}

	return nil, eris.Wrapf(ErrAllTiersFailed, "file %s: %d tiers exhausted", fileID, len(tiers))
}
