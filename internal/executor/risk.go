package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/swapengine/internal/domain"
	"github.com/alanyoungcy/swapengine/internal/quote"
)

// RiskConfig holds the tunable parameters of the pre-trade token screen.
type RiskConfig struct {
	// MaxScore rejects tokens whose weighted score is above it (0..1).
	MaxScore float64
	// Weights maps audit factor names to their weight. Factors without a
	// weight are ignored.
	Weights  map[string]float64
	CacheTTL time.Duration
	// FailOpen lets swaps proceed when the auditor is unreachable.
	FailOpen bool
}

// RiskGate screens the token a swap acquires using the external audit
// collaborator and configurable factor weights.
type RiskGate struct {
	auditor domain.TokenAuditor
	cache   *quote.TTLCache[domain.RiskReport]
	cfg     RiskConfig
	logger  *slog.Logger
}

// NewRiskGate creates a RiskGate.
func NewRiskGate(auditor domain.TokenAuditor, cfg RiskConfig, logger *slog.Logger) *RiskGate {
	return &RiskGate{
		auditor: auditor,
		cache:   quote.NewTTLCache[domain.RiskReport](cfg.CacheTTL, 1024, nil),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "risk_gate")),
	}
}

// Score is the weighted mean of the report's factors, in [0, 1].
func (g *RiskGate) Score(r domain.RiskReport) float64 {
	var sum, total float64
	names := make([]string, 0, len(g.cfg.Weights))
	for name := range g.cfg.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := g.cfg.Weights[name]
		v, ok := r.Factors[name]
		if !ok || w <= 0 {
			continue
		}
		sum += w * v
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// Check returns an error wrapping domain.ErrRiskRejected when token scores
// above MaxScore.
func (g *RiskGate) Check(ctx context.Context, chainID, token string) error {
	key := domain.PriceKey(chainID, token)
	report, ok := g.cache.Get(key)
	if !ok {
		var err error
		report, err = g.auditor.Audit(ctx, chainID, token)
		if err != nil {
			if g.cfg.FailOpen {
				g.logger.WarnContext(ctx, "audit unavailable, allowing swap",
					slog.String("chain_id", chainID),
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
				return nil
			}
			return fmt.Errorf("risk_gate: audit %s: %w", token, err)
		}
		g.cache.Set(key, report)
	}

	score := g.Score(report)
	if score > g.cfg.MaxScore {
		g.logger.WarnContext(ctx, "token rejected by risk gate",
			slog.String("chain_id", chainID),
			slog.String("token", token),
			slog.Float64("score", score),
			slog.Float64("max_score", g.cfg.MaxScore),
		)
		return fmt.Errorf("%w: %s score %.3f exceeds %.3f", domain.ErrRiskRejected, token, score, g.cfg.MaxScore)
	}
	return nil
}
