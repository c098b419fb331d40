package engine

import (
	"fmt"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// RiskLimits holds the time-indexed imbalance schedule. Early in a market's
// life partial fills are expected while the pair is still building, so the
// allowed ratio starts wide and tightens as the market ages.
type RiskLimits struct {
	BootstrapMinutes float64 // window below which BootstrapRatio applies
	RampMinutes      float64 // window below which RampRatio applies
	BootstrapRatio   float64
	RampRatio        float64
	SteadyRatio      float64
}

// DefaultRiskLimits mirrors the production schedule: 12x under one minute,
// 3x until two minutes, then 1.3x for the rest of the market's life.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		BootstrapMinutes: 1.0,
		RampMinutes:      2.0,
		BootstrapRatio:   12.0,
		RampRatio:        3.0,
		SteadyRatio:      1.3,
	}
}

// RiskGate decides whether buying on a side would leave the position too
// lopsided for the market's age.
type RiskGate struct {
	limits RiskLimits
}

// NewRiskGate creates a gate with the given schedule.
func NewRiskGate(limits RiskLimits) *RiskGate {
	return &RiskGate{limits: limits}
}

// MaxRatio returns the imbalance ceiling for a market at the given age in
// minutes. The window boundaries belong to the later window: at exactly
// BootstrapMinutes the ramp ratio applies, at exactly RampMinutes the steady
// ratio applies.
func (g *RiskGate) MaxRatio(minutes float64) float64 {
	switch {
	case minutes < g.limits.BootstrapMinutes:
		return g.limits.BootstrapRatio
	case minutes < g.limits.RampMinutes:
		return g.limits.RampRatio
	default:
		return g.limits.SteadyRatio
	}
}

// CanBuy reports whether a buy on side is admissible for the position at the
// market's current age. When the opposite side holds nothing the buy is
// always permitted; a position cannot be rebalanced by refusing its first
// legs. Otherwise the held shares on side must not exceed the opposite side
// times the window's ratio.
func (g *RiskGate) CanBuy(pos domain.Position, side domain.Side, minutes float64) error {
	opp := pos.SharesOf(side.Opposite())
	if opp == 0 {
		return nil
	}
	ratio := g.MaxRatio(minutes)
	if float64(pos.SharesOf(side)) > float64(opp)*ratio {
		return fmt.Errorf("engine: risk %s ratio %.2f limit %.2f: %w",
			side, pos.ImbalanceRatio(), ratio, domain.ErrImbalanceRejected)
	}
	return nil
}

// CanBuyPair checks both legs of a paired buy. Both must pass.
func (g *RiskGate) CanBuyPair(pos domain.Position, minutes float64) error {
	if err := g.CanBuy(pos, domain.SideYes, minutes); err != nil {
		return err
	}
	return g.CanBuy(pos, domain.SideNo, minutes)
}
