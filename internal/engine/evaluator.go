package engine

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

// EvalParams are the sizing and admission parameters for opportunity
// evaluation. All prices are in USD per share.
type EvalParams struct {
	MaxCombinedPrice float64 // admission ceiling on the buffered pair price
	MaxPositionUSD   float64 // cap on TotalCost per market
	MinOrderUSD      float64 // venue minimum per-leg notional
	MaxOrderUSD      float64 // per-leg cap for one execution cycle
	SlippageBuffer   float64 // added to each leg's touch price
}

// DefaultEvalParams mirrors the production configuration.
func DefaultEvalParams() EvalParams {
	return EvalParams{
		MaxCombinedPrice: 0.97,
		MaxPositionUSD:   100,
		MinOrderUSD:      5,
		MaxOrderUSD:      25,
		SlippageBuffer:   0.02,
	}
}

// Evaluate decides whether the current touch prices admit a paired buy and
// sizes it. It is a pure function of its arguments: same prices and position
// in, same opportunity out. Rejections come back as skip-class sentinels
// (ErrNoOpportunity, ErrPositionLimitReached, ErrBelowMinOrder); the caller
// logs them and waits for the next book update.
func Evaluate(p EvalParams, yesAsk, noAsk float64, pos domain.Position) (domain.Opportunity, error) {
	combinedRaw := yesAsk + noAsk
	combinedBuffered := combinedRaw + 2*p.SlippageBuffer
	if combinedBuffered >= p.MaxCombinedPrice {
		return domain.Opportunity{}, fmt.Errorf("engine: combined %.4f ceiling %.4f: %w",
			combinedBuffered, p.MaxCombinedPrice, domain.ErrNoOpportunity)
	}

	remaining := p.MaxPositionUSD - pos.TotalCost
	if remaining <= 0 {
		return domain.Opportunity{}, fmt.Errorf("engine: cost %.2f cap %.2f: %w",
			pos.TotalCost, p.MaxPositionUSD, domain.ErrPositionLimitReached)
	}

	byPosition := remaining / combinedRaw
	byOrderCap := 2 * p.MaxOrderUSD / combinedRaw
	shares := int64(math.Floor(math.Min(byPosition, byOrderCap)))
	if shares <= 0 {
		return domain.Opportunity{}, fmt.Errorf("engine: remaining %.2f too small: %w",
			remaining, domain.ErrPositionLimitReached)
	}

	yesPrice := yesAsk + p.SlippageBuffer
	noPrice := noAsk + p.SlippageBuffer
	if yesPrice*float64(shares) < p.MinOrderUSD || noPrice*float64(shares) < p.MinOrderUSD {
		return domain.Opportunity{}, fmt.Errorf("engine: leg notional under %.2f: %w",
			p.MinOrderUSD, domain.ErrBelowMinOrder)
	}

	return domain.Opportunity{
		YesPrice:    yesPrice,
		NoPrice:     noPrice,
		Shares:      shares,
		CombinedRaw: combinedRaw,
	}, nil
}
