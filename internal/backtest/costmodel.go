package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// SlippageModel adjusts a quoted price into a filled price. Slippage
// always moves the price against the trader: up for buys, down for sells.
type SlippageModel interface {
	FilledPrice(price, quantity decimal.Decimal, side types.Side, barVolume decimal.Decimal) decimal.Decimal
}

// FixedSlippage shifts the price by an absolute offset.
type FixedSlippage struct {
	Offset decimal.Decimal
}

func (f FixedSlippage) FilledPrice(price, _ decimal.Decimal, side types.Side, _ decimal.Decimal) decimal.Decimal {
	return applyAdverse(price, f.Offset, side)
}

// PercentSlippage shifts the price by a fraction of itself.
type PercentSlippage struct {
	Percent decimal.Decimal
}

func (p PercentSlippage) FilledPrice(price, _ decimal.Decimal, side types.Side, _ decimal.Decimal) decimal.Decimal {
	return applyAdverse(price, price.Mul(p.Percent), side)
}

// VolumeImpactSlippage adds participation-driven impact on top of a base
// percentage: rate = base + impactFactor * quantity / barVolume. A zero
// bar volume falls back to the base rate rather than dividing by zero.
type VolumeImpactSlippage struct {
	BasePercent  decimal.Decimal
	ImpactFactor decimal.Decimal
}

func (v VolumeImpactSlippage) FilledPrice(price, quantity decimal.Decimal, side types.Side, barVolume decimal.Decimal) decimal.Decimal {
	rate := v.BasePercent
	if barVolume.IsPositive() {
		rate = rate.Add(v.ImpactFactor.Mul(quantity.Div(barVolume)))
	}
	return applyAdverse(price, price.Mul(rate), side)
}

func applyAdverse(price, offset decimal.Decimal, side types.Side) decimal.Decimal {
	if side == types.SideBuy {
		return price.Add(offset)
	}
	return price.Sub(offset)
}

// FeeSchedule holds the commission rates of one exchange.
type FeeSchedule struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
	Min   decimal.Decimal
}

// exchangeFees is the named fee table. Rates are fractions of notional.
var exchangeFees = map[string]FeeSchedule{
	"binance":  {Maker: decimal.NewFromFloat(0.0002), Taker: decimal.NewFromFloat(0.0004)},
	"coinbase": {Maker: decimal.NewFromFloat(0.004), Taker: decimal.NewFromFloat(0.006)},
	"kraken":   {Maker: decimal.NewFromFloat(0.0016), Taker: decimal.NewFromFloat(0.0026)},
}

// FeesFor resolves a named exchange fee table; unknown names get a
// zero-fee schedule so overrides in FeeConfig still apply cleanly.
func FeesFor(exchange string) FeeSchedule {
	if fs, ok := exchangeFees[exchange]; ok {
		return fs
	}
	return FeeSchedule{}
}

// CostModel converts a requested (price, quantity, side) into a filled
// price and commission. It is stateless.
type CostModel struct {
	slippage SlippageModel
	fees     FeeSchedule
	taker    bool
}

// NewCostModel builds a cost model from run configuration. An explicit
// fee rate overrides both sides of the exchange table.
func NewCostModel(slip types.SlippageConfig, fees types.FeeConfig) *CostModel {
	var model SlippageModel
	switch slip.Model {
	case "fixed":
		model = FixedSlippage{Offset: slip.FixedOffset}
	case "volume_impact":
		model = VolumeImpactSlippage{BasePercent: slip.Percent, ImpactFactor: slip.ImpactFactor}
	default:
		model = PercentSlippage{Percent: slip.Percent}
	}

	schedule := FeesFor(fees.Exchange)
	if !fees.Rate.IsZero() {
		schedule.Maker = fees.Rate
		schedule.Taker = fees.Rate
	}
	if !fees.MinCommission.IsZero() {
		schedule.Min = fees.MinCommission
	}

	return &CostModel{slippage: model, fees: schedule, taker: fees.Taker}
}

// Apply returns the filled price and commission for a requested fill.
// Commission is charged on the filled price, not the quoted one, and is
// floored at the schedule minimum.
func (c *CostModel) Apply(price, quantity decimal.Decimal, side types.Side, barVolume decimal.Decimal) (filled, commission decimal.Decimal) {
	filled = c.slippage.FilledPrice(price, quantity, side, barVolume)

	rate := c.fees.Maker
	if c.taker {
		rate = c.fees.Taker
	}
	commission = filled.Mul(quantity).Mul(rate)
	if commission.LessThan(c.fees.Min) && rate.IsPositive() {
		commission = c.fees.Min
	}
	return filled, commission
}
