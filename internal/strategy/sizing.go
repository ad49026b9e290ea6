package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

// layerQuantity is the size of one entry or layer order: a fixed percentage
// of the session's current balance, leveraged, converted to base-asset
// quantity at the current reference price, and rounded down to the venue's
// step size so the order never exceeds the budget that sized it.
func layerQuantity(session *domain.TradeSession, strategy *domain.Strategy, price decimal.Decimal, precision domain.SymbolPrecision) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	notional := moneys.PercentOf(session.CurrentBalance, strategy.PositionSizePercent).
		Mul(decimal.NewFromInt(int64(strategy.Leverage)))
	raw := notional.Div(price)
	return moneys.RoundQuantity(raw, precision.StepSize, precision.QuantityPrecision)
}
