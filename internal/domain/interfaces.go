package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeClient defines venue-agnostic signed REST operations against the
// perpetual-futures venue. It abstracts away the concrete wire format so the
// strategy engine, position manager, and reconciliation layer depend only on
// this contract rather than on internal/exchange's HTTP details.
type ExchangeClient interface {
	// Account & positions
	GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPositionRisk(ctx context.Context, symbol string) ([]VenuePosition, error)

	// Trading
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*VenueOrderAck, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	GetOpenOrders(ctx context.Context, symbol string) ([]VenueOrderAck, error)

	// Trade/income history (paginated, 7-day windowed)
	GetUserTrades(ctx context.Context, symbol string, startTime, endTime time.Time, limit int) ([]VenueTrade, error)
	GetIncome(ctx context.Context, incomeType string, startTime, endTime time.Time, limit int) ([]VenueIncome, error)

	// Market data
	GetDepth(ctx context.Context, symbol string, limit int) (*VenueDepth, error)
	GetBatchTickerPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	GetOpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]VenueKline, error)
	GetSymbolPrecision(ctx context.Context, symbol string) (SymbolPrecision, error)
}

// VenuePosition mirrors the venue's positionRisk response for one (symbol, side).
type VenuePosition struct {
	Symbol           string
	PositionSide     string // "BOTH" | "LONG" | "SHORT"
	Side             Side   // derived: PositionSide in hedge mode, sign of positionAmt in one-way mode
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	Leverage         int
	UnrealizedProfit decimal.Decimal
}

// PlaceOrderRequest is the venue-agnostic order placement contract.
type PlaceOrderRequest struct {
	Symbol       string
	Side         string // BUY | SELL
	Type         string // MARKET | LIMIT | STOP_MARKET
	Quantity     decimal.Decimal
	Price        *decimal.Decimal
	StopPrice    *decimal.Decimal
	ReduceOnly   bool
	PositionSide string
}

// VenueOrderAck is the venue's acknowledgement of an order action.
type VenueOrderAck struct {
	VenueOrderID string
	Symbol       string
	Side         string
	Status       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	ExecutedQty  decimal.Decimal
}

// VenueTrade mirrors one row of the venue's userTrades response.
type VenueTrade struct {
	VenueTradeID string
	OrderID      string
	Symbol       string
	Side         string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Commission   decimal.Decimal
	Time         time.Time
}

// VenueIncome mirrors one row of the venue's income response.
type VenueIncome struct {
	VenueID string
	Symbol  string
	Type    string
	Income  decimal.Decimal
	Time    time.Time
}

// VenueDepth is an order-book depth snapshot (used only for price-chase reference).
type VenueDepth struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// PriceLevel is one order-book price/quantity pair.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// VenueKline is one OHLCV candle, used by the adaptive ATR stop-loss rule.
type VenueKline struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// SymbolPrecision carries the venue's quantity/price rounding rules for a symbol.
type SymbolPrecision struct {
	Symbol            string
	QuantityPrecision int32
	PricePrecision    int32
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
}

// StreamEventHandler receives decoded venue stream events. Defined as an
// interface so the transport layer and the ingress/position-manager
// consumers share one typed contract; see internal/events for the
// tagged-variant message shape itself.
type StreamEventHandler interface {
	HandleForceOrder(evt ForceOrderFrame)
	HandleUserTradeUpdate(evt UserTradeFrame)
	HandleAccountUpdate(evt AccountUpdateFrame)
}

// ForceOrderFrame is the raw venue forceOrder stream frame, pre side-inversion.
type ForceOrderFrame struct {
	VenueEventID   string
	Symbol         string
	ExchangeSide   string // BUY | SELL, as reported by the venue (the offsetting order)
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	VenueTimestamp time.Time
}

// UserTradeFrame is a user-data stream fill notification.
type UserTradeFrame struct {
	VenueTradeID string
	VenueOrderID string
	Symbol       string
	Side         string
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Commission   decimal.Decimal
	VenueTimestamp time.Time
}

// AccountUpdateFrame is a user-data stream account/position update notification.
type AccountUpdateFrame struct {
	Symbol         string
	PositionSide   string
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	VenueTimestamp time.Time
}
