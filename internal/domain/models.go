// Package domain provides core domain models and types for the liquidation
// counter-trading engine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is a position or liquidation direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the counter-trade direction for a liquidated side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// EntryOrderSide is the venue order side that increases exposure on a
// position of this direction: buy grows a long, sell grows a short.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// ExitOrderSide is the venue order side that reduces exposure on a position
// of this direction — the side a protective order submits.
func (s Side) ExitOrderSide() OrderSide {
	if s == SideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderSide is the venue order side (buy/sell), distinct from position Side.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// MarginMode is the venue account margin mode.
type MarginMode string

const (
	MarginModeIsolated MarginMode = "isolated"
	MarginModeCross    MarginMode = "cross"
)

// OrderType is the execution policy for entries and layers.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the lifecycle of a venue order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// ProtectiveKind distinguishes the two legs of a protective-order pair.
type ProtectiveKind string

const (
	ProtectiveTakeProfit ProtectiveKind = "take_profit"
	ProtectiveStopLoss   ProtectiveKind = "stop_loss"
)

// Liquidation is an immutable forced-liquidation event reported by the venue.
// VenueEventID is the venue's event identifier and is globally unique across
// the log; ID is the local row id.
type Liquidation struct {
	ID              int64
	VenueEventID    string
	Symbol          string
	LiquidatedSide  Side
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	Notional        decimal.Decimal
	VenueTimestamp  time.Time
	IngestTimestamp time.Time
}

// Strategy is the single mutable trading configuration.
type Strategy struct {
	ID                        int64
	SelectedAssets            []string
	PercentileThreshold       decimal.Decimal
	MaxLayers                 int
	PositionSizePercent       decimal.Decimal
	ProfitTargetPercent       decimal.Decimal
	StopLossPercent           decimal.Decimal
	UseAdaptiveATR            bool
	ATRMultiplier             decimal.Decimal
	Leverage                  int
	MarginMode                MarginMode
	HedgeMode                 bool
	OrderType                 OrderType
	SlippageTolerancePercent  decimal.Decimal
	MaxRetryDurationMs        int64
	OrderDelayMs              int64
	LayerDelaySeconds         int64
	RETHighThreshold          decimal.Decimal
	RETMediumThreshold        decimal.Decimal
	RiskLevel                 int
	MaxPortfolioRiskDollars   decimal.Decimal
	MaxPortfolioSymbolCount   int
	CascadeTickIntervalSecond int64
	CascadeAutoBlockEnabled   bool
	Paused                    bool
	IsActive                  bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// LayerDelayDuration is the minimum spacing between same (symbol,side) fills.
func (s *Strategy) LayerDelayDuration() time.Duration {
	return time.Duration(s.LayerDelaySeconds) * time.Second
}

// TradeSession is the single active session owning positions/orders/fills for a strategy.
type TradeSession struct {
	ID              int64
	StrategyID      int64
	StartingBalance decimal.Decimal
	CurrentBalance  decimal.Decimal
	RunningPnL      decimal.Decimal
	TradeCount      int
	WinCount        int
	LossCount       int
	StartedAt       time.Time
	EndedAt         *time.Time
	IsActive        bool
}

// Position is a materialized view of one directional exposure on (session, symbol, side).
type Position struct {
	ID                  int64
	SessionID           int64
	Symbol              string
	Side                Side
	Quantity            decimal.Decimal
	AverageEntryPrice   decimal.Decimal
	TotalCost           decimal.Decimal
	Leverage            int
	LayersFilled        int
	MaxLayers           int
	ReservedRiskDollars decimal.Decimal
	RealizedPnL         *decimal.Decimal
	UnrealizedPnL       decimal.Decimal
	OpenedAt            time.Time
	ClosedAt            *time.Time
	IsOpen              bool
}

// PositionKey uniquely identifies a position slot (session, symbol, side).
type PositionKey struct {
	SessionID int64
	Symbol    string
	Side      Side
}

// Key returns the PositionKey for this position.
func (p *Position) Key() PositionKey {
	return PositionKey{SessionID: p.SessionID, Symbol: p.Symbol, Side: p.Side}
}

// Order is a venue order tracked across its lifecycle.
type Order struct {
	ID             int64
	VenueOrderID   string
	SessionID      int64
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Price          *decimal.Decimal
	Quantity       decimal.Decimal
	Status         OrderStatus
	ReduceOnly     bool
	ProtectiveKind *ProtectiveKind
	Layer          int
	PositionID     *int64
	CreatedAt      time.Time
	FilledAt       *time.Time
}

// Fill is an immutable venue trade execution. (VenueTradeID, SessionID) is unique —
// the enforcement point for fill idempotency.
type Fill struct {
	ID           int64
	VenueTradeID string
	OrderID      int64
	PositionID   int64
	SessionID    int64
	Symbol       string
	Side         OrderSide
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Notional     decimal.Decimal
	Commission   decimal.Decimal
	Layer        int
	FilledAt     time.Time
}

// StrategyChange is an immutable audit entry recorded on every strategy mutation.
type StrategyChange struct {
	ID           int64
	StrategyID   int64
	SessionID    *int64
	BeforeValues string // JSON snapshot
	AfterValues  string // JSON snapshot
	ChangedAt    time.Time
}

// TradeEntryError records a permanent venue rejection or internal invariant
// break that entry execution could not recover from.
type TradeEntryError struct {
	ID        int64
	Symbol    string
	Side      Side
	Reason    string
	Payload   string
	CreatedAt time.Time
}

// IncomeRecordType distinguishes the income-mirror tables used by reconciliation.
type IncomeRecordType string

const (
	IncomeRealizedPnL IncomeRecordType = "realized_pnl"
	IncomeCommission  IncomeRecordType = "commission"
	IncomeFunding     IncomeRecordType = "funding_fee"
	IncomeTransfer    IncomeRecordType = "transfer"
)

// IncomeRecord mirrors one row of the venue's income stream for idempotent upsert.
type IncomeRecord struct {
	ID         int64
	VenueID    string // venue-provided identifier, unique index for idempotent upsert
	Symbol     string
	Type       IncomeRecordType
	Amount     decimal.Decimal
	VenueTime  time.Time
	ImportedAt time.Time
}

// CascadeLight is the four-valued traffic-light summary of systemic liquidation risk.
type CascadeLight int

const (
	CascadeGreen CascadeLight = iota
	CascadeYellow
	CascadeOrange
	CascadeRed
)

func (l CascadeLight) String() string {
	switch l {
	case CascadeGreen:
		return "green"
	case CascadeYellow:
		return "yellow"
	case CascadeOrange:
		return "orange"
	case CascadeRed:
		return "red"
	default:
		return "unknown"
	}
}

// ReversalQuality is the informational side-channel bucket; never a trade gate.
type ReversalQuality string

const (
	ReversalPoor      ReversalQuality = "poor"
	ReversalOK        ReversalQuality = "ok"
	ReversalGood      ReversalQuality = "good"
	ReversalExcellent ReversalQuality = "excellent"
)

// CascadeSnapshot is the detector's published per-symbol output, read synchronously
// by the strategy engine as a gate.
type CascadeSnapshot struct {
	Symbol    string
	Score     int
	LQ        decimal.Decimal
	RET       decimal.Decimal
	OI        decimal.Decimal
	Light     CascadeLight
	AutoBlock bool
	Quality   ReversalQuality
	UpdatedAt time.Time
}
