// Package events provides the engine's typed, tagged-variant event channel.
//
// The payload is a closed sum type (the Message interface, satisfied only by
// the message structs below) delivered over a Go channel; a consumer that
// type-switches on Message and forgets a case fails compile-time review
// rather than silently dropping data.
package events

import (
	"time"

	"github.com/vantapoint/liqengine/internal/domain"
)

// Message is the sealed tagged-variant event payload. Only the types in this
// file implement it (the unexported method prevents external types from
// satisfying the interface by accident).
type Message interface {
	isMessage()
}

// LiquidationIngested is published once per deduplicated liquidation event,
// after persistence, before the strategy engine evaluates it.
type LiquidationIngested struct {
	Liquidation domain.Liquidation
}

func (LiquidationIngested) isMessage() {}

// UserTradeUpdate is published for every fill notification on the venue's
// user-data stream.
type UserTradeUpdate struct {
	Frame domain.UserTradeFrame
}

func (UserTradeUpdate) isMessage() {}

// AccountUpdate is published for every account/position update notification
// on the venue's user-data stream.
type AccountUpdate struct {
	Frame domain.AccountUpdateFrame
}

func (AccountUpdate) isMessage() {}

// CascadeChanged is published whenever a symbol's cascade light changes level.
type CascadeChanged struct {
	Snapshot domain.CascadeSnapshot
}

func (CascadeChanged) isMessage() {}

// TradeExecuted is published whenever a new (non-duplicate) fill is applied
// to a position.
type TradeExecuted struct {
	Fill domain.Fill
}

func (TradeExecuted) isMessage() {}

// PositionClosed is published when a position's net quantity reaches zero.
type PositionClosed struct {
	Position domain.Position
}

func (PositionClosed) isMessage() {}

// StrategyChanged is published whenever the operator mutates the strategy.
type StrategyChanged struct {
	Change domain.StrategyChange
}

func (StrategyChanged) isMessage() {}

// Envelope wraps a Message with bus metadata: a timestamp and the
// publishing module name, alongside a typed Payload.
type Envelope struct {
	Timestamp time.Time
	Module    string
	Payload   Message
}
