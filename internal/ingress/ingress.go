// Package ingress turns raw forceOrder stream frames into durable,
// deduplicated Liquidation rows and fans them out on the event bus for the
// strategy engine to evaluate.
package ingress

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/events"
	"github.com/vantapoint/liqengine/internal/keylock"
)

const (
	dedupCacheCapacity = 100
	dedupCacheTTL      = 5 * time.Second
	lockGracePeriod    = 100 * time.Millisecond
)

// Ingestor implements the two-layer dedup policy (in-memory cache, then a
// database uniqueness conflict) guarded by a per-event-identifier lock, so
// that two overlapping deliveries of the same forceOrder frame are processed
// exactly once with respect to persistence and fan-out.
type Ingestor struct {
	repo  *repository.LiquidationRepository
	bus   *events.Bus
	locks *keylock.Map[string]
	seen  *dedupCache
	log   zerolog.Logger

	clock func() time.Time
	sleep func(time.Duration)
}

// NewIngestor builds an Ingestor over repo, publishing ingested liquidations
// on bus.
func NewIngestor(repo *repository.LiquidationRepository, bus *events.Bus, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		repo:  repo,
		bus:   bus,
		locks: keylock.New[string](),
		seen:  newDedupCache(dedupCacheCapacity, dedupCacheTTL),
		log:   log.With().Str("component", "ingress").Logger(),
		clock: time.Now,
		sleep: time.Sleep,
	}
}

// HandleForceOrder satisfies domain.StreamEventHandler's forceOrder leg. It
// inverts the venue's reported offsetting side into the liquidated position
// side (a venue SELL closes out a long, a venue BUY closes out a short),
// then runs the event through the dedup/persist/fan-out pipeline.
func (in *Ingestor) HandleForceOrder(frame domain.ForceOrderFrame) {
	if err := in.Ingest(context.Background(), frame); err != nil {
		in.log.Error().Err(err).Str("venue_event_id", frame.VenueEventID).Msg("failed to ingest forceOrder frame")
	}
}

// Ingest runs one forceOrder frame through the dedup/persist/fan-out
// pipeline, returning once the frame has either been published or
// determined to be a duplicate.
func (in *Ingestor) Ingest(ctx context.Context, frame domain.ForceOrderFrame) error {
	if in.seen.Seen(frame.VenueEventID) {
		in.log.Debug().Str("venue_event_id", frame.VenueEventID).Msg("skipping duplicate forceOrder frame (in-memory dedup)")
		return nil
	}

	unlock := in.locks.Lock(frame.VenueEventID)
	releaseAfterGrace := func() {
		go func() {
			in.sleep(lockGracePeriod)
			unlock()
		}()
	}

	liquidatedSide := invertSide(frame.ExchangeSide)
	liquidation := domain.Liquidation{
		VenueEventID:    frame.VenueEventID,
		Symbol:          frame.Symbol,
		LiquidatedSide:  liquidatedSide,
		Quantity:        frame.Quantity,
		Price:           frame.Price,
		Notional:        frame.Quantity.Mul(frame.Price),
		VenueTimestamp:  frame.VenueTimestamp,
		IngestTimestamp: in.clock().UTC(),
	}

	defer releaseAfterGrace()

	stored, inserted, err := in.repo.InsertOrGet(ctx, liquidation)
	if err != nil {
		return err
	}
	if !inserted {
		in.log.Debug().Str("venue_event_id", frame.VenueEventID).Msg("forceOrder frame already persisted, skipping fan-out")
		return nil
	}

	in.bus.Emit("ingress", events.LiquidationIngested{Liquidation: stored})
	in.log.Info().
		Str("symbol", stored.Symbol).
		Str("liquidated_side", string(stored.LiquidatedSide)).
		Str("venue_event_id", stored.VenueEventID).
		Msg("liquidation ingested")
	return nil
}

// HandleUserTradeUpdate satisfies domain.StreamEventHandler's user-data leg.
// Ingress is the single object registered against the stream client, so it
// is also the fan-out point for trade and account frames the position
// manager and strategy engine consume; it applies no dedup or persistence of
// its own to these, unlike forceOrder frames.
func (in *Ingestor) HandleUserTradeUpdate(frame domain.UserTradeFrame) {
	in.bus.Emit("ingress", events.UserTradeUpdate{Frame: frame})
}

// HandleAccountUpdate satisfies domain.StreamEventHandler's remaining leg.
func (in *Ingestor) HandleAccountUpdate(frame domain.AccountUpdateFrame) {
	in.bus.Emit("ingress", events.AccountUpdate{Frame: frame})
}

var _ domain.StreamEventHandler = (*Ingestor)(nil)

// invertSide maps the venue's reported offsetting order side to the
// liquidated position side: the venue closes a long by selling, and a short
// by buying, so the report is always the mirror image of the position that
// got liquidated.
func invertSide(exchangeSide string) domain.Side {
	if exchangeSide == "SELL" {
		return domain.SideLong
	}
	return domain.SideShort
}
