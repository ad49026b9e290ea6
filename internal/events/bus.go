package events

import (
	"time"

	"github.com/rs/zerolog"
)

// subscriberBuffer is the per-subscriber channel depth. A consumer that
// can't keep up gets a logged drop rather than blocking the publisher.
const subscriberBuffer = 256

// Bus is a minimal typed pub/sub: subscribers register a channel and receive
// every Envelope published after that point. There is no replay and no
// per-type filtering — consumers type-switch on Envelope.Payload themselves,
// which is what gives the compiler a chance to flag an unhandled variant.
type Bus struct {
	log         zerolog.Logger
	subscribe   chan chan Envelope
	unsubscribe chan chan Envelope
	publish     chan Envelope
	done        chan struct{}
}

// NewBus creates and starts a Bus. Call Close to stop its dispatch loop.
func NewBus(log zerolog.Logger) *Bus {
	b := &Bus{
		log:         log.With().Str("component", "event_bus").Logger(),
		subscribe:   make(chan chan Envelope),
		unsubscribe: make(chan chan Envelope),
		publish:     make(chan Envelope, subscriberBuffer),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe returns a channel that receives every Envelope published from
// now on. Call Unsubscribe when the consumer is done.
func (b *Bus) Subscribe() chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	select {
	case b.subscribe <- ch:
	case <-b.done:
	}
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (b *Bus) Unsubscribe(ch chan Envelope) {
	select {
	case b.unsubscribe <- ch:
	case <-b.done:
	}
}

// Emit publishes a typed message on behalf of module. Never blocks the
// caller for longer than the bus's internal buffer allows; a full buffer is
// logged and the message is dropped rather than stalling the publisher.
func (b *Bus) Emit(module string, payload Message) {
	env := Envelope{Timestamp: time.Now(), Module: module, Payload: payload}
	select {
	case b.publish <- env:
	default:
		b.log.Warn().Str("module", module).Msg("event bus publish buffer full, dropping event")
	}
}

// Close stops the dispatch loop. Subscribers' channels are closed.
func (b *Bus) Close() {
	close(b.done)
}

func (b *Bus) run() {
	subscribers := make(map[chan Envelope]struct{})
	defer func() {
		for ch := range subscribers {
			close(ch)
		}
	}()

	for {
		select {
		case <-b.done:
			return
		case ch := <-b.subscribe:
			subscribers[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case env := <-b.publish:
			for ch := range subscribers {
				select {
				case ch <- env:
				default:
					b.log.Warn().Str("module", env.Module).Msg("subscriber channel full, dropping event")
				}
			}
		}
	}
}
