package exchange

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

const (
	streamDialTimeout    = 10 * time.Second
	streamReconnectDelay = 5 * time.Second
)

// StreamClient maintains the venue's forceOrder and user-data websocket
// streams, decoding frames and handing them to a domain.StreamEventHandler.
// One connection per stream, both sharing the same HTTP/1.1-forced dial
// client and reconnect policy.
type StreamClient struct {
	forceOrderURL string
	userDataURL   string
	httpClient    *http.Client
	handler       domain.StreamEventHandler
	log           zerolog.Logger

	mu       sync.Mutex
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// StreamConfig configures the streaming client's two endpoints.
type StreamConfig struct {
	ForceOrderURL string
	UserDataURL   string
}

// NewStreamClient builds a StreamClient. Call Start to begin both streams.
func NewStreamClient(cfg StreamConfig, handler domain.StreamEventHandler, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		forceOrderURL: cfg.ForceOrderURL,
		userDataURL:   cfg.UserDataURL,
		httpClient:    dialHTTP1Client(),
		handler:       handler,
		log:           log.With().Str("component", "exchange-stream").Logger(),
		stopChan:      make(chan struct{}),
	}
}

// dialHTTP1Client forces HTTP/1.1 so the TLS ALPN negotiation a CDN performs
// in front of the stream endpoint doesn't break the websocket upgrade.
func dialHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   streamDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// Start connects both streams and begins their read loops in the background.
func (s *StreamClient) Start() {
	s.wg.Add(2)
	go s.runStream("force_order", s.forceOrderURL, s.handleForceOrderMessage)
	go s.runStream("user_data", s.userDataURL, s.handleUserDataMessage)
}

// Stop signals both read loops to exit and waits for them to finish.
func (s *StreamClient) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
}

// runStream owns the connect -> read -> reconnect loop for one stream.
func (s *StreamClient) runStream(name, url string, handle func([]byte) error) {
	defer s.wg.Done()
	log := s.log.With().Str("stream", name).Logger()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, err := s.connect(url)
		if err != nil {
			log.Warn().Err(err).Msg("stream connect failed, retrying")
			if !s.sleepOrStop(streamReconnectDelay) {
				return
			}
			continue
		}

		log.Info().Msg("stream connected")
		s.readLoop(conn, log, handle)
		conn.Close(websocket.StatusNormalClosure, "")

		select {
		case <-s.stopChan:
			return
		default:
			log.Info().Msg("stream disconnected, reconnecting")
			if !s.sleepOrStop(streamReconnectDelay) {
				return
			}
		}
	}
}

func (s *StreamClient) connect(url string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), streamDialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func (s *StreamClient) readLoop(conn *websocket.Conn, log zerolog.Logger, handle func([]byte) error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				log.Info().Msg("stream closed normally")
			} else if ctx.Err() == nil {
				log.Error().Err(err).Msg("stream read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := handle(data); err != nil {
			log.Error().Err(err).Msg("failed to handle stream frame")
		}
	}
}

func (s *StreamClient) sleepOrStop(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopChan:
		return false
	}
}

// wire frame shapes — minimal, only the fields the engine needs.

type wireForceOrder struct {
	EventID json.Number `json:"E"`
	Order   struct {
		Symbol         string `json:"s"`
		Side           string `json:"S"`
		OrigQty        string `json:"q"`
		Price          string `json:"p"`
		TradeTime      int64  `json:"T"`
	} `json:"o"`
}

func (s *StreamClient) handleForceOrderMessage(data []byte) error {
	var w wireForceOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("parse forceOrder frame: %w", err)
	}
	qty, err := moneys.Parse(w.Order.OrigQty)
	if err != nil {
		return err
	}
	price, err := moneys.Parse(w.Order.Price)
	if err != nil {
		return err
	}
	s.handler.HandleForceOrder(domain.ForceOrderFrame{
		VenueEventID:   w.EventID.String(),
		Symbol:         w.Order.Symbol,
		ExchangeSide:   w.Order.Side,
		Quantity:       qty,
		Price:          price,
		VenueTimestamp: time.UnixMilli(w.Order.TradeTime).UTC(),
	})
	return nil
}

type wireOrderTradeUpdate struct {
	Order struct {
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		OrderID       int64  `json:"i"`
		TradeID       int64  `json:"t"`
		LastFilledQty string `json:"l"`
		LastFillPrice string `json:"L"`
		Commission    string `json:"n"`
		TradeTime     int64  `json:"T"`
		ExecutionType string `json:"x"`
	} `json:"o"`
}

type wireAccountUpdate struct {
	Account struct {
		Positions []struct {
			Symbol       string `json:"s"`
			PositionAmt  string `json:"pa"`
			EntryPrice   string `json:"ep"`
			PositionSide string `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

func (s *StreamClient) handleUserDataMessage(data []byte) error {
	var env struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse user-data envelope: %w", err)
	}

	switch env.EventType {
	case "ORDER_TRADE_UPDATE":
		var w wireOrderTradeUpdate
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("parse order trade update: %w", err)
		}
		if w.Order.ExecutionType != "TRADE" {
			return nil
		}
		qty, err := moneys.Parse(w.Order.LastFilledQty)
		if err != nil {
			return err
		}
		price, err := moneys.Parse(w.Order.LastFillPrice)
		if err != nil {
			return err
		}
		commission, err := moneys.Parse(w.Order.Commission)
		if err != nil {
			return err
		}
		s.handler.HandleUserTradeUpdate(domain.UserTradeFrame{
			VenueTradeID:   fmt.Sprint(w.Order.TradeID),
			VenueOrderID:   fmt.Sprint(w.Order.OrderID),
			Symbol:         w.Order.Symbol,
			Side:           w.Order.Side,
			Quantity:       qty,
			Price:          price,
			Commission:     commission,
			VenueTimestamp: time.UnixMilli(w.Order.TradeTime).UTC(),
		})
		return nil

	case "ACCOUNT_UPDATE":
		var w wireAccountUpdate
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("parse account update: %w", err)
		}
		now := time.Now().UTC()
		for _, p := range w.Account.Positions {
			qty, err := moneys.Parse(p.PositionAmt)
			if err != nil {
				return err
			}
			entry, err := moneys.Parse(p.EntryPrice)
			if err != nil {
				return err
			}
			s.handler.HandleAccountUpdate(domain.AccountUpdateFrame{
				Symbol:         p.Symbol,
				PositionSide:   p.PositionSide,
				Quantity:       qty,
				EntryPrice:     entry,
				VenueTimestamp: now,
			})
		}
		return nil

	default:
		return nil
	}
}
