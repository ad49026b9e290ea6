package server

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// registerMetrics wires gauges that are computed on scrape by querying the
// repositories directly, so no other package needs an import on internal/server
// just to push a counter update.
func (s *Server) registerMetrics() {
	openPositions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "liqengine_open_positions",
		Help: "Open counter-trade positions in the active session.",
	}, func() float64 {
		return float64(s.countOpenPositions())
	})

	strategyPaused := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "liqengine_strategy_paused",
		Help: "1 if the active strategy is operator-paused, else 0.",
	}, func() float64 {
		if s.isPaused() {
			return 1
		}
		return 0
	})

	sessionActive := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "liqengine_session_active",
		Help: "1 if there is an active trade session, else 0.",
	}, func() float64 {
		if s.hasActiveSession() {
			return 1
		}
		return 0
	})

	s.registry.MustRegister(openPositions, strategyPaused, sessionActive)
}

func (s *Server) countOpenPositions() int {
	ctx := context.Background()
	strategy, session, err := s.activeContext(ctx)
	if err != nil || strategy == nil || session == nil {
		return 0
	}
	positions, err := s.positions.AllOpen(ctx, session.ID)
	if err != nil {
		return 0
	}
	return len(positions)
}

func (s *Server) isPaused() bool {
	strategy, err := s.strategies.GetActive(context.Background())
	return err == nil && strategy != nil && strategy.Paused
}

func (s *Server) hasActiveSession() bool {
	_, session, err := s.activeContext(context.Background())
	return err == nil && session != nil
}
