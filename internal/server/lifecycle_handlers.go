package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
)

// handleStart marks the strategy active and opens its first session. A
// strategy with no session yet (first-ever start) gets one created with
// the requested starting balance; a strategy that already has an active
// session is left alone — start is idempotent with respect to the session.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}

	var body struct {
		StartingBalance string `json:"starting_balance"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	startingBalance := decimal.Zero
	if body.StartingBalance != "" {
		parsed, err := decimal.NewFromString(body.StartingBalance)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid starting_balance")
			return
		}
		startingBalance = parsed
	}

	now := s.clock()
	if !strategy.IsActive {
		strategy.IsActive = true
		strategy.Paused = false
		if err := s.strategies.Update(r.Context(), *strategy, now); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	session, err := s.sessions.GetActive(r.Context(), strategy.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		created, err := s.sessions.StartNew(r.Context(), strategy.ID, startingBalance, now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		session = &created
	}

	writeJSON(w, http.StatusOK, session)
}

// handleStop ends the active session and cancels every pending
// non-protective order, leaving protective orders in place so the venue
// can still close out existing exposure.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	now := s.clock()

	strategy.IsActive = false
	if err := s.strategies.Update(r.Context(), *strategy, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	session, err := s.sessions.GetActive(r.Context(), strategy.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
		return
	}

	if err := s.cancelPendingOrders(r.Context(), session.ID); err != nil {
		s.log.Error().Err(err).Int64("session_id", session.ID).Msg("failed to cancel pending orders on stop")
	}
	if err := s.sessions.End(r.Context(), strategy.ID, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handlePause stops new liquidations from opening or layering positions;
// in-flight order chasing completes but does not escalate. Protective
// orders and the active session are untouched.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

// handleResume clears the pause flag set by handlePause or handleEmergencyStop.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	if err := s.strategies.SetPaused(r.Context(), strategy.ID, paused, s.clock()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// handleStartNewSession archives the current session (if any) and opens a
// fresh one, preserving all history — never deleting it.
func (s *Server) handleStartNewSession(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}

	var body struct {
		StartingBalance string `json:"starting_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	startingBalance, err := decimal.NewFromString(body.StartingBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid starting_balance")
		return
	}

	session, err := s.sessions.StartNew(r.Context(), strategy.ID, startingBalance, s.clock())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// handleEmergencyStop is the PIN-gated panic button: pause the strategy and
// cancel every pending non-protective order immediately, regardless of
// whatever in-flight decision is underway. The PIN compares against the
// server's configured value; a missing or mismatched PIN is rejected before
// anything else is touched.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if s.pin == "" || body.PIN != s.pin {
		writeError(w, http.StatusForbidden, "invalid PIN")
		return
	}

	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	now := s.clock()
	if err := s.strategies.SetPaused(r.Context(), strategy.ID, true, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	session, err := s.sessions.GetActive(r.Context(), strategy.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session != nil {
		if err := s.cancelPendingOrders(r.Context(), session.ID); err != nil {
			s.log.Error().Err(err).Int64("session_id", session.ID).Msg("failed to cancel pending orders on emergency stop")
		}
	}

	s.log.Warn().Int64("strategy_id", strategy.ID).Msg("emergency stop triggered")
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// cancelPendingOrders cancels every pending non-protective order for a
// session at the venue, then marks each cancelled locally. Individual
// cancel failures are logged and do not abort the sweep — a since-filled
// or since-cancelled order returning an error from the venue is expected.
func (s *Server) cancelPendingOrders(ctx context.Context, sessionID int64) error {
	pending, err := s.orders.PendingNonProtective(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, o := range pending {
		if err := s.exchange.CancelOrder(ctx, o.Symbol, o.VenueOrderID); err != nil {
			s.log.Error().Err(err).Str("venue_order_id", o.VenueOrderID).Msg("failed to cancel order at venue")
			continue
		}
		if err := s.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCancelled, nil); err != nil {
			s.log.Error().Err(err).Int64("order_id", o.ID).Msg("failed to mark order cancelled")
		}
	}
	return nil
}
