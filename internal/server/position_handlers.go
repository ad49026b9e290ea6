package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vantapoint/liqengine/internal/domain"
)

const manualCloseOrderType = "limit"

// handleListPositions returns every currently open position in the active
// session.
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	_, session, err := s.activeContext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, []domain.Position{})
		return
	}
	positions, err := s.positions.AllOpen(r.Context(), session.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleManualClose places a reduce-only limit order at the current market
// price for the named open position. Closure itself happens asynchronously
// once the venue fills the order through the normal fill pipeline — this
// handler only submits it.
func (s *Server) handleManualClose(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := s.positions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pos == nil || !pos.IsOpen {
		writeError(w, http.StatusNotFound, "open position not found")
		return
	}

	strategy, err := s.strategies.GetActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if strategy == nil {
		writeError(w, http.StatusConflict, "no active strategy")
		return
	}

	prices, err := s.exchange.GetBatchTickerPrices(r.Context(), []string{pos.Symbol})
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch market price: "+err.Error())
		return
	}
	price, ok := prices[pos.Symbol]
	if !ok {
		writeError(w, http.StatusBadGateway, "no market price available for "+pos.Symbol)
		return
	}

	exitSide := pos.Side.ExitOrderSide()
	positionSide := ""
	if strategy.HedgeMode {
		positionSide = "LONG"
		if pos.Side == domain.SideShort {
			positionSide = "SHORT"
		}
	}

	ack, err := s.exchange.PlaceOrder(r.Context(), domain.PlaceOrderRequest{
		Symbol:       pos.Symbol,
		Side:         string(exitSide),
		Type:         manualCloseOrderType,
		Quantity:     pos.Quantity,
		Price:        &price,
		ReduceOnly:   true,
		PositionSide: positionSide,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to place manual close order: "+err.Error())
		return
	}

	order, err := s.orders.Insert(r.Context(), domain.Order{
		VenueOrderID: ack.VenueOrderID,
		SessionID:    pos.SessionID,
		Symbol:       pos.Symbol,
		Side:         exitSide,
		Type:         domain.OrderTypeLimit,
		Price:        &price,
		Quantity:     pos.Quantity,
		Status:       domain.OrderStatusPending,
		ReduceOnly:   true,
		Layer:        pos.LayersFilled,
		PositionID:   &pos.ID,
		CreatedAt:    s.clock(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "order placed at venue but failed to persist locally: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, order)
}
