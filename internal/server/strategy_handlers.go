package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
)

// strategyRequest is the JSON wire shape for strategy create/update. Decimal
// fields are carried as strings so a client never has to reason about
// floating-point precision loss round-tripping through JSON numbers.
type strategyRequest struct {
	SelectedAssets            []string `json:"selected_assets"`
	PercentileThreshold       string   `json:"percentile_threshold"`
	MaxLayers                 int      `json:"max_layers"`
	PositionSizePercent       string   `json:"position_size_percent"`
	ProfitTargetPercent       string   `json:"profit_target_percent"`
	StopLossPercent           string   `json:"stop_loss_percent"`
	UseAdaptiveATR            bool     `json:"use_adaptive_atr"`
	ATRMultiplier             string   `json:"atr_multiplier"`
	Leverage                  int      `json:"leverage"`
	MarginMode                string   `json:"margin_mode"`
	HedgeMode                 bool     `json:"hedge_mode"`
	OrderType                 string   `json:"order_type"`
	SlippageTolerancePercent  string   `json:"slippage_tolerance_percent"`
	MaxRetryDurationMs        int      `json:"max_retry_duration_ms"`
	OrderDelayMs              int      `json:"order_delay_ms"`
	LayerDelaySeconds         int      `json:"layer_delay_seconds"`
	RETHighThreshold          string   `json:"ret_high_threshold"`
	RETMediumThreshold        string   `json:"ret_medium_threshold"`
	RiskLevel                 int      `json:"risk_level"`
	MaxPortfolioRiskDollars   string   `json:"max_portfolio_risk_dollars"`
	MaxPortfolioSymbolCount   int      `json:"max_portfolio_symbol_count"`
	CascadeTickIntervalSecond int      `json:"cascade_tick_interval_seconds"`
	CascadeAutoBlockEnabled   bool     `json:"cascade_auto_block_enabled"`
}

func (req strategyRequest) toDomain() (domain.Strategy, error) {
	parse := func(s string) (decimal.Decimal, error) { return decimal.NewFromString(s) }

	var s domain.Strategy
	var err error
	s.SelectedAssets = req.SelectedAssets
	if s.PercentileThreshold, err = parse(req.PercentileThreshold); err != nil {
		return s, err
	}
	s.MaxLayers = req.MaxLayers
	if s.PositionSizePercent, err = parse(req.PositionSizePercent); err != nil {
		return s, err
	}
	if s.ProfitTargetPercent, err = parse(req.ProfitTargetPercent); err != nil {
		return s, err
	}
	if s.StopLossPercent, err = parse(req.StopLossPercent); err != nil {
		return s, err
	}
	s.UseAdaptiveATR = req.UseAdaptiveATR
	if s.ATRMultiplier, err = parse(req.ATRMultiplier); err != nil {
		return s, err
	}
	s.Leverage = req.Leverage
	s.MarginMode = domain.MarginMode(req.MarginMode)
	s.HedgeMode = req.HedgeMode
	s.OrderType = domain.OrderType(req.OrderType)
	if s.SlippageTolerancePercent, err = parse(req.SlippageTolerancePercent); err != nil {
		return s, err
	}
	s.MaxRetryDurationMs = req.MaxRetryDurationMs
	s.OrderDelayMs = req.OrderDelayMs
	s.LayerDelaySeconds = req.LayerDelaySeconds
	if s.RETHighThreshold, err = parse(req.RETHighThreshold); err != nil {
		return s, err
	}
	if s.RETMediumThreshold, err = parse(req.RETMediumThreshold); err != nil {
		return s, err
	}
	s.RiskLevel = req.RiskLevel
	if s.MaxPortfolioRiskDollars, err = parse(req.MaxPortfolioRiskDollars); err != nil {
		return s, err
	}
	s.MaxPortfolioSymbolCount = req.MaxPortfolioSymbolCount
	s.CascadeTickIntervalSecond = req.CascadeTickIntervalSecond
	s.CascadeAutoBlockEnabled = req.CascadeAutoBlockEnabled
	return s, nil
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.strategies.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, strategies)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	strategy, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid field: "+err.Error())
		return
	}

	created, err := s.strategies.Create(r.Context(), strategy, s.clock())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}

	var req strategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	updated, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid field: "+err.Error())
		return
	}
	updated.ID = existing.ID
	updated.Paused = existing.Paused
	updated.IsActive = existing.IsActive

	before, err := json.Marshal(existing)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	after, err := json.Marshal(updated)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := s.clock()
	if err := s.strategies.Update(r.Context(), updated, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.changes.Record(r.Context(), domain.StrategyChange{
		StrategyID:   existing.ID,
		BeforeValues: string(before),
		AfterValues:  string(after),
		ChangedAt:    now,
	}); err != nil {
		s.log.Error().Err(err).Msg("failed to record strategy change")
	}

	updated.UpdatedAt = now
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	if existing.IsActive {
		writeError(w, http.StatusConflict, "cannot delete the active strategy; stop it first")
		return
	}
	if err := s.strategies.Delete(r.Context(), existing.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupStrategy resolves the {id} path parameter to a strategy row,
// writing the appropriate error response and returning ok=false on failure.
func (s *Server) lookupStrategy(w http.ResponseWriter, r *http.Request) (*domain.Strategy, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy id")
		return nil, false
	}
	strategy, err := s.strategies.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if strategy == nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return nil, false
	}
	return strategy, true
}
