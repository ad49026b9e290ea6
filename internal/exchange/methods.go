package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

// GetAccountBalance returns the available balance of asset in the futures wallet.
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	body, err := c.call(ctx, http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return decimal.Zero, err
	}
	var rows []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := unmarshalInto(body, &rows); err != nil {
		return decimal.Zero, err
	}
	for _, r := range rows {
		if r.Asset == asset {
			return moneys.Parse(r.AvailableBalance)
		}
	}
	return decimal.Zero, fmt.Errorf("asset %s not present in balance response", asset)
}

// GetPositionRisk returns the venue's current position(s) for a symbol.
func (c *Client) GetPositionRisk(ctx context.Context, symbol string) ([]domain.VenuePosition, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol           string `json:"symbol"`
		PositionSide     string `json:"positionSide"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		UnrealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := unmarshalInto(body, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.VenuePosition, 0, len(rows))
	for _, r := range rows {
		amt, err := moneys.Parse(r.PositionAmt)
		if err != nil {
			return nil, err
		}
		if amt.IsZero() {
			continue
		}
		entry, err := moneys.Parse(r.EntryPrice)
		if err != nil {
			return nil, err
		}
		unrealized, err := moneys.Parse(r.UnrealizedProfit)
		if err != nil {
			return nil, err
		}
		leverage, _ := strconv.Atoi(r.Leverage)

		out = append(out, domain.VenuePosition{
			Symbol:           r.Symbol,
			PositionSide:     r.PositionSide,
			Side:             positionSideToSide(r.PositionSide, amt),
			Quantity:         amt.Abs(),
			EntryPrice:       entry,
			Leverage:         leverage,
			UnrealizedProfit: unrealized,
		})
	}
	return out, nil
}

// positionSideToSide derives the position direction from the venue's
// hedge-mode positionSide field when set, or from the sign of the raw
// (pre-abs) position amount in one-way mode, where positionSide is "BOTH".
func positionSideToSide(positionSide string, amt decimal.Decimal) domain.Side {
	switch positionSide {
	case "LONG":
		return domain.SideLong
	case "SHORT":
		return domain.SideShort
	default:
		if amt.IsNegative() {
			return domain.SideShort
		}
		return domain.SideLong
	}
}

// PlaceOrder submits a new order, returning the venue's acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.VenueOrderAck, error) {
	params := url.Values{
		"symbol":   {req.Symbol},
		"side":     {strings.ToUpper(req.Side)},
		"type":     {strings.ToUpper(req.Type)},
		"quantity": {req.Quantity.String()},
	}
	if req.Price != nil {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.StopPrice != nil {
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.PositionSide != "" {
		params.Set("positionSide", req.PositionSide)
	}

	body, err := c.call(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := unmarshalInto(body, &resp); err != nil {
		return nil, err
	}
	price, err := moneys.Parse(resp.Price)
	if err != nil {
		return nil, err
	}
	qty, err := moneys.Parse(resp.OrigQty)
	if err != nil {
		return nil, err
	}
	executedQty, err := moneys.Parse(resp.ExecutedQty)
	if err != nil {
		return nil, err
	}
	return &domain.VenueOrderAck{
		VenueOrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:       resp.Symbol,
		Side:         resp.Side,
		Status:       resp.Status,
		Price:        price,
		Quantity:     qty,
		ExecutedQty:  executedQty,
	}, nil
}

// CancelOrder cancels an open order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	params := url.Values{"symbol": {symbol}, "orderId": {venueOrderID}}
	_, err := c.call(ctx, http.MethodDelete, "/fapi/v1/order", params, true)
	return err
}

// GetOpenOrders returns every currently open order for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]domain.VenueOrderAck, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
	}
	if err := unmarshalInto(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.VenueOrderAck, 0, len(rows))
	for _, r := range rows {
		price, err := moneys.Parse(r.Price)
		if err != nil {
			return nil, err
		}
		qty, err := moneys.Parse(r.OrigQty)
		if err != nil {
			return nil, err
		}
		executedQty, err := moneys.Parse(r.ExecutedQty)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.VenueOrderAck{
			VenueOrderID: strconv.FormatInt(r.OrderID, 10),
			Symbol:       r.Symbol,
			Side:         r.Side,
			Status:       r.Status,
			Price:        price,
			Quantity:     qty,
			ExecutedQty:  executedQty,
		})
	}
	return out, nil
}

// GetUserTrades returns executed trades for a symbol in [startTime, endTime], capped at limit.
func (c *Client) GetUserTrades(ctx context.Context, symbol string, startTime, endTime time.Time, limit int) ([]domain.VenueTrade, error) {
	params := url.Values{
		"symbol":    {symbol},
		"startTime": {strconv.FormatInt(startTime.UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(endTime.UnixMilli(), 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID         int64  `json:"id"`
		OrderID    int64  `json:"orderId"`
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
		Time       int64  `json:"time"`
	}
	if err := unmarshalInto(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.VenueTrade, 0, len(rows))
	for _, r := range rows {
		price, err := moneys.Parse(r.Price)
		if err != nil {
			return nil, err
		}
		qty, err := moneys.Parse(r.Qty)
		if err != nil {
			return nil, err
		}
		commission, err := moneys.Parse(r.Commission)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.VenueTrade{
			VenueTradeID: strconv.FormatInt(r.ID, 10),
			OrderID:      strconv.FormatInt(r.OrderID, 10),
			Symbol:       r.Symbol,
			Side:         r.Side,
			Price:        price,
			Quantity:     qty,
			Commission:   commission,
			Time:         time.UnixMilli(r.Time).UTC(),
		})
	}
	return out, nil
}

// GetIncome returns income-stream records (realized P&L, commission, funding)
// in [startTime, endTime], the source the historical P&L rebuild paginates over.
func (c *Client) GetIncome(ctx context.Context, incomeType string, startTime, endTime time.Time, limit int) ([]domain.VenueIncome, error) {
	params := url.Values{
		"startTime": {strconv.FormatInt(startTime.UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(endTime.UnixMilli(), 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	if incomeType != "" {
		params.Set("incomeType", incomeType)
	}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/income", params, true)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol     string `json:"symbol"`
		IncomeType string `json:"incomeType"`
		Income     string `json:"income"`
		TranID     int64  `json:"tranId"`
		Time       int64  `json:"time"`
	}
	if err := unmarshalInto(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.VenueIncome, 0, len(rows))
	for _, r := range rows {
		amount, err := moneys.Parse(r.Income)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.VenueIncome{
			VenueID: strconv.FormatInt(r.TranID, 10),
			Symbol:  r.Symbol,
			Type:    r.IncomeType,
			Income:  amount,
			Time:    time.UnixMilli(r.Time).UTC(),
		})
	}
	return out, nil
}

// GetDepth returns the order book top levels for a symbol.
func (c *Client) GetDepth(ctx context.Context, symbol string, limit int) (*domain.VenueDepth, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/depth", params, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := unmarshalInto(body, &resp); err != nil {
		return nil, err
	}
	depth := &domain.VenueDepth{Symbol: symbol}
	for _, lvl := range resp.Bids {
		price, qty, err := parseLevel(lvl)
		if err != nil {
			return nil, err
		}
		depth.Bids = append(depth.Bids, domain.PriceLevel{Price: price, Quantity: qty})
	}
	for _, lvl := range resp.Asks {
		price, qty, err := parseLevel(lvl)
		if err != nil {
			return nil, err
		}
		depth.Asks = append(depth.Asks, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return depth, nil
}

func parseLevel(lvl [2]string) (decimal.Decimal, decimal.Decimal, error) {
	price, err := moneys.Parse(lvl[0])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	qty, err := moneys.Parse(lvl[1])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return price, qty, nil
}

// GetBatchTickerPrices fetches the last traded price for every requested symbol
// in a single request, the policy the cascade detector uses to avoid one
// request per symbol per tick.
func (c *Client) GetBatchTickerPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/ticker/price", nil, false)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := unmarshalInto(body, &rows); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, r := range rows {
		if _, ok := wanted[r.Symbol]; !ok {
			continue
		}
		price, err := moneys.Parse(r.Price)
		if err != nil {
			return nil, err
		}
		out[r.Symbol] = price
	}
	return out, nil
}

// GetOpenInterest returns the current open interest for a symbol.
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/openInterest", params, false)
	if err != nil {
		return decimal.Zero, err
	}
	var resp struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := unmarshalInto(body, &resp); err != nil {
		return decimal.Zero, err
	}
	return moneys.Parse(resp.OpenInterest)
}

// GetKlines returns historical candles for a symbol/interval.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.VenueKline, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}
	var rows [][]interface{}
	if err := unmarshalInto(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.VenueKline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTimeMs, _ := row[0].(float64)
		open, err := moneys.Parse(fmt.Sprint(row[1]))
		if err != nil {
			return nil, err
		}
		high, err := moneys.Parse(fmt.Sprint(row[2]))
		if err != nil {
			return nil, err
		}
		low, err := moneys.Parse(fmt.Sprint(row[3]))
		if err != nil {
			return nil, err
		}
		cls, err := moneys.Parse(fmt.Sprint(row[4]))
		if err != nil {
			return nil, err
		}
		volume, err := moneys.Parse(fmt.Sprint(row[5]))
		if err != nil {
			return nil, err
		}
		out = append(out, domain.VenueKline{
			OpenTime: time.UnixMilli(int64(openTimeMs)).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   volume,
		})
	}
	return out, nil
}

// GetSymbolPrecision returns the tick/step size and precision for a symbol,
// used by internal/moneys to round order prices and quantities.
func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	body, err := c.call(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return domain.SymbolPrecision{}, err
	}
	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
			PricePrecision    int `json:"pricePrecision"`
			QuantityPrecision int `json:"quantityPrecision"`
		} `json:"symbols"`
	}
	if err := unmarshalInto(body, &resp); err != nil {
		return domain.SymbolPrecision{}, err
	}
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		sp := domain.SymbolPrecision{
			Symbol:            s.Symbol,
			PricePrecision:    int32(s.PricePrecision),
			QuantityPrecision: int32(s.QuantityPrecision),
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				if v, err := moneys.Parse(f.TickSize); err == nil {
					sp.TickSize = v
				}
			case "LOT_SIZE":
				if v, err := moneys.Parse(f.StepSize); err == nil {
					sp.StepSize = v
				}
			}
		}
		return sp, nil
	}
	return domain.SymbolPrecision{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}
