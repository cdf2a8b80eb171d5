package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tungnguyentu/trade/config"
	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

const (
	// codeNoNeedToChangeMarginType is returned when the margin type is already set.
	codeNoNeedToChangeMarginType = -4046
	codeNoSuchOrder              = -2013
)

// NewFuturesClient builds a USDⓈ-M futures client, on testnet when asked.
func NewFuturesClient(cfg config.BinanceConfig) *futures.Client {
	futures.UseTestnet = cfg.Testnet
	return futures.NewClient(cfg.APIKey, cfg.SecretKey)
}

// BinanceOptions are the exchange-side parameters of the port.
type BinanceOptions struct {
	MarginType        config.MarginType
	QuantityPrecision int
	FeeRate           float64 // used to estimate the fee, not returned by RESULT responses
	RatePerSec        float64
}

// Binance places market orders on Binance futures. Exits are sent as
// reduce-only market orders; protective levels are managed by the engine.
type Binance struct {
	client  *futures.Client
	opts    BinanceOptions
	limiter *rate.Limiter
	log     logger.Logger
}

func NewBinance(client *futures.Client, opts BinanceOptions, log logger.Logger) *Binance {
	if log == nil {
		log = logger.NewNop()
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	return &Binance{client: client, opts: opts, limiter: rate.NewLimiter(limit, 1), log: log}
}

func (b *Binance) quantity(q float64) string {
	return decimal.NewFromFloat(q).Truncate(int32(b.opts.QuantityPrecision)).String()
}

func (b *Binance) Place(ctx context.Context, o types.Order) (types.OrderResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return timedOut(o, "rate limiter", err)
	}
	side := futures.SideTypeBuy
	if o.Side == types.Sell {
		side = futures.SideTypeSell
	}
	svc := b.client.NewCreateOrderService().
		Symbol(o.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(b.quantity(o.Qty)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if o.ID != "" {
		svc = svc.NewClientOrderID(o.ID)
	}
	if o.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return b.failure(ctx, o, err)
	}
	return b.settle(o, report{
		status:   resp.Status,
		avgPrice: resp.AvgPrice,
		executed: resp.ExecutedQuantity,
		updated:  resp.UpdateTime,
		clientID: resp.ClientOrderID,
		side:     resp.Side,
	})
}

// Lookup queries an order by client order ID and reads it like a Place
// response, so a market order that filled after its confirmation was lost
// becomes a fill.
func (b *Binance) Lookup(ctx context.Context, symbol, orderID string) (types.OrderResult, error) {
	o := types.Order{ID: orderID, Symbol: symbol}
	if err := b.limiter.Wait(ctx); err != nil {
		return timedOut(o, "rate limiter", err)
	}
	got, err := b.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(orderID).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeNoSuchOrder {
			return rejected(o, "order not found on the exchange", err)
		}
		return timedOut(o, "order lookup failed", err)
	}
	o.ReduceOnly = got.ReduceOnly
	return b.settle(o, report{
		status:   got.Status,
		avgPrice: got.AvgPrice,
		executed: got.ExecutedQuantity,
		updated:  got.UpdateTime,
		clientID: got.ClientOrderID,
		side:     got.Side,
	})
}

// report is the part of an order response that decides its outcome.
type report struct {
	status   futures.OrderStatusType
	avgPrice string
	executed string
	updated  int64
	clientID string
	side     futures.SideType
}

func (b *Binance) settle(o types.Order, r report) (types.OrderResult, error) {
	switch r.status {
	case futures.OrderStatusTypeFilled, futures.OrderStatusTypePartiallyFilled:
	case futures.OrderStatusTypeNew:
		return timedOut(o, "order accepted but not filled", nil)
	default:
		return rejected(o, "order status "+string(r.status), nil)
	}
	price, err := strconv.ParseFloat(r.avgPrice, 64)
	if err != nil || price <= 0 {
		return rejected(o, "unparseable average price "+r.avgPrice, err)
	}
	qty, err := strconv.ParseFloat(r.executed, 64)
	if err != nil || qty <= 0 {
		return rejected(o, "unparseable executed quantity "+r.executed, err)
	}
	filledAt := time.UnixMilli(r.updated).UTC()
	if r.updated == 0 {
		filledAt = time.Now().UTC()
	}

	b.log.Info("order_filled",
		logger.String("symbol", o.Symbol),
		logger.String("client_order_id", r.clientID),
		logger.String("side", string(r.side)),
		logger.Float64("avg_price", price),
		logger.Float64("qty", qty),
		logger.Bool("reduce_only", o.ReduceOnly),
	)
	return types.OrderResult{
		OrderID:   o.ID,
		Status:    types.Filled,
		FillPrice: price,
		FilledQty: qty,
		Fee:       price * qty * b.opts.FeeRate,
		FilledAt:  filledAt,
	}, nil
}

func (b *Binance) failure(ctx context.Context, o types.Order, err error) (types.OrderResult, error) {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return timedOut(o, "exchange did not answer", err)
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return rejected(o, fmt.Sprintf("binance %d: %s", apiErr.Code, apiErr.Message), err)
	}
	// the request may have reached the exchange before the connection broke
	return timedOut(o, "transport error", err)
}

func (b *Binance) Cancel(ctx context.Context, symbol, orderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("cancel %s %s: %w", symbol, orderID, err)
	}
	return nil
}

// AdjustLeverage sets the margin type and then the leverage of symbol.
func (b *Binance) AdjustLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := validLeverage(leverage); err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	margin := futures.MarginTypeIsolated
	if b.opts.MarginType == config.Crossed {
		margin = futures.MarginTypeCrossed
	}
	err := b.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(margin).Do(ctx)
	var apiErr *common.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == codeNoNeedToChangeMarginType) {
		return fmt.Errorf("margin type %s for %s: %w", margin, symbol, err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	res, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("leverage %d for %s: %w", leverage, symbol, err)
	}
	b.log.Info("leverage_set",
		logger.String("symbol", res.Symbol),
		logger.Int("leverage", res.Leverage),
		logger.String("margin_type", string(margin)),
	)
	return nil
}
