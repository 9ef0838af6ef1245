package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/backtest"
	"github.com/stratos-labs/quant-backend/internal/risk"
	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Router drives a strategy from a live bar feed. Each bar it marks the
// broker, asks the strategy for decisions, translates them to order
// deltas against its own book, risk-checks them, and submits what
// survives. The book uses the same ledger as the simulation, so live
// and simulated accounting can never drift apart.
type Router struct {
	mu       sync.Mutex
	logger   *zap.Logger
	strat    strategy.Strategy
	broker   BrokerAdapter
	risk     *risk.Manager
	ledger   *backtest.Ledger
	history  map[string][]types.OHLCV
	lookback int
}

// NewRouter wires a strategy to a broker behind the risk manager.
func NewRouter(logger *zap.Logger, strat strategy.Strategy, broker BrokerAdapter, riskMgr *risk.Manager, initialCapital decimal.Decimal, lookback int) (*Router, error) {
	if lookback <= 0 {
		lookback = types.DefaultLookbackBars
	}
	if err := strat.Initialize(); err != nil {
		return nil, fmt.Errorf("strategy initialize: %w", err)
	}
	return &Router{
		logger:   logger.Named("router"),
		strat:    strat,
		broker:   broker,
		risk:     riskMgr,
		ledger:   backtest.NewLedger(initialCapital),
		history:  make(map[string][]types.OHLCV),
		lookback: lookback,
	}, nil
}

// OnBar processes one live bar end to end and returns the orders that
// were submitted (in any status).
func (r *Router) OnBar(ctx context.Context, symbol string, bar types.OHLCV) ([]types.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if paper, ok := r.broker.(*PaperBroker); ok {
		paper.SetMark(symbol, bar.Close)
	}

	window := r.history[symbol]
	decisions, err := r.strat.OnBar(symbol, bar, window)
	r.appendBar(symbol, bar)
	if err != nil {
		r.logger.Warn("strategy error, bar skipped",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return nil, nil
	}

	r.risk.ObserveEquity(r.equityAt(symbol, bar.Close))

	var submitted []types.Order
	for _, d := range decisions {
		order, ok := r.routeDecision(ctx, d, bar.Close)
		if !ok {
			continue
		}
		submitted = append(submitted, order)
	}
	return submitted, nil
}

func (r *Router) routeDecision(ctx context.Context, d types.Decision, mark decimal.Decimal) (types.Order, bool) {
	symbol := types.DecisionSymbol(d)
	delta := backtest.DecisionDelta(d, r.ledger.Position(symbol).Quantity)
	if delta.IsZero() {
		return types.Order{}, false
	}

	side := types.SideBuy
	if delta.Sign() < 0 {
		side = types.SideSell
	}
	order := newOrder(symbol, side, delta.Abs())
	// Reference price for the risk rules; the broker sets the real fill
	// price.
	order.Price = mark

	check := r.risk.CheckOrder(order, risk.Account{
		Cash:      r.ledger.Cash(),
		Positions: r.ledger.Positions(),
	})
	if !check.Approved {
		order.Status = types.OrderStatusRejected
		r.logger.Warn("order blocked by risk rules",
			zap.String("symbol", symbol),
			zap.Int("violations", len(check.Violations)),
		)
		return order, true
	}

	placed, err := r.broker.SubmitOrder(ctx, order)
	if err != nil {
		r.logger.Error("broker submit failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		order.Status = types.OrderStatusRejected
		return order, true
	}

	if placed.Status == types.OrderStatusFilled {
		r.applyFill(placed)
	}
	return placed, true
}

func (r *Router) applyFill(order types.Order) {
	realized, closed := r.ledger.ApplyFill(order.Symbol, order.Side, order.Quantity, order.Price)
	value := order.Price.Mul(order.Quantity)
	if order.Side == types.SideBuy {
		r.ledger.Debit(value)
	} else {
		r.ledger.Credit(value)
	}

	r.strat.OnFill(types.Trade{
		ID:             order.ID,
		Timestamp:      order.CreatedAt,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		Price:          order.Price,
		RealizedPnL:    realized,
		ClosedQuantity: closed,
	})
}

func (r *Router) appendBar(symbol string, bar types.OHLCV) {
	window := append(r.history[symbol], bar)
	if len(window) > r.lookback {
		window = window[len(window)-r.lookback:]
	}
	r.history[symbol] = window
}

// equityAt marks the book with the latest close for one symbol and the
// stored averages for the rest.
func (r *Router) equityAt(symbol string, price decimal.Decimal) decimal.Decimal {
	equity := r.ledger.Cash()
	for sym, pos := range r.ledger.Positions() {
		if pos.IsFlat() {
			continue
		}
		mark := pos.AvgPrice
		if sym == symbol {
			mark = price
		}
		equity = equity.Add(pos.Quantity.Mul(mark))
	}
	return equity
}

// Positions exposes the current book.
func (r *Router) Positions() map[string]types.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Positions()
}

// Cash exposes current cash.
func (r *Router) Cash() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Cash()
}

// Stop shuts the strategy down.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strat.OnStop()
}
