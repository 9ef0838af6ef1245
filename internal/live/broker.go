// Package live routes strategy decisions to a broker in real time,
// sharing the decision translation and position accounting with the
// simulation path.
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// BrokerAdapter is the venue-facing side of the live path. SubmitOrder
// returns the order with its final status; a rejection is a returned
// status, not an error. Errors mean the venue could not be asked.
type BrokerAdapter interface {
	Name() string
	SubmitOrder(ctx context.Context, order types.Order) (types.Order, error)
}

// Fill is one confirmed execution reported by a broker.
type Fill struct {
	Order     types.Order     `json:"order"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PaperBroker simulates a venue: orders fill instantly and completely
// at the last observed mark. It exists so the full live path can run
// without touching an exchange.
type PaperBroker struct {
	mu     sync.RWMutex
	logger *zap.Logger
	marks  map[string]decimal.Decimal
	fills  []Fill
}

// NewPaperBroker creates an empty paper venue.
func NewPaperBroker(logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		logger: logger.Named("paper"),
		marks:  make(map[string]decimal.Decimal),
	}
}

// Name identifies the adapter.
func (b *PaperBroker) Name() string { return "paper" }

// SetMark updates the fill price for a symbol. Typically driven by the
// same bar feed the strategy sees.
func (b *PaperBroker) SetMark(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[symbol] = price
}

// SubmitOrder fills the order at the current mark, or rejects it when
// no mark exists yet.
func (b *PaperBroker) SubmitOrder(_ context.Context, order types.Order) (types.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mark, ok := b.marks[order.Symbol]
	if !ok || !mark.IsPositive() {
		order.Status = types.OrderStatusRejected
		b.logger.Warn("order rejected, no mark price",
			zap.String("symbol", order.Symbol),
			zap.String("orderId", order.ID),
		)
		return order, nil
	}

	order.Price = mark
	order.Status = types.OrderStatusFilled
	b.fills = append(b.fills, Fill{Order: order, Price: mark, Timestamp: time.Now()})

	b.logger.Info("paper fill",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("price", mark.String()),
	)
	return order, nil
}

// Fills returns all confirmed executions so far.
func (b *PaperBroker) Fills() []Fill {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// newOrder builds a pending order with a fresh ID.
func newOrder(symbol string, side types.Side, quantity decimal.Decimal) types.Order {
	return types.Order{
		ID:        fmt.Sprintf("o-%s", uuid.NewString()),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Status:    types.OrderStatusPending,
		CreatedAt: time.Now(),
	}
}
