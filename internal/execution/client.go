// Package execution defines the order-placement contract and a paper
// implementation that fills at the quoted price.
package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/pkg/types"
)

// OrderResult is the outcome of an order placement attempt.
type OrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
}

// Client places orders on the venue. Only the entity selected to trade real
// capital is routed here; everything else stays on paper.
type Client interface {
	PlaceOrder(ctx context.Context, market string, action types.TradeAction, price, size decimal.Decimal) (OrderResult, error)
}

// PaperClient simulates execution by filling every order at the quoted
// price.
type PaperClient struct {
	logger *zap.Logger
}

// NewPaperClient creates a paper execution client.
func NewPaperClient(logger *zap.Logger) *PaperClient {
	return &PaperClient{logger: logger.Named("paper-exec")}
}

// PlaceOrder fills the order immediately at the given price.
func (c *PaperClient) PlaceOrder(ctx context.Context, market string, action types.TradeAction, price, size decimal.Decimal) (OrderResult, error) {
	if !size.IsPositive() {
		return OrderResult{}, fmt.Errorf("order size %s must be positive", size)
	}

	orderID := uuid.NewString()
	c.logger.Info("Paper order filled",
		zap.String("orderId", orderID),
		zap.String("market", market),
		zap.String("action", string(action)),
		zap.String("price", price.String()),
		zap.String("size", size.String()))

	return OrderResult{Success: true, OrderID: orderID}, nil
}
