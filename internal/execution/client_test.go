package execution_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlabs/strategy-arena/internal/execution"
	"github.com/meridianlabs/strategy-arena/pkg/types"
)

func TestPaperClientFillsAtQuote(t *testing.T) {
	client := execution.NewPaperClient(zap.NewNop())

	result, err := client.PlaceOrder(context.Background(), "crypto-btc-100k",
		types.ActionBuyUp, decimal.NewFromFloat(0.55), decimal.NewFromInt(25))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.OrderID)
}

func TestPaperClientRejectsNonPositiveSize(t *testing.T) {
	client := execution.NewPaperClient(zap.NewNop())

	_, err := client.PlaceOrder(context.Background(), "crypto-btc-100k",
		types.ActionBuyDown, decimal.NewFromFloat(0.4), decimal.Zero)
	require.Error(t, err)
}
