package trader

import (
	"errors"
	"testing"

	"binance-futures-bot-go/internal/binance"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFilterCache_FetchesOnceAndMemoizes(t *testing.T) {
	// Arrange
	mockClient := new(MockFuturesClient)
	mockClient.On("GetSymbolFilters", "BTCUSDT").
		Return(&binance.SymbolFilters{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}, nil).
		Once()
	cache := NewFilterCache(mockClient, zap.NewNop())

	// Act
	first, err1 := cache.Get("BTCUSDT")
	second, err2 := cache.Get("BTCUSDT")

	// Assert: the second lookup is served from the cache.
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Equal(t, first, second)
	mockClient.AssertExpectations(t)
}

func TestFilterCache_ErrorIsNotCached(t *testing.T) {
	// Arrange
	mockClient := new(MockFuturesClient)
	mockClient.On("GetSymbolFilters", "BTCUSDT").
		Return(nil, errors.New("exchange unavailable")).Once()
	mockClient.On("GetSymbolFilters", "BTCUSDT").
		Return(&binance.SymbolFilters{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}, nil).
		Once()
	cache := NewFilterCache(mockClient, zap.NewNop())

	// Act
	_, err := cache.Get("BTCUSDT")
	assert.Error(t, err)
	filters, err := cache.Get("BTCUSDT")

	// Assert: the failed lookup did not poison the cache.
	assert.NoError(t, err)
	assert.Equal(t, 0.1, filters.TickSize)
	mockClient.AssertExpectations(t)
}

func TestQuantizeToStep(t *testing.T) {
	testCases := []struct {
		name     string
		qty      float64
		step     float64
		minQty   float64
		expected float64
	}{
		{"floors to step", 0.0234, 0.001, 0.001, 0.023},
		{"exact multiple unchanged", 0.02, 0.001, 0.001, 0.02},
		{"raised to min quantity", 0.0004, 0.001, 0.001, 0.001},
		{"zero step passes through", 1.2345, 0, 0, 1.2345},
		{"coarse step", 17.9, 1, 1, 17},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, quantizeToStep(tc.qty, tc.step, tc.minQty), 1e-9)
		})
	}
}

func TestRoundToTick(t *testing.T) {
	testCases := []struct {
		name     string
		price    float64
		tick     float64
		expected float64
	}{
		{"rounds down", 100.44, 0.1, 100.4},
		{"rounds up", 100.46, 0.1, 100.5},
		{"fine tick", 50123.4567, 0.01, 50123.46},
		{"zero tick passes through", 100.456, 0, 100.456},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, roundToTick(tc.price, tc.tick), 1e-9)
		})
	}
}
