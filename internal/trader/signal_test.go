package trader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSignal(t *testing.T) {
	testCases := []struct {
		name        string
		payload     string
		expected    *Signal
		expectError bool
	}{
		{
			name:    "long entry full form",
			payload: "BTCUSDT.P|BUY_ENTRY|50123.5|50200|50000|15",
			expected: &Signal{
				Symbol:   "BTCUSDT",
				Action:   ActionOpenLong,
				Price:    50123.5,
				Interval: "15",
			},
		},
		{
			name:    "short entry lowercase ticker",
			payload: "ethusdt|SELL_ENTRY|2500.25|2510|2490|1h",
			expected: &Signal{
				Symbol:   "ETHUSDT",
				Action:   ActionOpenShort,
				Price:    2500.25,
				Interval: "1h",
			},
		},
		{
			name:    "exit short form",
			payload: "SOLUSDT|EXIT_LONG|150.5|60",
			expected: &Signal{
				Symbol:   "SOLUSDT",
				Action:   ActionCloseLong,
				Price:    150.5,
				Interval: "60",
			},
		},
		{
			name:    "reversal crossover",
			payload: "BTCUSDT|CROSS_EXIT_LONG|50000|50100|49900|15",
			expected: &Signal{
				Symbol:   "BTCUSDT",
				Action:   ActionReverseToShort,
				Price:    50000,
				Interval: "15",
			},
		},
		{
			name:    "lowercase comment tolerated",
			payload: "BTCUSDT|buy_entry|50000|15",
			expected: &Signal{
				Symbol:   "BTCUSDT",
				Action:   ActionOpenLong,
				Price:    50000,
				Interval: "15",
			},
		},
		{
			name:    "whitespace trimmed",
			payload: " BTCUSDT | EXIT_SHORT | 50000 | 15 ",
			expected: &Signal{
				Symbol:   "BTCUSDT",
				Action:   ActionCloseShort,
				Price:    50000,
				Interval: "15",
			},
		},
		{
			name:        "too few fields",
			payload:     "BTCUSDT|BUY_ENTRY|50000",
			expectError: true,
		},
		{
			name:        "unknown comment",
			payload:     "BTCUSDT|HODL|50000|15",
			expectError: true,
		},
		{
			name:        "non-numeric price",
			payload:     "BTCUSDT|BUY_ENTRY|fifty|50100|49900|15",
			expectError: true,
		},
		{
			name:        "zero price",
			payload:     "BTCUSDT|BUY_ENTRY|0|50100|49900|15",
			expectError: true,
		},
		{
			name:        "bad interval",
			payload:     "BTCUSDT|BUY_ENTRY|50000|50100|49900|soon",
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := ParseSignal(tc.payload)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, sig)
		})
	}
}

func TestSignalSide(t *testing.T) {
	assert.Equal(t, SideLong, (&Signal{Action: ActionOpenLong}).Side())
	assert.Equal(t, SideShort, (&Signal{Action: ActionOpenShort}).Side())
	assert.Equal(t, SideLong, (&Signal{Action: ActionCloseLong}).Side())
	assert.Equal(t, SideShort, (&Signal{Action: ActionReverseToShort}).Side())
}

func TestNormalizeSymbol(t *testing.T) {
	testCases := []struct {
		ticker   string
		expected string
	}{
		{"BTCUSDT", "BTCUSDT"},
		{"btcusdt", "BTCUSDT"},
		{"BTCUSDT.P", "BTCUSDT"},
		{"BTC", "BTCUSDT"},
		{" ethusdt.p ", "ETHUSDT"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, NormalizeSymbol(tc.ticker), "ticker %q", tc.ticker)
	}
}

func TestParseInterval(t *testing.T) {
	testCases := []struct {
		interval    string
		expected    time.Duration
		expectError bool
	}{
		{interval: "15", expected: 15 * time.Minute},
		{interval: "15m", expected: 15 * time.Minute},
		{interval: "1h", expected: time.Hour},
		{interval: "4h", expected: 4 * time.Hour},
		{interval: "1d", expected: 24 * time.Hour},
		{interval: "30s", expected: 30 * time.Second},
		{interval: "", expectError: true},
		{interval: "h", expectError: true},
		{interval: "-5m", expectError: true},
	}

	for _, tc := range testCases {
		d, err := ParseInterval(tc.interval)
		if tc.expectError {
			assert.Error(t, err, "interval %q", tc.interval)
			continue
		}
		assert.NoError(t, err, "interval %q", tc.interval)
		assert.Equal(t, tc.expected, d, "interval %q", tc.interval)
	}
}

func TestSideHelpers(t *testing.T) {
	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
	assert.Equal(t, "BUY", SideLong.EntryOrderSide())
	assert.Equal(t, "SELL", SideLong.ExitOrderSide())
	assert.Equal(t, "SELL", SideShort.EntryOrderSide())
	assert.Equal(t, "BUY", SideShort.ExitOrderSide())
}
