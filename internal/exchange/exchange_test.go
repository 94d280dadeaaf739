package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrNetwork, "price", "BTC_USDT", cause)

	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExchangeRejected)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "BTC_USDT")

	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "price", exErr.Op)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewError(ErrNetwork, "sell", "X_Y", nil), true},
		{"bad price", NewError(ErrInvalidPriceData, "price", "X_Y", nil), true},
		{"rejected", NewError(ErrExchangeRejected, "buy", "X_Y", nil), false},
		{"funds", NewError(ErrInsufficientFunds, "buy", "X_Y", nil), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"", "BTCUSDT", "_USDT", "BTC_", "A_B_C"} {
		assert.Error(t, ValidateSymbol(bad), bad)
	}
	assert.Equal(t, "", QuoteCurrency("BTCUSDT"))
	assert.Equal(t, "ETH_USDT", NormalizeSymbol(" eth_usdt "))
}

func TestStaticCredentials(t *testing.T) {
	p := NewStaticCredentials([]Credentials{{UserID: "1", APIKey: "k", APISecret: "s"}})

	c, err := p.GetCredentials(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "k", c.APIKey)

	_, err = p.GetCredentials(context.Background(), "2")
	assert.ErrorIs(t, err, ErrCredentialsMissing)

	p.Put(Credentials{UserID: "2", APIKey: "k2"})
	_, err = p.GetCredentials(context.Background(), "2")
	assert.NoError(t, err)
}
