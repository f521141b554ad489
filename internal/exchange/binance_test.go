package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
)

func TestBinanceMarketBuyUsesQuoteOrderQty(t *testing.T) {
	secret := "test-secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "XRPUSDT", r.PostForm.Get("symbol"))
		assert.Equal(t, "BUY", r.PostForm.Get("side"))
		assert.Equal(t, "MARKET", r.PostForm.Get("type"))
		assert.Equal(t, "1000", r.PostForm.Get("quoteOrderQty"))
		assert.Empty(t, r.PostForm.Get("quantity"))
		assert.NotEmpty(t, r.PostForm.Get("timestamp"))

		// The signature covers the encoded query with the signature param
		// itself stripped.
		signed := r.PostForm.Get("signature")
		unsigned := url.Values{}
		for k, vs := range r.PostForm {
			if k == "signature" {
				continue
			}
			unsigned[k] = vs
		}
		assert.Equal(t, binanceSign(secret, unsigned.Encode()), signed)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"orderId": 42,
			"symbol": "XRPUSDT",
			"status": "FILLED",
			"side": "BUY",
			"type": "MARKET",
			"origQty": "2000",
			"executedQty": "2000",
			"cummulativeQuoteQty": "1000"
		}`))
	}))
	defer srv.Close()

	b := NewBinance(srv.URL, Credentials{AccessKey: "test-key", SecretKey: secret})
	order, err := b.PlaceOrder(context.Background(), "XRP", domain.OrderTypeMarket, domain.OrderSideBuy, 0, 1000)
	require.NoError(t, err)

	assert.Equal(t, "42", order.ID)
	assert.Equal(t, domain.VenueBinance, order.Venue)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.InDelta(t, 2000, order.FilledAmount, 1e-9)
	assert.InDelta(t, 0.5, order.FilledPrice, 1e-9)
}

func TestBinanceGetOrderSignsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "XRPUSDT", q.Get("symbol"))
		assert.Equal(t, "42", q.Get("orderId"))
		assert.NotEmpty(t, q.Get("signature"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId": 42, "status": "PARTIALLY_FILLED", "side": "SELL", "type": "MARKET", "executedQty": "500", "cummulativeQuoteQty": "250"}`))
	}))
	defer srv.Close()

	b := NewBinance(srv.URL, Credentials{AccessKey: "k", SecretKey: "s"})
	order, err := b.GetOrder(context.Background(), "42", "XRP")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.InDelta(t, 0.5, order.FilledPrice, 1e-9)
}

func TestBinanceWithdrawalFeePicksDefaultNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/sapi/v1/capital/config/getall"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"coin": "BTC", "networkList": [{"network": "BTC", "isDefault": true, "withdrawFee": "0.0005"}]},
			{"coin": "XRP", "networkList": [
				{"network": "BNB", "isDefault": false, "withdrawFee": "1.5"},
				{"network": "XRP", "isDefault": true, "withdrawFee": "0.25"}
			]}
		]`))
	}))
	defer srv.Close()

	b := NewBinance(srv.URL, Credentials{AccessKey: "k", SecretKey: "s"})
	fee, err := b.GetWithdrawalFee(context.Background(), "XRP")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, fee, 1e-9)

	_, err = b.GetWithdrawalFee(context.Background(), "DOGE")
	require.Error(t, err)
}

func TestBinanceRejectedOrderMapsToFailed(t *testing.T) {
	b := NewBinance("http://unused", Credentials{})
	order := b.toOrder(binanceOrder{OrderID: 7, Status: "REJECTED", Side: "BUY", Type: "LIMIT"}, "XRP")
	assert.Equal(t, domain.OrderStatusFailed, order.Status)
	assert.Equal(t, domain.OrderTypeLimit, order.Type)
}
