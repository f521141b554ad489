package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minsukang/kimchibot/internal/domain"
)

func TestUpbitMarketBuySpendsTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "KRW-XRP", r.PostForm.Get("market"))
		assert.Equal(t, "bid", r.PostForm.Get("side"))
		assert.Equal(t, "price", r.PostForm.Get("ord_type"))
		assert.Equal(t, "1400000", r.PostForm.Get("price"))
		assert.Empty(t, r.PostForm.Get("volume"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"uuid": "ord-1",
			"side": "bid",
			"ord_type": "price",
			"state": "cancel",
			"market": "KRW-XRP",
			"executed_volume": "2000",
			"paid_fee": "700",
			"trades": [
				{"price": "700", "volume": "1500", "funds": "1050000"},
				{"price": "700", "volume": "500", "funds": "350000"}
			]
		}`))
	}))
	defer srv.Close()

	u := NewUpbit(srv.URL, Credentials{AccessKey: "k", SecretKey: "s"})
	order, err := u.PlaceOrder(context.Background(), "XRP", domain.OrderTypeMarket, domain.OrderSideBuy, 0, 1400000)
	require.NoError(t, err)

	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, domain.VenueUpbit, order.Venue)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	// Fully executed market orders settle in "cancel" with the remainder
	// voided; anything executed counts as a fill.
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.InDelta(t, 2000, order.FilledAmount, 1e-9)
	assert.InDelta(t, 700, order.FilledPrice, 1e-9)
	assert.InDelta(t, 700, order.FeePaid, 1e-9)
}

func TestUpbitMarketSellSendsVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ask", r.PostForm.Get("side"))
		assert.Equal(t, "market", r.PostForm.Get("ord_type"))
		assert.Equal(t, "2000", r.PostForm.Get("volume"))
		assert.Empty(t, r.PostForm.Get("price"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"uuid": "ord-2", "side": "ask", "ord_type": "market", "state": "done", "executed_volume": "2000"}`))
	}))
	defer srv.Close()

	u := NewUpbit(srv.URL, Credentials{AccessKey: "k", SecretKey: "s"})
	order, err := u.PlaceOrder(context.Background(), "XRP", domain.OrderTypeMarket, domain.OrderSideSell, 2000, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
}

func TestUpbitGetBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"currency": "KRW", "balance": "5000000", "locked": "200000"},
			{"currency": "XRP", "balance": "100", "locked": "0"}
		]`))
	}))
	defer srv.Close()

	u := NewUpbit(srv.URL, Credentials{AccessKey: "k", SecretKey: "s"})
	balances, err := u.GetBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.Equal(t, "KRW", balances[0].Currency)
	assert.InDelta(t, 5200000, balances[0].Balance, 1e-9)
	assert.InDelta(t, 5000000, balances[0].Available, 1e-9)
	assert.InDelta(t, 200000, balances[0].Locked, 1e-9)
}

func TestUpbitErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"name":"invalid_access_key"}}`))
	}))
	defer srv.Close()

	u := NewUpbit(srv.URL, Credentials{AccessKey: "k", SecretKey: "s"})
	_, err := u.GetBalances(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid_access_key")
}

func TestUpbitCancelledWithoutFills(t *testing.T) {
	u := NewUpbit("http://unused", Credentials{})
	order := u.toOrder(upbitOrder{UUID: "x", Side: "bid", OrdType: "limit", State: "cancel"}, "XRP")
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, domain.OrderTypeLimit, order.Type)
}
