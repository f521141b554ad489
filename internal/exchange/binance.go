package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
)

// Binance is the REST client for the global venue. All markets are USDT
// quoted.
type Binance struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewBinance creates a Binance client. baseURL defaults to the production
// API.
func NewBinance(baseURL string, creds Credentials) *Binance {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Binance{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func binanceSymbol(symbol string) string { return symbol + "USDT" }

type binanceOrder struct {
	OrderID             int64  `json:"orderId"`
	Symbol              string `json:"symbol"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	Type                string `json:"type"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// PlaceOrder submits an order. Market buys spend priceOrTotal USDT via
// quoteOrderQty; market sells use the base quantity.
func (b *Binance) PlaceOrder(ctx context.Context, symbol string, typ domain.OrderType, side domain.OrderSide, amount, priceOrTotal float64) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("side", strings.ToUpper(string(side)))

	switch {
	case typ == domain.OrderTypeMarket && side == domain.OrderSideBuy:
		params.Set("type", "MARKET")
		params.Set("quoteOrderQty", formatFloat(priceOrTotal))
	case typ == domain.OrderTypeMarket && side == domain.OrderSideSell:
		params.Set("type", "MARKET")
		params.Set("quantity", formatFloat(amount))
	default:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", formatFloat(priceOrTotal))
		params.Set("quantity", formatFloat(amount))
	}
	params.Set("newOrderRespType", "FULL")

	var resp binanceOrder
	if err := b.doSigned(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("binance: place order %s: %w", symbol, err)
	}
	return b.toOrder(resp, symbol), nil
}

// GetOrder reads one order.
func (b *Binance) GetOrder(ctx context.Context, id, symbol string) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("orderId", id)

	var resp binanceOrder
	if err := b.doSigned(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("binance: get order %s: %w", id, err)
	}
	return b.toOrder(resp, symbol), nil
}

// GetBalances returns all spot account balances.
func (b *Binance) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.doSigned(ctx, http.MethodGet, "/api/v3/account", nil, &resp); err != nil {
		return nil, fmt.Errorf("binance: get balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, bal := range resp.Balances {
		free := parseFloat(bal.Free)
		locked := parseFloat(bal.Locked)
		balances = append(balances, domain.Balance{
			Currency:  bal.Asset,
			Balance:   free + locked,
			Locked:    locked,
			Available: free,
		})
	}
	return balances, nil
}

// GetDepositAddress returns the deposit address for an asset.
func (b *Binance) GetDepositAddress(ctx context.Context, symbol string) (domain.DepositAddress, error) {
	params := url.Values{}
	params.Set("coin", symbol)

	var resp struct {
		Address string `json:"address"`
		Tag     string `json:"tag"`
	}
	if err := b.doSigned(ctx, http.MethodGet, "/sapi/v1/capital/deposit/address", params, &resp); err != nil {
		return domain.DepositAddress{}, fmt.Errorf("binance: deposit address %s: %w", symbol, err)
	}
	return domain.DepositAddress{Address: resp.Address, Tag: resp.Tag}, nil
}

// Withdraw submits an on-chain withdrawal.
func (b *Binance) Withdraw(ctx context.Context, symbol, address string, amount float64, network, tag string) (domain.WithdrawalReceipt, error) {
	params := url.Values{}
	params.Set("coin", symbol)
	params.Set("address", address)
	params.Set("amount", formatFloat(amount))
	if network != "" {
		params.Set("network", network)
	}
	if tag != "" {
		params.Set("addressTag", tag)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := b.doSigned(ctx, http.MethodPost, "/sapi/v1/capital/withdraw/apply", params, &resp); err != nil {
		return domain.WithdrawalReceipt{}, fmt.Errorf("binance: withdraw %s: %w", symbol, err)
	}
	return domain.WithdrawalReceipt{ID: resp.ID}, nil
}

// GetWithdrawalFee returns the default-network withdrawal fee for an asset.
func (b *Binance) GetWithdrawalFee(ctx context.Context, symbol string) (float64, error) {
	var resp []struct {
		Coin        string `json:"coin"`
		NetworkList []struct {
			Network        string `json:"network"`
			IsDefault      bool   `json:"isDefault"`
			WithdrawFee    string `json:"withdrawFee"`
			WithdrawEnable bool   `json:"withdrawEnable"`
		} `json:"networkList"`
	}
	if err := b.doSigned(ctx, http.MethodGet, "/sapi/v1/capital/config/getall", nil, &resp); err != nil {
		return 0, fmt.Errorf("binance: withdrawal fee %s: %w", symbol, err)
	}

	for _, coin := range resp {
		if coin.Coin != symbol {
			continue
		}
		for _, net := range coin.NetworkList {
			if net.IsDefault {
				return parseFloat(net.WithdrawFee), nil
			}
		}
		if len(coin.NetworkList) > 0 {
			return parseFloat(coin.NetworkList[0].WithdrawFee), nil
		}
	}
	return 0, fmt.Errorf("binance: withdrawal fee %s: coin not found", symbol)
}

func (b *Binance) toOrder(o binanceOrder, symbol string) domain.Order {
	ord := domain.Order{
		ID:           strconv.FormatInt(o.OrderID, 10),
		Venue:        domain.VenueBinance,
		Symbol:       symbol,
		Price:        parseFloat(o.Price),
		Amount:       parseFloat(o.OrigQty),
		FilledAmount: parseFloat(o.ExecutedQty),
	}
	switch o.Side {
	case "BUY":
		ord.Side = domain.OrderSideBuy
	case "SELL":
		ord.Side = domain.OrderSideSell
	}
	if o.Type == "LIMIT" {
		ord.Type = domain.OrderTypeLimit
	} else {
		ord.Type = domain.OrderTypeMarket
	}
	switch o.Status {
	case "FILLED":
		ord.Status = domain.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		ord.Status = domain.OrderStatusCancelled
	case "REJECTED":
		ord.Status = domain.OrderStatusFailed
	default:
		ord.Status = domain.OrderStatusOpen
	}
	if ord.FilledAmount > 0 {
		ord.FilledPrice = parseFloat(o.CummulativeQuoteQty) / ord.FilledAmount
	}
	return ord
}

func (b *Binance) doSigned(ctx context.Context, method, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + binanceSign(b.creds.SecretKey, query)

	endpoint := b.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + query
	} else {
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", b.creds.AccessKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
