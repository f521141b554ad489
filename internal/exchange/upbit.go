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

// Upbit is the REST client for the local venue. All markets are KRW quoted.
type Upbit struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewUpbit creates an Upbit client. baseURL defaults to the production API.
func NewUpbit(baseURL string, creds Credentials) *Upbit {
	if baseURL == "" {
		baseURL = "https://api.upbit.com"
	}
	return &Upbit{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func upbitMarket(symbol string) string { return "KRW-" + symbol }

type upbitOrder struct {
	UUID           string `json:"uuid"`
	Side           string `json:"side"`
	OrdType        string `json:"ord_type"`
	Price          string `json:"price"`
	State          string `json:"state"`
	Market         string `json:"market"`
	Volume         string `json:"volume"`
	ExecutedVolume string `json:"executed_volume"`
	PaidFee        string `json:"paid_fee"`
	Trades         []struct {
		Price  string `json:"price"`
		Volume string `json:"volume"`
		Funds  string `json:"funds"`
	} `json:"trades"`
}

// PlaceOrder submits an order. Market buys use Upbit's "price" order type,
// spending priceOrTotal KRW; market sells use the "market" type with the
// base amount.
func (u *Upbit) PlaceOrder(ctx context.Context, symbol string, typ domain.OrderType, side domain.OrderSide, amount, priceOrTotal float64) (domain.Order, error) {
	params := url.Values{}
	params.Set("market", upbitMarket(symbol))
	switch side {
	case domain.OrderSideBuy:
		params.Set("side", "bid")
	case domain.OrderSideSell:
		params.Set("side", "ask")
	}

	switch {
	case typ == domain.OrderTypeMarket && side == domain.OrderSideBuy:
		params.Set("ord_type", "price")
		params.Set("price", formatFloat(priceOrTotal))
	case typ == domain.OrderTypeMarket && side == domain.OrderSideSell:
		params.Set("ord_type", "market")
		params.Set("volume", formatFloat(amount))
	default:
		params.Set("ord_type", "limit")
		params.Set("price", formatFloat(priceOrTotal))
		params.Set("volume", formatFloat(amount))
	}

	var resp upbitOrder
	if err := u.do(ctx, http.MethodPost, "/v1/orders", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("upbit: place order %s: %w", symbol, err)
	}
	return u.toOrder(resp, symbol), nil
}

// GetOrder reads one order with its trades.
func (u *Upbit) GetOrder(ctx context.Context, id, symbol string) (domain.Order, error) {
	params := url.Values{}
	params.Set("uuid", id)

	var resp upbitOrder
	if err := u.do(ctx, http.MethodGet, "/v1/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("upbit: get order %s: %w", id, err)
	}
	return u.toOrder(resp, symbol), nil
}

// GetBalances returns all account balances.
func (u *Upbit) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	var resp []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
		Locked   string `json:"locked"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("upbit: get balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp))
	for _, b := range resp {
		free := parseFloat(b.Balance)
		locked := parseFloat(b.Locked)
		balances = append(balances, domain.Balance{
			Currency:  b.Currency,
			Balance:   free + locked,
			Locked:    locked,
			Available: free,
		})
	}
	return balances, nil
}

// GetDepositAddress returns the deposit address for an asset.
func (u *Upbit) GetDepositAddress(ctx context.Context, symbol string) (domain.DepositAddress, error) {
	params := url.Values{}
	params.Set("currency", symbol)

	var resp struct {
		DepositAddress   string `json:"deposit_address"`
		SecondaryAddress string `json:"secondary_address"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/deposits/coin_address", params, &resp); err != nil {
		return domain.DepositAddress{}, fmt.Errorf("upbit: deposit address %s: %w", symbol, err)
	}
	if resp.DepositAddress == "" {
		return domain.DepositAddress{}, fmt.Errorf("upbit: deposit address %s not yet generated", symbol)
	}
	return domain.DepositAddress{Address: resp.DepositAddress, Tag: resp.SecondaryAddress}, nil
}

// Withdraw submits an on-chain withdrawal.
func (u *Upbit) Withdraw(ctx context.Context, symbol, address string, amount float64, network, tag string) (domain.WithdrawalReceipt, error) {
	params := url.Values{}
	params.Set("currency", symbol)
	params.Set("amount", formatFloat(amount))
	params.Set("address", address)
	if network != "" {
		params.Set("net_type", network)
	}
	if tag != "" {
		params.Set("secondary_address", tag)
	}

	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := u.do(ctx, http.MethodPost, "/v1/withdraws/coin", params, &resp); err != nil {
		return domain.WithdrawalReceipt{}, fmt.Errorf("upbit: withdraw %s: %w", symbol, err)
	}
	return domain.WithdrawalReceipt{ID: resp.UUID}, nil
}

// GetWithdrawalFee returns the venue withdrawal fee for an asset.
func (u *Upbit) GetWithdrawalFee(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("currency", symbol)

	var resp struct {
		Currency struct {
			WithdrawFee string `json:"withdraw_fee"`
		} `json:"currency"`
	}
	if err := u.do(ctx, http.MethodGet, "/v1/withdraws/chance", params, &resp); err != nil {
		return 0, fmt.Errorf("upbit: withdrawal fee %s: %w", symbol, err)
	}
	return parseFloat(resp.Currency.WithdrawFee), nil
}

func (u *Upbit) toOrder(o upbitOrder, symbol string) domain.Order {
	ord := domain.Order{
		ID:           o.UUID,
		Venue:        domain.VenueUpbit,
		Symbol:       symbol,
		Price:        parseFloat(o.Price),
		Amount:       parseFloat(o.Volume),
		FilledAmount: parseFloat(o.ExecutedVolume),
		FeePaid:      parseFloat(o.PaidFee),
	}
	switch o.Side {
	case "bid":
		ord.Side = domain.OrderSideBuy
	case "ask":
		ord.Side = domain.OrderSideSell
	}
	switch o.OrdType {
	case "limit":
		ord.Type = domain.OrderTypeLimit
	default:
		ord.Type = domain.OrderTypeMarket
	}
	switch o.State {
	case "done":
		ord.Status = domain.OrderStatusFilled
	case "cancel":
		// A fully executed market order may finish in "cancel" with the
		// remainder voided; treat it as filled when anything executed.
		if ord.FilledAmount > 0 {
			ord.Status = domain.OrderStatusFilled
		} else {
			ord.Status = domain.OrderStatusCancelled
		}
	default:
		ord.Status = domain.OrderStatusOpen
	}

	// Average fill price from the trade legs.
	var funds, volume float64
	for _, tr := range o.Trades {
		funds += parseFloat(tr.Funds)
		volume += parseFloat(tr.Volume)
	}
	if volume > 0 {
		ord.FilledPrice = funds / volume
	}
	return ord
}

func (u *Upbit) do(ctx context.Context, method, path string, params url.Values, out any) error {
	query := ""
	if len(params) > 0 {
		query = params.Encode()
	}
	token, err := upbitToken(u.creds, query)
	if err != nil {
		return err
	}

	endpoint := u.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if query != "" {
			endpoint += "?" + query
		}
	} else if query != "" {
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := u.httpClient.Do(req)
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

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
