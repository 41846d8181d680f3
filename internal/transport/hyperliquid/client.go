// Package hyperliquid implements transport.Transport against a
// Hyperliquid-shaped perpetual exchange: signed REST actions for order
// submission, cancellation, transfers and leverage, plus a websocket event
// stream (stream.go). Grounded on the teacher's internal/service/gateway.go
// (http.Client construction, per-call signing) and internal/signer (EIP-712
// signing), generalized from Polymarket CLOB order hashing to Hyperliquid's
// exchange-action hashing.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/sigridjineth/hlbench/internal/plan"
	"github.com/sigridjineth/hlbench/internal/transport"
)

// Config configures a Client. WalletAddress is the account the actions act
// on behalf of; PrivateKeyHex signs them.
type Config struct {
	BaseURL       string
	WalletAddress string
	PrivateKeyHex string
	ChainID       int64
	BuilderCode   string
	// RequestsPerSecond bounds outbound REST calls, mirroring the teacher's
	// per-tenant rate.Limiter in internal/service/tenant_manager.go.
	RequestsPerSecond float64
	HTTPTimeout       time.Duration
}

// Client is the live Transport implementation.
type Client struct {
	cfg     Config
	signer  *actionSigner
	http    *http.Client
	limiter *rate.Limiter
	nonce   atomic.Int64
}

// NewClient constructs a Client, deriving the signer's address from the
// configured private key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hyperliquid: base URL is required")
	}
	s, err := newActionSigner(cfg.PrivateKeyHex, cfg.ChainID)
	if err != nil {
		return nil, err
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	c := &Client{
		cfg:    cfg,
		signer: s,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
	c.nonce.Store(time.Now().UnixMilli())
	return c, nil
}

func (c *Client) nextNonce() int64 {
	return c.nonce.Add(1)
}

type exchangeRequest struct {
	Action       any     `json:"action"`
	Nonce        int64   `json:"nonce"`
	Signature    string  `json:"signature"`
	VaultAddress *string `json:"vaultAddress,omitempty"`
}

func (c *Client) postAction(ctx context.Context, action any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("hyperliquid: rate limiter: %w", err)
	}
	nonce := c.nextNonce()
	sig, err := c.signer.signAction(action, nonce)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(exchangeRequest{Action: action, Nonce: nonce, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid: venue returned %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

type orderAction struct {
	Type     string       `json:"type"`
	Orders   []wireOrder  `json:"orders"`
	Grouping string       `json:"grouping"`
	Builder  *wireBuilder `json:"builder,omitempty"`
}

type wireOrder struct {
	Coin       string `json:"coin"`
	IsBuy      bool   `json:"isBuy"`
	Sz         string `json:"sz"`
	LimitPx    string `json:"limitPx"`
	ReduceOnly bool   `json:"reduceOnly"`
	Tif        string `json:"tif"`
	Cloid      string `json:"cloid,omitempty"`
}

type wireBuilder struct {
	Address string `json:"b"`
	FeeBps  int    `json:"f"`
}

type orderStatusResponse struct {
	Status string `json:"status"`
	Response struct {
		Data struct {
			Statuses []orderStatusEntry `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type orderStatusEntry struct {
	Resting *struct {
		Oid uint64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		Oid uint64 `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// SubmitOrderBatch signs and posts a batch order action. mid resolution has
// already happened by the time orders reach here (the Plan Executor's
// responsibility, per spec.md §4.4); PriceSpec.Label is echoed as limitPx
// only if already absolute, which the executor guarantees.
func (c *Client) SubmitOrderBatch(ctx context.Context, orders []plan.Order, builderCode string) (transport.BatchOrderAck, error) {
	wire := make([]wireOrder, len(orders))
	for i, o := range orders {
		wire[i] = wireOrder{
			Coin:       o.Coin,
			IsBuy:      o.Side == plan.Buy,
			Sz:         o.Sz.String(),
			LimitPx:    o.Px.Label(),
			ReduceOnly: o.ReduceOnly,
			Tif:        o.Tif,
			Cloid:      o.Cloid,
		}
	}
	action := orderAction{Type: "order", Orders: wire, Grouping: "na"}
	code := builderCode
	if code == "" {
		code = c.cfg.BuilderCode
	}
	if code != "" {
		action.Builder = &wireBuilder{Address: code, FeeBps: 0}
	}

	raw, err := c.postAction(ctx, action)
	if err != nil {
		return transport.BatchOrderAck{Status: transport.AckError, Err: err.Error()}, nil
	}
	var resp orderStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return transport.BatchOrderAck{Status: transport.AckError, Err: fmt.Sprintf("decode response: %v", err)}, nil
	}
	outcomes := make([]transport.OrderOutcome, len(resp.Response.Data.Statuses))
	for i, s := range resp.Response.Data.Statuses {
		switch {
		case s.Resting != nil:
			oid := s.Resting.Oid
			outcomes[i] = transport.OrderOutcome{Kind: transport.OrderResting, Oid: &oid}
		case s.Filled != nil:
			oid := s.Filled.Oid
			outcomes[i] = transport.OrderOutcome{Kind: transport.OrderFilled, Oid: &oid}
		case s.Error != "":
			outcomes[i] = transport.OrderOutcome{Kind: transport.OrderError, Err: s.Error}
		default:
			outcomes[i] = transport.OrderOutcome{Kind: transport.OrderWaitingForFill}
		}
	}
	return transport.BatchOrderAck{Status: transport.AckAccepted, PerOrder: outcomes}, nil
}

type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []wireCancel `json:"cancels"`
}

type wireCancel struct {
	Coin string `json:"coin"`
	Oid  uint64 `json:"oid"`
}

func (c *Client) SubmitCancel(ctx context.Context, kind transport.CancelKind, coin string, oids []uint64) (transport.CancelAck, error) {
	wire := make([]wireCancel, len(oids))
	for i, oid := range oids {
		wire[i] = wireCancel{Coin: coin, Oid: oid}
	}
	action := cancelAction{Type: "cancel", Cancels: wire}

	_, err := c.postAction(ctx, action)
	if err != nil {
		return transport.CancelAck{Status: transport.AckError, Err: err.Error()}, nil
	}
	targets := make([]transport.CancelTargetOutcome, len(oids))
	for i := range targets {
		targets[i] = transport.CancelTargetOutcome{Kind: string(kind)}
	}
	return transport.CancelAck{Status: transport.AckAccepted, PerTarget: targets}, nil
}

type transferAction struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
	ToPerp bool   `json:"toPerp"`
}

func (c *Client) SubmitTransfer(ctx context.Context, toPerp bool, usdc decimal.Decimal) (transport.SimpleAck, error) {
	action := transferAction{Type: "usdClassTransfer", Amount: usdc.String(), ToPerp: toPerp}
	_, err := c.postAction(ctx, action)
	if err != nil {
		return transport.SimpleAck{Status: transport.AckError, Err: err.Error()}, nil
	}
	return transport.SimpleAck{Status: transport.AckAccepted}, nil
}

type leverageAction struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Leverage uint32 `json:"leverage"`
	Cross    bool   `json:"isCross"`
}

func (c *Client) SubmitLeverage(ctx context.Context, coin string, leverage uint32, cross bool) (transport.SimpleAck, error) {
	action := leverageAction{Type: "updateLeverage", Coin: coin, Leverage: leverage, Cross: cross}
	_, err := c.postAction(ctx, action)
	if err != nil {
		return transport.SimpleAck{Status: transport.AckError, Err: err.Error()}, nil
	}
	return transport.SimpleAck{Status: transport.AckAccepted}, nil
}

type midResponse struct {
	Mids map[string]string `json:"mids"`
}

// MidPrice queries the venue's info endpoint for allMids and extracts coin.
// Unsigned and unauthenticated, unlike the exchange actions above.
func (c *Client) MidPrice(ctx context.Context, coin string) (transport.MidPrice, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: rate limiter: %w", err)
	}
	body, _ := json.Marshal(map[string]string{"type": "allMids"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: read response: %w", err)
	}

	var mids map[string]string
	if err := json.Unmarshal(raw, &mids); err != nil {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: decode mids: %w", err)
	}
	raw2, ok := mids[coin]
	if !ok {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: no mid for coin %q", coin)
	}
	v, err := decimal.NewFromString(raw2)
	if err != nil {
		return transport.MidPrice{}, fmt.Errorf("hyperliquid: parse mid %q: %w", raw2, err)
	}
	return transport.MidPrice{Coin: coin, Value: v}, nil
}

// SubscribeEvents starts the websocket event stream (stream.go) and returns
// its decoded event channel.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan transport.VenueEvent, error) {
	stream := newEventStream(c.cfg.BaseURL, c.cfg.WalletAddress)
	return stream.start(ctx)
}
