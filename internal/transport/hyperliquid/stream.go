package hyperliquid

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/sigridjineth/hlbench/internal/transport"
)

// eventStream runs the venue's websocket event feed. Reconnect/backoff and
// ping/pong keepalive are grounded on the teacher's
// internal/market/service.go MarketService.runLoop/connect/readLoop split;
// generalized to decode the three channels a Plan Executor waits on
// (orderUpdates, userFills, userNonFundingLedgerUpdates) instead of
// Polymarket's order-book "book" frames.
type eventStream struct {
	wsURL   string
	address string
}

const (
	reconnBaseDelay = time.Second
	reconnMaxDelay  = 30 * time.Second
	pingPeriod      = 15 * time.Second
)

func newEventStream(baseURL, address string) *eventStream {
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return &eventStream{wsURL: wsURL + "/ws", address: address}
}

// start launches the reconnect loop in a background goroutine and returns
// the channel of decoded events. The loop retries failed connections with
// backoff and never gives up on its own, so the channel closes only when ctx
// is done; per transport.Transport's contract, a close not caused by ctx
// cancellation would be a fatal condition for the caller.
func (s *eventStream) start(ctx context.Context) (<-chan transport.VenueEvent, error) {
	out := make(chan transport.VenueEvent, 256)
	go s.runLoop(ctx, out)
	return out, nil
}

func (s *eventStream) runLoop(ctx context.Context, out chan<- transport.VenueEvent) {
	defer close(out)
	delay := reconnBaseDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.connect(ctx)
		if err != nil {
			slog.Error("hyperliquid: connect failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnMaxDelay {
				delay = reconnMaxDelay
			}
			continue
		}
		delay = reconnBaseDelay

		if err := s.subscribe(conn); err != nil {
			slog.Error("hyperliquid: subscribe failed", "error", err)
			conn.Close()
			continue
		}

		s.readLoop(ctx, conn, out)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
	}
}

func (s *eventStream) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, err
	}
	readTimeout := pingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go s.pinger(ctx, conn)
	return conn, nil
}

func (s *eventStream) pinger(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *eventStream) subscribe(conn *websocket.Conn) error {
	channels := []string{"orderUpdates", "userFills", "userNonFundingLedgerUpdates"}
	for _, ch := range channels {
		msg := map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type": ch,
				"user": s.address,
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

type wsFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsOrderUpdate struct {
	Order struct {
		Coin string `json:"coin"`
		Oid  uint64 `json:"oid"`
	} `json:"order"`
	Status string `json:"status"`
}

type wsFill struct {
	Oid  uint64 `json:"oid"`
	Coin string `json:"coin"`
	Side string `json:"side"`
}

type wsUserFills struct {
	IsSnapshot bool     `json:"isSnapshot"`
	Fills      []wsFill `json:"fills"`
}

type wsLedgerUpdate struct {
	Delta struct {
		Type   string `json:"type"`
		Usdc   string `json:"usdc"`
		ToPerp bool   `json:"toPerp"`
	} `json:"delta"`
}

func (s *eventStream) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- transport.VenueEvent) {
	readTimeout := pingPeriod + 10*time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Error("hyperliquid: read error", "error", err)
			return
		}
		for _, ev := range decodeFrame(raw) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decodeFrame decodes one websocket message into zero or more VenueEvents.
// orderUpdates and userFills each carry an array of elements sharing one
// frame, so both fan out one event per element rather than reporting only
// the first — a fill observed only on userFills (the normal path for an
// IOC/market-like order that fills immediately) must carry its own oid or
// AwaitOrderOids can never match it.
func decodeFrame(raw []byte) []transport.VenueEvent {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil
	}
	switch frame.Channel {
	case string(transport.ChannelOrderUpdates):
		var updates []wsOrderUpdate
		if err := json.Unmarshal(frame.Data, &updates); err != nil || len(updates) == 0 {
			return nil
		}
		events := make([]transport.VenueEvent, len(updates))
		for i, u := range updates {
			events[i] = transport.VenueEvent{
				Channel: transport.ChannelOrderUpdates,
				Raw:     frame.Data,
				Oid:     u.Order.Oid,
				Status:  u.Status,
			}
		}
		return events
	case string(transport.ChannelUserFills):
		var payload wsUserFills
		if err := json.Unmarshal(frame.Data, &payload); err != nil || len(payload.Fills) == 0 {
			return nil
		}
		events := make([]transport.VenueEvent, len(payload.Fills))
		for i, f := range payload.Fills {
			events[i] = transport.VenueEvent{
				Channel: transport.ChannelUserFills,
				Raw:     frame.Data,
				Oid:     f.Oid,
				Status:  string(transport.OrderFilled),
			}
		}
		return events
	case string(transport.ChannelUserNonFundingLedgerUpdates):
		var updates []wsLedgerUpdate
		if err := json.Unmarshal(frame.Data, &updates); err != nil || len(updates) == 0 {
			return nil
		}
		u := updates[0]
		usdc, err := decimal.NewFromString(u.Delta.Usdc)
		if err != nil {
			return nil
		}
		return []transport.VenueEvent{{
			Channel: transport.ChannelUserNonFundingLedgerUpdates,
			Raw:     frame.Data,
			ToPerp:  u.Delta.ToPerp,
			Usdc:    usdc,
		}}
	default:
		return nil
	}
}
