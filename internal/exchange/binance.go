package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/marketpulse/resilience/internal/bus"
	"github.com/marketpulse/resilience/internal/marketdata"
	"github.com/marketpulse/resilience/pkg/observability"
)

// BinanceConfig configures a BinanceConnector instance.
type BinanceConfig struct {
	WSBaseURL            string
	Symbols              []string
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	MaxReconnectAttempts int
}

// BinanceConnector streams combined depth20@100ms and trade streams
// from Binance and republishes them as bus.OrderBookSnapshot and
// marketdata.Trade, reconnecting on drop under an exponential backoff
// policy instead of the teacher's linear fixed-attempt-ceiling sleep.
type BinanceConnector struct {
	cfg    BinanceConfig
	sink   Sink
	logger *observability.Logger
	policy backoffPolicy
	pool   *bus.LevelArrayPool

	state   atomic.Int32
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewBinanceConnector constructs a connector publishing onto sink.
func NewBinanceConnector(cfg BinanceConfig, sink Sink, logger *observability.Logger) *BinanceConnector {
	pool := bus.NewLevelArrayPool()
	if sink.Bus != nil {
		pool = sink.Bus.Pool()
	}
	return &BinanceConnector{
		cfg:  cfg,
		sink: sink,
		pool: pool,
		policy: backoffPolicy{
			Initial:     cfg.InitialBackoff,
			Max:         cfg.MaxBackoff,
			Multiplier:  cfg.BackoffMultiplier,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (c *BinanceConnector) ID() string { return "binance" }

func (c *BinanceConnector) State() State { return State(c.state.Load()) }

func (c *BinanceConnector) setState(s State) { c.state.Store(int32(s)) }

// Start launches the reconnect loop in its own goroutine.
func (c *BinanceConnector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("binance connector already running")
	}
	c.running = true
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Stop signals the run loop to exit and waits for it to finish.
func (c *BinanceConnector) Stop(ctx context.Context) error {
	close(c.stopCh)
	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the iterative reconnection state machine: each pass attempts
// one connection, streams until it drops or a shutdown is requested,
// then either backs off and retries or gives up.
func (c *BinanceConnector) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.setState(StateDead)

	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		attempt++
		c.setState(StateConnecting)

		conn, err := c.dial()
		if err != nil {
			c.setState(StateFailing)
			if c.logger != nil {
				c.logger.Error(ctx, "binance dial failed", err, map[string]interface{}{"attempt": attempt})
			}
			proceed, exhausted := c.backoffAndWait(ctx, attempt)
			if !proceed {
				if exhausted {
					c.markReconnectionExhausted(ctx)
				}
				return
			}
			continue
		}

		c.setState(StateConnected)
		for _, symbol := range c.cfg.Symbols {
			if c.sink.Touch != nil {
				c.sink.Touch(c.ID(), strings.ToUpper(symbol), marketdata.StatusConnected)
			}
		}
		attempt = 0

		err = c.stream(ctx, conn)
		conn.Close()
		if err == nil {
			return // clean shutdown requested mid-stream
		}

		c.setState(StateFailing)
		if c.logger != nil {
			c.logger.Error(ctx, "binance stream ended", err, nil)
		}
		attempt++
		proceed, exhausted := c.backoffAndWait(ctx, attempt)
		if !proceed {
			if exhausted {
				c.markReconnectionExhausted(ctx)
			}
			return
		}
	}
}

// backoffAndWait waits out the attempt-th backoff delay, or reports
// that the policy's attempt ceiling has been reached. exhausted is
// only ever true when proceed is false and the loop gave up on its own
// terms, not when it was asked to stop.
func (c *BinanceConnector) backoffAndWait(ctx context.Context, attempt int) (proceed, exhausted bool) {
	d, ok := c.policy.delay(attempt)
	if !ok {
		return false, true
	}
	c.setState(StateBackingOff)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, false
	case <-c.stopCh:
		return false, false
	case <-ctx.Done():
		return false, false
	}
}

// markReconnectionExhausted reports every configured symbol as
// terminally failed once the backoff policy's attempt ceiling is hit,
// so the watchdog can surface it instead of the connector silently
// going quiet.
func (c *BinanceConnector) markReconnectionExhausted(ctx context.Context) {
	if c.logger != nil {
		c.logger.Error(ctx, "binance reconnection exhausted", nil, map[string]interface{}{
			"symbols": strings.Join(c.cfg.Symbols, ","),
		})
	}
	if c.sink.Touch == nil {
		return
	}
	for _, symbol := range c.cfg.Symbols {
		c.sink.Touch(c.ID(), strings.ToUpper(symbol), marketdata.StatusDisconnectedFailed)
	}
}

func (c *BinanceConnector) dial() (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.Dial(c.buildURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance stream: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return conn, nil
}

func (c *BinanceConnector) buildURL() string {
	streams := make([]string, 0, len(c.cfg.Symbols)*2)
	for _, s := range c.cfg.Symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@depth20@100ms", lower+"@trade")
	}
	streamParam := url.QueryEscape(strings.Join(streams, "/"))
	return fmt.Sprintf("%s/stream?streams=%s", c.cfg.WSBaseURL, streamParam)
}

func (c *BinanceConnector) stream(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(raw)
	}
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthEvent struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"bids"`
	Asks   [][]string `json:"asks"`
}

type tradeEvent struct {
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (c *BinanceConnector) handleMessage(raw []byte) {
	var env combinedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch {
	case strings.Contains(env.Stream, "@depth"):
		c.handleDepth(env.Data)
	case strings.Contains(env.Stream, "@trade"):
		c.handleTrade(env.Data)
	}
}

func (c *BinanceConnector) handleDepth(data json.RawMessage) {
	var evt depthEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}
	symbol := strings.ToUpper(evt.Symbol)

	mutable := &bus.MutableOrderBook{
		Symbol:       symbol,
		ProviderID:   c.ID(),
		ProviderName: "Binance",
		LastUpdated:  time.Now().UnixNano(),
		Bids:         decodeLevels(evt.Bids, true),
		Asks:         decodeLevels(evt.Asks, false),
	}
	snap := mutable.ToSnapshot(c.pool)

	if c.sink.Bus != nil {
		c.sink.Bus.Publish(snap)
	}
	if c.sink.Touch != nil {
		c.sink.Touch(c.ID(), symbol, marketdata.StatusConnected)
	}
}

// decodeLevels parses raw [price, size] wire pairs into a plain,
// independently owned slice; ToSnapshot is what rents the pool array
// the published snapshot actually carries.
func decodeLevels(raw [][]string, isBid bool) []bus.Level {
	levels := make([]bus.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			continue
		}
		priceF, _ := price.Float64()
		sizeF, _ := size.Float64()
		levels = append(levels, bus.Level{Price: priceF, Size: sizeF, IsBid: isBid})
	}
	return levels
}

func (c *BinanceConnector) handleTrade(data json.RawMessage) {
	var evt tradeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}

	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		return
	}
	size, err := decimal.NewFromString(evt.Quantity)
	if err != nil {
		return
	}
	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()

	// Binance's IsBuyerMaker true means the aggressor (taker) sold.
	isBuy := !evt.IsBuyerMaker

	t := marketdata.Trade{
		Symbol:     strings.ToUpper(evt.Symbol),
		ProviderID: c.ID(),
		Timestamp:  evt.TradeTime,
		Price:      priceF,
		Size:       sizeF,
		IsBuy:      &isBuy,
	}

	if c.sink.Trades != nil {
		c.sink.Trades(t)
	}
}
