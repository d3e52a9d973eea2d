// Package resilience implements the market-resilience shock-detection
// and bias calculator: it watches a trade stream and an order-book
// snapshot stream for one (provider, symbol) pair, detects trade,
// spread and depth stress events, and scores how quickly the market
// recovered from them.
package resilience

import (
	"sync"
	"time"

	"github.com/marketpulse/resilience/internal/bus"
	"github.com/marketpulse/resilience/internal/marketdata"
)

const (
	defaultRollingWindowCapacity = 500
	defaultTradeShockZ           = 2.0
	defaultSpreadShockZ          = 2.0
	defaultDepletionZThreshold   = 3.0
	defaultBiasHysteresis        = 0.20
	recoveryTarget               = 0.90
	warmupSamples                = 3
)

const (
	sideBid  = "bid"
	sideAsk  = "ask"
	sideBoth = "both"
)

// Config seeds the calculator's tunables; values mirror the fields
// loaded into internal/config.ResilienceConfig, read from there at
// construction time rather than hardcoded.
type Config struct {
	ShockTimeout time.Duration

	// RollingWindowSize bounds the trade-size and spread baseline
	// windows. Zero falls back to defaultRollingWindowCapacity.
	RollingWindowSize int
	// TradeShockZ is the z-score a trade size must clear, relative to
	// the rolling trade-size mean/stddev, to latch a trade anchor.
	TradeShockZ float64
	// SpreadShockZ is the z-score a spread must clear, relative to the
	// rolling spread mean/stddev, to latch a spread shock.
	SpreadShockZ float64
	// DepthDropThreshold is the z-score drop (against the P²-tracked
	// median/MAD of immediacy-weighted depth) that marks a side as
	// newly depleted.
	DepthDropThreshold float64
	// BiasHysteresis is the gap above mrActivate that MR must climb
	// back past before the bias calculator deactivates.
	BiasHysteresis float64
}

// DefaultConfig returns the calculator's documented defaults.
func DefaultConfig() Config {
	return Config{
		ShockTimeout:       800 * time.Millisecond,
		RollingWindowSize:  defaultRollingWindowCapacity,
		TradeShockZ:        defaultTradeShockZ,
		SpreadShockZ:       defaultSpreadShockZ,
		DepthDropThreshold: defaultDepletionZThreshold,
		BiasHysteresis:     defaultBiasHysteresis,
	}
}

func (c Config) rollingWindowSize() int {
	if c.RollingWindowSize > 0 {
		return c.RollingWindowSize
	}
	return defaultRollingWindowCapacity
}

func (c Config) tradeShockZ() float64 {
	if c.TradeShockZ > 0 {
		return c.TradeShockZ
	}
	return defaultTradeShockZ
}

func (c Config) spreadShockZ() float64 {
	if c.SpreadShockZ > 0 {
		return c.SpreadShockZ
	}
	return defaultSpreadShockZ
}

func (c Config) depthDropThreshold() float64 {
	if c.DepthDropThreshold > 0 {
		return c.DepthDropThreshold
	}
	return defaultDepletionZThreshold
}

// Score is emitted whenever at least one of {spread, depth} completes a
// recovery inside the active trade-shock window.
type Score struct {
	Value         float64
	DepletedSide  string // "bid", "ask", "both", or "" if no depth event contributed
	RecoveredSide string // "bid", "ask", "both", or ""
	TradeSide     string // "buy" or "sell", inferred from trade price vs last mid
	MidPrice      float64
	HaveMidPrice  bool
}

type tradeAnchor struct {
	size     float64
	severity float64
	side     string
	deadline time.Time
}

type spreadShock struct {
	value      float64
	detectedAt time.Time
	recovered  bool
	recoveryMs float64
}

// depthEvent tracks baselines and troughs only for the side(s) that
// were actually newly depleted when the event activated. Tracking the
// untouched side too would make its "recovery" a near-tautology (its
// baseline and trough start equal, so it clears the 90% target on the
// first tick), which would make a sustained, never-recovering
// depletion on the stressed side nearly impossible to observe. Bias
// direction is instead read off same-side depletion-then-recovery: see
// classify in bias.go.
type depthEvent struct {
	depletedSides []string
	baseline      map[string]float64
	trough        map[string]float64
	deadline      time.Time
	recoveredSide string
	recoveryMs    float64
}

// Calculator holds the serialised state for one (provider, symbol)
// resilience episode. Both the trade and snapshot streams share its
// mutex so the two update paths observe a single joint ordering.
type Calculator struct {
	mu sync.Mutex

	cfg Config

	tradeSizes *RollingWindow
	spreads    *RollingWindow

	bidDepthMedian *P2Quantile
	askDepthMedian *P2Quantile
	bidDevMedian   *P2Quantile
	askDevMedian   *P2Quantile

	spreadRecoveryHistory *RollingWindow
	depthRecoveryHistory  *RollingWindow

	lastMid    float64
	haveMid    bool
	lastSpread float64

	anchor      *tradeAnchor
	spread      *spreadShock
	depth       *depthEvent
	depletedNow map[string]bool

	onScore func(Score)
}

// New constructs a Calculator. onScore, if non-nil, is invoked
// synchronously (still holding no lock) whenever a score is emitted.
func New(cfg Config, onScore func(Score)) *Calculator {
	return &Calculator{
		cfg:                   cfg,
		tradeSizes:            NewRollingWindow(cfg.rollingWindowSize()),
		spreads:               NewRollingWindow(cfg.rollingWindowSize()),
		bidDepthMedian:        NewP2Quantile(0.5),
		askDepthMedian:        NewP2Quantile(0.5),
		bidDevMedian:          NewP2Quantile(0.5),
		askDevMedian:          NewP2Quantile(0.5),
		spreadRecoveryHistory: NewRollingWindow(cfg.rollingWindowSize()),
		depthRecoveryHistory:  NewRollingWindow(cfg.rollingWindowSize()),
		depletedNow:           make(map[string]bool, 2),
		onScore:               onScore,
	}
}

// HasActiveTradeAnchor reports whether a trade shock is currently
// latched, i.e. whether a subsequent spread/depth recovery could still
// produce a score.
func (c *Calculator) HasActiveTradeAnchor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchor != nil
}

// OnTrade feeds one trade into the calculator.
func (c *Calculator) OnTrade(t marketdata.Trade, now time.Time) {
	c.mu.Lock()
	c.expireAnchorLocked(now)

	eligible := c.tradeSizes.Len() >= warmupSamples
	mean, stddev := c.tradeSizes.Mean(), c.tradeSizes.StdDev()

	if eligible && c.anchor == nil && stddev > 0 && t.Size > mean+c.cfg.tradeShockZ()*stddev {
		side := "sell"
		if c.haveMid && t.Price > c.lastMid {
			side = "buy"
		}
		z := (t.Size - mean) / stddev
		severity := 1 - z/6
		if severity < 0 {
			severity = 0
		}
		c.anchor = &tradeAnchor{
			size:     t.Size,
			severity: severity,
			side:     side,
			deadline: now.Add(c.cfg.ShockTimeout),
		}
	}

	c.tradeSizes.Add(t.Size)
	c.mu.Unlock()
}

// OnSnapshot feeds one order-book snapshot into the calculator.
func (c *Calculator) OnSnapshot(snap *bus.OrderBookSnapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireAnchorLocked(now)

	if mid, ok := snap.MidPrice(); ok {
		c.lastMid, c.haveMid = mid, true
	}

	spread, haveSpread := snap.Spread()
	if haveSpread {
		c.lastSpread = spread
		c.spreads.Add(spread)
		c.updateSpreadShockLocked(spread, now)
	}

	unit := c.spreads.Mean()
	if unit <= 0 {
		unit = 1
	}
	bidDepth := immediacyDepth(snap.Bids, unit)
	askDepth := immediacyDepth(snap.Asks, unit)

	c.updateDepthSideLocked(sideBid, bidDepth, c.bidDepthMedian, c.bidDevMedian)
	c.updateDepthSideLocked(sideAsk, askDepth, c.askDepthMedian, c.askDevMedian)

	depleted := c.currentlyDepletedLocked(bidDepth, askDepth)
	var newlyDepleted []string
	for _, side := range []string{sideBid, sideAsk} {
		if depleted[side] && !c.depletedNow[side] {
			newlyDepleted = append(newlyDepleted, side)
		}
	}
	c.depletedNow = depleted

	if c.anchor != nil && c.depth == nil && len(newlyDepleted) > 0 {
		c.activateDepthEventLocked(newlyDepleted, bidDepth, askDepth, now)
	}

	if c.depth != nil {
		c.updateDepthEventLocked(bidDepth, askDepth, now)
	}

	score, emitted := c.maybeEmitScoreLocked()
	c.mu.Unlock()

	if emitted && c.onScore != nil {
		c.onScore(score)
	}
}

func (c *Calculator) expireAnchorLocked(now time.Time) {
	if c.anchor != nil && now.After(c.anchor.deadline) {
		c.resetShockStateLocked()
	}
	if c.depth != nil && now.After(c.depth.deadline) && c.depth.recoveredSide == "" {
		c.depth = nil
	}
}

func (c *Calculator) updateSpreadShockLocked(spread float64, now time.Time) {
	if c.anchor == nil {
		return
	}
	if c.spread == nil {
		if c.spreads.Len() >= warmupSamples && c.spreads.StdDev() > 0 &&
			spread > c.spreads.Mean()+c.cfg.spreadShockZ()*c.spreads.StdDev() {
			c.spread = &spreadShock{value: spread, detectedAt: now}
		}
		return
	}
	if !c.spread.recovered && spread < c.spreads.Mean() {
		c.spread.recovered = true
		c.spread.recoveryMs = float64(now.Sub(c.spread.detectedAt).Milliseconds())
	}
}

func (c *Calculator) updateDepthSideLocked(side string, depth float64, median, dev *P2Quantile) {
	if median.Warm() {
		dev.Add(absFloat(depth - median.Value()))
	}
	median.Add(depth)
}

func (c *Calculator) currentlyDepletedLocked(bidDepth, askDepth float64) map[string]bool {
	threshold := c.cfg.depthDropThreshold()
	out := make(map[string]bool, 2)
	out[sideBid] = isDepleted(bidDepth, c.bidDepthMedian, c.bidDevMedian, threshold)
	out[sideAsk] = isDepleted(askDepth, c.askDepthMedian, c.askDevMedian, threshold)
	return out
}

func isDepleted(depth float64, median, dev *P2Quantile, threshold float64) bool {
	if !median.Warm() || !dev.Warm() {
		return false
	}
	mad := dev.Value()
	if mad <= 0 {
		return false
	}
	zDrop := (median.Value() - depth) / mad
	return zDrop >= threshold && depth < median.Value()
}

func (c *Calculator) activateDepthEventLocked(depletedSides []string, bidDepth, askDepth float64, now time.Time) {
	ev := &depthEvent{
		depletedSides: depletedSides,
		baseline:      make(map[string]float64, len(depletedSides)),
		trough:        make(map[string]float64, len(depletedSides)),
		deadline:      now.Add(c.cfg.ShockTimeout),
	}
	for _, side := range depletedSides {
		median, depth := c.bidDepthMedian, bidDepth
		if side == sideAsk {
			median, depth = c.askDepthMedian, askDepth
		}
		ev.baseline[side] = median.Value()
		ev.trough[side] = depth
	}
	c.depth = ev
}

func (c *Calculator) updateDepthEventLocked(bidDepth, askDepth float64, now time.Time) {
	ev := c.depth
	if now.After(ev.deadline) {
		if ev.recoveredSide == "" {
			c.depth = nil
		}
		return
	}

	best := ""
	bestFraction := -1.0
	for _, side := range ev.depletedSides {
		depth := bidDepth
		if side == sideAsk {
			depth = askDepth
		}
		if depth < ev.trough[side] {
			ev.trough[side] = depth
		}
		gap := ev.baseline[side] - ev.trough[side]
		fraction := 1.0
		if gap > 0 {
			fraction = (depth - ev.trough[side]) / gap
		}
		if fraction > bestFraction {
			bestFraction = fraction
			best = side
		} else if fraction == bestFraction && best != "" && best != side {
			best = sideBoth
		}
	}

	if ev.recoveredSide == "" && bestFraction >= recoveryTarget {
		ev.recoveredSide = best
		// ev.deadline = activation_time + ShockTimeout, so the remaining
		// time to deadline subtracted from ShockTimeout gives elapsed
		// time since activation without needing to store activation_time.
		elapsed := c.cfg.ShockTimeout - ev.deadline.Sub(now)
		ev.recoveryMs = float64(elapsed.Milliseconds())
	}
}

func (c *Calculator) maybeEmitScoreLocked() (Score, bool) {
	if c.anchor == nil {
		return Score{}, false
	}
	spreadRecovered := c.spread != nil && c.spread.recovered
	depthRecovered := c.depth != nil && c.depth.recoveredSide != ""
	if !spreadRecovered && !depthRecovered {
		return Score{}, false
	}

	type component struct {
		weight float64
		value  float64
	}
	var components []component

	components = append(components, component{weight: 0.30, value: c.anchor.severity})

	if spreadRecovered {
		avgHistMs := c.spreadRecoveryHistory.Mean()
		thisMs := c.spread.recoveryMs
		if c.spreadRecoveryHistory.Len() == 0 {
			avgHistMs = thisMs
		}
		var v float64
		if avgHistMs+thisMs > 0 {
			v = avgHistMs / (avgHistMs + thisMs)
		}
		components = append(components, component{weight: 0.10, value: v})
		c.spreadRecoveryHistory.Add(thisMs)
	}

	if depthRecovered {
		avgHistMs := c.depthRecoveryHistory.Mean()
		thisMs := c.depth.recoveryMs
		if c.depthRecoveryHistory.Len() == 0 {
			avgHistMs = thisMs
		}
		var v float64
		if avgHistMs+thisMs > 0 {
			v = avgHistMs / (avgHistMs + thisMs)
		}
		components = append(components, component{weight: 0.50, value: v})
		c.depthRecoveryHistory.Add(thisMs)
	}

	if c.spread != nil {
		avgHistSpread := c.spreads.Mean()
		v := 1.0
		if avgHistSpread > 0 {
			v = 1 / (c.spread.value / avgHistSpread)
		}
		v = clamp01(v)
		components = append(components, component{weight: 0.10, value: v})
	}

	var weighted, totalWeight float64
	for _, comp := range components {
		weighted += comp.weight * comp.value
		totalWeight += comp.weight
	}
	var final float64
	if totalWeight > 0 {
		final = weighted / totalWeight
	}

	depletedSide := ""
	recoveredSide := ""
	if c.depth != nil {
		recoveredSide = c.depth.recoveredSide
		if len(c.depth.depletedSides) == 1 {
			depletedSide = c.depth.depletedSides[0]
		} else if len(c.depth.depletedSides) > 1 {
			depletedSide = sideBoth
		}
	}

	score := Score{
		Value:         final,
		DepletedSide:  depletedSide,
		RecoveredSide: recoveredSide,
		TradeSide:     c.anchor.side,
		MidPrice:      c.lastMid,
		HaveMidPrice:  c.haveMid,
	}

	c.resetShockStateLocked()

	if c.onScore != nil {
		c.onScore(score)
	}
}

func (c *Calculator) resetShockStateLocked() {
	c.anchor = nil
	c.spread = nil
	c.depth = nil
	c.depletedNow = make(map[string]bool, 2)
}

// immediacyDepth sums size*weight across one side's levels, where
// weight = 1/(1+d)^2 and d is the level's distance from the best price
// measured in units of the baseline spread.
func immediacyDepth(levels []bus.Level, spreadUnit float64) float64 {
	if len(levels) == 0 {
		return 0
	}
	best := levels[0].Price
	var total float64
	for _, lvl := range levels {
		d := absFloat(lvl.Price-best) / spreadUnit
		weight := 1 / ((1 + d) * (1 + d))
		total += lvl.Size * weight
	}
	return total
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
