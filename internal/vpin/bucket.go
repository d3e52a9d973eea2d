// Package vpin implements the volume-synchronised probability of
// informed trading bucketing engine: trades accumulate into a
// fixed-volume bucket per symbol, and each bucket fill (or overflow)
// emits a VPIN reading.
package vpin

import (
	"sync"

	"github.com/marketpulse/resilience/internal/marketdata"
)

// Reading is one emitted VPIN value.
type Reading struct {
	Symbol      string
	Value       float64
	BuyVolume   float64
	SellVolume  float64
	IsNewBucket bool
}

// Calculator accumulates trade volume for a single symbol into a
// fixed-size bucket and emits a Reading on every trade with a known
// side, per the interim/overflow rule in the volume-bucketing spec.
type Calculator struct {
	mu sync.Mutex

	bucketSize float64

	bucketVolume float64
	buyVolume    float64
	sellVolume   float64

	onReading func(Reading)
}

// New constructs a Calculator with the given bucket size (total volume
// per bucket) and callback invoked on every emitted Reading.
func New(bucketSize float64, onReading func(Reading)) *Calculator {
	return &Calculator{bucketSize: bucketSize, onReading: onReading}
}

// OnTrade feeds one trade into the bucket. Trades with unknown side are
// dropped: VPIN only attributes trades it can assign to buy or sell.
func (c *Calculator) OnTrade(t marketdata.Trade) {
	isBuy, known := t.Side()
	if !known {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.bucketSize - c.bucketVolume
	if t.Size < remaining {
		c.addLocked(isBuy, t.Size)
		c.emitLocked(t.Symbol, false)
		return
	}

	overflow := t.Size - remaining
	c.addLocked(isBuy, remaining)
	c.bucketVolume = c.bucketSize
	c.emitLocked(t.Symbol, true)

	c.buyVolume, c.sellVolume, c.bucketVolume = 0, 0, 0
	c.addLocked(isBuy, overflow)
}

func (c *Calculator) addLocked(isBuy bool, size float64) {
	if isBuy {
		c.buyVolume += size
	} else {
		c.sellVolume += size
	}
	c.bucketVolume += size
}

func (c *Calculator) emitLocked(symbol string, isNewBucket bool) {
	if c.onReading == nil {
		return
	}
	total := c.buyVolume + c.sellVolume
	var value float64
	if total > 0 {
		value = absFloat(c.buyVolume-c.sellVolume) / total
	}
	c.onReading(Reading{
		Symbol:      symbol,
		Value:       value,
		BuyVolume:   c.buyVolume,
		SellVolume:  c.sellVolume,
		IsNewBucket: isNewBucket,
	})
}

// BucketVolume returns the current bucket's accumulated volume.
func (c *Calculator) BucketVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bucketVolume
}

// Volumes returns the current bucket's buy and sell totals.
func (c *Calculator) Volumes() (buy, sell float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buyVolume, c.sellVolume
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
