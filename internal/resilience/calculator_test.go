package resilience

import (
	"testing"
	"time"

	"github.com/marketpulse/resilience/internal/bus"
	"github.com/marketpulse/resilience/internal/marketdata"
	"github.com/stretchr/testify/suite"
)

// calculatorSuite gives each scenario test a fresh Calculator and a
// slice capturing every emitted score, matching the corpus's
// testify/suite stateful-fixture idiom.
type calculatorSuite struct {
	suite.Suite
	calc   *Calculator
	scores []Score
	base   time.Time
}

func (s *calculatorSuite) SetupTest() {
	s.scores = nil
	s.calc = New(DefaultConfig(), func(sc Score) { s.scores = append(s.scores, sc) })
	s.base = time.Now()
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(calculatorSuite))
}

func bookSnapshot(bidSize0, askSize0 float64) *bus.OrderBookSnapshot {
	return &bus.OrderBookSnapshot{
		Symbol:     "BTCUSDT",
		ProviderID: "testex",
		Bids: []bus.Level{
			{Price: 100.00, Size: bidSize0, IsBid: true},
			{Price: 99.99, Size: 10, IsBid: true},
			{Price: 99.98, Size: 10, IsBid: true},
			{Price: 99.97, Size: 10, IsBid: true},
			{Price: 99.96, Size: 10, IsBid: true},
		},
		Asks: []bus.Level{
			{Price: 100.01, Size: askSize0},
			{Price: 100.02, Size: 10},
			{Price: 100.03, Size: 10},
			{Price: 100.04, Size: 10},
			{Price: 100.05, Size: 10},
		},
	}
}

var noiseCycle = [3]float64{9.9, 10.0, 10.1}

func (s *calculatorSuite) warmUp() {
	sizeCycle := [2]float64{0.9, 1.1}
	for i := 0; i < 300; i++ {
		s.calc.OnTrade(marketdata.Trade{
			Symbol: "BTCUSDT", ProviderID: "testex",
			Size: sizeCycle[i%2], Price: 100.0,
		}, s.base)
		noise := noiseCycle[i%3]
		s.calc.OnSnapshot(bookSnapshot(noise, noise), s.base)
	}
}

// Property 10: with fewer than 3 trade samples in the window, no shock
// fires regardless of size.
func (s *calculatorSuite) TestWarmupGuardBlocksShockBeforeThreeSamples() {
	s.calc.OnTrade(marketdata.Trade{Size: 1.0}, s.base)
	s.calc.OnTrade(marketdata.Trade{Size: 1.0}, s.base)
	s.calc.OnTrade(marketdata.Trade{Size: 100.0}, s.base)

	s.False(s.calc.HasActiveTradeAnchor())
}

// Property 11: a trade shock followed by an ask-side depth depletion
// and recovery, with the bid side never meaningfully stressed, emits a
// score whose depleted and recovered sides are both ask, the pairing
// classify reads as Bullish.
func (s *calculatorSuite) TestFullShockCycleBullish() {
	s.warmUp()

	// Trade just above the shock threshold (mean 1.0, stddev 0.1),
	// priced above mid so it is read as a buy.
	s.calc.OnTrade(marketdata.Trade{
		Symbol: "BTCUSDT", ProviderID: "testex", Size: 1.3, Price: 100.1,
	}, s.base)
	s.Require().True(s.calc.HasActiveTradeAnchor())

	drop := s.base.Add(100 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 0.05), drop)
	s.Empty(s.scores, "depletion alone must not emit a score")

	recover := s.base.Add(300 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 10.0), recover)

	s.Require().Len(s.scores, 1)
	score := s.scores[0]
	s.Equal(sideAsk, score.DepletedSide)
	s.Equal(sideAsk, score.RecoveredSide)
	s.Greater(score.Value, 0.0)
	s.LessOrEqual(score.Value, 1.0)
	s.False(s.calc.HasActiveTradeAnchor(), "shock state resets after emission")
}

// Property 12: if depth never recovers and the shock window expires,
// no score is emitted and the anchor clears.
func (s *calculatorSuite) TestTimeoutWithNoRecoveryEmitsNothing() {
	s.warmUp()

	s.calc.OnTrade(marketdata.Trade{
		Symbol: "BTCUSDT", ProviderID: "testex", Size: 1.3, Price: 100.1,
	}, s.base)

	drop := s.base.Add(100 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 0.05), drop)

	stillDown := s.base.Add(500 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 0.05), stillDown)

	expired := s.base.Add(900 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 0.05), expired)

	s.Empty(s.scores)
	s.False(s.calc.HasActiveTradeAnchor())
}

func spreadSnapshot(askPrice float64) *bus.OrderBookSnapshot {
	return &bus.OrderBookSnapshot{
		Symbol:     "BTCUSDT",
		ProviderID: "testex",
		Bids:       []bus.Level{{Price: 100.00, Size: 10, IsBid: true}},
		Asks:       []bus.Level{{Price: askPrice, Size: 10}},
	}
}

// Single-level books keep immediacyDepth's distance-from-best term at
// zero regardless of spread, so this warmup/scenario isolates the
// spread-shock path from depth detection entirely.
//
// The shared bookSnapshot/warmUp fixture holds bid/ask prices fixed at
// 100.00/100.01, so c.spreads.StdDev() never leaves zero there and no
// existing test reaches the spread-shock branch; this one varies the
// spread across warm-up instead of the size.
func (s *calculatorSuite) TestSpreadShockRecoveryContributesToScore() {
	spreadCycle := [3]float64{100.01, 100.02, 100.03}
	sizeCycle := [2]float64{0.9, 1.1}
	for i := 0; i < 300; i++ {
		s.calc.OnTrade(marketdata.Trade{
			Symbol: "BTCUSDT", ProviderID: "testex",
			Size: sizeCycle[i%2], Price: 100.0,
		}, s.base)
		s.calc.OnSnapshot(spreadSnapshot(spreadCycle[i%3]), s.base)
	}

	s.calc.OnTrade(marketdata.Trade{
		Symbol: "BTCUSDT", ProviderID: "testex", Size: 1.3, Price: 100.1,
	}, s.base)
	s.Require().True(s.calc.HasActiveTradeAnchor())

	widen := s.base.Add(50 * time.Millisecond)
	s.calc.OnSnapshot(spreadSnapshot(100.10), widen)
	s.Require().NotNil(s.calc.spread, "a spread far beyond the rolling mean/stddev must latch a spread shock")
	s.False(s.calc.spread.recovered)

	recover := s.base.Add(150 * time.Millisecond)
	s.calc.OnSnapshot(spreadSnapshot(100.01), recover)

	s.Require().Len(s.scores, 1)
	score := s.scores[0]
	s.Empty(score.DepletedSide, "no depth event in this scenario")
	s.Empty(score.RecoveredSide)
	s.Greater(score.Value, 0.0)
	s.LessOrEqual(score.Value, 1.0)
	s.False(s.calc.HasActiveTradeAnchor())
}

// Property 13: sustained depletion on one side produces exactly one
// edge, not a repeated edge on every subsequent tick.
func (s *calculatorSuite) TestEdgeTriggeredDepletionFiresOnce() {
	s.warmUp()

	s.calc.OnTrade(marketdata.Trade{
		Symbol: "BTCUSDT", ProviderID: "testex", Size: 1.3, Price: 100.1,
	}, s.base)

	t1 := s.base.Add(50 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 0.05), t1)
	s.Require().NotNil(s.calc.depth)
	firstDepletedSides := append([]string(nil), s.calc.depth.depletedSides...)

	t2 := s.base.Add(60 * time.Millisecond)
	s.calc.OnSnapshot(bookSnapshot(10.0, 0.04), t2)

	s.Equal(firstDepletedSides, s.calc.depth.depletedSides, "depth event is not re-activated on sustained depletion")
}
