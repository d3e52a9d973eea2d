// Command marketpulse wires the ring-buffer bus, provider watchdog,
// resilience/bias and VPIN calculators, a reference Binance connector
// and a health/metrics HTTP server into one running analytics core.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/marketpulse/resilience/internal/bus"
	"github.com/marketpulse/resilience/internal/config"
	"github.com/marketpulse/resilience/internal/exchange"
	"github.com/marketpulse/resilience/internal/marketdata"
	"github.com/marketpulse/resilience/internal/resilience"
	"github.com/marketpulse/resilience/internal/series"
	"github.com/marketpulse/resilience/internal/settings"
	"github.com/marketpulse/resilience/internal/vpin"
	"github.com/marketpulse/resilience/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}

	if err := app.start(ctx); err != nil {
		log.Fatalf("start app: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info(ctx, "shutting down", nil)
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Bus.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := app.stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown error", err, nil)
	}
}

// app holds every wired component so main stays a thin entrypoint.
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	bus      *bus.Bus
	watchdog *marketdata.Watchdog

	metrics *observability.MetricsProvider
	health  *observability.HealthServer
	httpSrv *http.Server

	connector exchange.Connector

	settingsReader *settings.Reader

	resilienceSeries *series.Series
	vpinSeries       *series.Series

	calcMu    sync.Mutex
	biasCalcs map[string]*resilience.BiasCalculator
	vpinCalcs map[string]*vpin.Calculator

	group *bus.Group
	sub   *bus.ImmutableSubscription
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	b, err := bus.NewBus(int64(cfg.Bus.SnapshotCapacity))
	if err != nil {
		return nil, fmt.Errorf("new bus: %w", err)
	}
	b.SetMaxSymbols(cfg.Bus.MaxSymbols)

	var settingsReader *settings.Reader
	if cfg.Settings.Dir != "" {
		settingsReader = settings.NewReader(cfg.Settings.Dir)
	}

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: "dev",
		Namespace:      "marketpulse",
		Enabled:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("new metrics provider: %w", err)
	}

	checker := observability.NewHealthChecker(logger)
	health := observability.NewHealthServer(checker, observability.ServiceInfo{
		Name: cfg.Observability.ServiceName,
	}, logger)

	resilienceSeries, err := series.New("resilience_score", int64(cfg.Bus.SeriesCapacity), series.Window1s, series.RunningMean)
	if err != nil {
		return nil, fmt.Errorf("new resilience series: %w", err)
	}
	vpinSeries, err := series.New("vpin", int64(cfg.Bus.SeriesCapacity), series.WindowNone, series.PassthroughNewBucket)
	if err != nil {
		return nil, fmt.Errorf("new vpin series: %w", err)
	}

	a := &app{
		cfg:              cfg,
		logger:           logger,
		bus:              b,
		metrics:          metrics,
		health:           health,
		settingsReader:   settingsReader,
		resilienceSeries: resilienceSeries,
		vpinSeries:       vpinSeries,
		biasCalcs:        make(map[string]*resilience.BiasCalculator),
		vpinCalcs:        make(map[string]*vpin.Calculator),
		group:            bus.NewGroup(cfg.Bus.ShutdownGracePeriod),
	}

	a.watchdog = marketdata.New(b, cfg.Watchdog.StaleAfter, cfg.Watchdog.CheckInterval, a.onWatchdogNotification)

	a.connector = exchange.NewBinanceConnector(exchange.BinanceConfig{
		WSBaseURL:            cfg.Exchange.BinanceWSEndpoint,
		Symbols:              cfg.Exchange.Symbols,
		InitialBackoff:       cfg.Exchange.InitialBackoff,
		MaxBackoff:           cfg.Exchange.MaxBackoff,
		BackoffMultiplier:    cfg.Exchange.BackoffMultiplier,
		MaxReconnectAttempts: cfg.Exchange.MaxReconnectAttempts,
	}, exchange.Sink{
		Bus:    b,
		Trades: a.onTrade,
		Touch:  a.watchdog.Touch,
	}, logger)

	router := mux.NewRouter()
	health.RegisterRoutes(router)

	a.httpSrv = &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

func (a *app) start(ctx context.Context) error {
	sub, err := a.bus.SubscribeImmutable("calculators")
	if err != nil {
		return fmt.Errorf("subscribe calculators: %w", err)
	}
	a.sub = sub

	a.group.Go(func() error {
		bus.Run[*bus.OrderBookSnapshot](ctx, sub, a.onSnapshot, func(err error) {
			a.logger.Error(ctx, "calculator dispatch failure", err, nil)
		})
		return nil
	})

	a.watchdog.Start()

	a.logger.Info(ctx, "starting exchange connector", map[string]interface{}{
		"symbols": symbolsLabel(a.cfg.Exchange.Symbols),
	})
	if err := a.connector.Start(ctx); err != nil {
		return fmt.Errorf("start connector: %w", err)
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error(ctx, "health server error", err, nil)
		}
	}()

	go func() {
		if err := a.metrics.StartMetricsServer(a.cfg.Observability.MetricsPort); err != nil && err != http.ErrServerClosed {
			a.logger.Error(ctx, "metrics server error", err, nil)
		}
	}()

	return nil
}

func (a *app) stop(ctx context.Context) error {
	if err := a.connector.Stop(ctx); err != nil {
		a.logger.Error(ctx, "connector stop error", err, nil)
	}
	a.watchdog.Stop()
	if a.sub != nil {
		a.sub.Cursor().Cancel()
	}
	if err := a.group.Shutdown(); err != nil {
		a.logger.Error(ctx, "dispatch group shutdown error", err, nil)
	}
	a.bus.Close()
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Error(ctx, "metrics shutdown error", err, nil)
	}
	return a.httpSrv.Shutdown(ctx)
}

func (a *app) onSnapshot(ctx context.Context, snap *bus.OrderBookSnapshot, seq int64) error {
	now := time.Now()
	bc := a.biasCalculatorFor(snap.Symbol)
	bc.Calculator().OnSnapshot(snap, now)
	return nil
}

func (a *app) onTrade(t marketdata.Trade) {
	now := time.Now()
	bc := a.biasCalculatorFor(t.Symbol)
	bc.Calculator().OnTrade(t, now)

	vc := a.vpinCalculatorFor(t.Symbol)
	vc.OnTrade(t)
}

func (a *app) biasCalculatorFor(symbol string) *resilience.BiasCalculator {
	a.calcMu.Lock()
	defer a.calcMu.Unlock()
	bc, ok := a.biasCalcs[symbol]
	if !ok {
		rcfg := resilience.Config{
			ShockTimeout:       a.cfg.Resilience.ShockTimeout,
			RollingWindowSize:  a.cfg.Resilience.RollingWindowSize,
			TradeShockZ:        a.cfg.Resilience.TradeShockZ,
			SpreadShockZ:       a.cfg.Resilience.SpreadShockZ,
			DepthDropThreshold: a.cfg.Resilience.DepthDropThreshold,
			BiasHysteresis:     a.cfg.Resilience.BiasHysteresis,
		}
		if ps, ok := a.pluginSettingsForLocked(symbol); ok && ps.ShockTimeoutMS > 0 {
			rcfg.ShockTimeout = time.Duration(ps.ShockTimeoutMS) * time.Millisecond
		}
		bc = resilience.NewBias(rcfg, func(e resilience.BiasEvent) {
			a.resilienceSeries.Publish(symbol, time.Now().UnixNano(), series.PublishInput{
				Value:        e.Score.Value,
				MidPrice:     e.Score.MidPrice,
				HaveMidPrice: e.Score.HaveMidPrice,
			})
		})
		a.biasCalcs[symbol] = bc
	}
	return bc
}

func (a *app) vpinCalculatorFor(symbol string) *vpin.Calculator {
	a.calcMu.Lock()
	defer a.calcMu.Unlock()
	vc, ok := a.vpinCalcs[symbol]
	if !ok {
		bucketSize := a.cfg.VPIN.BucketVolumeSize
		if ps, ok := a.pluginSettingsForLocked(symbol); ok && ps.BucketVolumeSize > 0 {
			bucketSize = ps.BucketVolumeSize
		}
		vc = vpin.New(bucketSize, func(r vpin.Reading) {
			a.vpinSeries.Publish(r.Symbol, time.Now().UnixNano(), series.PublishInput{
				Value:     r.Value,
				NewBucket: r.IsNewBucket,
			})
		})
		a.vpinCalcs[symbol] = vc
	}
	return vc
}

// pluginSettingsForLocked loads the persisted per-symbol settings file,
// if one exists, used to override the env-seeded resilience/VPIN
// defaults at calculator-construction time. Callers must hold calcMu.
func (a *app) pluginSettingsForLocked(symbol string) (settings.PluginSettings, bool) {
	if a.settingsReader == nil {
		return settings.PluginSettings{}, false
	}
	ps, err := a.settingsReader.Load("marketpulse:" + symbol)
	if err != nil {
		return settings.PluginSettings{}, false
	}
	return ps, true
}

func (a *app) onWatchdogNotification(kind marketdata.NotificationKind, providerID string) {
	a.logger.Warn(context.Background(), "provider notification", map[string]interface{}{
		"provider": providerID,
		"kind":     string(kind),
	})
}

func symbolsLabel(symbols []string) string {
	return strings.Join(symbols, ",")
}
