package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/engine"
	"orderflow/internal/execution"
	"orderflow/internal/flow"
	"orderflow/internal/hub"
	"orderflow/internal/infra"
	"orderflow/internal/infra/binance"
	"orderflow/internal/infra/storage"
	"orderflow/internal/oi"
	"orderflow/internal/server"
)

// App wires configuration, storage, the market data workers, the
// per-symbol pipelines and the HTTP surface together.
type App struct {
	Config  *infra.Config
	Storage *storage.Storage
	Session *execution.Session
	Hub     *hub.Hub
	Rest    *binance.Client
	Stream  *binance.StreamWorker
	Server  *server.Server

	pipelines map[string]*engine.Pipeline
	resyncing map[string]*atomic.Bool

	runCtx context.Context
	wg     sync.WaitGroup
}

// New creates an uninitialized application.
func New() *App {
	return &App{
		pipelines: make(map[string]*engine.Pipeline),
		resyncing: make(map[string]*atomic.Bool),
	}
}

// Initialize loads configuration and builds the full component graph.
// Nothing is started yet.
func (a *App) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	a.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.NewStorage(cfg.Execution.DBPath)
	if err != nil {
		return err
	}
	a.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Execution.DBPath))

	a.Session = execution.NewSession(store, cfg.Execution.MaxLeverage)
	if err := a.Session.Load(ctx); err != nil {
		return err
	}

	a.Hub = hub.NewHub(cfg.Hub.QueueSize, cfg.Hub.DropCloseThreshold)
	a.Rest = binance.NewClient(cfg.Exchange.RestURL)

	oiFetcher, oiSource := a.oiSource(cfg)
	for _, sym := range cfg.Exchange.Symbols {
		sym := sym
		p := engine.NewPipeline(engine.PipelineConfig{
			Symbol:              sym,
			TradeWindowMs:       cfg.Metrics.TradeWindowMs,
			CvdTimeframes:       flow.DefaultCvdTimeframes(),
			TickInterval:        time.Duration(cfg.Metrics.TickIntervalMs) * time.Millisecond,
			OiPollInterval:      time.Duration(cfg.Exchange.OiPollIntervalSec) * time.Second,
			FundingPollInterval: time.Duration(cfg.Exchange.FundingPollIntervalSec) * time.Second,
			OiSource:            oiSource,
			OnGap:               func() { a.requestResync(sym) },
			OiFetcher:           oiFetcher,
			FundingFetcher:      a.Rest,
		}, a.Hub)
		a.pipelines[sym] = p
		a.resyncing[sym] = &atomic.Bool{}
	}

	a.Stream = binance.NewStreamWorker(cfg.Exchange.WSURL, cfg.Exchange.Symbols, a)
	a.Server = server.NewServer(cfg, a.Hub, a.Session, a.Rest)
	return nil
}

func (a *App) oiSource(cfg *infra.Config) (oi.Fetcher, string) {
	if cfg.Exchange.MockOi {
		return newMockOiFetcher(), "mock"
	}
	return a.Rest, "real"
}

// Run starts the pipelines, the market stream and the HTTP server, then
// schedules the initial book snapshots.
func (a *App) Run(ctx context.Context) error {
	a.runCtx = ctx

	for _, p := range a.pipelines {
		p.Start(ctx)
	}
	if err := a.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect market stream: %w", err)
	}
	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	for sym := range a.pipelines {
		a.requestResync(sym)
	}

	slog.Info("Orderflow backend running",
		slog.Int("symbols", len(a.pipelines)),
		slog.Int("port", a.Config.Server.Port),
	)
	return nil
}

// Shutdown stops the HTTP surface, the stream worker and the pipelines,
// in that order, and waits for in-flight resyncs.
func (a *App) Shutdown(ctx context.Context) {
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
		}
	}
	if a.Stream != nil {
		a.Stream.Disconnect()
	}
	for _, p := range a.pipelines {
		p.Stop()
	}
	a.wg.Wait()
	slog.Info("Shutdown complete")
}

// OnDepthDiff routes one stream diff to its symbol's book. A detected
// gap schedules a snapshot resync; the aggregators are never touched.
func (a *App) OnDepthDiff(symbol string, d domain.DepthDiff) {
	p, ok := a.pipelines[symbol]
	if !ok {
		return
	}
	if res := p.OnDepthDiff(d); res.GapDetected {
		a.requestResync(symbol)
	}
}

// OnTrade routes one aggressive trade into its symbol's aggregators.
func (a *App) OnTrade(symbol string, t domain.Trade) {
	if p, ok := a.pipelines[symbol]; ok {
		p.OnTrade(t)
	}
}

// requestResync fetches a fresh depth snapshot in the background. At
// most one resync per symbol runs at a time; the book keeps serving its
// last known state marked stale until the snapshot lands.
func (a *App) requestResync(symbol string) {
	p, ok := a.pipelines[symbol]
	if !ok {
		return
	}
	flag := a.resyncing[symbol]
	if !flag.CompareAndSwap(false, true) {
		return
	}

	ctx := a.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer flag.Store(false)

		snap, err := a.Rest.FetchDepthSnapshotRetry(ctx, symbol, a.Config.Exchange.SnapshotDepth)
		if err != nil {
			slog.Warn("Depth resync abandoned",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			return
		}
		p.OnDepthSnapshot(snap)
		slog.Info("Depth snapshot applied",
			slog.String("symbol", symbol),
			slog.Int64("last_update_id", snap.LastUpdateID),
		)
	}()
}

// SyncState reports the current book state for one symbol.
func (a *App) SyncState(symbol string) domain.BookState {
	if p, ok := a.pipelines[symbol]; ok {
		return p.Books.State()
	}
	return domain.BookInit
}

var _ binance.StreamHandler = (*App)(nil)

// mockOiFetcher synthesizes a slow random walk for development runs
// without exchange access.
type mockOiFetcher struct {
	mu    sync.Mutex
	value float64
	rng   *rand.Rand
}

func newMockOiFetcher() *mockOiFetcher {
	return &mockOiFetcher{
		value: 1_000_000,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *mockOiFetcher) FetchOpenInterest(context.Context, string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value *= 1 + (m.rng.Float64()-0.5)*0.002
	return m.value, nil
}
