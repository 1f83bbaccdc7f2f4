package engine

import (
	"context"
	"time"

	"orderflow/internal/book"
	"orderflow/internal/domain"
	"orderflow/internal/flow"
	"orderflow/internal/infra"
	"orderflow/internal/oi"
)

// Pipeline owns every per-symbol component and funnels the four inbound
// streams (depth, trades, OI polls, assembly ticks) into them. Each
// mutable structure keeps exactly one writer; the assembler only reads,
// apart from the calculator histories it samples once per envelope.
type Pipeline struct {
	Symbol string

	Books   *book.Synchroniser
	Trades  *flow.TradeAggregator
	Cvd     *flow.CvdCalculator
	OiMon   *oi.Monitor
	Funding *oi.FundingTracker
	Calc    *Calculator

	assembler *Assembler
}

// PipelineConfig carries the per-symbol tunables.
type PipelineConfig struct {
	Symbol              string
	TradeWindowMs       int64
	CvdTimeframes       map[string]int64
	TickInterval        time.Duration
	OiPollInterval      time.Duration
	FundingPollInterval time.Duration
	OiSource            string

	// OnGap requests a fresh depth snapshot after a sequence gap.
	OnGap func()

	OiFetcher      oi.Fetcher
	FundingFetcher oi.FundingFetcher
}

// NewPipeline builds the component graph for one symbol and wires its
// assembler to the given publisher.
func NewPipeline(cfg PipelineConfig, publisher Publisher) *Pipeline {
	p := &Pipeline{
		Symbol:  cfg.Symbol,
		Books:   book.NewSynchroniser(cfg.Symbol, cfg.OnGap),
		Trades:  flow.NewTradeAggregator(cfg.TradeWindowMs),
		Cvd:     flow.NewCvdCalculator(cfg.CvdTimeframes),
		OiMon:   oi.NewMonitor(cfg.Symbol, cfg.OiFetcher, cfg.OiSource, cfg.OiPollInterval),
		Funding: oi.NewFundingTracker(cfg.Symbol, cfg.FundingFetcher, cfg.FundingPollInterval),
		Calc:    NewCalculator(),
	}
	p.assembler = NewAssembler(
		cfg.Symbol, p.Books, p.Trades, p.Cvd, p.OiMon, p.Funding, p.Calc,
		publisher, cfg.TickInterval,
	)
	return p
}

// Start launches the OI poller, funding tracker and assembler tick.
func (p *Pipeline) Start(ctx context.Context) {
	if p.OiMon != nil {
		p.OiMon.Start(ctx)
	}
	if p.Funding != nil {
		p.Funding.Start(ctx)
	}
	p.assembler.Start(ctx)
}

// Stop halts the timed tasks; stream adapters are stopped by their owner.
func (p *Pipeline) Stop() {
	p.assembler.Stop()
	if p.Funding != nil {
		p.Funding.Stop()
	}
	if p.OiMon != nil {
		p.OiMon.Stop()
	}
}

// OnDepthSnapshot feeds a fresh REST snapshot into the book.
func (p *Pipeline) OnDepthSnapshot(snap domain.DepthSnapshot) {
	p.Books.ApplySnapshot(snap)
}

// OnDepthDiff feeds one diff event into the book synchroniser.
func (p *Pipeline) OnDepthDiff(d domain.DepthDiff) book.ApplyResult {
	res := p.Books.ApplyDiff(d)
	switch {
	case res.Applied:
		infra.GlobalMetrics.RecordDiffApplied()
	case res.GapDetected:
		infra.GlobalMetrics.RecordGap()
	}
	return res
}

// OnTrade feeds one aggressive trade into the aggregator, the CVD
// windows and the composite calculator. A book resync never touches
// these components.
func (p *Pipeline) OnTrade(t domain.Trade) {
	p.Trades.AddTrade(t)
	p.Cvd.AddTrade(t)
	p.Calc.AddTrade(t)
}
