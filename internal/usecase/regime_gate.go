package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	domsvc "TAMObserver/internal/domain/service"
	svcmetrics "TAMObserver/internal/service/metrics"
	"TAMObserver/internal/services/features"
	"TAMObserver/pkg/logger"
)

// RegimeStatus is the last regime label fetched for a symbol.
type RegimeStatus struct {
	Symbol      string    `json:"symbol"`
	State       string    `json:"state"`
	Confidence  float64   `json:"confidence"`
	RealizedVol float64   `json:"realized_vol"`
	Vetoed      bool      `json:"vetoed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RegimeGateConfig tunes the refresher.
type RegimeGateConfig struct {
	Timeframe    domrepo.Timeframe
	Lookback     int
	Interval     time.Duration
	VetoedStates []string
}

// RegimeGate keeps a regime label per symbol, refreshed in the background
// from recent candles and a remote detector. The classifier consults it
// synchronously through For; lookups never do I/O. A label older than three
// refresh intervals no longer vetoes.
type RegimeGate struct {
	candles  domrepo.CandleSource
	detector domsvc.RegimeDetector
	symbols  func() []string
	cfg      RegimeGateConfig
	vetoed   map[string]struct{}
	log      *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	regimes map[string]RegimeStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegimeGate builds a gate refreshing every symbol symbols returns.
func NewRegimeGate(candles domrepo.CandleSource, detector domsvc.RegimeDetector, symbols func() []string, cfg RegimeGateConfig, log *logger.Logger) *RegimeGate {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Lookback < 2 {
		cfg.Lookback = 2
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if !domrepo.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = domrepo.DefaultTimeframe()
	}
	vetoed := make(map[string]struct{}, len(cfg.VetoedStates))
	for _, s := range cfg.VetoedStates {
		vetoed[strings.ToLower(s)] = struct{}{}
	}
	return &RegimeGate{
		candles:  candles,
		detector: detector,
		symbols:  symbols,
		cfg:      cfg,
		vetoed:   vetoed,
		log:      log.With(logger.String("component", "regime_gate")),
		now:      time.Now,
		regimes:  make(map[string]RegimeStatus),
	}
}

// Start refreshes every symbol once, then keeps refreshing on the interval
// until Stop or ctx ends.
func (g *RegimeGate) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.RefreshAll(ctx)
		ticker := time.NewTicker(g.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.RefreshAll(ctx)
			}
		}
	}()
}

func (g *RegimeGate) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

// RefreshAll refreshes every known symbol. Failures keep the previous label.
func (g *RegimeGate) RefreshAll(ctx context.Context) {
	for _, sym := range g.symbols() {
		if ctx.Err() != nil {
			return
		}
		if _, err := g.Refresh(ctx, sym); err != nil {
			g.log.Warn("regime refresh failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
}

// Refresh fetches a new label for symbol.
func (g *RegimeGate) Refresh(ctx context.Context, symbol string) (RegimeStatus, error) {
	cs, err := g.candles.GetLatestNCandles(ctx, symbol, g.cfg.Lookback, g.cfg.Timeframe)
	if err != nil {
		return RegimeStatus{}, fmt.Errorf("latest candles: %w", err)
	}
	rets := features.ComputeLogReturns(cs)
	if len(rets) < 2 {
		return RegimeStatus{}, fmt.Errorf("not enough candles: %d", len(cs))
	}
	regime, err := g.detector.Detect(ctx, symbol, rets)
	if err != nil {
		return RegimeStatus{}, err
	}

	st := RegimeStatus{
		Symbol:      symbol,
		State:       regime.State,
		Confidence:  regime.Confidence,
		RealizedVol: features.RealizedVolatility(rets, len(rets), features.BarsPerYear(string(g.cfg.Timeframe))),
		Vetoed:      g.isVetoed(regime.State),
		UpdatedAt:   g.now().UTC(),
	}
	g.mu.Lock()
	g.regimes[symbol] = st
	g.mu.Unlock()
	svcmetrics.RegimeAge.WithLabelValues(symbol).Set(0)
	return st, nil
}

func (g *RegimeGate) isVetoed(state string) bool {
	_, ok := g.vetoed[strings.ToLower(state)]
	return ok
}

// Status returns the label of symbol, if any.
func (g *RegimeGate) Status(symbol string) (RegimeStatus, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.regimes[symbol]
	if ok {
		svcmetrics.RegimeAge.WithLabelValues(symbol).Set(g.now().Sub(st.UpdatedAt).Seconds())
	}
	return st, ok
}

// For returns the filter the classifier of symbol's stream consults.
func (g *RegimeGate) For(symbol string) domsvc.RegimeFilter {
	return symbolGate{gate: g, symbol: symbol}
}

func (g *RegimeGate) veto(symbol string) (string, bool) {
	g.mu.RLock()
	st, ok := g.regimes[symbol]
	g.mu.RUnlock()
	if !ok || !st.Vetoed {
		return "", false
	}
	if g.now().Sub(st.UpdatedAt) > 3*g.cfg.Interval {
		return "", false
	}
	return fmt.Sprintf("regime %s (confidence %.2f)", st.State, st.Confidence), true
}

type symbolGate struct {
	gate   *RegimeGate
	symbol string
}

func (s symbolGate) Veto(models.Bar, models.DiagnosticVector) (string, bool) {
	return s.gate.veto(s.symbol)
}
