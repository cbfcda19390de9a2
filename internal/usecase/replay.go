package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	"TAMObserver/internal/services/admissibility"
	"TAMObserver/pkg/cache"
	"TAMObserver/pkg/logger"
	"TAMObserver/pkg/util"
)

// ReplayUseCase runs stored candles through a fresh session. Replays never
// touch the live registry.
type ReplayUseCase struct {
	candles domrepo.CandleSource
	resolve ConstraintResolver
	cache   cache.Service
	ttl     time.Duration
	opts    []admissibility.Option
	log     *logger.Logger
}

// NewReplayUseCase wires the use case. c may be nil to disable response
// caching.
func NewReplayUseCase(candles domrepo.CandleSource, resolve ConstraintResolver, c cache.Service, ttl time.Duration, log *logger.Logger, opts ...admissibility.Option) *ReplayUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &ReplayUseCase{candles: candles, resolve: resolve, cache: c, ttl: ttl, opts: opts, log: log}
}

type ReplayParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe domrepo.Timeframe
}

type ReplayResult struct {
	Symbol        string                     `json:"symbol"`
	Timeframe     string                     `json:"tf"`
	From          time.Time                  `json:"from"`
	To            time.Time                  `json:"to"`
	SessionID     string                     `json:"session_id"`
	EngineVersion string                     `json:"engine_version"`
	FrictionFloor float64                    `json:"friction_floor"`
	MinMove       float64                    `json:"min_move"`
	MReq          float64                    `json:"m_req"`
	Count         int                        `json:"count"`
	Records       []models.ObservationRecord `json:"records"`
	Rejected      []string                   `json:"rejected,omitempty"`
}

func (p *ReplayParams) normalize() error {
	if p.Symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if p.From.IsZero() {
		return fmt.Errorf("from required")
	}
	if p.To.IsZero() {
		p.To = time.Now().UTC()
	}
	if p.From.After(p.To) {
		return fmt.Errorf("from must be <= to")
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		p.Timeframe = domrepo.DefaultTimeframe()
	}
	p.From, p.To = util.AlignFromTo(p.From.UTC(), p.To.UTC(), p.Timeframe.Duration())
	return nil
}

func (p ReplayParams) cacheKey() string {
	return cache.GenerateKeyWithParams("replay", p.Symbol, string(p.Timeframe), p.From.Unix(), p.To.Unix())
}

// Replay classifies the candles of [From, To]. Results are cached for the
// configured TTL.
func (uc *ReplayUseCase) Replay(ctx context.Context, p ReplayParams) (*ReplayResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	key := p.cacheKey()
	if uc.cache != nil {
		var cached ReplayResult
		err := uc.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			uc.log.Warn("replay cache read failed", logger.String("key", key), logger.Error(err))
		}
	}

	res, err := uc.run(ctx, p)
	if err != nil {
		return nil, err
	}
	if uc.cache != nil && uc.ttl > 0 {
		if err := uc.cache.Set(ctx, key, res, uc.ttl); err != nil {
			uc.log.Warn("replay cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return res, nil
}

// Run is Replay without the cache; every call starts a new session.
func (uc *ReplayUseCase) Run(ctx context.Context, p ReplayParams) (*ReplayResult, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return uc.run(ctx, p)
}

func (uc *ReplayUseCase) run(ctx context.Context, p ReplayParams) (*ReplayResult, error) {
	c, err := uc.resolve(p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("constraints for %s: %w", p.Symbol, err)
	}
	candles, err := uc.candles.GetCandles(ctx, p.Symbol, p.From, p.To, p.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}

	session := admissibility.NewObserver(c, uc.opts...).NewSession()
	res := &ReplayResult{
		Symbol:        p.Symbol,
		Timeframe:     string(p.Timeframe),
		From:          p.From,
		To:            p.To,
		SessionID:     session.ID(),
		EngineVersion: session.EngineVersion(),
		FrictionFloor: c.FrictionFloor,
		MinMove:       c.MinMove,
		MReq:          c.MReq(),
		Records:       make([]models.ObservationRecord, 0, len(candles)),
	}
	var held *models.Candle
	for _, cd := range candles {
		if held != nil {
			cd, held = cd.Absorb(*held), nil
		}
		if cd.Flat() {
			held = &cd
			continue
		}
		rec, err := session.Observe(cd.Bar())
		if err != nil {
			res.Rejected = append(res.Rejected, err.Error())
			continue
		}
		res.Records = append(res.Records, rec)
	}
	res.Count = len(res.Records)
	uc.log.Debug("replay finished",
		logger.String("symbol", p.Symbol),
		logger.String("tf", string(p.Timeframe)),
		logger.Int("records", res.Count),
		logger.Int("rejected", len(res.Rejected)))
	return res, nil
}

// Observations converts a replay into persistable observations stamped with
// the replay's own session.
func (r *ReplayResult) Observations(now time.Time) []*models.StreamObservation {
	out := make([]*models.StreamObservation, 0, len(r.Records))
	for i, rec := range r.Records {
		out = append(out, &models.StreamObservation{
			Symbol:        r.Symbol,
			SessionID:     r.SessionID,
			Seq:           uint64(i + 1),
			EngineVersion: r.EngineVersion,
			ObservedAt:    now.UTC(),
			Record:        rec,
		})
	}
	return out
}
