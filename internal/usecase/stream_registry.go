package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	domsvc "TAMObserver/internal/domain/service"
	"TAMObserver/internal/services/admissibility"
	"TAMObserver/pkg/config"
	"TAMObserver/pkg/logger"
)

// ConstraintResolver maps a symbol to the execution constraints its stream
// runs under.
type ConstraintResolver func(symbol string) (models.ExecutionConstraints, error)

// ConfigConstraints resolves constraints from the observer config, honouring
// per-symbol overrides.
func ConfigConstraints(cfg config.ObserverConfig) ConstraintResolver {
	return func(symbol string) (models.ExecutionConstraints, error) {
		c := cfg.ConstraintsFor(symbol)
		return models.NewExecutionConstraints(c.FrictionFloor, c.MinMove)
	}
}

// ValidateConstraints resolves the default pair and every override so a bad
// deployment fails at startup instead of on the first bar.
func ValidateConstraints(cfg config.ObserverConfig) error {
	if _, err := models.NewExecutionConstraints(cfg.FrictionFloor, cfg.MinMove); err != nil {
		return fmt.Errorf("observer defaults: %w", err)
	}
	for sym, c := range cfg.Overrides {
		if _, err := models.NewExecutionConstraints(c.FrictionFloor, c.MinMove); err != nil {
			return fmt.Errorf("observer override %s: %w", sym, err)
		}
	}
	return nil
}

type stream struct {
	mu       sync.Mutex
	observer *admissibility.Observer
	session  *admissibility.Session

	// last observation, its input and the delivery that carried it
	last         *models.StreamObservation
	lastBar      models.Bar
	lastDelivery string
}

type deliveryKey struct{}

// WithDeliveryID tags ctx with the id of the message carrying a bar, such as
// a Kafka topic/partition/offset. Observe treats a second call under the
// same id as a redelivery. An empty id leaves ctx unchanged.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, deliveryKey{}, id)
}

func deliveryID(ctx context.Context) string {
	id, _ := ctx.Value(deliveryKey{}).(string)
	return id
}

func (s *stream) status(symbol string) models.StreamStatus {
	c := s.session.Constraints()
	return models.StreamStatus{
		Symbol:        symbol,
		SessionID:     s.session.ID(),
		State:         s.session.State(),
		Observed:      s.session.Observed(),
		FrictionFloor: c.FrictionFloor,
		MinMove:       c.MinMove,
		MReq:          c.MReq(),
	}
}

// StreamRegistry owns one classification session per symbol. Sessions are
// created on the first bar and live until Reset or process exit. Bars of one
// symbol are serialized; different symbols proceed in parallel.
type StreamRegistry struct {
	resolve   ConstraintResolver
	opts      []admissibility.Option
	filterFor func(symbol string) domsvc.RegimeFilter
	log       *logger.Logger
	now       func() time.Time

	mu      sync.RWMutex
	streams map[string]*stream
}

func NewStreamRegistry(resolve ConstraintResolver, log *logger.Logger, opts ...admissibility.Option) *StreamRegistry {
	if log == nil {
		log = logger.Nop()
	}
	return &StreamRegistry{
		resolve: resolve,
		opts:    opts,
		log:     log,
		now:     time.Now,
		streams: make(map[string]*stream),
	}
}

// SetRegimeFilters gives every stream opened afterwards the filter fn returns
// for its symbol.
func (r *StreamRegistry) SetRegimeFilters(fn func(symbol string) domsvc.RegimeFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filterFor = fn
}

func normalizeSymbol(symbol string) (string, error) {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return "", fmt.Errorf("symbol is required")
	}
	return s, nil
}

func (r *StreamRegistry) get(symbol string) (*stream, error) {
	r.mu.RLock()
	s, ok := r.streams[symbol]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	c, err := r.resolve(symbol)
	if err != nil {
		return nil, fmt.Errorf("constraints for %s: %w", symbol, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[symbol]; ok {
		return s, nil
	}
	opts := append(slices.Clone(r.opts), admissibility.WithLogger(r.log.With(logger.String("symbol", symbol))))
	if r.filterFor != nil {
		opts = append(opts, admissibility.WithRegimeFilter(r.filterFor(symbol)))
	}
	o := admissibility.NewObserver(c, opts...)
	s = &stream{observer: o, session: o.NewSession()}
	r.streams[symbol] = s
	r.log.Info("stream opened",
		logger.String("symbol", symbol),
		logger.String("session_id", s.session.ID()),
		logger.Float64("m_req", c.MReq()))
	return s, nil
}

// Observe classifies bar on symbol's stream. fresh is false when ctx carries
// the delivery id of the stream's previous bar and bar matches it; the
// earlier observation is returned and the window is left alone, so
// redelivered messages are safe to retry. Without a delivery id every bar is
// observed, identical consecutive bars included. A *models.ValidationError leaves the stream untouched. The returned
// observation is shared and must not be modified.
func (r *StreamRegistry) Observe(ctx context.Context, symbol string, bar models.Bar) (obs *models.StreamObservation, fresh bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	symbol, err = normalizeSymbol(symbol)
	if err != nil {
		return nil, false, err
	}
	s, err := r.get(symbol)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := deliveryID(ctx)
	if id != "" && s.last != nil && s.lastDelivery == id && s.lastBar == bar {
		return s.last, false, nil
	}
	rec, err := s.session.Observe(bar)
	if err != nil {
		return nil, false, err
	}
	obs = &models.StreamObservation{
		Symbol:        symbol,
		SessionID:     s.session.ID(),
		Seq:           s.session.Observed(),
		EngineVersion: s.session.EngineVersion(),
		ObservedAt:    r.now().UTC(),
		Record:        rec,
	}
	s.last, s.lastBar, s.lastDelivery = obs, bar, id
	return obs, true, nil
}

// Reset discards symbol's window and starts a new session in BASIN. Unknown
// symbols get a stream created for them.
func (r *StreamRegistry) Reset(symbol string) (models.StreamStatus, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return models.StreamStatus{}, err
	}
	s, err := r.get(symbol)
	if err != nil {
		return models.StreamStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.session.ID()
	s.session = s.observer.NewSession()
	s.last, s.lastBar, s.lastDelivery = nil, models.Bar{}, ""
	r.log.Info("stream reset",
		logger.String("symbol", symbol),
		logger.String("previous_session_id", prev),
		logger.String("session_id", s.session.ID()))
	return s.status(symbol), nil
}

// Status returns the live status of symbol, or domrepo.ErrNotFound.
func (r *StreamRegistry) Status(symbol string) (models.StreamStatus, error) {
	r.mu.RLock()
	s, ok := r.streams[strings.TrimSpace(symbol)]
	r.mu.RUnlock()
	if !ok {
		return models.StreamStatus{}, domrepo.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status(strings.TrimSpace(symbol)), nil
}

// Latest returns the newest observation of symbol's current session, or
// domrepo.ErrNotFound.
func (r *StreamRegistry) Latest(symbol string) (*models.StreamObservation, error) {
	r.mu.RLock()
	s, ok := r.streams[strings.TrimSpace(symbol)]
	r.mu.RUnlock()
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, domrepo.ErrNotFound
	}
	return s.last, nil
}

// Symbols lists the symbols with a live stream.
func (r *StreamRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.streams))
	for sym := range r.streams {
		out = append(out, sym)
	}
	slices.Sort(out)
	return out
}

// Streams lists every live stream ordered by symbol.
func (r *StreamRegistry) Streams() []models.StreamStatus {
	symbols := r.Symbols()
	out := make([]models.StreamStatus, 0, len(symbols))
	for _, sym := range symbols {
		if st, err := r.Status(sym); err == nil {
			out = append(out, st)
		}
	}
	return out
}
