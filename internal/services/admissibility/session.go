package admissibility

import (
	"github.com/google/uuid"

	"TAMObserver/internal/domain/models"
	"TAMObserver/internal/domain/service"
	"TAMObserver/pkg/logger"
)

type options struct {
	engine service.DiagnosticEngine
	filter service.RegimeFilter
	log    *logger.Logger
}

// Option configures sessions created by an Observer.
type Option func(*options)

// WithEngine replaces the default diagnostic engine.
func WithEngine(e service.DiagnosticEngine) Option {
	return func(o *options) { o.engine = e }
}

// WithRegimeFilter lets f veto TENSION->ESCAPE transitions.
func WithRegimeFilter(f service.RegimeFilter) Option {
	return func(o *options) { o.filter = f }
}

// WithLogger logs state changes at debug and invalidations at warn.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{engine: DefaultEngine{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	return o
}

// Session classifies one stream. It is not safe for concurrent use; callers
// feeding one stream from several goroutines must serialize.
type Session struct {
	id          string
	constraints models.ExecutionConstraints
	window      *Window
	engine      service.DiagnosticEngine
	classifier  *Classifier
	log         *logger.Logger

	state    models.AdmissibilityState
	observed uint64
}

func newSession(c models.ExecutionConstraints, o options) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		constraints: c,
		window:      NewWindow(WindowSize),
		engine:      o.engine,
		classifier:  NewClassifier(o.filter),
		log:         o.log.With(logger.String("session_id", id)),
		state:       models.StateBasin,
	}
}

func (s *Session) ID() string                               { return s.id }
func (s *Session) State() models.AdmissibilityState         { return s.state }
func (s *Session) Observed() uint64                         { return s.observed }
func (s *Session) Constraints() models.ExecutionConstraints { return s.constraints }
func (s *Session) EngineVersion() string                    { return s.engine.Version() }

// Observe validates bar, pushes it and returns its record. An invalid bar
// returns a *models.ValidationError and leaves the session untouched.
func (s *Session) Observe(bar models.Bar) (models.ObservationRecord, error) {
	if err := bar.Validate(); err != nil {
		return models.ObservationRecord{}, err
	}

	s.window.Push(bar)
	diag, diagErr := s.engine.Compute(s.window.Snapshot(), s.constraints)
	if diag == nil {
		diag = models.DiagnosticVector{}
	}
	diag[models.DiagWindowFillRatio] = s.window.FillRatio()

	t := s.classifier.Next(s.state, bar, diag, diagErr)
	s.state = t.To
	s.observed++

	rec := Emit(bar, s.constraints, t, diag)
	switch {
	case t.Rule == RuleInvalidated:
		s.log.Warn("stream invalidated",
			logger.String("timestamp", bar.Timestamp),
			logger.String("reason", t.Reason))
	case t.Changed():
		s.log.Debug("state boundary",
			logger.String("timestamp", bar.Timestamp),
			logger.String("event", rec.BoundaryEvent),
			logger.String("mode", rec.DominantMode.String()))
	case t.Rule == RuleVetoed:
		s.log.Debug("escape vetoed",
			logger.String("timestamp", bar.Timestamp),
			logger.String("reason", t.Reason))
	}
	return rec, nil
}
