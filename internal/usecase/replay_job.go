package usecase

import (
	"context"
	"fmt"
	"slices"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	"TAMObserver/pkg/logger"
	"TAMObserver/pkg/queue"
)

// ReplayJobType is the queue message type of a replay job.
const ReplayJobType = "replay.run"

// ReplayJobPayload is the queued form of a replay request.
type ReplayJobPayload struct {
	Symbol string    `json:"symbol"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	TF     string    `json:"tf"`
}

func (p ReplayJobPayload) params() ReplayParams {
	return ReplayParams{
		Symbol:    p.Symbol,
		From:      p.From,
		To:        p.To,
		Timeframe: domrepo.NormalizeTimeframe(p.TF),
	}
}

// BatchProcessor delivers observations to the record sinks.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch []*models.StreamObservation) error
}

// ReplayJob runs a queued replay and persists its records under the replay's
// own session id.
type ReplayJob struct {
	replay    *ReplayUseCase
	sink      BatchProcessor
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

// NewReplayJob writes replay records to sink in chunks of batchSize.
func NewReplayJob(replay *ReplayUseCase, sink BatchProcessor, batchSize int, log *logger.Logger) *ReplayJob {
	if log == nil {
		log = logger.Nop()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ReplayJob{replay: replay, sink: sink, batchSize: batchSize, log: log, now: time.Now}
}

func (j *ReplayJob) Name() string { return "replay" }
func (j *ReplayJob) Type() string { return ReplayJobType }

func (j *ReplayJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[ReplayJobPayload](payload)
	if err != nil {
		return err
	}
	res, err := j.replay.Run(ctx, p.params())
	if err != nil {
		return fmt.Errorf("replay %s: %w", p.Symbol, err)
	}
	for chunk := range slices.Chunk(res.Observations(j.now()), j.batchSize) {
		if err := j.sink.ProcessBatch(ctx, chunk); err != nil {
			return fmt.Errorf("persist replay %s: %w", p.Symbol, err)
		}
	}
	j.log.Info("replay job finished",
		logger.String("symbol", res.Symbol),
		logger.String("session_id", res.SessionID),
		logger.Int("records", res.Count),
		logger.Int("rejected", len(res.Rejected)))
	return nil
}

var _ queue.Job = (*ReplayJob)(nil)

// JobEnqueuer is the producer side of the job queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// ReplayScheduler validates replay requests and queues them.
type ReplayScheduler struct {
	queue JobEnqueuer
}

func NewReplayScheduler(q JobEnqueuer) *ReplayScheduler {
	return &ReplayScheduler{queue: q}
}

// Schedule queues a replay and returns the job id.
func (s *ReplayScheduler) Schedule(ctx context.Context, p ReplayParams) (string, error) {
	if err := p.normalize(); err != nil {
		return "", err
	}
	return s.queue.Enqueue(ctx, ReplayJobType, ReplayJobPayload{
		Symbol: p.Symbol,
		From:   p.From,
		To:     p.To,
		TF:     string(p.Timeframe),
	})
}
