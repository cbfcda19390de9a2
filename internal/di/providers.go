package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"TAMObserver/internal/domain/repository"
	"TAMObserver/internal/handler/api"
	mid "TAMObserver/internal/middleware"
	internalrepo "TAMObserver/internal/repository"
	"TAMObserver/internal/service/finnhub"
	svcmetrics "TAMObserver/internal/service/metrics"
	"TAMObserver/internal/service/ratelimit"
	"TAMObserver/internal/services/analytics"
	"TAMObserver/internal/usecase"
	"TAMObserver/pkg/cache"
	pkgch "TAMObserver/pkg/clickhouse"
	"TAMObserver/pkg/config"
	xhttp "TAMObserver/pkg/http"
	pkgkafka "TAMObserver/pkg/kafka"
	applogger "TAMObserver/pkg/logger"
	"TAMObserver/pkg/metrics"
	"TAMObserver/pkg/queue"
	"TAMObserver/pkg/server"
)

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates the Prometheus recorder and registers the analytics
// collectors alongside it.
func ProvideMetrics() repository.Metrics {
	svcmetrics.Register(prometheus.DefaultRegisterer)
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and, unless disabled,
// creates the observation and candle tables.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database, cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, cfg.ClickHouse.ConnMaxLifetime),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.InitSchema {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch := cfg.ClickHouse
	if err := client.InitSchema(ctx, internalrepo.Schema(ch.Database, ch.RecordsTable, ch.CandlesTable, ch.SecondsTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRecordStore stores observations in the records table.
func ProvideRecordStore(ch *pkgch.Client, cfg *config.Config) repository.RecordStore {
	return internalrepo.NewClickHouseRecordStore(ch, cfg.ClickHouse.RecordsTable, nil)
}

// ProvideCandleSource reads and writes the 1s and 1m candle tables.
func ProvideCandleSource(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.CHCandleSource {
	return internalrepo.NewCHCandleSource(ch, cfg.ClickHouse.CandlesTable, cfg.ClickHouse.SecondsTable, l)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers...),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Producer.Async),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRecordPublisher publishes observations to the records topic.
func ProvideRecordPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.RecordPublisher {
	return internalrepo.NewKafkaRecordPublisher(producer, cfg.Kafka.RecordsTopic)
}

// ProvideKafkaConsumer creates the bars consumer, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	cl := l.With(applogger.String("component", "kafka_consumer"))
	consumer.SetLogger(cl)
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{}, pkgkafka.LoggingHook{Log: cl}))
	return consumer, nil
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(cfg.Redis.Pool.Size, cfg.Redis.Pool.MinIdle, cfg.Redis.Pool.WaitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process LRU over Redis when Redis is available
// and falls back to the LRU alone.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MemoryEntries),
			cache.WithMemoryCleanup(cfg.Cache.MemorySweep))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryEntries),
		cache.WithLayeredL1TTL(cfg.Cache.MemoryTTL))
}

// ProvideLatestCache keeps the newest observation per stream.
func ProvideLatestCache(c cache.Service, cfg *config.Config) *internalrepo.LatestRecordCache {
	return internalrepo.NewLatestRecordCache(c, cfg.Cache.LatestTTL)
}

// ProvideStreamRegistry validates every configured constraint pair before the
// first bar arrives.
func ProvideStreamRegistry(cfg *config.Config, l *applogger.Logger) (*usecase.StreamRegistry, error) {
	if err := usecase.ValidateConstraints(cfg.Observer); err != nil {
		return nil, err
	}
	return usecase.NewStreamRegistry(usecase.ConfigConstraints(cfg.Observer), l), nil
}

// ProvideObservationProcessor routes observations to the configured backend.
func ProvideObservationProcessor(
	registry *usecase.StreamRegistry,
	pub repository.RecordPublisher,
	store repository.RecordStore,
	latest *internalrepo.LatestRecordCache,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.ObservationProcessor {
	return usecase.NewObservationProcessor(registry, pub, store, latest, m, l, cfg.Backend.Type)
}

// ProvideKafkaBarsHandler feeds the bars topic into the live streams.
func ProvideKafkaBarsHandler(proc *usecase.ObservationProcessor, m repository.Metrics, cfg *config.Config) *usecase.KafkaBarsHandler {
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, proc, m)
}

// ProvideReplay builds the replay use case over the candle tables.
func ProvideReplay(candles *internalrepo.CHCandleSource, c cache.Service, cfg *config.Config, l *applogger.Logger) *usecase.ReplayUseCase {
	return usecase.NewReplayUseCase(candles, usecase.ConfigConstraints(cfg.Observer), c, cfg.Cache.ReplayTTL, l)
}

// ProvideJobQueue creates the replay job queue on Redis, or nil when the
// queue is disabled.
func ProvideJobQueue(
	cfg *config.Config,
	rc *cache.RedisCache,
	replay *usecase.ReplayUseCase,
	proc *usecase.ObservationProcessor,
	l *applogger.Logger,
) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	ql := l.With(applogger.String("component", "queue"))
	q := queue.NewRedisQueue(ql, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: max(cfg.Queue.MaxAttempts-1, 0),
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.ModeProducerConsumer,
		queue.WithKeyPrefix(fmt.Sprintf("%s:queue:%s", cfg.Redis.Prefix, cfg.Queue.Name)))
	q.RegisterJob(usecase.NewReplayJob(replay, proc, cfg.Backend.BatchSize, ql))
	return q
}

// ProvideRegimeGate builds the regime veto and installs it on the registry,
// or returns nil when the veto is disabled.
func ProvideRegimeGate(
	cfg *config.Config,
	candles *internalrepo.CHCandleSource,
	registry *usecase.StreamRegistry,
	l *applogger.Logger,
) *usecase.RegimeGate {
	rv := cfg.Analytics.RegimeVeto
	if !rv.Enabled {
		return nil
	}
	detector := analytics.NewHTTPRegimeDetector(rv.ServiceURL, rv.Timeout)
	gate := usecase.NewRegimeGate(candles, detector, registry.Symbols, usecase.RegimeGateConfig{
		Timeframe:    repository.NormalizeTimeframe(cfg.Observer.Timeframe),
		Lookback:     rv.Lookback,
		Interval:     rv.RefreshInterval,
		VetoedStates: rv.VetoedStates,
	}, l)
	registry.SetRegimeFilters(gate.For)
	return gate
}

// ProvideFinnhubStream creates the Finnhub WebSocket stream.
func ProvideFinnhubStream(cfg *config.Config, l *applogger.Logger) repository.MarketStream {
	return finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Finnhub.Symbols,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
		l,
	)
}

// ProvideBarCollector aggregates live trades into bars, or returns nil when
// the live feed is disabled.
func ProvideBarCollector(
	cfg *config.Config,
	stream repository.MarketStream,
	proc *usecase.ObservationProcessor,
	candles *internalrepo.CHCandleSource,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.BarCollector {
	if !cfg.Finnhub.Enabled {
		return nil
	}
	tf := repository.NormalizeTimeframe(cfg.Observer.Timeframe)
	pipe := mid.NewRealtimePipeline(proc, m, mid.WithBufferSize(cfg.Finnhub.BufferSize))

	// 5m candles are folded from the 1m table and are not stored directly
	var writer usecase.CandleWriter
	if tf == repository.TF1s || tf == repository.TF1m {
		writer = candles
	}
	return usecase.NewBarCollector(stream, usecase.NewBarAggregator(tf), pipe, writer, m, l)
}

// ProvideRateLimiter guards the write endpoints.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

// ProvideObservationsHandler assembles the HTTP API. Disabled features are
// left nil so their endpoints answer 503.
func ProvideObservationsHandler(
	l *applogger.Logger,
	registry *usecase.StreamRegistry,
	replay *usecase.ReplayUseCase,
	jobs *queue.RedisQueue,
	latest *internalrepo.LatestRecordCache,
	store repository.RecordStore,
	gate *usecase.RegimeGate,
	limiter *ratelimit.Limiter,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	collector *usecase.BarCollector,
) *api.ObservationsEchoHandler {
	deps := api.ObservationsDeps{
		Streams: registry,
		Replay:  replay,
		Latest:  latest,
		History: store,
		Limiter: limiter,
		Checks: map[string]api.HealthCheck{
			"clickhouse": ch.Health,
		},
	}
	if jobs != nil {
		deps.Scheduler = usecase.NewReplayScheduler(jobs)
	}
	if gate != nil {
		deps.Regime = gate
	}
	if rc != nil {
		deps.Checks["redis"] = func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() }
	}
	if collector != nil {
		deps.Checks["market_stream"] = func(context.Context) error {
			if !collector.IsConnected() {
				return fmt.Errorf("market stream disconnected")
			}
			return nil
		}
	}
	return api.NewObservationsEchoHandler(l.With(applogger.String("component", "api")), deps)
}

// ProvideHTTPServer builds the echo server with the metrics endpoint.
func ProvideHTTPServer(cfg *config.Config, h *api.ObservationsEchoHandler, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	proc *usecase.ObservationProcessor,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	bars *usecase.KafkaBarsHandler,
	jobs *queue.RedisQueue,
	gate *usecase.RegimeGate,
	c cache.Service,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	srv *xhttp.Server,
) *server.App {
	return server.New(cfg, l, server.Components{
		Processor: proc,
		Collector: collector,
		Consumer:  consumer,
		Bars:      bars,
		Jobs:      jobs,
		Regime:    gate,
		Cache:     c,
		CH:        ch,
		Producer:  producer,
		HTTP:      srv,
	})
}
