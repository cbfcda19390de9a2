//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"TAMObserver/pkg/config"
	"TAMObserver/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
	ProvideRedisCache,
	ProvideCache,
)

var repositorySet = wire.NewSet(
	ProvideRecordStore,
	ProvideRecordPublisher,
	ProvideCandleSource,
	ProvideLatestCache,
	ProvideFinnhubStream,
)

var usecaseSet = wire.NewSet(
	ProvideStreamRegistry,
	ProvideObservationProcessor,
	ProvideKafkaBarsHandler,
	ProvideReplay,
	ProvideJobQueue,
	ProvideRegimeGate,
	ProvideBarCollector,
)

var httpSet = wire.NewSet(
	ProvideRateLimiter,
	ProvideObservationsHandler,
	ProvideHTTPServer,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		repositorySet,
		usecaseSet,
		httpSet,
		ProvideApp,
	)
	return &server.App{}, nil
}
