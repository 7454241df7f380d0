//go:build wireinject
// +build wireinject

package di

import (
	"QuantSync/pkg/config"
	"QuantSync/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvidePostgresClient,
		ProvideClickHouseClient,
		ProvideRedisClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideLogPublisher,
		ProvideCache,

		// Repositories
		ProvidePositionRepository,
		ProvideDecisionRepository,
		ProvideConsolidationStore,
		ProvideInstanceRegistry,
		ProvideMarkovStore,
		ProvideMarketData,
		ProvideDecisionPublisher,

		// Domain services
		ProvidePhaseTracker,
		ProvideLedger,
		ProvideMarkovRegistry,
		ProvideFusionEngine,
		ProvideAggregateCache,
		ProvideChangeLog,
		ProvideMapper,
		ProvideConsolidator,
		ProvideSyncer,
		ProvideScoreFeed,
		ProvideProducers,
		ProvideOrderExecutor,
		ProvideOrderLimiter,

		// Use cases
		ProvideTradingCycle,
		ProvideScheduler,
		ProvideBarsHandler,

		// HTTP
		ProvideOpsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
