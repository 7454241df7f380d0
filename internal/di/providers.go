package di

import (
	"context"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"
	domsvc "QuantSync/internal/domain/service"
	"QuantSync/internal/handler/api"
	internalrepo "QuantSync/internal/repository"
	"QuantSync/internal/repository/memory"
	"QuantSync/internal/service/broker"
	"QuantSync/internal/service/ratelimit"
	"QuantSync/internal/services/consolidation"
	"QuantSync/internal/services/fusion"
	"QuantSync/internal/services/ledger"
	"QuantSync/internal/services/markov"
	"QuantSync/internal/services/phase"
	"QuantSync/internal/services/producers"
	"QuantSync/internal/usecase"
	"QuantSync/pkg/cache"
	pkgch "QuantSync/pkg/clickhouse"
	"QuantSync/pkg/config"
	xhttp "QuantSync/pkg/http"
	pkgkafka "QuantSync/pkg/kafka"
	applogger "QuantSync/pkg/logger"
	"QuantSync/pkg/metrics"
	"QuantSync/pkg/postgres"
	"QuantSync/pkg/queue"
	"QuantSync/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the structured application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("instance_id", cfg.Instance.ID)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvidePostgresClient connects and migrates Postgres. It returns nil for
// the memory backend.
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, error) {
	if cfg.Storage.Backend != "postgres" {
		return nil, nil
	}
	client, err := postgres.NewClient(
		postgres.WithDSN(cfg.Postgres.DSN),
		postgres.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.PostgresSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return client, nil
}

// ProvideClickHouseClient creates the ClickHouse client that serves price
// history. The candle tables are owned by the ingestion pipeline.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideRedisClient returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogPublisher attaches the log collector. Aggregated warnings and
// errors go to Kafka when available, otherwise to a capped Redis list. It
// returns nil when collection is off or there is nowhere to ship to.
func ProvideLogPublisher(cfg *config.Config, l *applogger.Logger, producer *pkgkafka.Producer, rdb *redis.Client) applogger.Publisher {
	if !cfg.Logger.Collect.Enabled {
		return nil
	}
	var pub applogger.Publisher
	switch {
	case producer != nil:
		pub = producer
	case rdb != nil:
		pub = queue.NewRedisList(l, rdb,
			queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"),
			queue.WithSource(cfg.Instance.ID))
	default:
		return nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		InstanceID:     cfg.Instance.ID,
		TimeInterval:   cfg.Logger.Collect.Interval,
		CountThreshold: cfg.Logger.Collect.CountThreshold,
		Topic:          cfg.Logger.Collect.Topic,
		Publisher:      pub,
	})
	return pub
}

// ProvideKafkaConsumer creates the bars consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.BarsTopic == "" {
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
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.RequireJSON(func(topic string, err error) {
		m.RecordError("consumer_invalid_json")
	}))
	return consumer, nil
}

// ProvidePositionRepository selects the ledger store for the configured backend.
func ProvidePositionRepository(cfg *config.Config, pg *postgres.Client) repository.PositionRepository {
	if pg == nil {
		return memory.NewPositionStore()
	}
	return internalrepo.NewPGPositionRepository(pg)
}

func ProvideDecisionRepository(cfg *config.Config, pg *postgres.Client) repository.DecisionRepository {
	if pg == nil {
		return memory.NewDecisionStore()
	}
	return internalrepo.NewPGDecisionRepository(pg)
}

func ProvideConsolidationStore(cfg *config.Config, pg *postgres.Client) repository.ConsolidationStore {
	if pg == nil {
		return memory.NewConsolidationStore()
	}
	return internalrepo.NewPGConsolidationStore(pg)
}

func ProvideInstanceRegistry(cfg *config.Config, pg *postgres.Client) repository.InstanceRegistry {
	if pg == nil {
		return memory.NewInstanceStore()
	}
	return internalrepo.NewPGInstanceRegistry(pg)
}

// ProvideMarkovStore keeps transition counts in Redis when available so
// instances restarting on the same host share them.
func ProvideMarkovStore(cfg *config.Config, rdb *redis.Client) repository.MarkovStore {
	if rdb == nil {
		return memory.NewMarkovStore()
	}
	return internalrepo.NewRedisMarkovStore(rdb, cfg.Redis.Prefix)
}

// ProvideMarketData creates the ClickHouse-backed price history reader.
func ProvideMarketData(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.MarketData {
	md := internalrepo.NewCHMarketData(ch, cfg.ClickHouse.Database)
	md.SetLogger(l)
	return md
}

// ProvideCache builds a layered cache: in-process L1 over Redis when enabled.
func ProvideCache(cfg *config.Config, rdb *redis.Client) cache.Service {
	var remote cache.Service
	if rdb != nil {
		remote = cache.NewRedisCache(rdb, cfg.Redis.Prefix)
	}
	return cache.NewLayeredCache(remote)
}

// ProvidePhaseTracker seeds the tracker from persisted entry trades so the
// phase survives restarts.
func ProvidePhaseTracker(cfg *config.Config, positions repository.PositionRepository) (*phase.Tracker, error) {
	tracker := phase.NewTracker(phase.NewController(cfg.Phase.MinConfidence))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := positions.CountEntryTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("count entry trades: %w", err)
	}
	tracker.Observe(n)
	return tracker, nil
}

func ProvideLedger(positions repository.PositionRepository, tracker *phase.Tracker, m repository.Metrics, l *applogger.Logger) *ledger.Ledger {
	return ledger.New(positions, tracker, m, l)
}

func ProvideMarkovRegistry(cfg *config.Config, store repository.MarkovStore, l *applogger.Logger) *markov.Registry {
	mc := cfg.Markov
	return markov.NewRegistry(markov.Config{
		Thresholds: markov.Thresholds{
			Window:         mc.Window,
			Trend:          mc.TrendThreshold,
			StrongTrend:    mc.StrongTrendThreshold,
			HighVolatility: mc.HighVolThreshold,
		},
		ConfidenceHalfLife:   mc.ConfidenceHalfLife,
		LowReliabilityCap:    mc.LowReliabilityCap,
		RecommendedMinTrades: mc.RecommendedMinTrades,
	}, store, l)
}

func ProvideFusionEngine(cfg *config.Config) *fusion.Engine {
	fc := cfg.Fusion
	return fusion.NewEngine(fusion.Config{
		Weights: map[models.ProducerName]float64{
			models.ProducerSentiment:     fc.Weights.Sentiment,
			models.ProducerMarkov:        fc.Weights.Markov,
			models.ProducerOrderBook:     fc.Weights.OrderBook,
			models.ProducerMathIntuition: fc.Weights.MathIntuition,
			models.ProducerCrossSite:     fc.Weights.CrossSite,
		},
		AgreeThreshold:        fc.AgreeThreshold,
		ConflictThreshold:     fc.ConflictThreshold,
		ConflictMinConfidence: fc.ConflictMinConfidence,
		ConflictPenalty:       fc.ConflictPenalty,
		MarkovNeutralReturn:   fc.MarkovNeutralReturn,
	})
}

func ProvideAggregateCache(c cache.Service, cfg *config.Config) *consolidation.AggregateCache {
	return consolidation.NewAggregateCache(c, cfg.Consolidation.AggregateTTL)
}

func ProvideChangeLog() *consolidation.ChangeLog {
	return consolidation.NewChangeLog(10000)
}

func ProvideMapper(cfg *config.Config) *consolidation.Mapper {
	return consolidation.NewMapper(cfg.Instance.ID)
}

func ProvideConsolidator(store repository.ConsolidationStore, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *consolidation.Consolidator {
	rc := cfg.Consolidation.Retry
	return consolidation.NewConsolidator(store, consolidation.RetryConfig{
		MaxAttempts: rc.MaxAttempts,
		Min:         rc.Min,
		Max:         rc.Max,
		Factor:      rc.Factor,
	}, cfg.Consolidation.AggregateWindow, m, l)
}

// ProvideSyncer returns nil when consolidation is disabled.
func ProvideSyncer(
	cfg *config.Config,
	instances repository.InstanceRegistry,
	changes *consolidation.ChangeLog,
	cons *consolidation.Consolidator,
	aggs *consolidation.AggregateCache,
	l *applogger.Logger,
) *consolidation.Syncer {
	if !cfg.Consolidation.Enabled {
		return nil
	}
	name := cfg.Instance.Name
	if name == "" {
		name = cfg.Instance.ID
	}
	return consolidation.NewSyncer(
		models.Instance{ID: cfg.Instance.ID, Name: name},
		instances, changes, cons, aggs,
		cfg.Trading.Symbols, cfg.Consolidation.Interval, l,
	)
}

// ProvideScoreFeed returns nil when the WebSocket feed is disabled.
func ProvideScoreFeed(cfg *config.Config, l *applogger.Logger) *producers.Feed {
	fc := cfg.Producers.Feed
	if !fc.Enabled || fc.URL == "" {
		return nil
	}
	return producers.NewFeed(producers.FeedOptions{
		URL:            fc.URL,
		Symbols:        cfg.Trading.Symbols,
		MaxAge:         fc.MaxAge,
		ReconnectDelay: fc.ReconnectDelay,
		PingInterval:   fc.PingInterval,
		AgreeThreshold: cfg.Fusion.AgreeThreshold,
	}, l)
}

// ProvideProducers assembles the signal sources. Pushed feed scores win over
// polled HTTP scores when both exist.
func ProvideProducers(cfg *config.Config, market repository.MarketData, feed *producers.Feed, aggs *consolidation.AggregateCache) usecase.Producers {
	pc := cfg.Producers
	threshold := cfg.Fusion.AgreeThreshold
	base := producers.NewHTTPServiceBase(pc.BaseURL, pc.Timeout)

	params := producers.DefaultTechnicalParams()
	params.Bars = cfg.Trading.HistoryBars

	remote := func(name models.ProducerName, path string) domsvc.SignalProducer {
		switch {
		case feed == nil && pc.BaseURL == "":
			return nil
		case feed == nil:
			return producers.NewHTTPScorer(name, path, base, threshold)
		case pc.BaseURL == "":
			return feed.Producer(name)
		}
		return producers.NewFirstAvailable(name, feed.Producer(name), producers.NewHTTPScorer(name, path, base, threshold))
	}

	out := usecase.Producers{
		Technical:     producers.NewTechnicalScorer(market, params, threshold),
		Sentiment:     remote(models.ProducerSentiment, pc.SentimentPath),
		OrderBook:     remote(models.ProducerOrderBook, pc.OrderBookPath),
		MathIntuition: remote(models.ProducerMathIntuition, pc.MathPath),
	}
	if cfg.Consolidation.Enabled {
		out.CrossSite = aggs
	}
	return out
}

func ProvideOrderExecutor(cfg *config.Config) domsvc.OrderExecutor {
	if cfg.Broker.Type == "http" {
		return broker.NewHTTPBridge(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.Timeout)
	}
	return broker.NewPaper()
}

func ProvideOrderLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Trading.OrderRate, 1)
}

// ProvideDecisionPublisher falls back to a no-op publisher without Kafka.
func ProvideDecisionPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.DecisionPublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaDecisionPublisher(producer, cfg.Instance.ID, cfg.Kafka.DecisionsTopic, cfg.Kafka.PositionsTopic)
}

func ProvideTradingCycle(
	cfg *config.Config,
	market repository.MarketData,
	prods usecase.Producers,
	registry *markov.Registry,
	engine *fusion.Engine,
	tracker *phase.Tracker,
	led *ledger.Ledger,
	decisions repository.DecisionRepository,
	executor domsvc.OrderExecutor,
	limiter *ratelimit.Limiter,
	publisher repository.DecisionPublisher,
	changes *consolidation.ChangeLog,
	mapper *consolidation.Mapper,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.TradingCycle {
	return usecase.NewTradingCycle(usecase.CycleOptions{
		Strategy:    cfg.Trading.Strategy,
		OrderQty:    cfg.Trading.OrderQty,
		HistoryBars: cfg.Trading.HistoryBars,
		MaxParallel: cfg.Trading.MaxParallel,
	}, market, prods, registry, engine, tracker, led, decisions, executor, limiter, publisher, changes, mapper, m, l)
}

func ProvideScheduler(cycle *usecase.TradingCycle, cfg *config.Config, l *applogger.Logger) *usecase.Scheduler {
	return usecase.NewScheduler(cycle, cfg.Trading.Symbols, cfg.Trading.Interval, l)
}

// ProvideBarsHandler returns nil when there is no consumer to attach it to.
func ProvideBarsHandler(cfg *config.Config, consumer *pkgkafka.Consumer, registry *markov.Registry, led *ledger.Ledger, m repository.Metrics) *usecase.KafkaBarsHandler {
	if consumer == nil {
		return nil
	}
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, registry, led, m, cfg.Trading.HistoryBars)
}

func ProvideOpsHandler(
	cfg *config.Config,
	l *applogger.Logger,
	tracker *phase.Tracker,
	positions repository.PositionRepository,
	decisions repository.DecisionRepository,
	registry *markov.Registry,
	market repository.MarketData,
	aggs *consolidation.AggregateCache,
	cons *consolidation.Consolidator,
	instances repository.InstanceRegistry,
	pg *postgres.Client,
	ch *pkgch.Client,
	rdb *redis.Client,
) *api.OpsEchoHandler {
	health := map[string]api.HealthCheck{"clickhouse": ch.Health}
	if pg != nil {
		health["postgres"] = pg.Health
	}
	if rdb != nil {
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	deps := api.OpsDeps{
		Tracker:     tracker,
		Positions:   positions,
		Decisions:   decisions,
		Markov:      registry,
		Market:      market,
		Aggregates:  aggs,
		Instances:   instances,
		Health:      health,
		HistoryBars: cfg.Trading.HistoryBars,
	}
	if cfg.Consolidation.Enabled {
		deps.Consolidator = cons
	}
	return api.NewOpsEchoHandler(l, deps)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, ops *api.OpsEchoHandler) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{ops},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(path),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	scheduler *usecase.Scheduler,
	syncer *consolidation.Syncer,
	feed *producers.Feed,
	consumer *pkgkafka.Consumer,
	bars *usecase.KafkaBarsHandler,
	httpServer *xhttp.Server,
	publisher repository.DecisionPublisher,
	logPub applogger.Publisher,
	pg *postgres.Client,
	ch *pkgch.Client,
	rdb *redis.Client,
) *server.App {
	app := server.New(cfg, l, scheduler, httpServer)
	if syncer != nil {
		app.SetSyncer(syncer)
	}
	if feed != nil {
		app.SetFeed(feed)
	}
	if consumer != nil && bars != nil {
		app.SetConsumer(consumer, bars)
	}
	app.AddCloser("decision publisher", publisher.Close)
	if pg != nil {
		app.AddCloser("postgres", pg.Close)
	}
	app.AddCloser("clickhouse", ch.Close)
	if rdb != nil {
		app.AddCloser("redis", rdb.Close)
	}
	if logPub != nil {
		// registered last so pending batches flush before the clients close
		app.AddCloser("log collector", func() error {
			l.RemoveCollector()
			return nil
		})
	}
	return app
}
