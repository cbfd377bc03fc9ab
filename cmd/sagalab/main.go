package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	auditApp "github.com/davicafu/sagalab/internal/audit/application"
	auditDomain "github.com/davicafu/sagalab/internal/audit/domain"
	auditHttp "github.com/davicafu/sagalab/internal/audit/infra/inbound/http"
	auditClickHouse "github.com/davicafu/sagalab/internal/audit/infra/outbound/analytics/clickhouse"
	auditLogSink "github.com/davicafu/sagalab/internal/audit/infra/outbound/logsink"
	"github.com/davicafu/sagalab/internal/config"
	esApp "github.com/davicafu/sagalab/internal/eventstore/application"
	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	esHttp "github.com/davicafu/sagalab/internal/eventstore/infra/inbound/http"
	esMongo "github.com/davicafu/sagalab/internal/eventstore/infra/outbound/db/mongodb"
	esPostgres "github.com/davicafu/sagalab/internal/eventstore/infra/outbound/db/postgre"
	esSQLite "github.com/davicafu/sagalab/internal/eventstore/infra/outbound/db/sqlite"
	replayApp "github.com/davicafu/sagalab/internal/replay/application"
	replayHttp "github.com/davicafu/sagalab/internal/replay/infra/inbound/http"
	sagaApp "github.com/davicafu/sagalab/internal/saga/application"
	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	sagaHttp "github.com/davicafu/sagalab/internal/saga/infra/inbound/http"
	sagaPostgres "github.com/davicafu/sagalab/internal/saga/infra/outbound/db/postgre"
	sagaSQLite "github.com/davicafu/sagalab/internal/saga/infra/outbound/db/sqlite"
	"github.com/davicafu/sagalab/internal/saga/infra/outbound/remote"
	"github.com/davicafu/sagalab/internal/saga/infra/outbound/simulator"
	sharedCache "github.com/davicafu/sagalab/internal/shared/infra/cache"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	infraEvents "github.com/davicafu/sagalab/internal/shared/infra/events"
	infraRelayer "github.com/davicafu/sagalab/internal/shared/infra/relayer"
	trackingApp "github.com/davicafu/sagalab/internal/tracking/application"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	trackingEvents "github.com/davicafu/sagalab/internal/tracking/infra/inbound/events"
	trackingHttp "github.com/davicafu/sagalab/internal/tracking/infra/inbound/http"
	trackingPostgres "github.com/davicafu/sagalab/internal/tracking/infra/outbound/db/postgre"
	trackingSQLite "github.com/davicafu/sagalab/internal/tracking/infra/outbound/db/sqlite"
	"github.com/davicafu/sagalab/pkg/logger"
	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
)

// repos agrupa los adaptadores relacionales del driver elegido.
type repos struct {
	events      esDomain.EventRepository
	sagas       sagaDomain.SagaRepository
	production  trackingDomain.ProductionRepository
	consumption trackingDomain.ConsumptionRepository
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.Log.Level)
	log := logger.Logger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	dsn := cfg.Storage.SQLitePath
	if cfg.Storage.Driver == sharedDB.DriverPostgres {
		dsn = cfg.Storage.PostgresDSN
	}
	db, err := sharedDB.Open(ctx, cfg.Storage.Driver, dsn)
	if err != nil {
		log.Fatal("failed to open database", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer db.Close()

	r, err := buildRepos(db, cfg.Storage.Driver)
	if err != nil {
		log.Fatal("failed to initialize schema", zap.Error(err))
	}
	log.Info("✅ Base de datos lista", zap.String("driver", cfg.Storage.Driver))

	// ------------- Event Store -------------
	if cfg.Storage.EventStore == "mongodb" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Storage.MongoURI))
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Disconnect(context.Background())

		mongoRepo, err := esMongo.NewEventRepoMongoDB(ctx, client, cfg.Storage.MongoDatabase)
		if err != nil {
			log.Fatal("failed to initialize MongoDB event store", zap.Error(err))
		}
		r.events = mongoRepo
		log.Info("🍃 Event Store en MongoDB", zap.String("database", cfg.Storage.MongoDatabase))
	}
	eventStore := esApp.NewEventStore(r.events, log)
	replayService := replayApp.NewReplayService(eventStore, log)

	// ---------------- Cache ----------------
	cacheInstance := sharedCache.NewCache(ctx, cfg.Redis.Addr, cfg.App.Name, cfg.Redis.CacheTTL, log)

	// --------------- Tracking --------------
	production := trackingApp.NewProductionTracker(r.production, cfg.Outbox.MaxRetries, log)
	consumption := trackingApp.NewConsumptionTracker(r.consumption, cfg.Outbox.MaxRetries, log)

	// ---------------- Audit ----------------
	auditRepo := buildAuditRepo(ctx, cfg.ClickHouse, log)
	auditService := auditApp.NewAuditService(auditRepo, log)
	auditConsumer := trackingEvents.NewTrackedConsumer(consumption, cfg.Kafka.GroupID, auditService, log)
	// El bus reintenta tantas veces como permite el tracker; si aun así se rinde, el consumidor cierra el registro.
	consumerAttempts := cfg.Outbox.MaxRetries

	// ---------------- Events ---------------
	var publisher sharedBus.EventPublisher
	if cfg.Kafka.Enabled {
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.Kafka.Brokers))
		kafkaPublisher := infraEvents.NewKafkaPublisher(cfg.Kafka.Brokers, log)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher

		infraEvents.NewConsumerAdapter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, auditConsumer, consumerAttempts, log).Start(ctx)
	} else {
		log.Info("⚡️ Usando bus de eventos en memoria (canales de Go)")
		bus := infraEvents.NewInMemoryEventBus(log)
		defer bus.Close()
		publisher = bus

		bus.Consume(ctx, cfg.Kafka.Topic, 64, consumerAttempts, auditConsumer)
	}

	// ------------ Relayer + Sweeper ------------
	go infraRelayer.NewOutboxWorker(production, publisher, cfg.Outbox.Period, cfg.Outbox.BatchSize, log).Start(ctx)
	go infraRelayer.NewSweeper(production, consumption, cfg.Outbox.StaleAfter, cfg.Outbox.BatchSize, cfg.Outbox.SweepPeriod, log).Start(ctx)

	// ----------------- Saga -----------------
	var collaborators sagaDomain.Collaborators
	if cfg.Saga.RemoteCollaborators() {
		collaborators = remote.NewCollaborators(cfg.Saga.SeatServiceURL, cfg.Saga.BookingServiceURL, cfg.Saga.PaymentServiceURL, nil)
		log.Info("🌐 Colaboradores remotos configurados")
	} else {
		collaborators = simulator.New().Collaborators()
		log.Warn("⚠️ Sin URLs de colaboradores, usando simuladores en proceso")
	}

	sagaCfg := sagaApp.DefaultConfig()
	sagaCfg.StepTimeout = cfg.Saga.StepTimeout
	sagaCfg.StepRetries = cfg.Saga.StepRetries
	sagaCfg.CompensationRetries = cfg.Saga.CompensationRetries
	sagaCfg.RetryDelay = cfg.Saga.RetryDelay
	sagaCfg.CacheTTL = cfg.Redis.CacheTTL
	sagaCfg.Topic = cfg.Kafka.Topic

	orchestrator := sagaApp.NewOrchestrator(r.sagas, collaborators, eventStore, production, sagaCfg, log, sagaApp.WithCache(cacheInstance))

	// Sagas que quedaron a medias en una ejecución anterior
	if n, err := orchestrator.RecoverInFlight(ctx, cfg.Saga.RecoveryAge); err != nil {
		log.Error("❌ saga recovery failed", zap.Error(err))
	} else if n > 0 {
		log.Info("🔁 sagas recuperadas al arrancar", zap.Int("count", n))
	}

	// ---------------- HTTP ----------------
	router := gin.Default()
	sagaHttp.RegisterSagaRoutes(router, sagaHttp.NewSagaHandler(orchestrator, cfg.Saga.RecoveryAge))
	esHttp.RegisterEventRoutes(router, esHttp.NewEventHandler(eventStore))
	replayHttp.RegisterReplayRoutes(router, replayHttp.NewReplayHandler(replayService))
	trackingHttp.RegisterTrackingRoutes(router, trackingHttp.NewTrackingHandler(production, consumption))
	auditHttp.RegisterAuditRoutes(router, auditHttp.NewAuditHandler(auditService))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando servidor...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

// buildRepos crea el esquema y los repositorios del driver relacional.
func buildRepos(db *sql.DB, driver string) (repos, error) {
	if driver == sharedDB.DriverPostgres {
		for _, initSchema := range []func(*sql.DB) error{
			esPostgres.InitPostgresEventSchema,
			trackingPostgres.InitPostgresTrackingSchema,
			sagaPostgres.InitPostgresSagaSchema,
		} {
			if err := initSchema(db); err != nil {
				return repos{}, err
			}
		}
		return repos{
			events:      esPostgres.NewEventRepoPostgres(db),
			sagas:       sagaPostgres.NewSagaRepoPostgres(db),
			production:  trackingPostgres.NewProductionRepoPostgres(db),
			consumption: trackingPostgres.NewConsumptionRepoPostgres(db),
		}, nil
	}

	for _, initSchema := range []func(*sql.DB) error{
		esSQLite.InitSQLite,
		trackingSQLite.InitSQLiteTrackingSchema,
		sagaSQLite.InitSQLiteSagaSchema,
	} {
		if err := initSchema(db); err != nil {
			return repos{}, err
		}
	}
	return repos{
		events:      esSQLite.NewEventRepoSQLite(db),
		sagas:       sagaSQLite.NewSagaRepoSQLite(db),
		production:  trackingSQLite.NewProductionRepoSQLite(db),
		consumption: trackingSQLite.NewConsumptionRepoSQLite(db),
	}, nil
}

// buildAuditRepo usa ClickHouse si está configurado y responde; si no, la auditoría va a los logs.
func buildAuditRepo(ctx context.Context, cfg config.ClickHouse, log *zap.Logger) auditDomain.AuditRepository {
	if cfg.Addr == "" {
		log.Info("📝 Auditoría en logs (ClickHouse no configurado)")
		return auditLogSink.NewAuditRepo(log)
	}
	repo, err := auditClickHouse.NewAuditRepo(ctx, cfg.Addr, cfg.Database)
	if err == nil {
		err = repo.InitSchema(ctx)
	}
	if err != nil {
		log.Warn("⚠️ ClickHouse no disponible, auditoría en logs", zap.String("addr", cfg.Addr), zap.Error(err))
		return auditLogSink.NewAuditRepo(log)
	}
	log.Info("✅ Conectado a ClickHouse", zap.String("addr", cfg.Addr))
	return repo
}
