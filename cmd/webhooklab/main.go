package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	config "github.com/davicafu/webhooklab/internal/config"
	infraEvents "github.com/davicafu/webhooklab/internal/infra/events"
	infraRelayer "github.com/davicafu/webhooklab/internal/infra/relayer"
	sharedBus "github.com/davicafu/webhooklab/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/webhooklab/internal/shared/infra/platform/cache"
	webhookApp "github.com/davicafu/webhooklab/internal/webhook/application"
	webhookDomain "github.com/davicafu/webhooklab/internal/webhook/domain"
	webhookConsumer "github.com/davicafu/webhooklab/internal/webhook/infra/inbound/events"
	webhookHttp "github.com/davicafu/webhooklab/internal/webhook/infra/inbound/http"
	chAnalytics "github.com/davicafu/webhooklab/internal/webhook/infra/outbound/analytics/clickhouse"
	webhookCache "github.com/davicafu/webhooklab/internal/webhook/infra/outbound/cache"
	mongoRepo "github.com/davicafu/webhooklab/internal/webhook/infra/outbound/db/mongodb"
	pgRepo "github.com/davicafu/webhooklab/internal/webhook/infra/outbound/db/postgre"
	sqliteRepo "github.com/davicafu/webhooklab/internal/webhook/infra/outbound/db/sqlite"
	"github.com/davicafu/webhooklab/internal/webhook/infra/outbound/transport"
	"github.com/davicafu/webhooklab/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init()          // inicializa zap
	log := logger.Logger() // obtiene logger estructurado
	defer log.Sync()       // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()

	// ---------------- Stores ----------------
	var subsRepo webhookDomain.SubscriptionRepository
	var deliveryRepo webhookDomain.DeliveryRepository

	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to ping Postgres", zap.Error(err))
		}
		if err := pgRepo.InitPostgres(db); err != nil {
			log.Fatal("failed to initialize Postgres", zap.Error(err))
		}
		subsRepo = pgRepo.NewSubscriptionRepoPostgres(db)
		deliveryRepo = pgRepo.NewDeliveryRepoPostgres(db)
		log.Info("✅ Postgres conectado")

	case "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Disconnect(context.Background())
		if err := mongoRepo.EnsureSubscriptionIndexes(ctx, client, cfg.MongoDBName); err != nil {
			log.Fatal("failed to ensure MongoDB indexes", zap.Error(err))
		}
		subsRepo = mongoRepo.NewSubscriptionRepoMongoDB(client, cfg.MongoDBName)
		deliveryRepo = mongoRepo.NewDeliveryRepoMongoDB(client, cfg.MongoDBName)
		log.Info("✅ MongoDB conectado")

	default:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		defer db.Close()
		if err := sqliteRepo.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite", zap.Error(err))
		}
		subsRepo = sqliteRepo.NewSubscriptionRepoSQLite(db)
		deliveryRepo = sqliteRepo.NewDeliveryRepoSQLite(db)
		log.Info("✅ SQLite listo", zap.String("path", cfg.SQLitePath))
	}

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
		cacheInstance = webhookCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
	} else {
		cacheInstance = webhookCache.NewRedisCache(rdb, cfg.CacheTTL)
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// --------------- Servicios --------------
	dispatcher := webhookApp.NewDispatcher(subsRepo, deliveryRepo, cacheInstance, log)
	subsService := webhookApp.NewSubscriptionService(subsRepo, deliveryRepo, cacheInstance, log)

	// ---------------- Events ---------------
	var outcomePublisher sharedBus.EventBus

	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")

		outcomeWriter := kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaOutcomeTopic,
		})
		defer outcomeWriter.Close()
		outcomePublisher = infraEvents.NewKafkaPublisher(outcomeWriter, log)

		// Ingesta alternativa: eventos de dominio que llegan por Kafka
		// en vez de por POST /internal/events.
		eventsReader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaEventsTopic,
			GroupID:  "webhooklab-dispatcher",
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})
		defer eventsReader.Close()

		eventConsumer := webhookConsumer.NewEventConsumer(dispatcher, log)
		consumerAdapter := infraEvents.NewConsumerAdapter(eventsReader, eventConsumer, log)
		consumerAdapter.Start(ctx)

	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		outcomePublisher = infraEvents.NewInMemoryEventBus(cfg.KafkaOutcomeTopic)
	}

	// ------------- Attempt log -------------
	var attemptLog webhookDomain.AttemptLogger
	if cfg.UseClickHouse {
		chRepo, err := chAnalytics.NewAttemptLogRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, log de intentos deshabilitado", zap.Error(err))
		} else {
			attemptLog = chRepo
			log.Info("✅ ClickHouse conectado, log de intentos habilitado")
		}
	}

	// ------------ Delivery Workers ------------
	// Se podría ejecutar externamente
	sender := transport.NewHTTPSender(cfg.AttemptTimeout, log)
	worker := infraRelayer.NewDeliveryWorker(deliveryRepo, sender, outcomePublisher, attemptLog, infraRelayer.WorkerConfig{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.ClaimBatch,
		MaxAttempts:  cfg.MaxAttempts,
		LeaseFor:     cfg.LeaseTimeout,
	}, log)
	worker.Start(ctx)

	// ---------------- HTTP ----------------
	webhookHandler := webhookHttp.NewWebhookHandler(subsService)
	eventHandler := webhookHttp.NewEventHandler(dispatcher)
	router := gin.Default()
	webhookHttp.RegisterWebhookRoutes(router, webhookHandler)
	webhookHttp.RegisterEventRoutes(router, eventHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info("🚀 Server running",
			zap.String("url", "http://localhost:"+cfg.HTTPPort),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Shutdown ordenado: dejamos de reclamar filas, los intentos en vuelo
	// terminan (o agotan su timeout) y el lease recupera cualquier resto.
	<-ctx.Done()
	log.Info("🛑 Señal de apagado recibida")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ Error al apagar el servidor HTTP", zap.Error(err))
	}

	worker.Wait()
}
