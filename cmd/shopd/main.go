package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/catalog"
	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/fulfillment"
	"github.com/ariefcatur/go-shop-orders/internal/httpx"
	"github.com/ariefcatur/go-shop-orders/internal/hub"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/notify"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/ariefcatur/go-shop-orders/internal/records"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalogue
	var cat catalog.Store
	switch cfg.CatalogBackend {
	case "memory":
		cat = catalog.NewMemory()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			logger.Fatal("db schema", zap.Error(err))
		}
		cat = &catalog.Postgres{DB: db}
	}

	// Order records
	var rec records.Store = records.NewMemory()
	if cfg.RecordsDir != "" {
		b, err := records.OpenBadger(cfg.RecordsDir)
		if err != nil {
			logger.Fatal("open records", zap.String("dir", cfg.RecordsDir), zap.Error(err))
		}
		defer b.Close()
		rec = b
	}

	// Hub
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	h := hub.New(cat, rec,
		hub.WithLogger(logger.Named("hub")),
		hub.WithMetrics(hub.NewMetrics(reg)),
		hub.WithGracePeriod(cfg.CleanupGrace),
	)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for order state events
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderState, 1024, logger.Named("producer"))
	prod.Start(ctx)

	board := notify.NewBoard()
	h.Subscribe(board)
	h.Subscribe(&notify.StatusCache{RDB: rdb, Log: logger.Named("status-cache")})
	stopEvents := h.Subscribe(&notify.EventPublisher{
		Producer: prod,
		Service:  cfg.ServiceName,
		Log:      logger.Named("events"),
		Dropped:  notify.NewDroppedEventsCounter(reg),
	})

	if err := h.Initialize(ctx); err != nil {
		logger.Fatal("rebuild live orders", zap.Error(err))
	}
	logger.Info("live orders rebuilt", zap.Int("orders", len(h.Orders())))

	// Fulfillment commands
	svc := &fulfillment.Service{
		Hub:   h,
		Dedup: redisx.Deduper{RDB: rdb, Service: cfg.ServiceName},
		Log:   logger.Named("commands"),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.CommandGroup, orders.TopicFulfillmentCommands, cfg.CommandWorkers, logger.Named("consumer"))
	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		logger.Info("command consumer started",
			zap.String("group", cfg.CommandGroup),
			zap.String("topic", orders.TopicFulfillmentCommands),
			zap.Int("workers", cfg.CommandWorkers),
		)
		if err := cons.Start(ctx, svc.HandleCommand); err != nil {
			logger.Error("command consumer exit", zap.Error(err))
		}
	}()

	// HTTP
	router := httpx.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	(&httpx.Handler{
		Hub:     h,
		Catalog: cat,
		Board:   board,
		Redis:   rdb,
		Log:     logger.Named("http"),
	}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	consumers.Wait()
	h.Close()

	// no more publishes once the producer inbox is closed
	stopEvents()
	prod.Close()
	prod.WaitClosed()
}
