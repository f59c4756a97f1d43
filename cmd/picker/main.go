package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/fulfillment"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/logging"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-picker"
	logger, err := logging.New(service, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicFulfillmentCommands, 1024, logger.Named("producer"))
	prod.Start(ctx)

	picker := &fulfillment.Picker{
		Commands: prod,
		Service:  service,
		Delay:    cfg.PickDelay,
		Log:      logger.Named("picker"),
	}

	// every worker may sit in the pick delay, so run a few
	workers := cfg.CommandWorkers * 4
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PickerGroup, orders.TopicOrderState, workers, logger.Named("consumer"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("picker started",
			zap.String("group", cfg.PickerGroup),
			zap.String("topic", orders.TopicOrderState),
			zap.Duration("pick_delay", cfg.PickDelay),
		)
		if err := cons.Start(ctx, picker.HandleStateEvent); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down picker")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("consumer did not stop in time")
	}
	prod.Close()
	prod.WaitClosed()
}
