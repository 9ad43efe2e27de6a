package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/incrisvel/delivery-q/internal/app/delivery"
	"github.com/incrisvel/delivery-q/internal/config"
	rabbitmq_handler "github.com/incrisvel/delivery-q/internal/handler/rabbitmq"
	rabbitmq_infra "github.com/incrisvel/delivery-q/internal/infrastructure/rabbitmq"
	"github.com/incrisvel/delivery-q/internal/store"
	"github.com/incrisvel/delivery-q/internal/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger = appLogger.With(zap.String("service", "delivery"), zap.String("instance", util.NewServiceID()))
	appLogger.Info("Delivery Service starting...")

	consumeConn := dialWithRetry(cfg.AMQPURL(), appLogger)
	defer consumeConn.Close()
	publishConn := dialWithRetry(cfg.AMQPURL(), appLogger)
	defer publishConn.Close()
	watchConnection(consumeConn, "consume", appLogger)
	watchConnection(publishConn, "publish", appLogger)

	topologyCh, err := consumeConn.Channel()
	if err != nil {
		appLogger.Fatal("Failed to open topology channel", zap.Error(err))
	}
	if err := rabbitmq_infra.DeclareDeliveryActorTopology(topologyCh); err != nil {
		appLogger.Fatal("Failed to declare topology", zap.Error(err))
	}
	topologyCh.Close()

	publisher, err := rabbitmq_infra.NewPublisher(publishConn, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create publisher", zap.Error(err))
	}
	defer publisher.Close()

	orderStore := store.NewOrderStore(cfg.StoreCapacity)
	deliveryService := delivery.NewDeliveryService(orderStore, publisher,
		cfg.AckBeforeDispatch,
		cfg.ConfirmDelayMin, cfg.ConfirmDelayMax,
		cfg.TransitDelayMin, cfg.TransitDelayMax,
		appLogger)

	consumer, err := rabbitmq_infra.NewConsumer(consumeConn, cfg.ConsumerBuffer, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create consumer", zap.Error(err))
	}
	consumer.Subscribe(rabbitmq_infra.CourierConfirmedQueue,
		rabbitmq_handler.OrderConfirmedMessageHandler(deliveryService, appLogger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			appLogger.Fatal("Consumer failed", zap.Error(err))
		}
	}()
	appLogger.Info("Delivery Service started, waiting for confirmed orders.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("Shutting down Delivery Service...")
	consumer.Stop()
	appLogger.Info("Delivery Service stopped.")
}

func dialWithRetry(url string, logger *zap.Logger) *amqp.Connection {
	const maxRetries = 10
	retryDelay := 5 * time.Second

	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = rabbitmq_infra.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ.")
			return conn
		}
		logger.Warn(fmt.Sprintf("Failed to connect to RabbitMQ (attempt %d/%d): %v. Retrying in %s...",
			i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	logger.Fatal("Could not connect to RabbitMQ after multiple retries. Exiting.", zap.Error(err))
	return nil
}

func watchConnection(conn *amqp.Connection, name string, logger *zap.Logger) {
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closes; ok {
			logger.Fatal("Broker connection lost",
				zap.String("connection", name),
				zap.Error(err))
		}
	}()
}
