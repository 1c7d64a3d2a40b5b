package main

import (
	"context"
	"errors"

	"rsvp/internal/reservations/handler"
	"rsvp/internal/reservations/lifecycle"
	"rsvp/internal/reservations/repository"
	"rsvp/internal/reservations/service"
	"rsvp/internal/reservations/validator"
	"rsvp/pkg/app"
	"rsvp/pkg/broadcast"
	"rsvp/pkg/config"
	"rsvp/pkg/kafka"
	kafka_middleware "rsvp/pkg/kafka/middleware"

	kafkago "github.com/segmentio/kafka-go"
)

const ServiceName = "reservations"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Connect()

	store, err := repository.NewStore(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to initialize store", "error", err)
	}

	var cache repository.SnapshotCache
	if cfg.Client.Redis != nil {
		cache = repository.NewRedisSnapshotCache(cfg.Client.Redis, cfg.CapacityCacheTTL)
		cfg.Log.Info("Capacity read cache enabled", "ttl", cfg.CapacityCacheTTL)
	}

	hub := broadcast.NewHub(cfg.BroadcastBuffer, cfg.Log)
	broadcasters := broadcast.Fanout{hub}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reservationValidator := validator.NewReservationValidator(cfg.Log)
	var kafkaRuntime *kafkaRuntime
	if cfg.Kafka != nil {
		kafkaRuntime = startRelay(ctx, cfg, hub)
		broadcasters = append(broadcasters, kafkaRuntime.relay)
	}

	admission := service.NewAdmissionService(store, cache, broadcasters, reservationValidator, cfg)
	lifecycleService := service.NewLifecycleService(store, cache, broadcasters, reservationValidator, cfg)

	if kafkaRuntime != nil {
		kafkaRuntime.startLifecycle(ctx, cfg, lifecycleService)
	}

	healthHandler := handler.NewHealthHandler(store.Health, cfg.StoreDriver, cfg.Log).
		WithStats("broadcast", func() any { return hub.Stats() })
	if kafkaRuntime != nil {
		healthHandler.
			WithStats("relay", func() any { return kafkaRuntime.relay.Stats() }).
			WithStats("kafka", func() any { return kafkaRuntime.metrics.Snapshot() })
	}

	streamHandler := handler.NewStreamHandler(hub, admission, cfg.StreamHeartbeat, cfg.Log)
	reservationHandler := handler.NewReservationHandler(admission, lifecycleService, cfg.Log)

	application := app.NewApplication()
	application.SetApp(cfg, healthHandler, streamHandler, reservationHandler)
	application.OnDrain(hub.Close)
	application.OnShutdown(func(context.Context) {
		cancel()
		if kafkaRuntime != nil {
			kafkaRuntime.close(cfg)
		}
		cfg.GracefulShutdown()
	})
	application.Run()
}

// kafkaRuntime owns the cross-node relay and the lifecycle feed.
type kafkaRuntime struct {
	metrics   *kafka_middleware.Metrics
	producer  *kafka.Producer
	relay     *broadcast.KafkaRelay
	consumers []*kafka.Consumer
	done      chan struct{}
}

func startRelay(ctx context.Context, cfg *config.Config, hub *broadcast.Hub) *kafkaRuntime {
	rt := &kafkaRuntime{metrics: kafka_middleware.NewMetrics(), done: make(chan struct{})}

	producer, err := kafka.NewProducer(cfg.Kafka, cfg.KafkaCapacityTopic, cfg.KafkaDLQTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create capacity producer", "error", err)
	}
	if cfg.Kafka.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		producer.Use(rt.metrics.ProducerMiddleware())
	}
	rt.producer = producer

	rt.relay = broadcast.NewKafkaRelay(producer, cfg.NodeID, cfg.BroadcastQueue, cfg.Log)
	go func() {
		defer close(rt.done)
		rt.relay.Run(ctx)
	}()

	// Each node needs every fact, so each gets its own group, and only facts
	// produced after it joined are of interest.
	relayCfg := *cfg.Kafka
	relayCfg.ConsumerStartOffset = kafkago.LastOffset
	consumer, err := kafka.NewConsumer(&relayCfg, kafka.ConsumerOptions{
		Topic:   cfg.KafkaCapacityTopic,
		GroupID: "rsvp-capacity-" + cfg.NodeID,
	}, rt.relay.Handler(hub), cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create capacity consumer", "error", err)
	}
	if cfg.Kafka.EnableMiddleware {
		consumer.Use(rt.metrics.ConsumerMiddleware())
	}
	rt.consume(ctx, cfg, consumer)

	cfg.Log.Info("Kafka relay started",
		"topic", cfg.KafkaCapacityTopic,
		"node_id", cfg.NodeID,
	)
	return rt
}

func (rt *kafkaRuntime) startLifecycle(ctx context.Context, cfg *config.Config, svc service.LifecycleService) {
	consumer, err := lifecycle.NewConsumer(cfg, svc, rt.metrics)
	if err != nil {
		cfg.Log.Fatal("Failed to create lifecycle consumer", "error", err)
	}
	rt.consume(ctx, cfg, consumer)
	cfg.Log.Info("Lifecycle consumer started", "topic", cfg.KafkaLifecycleTopic, "group_id", cfg.KafkaLifecycleGroup)
}

func (rt *kafkaRuntime) consume(ctx context.Context, cfg *config.Config, consumer *kafka.Consumer) {
	rt.consumers = append(rt.consumers, consumer)
	go func() {
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			cfg.Log.Error("Kafka consumer stopped", "error", err)
		}
	}()
}

// close stops consumers first so no relayed fact arrives after the relay
// has flushed, then closes the producer.
func (rt *kafkaRuntime) close(cfg *config.Config) {
	for _, consumer := range rt.consumers {
		if err := consumer.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka consumer", "error", err)
		}
	}
	<-rt.done
	if err := rt.producer.Close(); err != nil {
		cfg.Log.Error("Failed to close Kafka producer", "error", err)
	}
}
