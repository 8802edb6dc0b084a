package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vehicle-generator-service/generator/internal/repos"
	"vehicle-generator-service/generator/internal/vehicles"
	"vehicle-generator-service/shared/config"
	"vehicle-generator-service/shared/dbx"
	"vehicle-generator-service/shared/events"
	"vehicle-generator-service/shared/logx"
	"vehicle-generator-service/shared/metricsx"
	"vehicle-generator-service/shared/mqx"
	"vehicle-generator-service/shared/observability"
)

func main() {
	cfg, problems := config.Load("vehicle-projector", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	metricsx.Register()

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	reader, err := mqx.NewConsumer(cfg, events.TopicVehicleEvents, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	store := repos.NewVehiclesRepo(dbPool, time.Duration(cfg.DBQueryTimeoutMS)*time.Millisecond)
	projector := vehicles.NewProjector(store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info(ctx, "projector_start", "vehicle event projector started",
		slog.String("topic", events.TopicVehicleEvents),
		slog.String("group", cfg.KafkaGroupID),
		slog.Bool("sync_mode", cfg.SyncMode),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var envelope events.Envelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			// A malformed record will never decode. Log and commit so
			// it cannot block the partition.
			logger.Error(ctx, "event_decode_failed", "skipping undecodable event",
				slog.String("error_code", "INVALID_ARGUMENT"),
				slog.String("error", err.Error()),
			)
			if err := reader.CommitMessages(ctx, msg); err != nil {
				logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", events.TopicVehicleEvents),
			attribute.String("event.type", envelope.EventType),
		)
		if err := projector.Process(spanCtx, vehicles.Delivery{Event: envelope, Sync: cfg.SyncMode}); err != nil {
			span.End()
			logger.Error(ctx, "event_project_failed", "failed to project event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("aggregate_id", envelope.AggregateID),
				slog.String("event_type", envelope.EventType),
				slog.String("error", err.Error()),
			)
			continue
		}
		span.End()

		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}

	logger.Info(context.Background(), "projector_stop", "vehicle event projector stopped")
}
