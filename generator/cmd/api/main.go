package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vehicle-generator-service/generator/internal/middleware"
	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/generator/internal/repos"
	"vehicle-generator-service/generator/internal/vehicles"
	"vehicle-generator-service/shared/authx"
	"vehicle-generator-service/shared/brokerx"
	"vehicle-generator-service/shared/config"
	"vehicle-generator-service/shared/dbx"
	"vehicle-generator-service/shared/httpx"
	"vehicle-generator-service/shared/influxx"
	"vehicle-generator-service/shared/lockx"
	"vehicle-generator-service/shared/logx"
	"vehicle-generator-service/shared/metricsx"
	"vehicle-generator-service/shared/mqx"
	"vehicle-generator-service/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

// generationGuard adapts the Redis lock to the session guard port so a
// second replica cannot start a concurrent generation session.
type generationGuard struct {
	broker *brokerx.Broker
	ttl    time.Duration
}

func (g *generationGuard) Acquire(ctx context.Context) (func(context.Context), bool, error) {
	lock, ok, err := lockx.Acquire(ctx, g.broker.Client(), "vehicles:generation:lock", g.ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func(releaseCtx context.Context) {
		_ = lockx.Release(releaseCtx, g.broker.Client(), lock)
	}, true, nil
}

func main() {
	cfg, problems := config.Load("generator-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
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
		logger.Error(context.Background(), "db_init_failed", "database init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka writer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	broker, err := brokerx.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer broker.Close()

	var telemetry vehicles.TickRecorder
	if cfg.InfluxURL != "" {
		influx, err := influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed, tick telemetry disabled",
				slog.String("error", err.Error()),
			)
		} else {
			defer influx.Close()
			telemetry = influx
		}
	}

	var verifier *authx.JWTVerifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		verifier, err = authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			logger.Error(context.Background(), "auth_init_failed", "jwt verifier init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	store := repos.NewVehiclesRepo(dbPool, time.Duration(cfg.DBQueryTimeoutMS)*time.Millisecond)
	guard := &generationGuard{broker: broker, ttl: time.Duration(cfg.GenerationLockTTLSec) * time.Second}
	session := vehicles.NewSession(store, producer, broker, guard, telemetry, logger, vehicles.SessionConfig{
		TickInterval: time.Duration(cfg.GenerationTickMS) * time.Millisecond,
		MaxInFlight:  cfg.GenerationMaxInFlight,
	})
	handlers := vehicles.NewHandlers(store, producer, broker, session, logger)
	dispatcher := vehicles.NewDispatcher(handlers, logger)

	dispatch := func(w http.ResponseWriter, r *http.Request, operation string, args any) {
		auth, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
			return
		}
		user := auth.Name
		if user == "" {
			user = auth.Subject
		}

		raw, err := json.Marshal(args)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid arguments", nil)
			return
		}

		resp, err := dispatcher.Dispatch(r.Context(), vehicles.Envelope{
			Operation: operation,
			Args:      raw,
			Roles:     auth.Roles,
			User:      user,
		})
		if err != nil {
			if errors.Is(err, vehicles.ErrStorageTimeout) {
				httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "storage timeout, retry the request", nil)
				return
			}
			httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
			return
		}
		httpx.WriteJSON(w, resp.Code, resp)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: database unavailable", nil)
			return
		}
		if err := broker.Ping(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION", "service not ready: redis unavailable", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	mux.HandleFunc("GET /api/v1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		args, err := listArgsFromQuery(r)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
			return
		}
		dispatch(w, r, vehicles.OpVehiclesListing, args)
	})
	mux.HandleFunc("GET /api/v1/vehicles/{id}", func(w http.ResponseWriter, r *http.Request) {
		dispatch(w, r, vehicles.OpVehicleByID, vehicles.GetArgs{
			ID:             r.PathValue("id"),
			OrganizationID: r.URL.Query().Get("organizationId"),
		})
	})
	mux.HandleFunc("POST /api/v1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		var input models.VehicleInput
		if err := decodeBody(r, &input); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
			return
		}
		dispatch(w, r, vehicles.OpCreateVehicle, vehicles.CreateArgs{Input: input})
	})
	mux.HandleFunc("PUT /api/v1/vehicles/{id}", func(w http.ResponseWriter, r *http.Request) {
		var input models.VehicleInput
		if err := decodeBody(r, &input); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
			return
		}
		dispatch(w, r, vehicles.OpUpdateVehicle, vehicles.UpdateArgs{
			ID:    r.PathValue("id"),
			Input: input,
			Merge: r.URL.Query().Get("merge") == "true",
		})
	})
	mux.HandleFunc("DELETE /api/v1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		var args vehicles.DeleteArgs
		if err := decodeBody(r, &args); err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
			return
		}
		if len(args.IDs) == 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "ids is required", nil)
			return
		}
		dispatch(w, r, vehicles.OpDeleteVehicles, args)
	})
	mux.HandleFunc("POST /api/v1/vehicles/generation/start", func(w http.ResponseWriter, r *http.Request) {
		dispatch(w, r, vehicles.OpStartVehicleGeneration, nil)
	})
	mux.HandleFunc("POST /api/v1/vehicles/generation/stop", func(w http.ResponseWriter, r *http.Request) {
		dispatch(w, r, vehicles.OpStopVehicleGeneration, nil)
	})

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
		},
	}.Wrap(handler)
	handler = metricsx.Instrument(handler)
	if cfg.OtelEnabled {
		handler = otelhttp.NewHandler(handler, "http")
	}
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("generation_tick_ms", cfg.GenerationTickMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if session.Running() {
		if err := session.Stop(); err != nil {
			logger.Warn(context.Background(), "generation_stop_failed", "failed to stop generation session",
				slog.String("error", err.Error()),
			)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

func decodeBody(r *http.Request, dest any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(raw, dest)
}

func listArgsFromQuery(r *http.Request) (vehicles.ListArgs, error) {
	q := r.URL.Query()
	args := vehicles.ListArgs{
		Filter: models.VehicleFilter{
			Name:           q.Get("name"),
			OrganizationID: q.Get("organizationId"),
		},
	}

	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return vehicles.ListArgs{}, errors.New("active must be a boolean")
		}
		args.Filter.Active = &active
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			return vehicles.ListArgs{}, errors.New("page must be a non-negative integer")
		}
		args.Pagination.Page = page
	}
	if raw := q.Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count <= 0 {
			return vehicles.ListArgs{}, errors.New("count must be a positive integer")
		}
		args.Pagination.Count = count
	}
	args.Pagination.QueryTotalResultCount = q.Get("queryTotalResultCount") == "true"

	if field := q.Get("sortField"); field != "" {
		args.Sort = &models.Sort{Field: field, Asc: q.Get("sortAsc") == "true"}
	}
	return args, nil
}
