package vehicles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
	"vehicle-generator-service/shared/logx"
	"vehicle-generator-service/shared/metricsx"
)

const generatedMessageType = "VehicleGenerated"

var (
	vehicleTypes = []string{"SUV", "Sedan", "Hatchback", "Truck", "Van"}
	powerSources = []string{"Electric", "Gasoline", "Hybrid", "Diesel"}
)

// SessionConfig tunes the generation loop.
type SessionConfig struct {
	TickInterval time.Duration
	MaxInFlight  int
}

// Session is the generation session controller. At most one session runs
// per process; Start and Stop race safely against concurrent callers.
type Session struct {
	store     Store
	log       EventLog
	broadcast Broadcaster
	guard     SessionGuard
	telemetry TickRecorder
	logger    logx.Logger
	cfg       SessionConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	release func(context.Context)
	done    chan struct{}

	rng *rand.Rand
}

func NewSession(store Store, log EventLog, broadcast Broadcaster, guard SessionGuard, telemetry TickRecorder, logger logx.Logger, cfg SessionConfig) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	return &Session{
		store:     store,
		log:       log,
		broadcast: broadcast,
		guard:     guard,
		telemetry: telemetry,
		logger:    logger,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start flips the session from idle to running and launches the tick
// loop. A second Start while running returns ErrGenerationRunning.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrGenerationRunning
	}

	var release func(context.Context)
	if s.guard != nil {
		rel, ok, err := s.guard.Acquire(context.Background())
		if err != nil {
			return fmt.Errorf("acquire generation guard: %w", err)
		}
		if !ok {
			return ErrGenerationRunning
		}
		release = rel
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.release = release
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.logger.Info(ctx, "generation_started", "vehicle generation session started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("max_in_flight", s.cfg.MaxInFlight),
	)
	return nil
}

// Stop cancels the running session and waits for the loop to drain.
// Stopping an idle session returns ErrGenerationNotRunning.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrGenerationNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info(context.Background(), "generation_stopped", "vehicle generation session stopped")
	return nil
}

// Running reports whether a session is currently active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	inFlight := make(chan struct{}, s.cfg.MaxInFlight)
	fatal := make(chan error, 1)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.finish(nil)
			return
		case err := <-fatal:
			wg.Wait()
			s.finish(err)
			return
		case <-ticker.C:
			select {
			case inFlight <- struct{}{}:
			default:
				// Downstream is slower than the tick cadence. Drop the
				// tick rather than queueing unbounded work.
				metricsx.IncGenerationTick("skipped")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-inFlight }()
				start := time.Now()
				if err := s.tick(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					metricsx.IncGenerationTick("error")
					select {
					case fatal <- err:
					default:
					}
					return
				}
				metricsx.IncGenerationTick("ok")
				metricsx.ObserveGenerationTickLatency(time.Since(start))
			}()
		}
	}
}

// finish transitions the session back to idle, whatever ended the loop.
func (s *Session) finish(err error) {
	s.mu.Lock()
	release := s.release
	s.running = false
	s.cancel = nil
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		release(releaseCtx)
		cancel()
	}

	if err != nil {
		s.logger.Error(context.Background(), "generation_failed", "vehicle generation session aborted",
			slog.String("error", err.Error()),
		)
	}
}

// tick produces one vehicle: derive its identity, append the event,
// broadcast the notice, then persist. A failed append aborts the tick
// before any broadcast.
func (s *Session) tick(ctx context.Context) error {
	vehicle := s.randomVehicle()

	id, err := DeriveIdentity(vehicle)
	if err != nil {
		return fmt.Errorf("derive vehicle identity: %w", err)
	}

	now := time.Now().UTC()
	event := events.Envelope{
		AggregateType:    events.AggregateVehicle,
		AggregateID:      id,
		EventType:        events.EventVehicleGenerated,
		EventTypeVersion: 1,
		User:             events.SystemUser,
		Timestamp:        now,
	}
	if event.Data, err = json.Marshal(vehicle); err != nil {
		return fmt.Errorf("encode generated vehicle: %w", err)
	}

	if err := s.log.Append(ctx, event); err != nil {
		return fmt.Errorf("append generated event: %w", err)
	}
	metricsx.IncEventAppended(events.EventVehicleGenerated)

	notice := GeneratedNotice{
		AggregateType: events.AggregateVehicle,
		EventType:     events.EventVehicleGenerated,
		AggregateID:   id,
		Timestamp:     now,
		Data:          vehicle,
	}
	if err := s.broadcast.Publish(ctx, events.ChannelGeneratedVehicles, generatedMessageType, notice); err != nil {
		metricsx.IncBroadcastFailure(events.ChannelGeneratedVehicles)
		return fmt.Errorf("broadcast generated vehicle: %w", err)
	}

	if err := s.store.CreateGenerated(ctx, id, vehicle); err != nil {
		return fmt.Errorf("persist generated vehicle: %w", err)
	}

	if s.telemetry != nil {
		if werr := s.telemetry.WritePoint(ctx, "vehicle_generation",
			map[string]string{"type": vehicle.Type, "power_source": vehicle.PowerSource},
			map[string]any{"hp": vehicle.HP, "top_speed": vehicle.TopSpeed, "year": vehicle.Year},
			now,
		); werr != nil {
			metricsx.IncInfluxWriteFailure()
			s.logger.Warn(ctx, "telemetry_write_failed", "generation telemetry write failed",
				slog.String("error", werr.Error()),
			)
		}
	}

	return nil
}

func (s *Session) randomVehicle() models.GeneratedVehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.GeneratedVehicle{
		Type:        vehicleTypes[s.rng.Intn(len(vehicleTypes))],
		PowerSource: powerSources[s.rng.Intn(len(powerSources))],
		HP:          100 + s.rng.Intn(400),
		Year:        2015 + s.rng.Intn(10),
		TopSpeed:    120 + s.rng.Intn(180),
	}
}
