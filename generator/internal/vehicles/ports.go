package vehicles

import (
	"context"
	"time"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
)

type UpdateMode string

const (
	UpdateMerge   UpdateMode = "merge"
	UpdateReplace UpdateMode = "replace"
)

// Store is the materialized-view storage consumed by the command handlers
// and the projector. Lookups that match nothing return (nil, nil).
type Store interface {
	Get(ctx context.Context, id string, organizationID string) (*models.Vehicle, error)
	List(ctx context.Context, filter models.VehicleFilter, page models.Pagination, sort *models.Sort) ([]models.Vehicle, error)
	Count(ctx context.Context, filter models.VehicleFilter) (int64, error)
	Create(ctx context.Context, id string, input models.VehicleInput, actor string) (models.Vehicle, error)
	Update(ctx context.Context, id string, input models.VehicleInput, actor string, mode UpdateMode) (*models.Vehicle, error)
	DeleteMany(ctx context.Context, ids []string) (bool, error)
	Delete(ctx context.Context, id string) error
	// RecoveryUpsert writes exactly the replayed fields, insert-or-update.
	// It must be idempotent: replaying the same event converges.
	RecoveryUpsert(ctx context.Context, id string, vehicle models.Vehicle) error
	// CreateGenerated is insert-or-ignore: a duplicate identity is success.
	CreateGenerated(ctx context.Context, id string, vehicle models.GeneratedVehicle) error
}

// EventLog is the durable append-only log. Consumers receive appended
// events at least once.
type EventLog interface {
	Append(ctx context.Context, event events.Envelope) error
}

// Broadcaster fans a message out to live subscribers, fire-and-forget.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, messageType string, payload any) error
}

// SessionGuard optionally protects the generation session across process
// replicas. A nil guard means in-process mutual exclusion only.
type SessionGuard interface {
	Acquire(ctx context.Context) (release func(context.Context), ok bool, err error)
}

// TickRecorder receives best-effort per-tick telemetry.
type TickRecorder interface {
	WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}
