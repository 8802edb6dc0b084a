package vehicles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
	"vehicle-generator-service/shared/logx"
	"vehicle-generator-service/shared/metricsx"
)

const materializedViewMessage = "GeneratorVehiclesModified"

// Ack is the {code, message} result shape shared by the delete and
// generation lifecycle operations.
type Ack struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ListArgs struct {
	Filter     models.VehicleFilter `json:"filterInput"`
	Pagination models.Pagination    `json:"paginationInput"`
	Sort       *models.Sort         `json:"sortInput,omitempty"`
}

type ListResult struct {
	Listing               []models.Vehicle `json:"listing"`
	QueryTotalResultCount *int64           `json:"queryTotalResultCount,omitempty"`
}

type GetArgs struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
}

type CreateArgs struct {
	Input models.VehicleInput `json:"input"`
}

type UpdateArgs struct {
	ID    string              `json:"id"`
	Input models.VehicleInput `json:"input"`
	Merge bool                `json:"merge"`
}

type DeleteArgs struct {
	IDs []string `json:"ids"`
}

// Handlers owns the command and query logic behind the dispatcher table.
type Handlers struct {
	store     Store
	log       EventLog
	broadcast Broadcaster
	session   *Session
	logger    logx.Logger
}

func NewHandlers(store Store, log EventLog, broadcast Broadcaster, session *Session, logger logx.Logger) *Handlers {
	return &Handlers{
		store:     store,
		log:       log,
		broadcast: broadcast,
		session:   session,
		logger:    logger,
	}
}

func (h *Handlers) List(ctx context.Context, args ListArgs) (ListResult, error) {
	listing, err := h.store.List(ctx, args.Filter, args.Pagination, args.Sort)
	if err != nil {
		return ListResult{}, err
	}
	result := ListResult{Listing: listing}
	// The total count is a separate operation, paid only on request.
	if args.Pagination.QueryTotalResultCount {
		total, err := h.store.Count(ctx, args.Filter)
		if err != nil {
			return ListResult{}, err
		}
		result.QueryTotalResultCount = &total
	}
	return result, nil
}

// Get returns the vehicle only when both id and organization id match;
// a miss is an empty result, not an error, so existence does not leak
// across organizations.
func (h *Handlers) Get(ctx context.Context, args GetArgs) (*models.Vehicle, error) {
	return h.store.Get(ctx, args.ID, args.OrganizationID)
}

func (h *Handlers) Create(ctx context.Context, args CreateArgs, actor string) (models.Vehicle, error) {
	aggregateID := uuid.NewString()
	input := args.Input
	if input.Active == nil {
		inactive := false
		input.Active = &inactive
	}

	vehicle, err := h.store.Create(ctx, aggregateID, input, actor)
	if err != nil {
		return models.Vehicle{}, err
	}
	if err := h.emitModified(ctx, events.ModTypeCreate, aggregateID, actor, vehicle); err != nil {
		return models.Vehicle{}, err
	}
	return vehicle, nil
}

func (h *Handlers) Update(ctx context.Context, args UpdateArgs, actor string) (*models.Vehicle, error) {
	mode := UpdateReplace
	modType := events.ModTypeUpdateReplace
	if args.Merge {
		mode = UpdateMerge
		modType = events.ModTypeUpdateMerge
	}

	vehicle, err := h.store.Update(ctx, args.ID, args.Input, actor, mode)
	if err != nil {
		return nil, err
	}
	if err := h.emitModified(ctx, modType, args.ID, actor, vehicle); err != nil {
		return nil, err
	}
	return vehicle, nil
}

func (h *Handlers) Delete(ctx context.Context, args DeleteArgs, actor string) (Ack, error) {
	removed, err := h.store.DeleteMany(ctx, args.IDs)
	if err != nil {
		return Ack{}, err
	}

	// One DELETE event per requested id, including ids that did not
	// exist: the event stream records the intent, replay is idempotent.
	for _, id := range args.IDs {
		event, err := BuildAggregateModifiedEvent(events.ModTypeDelete, events.AggregateVehicles, id, actor, nil)
		if err != nil {
			return Ack{}, err
		}
		if err := h.log.Append(ctx, event); err != nil {
			return Ack{}, err
		}
		metricsx.IncEventAppended(event.EventType)
	}

	ack := Ack{Code: 200, Message: fmt.Sprintf("Vehicles with ids %s has been deleted", idsJSON(args.IDs))}
	if !removed {
		ack = Ack{Code: 400, Message: fmt.Sprintf("Vehicles with ids %s not found for deletion", idsJSON(args.IDs))}
	}

	sentinel := models.Vehicle{ID: "deleted", Name: "", Description: "", Active: false}
	if err := h.broadcast.Publish(ctx, events.ChannelMaterializedViewUpdates, materializedViewMessage, sentinel); err != nil {
		metricsx.IncBroadcastFailure(events.ChannelMaterializedViewUpdates)
		return Ack{}, err
	}
	return ack, nil
}

func (h *Handlers) StartGeneration(ctx context.Context) (Ack, error) {
	if err := h.session.Start(); err != nil {
		return Ack{}, err
	}
	h.logger.Info(ctx, "generation_started", "vehicle generation started")
	return Ack{Code: 200, Message: "Vehicle generation started"}, nil
}

func (h *Handlers) StopGeneration(ctx context.Context) (Ack, error) {
	if err := h.session.Stop(); err != nil {
		return Ack{}, err
	}
	h.logger.Info(ctx, "generation_stopped", "vehicle generation stopped")
	return Ack{Code: 200, Message: "Vehicle generation stopped"}, nil
}

// emitModified appends the modification event and broadcasts the
// resulting entity. The view write already happened: failures here
// surface to the caller even though the entity exists (accepted
// partial-success window of the dual write).
func (h *Handlers) emitModified(ctx context.Context, modType string, aggregateID string, actor string, payload any) error {
	event, err := BuildAggregateModifiedEvent(modType, events.AggregateVehicles, aggregateID, actor, payload)
	if err != nil {
		return err
	}
	if err := h.log.Append(ctx, event); err != nil {
		return err
	}
	metricsx.IncEventAppended(event.EventType)

	if err := h.broadcast.Publish(ctx, events.ChannelMaterializedViewUpdates, materializedViewMessage, payload); err != nil {
		metricsx.IncBroadcastFailure(events.ChannelMaterializedViewUpdates)
		h.logger.Error(ctx, "broadcast_failed", "materialized view broadcast failed",
			slog.String("aggregate_id", aggregateID),
			slog.String("mod_type", modType),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func idsJSON(ids []string) string {
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Sprint(ids)
	}
	return string(raw)
}
