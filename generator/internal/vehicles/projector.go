package vehicles

import (
	"context"
	"fmt"
	"log/slog"

	"vehicle-generator-service/shared/events"
	"vehicle-generator-service/shared/logx"
	"vehicle-generator-service/shared/metricsx"
)

// Delivery is one event as handed to the projector, tagged with the
// mode the consumer is running in. Sync deliveries come from recovery
// replay, non-sync from the live stream.
type Delivery struct {
	Event events.Envelope
	Sync  bool
}

type eventHandler struct {
	fn           func(ctx context.Context, ev events.Envelope) error
	recoveryOnly bool
}

// Projector routes consumed events to handlers keyed by aggregate type
// and event type. Events with no registered handler are acknowledged
// without effect, so unrelated traffic on the shared log never wedges
// the consumer.
type Projector struct {
	store    Store
	logger   logx.Logger
	handlers map[string]map[string]eventHandler
}

func NewProjector(store Store, logger logx.Logger) *Projector {
	p := &Projector{store: store, logger: logger}
	p.handlers = map[string]map[string]eventHandler{
		events.AggregateVehicle: {
			events.EventVehicleGenerated: {fn: p.handleGenerated},
		},
		events.AggregateVehicles: {
			events.EventVehiclesModified: {fn: p.handleModified, recoveryOnly: true},
		},
	}
	return p
}

// Process applies one delivery. A nil return acknowledges the event; an
// error leaves it unacknowledged for redelivery.
func (p *Projector) Process(ctx context.Context, d Delivery) error {
	byType, ok := p.handlers[d.Event.AggregateType]
	if !ok {
		return nil
	}
	h, ok := byType[d.Event.EventType]
	if !ok {
		return nil
	}
	if h.recoveryOnly && !d.Sync {
		return nil
	}

	if err := h.fn(ctx, d.Event); err != nil {
		return fmt.Errorf("project %s/%s: %w", d.Event.AggregateType, d.Event.EventType, err)
	}
	metricsx.IncProjectedEvent(d.Event.EventType, modeLabel(d.Sync))
	return nil
}

// handleGenerated acknowledges live Generated events. The generating
// process already persisted the vehicle; the consumer only confirms
// receipt.
func (p *Projector) handleGenerated(ctx context.Context, ev events.Envelope) error {
	p.logger.Debug(ctx, "generated_event_acked", "generated vehicle event acknowledged",
		slog.String("aggregate_id", ev.AggregateID),
	)
	return nil
}

// handleModified replays a command-driven mutation into the
// materialized view during recovery.
func (p *Projector) handleModified(ctx context.Context, ev events.Envelope) error {
	mod, err := DecodeVehicleModification(ev.EventTypeVersion, ev.Data)
	if err != nil {
		return err
	}

	switch mod.ModType {
	case events.ModTypeDelete:
		// Deleting a row that was never materialized is not an error:
		// replay must converge from any starting state.
		return p.store.Delete(ctx, ev.AggregateID)
	case events.ModTypeCreate, events.ModTypeUpdateMerge, events.ModTypeUpdateReplace:
		return p.store.RecoveryUpsert(ctx, ev.AggregateID, mod.Vehicle)
	default:
		p.logger.Warn(ctx, "unknown_mod_type", "modification event with unknown modType skipped",
			slog.String("aggregate_id", ev.AggregateID),
			slog.String("mod_type", mod.ModType),
		)
		return nil
	}
}

func modeLabel(sync bool) string {
	if sync {
		return "recovery"
	}
	return "live"
}
