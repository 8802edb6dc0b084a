package vehicles

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
)

func modifiedEnvelope(t *testing.T, modType string, id string, vehicle models.Vehicle) events.Envelope {
	t.Helper()
	ev, err := BuildAggregateModifiedEvent(modType, events.AggregateVehicles, id, "alice", vehicle)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return ev
}

func TestProjectorSkipsRecoveryEventsInLiveMode(t *testing.T) {
	store := newFakeStore()
	p := NewProjector(store, testLogger())

	ev := modifiedEnvelope(t, events.ModTypeCreate, "v-1", models.Vehicle{ID: "v-1", Name: "Truck-A"})
	if err := p.Process(context.Background(), Delivery{Event: ev, Sync: false}); err != nil {
		t.Fatalf("live delivery must ack: %v", err)
	}
	if len(store.vehicles) != 0 {
		t.Fatalf("live mode must not replay modifications into the view")
	}
}

func TestProjectorReplaysModificationsInRecoveryMode(t *testing.T) {
	store := newFakeStore()
	p := NewProjector(store, testLogger())

	vehicle := models.Vehicle{ID: "v-1", Name: "Truck-A", Active: true}
	ev := modifiedEnvelope(t, events.ModTypeCreate, "v-1", vehicle)

	if err := p.Process(context.Background(), Delivery{Event: ev, Sync: true}); err != nil {
		t.Fatalf("recovery delivery: %v", err)
	}
	got, ok := store.vehicles["v-1"]
	if !ok {
		t.Fatalf("vehicle not materialized during recovery")
	}
	if got.Name != "Truck-A" || !got.Active {
		t.Fatalf("materialized vehicle mismatch: %+v", got)
	}

	// Replaying the same event converges on the same row.
	if err := p.Process(context.Background(), Delivery{Event: ev, Sync: true}); err != nil {
		t.Fatalf("replayed delivery: %v", err)
	}
	if len(store.vehicles) != 1 {
		t.Fatalf("replay created a duplicate row")
	}
}

func TestProjectorDeleteAbsentRowSucceeds(t *testing.T) {
	store := newFakeStore()
	p := NewProjector(store, testLogger())

	ev := modifiedEnvelope(t, events.ModTypeDelete, "never-existed", models.Vehicle{})
	if err := p.Process(context.Background(), Delivery{Event: ev, Sync: true}); err != nil {
		t.Fatalf("deleting an absent row must not error: %v", err)
	}
}

func TestProjectorUnsupportedVersionFailsLoud(t *testing.T) {
	store := newFakeStore()
	p := NewProjector(store, testLogger())

	ev := modifiedEnvelope(t, events.ModTypeCreate, "v-1", models.Vehicle{ID: "v-1"})
	ev.EventTypeVersion = 0

	err := p.Process(context.Background(), Delivery{Event: ev, Sync: true})
	if !errors.Is(err, ErrUnsupportedEventVersion) {
		t.Fatalf("expected ErrUnsupportedEventVersion, got %v", err)
	}
	if len(store.vehicles) != 0 {
		t.Fatalf("undecodable event must not write to the view")
	}
}

func TestProjectorAcksUnknownEvents(t *testing.T) {
	store := newFakeStore()
	p := NewProjector(store, testLogger())

	ev := events.Envelope{
		AggregateType:    "Drivers",
		AggregateID:      "d-1",
		EventType:        "DriversModified",
		EventTypeVersion: 1,
		Data:             json.RawMessage(`{}`),
		User:             "alice",
		Timestamp:        time.Now().UTC(),
	}
	if err := p.Process(context.Background(), Delivery{Event: ev, Sync: true}); err != nil {
		t.Fatalf("unknown events must ack without effect: %v", err)
	}
}

func TestProjectorAcksGeneratedEventsLive(t *testing.T) {
	store := newFakeStore()
	p := NewProjector(store, testLogger())

	ev := events.Envelope{
		AggregateType:    events.AggregateVehicle,
		AggregateID:      "abc123",
		EventType:        events.EventVehicleGenerated,
		EventTypeVersion: 1,
		Data:             json.RawMessage(`{"type":"SUV","powerSource":"Electric","hp":300,"year":2021,"topSpeed":200}`),
		User:             events.SystemUser,
		Timestamp:        time.Now().UTC(),
	}
	if err := p.Process(context.Background(), Delivery{Event: ev, Sync: false}); err != nil {
		t.Fatalf("generated event must ack: %v", err)
	}
}
