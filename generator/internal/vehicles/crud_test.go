package vehicles

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
)

func newTestHandlers(store *fakeStore, log *fakeLog, broadcast *fakeBroadcaster) *Handlers {
	logger := testLogger()
	session := NewSession(store, log, broadcast, nil, nil, logger, SessionConfig{})
	return NewHandlers(store, log, broadcast, session, logger)
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestCreateDefaultsInactive(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	broadcast := &fakeBroadcaster{}
	h := newTestHandlers(store, log, broadcast)

	vehicle, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Truck-A"), Description: strPtr("hauler")},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if vehicle.Active {
		t.Fatalf("new vehicles must default to inactive")
	}
	if vehicle.ID == "" {
		t.Fatalf("expected generated aggregate id")
	}

	appended := log.all()
	if len(appended) != 1 {
		t.Fatalf("expected one event, got %d", len(appended))
	}
	ev := appended[0]
	if ev.AggregateType != events.AggregateVehicles || ev.EventType != events.EventVehiclesModified {
		t.Fatalf("unexpected event %s/%s", ev.AggregateType, ev.EventType)
	}
	mod, err := DecodeVehicleModification(ev.EventTypeVersion, ev.Data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if mod.ModType != events.ModTypeCreate {
		t.Fatalf("expected CREATE, got %s", mod.ModType)
	}

	calls := broadcast.all()
	if len(calls) != 1 || calls[0].channel != events.ChannelMaterializedViewUpdates {
		t.Fatalf("expected one materialized-view broadcast, got %+v", calls)
	}
}

func TestCreateHonorsExplicitActive(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, &fakeLog{}, &fakeBroadcaster{})

	vehicle, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Van-B"), Active: boolPtr(true)},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !vehicle.Active {
		t.Fatalf("explicit active=true was dropped")
	}
}

func TestUpdateMergeKeepsAbsentFields(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	h := newTestHandlers(store, log, &fakeBroadcaster{})

	created, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Truck-A"), Description: strPtr("hauler"), Active: boolPtr(true)},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := h.Update(context.Background(), UpdateArgs{
		ID:    created.ID,
		Input: models.VehicleInput{Description: strPtr("heavy hauler")},
		Merge: true,
	}, "bob")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Truck-A" {
		t.Fatalf("merge dropped the name: %+v", updated)
	}
	if updated.Description != "heavy hauler" {
		t.Fatalf("merge did not apply the description: %+v", updated)
	}
	if !updated.Active {
		t.Fatalf("merge dropped active")
	}

	appended := log.all()
	last := appended[len(appended)-1]
	mod, err := DecodeVehicleModification(last.EventTypeVersion, last.Data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if mod.ModType != events.ModTypeUpdateMerge {
		t.Fatalf("expected UPDATE_MERGE, got %s", mod.ModType)
	}
}

func TestUpdateReplaceOverwrites(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	h := newTestHandlers(store, log, &fakeBroadcaster{})

	created, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Truck-A"), Description: strPtr("hauler"), Active: boolPtr(true)},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := h.Update(context.Background(), UpdateArgs{
		ID:    created.ID,
		Input: models.VehicleInput{Name: strPtr("Truck-B")},
	}, "bob")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Truck-B" {
		t.Fatalf("replace did not apply the name")
	}
	if updated.Description != "" || updated.Active {
		t.Fatalf("replace must overwrite absent fields: %+v", updated)
	}

	appended := log.all()
	last := appended[len(appended)-1]
	mod, err := DecodeVehicleModification(last.EventTypeVersion, last.Data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if mod.ModType != events.ModTypeUpdateReplace {
		t.Fatalf("expected UPDATE_REPLACE, got %s", mod.ModType)
	}
}

func TestGetScopedByOrganization(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, &fakeLog{}, &fakeBroadcaster{})

	created, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Truck-A"), OrganizationID: strPtr("org-1")},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	hit, err := h.Get(context.Background(), GetArgs{ID: created.ID, OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit == nil || hit.ID != created.ID {
		t.Fatalf("expected to find the vehicle in its organization")
	}

	miss, err := h.Get(context.Background(), GetArgs{ID: created.ID, OrganizationID: "org-2"})
	if err != nil {
		t.Fatalf("cross-organization lookup must not error: %v", err)
	}
	if miss != nil {
		t.Fatalf("vehicle leaked across organizations")
	}
}

func TestListTotalCountOnRequest(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, &fakeLog{}, &fakeBroadcaster{})

	if _, err := h.Create(context.Background(), CreateArgs{Input: models.VehicleInput{Name: strPtr("Truck-A")}}, "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}

	plain, err := h.List(context.Background(), ListArgs{Pagination: models.Pagination{Count: 10}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if plain.QueryTotalResultCount != nil {
		t.Fatalf("total count must be absent unless requested")
	}

	counted, err := h.List(context.Background(), ListArgs{Pagination: models.Pagination{Count: 10, QueryTotalResultCount: true}})
	if err != nil {
		t.Fatalf("list with count: %v", err)
	}
	if counted.QueryTotalResultCount == nil || *counted.QueryTotalResultCount != 1 {
		t.Fatalf("expected total count 1, got %v", counted.QueryTotalResultCount)
	}
}

func TestDeleteEmitsEventPerID(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	broadcast := &fakeBroadcaster{}
	h := newTestHandlers(store, log, broadcast)

	created, err := h.Create(context.Background(), CreateArgs{Input: models.VehicleInput{Name: strPtr("Truck-A")}}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	baseline := log.count()

	ack, err := h.Delete(context.Background(), DeleteArgs{IDs: []string{created.ID, "missing-id"}}, "bob")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ack.Code != 200 {
		t.Fatalf("expected ack 200 when at least one row was removed, got %d", ack.Code)
	}
	if !strings.Contains(ack.Message, "has been deleted") {
		t.Fatalf("unexpected ack message %q", ack.Message)
	}

	appended := log.all()[baseline:]
	if len(appended) != 2 {
		t.Fatalf("expected one DELETE event per requested id, got %d", len(appended))
	}
	for _, ev := range appended {
		mod, err := DecodeVehicleModification(ev.EventTypeVersion, ev.Data)
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if mod.ModType != events.ModTypeDelete {
			t.Fatalf("expected DELETE, got %s", mod.ModType)
		}
	}

	calls := broadcast.all()
	last := calls[len(calls)-1]
	if last.channel != events.ChannelMaterializedViewUpdates {
		t.Fatalf("sentinel broadcast on wrong channel %s", last.channel)
	}
	sentinel, ok := last.payload.(models.Vehicle)
	if !ok {
		t.Fatalf("unexpected sentinel payload %T", last.payload)
	}
	if sentinel.ID != "deleted" || sentinel.Name != "" || sentinel.Active {
		t.Fatalf("unexpected sentinel %+v", sentinel)
	}
}

func TestDeleteNothingRemoved(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	h := newTestHandlers(store, log, &fakeBroadcaster{})

	ack, err := h.Delete(context.Background(), DeleteArgs{IDs: []string{"a", "b"}}, "bob")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ack.Code != 400 {
		t.Fatalf("expected ack 400 when nothing was removed, got %d", ack.Code)
	}
	if !strings.Contains(ack.Message, "not found for deletion") {
		t.Fatalf("unexpected ack message %q", ack.Message)
	}
	if log.count() != 2 {
		t.Fatalf("DELETE events are recorded even for absent ids, got %d", log.count())
	}
}

func TestVehicleLifecycle(t *testing.T) {
	store := newFakeStore()
	h := newTestHandlers(store, &fakeLog{}, &fakeBroadcaster{})

	created, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Truck-A"), OrganizationID: strPtr("org-1")},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Active {
		t.Fatalf("created vehicle must start inactive")
	}

	updated, err := h.Update(context.Background(), UpdateArgs{
		ID:    created.ID,
		Input: models.VehicleInput{Active: boolPtr(true)},
		Merge: true,
	}, "alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Active || updated.Name != "Truck-A" {
		t.Fatalf("merge activation broke the entity: %+v", updated)
	}

	ack, err := h.Delete(context.Background(), DeleteArgs{IDs: []string{created.ID}}, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ack.Code != 200 {
		t.Fatalf("expected delete success, got %d", ack.Code)
	}

	gone, err := h.Get(context.Background(), GetArgs{ID: created.ID, OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if gone != nil {
		t.Fatalf("deleted vehicle still retrievable")
	}
}

func TestCreateEndToEndEventRoundTrip(t *testing.T) {
	store := newFakeStore()
	log := &fakeLog{}
	h := newTestHandlers(store, log, &fakeBroadcaster{})

	created, err := h.Create(context.Background(), CreateArgs{
		Input: models.VehicleInput{Name: strPtr("Truck-A"), Description: strPtr("hauler"), OrganizationID: strPtr("org-1")},
	}, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ev := log.all()[0]
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	var decoded events.Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}

	mod, err := DecodeVehicleModification(decoded.EventTypeVersion, decoded.Data)
	if err != nil {
		t.Fatalf("decode modification: %v", err)
	}
	if mod.ID != created.ID || mod.Name != "Truck-A" || mod.OrganizationID != "org-1" {
		t.Fatalf("event does not reflect the created vehicle: %+v", mod.Vehicle)
	}
}
