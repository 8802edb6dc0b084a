package vehicles

import (
	"context"
	"sync"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
	"vehicle-generator-service/shared/logx"
)

func testLogger() logx.Logger {
	return logx.New("test", "test", "", "error")
}

type fakeStore struct {
	mu        sync.Mutex
	vehicles  map[string]models.Vehicle
	generated map[string]models.GeneratedVehicle

	createErr    error
	updateErr    error
	generatedErr error
	upsertErr    error

	generatedCalls int
	deletedIDs     []string
	upsertedIDs    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vehicles:  map[string]models.Vehicle{},
		generated: map[string]models.GeneratedVehicle{},
	}
}

func (s *fakeStore) Get(ctx context.Context, id string, organizationID string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.OrganizationID != organizationID {
		return nil, nil
	}
	return &v, nil
}

func (s *fakeStore) List(ctx context.Context, filter models.VehicleFilter, page models.Pagination, sort *models.Sort) ([]models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var listing []models.Vehicle
	for _, v := range s.vehicles {
		listing = append(listing, v)
	}
	return listing, nil
}

func (s *fakeStore) Count(ctx context.Context, filter models.VehicleFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.vehicles)), nil
}

func (s *fakeStore) Create(ctx context.Context, id string, input models.VehicleInput, actor string) (models.Vehicle, error) {
	if s.createErr != nil {
		return models.Vehicle{}, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := models.Vehicle{ID: id}
	if input.OrganizationID != nil {
		v.OrganizationID = *input.OrganizationID
	}
	if input.Name != nil {
		v.Name = *input.Name
	}
	if input.Description != nil {
		v.Description = *input.Description
	}
	if input.Active != nil {
		v.Active = *input.Active
	}
	v.Metadata.CreatedBy = actor
	v.Metadata.UpdatedBy = actor
	s.vehicles[id] = v
	return v, nil
}

func (s *fakeStore) Update(ctx context.Context, id string, input models.VehicleInput, actor string, mode UpdateMode) (*models.Vehicle, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, nil
	}
	if mode == UpdateReplace {
		v.OrganizationID = ""
		v.Name = ""
		v.Description = ""
		v.Active = false
	}
	if input.OrganizationID != nil {
		v.OrganizationID = *input.OrganizationID
	}
	if input.Name != nil {
		v.Name = *input.Name
	}
	if input.Description != nil {
		v.Description = *input.Description
	}
	if input.Active != nil {
		v.Active = *input.Active
	}
	v.Metadata.UpdatedBy = actor
	s.vehicles[id] = v
	return &v, nil
}

func (s *fakeStore) DeleteMany(ctx context.Context, ids []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	for _, id := range ids {
		if _, ok := s.vehicles[id]; ok {
			delete(s.vehicles, id)
			removed = true
		}
	}
	return removed, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vehicles, id)
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func (s *fakeStore) RecoveryUpsert(ctx context.Context, id string, vehicle models.Vehicle) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vehicle.ID = id
	s.vehicles[id] = vehicle
	s.upsertedIDs = append(s.upsertedIDs, id)
	return nil
}

func (s *fakeStore) CreateGenerated(ctx context.Context, id string, vehicle models.GeneratedVehicle) error {
	if s.generatedErr != nil {
		return s.generatedErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generatedCalls++
	if _, ok := s.generated[id]; ok {
		return nil
	}
	s.generated[id] = vehicle
	return nil
}

func (s *fakeStore) generatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.generated)
}

type fakeLog struct {
	mu       sync.Mutex
	appended []events.Envelope
	err      error
}

func (l *fakeLog) Append(ctx context.Context, event events.Envelope) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appended = append(l.appended, event)
	return nil
}

func (l *fakeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.appended)
}

func (l *fakeLog) all() []events.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Envelope, len(l.appended))
	copy(out, l.appended)
	return out
}

type broadcastCall struct {
	channel     string
	messageType string
	payload     any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
	err   error
}

func (b *fakeBroadcaster) Publish(ctx context.Context, channel string, messageType string, payload any) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{channel: channel, messageType: messageType, payload: payload})
	return nil
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBroadcaster) all() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastCall, len(b.calls))
	copy(out, b.calls)
	return out
}
